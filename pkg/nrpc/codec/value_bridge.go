package codec

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/jabolina/go-nrpc/pkg/nrpc/schema"
	"github.com/jabolina/go-nrpc/pkg/nrpc/value"
)

// EncodeValue marshals a value.Value straight to JSON, for callers that
// built the payload by hand (routing's dynamic dispatch path, and tests)
// rather than through a tagged Go struct.
func EncodeValue(v value.Value) (json.RawMessage, error) {
	return json.Marshal(toInterface(v))
}

// DecodeToValue parses a JSON wire payload into the tagged value.Value
// representation against typeName, applying the same record/list/dict
// rules as Decode.
func DecodeToValue(registry *schema.Registry, typeName string, data json.RawMessage) (value.Value, error) {
	var raw interface{}
	if len(data) != 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("codec: invalid json: %w", err)
		}
	}
	return toValue(registry, typeName, raw)
}

func toInterface(v value.Value) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case value.Scalar:
		return t.V
	case value.Dynamic:
		if t.Fields == nil {
			return map[string]interface{}{}
		}
		return t.Fields
	case value.Record:
		out := map[string]interface{}{}
		for _, f := range t.Fields {
			out[f.Name] = toInterface(f.Value)
		}
		return out
	case value.List:
		out := make([]interface{}, 0, len(t.Items))
		for _, item := range t.Items {
			out = append(out, toInterface(item))
		}
		return out
	default:
		return nil
	}
}

func toValue(registry *schema.Registry, typeName string, raw interface{}) (value.Value, error) {
	if schema.IsListType(typeName) {
		elementType := schema.ElementType(typeName)
		arr, ok := raw.([]interface{})
		if raw != nil && !ok {
			return nil, fmt.Errorf("%w: expected array, got %T", ErrTypeMismatch, raw)
		}
		items := make([]value.Value, 0, len(arr))
		for _, item := range arr {
			v, err := toValue(registry, elementType, item)
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		return value.List{ElementType: elementType, Items: items}, nil
	}
	if typeName == schema.DynamicObject {
		m, _ := raw.(map[string]interface{})
		if m == nil {
			m = map[string]interface{}{}
		}
		return value.Dynamic{Fields: m}, nil
	}
	switch typeName {
	case "int", "float", "bool", "str":
		if raw != nil {
			probes := map[string]interface{}{"int": int64(0), "float": 0.0, "bool": false, "str": ""}
			probe := reflect.New(reflect.TypeOf(probes[typeName])).Elem()
			if err := decodeScalar(typeName, raw, probe); err != nil {
				return nil, err
			}
		}
		return value.Scalar{V: raw}, nil
	}

	t := registry.Type(typeName)
	if t == nil {
		return nil, fmt.Errorf("codec: unknown type %s", typeName)
	}
	m, ok := raw.(map[string]interface{})
	if raw != nil && !ok {
		return nil, fmt.Errorf("%w: expected object for %s, got %T", ErrTypeMismatch, typeName, raw)
	}
	rec := value.Record{TypeName: typeName}
	for _, f := range t.Fields {
		if !f.Local {
			continue
		}
		fv, present := m[f.FieldName]
		if !present {
			continue
		}
		v, err := toValue(registry, f.FieldType, fv)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", typeName, f.FieldName, err)
		}
		rec.Set(f.FieldName, v)
	}
	return rec, nil
}
