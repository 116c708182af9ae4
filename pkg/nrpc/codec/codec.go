// Package codec converts between user-declared Go record/list shapes and
// the UTF-8 JSON wire payload, against a schema.Registry, per spec.md §4.4.
//
// A record type is an ordinary Go struct whose fields carry an `nrpc:"..."`
// tag naming the schema field they back — the schema.TypeDescriptor is the
// explicit descriptor spec.md §9 calls for ("the codec operates only on
// that descriptor"); the struct tag is how a Go value exposes which of its
// fields corresponds to which descriptor entry, the same role a JSON
// struct tag plays for encoding/json.
package codec

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/jabolina/go-nrpc/pkg/nrpc/schema"
)

const structTag = "nrpc"

// ErrTypeMismatch is returned when a JSON value's shape disagrees with the
// field's declared scalar type. The codec never silently coerces (spec.md
// §4.4's "MUST NOT silently coerce mismatched scalar types").
var ErrTypeMismatch = fmt.Errorf("codec: type mismatch")

// Encode converts a Go value into its JSON wire payload against typeName
// (a record type name, "dict", or "T[]").
func Encode(registry *schema.Registry, typeName string, obj interface{}) (json.RawMessage, error) {
	data, err := encodeValue(registry, typeName, reflect.ValueOf(obj))
	if err != nil {
		return nil, err
	}
	return json.Marshal(data)
}

// Decode parses a JSON wire payload into out (a pointer to a record
// struct, a pointer to map[string]interface{} for "dict", or a pointer to
// a slice for "T[]"), against typeName.
func Decode(registry *schema.Registry, typeName string, data json.RawMessage, out interface{}) error {
	var raw interface{}
	if len(data) == 0 || string(data) == "null" {
		raw = nil
	} else if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("codec: invalid json: %w", err)
	}

	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr {
		return fmt.Errorf("codec: decode target must be a pointer")
	}
	return decodeInto(registry, typeName, raw, rv.Elem())
}

// --- encode ---

func encodeValue(registry *schema.Registry, typeName string, rv reflect.Value) (interface{}, error) {
	if schema.IsListType(typeName) {
		return encodeList(registry, schema.ElementType(typeName), rv)
	}
	if typeName == schema.DynamicObject {
		return encodeDynamic(rv)
	}
	switch typeName {
	case "int", "float", "bool", "str":
		return encodeScalar(typeName, rv)
	}

	t := registry.Type(typeName)
	if t == nil {
		return nil, fmt.Errorf("codec: unknown type %s", typeName)
	}
	return encodeRecord(registry, t, rv)
}

func encodeScalar(fieldType string, rv reflect.Value) (interface{}, error) {
	if !rv.IsValid() {
		return defaultScalar(fieldType), nil
	}
	switch fieldType {
	case "int":
		if !isIntKind(rv.Kind()) {
			return nil, fmt.Errorf("%w: expected int, got %s", ErrTypeMismatch, rv.Kind())
		}
		return rv.Int(), nil
	case "float":
		if !isFloatKind(rv.Kind()) {
			return nil, fmt.Errorf("%w: expected float, got %s", ErrTypeMismatch, rv.Kind())
		}
		return rv.Float(), nil
	case "bool":
		if rv.Kind() != reflect.Bool {
			return nil, fmt.Errorf("%w: expected bool, got %s", ErrTypeMismatch, rv.Kind())
		}
		return rv.Bool(), nil
	case "str":
		if rv.Kind() != reflect.String {
			return nil, fmt.Errorf("%w: expected str, got %s", ErrTypeMismatch, rv.Kind())
		}
		return rv.String(), nil
	}
	return nil, fmt.Errorf("codec: unknown scalar type %s", fieldType)
}

func defaultScalar(fieldType string) interface{} {
	switch fieldType {
	case "int":
		return 0
	case "float":
		return 0.0
	case "bool":
		return false
	case "str":
		return ""
	}
	return nil
}

func encodeDynamic(rv reflect.Value) (interface{}, error) {
	if !rv.IsValid() || (rv.Kind() == reflect.Map && rv.IsNil()) {
		return map[string]interface{}{}, nil
	}
	if rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Map {
		return nil, fmt.Errorf("%w: dict field must be a map", ErrTypeMismatch)
	}
	out := map[string]interface{}{}
	for _, key := range rv.MapKeys() {
		out[fmt.Sprint(key.Interface())] = rv.MapIndex(key).Interface()
	}
	return out, nil
}

func encodeRecord(registry *schema.Registry, t *schema.TypeDescriptor, rv reflect.Value) (interface{}, error) {
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			// Omit on encode, matching the Python original's
			// "null nested record becomes ... omitted on encode".
			return nil, nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil, nil
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("codec: %s must be backed by a struct", t.TypeName)
	}

	out := map[string]interface{}{}
	for _, f := range t.Fields {
		if !f.Local {
			// Fields learned from the peer but not locally declared
			// are skipped on encode (spec.md §4.4).
			continue
		}
		fv := findTaggedField(rv, f.FieldName)
		encoded, err := encodeValue(registry, f.FieldType, fv)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.TypeName, f.FieldName, err)
		}
		if encoded == nil && isRecordType(registry, f.FieldType) {
			continue
		}
		out[f.FieldName] = encoded
	}
	return out, nil
}

func encodeList(registry *schema.Registry, elementType string, rv reflect.Value) (interface{}, error) {
	if rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	if !rv.IsValid() || ((rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.IsNil()) {
		return []interface{}{}, nil
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: list field must be a slice", ErrTypeMismatch)
	}
	out := make([]interface{}, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		item, err := encodeValue(registry, elementType, rv.Index(i))
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// --- decode ---

func decodeInto(registry *schema.Registry, typeName string, raw interface{}, rv reflect.Value) error {
	if schema.IsListType(typeName) {
		return decodeList(registry, schema.ElementType(typeName), raw, rv)
	}
	if typeName == schema.DynamicObject {
		return decodeDynamic(raw, rv)
	}
	switch typeName {
	case "int", "float", "bool", "str":
		return decodeScalar(typeName, raw, rv)
	}

	t := registry.Type(typeName)
	if t == nil {
		return fmt.Errorf("codec: unknown type %s", typeName)
	}
	return decodeRecord(registry, t, raw, rv)
}

func decodeScalar(fieldType string, raw interface{}, rv reflect.Value) error {
	if raw == nil {
		rv.Set(reflect.Zero(rv.Type()))
		return nil
	}
	switch fieldType {
	case "int":
		n, ok := raw.(float64)
		if !ok || n != float64(int64(n)) {
			return fmt.Errorf("%w: expected int, got %T", ErrTypeMismatch, raw)
		}
		rv.SetInt(int64(n))
	case "float":
		// Open question (spec.md §9): the original accepts a JSON
		// integer for a float field. Kept as-is.
		n, ok := raw.(float64)
		if !ok {
			return fmt.Errorf("%w: expected float, got %T", ErrTypeMismatch, raw)
		}
		rv.SetFloat(n)
	case "bool":
		b, ok := raw.(bool)
		if !ok {
			return fmt.Errorf("%w: expected bool, got %T", ErrTypeMismatch, raw)
		}
		rv.SetBool(b)
	case "str":
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("%w: expected str, got %T", ErrTypeMismatch, raw)
		}
		rv.SetString(s)
	default:
		return fmt.Errorf("codec: unknown scalar type %s", fieldType)
	}
	return nil
}

func decodeDynamic(raw interface{}, rv reflect.Value) error {
	m, _ := raw.(map[string]interface{})
	if m == nil {
		m = map[string]interface{}{}
	}
	if rv.Kind() == reflect.Interface {
		rv.Set(reflect.ValueOf(m))
		return nil
	}
	if rv.Kind() != reflect.Map {
		return fmt.Errorf("%w: dict field must be a map", ErrTypeMismatch)
	}
	out := reflect.MakeMap(rv.Type())
	for k, v := range m {
		out.SetMapIndex(reflect.ValueOf(k), reflect.ValueOf(v))
	}
	rv.Set(out)
	return nil
}

func decodeRecord(registry *schema.Registry, t *schema.TypeDescriptor, raw interface{}, rv reflect.Value) error {
	if rv.Kind() == reflect.Ptr {
		if raw == nil {
			rv.Set(reflect.Zero(rv.Type()))
			return nil
		}
		if rv.IsNil() {
			rv.Set(reflect.New(rv.Type().Elem()))
		}
		rv = rv.Elem()
	}
	if raw == nil {
		// Null nested record becomes the default instance on decode
		// (spec.md §4.4).
		rv.Set(reflect.Zero(rv.Type()))
		return nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%w: expected object for %s, got %T", ErrTypeMismatch, t.TypeName, raw)
	}
	if rv.Kind() != reflect.Struct {
		return fmt.Errorf("codec: %s must be backed by a struct", t.TypeName)
	}

	for _, f := range t.Fields {
		fv := findTaggedField(rv, f.FieldName)
		if !fv.IsValid() {
			continue
		}
		value, present := m[f.FieldName]
		if !present {
			// Missing incoming field keeps the record's default
			// (spec.md §4.4).
			continue
		}
		if !f.Local {
			// Fields known only remotely are ignored on decode.
			continue
		}
		if err := decodeInto(registry, f.FieldType, value, fv); err != nil {
			return fmt.Errorf("%s.%s: %w", t.TypeName, f.FieldName, err)
		}
	}
	// Unknown incoming keys (not in t.Fields) are ignored for forward
	// compatibility (spec.md §4.4) — nothing further to do, since the loop
	// above only ever reads keys it recognizes.
	return nil
}

func decodeList(registry *schema.Registry, elementType string, raw interface{}, rv reflect.Value) error {
	arr, ok := raw.([]interface{})
	if raw != nil && !ok {
		return fmt.Errorf("%w: expected array, got %T", ErrTypeMismatch, raw)
	}
	if rv.Kind() == reflect.Interface {
		out := make([]interface{}, len(arr))
		copy(out, arr)
		rv.Set(reflect.ValueOf(out))
		return nil
	}
	if rv.Kind() != reflect.Slice {
		return fmt.Errorf("codec: list field must be backed by a slice")
	}
	out := reflect.MakeSlice(rv.Type(), 0, len(arr))
	for _, item := range arr {
		elem := reflect.New(rv.Type().Elem()).Elem()
		if err := decodeInto(registry, elementType, item, elem); err != nil {
			return err
		}
		out = reflect.Append(out, elem)
	}
	rv.Set(out)
	return nil
}

// --- helpers ---

func findTaggedField(rv reflect.Value, fieldName string) reflect.Value {
	if rv.Kind() != reflect.Struct {
		return reflect.Value{}
	}
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Tag.Get(structTag) == fieldName {
			return rv.Field(i)
		}
	}
	return reflect.Value{}
}

func isRecordType(registry *schema.Registry, fieldType string) bool {
	if schema.IsListType(fieldType) || fieldType == schema.DynamicObject {
		return false
	}
	switch fieldType {
	case "int", "float", "bool", "str":
		return false
	}
	return registry.Type(fieldType) != nil
}

func isIntKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isFloatKind(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}
