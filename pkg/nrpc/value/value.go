// Package value implements the tagged variant that every typed and dynamic
// payload on the wire is converted to and from, per spec.md's design note
// "Anything can be a record or a dynamic bag": Value = Scalar | Record |
// List | Dynamic.
package value

// Value is the sum type every record/list/dict/scalar payload is converted
// to before crossing the codec boundary.
type Value interface {
	isValue()
}

// Scalar wraps an int, float64, bool, or string.
type Scalar struct {
	V interface{}
}

func (Scalar) isValue() {}

// Field is one named slot of a Record, in declaration order. Order is kept
// (rather than a bare map) because schema reconciliation and default
// population are defined over the declared field order in spec.md §3.
type Field struct {
	Name  string
	Value Value
}

// Record is a named, ordered collection of fields. TypeName identifies the
// schema.TypeDescriptor the record was encoded/decoded against.
type Record struct {
	TypeName string
	Fields   []Field
}

func (Record) isValue() {}

// Get returns the field named name, or (nil, false) if absent.
func (r Record) Get(name string) (Value, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Set replaces or appends a field value, preserving declaration order for
// existing fields.
func (r *Record) Set(name string, v Value) {
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			r.Fields[i].Value = v
			return
		}
	}
	r.Fields = append(r.Fields, Field{Name: name, Value: v})
}

// List is a homogeneous sequence of Values, either all Scalar (for a
// scalar element type) or all Record (for a record element type).
type List struct {
	ElementType string
	Items       []Value
}

func (List) isValue() {}

// Dynamic is the well-known "dict" type: an opaque key/value bag copied
// verbatim, never schema-checked (spec.md §3, §4.4).
type Dynamic struct {
	Fields map[string]interface{}
}

func (Dynamic) isValue() {}
