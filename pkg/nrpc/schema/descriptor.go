// Package schema implements the per-endpoint type/service catalog and the
// cross-process reconciliation protocol described in spec.md §3, §4.5.
package schema

// DynamicObject is the well-known type name denoting the untyped key/value
// bag ("dict" in spec.md §3).
const DynamicObject = "dict"

// FieldDescriptor describes one field of a TypeDescriptor.
//
// FieldType is one of "int", "float", "bool", "str", "dict", another
// type name, or "T[]" meaning "list of T".
type FieldDescriptor struct {
	FieldName string
	FieldType string
	IDValue   int
	Local     bool
	Errors    string
}

// TypeDescriptor describes a named record shape. Fields preserves
// declaration order, matching the ordered dict the Python original used
// (nrpc_py/common_base.py ClassInfo.fields).
type TypeDescriptor struct {
	TypeName string
	Fields   []FieldDescriptor
	Local    bool
	Errors   string
}

// Field looks up a field by name.
func (t *TypeDescriptor) Field(name string) *FieldDescriptor {
	for i := range t.Fields {
		if t.Fields[i].FieldName == name {
			return &t.Fields[i]
		}
	}
	return nil
}

// MethodDescriptor describes one method of a ServiceDescriptor. RequestType
// and ResponseType may each be "T[]".
type MethodDescriptor struct {
	MethodName   string
	RequestType  string
	ResponseType string
	IDValue      int
	Local        bool
	Errors       string
}

// ServiceDescriptor describes a named RPC service. Methods preserves
// declaration order.
type ServiceDescriptor struct {
	ServiceName string
	Methods     []MethodDescriptor
	Local       bool
	Errors      string
}

// Method looks up a method by name.
func (s *ServiceDescriptor) Method(name string) *MethodDescriptor {
	for i := range s.Methods {
		if s.Methods[i].MethodName == name {
			return &s.Methods[i]
		}
	}
	return nil
}

// Handler is the dispatch-table entry a server binding supplies for one
// method: it receives the decoded request value and returns the response
// value. Declared as `interface{}` request/response so the routing layer
// can marshal through value.Value without the schema package importing it
// (schema has no business knowing about the wire representation).
type Handler func(request interface{}) (response interface{}, err error)

// ServerBinding associates a service name with a dispatch table of method
// handlers, per spec.md §9 ("Handler dispatch ... each service binding
// declares a dispatch table mapping method name to a function").
type ServerBinding struct {
	ServiceName string
	Handlers    map[string]Handler
}
