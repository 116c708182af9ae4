package schema

import (
	"fmt"
	"sort"
	"sync"
)

// Info is the wire-shape schema snapshot exchanged by GetSchema/SetSchema
// (spec.md §6 SchemaInfo). It is deliberately flat (types/fields/services/
// methods as parallel lists rather than nested maps) because that is the
// shape both sides reconcile against and the shape that crosses the wire
// as JSON.
type Info struct {
	Types    []TypeInfo    `json:"types"`
	Services []ServiceInfo `json:"services"`
	Fields   []FieldInfo   `json:"fields"`
	Methods  []MethodInfo  `json:"methods"`
}

type TypeInfo struct {
	TypeName string `json:"type_name"`
	Fields   int    `json:"fields"`
	Local    bool   `json:"local"`
	Errors   string `json:"type_errors"`
}

type ServiceInfo struct {
	ServiceName string `json:"service_name"`
	Methods     int    `json:"methods"`
	Local       bool   `json:"local"`
	HasServer   bool   `json:"has_server"`
	Errors      string `json:"service_errors"`
}

type FieldInfo struct {
	TypeName  string `json:"type_name"`
	FieldName string `json:"field_name"`
	FieldType string `json:"field_type"`
	IDValue   int    `json:"id_value"`
	Local     bool   `json:"local"`
	Errors    string `json:"field_errors"`
}

type MethodInfo struct {
	ServiceName  string `json:"service_name"`
	MethodName   string `json:"method_name"`
	RequestType  string `json:"request_type"`
	ResponseType string `json:"response_type"`
	IDValue      int    `json:"id_value"`
	Local        bool   `json:"local"`
	Errors       string `json:"method_errors"`
}

// Registry is the per-endpoint catalog of known types, services, and server
// bindings (spec.md §4.5). It is owned by a single endpoint, never shared
// process-wide (spec.md §9 "Mutable global catalog → owned registry").
type Registry struct {
	mu       sync.RWMutex
	types    map[string]*TypeDescriptor
	services map[string]*ServiceDescriptor
	bindings map[string]*ServerBinding
}

// NewRegistry builds an empty registry seeded with the well-known dynamic
// object type.
func NewRegistry() *Registry {
	return &Registry{
		types: map[string]*TypeDescriptor{
			DynamicObject: {TypeName: DynamicObject, Local: true},
		},
		services: map[string]*ServiceDescriptor{},
		bindings: map[string]*ServerBinding{},
	}
}

// Type returns the named type descriptor, or nil if unknown.
func (r *Registry) Type(name string) *TypeDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[name]
}

// Service returns the named service descriptor, or nil if unknown.
func (r *Registry) Service(name string) *ServiceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.services[name]
}

// Binding returns the named server binding, or nil if this endpoint has not
// registered a handler implementation for that service.
func (r *Registry) Binding(name string) *ServerBinding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bindings[name]
}

// AddTypes declares local types and services, per spec.md §4.5 add_types.
// Field types are not checked against the known types here; only id_value
// uniqueness is validated. Declaring the same name twice is a no-op,
// matching the original's "continue if already known" behavior.
func (r *Registry) AddTypes(types []TypeDescriptor, services []ServiceDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range types {
		if _, ok := r.types[t.TypeName]; ok {
			continue
		}
		t.Local = true
		cp := t
		r.types[t.TypeName] = &cp
	}

	for _, s := range services {
		if _, ok := r.services[s.ServiceName]; ok {
			continue
		}
		s.Local = true
		cp := s
		r.services[s.ServiceName] = &cp
	}

	if err := r.checkIDUniqueness(); err != nil {
		return err
	}
	return nil
}

func (r *Registry) checkIDUniqueness() error {
	for _, t := range r.types {
		seen := map[int]string{}
		for _, f := range t.Fields {
			if other, ok := seen[f.IDValue]; ok {
				return fmt.Errorf("schema: duplicate field id %d in type %s (%s, %s)", f.IDValue, t.TypeName, other, f.FieldName)
			}
			seen[f.IDValue] = f.FieldName
		}
	}
	for _, s := range r.services {
		seen := map[int]string{}
		for _, m := range s.Methods {
			if other, ok := seen[m.IDValue]; ok {
				return fmt.Errorf("schema: duplicate method id %d in service %s (%s, %s)", m.IDValue, s.ServiceName, other, m.MethodName)
			}
			seen[m.IDValue] = m.MethodName
		}
	}
	return nil
}

// Bind registers a ServerBinding, introspecting the declared methods of the
// named service and validating that the binding supplies a handler for
// each. A missing handler annotates MethodDescriptor.Errors but does not
// fail the call (spec.md §4.5 "Any mismatch sets method_errors ... but does
// not abort the endpoint").
func (r *Registry) Bind(binding ServerBinding) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	svc, ok := r.services[binding.ServiceName]
	if !ok {
		return fmt.Errorf("schema: bind: unknown service %s", binding.ServiceName)
	}

	for i := range svc.Methods {
		m := &svc.Methods[i]
		if _, ok := binding.Handlers[m.MethodName]; !ok {
			m.Errors += fmt.Sprintf("\nmissing handler: %s.%s", binding.ServiceName, m.MethodName)
		}
	}

	cp := binding
	r.bindings[binding.ServiceName] = &cp
	return nil
}

// Snapshot serializes the registry into the wire-shape Info used by
// GetSchema/SetSchema (spec.md §4.5 get_schema).
func (r *Registry) Snapshot() Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var info Info
	typeNames := sortedKeys(r.types)
	for _, name := range typeNames {
		if name == DynamicObject {
			continue
		}
		t := r.types[name]
		info.Types = append(info.Types, TypeInfo{
			TypeName: t.TypeName,
			Fields:   len(t.Fields),
			Local:    t.Local,
			Errors:   t.Errors,
		})
		for _, f := range t.Fields {
			info.Fields = append(info.Fields, FieldInfo{
				TypeName:  t.TypeName,
				FieldName: f.FieldName,
				FieldType: f.FieldType,
				IDValue:   f.IDValue,
				Local:     f.Local,
				Errors:    f.Errors,
			})
		}
	}

	serviceNames := sortedKeys(r.services)
	for _, name := range serviceNames {
		s := r.services[name]
		_, hasServer := r.bindings[name]
		info.Services = append(info.Services, ServiceInfo{
			ServiceName: s.ServiceName,
			Methods:     len(s.Methods),
			Local:       s.Local,
			HasServer:   hasServer,
			Errors:      s.Errors,
		})
		for _, m := range s.Methods {
			info.Methods = append(info.Methods, MethodInfo{
				ServiceName:  s.ServiceName,
				MethodName:   m.MethodName,
				RequestType:  m.RequestType,
				ResponseType: m.ResponseType,
				IDValue:      m.IDValue,
				Local:        m.Local,
				Errors:       m.Errors,
			})
		}
	}

	return info
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FindMissingMethods annotates local methods that the remote schema does
// not declare, per spec.md §4.5 reconciliation step 2.
func (r *Registry) FindMissingMethods(remote Info) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, svc := range r.services {
		remoteSvc := findService(remote.Services, svc.ServiceName)
		if remoteSvc == nil {
			svc.Errors += fmt.Sprintf("\nmissing remote service: %s", svc.ServiceName)
			continue
		}
		for i := range svc.Methods {
			m := &svc.Methods[i]
			if findMethod(remote.Methods, svc.ServiceName, m.MethodName) == nil {
				m.Errors += fmt.Sprintf("\nmissing remote method: %s.%s", svc.ServiceName, m.MethodName)
			}
		}
	}
}

// NewField is a field the remote side declared that is not yet known
// locally.
type NewField struct {
	TypeName  string
	FieldName string
	FieldType string
	IDValue   int
}

// FindNewFields compares remote.Fields against locally known types for
// every type name both sides declare. Fields present remotely but absent
// locally are returned (and, if add is true, inserted as Local=false).
// A different id_value at the same name, or the same id_value under a
// different name, annotates FieldDescriptor.Errors rather than erroring
// (spec.md §4.5 reconciliation step 4).
func (r *Registry) FindNewFields(remote Info, add bool) []NewField {
	r.mu.Lock()
	defer r.mu.Unlock()

	var toAdd []NewField
	for _, rt := range remote.Types {
		known, ok := r.types[rt.TypeName]
		if !ok {
			continue
		}
		for _, rf := range remote.Fields {
			if rf.TypeName != rt.TypeName {
				continue
			}
			local := known.Field(rf.FieldName)
			if local == nil {
				if dup := findFieldByID(known.Fields, rf.IDValue); dup != nil {
					dup.Errors += fmt.Sprintf("\nduplicate id! %s.%s, %s=%d", rt.TypeName, rf.FieldName, dup.FieldName, dup.IDValue)
					continue
				}
				toAdd = append(toAdd, NewField{
					TypeName:  rt.TypeName,
					FieldName: rf.FieldName,
					FieldType: rf.FieldType,
					IDValue:   rf.IDValue,
				})
			} else if local.IDValue != rf.IDValue {
				local.Errors += fmt.Sprintf("\nnumbering mismatch! %s.%s, %d != %d", rt.TypeName, rf.FieldName, rf.IDValue, local.IDValue)
			}
		}
	}

	if add {
		for _, item := range toAdd {
			t := r.types[item.TypeName]
			t.Fields = append(t.Fields, FieldDescriptor{
				FieldName: item.FieldName,
				FieldType: item.FieldType,
				IDValue:   item.IDValue,
				Local:     false,
			})
		}
	}
	return toAdd
}

// NewMethod is a method the remote side declared that is not yet known
// locally.
type NewMethod struct {
	ServiceName  string
	MethodName   string
	RequestType  string
	ResponseType string
	IDValue      int
}

// FindNewMethods mirrors FindNewFields for service methods.
func (r *Registry) FindNewMethods(remote Info, add bool) []NewMethod {
	r.mu.Lock()
	defer r.mu.Unlock()

	var toAdd []NewMethod
	for _, rs := range remote.Services {
		known, ok := r.services[rs.ServiceName]
		if !ok {
			continue
		}
		for _, rm := range remote.Methods {
			if rm.ServiceName != rs.ServiceName {
				continue
			}
			local := known.Method(rm.MethodName)
			if local == nil {
				if dup := findMethodByID(known.Methods, rm.IDValue); dup != nil {
					dup.Errors += fmt.Sprintf("\nduplicate id! %s.%s, %d, %d", rs.ServiceName, rm.MethodName, dup.IDValue, rm.IDValue)
					continue
				}
				toAdd = append(toAdd, NewMethod{
					ServiceName:  rs.ServiceName,
					MethodName:   rm.MethodName,
					RequestType:  rm.RequestType,
					ResponseType: rm.ResponseType,
					IDValue:      rm.IDValue,
				})
			} else if local.IDValue != rm.IDValue {
				local.Errors += fmt.Sprintf("\nnumbering mismatch! %s.%s, %d, %d", rs.ServiceName, rm.MethodName, rm.IDValue, local.IDValue)
			}
		}
	}

	if add {
		for _, item := range toAdd {
			s := r.services[item.ServiceName]
			s.Methods = append(s.Methods, MethodDescriptor{
				MethodName:   item.MethodName,
				RequestType:  item.RequestType,
				ResponseType: item.ResponseType,
				IDValue:      item.IDValue,
				Local:        false,
			})
		}
	}
	return toAdd
}

func findService(list []ServiceInfo, name string) *ServiceInfo {
	for i := range list {
		if list[i].ServiceName == name {
			return &list[i]
		}
	}
	return nil
}

func findMethod(list []MethodInfo, service, method string) *MethodInfo {
	for i := range list {
		if list[i].ServiceName == service && list[i].MethodName == method {
			return &list[i]
		}
	}
	return nil
}

func findFieldByID(fields []FieldDescriptor, id int) *FieldDescriptor {
	for i := range fields {
		if fields[i].IDValue == id {
			return &fields[i]
		}
	}
	return nil
}

func findMethodByID(methods []MethodDescriptor, id int) *MethodDescriptor {
	for i := range methods {
		if methods[i].IDValue == id {
			return &methods[i]
		}
	}
	return nil
}

// DefaultResponse builds a default-valued response for the declared
// response type: an empty list for "T[]", a zero-valued record otherwise
// (spec.md §4.6, testable property 6).
func (r *Registry) DefaultResponse(responseType string) (interface{}, error) {
	if isListType(responseType) {
		return []interface{}{}, nil
	}
	if responseType == DynamicObject {
		return map[string]interface{}{}, nil
	}
	if _, ok := r.types[responseType]; !ok {
		return nil, fmt.Errorf("schema: unknown response type %s", responseType)
	}
	return map[string]interface{}{}, nil
}

func isListType(typeName string) bool {
	return len(typeName) > 2 && typeName[len(typeName)-2:] == "[]"
}

// ElementType strips the "[]" suffix from a list type name.
func ElementType(typeName string) string {
	if isListType(typeName) {
		return typeName[:len(typeName)-2]
	}
	return typeName
}

// IsListType reports whether typeName denotes "T[]".
func IsListType(typeName string) bool { return isListType(typeName) }
