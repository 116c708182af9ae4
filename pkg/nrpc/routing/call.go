package routing

import (
	"github.com/jabolina/go-nrpc/pkg/nrpc/codec"
)

// Call performs a client-to-server call and decodes the response into
// TResp, giving application code a typed call site instead of a raw
// json.RawMessage (spec.md §9 "cast<Service> style typed call interface").
func Call[TResp any](r *ClientRouting, method string, params interface{}) (TResp, error) {
	var out TResp
	raw, err := r.ServerCall(method, params)
	if err != nil {
		return out, err
	}
	serviceName, methodName, ok := splitMethod(method)
	if !ok {
		return out, err
	}
	svc := r.registry.Service(serviceName)
	if svc == nil {
		return out, err
	}
	m := svc.Method(methodName)
	if m == nil {
		return out, err
	}
	if err := codec.Decode(r.registry, m.ResponseType, raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

// ClientCall performs a server-to-client call and decodes the response
// into TResp.
func ClientCall[TResp any](r *ServerRouting, clientID uint64, method string, params interface{}) (TResp, error) {
	var out TResp
	raw, err := r.ClientCall(clientID, method, params)
	if err != nil {
		return out, err
	}
	serviceName, methodName, ok := splitMethod(method)
	if !ok {
		return out, err
	}
	svc := r.registry.Service(serviceName)
	if svc == nil {
		return out, err
	}
	m := svc.Method(methodName)
	if m == nil {
		return out, err
	}
	if err := codec.Decode(r.registry, m.ResponseType, raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

// ForwardCall performs a client-to-client call relayed through the server
// and decodes the response into TResp.
func ForwardCall[TResp any](r *ClientRouting, targetClientID uint64, method string, params interface{}) (TResp, error) {
	var out TResp
	raw, err := r.ForwardCall(targetClientID, method, params)
	if err != nil {
		return out, err
	}
	serviceName, methodName, ok := splitMethod(method)
	if !ok {
		return out, err
	}
	svc := r.registry.Service(serviceName)
	if svc == nil {
		return out, err
	}
	m := svc.Method(methodName)
	if m == nil {
		return out, err
	}
	if err := codec.Decode(r.registry, m.ResponseType, raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
