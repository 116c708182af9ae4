package routing

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jabolina/go-nrpc/pkg/nrpc/codec"
	"github.com/jabolina/go-nrpc/pkg/nrpc/nlog"
	"github.com/jabolina/go-nrpc/pkg/nrpc/schema"
	"github.com/jabolina/go-nrpc/pkg/nrpc/value"
)

const (
	routeGetAppInfo = "RoutingMessage.GetAppInfo"
	routeGetSchema  = "RoutingMessage.GetSchema"
	routeSetSchema  = "RoutingMessage.SetSchema"
	routeForward    = "ServerMessage.ForwardCall"

	responsePrefix = "response:"
)

// schemaInfoResponse is GetSchema's/SetSchema's reply shape: the registry
// snapshot plus the identity of the caller this reply concerns (spec.md §6
// "including the active client id for per-caller inspection").
type schemaInfoResponse struct {
	schema.Info
	ActiveClient uint64 `json:"active_client"`
}

// dispatcher is the role-agnostic inbound-call handler shared by
// ServerRouting and ClientRouting. forwardCall is nil on the client side,
// since forwarding is a server-only feature (spec.md §4.7).
type dispatcher struct {
	registry    *schema.Registry
	log         nlog.Logger
	appInfo     func(callerID uint64, withClients bool) AppInfo
	forwardCall func(callerID uint64, payload []byte) (status string, payload []byte)
}

// getAppInfoRequest is GetAppInfo's request shape: by default the reply
// omits the per-client roster, which the caller opts into with
// with_clients (grounded on nrpc_py/routing_socket.py:527).
type getAppInfoRequest struct {
	WithClients bool `json:"with_clients"`
}

// dispatch handles one inbound message and returns the status/payload to
// send back on the same channel (spec.md §4.6).
func (d *dispatcher) dispatch(callerID uint64, status string, payload []byte) (string, []byte) {
	switch status {
	case routeGetAppInfo:
		var req getAppInfoRequest
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				d.log.Warnf("routing: malformed GetAppInfo payload: %v", err)
			}
		}
		data, err := json.Marshal(d.appInfo(callerID, req.WithClients))
		if err != nil {
			d.log.Errorf("routing: marshal AppInfo: %v", err)
			return responsePrefix + status, []byte("{}")
		}
		return responsePrefix + status, data

	case routeGetSchema:
		resp := schemaInfoResponse{Info: d.registry.Snapshot(), ActiveClient: callerID}
		data, err := json.Marshal(resp)
		if err != nil {
			d.log.Errorf("routing: marshal SchemaInfo: %v", err)
			return responsePrefix + status, []byte("{}")
		}
		return responsePrefix + status, data

	case routeSetSchema:
		var remote schema.Info
		if err := json.Unmarshal(payload, &remote); err != nil {
			d.log.Warnf("routing: malformed SetSchema payload: %v", err)
			remote = schema.Info{}
		}
		d.registry.FindNewFields(remote, true)
		d.registry.FindNewMethods(remote, true)
		resp := schemaInfoResponse{Info: d.registry.Snapshot(), ActiveClient: callerID}
		data, err := json.Marshal(resp)
		if err != nil {
			d.log.Errorf("routing: marshal merged SchemaInfo: %v", err)
			return responsePrefix + status, []byte("{}")
		}
		return responsePrefix + status, data

	case routeForward:
		if d.forwardCall == nil {
			return responsePrefix + status, []byte("null")
		}
		return d.forwardCall(callerID, payload)

	default:
		return d.dispatchServiceMethod(status, payload)
	}
}

func (d *dispatcher) dispatchServiceMethod(status string, payload []byte) (string, []byte) {
	serviceName, methodName, ok := splitMethod(status)
	if !ok {
		d.log.Warnf("routing: malformed method name %q", status)
		return responsePrefix + status, []byte("null")
	}

	svc := d.registry.Service(serviceName)
	if svc == nil {
		d.log.Warnf("routing: unknown service %s", serviceName)
		return responsePrefix + status, []byte("[]")
	}
	method := svc.Method(methodName)
	if method == nil {
		svc.Errors += fmt.Sprintf("\nunknown method: %s", methodName)
		d.log.Warnf("routing: unknown method %s.%s", serviceName, methodName)
		return responsePrefix + status, []byte("[]")
	}
	if method.Errors != "" {
		def, err := d.registry.DefaultResponse(method.ResponseType)
		data, _ := json.Marshal(def)
		if err != nil {
			data = []byte("null")
		}
		return responsePrefix + status, data
	}

	binding := d.registry.Binding(serviceName)
	if binding == nil {
		method.Errors += fmt.Sprintf("\nno server binding for %s", serviceName)
		def, _ := d.registry.DefaultResponse(method.ResponseType)
		data, _ := json.Marshal(def)
		return responsePrefix + status, data
	}
	handler, ok := binding.Handlers[methodName]
	if !ok {
		method.Errors += fmt.Sprintf("\nmissing handler: %s.%s", serviceName, methodName)
		def, _ := d.registry.DefaultResponse(method.ResponseType)
		data, _ := json.Marshal(def)
		return responsePrefix + status, data
	}

	request, err := codec.DecodeToValue(d.registry, method.RequestType, payload)
	if err != nil {
		d.log.Errorf("routing: decode request for %s: %v", status, err)
		def, _ := d.registry.DefaultResponse(method.ResponseType)
		data, _ := json.Marshal(def)
		return responsePrefix + status, data
	}

	response, err := handler(request)
	if err != nil {
		d.log.Errorf("routing: handler %s failed: %v", status, err)
		def, _ := d.registry.DefaultResponse(method.ResponseType)
		data, _ := json.Marshal(def)
		return responsePrefix + status, data
	}

	data, err := encodeResponse(d.registry, method.ResponseType, response)
	if err != nil {
		d.log.Errorf("routing: encode response for %s: %v", status, err)
		def, _ := d.registry.DefaultResponse(method.ResponseType)
		data, _ = json.Marshal(def)
	}
	return responsePrefix + status, data
}

// encodeResponse marshals a handler's return value. A handler that hands
// back the value.Value it was given unchanged (the dynamic-dispatch path)
// is encoded straight through; anything else goes through the
// struct-tagged codec.
func encodeResponse(registry *schema.Registry, responseType string, response interface{}) ([]byte, error) {
	if v, ok := response.(value.Value); ok {
		return codec.EncodeValue(v)
	}
	return codec.Encode(registry, responseType, response)
}

func splitMethod(status string) (service, method string, ok bool) {
	idx := strings.LastIndex(status, ".")
	if idx <= 0 || idx == len(status)-1 {
		return "", "", false
	}
	return status[:idx], status[idx+1:], true
}

// encodeParams marshals an outbound call's parameters against the
// declared request type: a dynamic object is passed through as a raw map,
// everything else goes through the codec.
func encodeParams(registry *schema.Registry, requestType string, params interface{}) ([]byte, error) {
	if requestType == schema.DynamicObject {
		if params == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(params)
	}
	return codec.Encode(registry, requestType, params)
}
