package routing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jabolina/go-nrpc/pkg/nrpc/endpoint"
	"github.com/jabolina/go-nrpc/pkg/nrpc/nlog"
	"github.com/jabolina/go-nrpc/pkg/nrpc/schema"
)

// ClientRouting wraps a ClientEndpoint with dispatch, schema
// reconciliation, and outbound calls to the server (spec.md §4.6).
type ClientRouting struct {
	client   *endpoint.ClientEndpoint
	registry *schema.Registry
	log      nlog.Logger
	d        dispatcher

	done chan struct{}
}

// NewClientRouting builds a routing layer over an already-connected
// ClientEndpoint.
func NewClientRouting(client *endpoint.ClientEndpoint, registry *schema.Registry, log nlog.Logger) *ClientRouting {
	r := &ClientRouting{
		client:   client,
		registry: registry,
		log:      log,
		done:     make(chan struct{}),
	}
	r.d = dispatcher{
		registry: registry,
		log:      log,
		appInfo:  r.buildAppInfo,
		// forwardCall stays nil: forwarding is server-only.
	}
	return r
}

// Serve blocks, dispatching inbound reverse-channel (server-initiated)
// calls until Close. Intended to run in its own goroutine.
func (r *ClientRouting) Serve() {
	for {
		select {
		case <-r.done:
			return
		default:
		}
		status, payload, ok := r.client.RecvReverseRequest(100 * time.Millisecond)
		if !ok {
			if r.client.IsLost() {
				return
			}
			continue
		}
		respStatus, respPayload := r.d.dispatch(r.client.ClientID(), status, payload)
		if err := r.client.SendReverseResponse(respStatus, respPayload); err != nil {
			r.log.Warnf("routing: reply to server: %v", err)
		}
	}
}

// Close stops Serve.
func (r *ClientRouting) Close() { close(r.done) }

func (r *ClientRouting) buildAppInfo(callerID uint64, withClients bool) AppInfo {
	snapshot := r.registry.Snapshot()
	return AppInfo{
		ClientID:     r.client.ClientID(),
		IsAlive:      !r.client.IsLost(),
		IsReady:      r.client.IsValidated(),
		SocketType:   "connect",
		ProtocolType: "tcp",
		Types:        len(snapshot.Types),
		Services:     len(snapshot.Services),
		Servers:      1,
		Format:       "json",
	}
}

// ServerCall performs a client-initiated call against the server (spec.md
// §4.6 "Outbound (client side)").
func (r *ClientRouting) ServerCall(method string, params interface{}) (json.RawMessage, error) {
	serviceName, methodName, ok := splitMethod(method)
	if !ok {
		return nil, fmt.Errorf("routing: malformed method name %q", method)
	}
	svc := r.registry.Service(serviceName)
	if svc == nil {
		return nil, fmt.Errorf("routing: unknown service %s", serviceName)
	}
	m := svc.Method(methodName)
	if m == nil {
		return nil, fmt.Errorf("routing: unknown method %s", method)
	}

	payload, err := encodeParams(r.registry, m.RequestType, params)
	if err != nil {
		return nil, fmt.Errorf("routing: encode params for %s: %w", method, err)
	}

	r.client.LockForward()
	defer r.client.UnlockForward()

	if err := r.client.SendForwardRequest(method, payload); err != nil {
		return nil, err
	}
	status, resp, ok := r.client.RecvForwardResponse(defaultCallTimeout)
	if !ok {
		return nil, fmt.Errorf("routing: call %s: no response (lost or timed out)", method)
	}
	if status != responsePrefix+method {
		return nil, fmt.Errorf("routing: call %s: unexpected reply status %s", method, status)
	}
	return resp, nil
}

// ForwardCall asks the server to relay method/params to another client,
// tunneling through ServerMessage.ForwardCall (spec.md §4.7).
func (r *ClientRouting) ForwardCall(targetClientID uint64, method string, params interface{}) (json.RawMessage, error) {
	serviceName, methodName, ok := splitMethod(method)
	if !ok {
		return nil, fmt.Errorf("routing: malformed method name %q", method)
	}
	svc := r.registry.Service(serviceName)
	if svc == nil {
		return nil, fmt.Errorf("routing: unknown service %s", serviceName)
	}
	m := svc.Method(methodName)
	if m == nil {
		return nil, fmt.Errorf("routing: unknown method %s", method)
	}
	payload, err := encodeParams(r.registry, m.RequestType, params)
	if err != nil {
		return nil, err
	}

	envelope := struct {
		ClientID     uint64          `json:"client_id"`
		MethodName   string          `json:"method_name"`
		MethodParams json.RawMessage `json:"method_params"`
	}{ClientID: targetClientID, MethodName: method, MethodParams: payload}
	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, err
	}

	r.client.LockForward()
	defer r.client.UnlockForward()

	if err := r.client.SendForwardRequest(routeForward, data); err != nil {
		return nil, err
	}
	status, resp, ok := r.client.RecvForwardResponse(defaultCallTimeout)
	if !ok {
		return nil, fmt.Errorf("routing: forward call %s to client %d: no response", method, targetClientID)
	}
	if status != "fwd_response:"+method {
		return nil, fmt.Errorf("routing: forward call %s to client %d: unexpected reply status %s", method, targetClientID, status)
	}
	return resp, nil
}

// Reconcile runs the two-step schema-exchange protocol (spec.md §4.5
// "Reconciliation contract"): fetch the server's schema, merge its
// remote-only entries in, push the local schema back, and merge whatever
// the server added in response.
func (r *ClientRouting) Reconcile() error {
	remote, err := r.fetchServerSchema()
	if err != nil {
		return err
	}
	r.registry.FindMissingMethods(remote)
	r.registry.FindNewFields(remote, true)
	r.registry.FindNewMethods(remote, true)

	merged, err := r.pushLocalSchema()
	if err != nil {
		return err
	}
	r.registry.FindNewFields(merged, true)
	r.registry.FindNewMethods(merged, true)
	return nil
}

func (r *ClientRouting) fetchServerSchema() (schema.Info, error) {
	r.client.LockForward()
	defer r.client.UnlockForward()

	if err := r.client.SendForwardRequest(routeGetSchema, []byte("{}")); err != nil {
		return schema.Info{}, err
	}
	status, payload, ok := r.client.RecvForwardResponse(defaultCallTimeout)
	if !ok || status != responsePrefix+routeGetSchema {
		return schema.Info{}, fmt.Errorf("routing: GetSchema failed")
	}
	var resp schemaInfoResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return schema.Info{}, err
	}
	return resp.Info, nil
}

func (r *ClientRouting) pushLocalSchema() (schema.Info, error) {
	local := r.registry.Snapshot()
	data, err := json.Marshal(local)
	if err != nil {
		return schema.Info{}, err
	}

	r.client.LockForward()
	defer r.client.UnlockForward()

	if err := r.client.SendForwardRequest(routeSetSchema, data); err != nil {
		return schema.Info{}, err
	}
	status, payload, ok := r.client.RecvForwardResponse(defaultCallTimeout)
	if !ok || status != responsePrefix+routeSetSchema {
		return schema.Info{}, fmt.Errorf("routing: SetSchema failed")
	}
	var resp schemaInfoResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return schema.Info{}, err
	}
	return resp.Info, nil
}
