package routing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jabolina/go-nrpc/pkg/nrpc/endpoint"
	"github.com/jabolina/go-nrpc/pkg/nrpc/nlog"
	"github.com/jabolina/go-nrpc/pkg/nrpc/schema"
)

const defaultCallTimeout = 5 * time.Second

// ServerRouting wraps a ServerEndpoint with dispatch, schema exposure, and
// outbound/forwarding calls (spec.md §4.6-§4.7).
type ServerRouting struct {
	server   *endpoint.ServerEndpoint
	registry *schema.Registry
	log      nlog.Logger
	d        dispatcher

	done chan struct{}
}

// NewServerRouting builds a routing layer over an already-bound
// ServerEndpoint.
func NewServerRouting(server *endpoint.ServerEndpoint, registry *schema.Registry, log nlog.Logger) *ServerRouting {
	r := &ServerRouting{
		server:   server,
		registry: registry,
		log:      log,
		done:     make(chan struct{}),
	}
	r.d = dispatcher{
		registry:    registry,
		log:         log,
		appInfo:     r.buildAppInfo,
		forwardCall: r.handleForwardCall,
	}
	return r
}

// Serve blocks, dispatching inbound forward-channel messages until Close.
// Intended to run in its own goroutine.
func (r *ServerRouting) Serve() {
	for {
		select {
		case <-r.done:
			return
		default:
		}
		msg, ok := r.server.RecvForward(100 * time.Millisecond)
		if !ok {
			continue
		}
		status, payload := r.d.dispatch(msg.ClientID, msg.Status, msg.Payload)
		if err := r.server.SendForwardResponse(msg.ClientID, status, payload); err != nil {
			r.log.Warnf("routing: reply to client %d: %v", msg.ClientID, err)
		}
	}
}

// Close stops Serve.
func (r *ServerRouting) Close() { close(r.done) }

func (r *ServerRouting) buildAppInfo(callerID uint64, withClients bool) AppInfo {
	snapshot := r.registry.Snapshot()
	meta := r.server.Metadata()
	info := AppInfo{
		ClientID:     callerID,
		IsAlive:      true,
		IsReady:      true,
		SocketType:   "bind",
		ProtocolType: "tcp",
		Types:        len(snapshot.Types),
		Services:     len(snapshot.Services),
		Servers:      1,
		Metadata:     meta,
		EntryFile:    meta.EntryFile,
		IPAddress:    meta.IPAddress,
		Port:         meta.MainPort,
		Format:       "json",
	}

	// AllClients() walks and locks the full client table; skip it unless
	// the caller actually asked for the roster (spec.md's
	// "Supplemented Features", grounded on nrpc_py/routing_socket.py:527).
	if !withClients {
		return info
	}

	all := r.server.AllClients()
	clients := make([]AppClientInfo, 0, len(all))
	for _, c := range all {
		clients = append(clients, AppClientInfo{
			ClientID:    c.ClientID,
			IsValidated: c.IsValidated(),
			IsLost:      c.IsLost(),
			EntryFile:   c.Metadata().EntryFile,
		})
	}
	info.ClientCount = len(r.server.ClientIDs())
	info.Clients = clients
	info.ClientIDs = r.server.ClientIDs()
	return info
}

// ClientCall performs a server-initiated call against one connected
// client (spec.md §4.6 "Outbound (server side → one specific client)").
func (r *ServerRouting) ClientCall(clientID uint64, method string, params interface{}) (json.RawMessage, error) {
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

	r.server.LockReverse()
	defer r.server.UnlockReverse()

	if err := r.server.SendReverseRequest(clientID, method, payload); err != nil {
		return nil, err
	}
	status, resp, ok := r.server.RecvReverse(clientID, defaultCallTimeout)
	if !ok {
		return nil, fmt.Errorf("routing: call %s to client %d: no response (lost or timed out)", method, clientID)
	}
	if status != responsePrefix+method {
		return nil, fmt.Errorf("routing: call %s to client %d: unexpected reply status %s", method, clientID, status)
	}
	return resp, nil
}

