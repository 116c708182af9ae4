package routing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jabolina/go-nrpc/pkg/nrpc/endpoint"
	"github.com/jabolina/go-nrpc/pkg/nrpc/routing"
	"github.com/jabolina/go-nrpc/pkg/nrpc/schema"
)

// TestTypedCallRoundTrip exercises a full client -> server typed call,
// decoding the response through the generic Call helper.
func TestTypedCallRoundTrip(t *testing.T) {
	port := freePort(t)
	log := newLog()

	serverEP, err := endpoint.Bind("127.0.0.1", port, "server", log)
	require.NoError(t, err)
	defer serverEP.Close()
	serverRegistry := pingPongRegistry(t, true)
	serverRouting := routing.NewServerRouting(serverEP, serverRegistry, log)
	go serverRouting.Serve()
	defer serverRouting.Close()

	clientEP, err := endpoint.Connect("127.0.0.1", port, endpoint.Metadata{Lang: "go"}, log)
	require.NoError(t, err)
	defer clientEP.Close()
	waitValidated(t, clientEP)

	clientRegistry := pingPongRegistry(t, false)
	clientRouting := routing.NewClientRouting(clientEP, clientRegistry, log)

	resp, err := routing.Call[pong](clientRouting, "Hello.Ping", ping{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Reply)
}

// TestDynamicObjectMethod exercises a method whose request/response type is
// the untyped dict, dispatched through value.Value rather than a bound
// struct (spec.md §3 "dynamic object").
func TestDynamicObjectMethod(t *testing.T) {
	port := freePort(t)
	log := newLog()

	serverRegistry := schema.NewRegistry()
	require.NoError(t, serverRegistry.AddTypes(nil, []schema.ServiceDescriptor{
		{ServiceName: "Echo", Methods: []schema.MethodDescriptor{
			{MethodName: "Reflect", RequestType: schema.DynamicObject, ResponseType: schema.DynamicObject, IDValue: 1},
		}},
	}))
	require.NoError(t, serverRegistry.Bind(schema.ServerBinding{
		ServiceName: "Echo",
		Handlers: map[string]schema.Handler{
			"Reflect": func(request interface{}) (interface{}, error) {
				return request, nil
			},
		},
	}))

	serverEP, err := endpoint.Bind("127.0.0.1", port, "server", log)
	require.NoError(t, err)
	defer serverEP.Close()
	serverRouting := routing.NewServerRouting(serverEP, serverRegistry, log)
	go serverRouting.Serve()
	defer serverRouting.Close()

	clientEP, err := endpoint.Connect("127.0.0.1", port, endpoint.Metadata{}, log)
	require.NoError(t, err)
	defer clientEP.Close()
	waitValidated(t, clientEP)

	clientRegistry := schema.NewRegistry()
	require.NoError(t, clientRegistry.AddTypes(nil, []schema.ServiceDescriptor{
		{ServiceName: "Echo", Methods: []schema.MethodDescriptor{
			{MethodName: "Reflect", RequestType: schema.DynamicObject, ResponseType: schema.DynamicObject, IDValue: 1},
		}},
	}))
	clientRouting := routing.NewClientRouting(clientEP, clientRegistry, log)

	raw, err := clientRouting.ServerCall("Echo.Reflect", map[string]interface{}{"n": float64(42)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":42}`, string(raw))
}

// TestSchemaReconciliationForwardCompatible exercises the spec.md §4.5
// reconciliation contract: a client with a narrower local schema still
// learns the server's extra method after Reconcile, rather than failing.
func TestSchemaReconciliationForwardCompatible(t *testing.T) {
	port := freePort(t)
	log := newLog()

	// The server additionally knows a second method the client has never
	// heard of. Both methods are declared in one AddTypes call, since
	// re-declaring an already known service is a no-op.
	serverRegistry := schema.NewRegistry()
	require.NoError(t, serverRegistry.AddTypes(nil, []schema.ServiceDescriptor{
		{ServiceName: "Hello", Methods: []schema.MethodDescriptor{
			{MethodName: "Ping", RequestType: "ping", ResponseType: "pong", IDValue: 1},
			{MethodName: "Wave", RequestType: schema.DynamicObject, ResponseType: schema.DynamicObject, IDValue: 2},
		}},
	}))

	serverEP, err := endpoint.Bind("127.0.0.1", port, "server", log)
	require.NoError(t, err)
	defer serverEP.Close()
	serverRouting := routing.NewServerRouting(serverEP, serverRegistry, log)
	go serverRouting.Serve()
	defer serverRouting.Close()

	clientEP, err := endpoint.Connect("127.0.0.1", port, endpoint.Metadata{}, log)
	require.NoError(t, err)
	defer clientEP.Close()
	waitValidated(t, clientEP)

	clientRegistry := pingPongRegistry(t, false)
	clientRouting := routing.NewClientRouting(clientEP, clientRegistry, log)

	require.NoError(t, clientRouting.Reconcile())

	svc := clientRegistry.Service("Hello")
	require.NotNil(t, svc)
	wave := svc.Method("Wave")
	require.NotNil(t, wave)
	assert.False(t, wave.Local)
}

// TestForwardCallBetweenClients exercises client-to-client forwarding
// through the server's ServerMessage.ForwardCall primitive (spec.md §4.7).
func TestForwardCallBetweenClients(t *testing.T) {
	port := freePort(t)
	log := newLog()

	serverRegistry := pingPongRegistry(t, false)
	serverEP, err := endpoint.Bind("127.0.0.1", port, "server", log)
	require.NoError(t, err)
	defer serverEP.Close()
	serverRouting := routing.NewServerRouting(serverEP, serverRegistry, log)
	go serverRouting.Serve()
	defer serverRouting.Close()

	clientARegistry := pingPongRegistry(t, false)
	clientAEP, err := endpoint.Connect("127.0.0.1", port, endpoint.Metadata{}, log)
	require.NoError(t, err)
	defer clientAEP.Close()
	waitValidated(t, clientAEP)
	clientARouting := routing.NewClientRouting(clientAEP, clientARegistry, log)

	clientBRegistry := pingPongRegistry(t, true)
	clientBEP, err := endpoint.Connect("127.0.0.1", port, endpoint.Metadata{}, log)
	require.NoError(t, err)
	defer clientBEP.Close()
	waitValidated(t, clientBEP)
	clientBRouting := routing.NewClientRouting(clientBEP, clientBRegistry, log)
	go clientBRouting.Serve()
	defer clientBRouting.Close()

	require.True(t, serverEP.WaitForChange(2*time.Second, nil))
	targetID := clientBEP.ClientID()
	require.NotZero(t, targetID)

	resp, err := routing.ForwardCall[pong](clientARouting, targetID, "Hello.Ping", ping{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Reply)
}

// TestClientLossFailsOutstandingCall checks that a server-side call made
// after the client has closed returns an error instead of a response
// (spec.md §4.2 testable property around loss detection).
func TestClientLossFailsOutstandingCall(t *testing.T) {
	port := freePort(t)
	log := newLog()

	serverRegistry := pingPongRegistry(t, false)
	serverEP, err := endpoint.Bind("127.0.0.1", port, "server", log)
	require.NoError(t, err)
	defer serverEP.Close()
	serverRouting := routing.NewServerRouting(serverEP, serverRegistry, log)
	go serverRouting.Serve()
	defer serverRouting.Close()

	clientEP, err := endpoint.Connect("127.0.0.1", port, endpoint.Metadata{}, log)
	require.NoError(t, err)
	waitValidated(t, clientEP)

	require.True(t, serverEP.WaitForChange(2*time.Second, nil))
	clientID := clientEP.ClientID()

	require.NoError(t, clientEP.Close())

	_, err = routing.ClientCall[pong](serverRouting, clientID, "Hello.Ping", ping{Message: "hi"})
	assert.Error(t, err)
}
