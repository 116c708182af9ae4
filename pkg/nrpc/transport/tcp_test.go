package transport_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jabolina/go-nrpc/pkg/nrpc/nlog"
	"github.com/jabolina/go-nrpc/pkg/nrpc/transport"
)

const pollInterval = 50 * time.Millisecond

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRouterDealerRoundTrip(t *testing.T) {
	log := nlog.NewDefault()

	router, err := transport.BindTCP("127.0.0.1:0", log)
	require.NoError(t, err)
	defer router.Close()

	addr := router.Addr()
	dealer, err := transport.ConnectTCP(addr, "client-1", "server", log)
	require.NoError(t, err)
	defer dealer.Close()

	ev := waitEvent(t, router.Events())
	assert.Equal(t, "client-1", ev.Identity)
	assert.Equal(t, transport.EventConnected, ev.Type)

	require.NoError(t, dealer.Send("server", "Service.Method", []byte(`{"a":1}`)))
	identity, status, payload, ok := router.Recv(time.Second)
	require.True(t, ok)
	assert.Equal(t, "client-1", identity)
	assert.Equal(t, "Service.Method", status)
	assert.JSONEq(t, `{"a":1}`, string(payload))

	require.NoError(t, router.Send("client-1", "response:Service.Method", []byte(`{"b":2}`)))
	_, status, payload, ok = dealer.Recv(time.Second)
	require.True(t, ok)
	assert.Equal(t, "response:Service.Method", status)
	assert.JSONEq(t, `{"b":2}`, string(payload))
}

func TestRouterDetectsDisconnect(t *testing.T) {
	log := nlog.NewDefault()

	router, err := transport.BindTCP("127.0.0.1:0", log)
	require.NoError(t, err)
	defer router.Close()

	dealer, err := transport.ConnectTCP(router.Addr(), "client-2", "server", log)
	require.NoError(t, err)

	waitEvent(t, router.Events())
	assert.Equal(t, transport.PeerConnected, router.PeerState("client-2"))

	require.NoError(t, dealer.Close())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if router.PeerState("client-2") == transport.PeerDisconnected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("router never observed dealer disconnect")
}

func TestUnknownPeerSendFails(t *testing.T) {
	log := nlog.NewDefault()
	router, err := transport.BindTCP("127.0.0.1:0", log)
	require.NoError(t, err)
	defer router.Close()

	err = router.Send("nobody", "Service.Method", nil)
	assert.Error(t, err)
	assert.Equal(t, transport.PeerUnknown, router.PeerState("nobody"))
}

func waitEvent(t *testing.T, events <-chan transport.Event) transport.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for transport event")
		return transport.Event{}
	}
}
