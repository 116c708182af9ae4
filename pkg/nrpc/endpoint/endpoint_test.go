package endpoint_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jabolina/go-nrpc/pkg/nrpc/endpoint"
	"github.com/jabolina/go-nrpc/pkg/nrpc/nlog"
)

func freePort(t *testing.T) int {
	t.Helper()
	// Ports above 20000 keep the reverse channel (port+10000) comfortably
	// inside the ephemeral range without colliding with other tests.
	return 21000 + int(time.Now().UnixNano()%3000)
}

func TestConnectHandshakeValidatesBothSides(t *testing.T) {
	port := freePort(t)
	log := nlog.NewDefault()

	server, err := endpoint.Bind("127.0.0.1", port, "server", log)
	require.NoError(t, err)
	defer server.Close()

	client, err := endpoint.Connect("127.0.0.1", port, endpoint.Metadata{Lang: "go"}, log)
	require.NoError(t, err)
	defer client.Close()

	require.True(t, waitThisOrTimeout(func() {
		for !client.IsValidated() {
			time.Sleep(5 * time.Millisecond)
		}
	}, 2*time.Second))

	assert.True(t, client.IsValidated())
	assert.Equal(t, uint64(1), client.ClientID())

	require.True(t, server.WaitForChange(2*time.Second, nil))
	ids := server.ClientIDs()
	require.Len(t, ids, 1)
	assert.Equal(t, uint64(1), ids[0])

	record, ok := server.ClientInfo(1)
	require.True(t, ok)
	assert.Equal(t, "rev:"+record.ForwardIdentity, record.ReverseIdentity)
	assert.True(t, record.IsValidated())
}

func TestForwardCallRoundTrip(t *testing.T) {
	port := freePort(t)
	log := nlog.NewDefault()

	server, err := endpoint.Bind("127.0.0.1", port, "server", log)
	require.NoError(t, err)
	defer server.Close()

	client, err := endpoint.Connect("127.0.0.1", port, endpoint.Metadata{}, log)
	require.NoError(t, err)
	defer client.Close()

	require.True(t, waitThisOrTimeout(func() {
		for !client.IsValidated() {
			time.Sleep(5 * time.Millisecond)
		}
	}, 2*time.Second))

	require.NoError(t, client.SendForwardRequest("Hello.Echo", []byte(`{"v":1}`)))

	msg, ok := server.RecvForward(2 * time.Second)
	require.True(t, ok)
	assert.Equal(t, uint64(1), msg.ClientID)
	assert.Equal(t, "Hello.Echo", msg.Status)

	require.NoError(t, server.SendForwardResponse(msg.ClientID, "response:Hello.Echo", msg.Payload))

	status, payload, ok := client.RecvForwardResponse(2 * time.Second)
	require.True(t, ok)
	assert.Equal(t, "response:Hello.Echo", status)
	assert.JSONEq(t, `{"v":1}`, string(payload))
}

func TestReverseCallRoundTrip(t *testing.T) {
	port := freePort(t)
	log := nlog.NewDefault()

	server, err := endpoint.Bind("127.0.0.1", port, "server", log)
	require.NoError(t, err)
	defer server.Close()

	client, err := endpoint.Connect("127.0.0.1", port, endpoint.Metadata{}, log)
	require.NoError(t, err)
	defer client.Close()

	require.True(t, waitThisOrTimeout(func() {
		for !client.IsValidated() {
			time.Sleep(5 * time.Millisecond)
		}
	}, 2*time.Second))

	go func() {
		status, payload, ok := client.RecvReverseRequest(2 * time.Second)
		if !ok {
			return
		}
		_ = client.SendReverseResponse("response:"+status, payload)
	}()

	server.LockReverse()
	require.NoError(t, server.SendReverseRequest(1, "Hello.Ping", []byte(`{"n":7}`)))
	status, payload, ok := server.RecvReverse(1, 2*time.Second)
	server.UnlockReverse()

	require.True(t, ok)
	assert.Equal(t, "response:Hello.Ping", status)
	assert.JSONEq(t, `{"n":7}`, string(payload))
}

func TestLostClientStopsReverseDelivery(t *testing.T) {
	port := freePort(t)
	log := nlog.NewDefault()

	server, err := endpoint.Bind("127.0.0.1", port, "server", log)
	require.NoError(t, err)
	defer server.Close()

	client, err := endpoint.Connect("127.0.0.1", port, endpoint.Metadata{}, log)
	require.NoError(t, err)

	require.True(t, waitThisOrTimeout(func() {
		for !client.IsValidated() {
			time.Sleep(5 * time.Millisecond)
		}
	}, 2*time.Second))

	require.NoError(t, client.Close())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(server.ClientIDs()) == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Empty(t, server.ClientIDs())

	record, ok := server.ClientInfo(1)
	require.True(t, ok)
	assert.True(t, record.IsLost())

	require.NoError(t, server.SendReverseRequest(1, "Hello.Ping", nil))
	_, _, ok = server.RecvReverse(1, 200*time.Millisecond)
	assert.False(t, ok)
}
