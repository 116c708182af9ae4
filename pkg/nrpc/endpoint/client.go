package endpoint

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jabolina/go-nrpc/pkg/nrpc/nlog"
	"github.com/jabolina/go-nrpc/pkg/nrpc/transport"
)

// serverPeerLabel is the fixed identity label a ClientEndpoint's two
// dealers use for their single peer; it never crosses the wire (the
// transport layer's Send ignores the identity argument on the connect
// side), it only labels locally-surfaced events and Recv results.
const serverPeerLabel = "server"

// ClientEndpointState is one state of the ClientEndpoint state machine
// (spec.md §4.8). Lost is reachable from any state and is terminal.
type ClientEndpointState int

const (
	StateInitial ClientEndpointState = iota
	StateForwardConnected
	StateRegistered
	StateReverseOpened
	StateValidated
	StateLost
)

// ClientEndpoint connects to a server's forward/reverse channels,
// registers, and then participates symmetrically: it may call the server
// and it must service incoming reverse calls (spec.md §4.3).
type ClientEndpoint struct {
	forward transport.DuplexTransport
	reverse transport.DuplexTransport
	log     nlog.Logger

	localForwardIdentity string
	localReverseIdentity string

	mu             sync.RWMutex
	state          ClientEndpointState
	clientID       uint64
	metadata       Metadata
	serverMetadata Metadata

	requestLock sync.Mutex

	alive        int32
	done         chan struct{}
	wg           sync.WaitGroup
	lostCh       chan struct{}
	lostOnce     sync.Once
	pollInterval time.Duration
}

// Connect runs the full connect protocol against a server listening on
// host:port (forward) / host:port+10000 (reverse). log may be nil, in
// which case nlog.NewDefault() is used unless overridden by WithLogger;
// opts also accepts WithPollInterval and WithIdentity (overriding the
// randomly generated forward identity).
func Connect(host string, port int, metadata Metadata, log nlog.Logger, opts ...Option) (*ClientEndpoint, error) {
	cfg := resolveConfig(log, newIdentity(), opts)

	c := &ClientEndpoint{
		log:                  cfg.Logger,
		localForwardIdentity: cfg.Identity,
		metadata:             metadata,
		state:                StateInitial,
		done:                 make(chan struct{}),
		lostCh:               make(chan struct{}),
		pollInterval:         cfg.PollInterval,
	}
	atomic.StoreInt32(&c.alive, 1)

	forwardAddr := fmt.Sprintf("%s:%d", host, port)
	fwd, err := transport.ConnectTCP(forwardAddr, c.localForwardIdentity, serverPeerLabel, c.log)
	if err != nil {
		return nil, err
	}
	c.forward = fwd
	if !waitHandshake(fwd, 2*time.Second) {
		fwd.Close()
		return nil, fmt.Errorf("endpoint: forward handshake to %s timed out", forwardAddr)
	}
	c.setState(StateForwardConnected)

	if err := c.registerWithServer(); err != nil {
		c.forward.Close()
		return nil, err
	}
	c.setState(StateRegistered)

	reverseAddr := fmt.Sprintf("%s:%d", host, port+10000)
	rev, err := transport.ConnectTCP(reverseAddr, c.localReverseIdentity, serverPeerLabel, c.log)
	if err != nil {
		c.forward.Close()
		return nil, err
	}
	c.reverse = rev
	if !waitHandshake(rev, 2*time.Second) {
		c.forward.Close()
		c.reverse.Close()
		return nil, fmt.Errorf("endpoint: reverse handshake to %s timed out", reverseAddr)
	}
	c.setState(StateReverseOpened)

	if err := c.completeValidation(); err != nil {
		c.forward.Close()
		c.reverse.Close()
		return nil, err
	}
	c.setState(StateValidated)
	nlog.Validated(c.log, c.clientID)

	c.wg.Add(2)
	go c.watchEvents(c.forward)
	go c.watchEvents(c.reverse)

	return c, nil
}

func waitHandshake(t transport.DuplexTransport, timeout time.Duration) bool {
	select {
	case ev := <-t.Events():
		return ev.Type == transport.EventHandshakeSucceeded
	case <-time.After(timeout):
		return false
	}
}

func (c *ClientEndpoint) registerWithServer() error {
	data, err := json.Marshal(c.metadata)
	if err != nil {
		return err
	}
	if err := c.forward.Send(serverPeerLabel, msgAddClient, data); err != nil {
		return err
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, status, payload, ok := c.forward.Recv(c.pollInterval)
		if !ok {
			continue
		}
		if status != msgClientAdded {
			continue
		}
		var added clientAddedPayload
		if err := json.Unmarshal(payload, &added); err != nil {
			return fmt.Errorf("endpoint: malformed ClientAdded: %w", err)
		}
		c.mu.Lock()
		c.clientID = added.ClientID
		c.localReverseIdentity = added.ClientSignatureRev
		c.serverMetadata = added.ServerMetadata
		c.mu.Unlock()
		return nil
	}
	return fmt.Errorf("endpoint: timed out waiting for ClientAdded")
}

func (c *ClientEndpoint) completeValidation() error {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, status, payload, ok := c.reverse.Recv(c.pollInterval)
		if !ok {
			continue
		}
		if status != msgValidateClient {
			// Non-validation traffic arriving before the handshake
			// completes is answered with a courtesy drop notice and
			// otherwise ignored (spec.md §4.3 step 4).
			_ = c.reverse.Send(serverPeerLabel, "message_dropped:"+status, nil)
			continue
		}
		_ = payload

		c.mu.Lock()
		c.metadata.ClientID = int(c.clientID)
		echo := c.metadata
		c.mu.Unlock()

		data, err := json.Marshal(echo)
		if err != nil {
			return err
		}
		return c.reverse.Send(serverPeerLabel, msgClientValidated, data)
	}
	return fmt.Errorf("endpoint: timed out waiting for ValidateClient")
}

// ClientID returns the id the server assigned this client.
func (c *ClientEndpoint) ClientID() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

// ServerMetadata returns the server's metadata as observed at connect
// time.
func (c *ClientEndpoint) ServerMetadata() Metadata {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverMetadata
}

// IsValidated reports whether the full bidirectional handshake completed.
func (c *ClientEndpoint) IsValidated() bool {
	return c.getState() == StateValidated
}

// IsLost reports whether this endpoint's connection to the server was
// lost.
func (c *ClientEndpoint) IsLost() bool {
	return c.getState() == StateLost
}

func (c *ClientEndpoint) getState() ClientEndpointState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *ClientEndpoint) setState(s ClientEndpointState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// SendForwardRequest issues a client-initiated call. Callers needing
// strict request/response pairing should hold LockForward across the
// matching SendForwardRequest+RecvForwardResponse pair.
func (c *ClientEndpoint) SendForwardRequest(status string, payload []byte) error {
	if c.IsLost() {
		return fmt.Errorf("endpoint: connection lost")
	}
	return c.forward.Send(serverPeerLabel, status, payload)
}

// RecvForwardResponse blocks up to timeout for the server's reply to the
// most recent forward request.
func (c *ClientEndpoint) RecvForwardResponse(timeout time.Duration) (status string, payload []byte, ok bool) {
	select {
	case <-c.lostCh:
		return "", nil, false
	default:
	}
	_, status, payload, ok = c.forward.Recv(timeout)
	return status, payload, ok
}

// RecvReverseRequest blocks up to timeout for a server-initiated call.
func (c *ClientEndpoint) RecvReverseRequest(timeout time.Duration) (status string, payload []byte, ok bool) {
	select {
	case <-c.lostCh:
		return "", nil, false
	default:
	}
	_, status, payload, ok = c.reverse.Recv(timeout)
	return status, payload, ok
}

// SendReverseResponse replies to a server-initiated call.
func (c *ClientEndpoint) SendReverseResponse(status string, payload []byte) error {
	if c.IsLost() {
		return nil
	}
	return c.reverse.Send(serverPeerLabel, status, payload)
}

// LockForward / UnlockForward serialize SendForwardRequest+
// RecvForwardResponse pairs (spec.md §4.3 "Ordering").
func (c *ClientEndpoint) LockForward()   { c.requestLock.Lock() }
func (c *ClientEndpoint) UnlockForward() { c.requestLock.Unlock() }

// Wait blocks until the connection to the server is lost.
func (c *ClientEndpoint) Wait() {
	<-c.lostCh
}

// Close tears both channels down. Idempotent.
func (c *ClientEndpoint) Close() error {
	if !atomic.CompareAndSwapInt32(&c.alive, 1, 0) {
		return nil
	}
	close(c.done)
	c.forward.Close()
	if c.reverse != nil {
		c.reverse.Close()
	}
	c.markLost()
	c.wg.Wait()
	return nil
}

func (c *ClientEndpoint) markLost() {
	c.lostOnce.Do(func() {
		c.setState(StateLost)
		close(c.lostCh)
	})
}

func (c *ClientEndpoint) watchEvents(t transport.DuplexTransport) {
	defer c.wg.Done()
	for {
		select {
		case ev, ok := <-t.Events():
			if !ok {
				return
			}
			if ev.Type == transport.EventDisconnected {
				c.markLost()
			}
		case <-c.done:
			return
		}
	}
}
