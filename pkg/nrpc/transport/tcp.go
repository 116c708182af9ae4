package transport

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/jabolina/go-nrpc/pkg/nrpc/nlog"
)

type inboundMessage struct {
	identity string
	status   string
	payload  []byte
}

// identConn pairs a connection with the write mutex guarding it and the
// dead flag a failed write/read sets.
type identConn struct {
	conn net.Conn
	mu   sync.Mutex
	dead bool
}

// TCPRouter is the bind-side DuplexTransport: one listener fanning in many
// peer connections, each addressed by the identity it announces on
// connect. Grounded on pkg/mcast/core/transport.go's background poll
// goroutine feeding a buffered channel, adapted from relt's group fan-out
// to per-identity point addressing.
type TCPRouter struct {
	listener net.Listener
	log      nlog.Logger

	mu    sync.RWMutex
	conns map[string]*identConn

	inbox  chan inboundMessage
	events chan Event

	closeOnce sync.Once
	done      chan struct{}
}

// BindTCP starts listening on addr and accepting peer connections. A nil
// log falls back to a prometheus/common/log-backed bootstrap logger, used
// until an endpoint attaches its own configured logger.
func BindTCP(addr string, log nlog.Logger) (*TCPRouter, error) {
	if log == nil {
		log = newBootstrapLogger()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: bind %s: %w", addr, err)
	}
	r := &TCPRouter{
		listener: ln,
		log:      log,
		conns:    map[string]*identConn{},
		inbox:    make(chan inboundMessage, 128),
		events:   make(chan Event, 128),
		done:     make(chan struct{}),
	}
	go r.acceptLoop()
	return r, nil
}

func (r *TCPRouter) acceptLoop() {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-r.done:
				return
			default:
				r.log.Warnf("transport: accept failed: %v", err)
				return
			}
		}
		go r.handshake(conn)
	}
}

// handshake reads the one-time identity-announcement frame a connecting
// peer sends immediately after dialing, registers it, then hands the
// connection to readLoop.
func (r *TCPRouter) handshake(conn net.Conn) {
	identityFrame, err := readFrame(conn)
	if err != nil {
		r.log.Warnf("transport: handshake failed: %v", err)
		conn.Close()
		return
	}
	identity := string(identityFrame)

	ic := &identConn{conn: conn}
	r.mu.Lock()
	r.conns[identity] = ic
	r.mu.Unlock()

	r.emit(Event{Identity: identity, Type: EventConnected})
	r.readLoop(identity, ic)
}

func (r *TCPRouter) readLoop(identity string, ic *identConn) {
	defer r.dropConn(identity, ic)
	for {
		status, payload, err := readMessage(ic.conn)
		if err != nil {
			if err != io.EOF {
				r.log.Debugf("transport: read from %s failed: %v", identity, err)
			}
			return
		}
		msg := inboundMessage{identity: identity, status: status, payload: payload}
		select {
		case r.inbox <- msg:
		case <-r.done:
			return
		}
	}
}

func (r *TCPRouter) dropConn(identity string, ic *identConn) {
	ic.mu.Lock()
	ic.dead = true
	ic.mu.Unlock()
	ic.conn.Close()

	// The entry stays in conns, marked dead, so PeerState reports
	// PeerDisconnected for this identity rather than PeerUnknown.

	r.emit(Event{Identity: identity, Type: EventDisconnected})
}

func (r *TCPRouter) emit(ev Event) {
	select {
	case r.events <- ev:
	default:
		r.log.Warnf("transport: event stream full, dropping %v for %s", ev.Type, ev.Identity)
	}
}

// Send implements DuplexTransport.
func (r *TCPRouter) Send(identity string, status string, payload []byte) error {
	r.mu.RLock()
	ic, ok := r.conns[identity]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("transport: unknown peer %s", identity)
	}

	ic.mu.Lock()
	defer ic.mu.Unlock()
	if ic.dead {
		return fmt.Errorf("transport: peer %s is disconnected", identity)
	}
	if err := writeMessage(ic.conn, status, payload); err != nil {
		ic.dead = true
		go r.dropConn(identity, ic)
		return err
	}
	return nil
}

// Recv implements DuplexTransport.
func (r *TCPRouter) Recv(pollInterval time.Duration) (string, string, []byte, bool) {
	select {
	case msg := <-r.inbox:
		return msg.identity, msg.status, msg.payload, true
	case <-time.After(pollInterval):
		return "", "", nil, false
	case <-r.done:
		return "", "", nil, false
	}
}

// PeerState implements DuplexTransport.
func (r *TCPRouter) PeerState(identity string) PeerState {
	r.mu.RLock()
	ic, ok := r.conns[identity]
	r.mu.RUnlock()
	if !ok {
		return PeerUnknown
	}
	ic.mu.Lock()
	defer ic.mu.Unlock()
	if ic.dead {
		return PeerDisconnected
	}
	return PeerConnected
}

// Events implements DuplexTransport.
func (r *TCPRouter) Events() <-chan Event { return r.events }

// Addr returns the listener's bound address, useful when binding to port 0
// in tests.
func (r *TCPRouter) Addr() string { return r.listener.Addr().String() }

// Close implements DuplexTransport.
func (r *TCPRouter) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
		r.listener.Close()
		r.mu.Lock()
		for identity, ic := range r.conns {
			ic.conn.Close()
			delete(r.conns, identity)
		}
		r.mu.Unlock()
	})
	return nil
}

// TCPDealer is the connect-side DuplexTransport: a single outbound
// connection identified to its peer router by localIdentity, set once at
// dial time (the Go analog of setting a ZMQ DEALER socket's IDENTITY
// option before connect).
type TCPDealer struct {
	conn          net.Conn
	localIdentity string
	peerIdentity  string
	log           nlog.Logger

	writeMu sync.Mutex

	stateMu sync.Mutex
	state   PeerState

	inbox  chan inboundMessage
	events chan Event

	closeOnce sync.Once
	done      chan struct{}
}

// ConnectTCP dials addr, announces localIdentity, and begins reading.
// peerIdentity names the single remote peer for Recv's identity field
// (e.g. "server").
func ConnectTCP(addr, localIdentity, peerIdentity string, log nlog.Logger) (*TCPDealer, error) {
	if log == nil {
		log = newBootstrapLogger()
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: connect %s: %w", addr, err)
	}
	if err := writeFrame(conn, []byte(localIdentity)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: identity announce to %s: %w", addr, err)
	}

	d := &TCPDealer{
		conn:          conn,
		localIdentity: localIdentity,
		peerIdentity:  peerIdentity,
		log:           log,
		state:         PeerConnected,
		inbox:         make(chan inboundMessage, 128),
		events:        make(chan Event, 16),
		done:          make(chan struct{}),
	}
	d.emit(Event{Identity: peerIdentity, Type: EventHandshakeSucceeded})
	go d.readLoop()
	return d, nil
}

func (d *TCPDealer) readLoop() {
	for {
		status, payload, err := readMessage(d.conn)
		if err != nil {
			d.markDisconnected()
			return
		}
		msg := inboundMessage{identity: d.peerIdentity, status: status, payload: payload}
		select {
		case d.inbox <- msg:
		case <-d.done:
			return
		}
	}
}

func (d *TCPDealer) markDisconnected() {
	d.stateMu.Lock()
	already := d.state == PeerDisconnected
	d.state = PeerDisconnected
	d.stateMu.Unlock()
	if !already {
		d.emit(Event{Identity: d.peerIdentity, Type: EventDisconnected})
	}
}

func (d *TCPDealer) emit(ev Event) {
	select {
	case d.events <- ev:
	default:
		d.log.Warnf("transport: event stream full, dropping %v", ev.Type)
	}
}

// Send implements DuplexTransport. identity is ignored: a dealer has
// exactly one peer.
func (d *TCPDealer) Send(_ string, status string, payload []byte) error {
	d.stateMu.Lock()
	disconnected := d.state == PeerDisconnected
	d.stateMu.Unlock()
	if disconnected {
		return fmt.Errorf("transport: peer %s is disconnected", d.peerIdentity)
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if err := writeMessage(d.conn, status, payload); err != nil {
		d.markDisconnected()
		return err
	}
	return nil
}

// Recv implements DuplexTransport.
func (d *TCPDealer) Recv(pollInterval time.Duration) (string, string, []byte, bool) {
	select {
	case msg := <-d.inbox:
		return msg.identity, msg.status, msg.payload, true
	case <-time.After(pollInterval):
		return "", "", nil, false
	case <-d.done:
		return "", "", nil, false
	}
}

// PeerState implements DuplexTransport.
func (d *TCPDealer) PeerState(_ string) PeerState {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.state
}

// Events implements DuplexTransport.
func (d *TCPDealer) Events() <-chan Event { return d.events }

// Close implements DuplexTransport.
func (d *TCPDealer) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.done)
		err = d.conn.Close()
	})
	return err
}
