// Package endpoint implements the two endpoint roles of spec.md §4.2-§4.3:
// ServerEndpoint (binds forward/reverse channels, tracks clients) and
// ClientEndpoint (connects to a server, registers, serves reverse calls).
package endpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/jabolina/go-nrpc/pkg/nrpc/nlog"
	"github.com/jabolina/go-nrpc/pkg/nrpc/transport"
)

const (
	msgAddClient       = "ServerMessage.AddClient"
	msgClientAdded     = "ServerMessage.ClientAdded"
	msgValidateClient  = "ServerMessage.ValidateClient"
	msgClientValidated = "ServerMessage.ClientValidated"
	msgForwardCall     = "ServerMessage.ForwardCall"

	defaultPollInterval = 100 * time.Millisecond
)

// ForwardMessage is one inbound message on the forward channel, handed to
// the routing layer by RecvForward.
type ForwardMessage struct {
	ClientID uint64
	Status   string
	Payload  []byte
}

type clientAddedPayload struct {
	ClientID           uint64   `json:"client_id"`
	ClientSignature    string   `json:"client_signature"`
	ClientSignatureRev string   `json:"client_signature_rev"`
	ClientMetadata     Metadata `json:"client_metadata"`
	ServerMetadata     Metadata `json:"server_metadata"`
}

type reverseFrame struct {
	status  string
	payload []byte
}

// ServerEndpoint binds the forward and reverse channels and tracks the set
// of connected clients (spec.md §4.2).
type ServerEndpoint struct {
	identity string
	forward  transport.DuplexTransport
	reverse  transport.DuplexTransport
	log      nlog.Logger

	mu        sync.RWMutex
	metadata  Metadata
	clients   map[uint64]*ClientRecord
	byForward map[string]uint64
	byReverse map[string]uint64
	nextID    uint64

	reverseInbox  map[uint64]chan reverseFrame
	validateWait  map[string]chan struct{}
	forwardInbox  chan ForwardMessage
	requestLock   sync.Mutex
	pollInterval  time.Duration

	alive int32
	done  chan struct{}
	wg    sync.WaitGroup
}

// Bind starts a ServerEndpoint listening on ip:port (forward) and
// ip:port+10000 (reverse). log may be nil, in which case nlog.NewDefault()
// is used unless overridden by WithLogger; opts also accepts
// WithPollInterval, WithIdentity, and WithEntryFile (defaulting entry_file
// to identity). Host metadata is the machine's own hostname, not identity.
func Bind(ip string, port int, identity string, log nlog.Logger, opts ...Option) (*ServerEndpoint, error) {
	cfg := resolveConfig(log, identity, opts)
	log = cfg.Logger
	identity = cfg.Identity

	forwardAddr := fmt.Sprintf("%s:%d", ip, port)
	reverseAddr := fmt.Sprintf("%s:%d", ip, port+10000)

	fwd, err := transport.BindTCP(forwardAddr, log)
	if err != nil {
		return nil, err
	}
	rev, err := transport.BindTCP(reverseAddr, log)
	if err != nil {
		fwd.Close()
		return nil, err
	}

	host, err := os.Hostname()
	if err != nil {
		log.Warnf("endpoint: hostname lookup failed, falling back to identity: %v", err)
		host = identity
	}

	s := &ServerEndpoint{
		identity:     identity,
		forward:      fwd,
		reverse:      rev,
		log:          log,
		pollInterval: cfg.PollInterval,
		clients:      map[uint64]*ClientRecord{},
		byForward:    map[string]uint64{},
		byReverse:    map[string]uint64{},
		reverseInbox: map[uint64]chan reverseFrame{},
		validateWait: map[string]chan struct{}{},
		forwardInbox: make(chan ForwardMessage, 256),
		metadata: Metadata{
			Host:        host,
			EntryFile:   cfg.EntryFile,
			IPAddress:   ip,
			MainPort:    port,
			MainPortRev: port + 10000,
			StartTime:   time.Now().UTC().Format(time.RFC3339),
		},
		done: make(chan struct{}),
	}
	atomic.StoreInt32(&s.alive, 1)

	s.wg.Add(4)
	go s.forwardReadLoop()
	go s.reverseReadLoop()
	go s.watchEvents(fwd, true)
	go s.watchEvents(rev, false)

	return s, nil
}

// Identity returns the server's own wire identity.
func (s *ServerEndpoint) Identity() string { return s.identity }

// AddMetadata attaches an extra key/value pair to the server's metadata.
func (s *ServerEndpoint) AddMetadata(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata.Set(key, value)
}

// Metadata returns a copy of the server's metadata.
func (s *ServerEndpoint) Metadata() Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metadata
}

// ClientIDs returns validated, non-lost client ids in ascending order
// (spec.md §4.2, §4.8).
func (s *ServerEndpoint) ClientIDs() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uint64
	for id, c := range s.clients {
		if c.IsValidated() && !c.IsLost() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AllClients returns every client record ever created, including lost
// ones, for diagnostics (GetAppInfo's full client list).
func (s *ServerEndpoint) AllClients() []*ClientRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ClientRecord, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

// ClientInfo looks up one client record by id.
func (s *ServerEndpoint) ClientInfo(clientID uint64) (*ClientRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	return c, ok
}

// WaitForChange blocks (bounded polling, ≤100ms per tick) until
// ClientIDs() differs from expected or timeout elapses, returning true on
// change.
func (s *ServerEndpoint) WaitForChange(timeout time.Duration, expected []uint64) bool {
	deadline := time.Now().Add(timeout)
	baseline := idSet(expected)
	for {
		if !idSet(s.ClientIDs()).equal(baseline) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// Update performs a peer-state sweep over every tracked client, marking
// lost any whose forward or reverse peer is reported disconnected
// (spec.md §4.2 "Loss detection").
func (s *ServerEndpoint) Update() {
	for _, c := range s.AllClients() {
		if c.IsLost() {
			continue
		}
		if s.forward.PeerState(c.ForwardIdentity) == transport.PeerDisconnected ||
			s.reverse.PeerState(c.ReverseIdentity) == transport.PeerDisconnected {
			s.markClientLost(c)
		}
	}
}

// RecvForward returns the next inbound forward-channel message, or
// ok=false if none arrived within pollInterval.
func (s *ServerEndpoint) RecvForward(pollInterval time.Duration) (ForwardMessage, bool) {
	select {
	case msg := <-s.forwardInbox:
		return msg, true
	case <-time.After(pollInterval):
		return ForwardMessage{}, false
	case <-s.done:
		return ForwardMessage{}, false
	}
}

// SendForwardResponse replies to clientID on the forward channel. A no-op
// for a lost client (spec.md testable property 7, generalized to both
// channels).
func (s *ServerEndpoint) SendForwardResponse(clientID uint64, status string, payload []byte) error {
	c, ok := s.ClientInfo(clientID)
	if !ok || c.IsLost() {
		return nil
	}
	return s.forward.Send(c.ForwardIdentity, status, payload)
}

// SendReverseRequest sends a server-initiated call to clientID. A no-op
// for a lost client.
func (s *ServerEndpoint) SendReverseRequest(clientID uint64, status string, payload []byte) error {
	c, ok := s.ClientInfo(clientID)
	if !ok || c.IsLost() {
		return nil
	}
	return s.reverse.Send(c.ReverseIdentity, status, payload)
}

// RecvReverse blocks up to timeout for a reverse-channel reply from
// clientID, returning ok=false on timeout or if the client is or becomes
// lost meanwhile.
func (s *ServerEndpoint) RecvReverse(clientID uint64, timeout time.Duration) (status string, payload []byte, ok bool) {
	c, found := s.ClientInfo(clientID)
	if !found || c.IsLost() {
		return "", nil, false
	}
	ch := s.reverseChanFor(clientID)

	select {
	case frame, chOk := <-ch:
		if !chOk {
			return "", nil, false
		}
		return frame.status, frame.payload, true
	case <-c.Lost():
		return "", nil, false
	case <-time.After(timeout):
		return "", nil, false
	case <-s.done:
		return "", nil, false
	}
}

// LockReverse acquires the request lock serializing
// SendReverseRequest+RecvReverse pairs across all clients (spec.md §4.2
// "a request lock serializes interleaved send_reverse_request +
// recv_reverse pairs"). See DESIGN.md for the per-client-lock redesign
// this intentionally does not implement.
func (s *ServerEndpoint) LockReverse()   { s.requestLock.Lock() }
func (s *ServerEndpoint) UnlockReverse() { s.requestLock.Unlock() }

// Close shuts the endpoint down. Idempotent.
func (s *ServerEndpoint) Close() error {
	if !atomic.CompareAndSwapInt32(&s.alive, 1, 0) {
		return nil
	}
	close(s.done)
	s.forward.Close()
	s.reverse.Close()
	s.wg.Wait()
	return nil
}

func (s *ServerEndpoint) isAlive() bool { return atomic.LoadInt32(&s.alive) == 1 }

func (s *ServerEndpoint) reverseChanFor(clientID uint64) chan reverseFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.reverseInbox[clientID]
	if !ok {
		ch = make(chan reverseFrame, 1)
		s.reverseInbox[clientID] = ch
	}
	return ch
}

func (s *ServerEndpoint) forwardReadLoop() {
	defer s.wg.Done()
	for s.isAlive() {
		identity, status, payload, ok := s.forward.Recv(s.pollInterval)
		if !ok {
			continue
		}
		if status == msgAddClient {
			go s.processAddClient(identity, payload)
			continue
		}
		s.mu.RLock()
		clientID, known := s.byForward[identity]
		s.mu.RUnlock()
		if !known {
			s.log.Warnf("transport: dropping forward message from unregistered identity %s", identity)
			continue
		}
		msg := ForwardMessage{ClientID: clientID, Status: status, Payload: payload}
		select {
		case s.forwardInbox <- msg:
		case <-s.done:
			return
		}
	}
}

func (s *ServerEndpoint) reverseReadLoop() {
	defer s.wg.Done()
	for s.isAlive() {
		identity, status, payload, ok := s.reverse.Recv(s.pollInterval)
		if !ok {
			continue
		}
		if status == msgClientValidated {
			s.mu.RLock()
			notify, waiting := s.validateWait[identity]
			s.mu.RUnlock()
			if waiting {
				select {
				case notify <- struct{}{}:
				default:
				}
			}
			continue
		}
		s.mu.RLock()
		clientID, known := s.byReverse[identity]
		s.mu.RUnlock()
		if !known {
			continue
		}
		ch := s.reverseChanFor(clientID)
		select {
		case ch <- reverseFrame{status: status, payload: payload}:
		case <-s.done:
			return
		}
	}
}

func (s *ServerEndpoint) watchEvents(t transport.DuplexTransport, isForward bool) {
	defer s.wg.Done()
	for {
		select {
		case ev, ok := <-t.Events():
			if !ok {
				return
			}
			if ev.Type != transport.EventDisconnected {
				continue
			}
			s.mu.RLock()
			var clientID uint64
			var known bool
			if isForward {
				clientID, known = s.byForward[ev.Identity]
			} else {
				clientID, known = s.byReverse[ev.Identity]
			}
			c := s.clients[clientID]
			s.mu.RUnlock()
			if known && c != nil {
				s.markClientLost(c)
			}
		case <-s.done:
			return
		}
	}
}

func (s *ServerEndpoint) markClientLost(c *ClientRecord) {
	if c.markLost() {
		nlog.Lost(s.log, c.ClientID)
	}
}

// processAddClient runs the client-registration protocol for one newly
// announced forward identity (spec.md §4.2 steps 2-4). Run in its own
// goroutine so the synchronous reverse-validation wait never blocks the
// forward read loop.
func (s *ServerEndpoint) processAddClient(identity string, payload []byte) {
	var clientMeta Metadata
	if err := json.Unmarshal(payload, &clientMeta); err != nil {
		s.log.Warnf("endpoint: malformed AddClient payload from %s: %v", identity, err)
		return
	}

	s.mu.Lock()
	if _, exists := s.byForward[identity]; exists {
		s.mu.Unlock()
		return
	}
	s.nextID++
	id := s.nextID
	record := newClientRecord(id, identity, clientMeta)
	s.clients[id] = record
	s.byForward[identity] = id
	s.byReverse[record.ReverseIdentity] = id
	notify := make(chan struct{}, 1)
	s.validateWait[record.ReverseIdentity] = notify
	serverMeta := s.metadata
	s.mu.Unlock()

	nlog.Connected(s.log, id)

	added := clientAddedPayload{
		ClientID:           id,
		ClientSignature:    record.ForwardIdentity,
		ClientSignatureRev: record.ReverseIdentity,
		ClientMetadata:     clientMeta,
		ServerMetadata:     serverMeta,
	}
	data, err := json.Marshal(added)
	if err != nil {
		s.log.Errorf("endpoint: marshal ClientAdded: %v", err)
		return
	}
	if err := s.forward.Send(identity, msgClientAdded, data); err != nil {
		s.log.Warnf("endpoint: send ClientAdded to %s: %v", identity, err)
		return
	}

	if err := s.reverse.Send(record.ReverseIdentity, msgValidateClient, data); err != nil {
		s.log.Warnf("endpoint: send ValidateClient to %s: %v", record.ReverseIdentity, err)
		return
	}

	for {
		select {
		case <-notify:
			record.markValidated()
			nlog.Validated(s.log, id)
			return
		case <-record.Lost():
			return
		case <-s.done:
			return
		case <-time.After(s.pollInterval):
			if record.IsLost() {
				return
			}
		}
	}
}

type idSetType map[uint64]struct{}

func idSet(ids []uint64) idSetType {
	m := make(idSetType, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func (a idSetType) equal(b idSetType) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}

// newIdentity generates a fresh opaque identity, used by
// ClientEndpoint to pick its forward identity before the server has
// assigned it a client_id.
func newIdentity() string {
	return uuid.NewV4().String()
}
