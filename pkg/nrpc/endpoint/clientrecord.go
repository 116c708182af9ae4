package endpoint

import (
	"sync"
	"time"
)

// ClientState is one state of the ClientRecord state machine (spec.md
// §4.8): Pending -> Validated -> Lost. Lost is terminal.
type ClientState int

const (
	Pending ClientState = iota
	Validated
	Lost
)

func (s ClientState) String() string {
	switch s {
	case Validated:
		return "validated"
	case Lost:
		return "lost"
	default:
		return "pending"
	}
}

// ClientRecord is the server's bookkeeping for one accepted client. It is
// never removed from the server's client list once created; loss is
// sticky and is instead filtered out of active-client enumerations
// (spec.md §3).
type ClientRecord struct {
	ClientID        uint64
	ForwardIdentity string
	ReverseIdentity string
	ConnectTime     time.Time

	mu       sync.RWMutex
	metadata Metadata
	state    ClientState

	lostCh chan struct{}
}

func newClientRecord(id uint64, forwardIdentity string, metadata Metadata) *ClientRecord {
	return &ClientRecord{
		ClientID:        id,
		ForwardIdentity: forwardIdentity,
		ReverseIdentity: "rev:" + forwardIdentity,
		ConnectTime:     time.Now(),
		metadata:        metadata,
		state:           Pending,
		lostCh:          make(chan struct{}),
	}
}

// Metadata returns a copy of the client's current metadata.
func (c *ClientRecord) Metadata() Metadata {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metadata
}

func (c *ClientRecord) setMetadata(m Metadata) {
	c.mu.Lock()
	c.metadata = m
	c.mu.Unlock()
}

// State returns the current state.
func (c *ClientRecord) State() ClientState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsValidated reports whether both handshake directions completed.
func (c *ClientRecord) IsValidated() bool {
	return c.State() == Validated
}

// IsLost reports whether this client is terminally disconnected.
func (c *ClientRecord) IsLost() bool {
	return c.State() == Lost
}

// Lost returns a channel closed the moment this record transitions to
// Lost, letting a blocked RecvReverse wake up immediately instead of
// waiting out its poll timeout.
func (c *ClientRecord) Lost() <-chan struct{} {
	return c.lostCh
}

func (c *ClientRecord) markValidated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Pending {
		c.state = Validated
	}
}

func (c *ClientRecord) markLost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Lost {
		return false
	}
	c.state = Lost
	close(c.lostCh)
	return true
}
