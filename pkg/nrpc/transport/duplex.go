// Package transport implements the duplex, identity-addressed message
// channel the endpoint layer is built on (spec.md §4.1). Two independent
// instances make up one endpoint pair: a forward channel and a reverse
// channel, each bound by the server and connected to by every client.
package transport

import "time"

// PeerState is the answer to a peer-state probe: {connected, disconnected,
// unknown}.
type PeerState int

const (
	PeerUnknown PeerState = iota
	PeerConnected
	PeerDisconnected
)

func (s PeerState) String() string {
	switch s {
	case PeerConnected:
		return "connected"
	case PeerDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// EventType enumerates the lifecycle notifications a DuplexTransport emits
// on its Events() stream.
type EventType int

const (
	EventConnected EventType = iota
	EventHandshakeSucceeded
	EventDisconnected
)

// Event is one lifecycle notification, identifying the peer it concerns.
type Event struct {
	Identity string
	Type     EventType
}

// DuplexTransport is the channel abstraction both ServerEndpoint and
// ClientEndpoint are built against. A bind-side implementation addresses
// many peers by identity; a connect-side implementation has exactly one
// peer and ignores the identity argument to Send.
//
// Modeled on a ZMQ ROUTER/DEALER pair: the bind side auto-learns each
// peer's identity the moment its connection announces itself, then
// addresses sends by that identity; the connect side carries one fixed
// local identity set at construction time.
type DuplexTransport interface {
	// Send addresses identity (ignored on the connect side, which has a
	// single peer) with a status verb/method name and a payload.
	Send(identity string, status string, payload []byte) error

	// Recv returns the next message within pollInterval, or ok=false if
	// none arrived (spec.md §4.1: non-blocking receive bounded by the
	// channel's poll interval).
	Recv(pollInterval time.Duration) (identity string, status string, payload []byte, ok bool)

	// PeerState probes the liveness of identity.
	PeerState(identity string) PeerState

	// Events streams connect/handshake/disconnect notifications.
	Events() <-chan Event

	// Close tears the channel down. Idempotent.
	Close() error
}
