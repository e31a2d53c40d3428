package domain

import "time"

// PeerState is a state of the peer-connection negotiation machine.
type PeerState int

const (
	PeerIdle PeerState = iota
	PeerInitializing
	PeerNegotiating
	PeerConnected
	PeerClosed
	PeerError
)

func (s PeerState) String() string {
	switch s {
	case PeerIdle:
		return "idle"
	case PeerInitializing:
		return "initializing"
	case PeerNegotiating:
		return "negotiating"
	case PeerConnected:
		return "connected"
	case PeerClosed:
		return "closed"
	case PeerError:
		return "error"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition is possible.
func (s PeerState) IsTerminal() bool {
	return s == PeerClosed
}

// peerTransitions lists the legal successors of every state. Negotiating
// never goes straight to Closed: the outcome is recorded first.
var peerTransitions = map[PeerState][]PeerState{
	PeerIdle:         {PeerInitializing, PeerError, PeerClosed},
	PeerInitializing: {PeerNegotiating, PeerError, PeerClosed},
	PeerNegotiating:  {PeerConnected, PeerError},
	PeerConnected:    {PeerError, PeerClosed},
	PeerError:        {PeerIdle, PeerClosed},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to PeerState) bool {
	for _, next := range peerTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type ConnectionType string

const (
	ConnectionDirect  ConnectionType = "direct"
	ConnectionRelay   ConnectionType = "relay"
	ConnectionUnknown ConnectionType = "unknown"
)

// ConnectionInfo describes an established peer connection.
type ConnectionInfo struct {
	Type        ConnectionType
	ConnectedAt time.Time
	Negotiation time.Duration
}
