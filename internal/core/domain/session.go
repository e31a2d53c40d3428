package domain

import (
	"time"
)

type AccessCode string
type OfferID string
type PeerID string

// Role identifies which side of a pairing a session object plays.
type Role string

const (
	RoleHost   Role = "host"
	RoleViewer Role = "viewer"
)

// SessionStatus is the externally observable state of one session attempt.
type SessionStatus string

const (
	StatusIdle       SessionStatus = "idle"
	StatusConnecting SessionStatus = "connecting"
	StatusConnected  SessionStatus = "connected"
	StatusError      SessionStatus = "error"
)

// StatusSnapshot is what the presentation layer observes for a role.
// Message is only set while Status is StatusError.
type StatusSnapshot struct {
	Role    Role
	Status  SessionStatus
	Message string
	Code    AccessCode
	At      time.Time
}

func (s StatusSnapshot) IsError() bool {
	return s.Status == StatusError
}
