package signal

import (
	"screenlink/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

type MessageType string

const (
	// client -> relay
	TypeCreateSession MessageType = "create_session"
	TypeJoinSession   MessageType = "join_session"
	TypeLeave         MessageType = "leave"

	// relay -> client
	TypeSessionCreated MessageType = "session_created"
	TypeSessionJoined  MessageType = "session_joined"
	TypeViewerJoined   MessageType = "viewer_joined"
	TypeViewerLeft     MessageType = "viewer_left"
	TypeSessionEnded   MessageType = "session_ended"
	TypeNotFound       MessageType = "not_found"
	TypeError          MessageType = "error"

	// relayed between peers
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "ice_candidate"
)

// Reasons carried by not_found and error replies.
const (
	ReasonUnknownCode  = "unknown code"
	ReasonSessionEnded = "session ended"
	ReasonBusy         = "session busy"
	ReasonHostLeft     = "host left"
	ReasonInvalid      = "invalid message"
	ReasonNoPeer       = "peer not connected"
	ReasonRateLimited  = "rate limited"
)

// Message is the JSON envelope exchanged over the relay.
type Message struct {
	Type      MessageType              `json:"type"`
	Code      domain.AccessCode        `json:"code,omitempty"`
	OfferID   domain.OfferID           `json:"offer_id,omitempty"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Reason    string                   `json:"reason,omitempty"`
}

func errorMessage(reason string) Message {
	return Message{Type: TypeError, Reason: reason}
}
