package ports

import (
	"context"

	"screenlink/internal/core/domain"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
)

// CaptureStream is a live capture handle. Stop is idempotent.
type CaptureStream interface {
	Tracks() []webrtc.TrackLocal
	Profile() domain.CaptureProfile
	Active() bool
	Stop()
}

// CaptureSource obtains the host's screen surface.
type CaptureSource interface {
	Acquire(ctx context.Context, profile domain.CaptureProfile) (CaptureStream, error)
	// Release stops every track of stream. A nil stream is a no-op.
	Release(stream CaptureStream)
}

// SignalingClient exchanges session descriptions and ICE candidates between
// the two endpoints of a pairing. Every failure wraps ErrSessionNotFound,
// ErrSignalingTimeout or ErrSignalingTransport.
type SignalingClient interface {
	CreateSession(ctx context.Context, code domain.AccessCode) error
	AwaitViewer(ctx context.Context) error
	CreateOffer(ctx context.Context, code domain.AccessCode, offer webrtc.SessionDescription) (domain.OfferID, error)
	AwaitAnswer(ctx context.Context, offerID domain.OfferID) (webrtc.SessionDescription, error)
	JoinByCode(ctx context.Context, code domain.AccessCode) (webrtc.SessionDescription, error)
	SendAnswer(ctx context.Context, answer webrtc.SessionDescription) error
	SendCandidate(ctx context.Context, candidate webrtc.ICECandidateInit) error
	Candidates() <-chan webrtc.ICECandidateInit
	// Done is closed when the relay ends the session or the channel drops.
	Done() <-chan struct{}
	Close() error
}

// SignalingFactory builds a fresh client per session attempt.
type SignalingFactory func(ctx context.Context, role domain.Role) (SignalingClient, error)

// PeerConnection is the subset of *webrtc.PeerConnection a session drives.
type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	WriteRTCP(pkts []rtcp.Packet) error
	GetStats() webrtc.StatsReport
	Close() error
}

type PeerConnectionFactory interface {
	NewPeerConnection() (PeerConnection, error)
}

// PeerStateListener observes peer session transitions. err is set when to
// is PeerError.
type PeerStateListener func(from, to domain.PeerState, err error)

// PeerSession negotiates and owns one peer connection for a session role.
type PeerSession interface {
	StartHost(ctx context.Context, code domain.AccessCode, stream CaptureStream) error
	StartViewer(ctx context.Context, code domain.AccessCode, offer webrtc.SessionDescription) error
	State() domain.PeerState
	ConnectionInfo() domain.ConnectionInfo
	RemoteTracks() []*webrtc.TrackRemote
	OnStateChange(fn PeerStateListener)
	OnRemoteTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	WriteRTCP(pkts []rtcp.Packet) error
	Retry() error
	Close() error
}

// PeerSessionFactory builds a peer session bound to one signaling client.
type PeerSessionFactory func(role domain.Role, signaling SignalingClient) PeerSession

// Clipboard receives the host's access code on request.
type Clipboard interface {
	WriteText(text string) error
}
