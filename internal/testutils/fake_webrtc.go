package testutils

import (
	"errors"
	"sync"

	"screenlink/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
)

const (
	OfferSDP  = "v=0\r\no=- 1 1 IN IP4 127.0.0.1\r\ns=offer\r\nt=0 0\r\n"
	AnswerSDP = "v=0\r\no=- 2 1 IN IP4 127.0.0.1\r\ns=answer\r\nt=0 0\r\n"
)

// FakePeerConnection records what a session does to it. Connection state
// changes are driven by the test through SetState.
type FakePeerConnection struct {
	mu sync.Mutex

	Tracks          []webrtc.TrackLocal
	LocalDesc       *webrtc.SessionDescription
	RemoteDesc      *webrtc.SessionDescription
	AddedCandidates []webrtc.ICECandidateInit
	RTCP            []rtcp.Packet
	Stats           webrtc.StatsReport
	SetRemoteErr    error
	CreateOfferErr  error
	closed          bool
	closeCount      int
	onCandidate     func(*webrtc.ICECandidate)
	onState         func(webrtc.PeerConnectionState)
	onTrack         func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

func (f *FakePeerConnection) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Tracks = append(f.Tracks, track)
	return nil, nil
}

func (f *FakePeerConnection) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateOfferErr != nil {
		return webrtc.SessionDescription{}, f.CreateOfferErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: OfferSDP}, nil
}

func (f *FakePeerConnection) CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: AnswerSDP}, nil
}

func (f *FakePeerConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LocalDesc = &desc
	return nil
}

func (f *FakePeerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetRemoteErr != nil {
		return f.SetRemoteErr
	}
	f.RemoteDesc = &desc
	return nil
}

func (f *FakePeerConnection) LocalDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.LocalDesc
}

func (f *FakePeerConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RemoteDesc == nil {
		return errors.New("remote description not set")
	}
	f.AddedCandidates = append(f.AddedCandidates, candidate)
	return nil
}

func (f *FakePeerConnection) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCandidate = fn
}

func (f *FakePeerConnection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = fn
}

func (f *FakePeerConnection) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTrack = fn
}

func (f *FakePeerConnection) WriteRTCP(pkts []rtcp.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RTCP = append(f.RTCP, pkts...)
	return nil
}

func (f *FakePeerConnection) GetStats() webrtc.StatsReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Stats
}

func (f *FakePeerConnection) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeCount++
	return nil
}

// SetState fires the connection state handler as pion would.
func (f *FakePeerConnection) SetState(state webrtc.PeerConnectionState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

// GatherCandidate fires the local candidate handler.
func (f *FakePeerConnection) GatherCandidate(c *webrtc.ICECandidate) {
	f.mu.Lock()
	fn := f.onCandidate
	f.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func (f *FakePeerConnection) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakePeerConnection) CloseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCount
}

func (f *FakePeerConnection) Candidates() []webrtc.ICECandidateInit {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(f.AddedCandidates))
	copy(out, f.AddedCandidates)
	return out
}

func (f *FakePeerConnection) HasRemoteDescription() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.RemoteDesc != nil
}

// FakeFactory hands out FakePeerConnections and remembers them.
type FakeFactory struct {
	mu  sync.Mutex
	Err error

	// Prepare, if set, configures each connection before it is returned.
	Prepare func(*FakePeerConnection)
	created []*FakePeerConnection
}

func (f *FakeFactory) NewPeerConnection() (ports.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	pc := &FakePeerConnection{}
	if f.Prepare != nil {
		f.Prepare(pc)
	}
	f.created = append(f.created, pc)
	return pc, nil
}

// Last returns the most recent connection, or nil.
func (f *FakeFactory) Last() *FakePeerConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

func (f *FakeFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}
