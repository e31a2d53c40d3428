package testutils

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"screenlink/internal/core/domain"
	"screenlink/internal/core/ports"
	"screenlink/pkg/utils"

	"github.com/pion/webrtc/v3"
)

// FakeStream is a capture handle with no media behind it.
type FakeStream struct {
	profile domain.CaptureProfile
	stopped atomic.Int32
}

func (s *FakeStream) Tracks() []webrtc.TrackLocal {
	if !s.Active() {
		return nil
	}
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", "fake")
	if err != nil {
		return nil
	}
	return []webrtc.TrackLocal{track}
}

func (s *FakeStream) Profile() domain.CaptureProfile { return s.profile }
func (s *FakeStream) Active() bool                   { return s.stopped.Load() == 0 }
func (s *FakeStream) Stop()                          { s.stopped.Add(1) }

// FakeCaptureSource tracks acquisitions so tests can assert nothing leaks.
type FakeCaptureSource struct {
	Err   error
	Delay time.Duration

	mu      sync.Mutex
	streams []*FakeStream
}

func (f *FakeCaptureSource) Acquire(ctx context.Context, profile domain.CaptureProfile) (ports.CaptureStream, error) {
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}
	s := &FakeStream{profile: profile}
	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()
	return s, nil
}

func (f *FakeCaptureSource) Release(stream ports.CaptureStream) {
	if stream == nil {
		return
	}
	stream.Stop()
}

// ActiveStreams counts streams that were acquired and never stopped.
func (f *FakeCaptureSource) ActiveStreams() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.streams {
		if s.Active() {
			n++
		}
	}
	return n
}

func (f *FakeCaptureSource) Acquired() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

// FakeSignaling is a scripted SignalingClient. Host tests push viewers and
// answers into it, viewer tests preload the offer.
type FakeSignaling struct {
	CreateErr error
	JoinErr   error
	JoinDelay time.Duration
	Offer     webrtc.SessionDescription

	viewers    chan struct{}
	left       chan struct{}
	answers    chan webrtc.SessionDescription
	candidates chan webrtc.ICECandidateInit
	done       chan struct{}
	closeOnce  sync.Once

	mu         sync.Mutex
	offers     []webrtc.SessionDescription
	sentAnswer []webrtc.SessionDescription
	sentCands  []webrtc.ICECandidateInit
	closed     int
}

func NewFakeSignaling() *FakeSignaling {
	return &FakeSignaling{
		Offer:      webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: OfferSDP},
		viewers:    make(chan struct{}, 4),
		left:       make(chan struct{}, 4),
		answers:    make(chan webrtc.SessionDescription, 4),
		candidates: make(chan webrtc.ICECandidateInit, 16),
		done:       make(chan struct{}),
	}
}

// Factory returns the same client for every attempt.
func (f *FakeSignaling) Factory() ports.SignalingFactory {
	return func(ctx context.Context, role domain.Role) (ports.SignalingClient, error) {
		return f, nil
	}
}

func (f *FakeSignaling) ViewerJoins()                              { f.viewers <- struct{}{} }
func (f *FakeSignaling) Answer(desc webrtc.SessionDescription)     { f.answers <- desc }
func (f *FakeSignaling) RemoteCandidate(c webrtc.ICECandidateInit) { f.candidates <- c }

// ViewerLeaves abandons the pending offer, as the relay's viewer_left does.
func (f *FakeSignaling) ViewerLeaves() { f.left <- struct{}{} }

// EndSession simulates the relay ending the pairing.
func (f *FakeSignaling) EndSession() {
	f.closeOnce.Do(func() { close(f.done) })
}

func (f *FakeSignaling) CreateSession(ctx context.Context, code domain.AccessCode) error {
	return f.CreateErr
}

func (f *FakeSignaling) AwaitViewer(ctx context.Context) error {
	select {
	case <-f.viewers:
		return nil
	case <-f.done:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *FakeSignaling) CreateOffer(ctx context.Context, code domain.AccessCode, offer webrtc.SessionDescription) (domain.OfferID, error) {
	f.mu.Lock()
	f.offers = append(f.offers, offer)
	f.mu.Unlock()
	return domain.OfferID(utils.GenerateOfferID()), nil
}

func (f *FakeSignaling) AwaitAnswer(ctx context.Context, offerID domain.OfferID) (webrtc.SessionDescription, error) {
	select {
	case a := <-f.answers:
		return a, nil
	case <-f.left:
		return webrtc.SessionDescription{}, domain.ErrViewerLeft
	case <-f.done:
		return webrtc.SessionDescription{}, domain.ErrSessionClosed
	case <-ctx.Done():
		return webrtc.SessionDescription{}, domain.ErrSignalingTimeout
	}
}

func (f *FakeSignaling) JoinByCode(ctx context.Context, code domain.AccessCode) (webrtc.SessionDescription, error) {
	if f.JoinDelay > 0 {
		select {
		case <-time.After(f.JoinDelay):
		case <-ctx.Done():
			return webrtc.SessionDescription{}, ctx.Err()
		}
	}
	if f.JoinErr != nil {
		return webrtc.SessionDescription{}, f.JoinErr
	}
	return f.Offer, nil
}

func (f *FakeSignaling) SendAnswer(ctx context.Context, answer webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentAnswer = append(f.sentAnswer, answer)
	return nil
}

func (f *FakeSignaling) SendCandidate(ctx context.Context, candidate webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentCands = append(f.sentCands, candidate)
	return nil
}

func (f *FakeSignaling) Candidates() <-chan webrtc.ICECandidateInit { return f.candidates }
func (f *FakeSignaling) Done() <-chan struct{}                      { return f.done }

func (f *FakeSignaling) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *FakeSignaling) Offers() []webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), f.offers...)
}

func (f *FakeSignaling) Answers() []webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), f.sentAnswer...)
}

func (f *FakeSignaling) SentCandidates() []webrtc.ICECandidateInit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), f.sentCands...)
}

func (f *FakeSignaling) CloseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
