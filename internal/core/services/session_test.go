package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"screenlink/internal/core/domain"
	"screenlink/internal/core/ports"
	"screenlink/internal/infrastructure/signal"
	peerconn "screenlink/internal/infrastructure/webrtc"
	"screenlink/internal/testutils"
	"screenlink/pkg/accesscode"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type clipboard struct {
	mu   sync.Mutex
	text string
	err  error
}

func (c *clipboard) WriteText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.text = text
	return nil
}

type statusCounter struct {
	mu     sync.Mutex
	counts map[domain.SessionStatus]int
}

func (s *statusCounter) SessionStatusChanged(role domain.Role, status domain.SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = make(map[domain.SessionStatus]int)
	}
	s.counts[status]++
}

func drain(ch <-chan domain.StatusSnapshot) []domain.SessionStatus {
	var out []domain.SessionStatus
	for {
		select {
		case snap := <-ch:
			out = append(out, snap.Status)
		default:
			return out
		}
	}
}

func peersFor(t *testing.T, factory *testutils.FakeFactory) ports.PeerSessionFactory {
	return peerconn.SessionFactory(factory, peerconn.SessionConfig{NegotiationTimeout: 5 * time.Second}, nil, zaptest.NewLogger(t).Sugar())
}

func TestHostSession_StartSharing(t *testing.T) {
	capture := &testutils.FakeCaptureSource{}
	host := NewHostSession(HostDeps{Capture: capture, Logger: zaptest.NewLogger(t).Sugar()})
	updates, cancel := host.board.Subscribe()
	defer cancel()

	code, err := host.StartSharing(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(code), accesscode.MinLength)
	assert.LessOrEqual(t, len(code), accesscode.MaxLength)
	assert.Equal(t, code, host.Code())

	snap := host.Snapshot()
	assert.Equal(t, domain.StatusConnected, snap.Status)
	assert.Empty(t, snap.Message)
	assert.Equal(t, code, snap.Code)
	assert.Equal(t, []domain.SessionStatus{domain.StatusConnected}, drain(updates), "exactly one transition idle -> connected")
	assert.Equal(t, 1, capture.ActiveStreams())
}

func TestHostSession_CaptureDenied(t *testing.T) {
	capture := &testutils.FakeCaptureSource{Err: domain.ErrCaptureDenied}
	host := NewHostSession(HostDeps{Capture: capture, Logger: zaptest.NewLogger(t).Sugar()})
	updates, cancel := host.board.Subscribe()
	defer cancel()

	_, err := host.StartSharing(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCaptureDenied)
	assert.Equal(t, domain.KindCapture, domain.KindOf(err))

	snap := host.Snapshot()
	assert.Equal(t, domain.StatusError, snap.Status)
	assert.Equal(t, "Failed to access screen share. Please try again.", snap.Message)
	assert.Empty(t, host.Code())
	assert.Equal(t, []domain.SessionStatus{domain.StatusError}, drain(updates))

	// the error is recoverable by starting again
	capture.Err = nil
	_, err = host.StartSharing(context.Background())
	assert.NoError(t, err)
}

func TestHostSession_StopIsIdempotent(t *testing.T) {
	capture := &testutils.FakeCaptureSource{}
	host := NewHostSession(HostDeps{Capture: capture, Logger: zaptest.NewLogger(t).Sugar()})
	_, err := host.StartSharing(context.Background())
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		host.StopSharing()
		host.StopSharing()
	})
	assert.Equal(t, domain.StatusIdle, host.Snapshot().Status)
	assert.Zero(t, capture.ActiveStreams())
	assert.Empty(t, host.Code())
}

func TestHostSession_BusyGuard(t *testing.T) {
	capture := &testutils.FakeCaptureSource{}
	host := NewHostSession(HostDeps{Capture: capture, Logger: zaptest.NewLogger(t).Sugar()})
	code, err := host.StartSharing(context.Background())
	require.NoError(t, err)

	_, err = host.StartSharing(context.Background())
	assert.ErrorIs(t, err, domain.ErrSessionBusy)
	assert.Equal(t, code, host.Code())
	assert.Equal(t, 1, capture.Acquired())
}

func TestHostSession_StopDuringAcquire(t *testing.T) {
	capture := &testutils.FakeCaptureSource{Delay: time.Second}
	host := NewHostSession(HostDeps{Capture: capture, Logger: zaptest.NewLogger(t).Sugar()})

	errCh := make(chan error, 1)
	go func() {
		_, err := host.StartSharing(context.Background())
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	host.StopSharing()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, domain.ErrSessionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("start did not observe the stop")
	}
	assert.Equal(t, domain.StatusIdle, host.Snapshot().Status)
	assert.Zero(t, capture.ActiveStreams())
}

func TestHostSession_StopMidNegotiationReleasesEverything(t *testing.T) {
	capture := &testutils.FakeCaptureSource{}
	sig := testutils.NewFakeSignaling()
	factory := &testutils.FakeFactory{}
	host := NewHostSession(HostDeps{
		Capture:   capture,
		Signaling: sig.Factory(),
		Peers:     peersFor(t, factory),
		Logger:    zaptest.NewLogger(t).Sugar(),
	})

	_, err := host.StartSharing(context.Background())
	require.NoError(t, err)
	sig.ViewerJoins()

	require.Eventually(t, func() bool {
		peer := host.Peer()
		return peer != nil && peer.State() == domain.PeerNegotiating && len(sig.Offers()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	peer := host.Peer()
	pc := factory.Last()

	host.StopSharing()

	assert.Zero(t, capture.ActiveStreams())
	assert.True(t, pc.Closed())
	assert.Equal(t, domain.PeerClosed, peer.State())
	assert.Equal(t, 1, sig.CloseCount())
	assert.Equal(t, domain.StatusIdle, host.Snapshot().Status)

	// a late answer and connection event do not bring anything back
	sig.Answer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: testutils.AnswerSDP})
	pc.SetState(webrtc.PeerConnectionStateConnected)
	assert.Equal(t, domain.PeerClosed, peer.State())
	assert.Equal(t, domain.StatusIdle, host.Snapshot().Status)
	assert.Nil(t, host.Peer())
}

func TestHostSession_PairsWithViewer(t *testing.T) {
	capture := &testutils.FakeCaptureSource{}
	sig := testutils.NewFakeSignaling()
	factory := &testutils.FakeFactory{}
	host := NewHostSession(HostDeps{
		Capture:   capture,
		Signaling: sig.Factory(),
		Peers:     peersFor(t, factory),
		Logger:    zaptest.NewLogger(t).Sugar(),
	})
	defer host.StopSharing()

	_, err := host.StartSharing(context.Background())
	require.NoError(t, err)
	sig.ViewerJoins()
	sig.Answer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: testutils.AnswerSDP})

	require.Eventually(t, func() bool {
		pc := factory.Last()
		return pc != nil && pc.HasRemoteDescription()
	}, 2*time.Second, 5*time.Millisecond)
	factory.Last().SetState(webrtc.PeerConnectionStateConnected)

	require.Eventually(t, func() bool {
		peer := host.Peer()
		return peer != nil && peer.State() == domain.PeerConnected
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.StatusConnected, host.Snapshot().Status)
	assert.Len(t, factory.Last().Tracks, 1)

	// losing the viewer keeps sharing and waits for the next one
	factory.Last().SetState(webrtc.PeerConnectionStateFailed)
	require.Eventually(t, func() bool { return host.Peer() == nil }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.StatusConnected, host.Snapshot().Status)
	assert.Equal(t, 1, capture.ActiveStreams())
}

func TestHostSession_RelayUnavailable(t *testing.T) {
	capture := &testutils.FakeCaptureSource{}
	host := NewHostSession(HostDeps{
		Capture: capture,
		Signaling: func(context.Context, domain.Role) (ports.SignalingClient, error) {
			return nil, domain.ErrSignalingTransport
		},
		Logger: zaptest.NewLogger(t).Sugar(),
	})

	_, err := host.StartSharing(context.Background())
	assert.ErrorIs(t, err, domain.ErrSignalingTransport)
	assert.Equal(t, domain.MessageSignalingFailure, host.Snapshot().Message)
	assert.Zero(t, capture.ActiveStreams())
}

func TestHostSession_CopyCode(t *testing.T) {
	host := NewHostSession(HostDeps{Capture: &testutils.FakeCaptureSource{}, Logger: zaptest.NewLogger(t).Sugar()})
	clip := &clipboard{}
	assert.False(t, host.CopyCode(clip), "nothing to copy before sharing")

	code, err := host.StartSharing(context.Background())
	require.NoError(t, err)
	assert.True(t, host.CopyCode(clip))
	assert.Equal(t, string(code), clip.text)

	clip.err = errors.New("clipboard unavailable")
	assert.False(t, host.CopyCode(clip))
	assert.Equal(t, domain.StatusConnected, host.Snapshot().Status, "clipboard failures never become session errors")
}

func TestViewerSession_SimulatedJoin(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		want    domain.SessionStatus
		message string
	}{
		{"too short", "abc", domain.StatusError, "Invalid access code. Please check and try again."},
		{"six characters", "XyZ123", domain.StatusConnected, ""},
		{"eight characters", "abcd1234", domain.StatusConnected, ""},
		{"too long", "abcdefghi", domain.StatusError, "Invalid access code. Please check and try again."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viewer := NewViewerSession(ViewerDeps{
				Signaling: signal.SimulatedFactory(10 * time.Millisecond),
				Logger:    zaptest.NewLogger(t).Sugar(),
			})
			defer viewer.Leave()
			updates, cancel := viewer.board.Subscribe()
			defer cancel()

			err := viewer.Connect(context.Background(), tt.code)
			snap := viewer.Snapshot()
			assert.Equal(t, tt.want, snap.Status)
			assert.Equal(t, tt.message, snap.Message)
			assert.Equal(t, []domain.SessionStatus{domain.StatusConnecting, tt.want}, drain(updates))
			if tt.want == domain.StatusError {
				assert.ErrorIs(t, err, domain.ErrInvalidCode)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, domain.AccessCode(tt.code), viewer.EnteredCode())
			}
		})
	}
}

func TestViewerSession_EmptyCode(t *testing.T) {
	joins := 0
	viewer := NewViewerSession(ViewerDeps{
		Signaling: func(context.Context, domain.Role) (ports.SignalingClient, error) {
			joins++
			return nil, errors.New("unexpected")
		},
		Logger: zaptest.NewLogger(t).Sugar(),
	})
	updates, cancel := viewer.board.Subscribe()
	defer cancel()

	for _, code := range []string{"", "   "} {
		err := viewer.Connect(context.Background(), code)
		assert.ErrorIs(t, err, domain.ErrEmptyCode)
	}
	assert.Equal(t, "Please enter a valid access code.", viewer.Snapshot().Message)
	assert.NotContains(t, drain(updates), domain.StatusConnecting)
	assert.Zero(t, joins)
}

func TestViewerSession_LeaveResets(t *testing.T) {
	viewer := NewViewerSession(ViewerDeps{
		Signaling: signal.SimulatedFactory(time.Millisecond),
		Logger:    zaptest.NewLogger(t).Sugar(),
	})
	require.NoError(t, viewer.Connect(context.Background(), "XyZ123"))

	err := viewer.Connect(context.Background(), "XyZ123")
	assert.ErrorIs(t, err, domain.ErrSessionBusy)

	viewer.Leave()
	viewer.Leave()
	assert.Equal(t, domain.StatusIdle, viewer.Snapshot().Status)
	assert.Empty(t, viewer.EnteredCode())
	assert.Nil(t, viewer.RemoteTracks())
}

func TestViewerSession_LeaveDuringJoin(t *testing.T) {
	viewer := NewViewerSession(ViewerDeps{
		Signaling: signal.SimulatedFactory(5 * time.Second),
		Logger:    zaptest.NewLogger(t).Sugar(),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- viewer.Connect(context.Background(), "XyZ123") }()
	require.Eventually(t, func() bool { return viewer.Snapshot().Status == domain.StatusConnecting }, time.Second, 5*time.Millisecond)

	viewer.Leave()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, domain.ErrSessionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not observe leave")
	}
	assert.Equal(t, domain.StatusIdle, viewer.Snapshot().Status)
}

func TestViewerSession_UnknownCode(t *testing.T) {
	sig := testutils.NewFakeSignaling()
	sig.JoinErr = signal.ErrSessionEnded
	viewer := NewViewerSession(ViewerDeps{Signaling: sig.Factory(), Logger: zaptest.NewLogger(t).Sugar()})

	err := viewer.Connect(context.Background(), "XyZ123")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Equal(t, domain.KindSignaling, domain.KindOf(err))
	assert.Equal(t, domain.MessageInvalidCode, viewer.Snapshot().Message)
	assert.Equal(t, 1, sig.CloseCount())
}

func TestViewerSession_NegotiatesAndSeesHostLeave(t *testing.T) {
	sig := testutils.NewFakeSignaling()
	factory := &testutils.FakeFactory{}
	viewer := NewViewerSession(ViewerDeps{
		Signaling: sig.Factory(),
		Peers:     peersFor(t, factory),
		Logger:    zaptest.NewLogger(t).Sugar(),
	})
	defer viewer.Leave()

	errCh := make(chan error, 1)
	go func() { errCh <- viewer.Connect(context.Background(), "XyZ123") }()

	require.Eventually(t, func() bool {
		pc := factory.Last()
		return pc != nil && pc.HasRemoteDescription() && len(sig.Answers()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.StatusConnecting, viewer.Snapshot().Status)
	factory.Last().SetState(webrtc.PeerConnectionStateConnected)

	require.NoError(t, <-errCh)
	assert.Equal(t, domain.StatusConnected, viewer.Snapshot().Status)
	require.NotNil(t, viewer.Peer())

	sig.EndSession()
	require.Eventually(t, func() bool { return viewer.Snapshot().Status == domain.StatusError }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.MessageSessionEnded, viewer.Snapshot().Message)
	assert.True(t, factory.Last().Closed())
}

func TestSessionController_SharedStatus(t *testing.T) {
	observer := &statusCounter{}
	capture := &testutils.FakeCaptureSource{}
	ctrl := NewSessionController(ControllerDeps{
		Capture:   capture,
		Signaling: signal.SimulatedFactory(time.Millisecond),
		Observer:  observer,
		Logger:    zaptest.NewLogger(t).Sugar(),
	})
	updates, cancel := ctrl.Subscribe()
	defer cancel()

	_, err := ctrl.Host().StartSharing(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RoleHost, ctrl.Snapshot().Role)

	err = ctrl.Viewer().Connect(context.Background(), "abc")
	require.Error(t, err)
	snap := ctrl.Snapshot()
	assert.Equal(t, domain.RoleViewer, snap.Role)
	assert.Equal(t, domain.StatusError, snap.Status)
	assert.Equal(t, domain.StatusConnected, ctrl.Host().Snapshot().Status, "roles keep independent state")
	assert.Len(t, drain(updates), 3)

	ctrl.Close()
	assert.Zero(t, capture.ActiveStreams())
	assert.Equal(t, domain.StatusIdle, ctrl.Host().Snapshot().Status)
	assert.Equal(t, domain.StatusIdle, ctrl.Viewer().Snapshot().Status)

	observer.mu.Lock()
	defer observer.mu.Unlock()
	assert.Equal(t, 1, observer.counts[domain.StatusConnecting])
}

func TestSessionController_InstancesAreIndependent(t *testing.T) {
	a := NewSessionController(ControllerDeps{Capture: &testutils.FakeCaptureSource{}})
	b := NewSessionController(ControllerDeps{Capture: &testutils.FakeCaptureSource{}})

	_, err := a.Host().StartSharing(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConnected, a.Snapshot().Status)
	assert.Equal(t, domain.StatusIdle, b.Snapshot().Status)
	assert.Empty(t, b.Host().Code())
}

// failedPeer reports PeerError by the time StartViewer returns, as a
// connection that drops right after answering does.
type failedPeer struct {
	mu        sync.Mutex
	state     domain.PeerState
	listeners []ports.PeerStateListener
	closed    int
}

func (p *failedPeer) StartHost(context.Context, domain.AccessCode, ports.CaptureStream) error {
	return errors.New("viewer only")
}

func (p *failedPeer) StartViewer(context.Context, domain.AccessCode, webrtc.SessionDescription) error {
	p.mu.Lock()
	p.state = domain.PeerError
	listeners := append([]ports.PeerStateListener(nil), p.listeners...)
	p.mu.Unlock()
	for _, fn := range listeners {
		fn(domain.PeerConnected, domain.PeerError, domain.ErrNegotiationFailed)
	}
	return nil
}

func (p *failedPeer) State() domain.PeerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *failedPeer) OnStateChange(fn ports.PeerStateListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

func (p *failedPeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	p.state = domain.PeerClosed
	return nil
}

func (p *failedPeer) ConnectionInfo() domain.ConnectionInfo                        { return domain.ConnectionInfo{} }
func (p *failedPeer) RemoteTracks() []*webrtc.TrackRemote                          { return nil }
func (p *failedPeer) OnRemoteTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}
func (p *failedPeer) WriteRTCP([]rtcp.Packet) error                                { return nil }
func (p *failedPeer) Retry() error                                                 { return nil }

func TestViewerSession_PeerFailedBeforeWatch(t *testing.T) {
	sig := testutils.NewFakeSignaling()
	peer := &failedPeer{}
	viewer := NewViewerSession(ViewerDeps{
		Signaling: sig.Factory(),
		Peers:     func(domain.Role, ports.SignalingClient) ports.PeerSession { return peer },
		Logger:    zaptest.NewLogger(t).Sugar(),
	})
	defer viewer.Leave()

	require.NoError(t, viewer.Connect(context.Background(), "XyZ123"))
	require.Eventually(t, func() bool { return viewer.Snapshot().Status == domain.StatusError }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.MessageNegotiationFailed, viewer.Snapshot().Message)
	assert.Nil(t, viewer.Peer())
	assert.Equal(t, 1, sig.CloseCount())
}

func TestViewerSession_NoSignaling(t *testing.T) {
	viewer := NewViewerSession(ViewerDeps{Logger: zaptest.NewLogger(t).Sugar()})

	var err error
	require.NotPanics(t, func() { err = viewer.Connect(context.Background(), "XyZ123") })
	assert.ErrorIs(t, err, domain.ErrSignalingTransport)
	assert.Equal(t, domain.KindSignaling, domain.KindOf(err))
	snap := viewer.Snapshot()
	assert.Equal(t, domain.StatusError, snap.Status)
	assert.Equal(t, domain.MessageSignalingFailure, snap.Message)

	// busy is cleared so a retry fails the same way instead of ErrSessionBusy
	assert.ErrorIs(t, viewer.Connect(context.Background(), "XyZ123"), domain.ErrSignalingTransport)
}

func TestViewerSession_LeaveMidNegotiation(t *testing.T) {
	sig := testutils.NewFakeSignaling()
	factory := &testutils.FakeFactory{}
	viewer := NewViewerSession(ViewerDeps{
		Signaling: sig.Factory(),
		Peers:     peersFor(t, factory),
		Logger:    zaptest.NewLogger(t).Sugar(),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- viewer.Connect(context.Background(), "XyZ123") }()

	require.Eventually(t, func() bool {
		pc, peer := factory.Last(), viewer.Peer()
		return pc != nil && peer != nil && peer.State() == domain.PeerNegotiating && len(sig.Answers()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	pc, peer := factory.Last(), viewer.Peer()

	viewer.Leave()
	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not observe leave")
	}
	assert.True(t, pc.Closed())
	assert.Equal(t, domain.PeerClosed, peer.State())
	assert.Equal(t, 1, sig.CloseCount())

	pc.SetState(webrtc.PeerConnectionStateConnected)
	assert.Equal(t, domain.PeerClosed, peer.State())
	assert.Equal(t, domain.StatusIdle, viewer.Snapshot().Status)
	assert.Nil(t, viewer.Peer())
}

func TestHostSession_ViewerLeavesMidNegotiation(t *testing.T) {
	capture := &testutils.FakeCaptureSource{}
	sig := testutils.NewFakeSignaling()
	factory := &testutils.FakeFactory{}
	host := NewHostSession(HostDeps{
		Capture:   capture,
		Signaling: sig.Factory(),
		Peers:     peersFor(t, factory),
		Logger:    zaptest.NewLogger(t).Sugar(),
	})
	defer host.StopSharing()

	code, err := host.StartSharing(context.Background())
	require.NoError(t, err)
	sig.ViewerJoins()
	require.Eventually(t, func() bool { return len(sig.Offers()) == 1 }, 2*time.Second, 5*time.Millisecond)
	first := factory.Last()

	sig.ViewerLeaves()
	require.Eventually(t, func() bool { return first.Closed() && host.Peer() == nil }, 2*time.Second, 5*time.Millisecond)
	snap := host.Snapshot()
	assert.Equal(t, domain.StatusConnected, snap.Status, "sharing continues")
	assert.Equal(t, code, snap.Code)
	assert.Equal(t, 1, capture.ActiveStreams())
	assert.Zero(t, sig.CloseCount())

	// the next viewer gets a fresh offer on the same share
	sig.ViewerJoins()
	require.Eventually(t, func() bool { return factory.Count() == 2 && len(sig.Offers()) == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestSessions_LogAttemptsWithSessionID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core).Sugar()

	host := NewHostSession(HostDeps{Capture: &testutils.FakeCaptureSource{}, Logger: logger})
	_, err := host.StartSharing(context.Background())
	require.NoError(t, err)
	host.StopSharing()
	_, err = host.StartSharing(context.Background())
	require.NoError(t, err)
	host.StopSharing()

	viewer := NewViewerSession(ViewerDeps{Logger: logger})
	_ = viewer.Connect(context.Background(), "XyZ123")

	started := logs.FilterMessage("sharing started").All()
	require.Len(t, started, 2)
	first, second := started[0].ContextMap(), started[1].ContextMap()
	assert.Equal(t, "host", first["role"])
	assert.Contains(t, first["session_id"], "session_")
	assert.NotEqual(t, first["session_id"], second["session_id"], "each attempt gets its own ID")
	assert.Contains(t, first, "code")

	failed := logs.FilterMessage("failed to connect").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "viewer", failed[0].ContextMap()["role"])
	assert.Contains(t, failed[0].ContextMap()["session_id"], "session_")
}
