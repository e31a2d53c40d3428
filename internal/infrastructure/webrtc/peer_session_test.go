package webrtc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"screenlink/internal/core/domain"
	"screenlink/internal/testutils"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type transitionLog struct {
	mu    sync.Mutex
	moves [][2]domain.PeerState
}

func (l *transitionLog) listener(from, to domain.PeerState, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.moves = append(l.moves, [2]domain.PeerState{from, to})
}

func (l *transitionLog) states() []domain.PeerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.PeerState, 0, len(l.moves))
	for _, m := range l.moves {
		out = append(out, m[1])
	}
	return out
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes []string
	moves    int
}

func (m *recordingMetrics) PeerTransition(domain.Role, domain.PeerState, domain.PeerState) {
	m.mu.Lock()
	m.moves++
	m.mu.Unlock()
}

func (m *recordingMetrics) NegotiationFinished(_ domain.Role, _ time.Duration, outcome string) {
	m.mu.Lock()
	m.outcomes = append(m.outcomes, outcome)
	m.mu.Unlock()
}

type fixture struct {
	session   *PeerSession
	factory   *testutils.FakeFactory
	signaling *testutils.FakeSignaling
	log       *transitionLog
	metrics   *recordingMetrics
}

func newFixture(t *testing.T, role domain.Role, timeout time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		factory:   &testutils.FakeFactory{},
		signaling: testutils.NewFakeSignaling(),
		log:       &transitionLog{},
		metrics:   &recordingMetrics{},
	}
	f.session = NewPeerSession(role, f.factory, f.signaling, SessionConfig{NegotiationTimeout: timeout}, f.metrics, zap.NewNop().Sugar())
	f.session.OnStateChange(f.log.listener)
	t.Cleanup(func() { _ = f.session.Close() })
	return f
}

func (f *fixture) startHost(t *testing.T) <-chan error {
	t.Helper()
	src := &testutils.FakeCaptureSource{}
	stream, err := src.Acquire(context.Background(), domain.DefaultCaptureProfile())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- f.session.StartHost(context.Background(), "XyZ123", stream) }()
	return errCh
}

func (f *fixture) waitForRemote(t *testing.T) *testutils.FakePeerConnection {
	t.Helper()
	require.Eventually(t, func() bool {
		pc := f.factory.Last()
		return pc != nil && pc.HasRemoteDescription()
	}, 2*time.Second, 5*time.Millisecond)
	return f.factory.Last()
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("session start did not return")
		return nil
	}
}

func TestPeerSession_HostConnects(t *testing.T) {
	f := newFixture(t, domain.RoleHost, 2*time.Second)
	f.signaling.Answer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: testutils.AnswerSDP})

	errCh := f.startHost(t)
	pc := f.waitForRemote(t)
	pc.SetState(webrtc.PeerConnectionStateConnected)

	require.NoError(t, waitErr(t, errCh))
	assert.Equal(t, domain.PeerConnected, f.session.State())
	assert.Equal(t, []domain.PeerState{domain.PeerInitializing, domain.PeerNegotiating, domain.PeerConnected}, f.log.states())
	assert.Len(t, pc.Tracks, 1)
	require.Len(t, f.signaling.Offers(), 1)
	assert.Equal(t, testutils.OfferSDP, f.signaling.Offers()[0].SDP)
	assert.Equal(t, domain.ConnectionUnknown, f.session.ConnectionInfo().Type)
	assert.Equal(t, []string{"connected"}, f.metrics.outcomes)
}

func TestPeerSession_BuffersEarlyCandidates(t *testing.T) {
	f := newFixture(t, domain.RoleViewer, 2*time.Second)
	cand := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 5000 typ host"}
	f.signaling.RemoteCandidate(cand)

	errCh := make(chan error, 1)
	go func() {
		errCh <- f.session.StartViewer(context.Background(), "XyZ123", f.signaling.Offer)
	}()

	pc := f.waitForRemote(t)
	require.Eventually(t, func() bool { return len(pc.Candidates()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, cand.Candidate, pc.Candidates()[0].Candidate)

	pc.SetState(webrtc.PeerConnectionStateConnected)
	require.NoError(t, waitErr(t, errCh))

	require.Len(t, f.signaling.Answers(), 1)
	assert.Equal(t, testutils.AnswerSDP, f.signaling.Answers()[0].SDP)
}

func TestPeerSession_ForwardsLocalCandidates(t *testing.T) {
	f := newFixture(t, domain.RoleViewer, 2*time.Second)
	go func() { _ = f.session.StartViewer(context.Background(), "XyZ123", f.signaling.Offer) }()
	pc := f.waitForRemote(t)

	pc.GatherCandidate(&webrtc.ICECandidate{
		Foundation: "1",
		Priority:   1,
		Address:    "127.0.0.1",
		Protocol:   webrtc.ICEProtocolUDP,
		Port:       5000,
		Typ:        webrtc.ICECandidateTypeHost,
		Component:  1,
	})
	pc.GatherCandidate(nil)
	assert.Len(t, f.signaling.SentCandidates(), 1)
}

func TestPeerSession_ConnectTimeout(t *testing.T) {
	f := newFixture(t, domain.RoleHost, 100*time.Millisecond)
	f.signaling.Answer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: testutils.AnswerSDP})

	err := waitErr(t, f.startHost(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNegotiationTimeout)
	assert.Equal(t, domain.KindNegotiation, domain.KindOf(err))
	assert.Equal(t, domain.PeerError, f.session.State())
	assert.ErrorIs(t, f.session.Err(), domain.ErrNegotiationTimeout)
}

func TestPeerSession_AnswerTimeoutIsSignalingError(t *testing.T) {
	f := newFixture(t, domain.RoleHost, 100*time.Millisecond)

	err := waitErr(t, f.startHost(t))
	assert.ErrorIs(t, err, domain.ErrSignalingTimeout)
	assert.Equal(t, domain.KindSignaling, domain.KindOf(err))
	assert.Equal(t, domain.PeerError, f.session.State())
}

func TestPeerSession_NegotiationFailure(t *testing.T) {
	f := newFixture(t, domain.RoleHost, 2*time.Second)
	f.signaling.Answer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: testutils.AnswerSDP})

	errCh := f.startHost(t)
	pc := f.waitForRemote(t)
	pc.SetState(webrtc.PeerConnectionStateFailed)

	err := waitErr(t, errCh)
	assert.ErrorIs(t, err, domain.ErrNegotiationFailed)
	assert.Equal(t, domain.PeerError, f.session.State())
	assert.Equal(t, domain.MessageNegotiationFailed, domain.UserMessage(err))
}

func TestPeerSession_CloseDuringNegotiation(t *testing.T) {
	f := newFixture(t, domain.RoleHost, 2*time.Second)
	errCh := f.startHost(t)

	require.Eventually(t, func() bool { return f.session.State() == domain.PeerNegotiating }, time.Second, 5*time.Millisecond)
	pc := f.factory.Last()
	require.NoError(t, f.session.Close())

	assert.ErrorIs(t, waitErr(t, errCh), domain.ErrSessionClosed)
	assert.True(t, pc.Closed())
	assert.Equal(t, domain.PeerClosed, f.session.State())

	states := f.log.states()
	require.GreaterOrEqual(t, len(states), 2)
	assert.Equal(t, []domain.PeerState{domain.PeerError, domain.PeerClosed}, states[len(states)-2:],
		"negotiation outcome is recorded before teardown")

	// a late answer and a late connection event are ignored
	f.signaling.Answer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: testutils.AnswerSDP})
	pc.SetState(webrtc.PeerConnectionStateConnected)
	assert.Equal(t, domain.PeerClosed, f.session.State())
	assert.Contains(t, f.metrics.outcomes, "cancelled")
}

func TestPeerSession_CloseIsIdempotent(t *testing.T) {
	f := newFixture(t, domain.RoleHost, time.Second)
	require.NoError(t, f.session.Close())
	require.NoError(t, f.session.Close())
	assert.Equal(t, domain.PeerClosed, f.session.State())
	assert.Equal(t, []domain.PeerState{domain.PeerClosed}, f.log.states())

	err := f.session.StartHost(context.Background(), "XyZ123", &testutils.FakeStream{})
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
}

func TestPeerSession_ConnectionLostThenRetry(t *testing.T) {
	f := newFixture(t, domain.RoleHost, 2*time.Second)
	f.signaling.Answer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: testutils.AnswerSDP})
	errCh := f.startHost(t)
	first := f.waitForRemote(t)
	first.SetState(webrtc.PeerConnectionStateConnected)
	require.NoError(t, waitErr(t, errCh))

	first.SetState(webrtc.PeerConnectionStateDisconnected)
	assert.Equal(t, domain.PeerError, f.session.State())
	assert.ErrorIs(t, f.session.Err(), domain.ErrNegotiationFailed)

	require.NoError(t, f.session.Retry())
	assert.Equal(t, domain.PeerIdle, f.session.State())
	assert.True(t, first.Closed())
	assert.NoError(t, f.session.Err())

	f.signaling.Answer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: testutils.AnswerSDP})
	errCh = f.startHost(t)
	require.Eventually(t, func() bool { return f.factory.Count() == 2 }, time.Second, 5*time.Millisecond)
	second := f.waitForRemote(t)
	second.SetState(webrtc.PeerConnectionStateConnected)
	require.NoError(t, waitErr(t, errCh))

	// the first connection's callbacks are stale now
	first.SetState(webrtc.PeerConnectionStateFailed)
	assert.Equal(t, domain.PeerConnected, f.session.State())
}

func TestPeerSession_IllegalMoves(t *testing.T) {
	f := newFixture(t, domain.RoleHost, time.Second)

	err := f.session.Retry()
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	f.factory.Err = errors.New("no sockets")
	err = f.session.StartHost(context.Background(), "XyZ123", &testutils.FakeStream{})
	assert.Error(t, err)
	assert.Equal(t, domain.PeerError, f.session.State())

	err = f.session.StartHost(context.Background(), "XyZ123", &testutils.FakeStream{})
	assert.ErrorIs(t, err, domain.ErrSessionBusy, "an errored session needs an explicit retry")
}

func TestConnectionType(t *testing.T) {
	report := webrtc.StatsReport{
		"pair": webrtc.ICECandidatePairStats{
			ID:                "pair",
			LocalCandidateID:  "local",
			RemoteCandidateID: "remote",
			Nominated:         true,
			State:             webrtc.StatsICECandidatePairStateSucceeded,
		},
		"local":  webrtc.ICECandidateStats{ID: "local", CandidateType: webrtc.ICECandidateTypeHost},
		"remote": webrtc.ICECandidateStats{ID: "remote", CandidateType: webrtc.ICECandidateTypeHost},
	}
	assert.Equal(t, domain.ConnectionDirect, connectionType(report))

	report["remote"] = webrtc.ICECandidateStats{ID: "remote", CandidateType: webrtc.ICECandidateTypeRelay}
	assert.Equal(t, domain.ConnectionRelay, connectionType(report))

	assert.Equal(t, domain.ConnectionUnknown, connectionType(webrtc.StatsReport{}))
}
