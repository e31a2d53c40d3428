package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"screenlink/internal/core/domain"
	"screenlink/internal/core/ports"
	"screenlink/pkg/tracing"
	"screenlink/pkg/utils"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Metrics receives negotiation telemetry.
type Metrics interface {
	PeerTransition(role domain.Role, from, to domain.PeerState)
	NegotiationFinished(role domain.Role, d time.Duration, outcome string)
}

type noopMetrics struct{}

func (noopMetrics) PeerTransition(domain.Role, domain.PeerState, domain.PeerState) {}
func (noopMetrics) NegotiationFinished(domain.Role, time.Duration, string)         {}

type SessionConfig struct {
	NegotiationTimeout time.Duration
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{NegotiationTimeout: 20 * time.Second}
}

type StateListener = ports.PeerStateListener

// PeerSession drives one peer connection through Idle, Initializing,
// Negotiating, and Connected, ending in Closed or Error.
//
// Each start, retry and close bumps a generation counter. Callbacks and
// blocking calls started under an older generation are discarded when they
// complete, so a late answer or connection event cannot revive a closed
// session.
type PeerSession struct {
	role      domain.Role
	factory   ports.PeerConnectionFactory
	signaling ports.SignalingClient
	cfg       SessionConfig
	metrics   Metrics
	logger    *zap.SugaredLogger

	mu        sync.Mutex
	state     domain.PeerState
	err       error
	gen       uint64
	pc        ports.PeerConnection
	runCancel context.CancelFunc
	outcome   chan error
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	tracks    []*webrtc.TrackRemote
	info      domain.ConnectionInfo
	listeners []StateListener
	onTrack   func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	started   time.Time
	events    []stateEvent
}

type stateEvent struct {
	from, to domain.PeerState
	err      error
}

var _ ports.PeerSession = (*PeerSession)(nil)

func NewPeerSession(
	role domain.Role,
	factory ports.PeerConnectionFactory,
	signaling ports.SignalingClient,
	cfg SessionConfig,
	metrics Metrics,
	logger *zap.SugaredLogger,
) *PeerSession {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = DefaultSessionConfig().NegotiationTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &PeerSession{
		role:      role,
		factory:   factory,
		signaling: signaling,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger.With("role", string(role)),
		state:     domain.PeerIdle,
	}
}

func (s *PeerSession) State() domain.PeerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err is the failure that moved the session to PeerError, if any.
func (s *PeerSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *PeerSession) ConnectionInfo() domain.ConnectionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// RemoteTracks returns the tracks received from the other side so far.
func (s *PeerSession) RemoteTracks() []*webrtc.TrackRemote {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*webrtc.TrackRemote, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *PeerSession) OnStateChange(fn StateListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// OnRemoteTrack is called for every track the viewer receives.
func (s *PeerSession) OnRemoteTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTrack = fn
}

// WriteRTCP sends feedback such as keyframe requests to the other side.
func (s *PeerSession) WriteRTCP(pkts []rtcp.Packet) error {
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()
	if pc == nil {
		return domain.ErrSessionClosed
	}
	return pc.WriteRTCP(pkts)
}

// StartHost attaches stream and offers it to the viewer waiting on code.
// It returns once the connection is established or has failed.
func (s *PeerSession) StartHost(ctx context.Context, code domain.AccessCode, stream ports.CaptureStream) error {
	ctx, span := tracing.TraceNegotiation(ctx, string(s.role), utils.MaskSensitive(string(code), 2))
	defer span.End()
	defer tracing.MeasureDuration(ctx, time.Now(), "negotiate")

	gen, runCtx, pc, err := s.begin()
	if err != nil {
		return err
	}

	for _, track := range stream.Tracks() {
		sender, err := pc.AddTrack(track)
		if err != nil {
			return s.fail(ctx, gen, domain.NewSessionError(domain.KindNegotiation, "add track", err))
		}
		if sender != nil {
			go s.drainRTCP(sender)
		}
	}

	if err := s.advance(gen, domain.PeerNegotiating); err != nil {
		return err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return s.fail(ctx, gen, domain.NewSessionError(domain.KindNegotiation, "create offer", err))
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return s.fail(ctx, gen, domain.NewSessionError(domain.KindNegotiation, "set local description", err))
	}

	nctx, cancel := s.negotiationContext(ctx, runCtx)
	defer cancel()

	offerID, err := s.signaling.CreateOffer(nctx, code, offer)
	if err != nil {
		return s.fail(ctx, gen, s.signalingError(nctx, "create offer", err))
	}
	tracing.AddSpanAttributes(ctx, tracing.OfferIDKey.String(string(offerID)))
	go s.pumpCandidates(runCtx, gen, pc)

	answer, err := s.signaling.AwaitAnswer(nctx, offerID)
	if err != nil {
		return s.fail(ctx, gen, s.signalingError(nctx, "await answer", err))
	}
	if err := s.applyRemote(gen, pc, answer); err != nil {
		return s.fail(ctx, gen, domain.NewSessionError(domain.KindNegotiation, "set remote description", err))
	}

	return s.awaitOutcome(ctx, nctx, gen)
}

// StartViewer answers the host's offer and waits for media to flow.
func (s *PeerSession) StartViewer(ctx context.Context, code domain.AccessCode, offer webrtc.SessionDescription) error {
	ctx, span := tracing.TraceNegotiation(ctx, string(s.role), utils.MaskSensitive(string(code), 2))
	defer span.End()
	defer tracing.MeasureDuration(ctx, time.Now(), "negotiate")

	gen, runCtx, pc, err := s.begin()
	if err != nil {
		return err
	}
	go s.pumpCandidates(runCtx, gen, pc)

	if err := s.advance(gen, domain.PeerNegotiating); err != nil {
		return err
	}

	nctx, cancel := s.negotiationContext(ctx, runCtx)
	defer cancel()

	if err := s.applyRemote(gen, pc, offer); err != nil {
		return s.fail(ctx, gen, domain.NewSessionError(domain.KindNegotiation, "set remote description", err))
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return s.fail(ctx, gen, domain.NewSessionError(domain.KindNegotiation, "create answer", err))
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return s.fail(ctx, gen, domain.NewSessionError(domain.KindNegotiation, "set local description", err))
	}
	if err := s.signaling.SendAnswer(nctx, answer); err != nil {
		return s.fail(ctx, gen, s.signalingError(nctx, "send answer", err))
	}

	return s.awaitOutcome(ctx, nctx, gen)
}

// negotiationContext bounds one attempt by the negotiation timeout and the
// caller's ctx. Closing the session cancels it as well.
func (s *PeerSession) negotiationContext(ctx, runCtx context.Context) (context.Context, context.CancelFunc) {
	nctx, cancel := context.WithTimeout(ctx, s.cfg.NegotiationTimeout)
	stop := context.AfterFunc(runCtx, cancel)
	return nctx, func() {
		stop()
		cancel()
	}
}

// begin moves Idle to Initializing and builds a fresh peer connection.
func (s *PeerSession) begin() (uint64, context.Context, ports.PeerConnection, error) {
	s.mu.Lock()
	switch s.state {
	case domain.PeerIdle:
	case domain.PeerClosed:
		s.mu.Unlock()
		return 0, nil, nil, domain.ErrSessionClosed
	default:
		s.mu.Unlock()
		return 0, nil, nil, fmt.Errorf("start from %s: %w", s.state, domain.ErrSessionBusy)
	}

	s.gen++
	gen := s.gen
	runCtx, cancel := context.WithCancel(context.Background())
	s.runCancel = cancel
	s.outcome = make(chan error, 1)
	s.remoteSet = false
	s.pending = nil
	s.tracks = nil
	s.info = domain.ConnectionInfo{}
	s.started = time.Now()
	if err := s.transitionLocked(domain.PeerInitializing, nil); err != nil {
		s.unlockAndNotify()
		return 0, nil, nil, err
	}
	s.unlockAndNotify()

	pc, err := s.factory.NewPeerConnection()
	if err != nil {
		return 0, nil, nil, s.fail(context.Background(), gen,
			domain.NewSessionError(domain.KindNegotiation, "new peer connection", err))
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		_ = pc.Close()
		return 0, nil, nil, domain.ErrSessionClosed
	}
	s.pc = pc
	s.mu.Unlock()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || !s.current(gen) {
			return
		}
		if err := s.signaling.SendCandidate(runCtx, c.ToJSON()); err != nil {
			s.logger.Debugw("failed to send local candidate", "error", err)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.handleConnectionState(gen, pc, state)
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.tracks = append(s.tracks, track)
		handler := s.onTrack
		s.mu.Unlock()

		s.logger.Infow("remote track received", "track_id", track.ID(), "codec", track.Codec().MimeType)
		if handler != nil {
			handler(track, receiver)
		}
	})

	return gen, runCtx, pc, nil
}

func (s *PeerSession) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *PeerSession) advance(gen uint64, to domain.PeerState) error {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	err := s.transitionLocked(to, nil)
	s.unlockAndNotify()
	return err
}

// fail records err as the negotiation outcome unless the attempt was superseded.
func (s *PeerSession) fail(ctx context.Context, gen uint64, err error) error {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if s.state != domain.PeerError && !s.state.IsTerminal() {
		_ = s.transitionLocked(domain.PeerError, err)
		s.finishNegotiation("failed")
	}
	s.unlockAndNotify()

	tracing.RecordError(ctx, err)
	s.logger.Warnw("negotiation failed", "error", err)
	return err
}

func (s *PeerSession) signalingError(nctx context.Context, op string, err error) error {
	if errors.Is(err, domain.ErrSessionNotFound) || errors.Is(err, domain.ErrSignalingTimeout) ||
		errors.Is(err, domain.ErrSignalingTransport) || errors.Is(err, domain.ErrSessionClosed) ||
		errors.Is(err, domain.ErrViewerLeft) {
		return domain.NewSessionError(domain.KindSignaling, op, err)
	}
	if errors.Is(nctx.Err(), context.DeadlineExceeded) {
		return domain.NewSessionError(domain.KindNegotiation, op, domain.ErrNegotiationTimeout)
	}
	return domain.NewSessionError(domain.KindSignaling, op, fmt.Errorf("%w: %v", domain.ErrSignalingTransport, err))
}

func (s *PeerSession) applyRemote(gen uint64, pc ports.PeerConnection, desc webrtc.SessionDescription) error {
	if err := pc.SetRemoteDescription(desc); err != nil {
		return err
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	s.remoteSet = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, c := range pending {
		if err := pc.AddICECandidate(c); err != nil {
			s.logger.Debugw("failed to apply buffered candidate", "error", err)
		}
	}
	return nil
}

// pumpCandidates applies remote candidates, buffering those that arrive
// before the remote description.
func (s *PeerSession) pumpCandidates(ctx context.Context, gen uint64, pc ports.PeerConnection) {
	candidates := s.signaling.Candidates()
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candidates:
			if !ok {
				return
			}
			s.mu.Lock()
			if s.gen != gen {
				s.mu.Unlock()
				return
			}
			if !s.remoteSet {
				s.pending = append(s.pending, c)
				s.mu.Unlock()
				continue
			}
			s.mu.Unlock()
			if err := pc.AddICECandidate(c); err != nil {
				s.logger.Debugw("failed to apply remote candidate", "error", err)
			}
		}
	}
}

func (s *PeerSession) awaitOutcome(ctx, nctx context.Context, gen uint64) error {
	s.mu.Lock()
	outcome := s.outcome
	s.mu.Unlock()

	select {
	case err := <-outcome:
		if err != nil {
			return s.fail(ctx, gen, err)
		}
		tracing.SetSpanStatus(ctx, codes.Ok, "connected")
		return nil
	case <-nctx.Done():
		if !s.current(gen) {
			return domain.ErrSessionClosed
		}
		if !errors.Is(nctx.Err(), context.DeadlineExceeded) {
			return s.fail(ctx, gen, domain.NewSessionError(domain.KindNegotiation, "connect", nctx.Err()))
		}
		return s.fail(ctx, gen, domain.NewSessionError(domain.KindNegotiation, "connect", domain.ErrNegotiationTimeout))
	}
}

func (s *PeerSession) handleConnectionState(gen uint64, pc ports.PeerConnection, state webrtc.PeerConnectionState) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.logger.Infow("peer connection state changed", "connection_state", state.String())

	switch state {
	case webrtc.PeerConnectionStateConnected:
		if s.state != domain.PeerNegotiating {
			s.mu.Unlock()
			return
		}
		s.info = domain.ConnectionInfo{
			Type:        connectionType(pc.GetStats()),
			ConnectedAt: time.Now(),
			Negotiation: time.Since(s.started),
		}
		_ = s.transitionLocked(domain.PeerConnected, nil)
		s.finishNegotiation("connected")
		s.signalOutcome(nil)

	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
		switch s.state {
		case domain.PeerNegotiating:
			s.signalOutcome(domain.NewSessionError(domain.KindNegotiation, "connect", domain.ErrNegotiationFailed))
		case domain.PeerConnected:
			err := domain.NewSessionError(domain.KindNegotiation, "connection lost", domain.ErrNegotiationFailed)
			_ = s.transitionLocked(domain.PeerError, err)
		}
	}
	s.unlockAndNotify()
}

// signalOutcome must be called with mu held.
func (s *PeerSession) signalOutcome(err error) {
	select {
	case s.outcome <- err:
	default:
	}
}

// finishNegotiation must be called with mu held.
func (s *PeerSession) finishNegotiation(outcome string) {
	s.metrics.NegotiationFinished(s.role, time.Since(s.started), outcome)
}

func (s *PeerSession) drainRTCP(sender *webrtc.RTPSender) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, p := range pkts {
			if _, ok := p.(*rtcp.PictureLossIndication); ok {
				s.logger.Debugw("viewer requested a keyframe")
			}
		}
	}
}

// Retry returns an errored session to Idle so it can be started again.
func (s *PeerSession) Retry() error {
	s.mu.Lock()
	if s.state != domain.PeerError {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("retry from %s: %w", state, domain.ErrInvalidTransition)
	}
	pc := s.detachLocked()
	s.err = nil
	err := s.transitionLocked(domain.PeerIdle, nil)
	s.unlockAndNotify()

	if pc != nil {
		_ = pc.Close()
	}
	return err
}

// Close releases the peer connection. It may be called from any state and
// any number of times. A pending negotiation is recorded as failed first.
func (s *PeerSession) Close() error {
	s.mu.Lock()
	if s.state == domain.PeerClosed {
		s.mu.Unlock()
		return nil
	}
	pc := s.detachLocked()
	if s.state == domain.PeerNegotiating {
		_ = s.transitionLocked(domain.PeerError,
			domain.NewSessionError(domain.KindNegotiation, "close", domain.ErrSessionClosed))
		s.finishNegotiation("cancelled")
	}
	_ = s.transitionLocked(domain.PeerClosed, nil)
	s.unlockAndNotify()

	if pc != nil {
		return pc.Close()
	}
	return nil
}

// detachLocked invalidates the current generation and hands back its
// connection for closing outside the lock.
func (s *PeerSession) detachLocked() ports.PeerConnection {
	s.gen++
	if s.runCancel != nil {
		s.runCancel()
		s.runCancel = nil
	}
	pc := s.pc
	s.pc = nil
	s.remoteSet = false
	s.pending = nil
	return pc
}

// transitionLocked validates and applies a move. Listeners run after unlock.
func (s *PeerSession) transitionLocked(to domain.PeerState, err error) error {
	from := s.state
	if !domain.CanTransition(from, to) {
		s.logger.Errorw("rejected peer state transition", "from", from.String(), "to", to.String())
		return fmt.Errorf("%s -> %s: %w", from, to, domain.ErrInvalidTransition)
	}
	s.state = to
	if to == domain.PeerError {
		s.err = err
	}
	s.metrics.PeerTransition(s.role, from, to)
	s.events = append(s.events, stateEvent{from: from, to: to, err: err})
	return nil
}

func (s *PeerSession) unlockAndNotify() {
	events := s.events
	s.events = nil
	listeners := make([]StateListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, ev := range events {
		for _, fn := range listeners {
			fn(ev.from, ev.to, ev.err)
		}
	}
}

// connectionType inspects the nominated candidate pair.
func connectionType(report webrtc.StatsReport) domain.ConnectionType {
	for _, stat := range report {
		pair, ok := stat.(webrtc.ICECandidatePairStats)
		if !ok || !pair.Nominated || pair.State != webrtc.StatsICECandidatePairStateSucceeded {
			continue
		}
		for _, side := range []string{pair.LocalCandidateID, pair.RemoteCandidateID} {
			if cand, ok := report[side].(webrtc.ICECandidateStats); ok && cand.CandidateType == webrtc.ICECandidateTypeRelay {
				return domain.ConnectionRelay
			}
		}
		return domain.ConnectionDirect
	}
	return domain.ConnectionUnknown
}

// SessionFactory binds the shared pieces so callers only pick role and signaling.
func SessionFactory(factory ports.PeerConnectionFactory, cfg SessionConfig, metrics Metrics, logger *zap.SugaredLogger) ports.PeerSessionFactory {
	return func(role domain.Role, signaling ports.SignalingClient) ports.PeerSession {
		return NewPeerSession(role, factory, signaling, cfg, metrics, logger)
	}
}
