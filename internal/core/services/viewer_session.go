package services

import (
	"context"
	"errors"
	"sync"

	"screenlink/internal/core/domain"
	"screenlink/internal/core/ports"
	"screenlink/pkg/accesscode"
	applog "screenlink/pkg/logger"
	"screenlink/pkg/utils"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type ViewerDeps struct {
	Signaling ports.SignalingFactory
	Peers     ports.PeerSessionFactory
	Validator accesscode.Validator
	Board     *StatusBoard
	Logger    *zap.SugaredLogger
}

// ViewerSession joins a host by access code and receives its stream.
type ViewerSession struct {
	deps   ViewerDeps
	board  *StatusBoard
	logger *zap.SugaredLogger
	logs   *applog.ContextLogger

	mu        sync.Mutex
	gen       uint64
	busy      bool
	status    domain.SessionStatus
	message   string
	entered   domain.AccessCode
	signaling ports.SignalingClient
	peer      ports.PeerSession
	cancel    context.CancelFunc
	onTrack   func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

func NewViewerSession(deps ViewerDeps) *ViewerSession {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if deps.Board == nil {
		deps.Board = NewStatusBoard(nil, deps.Logger)
	}
	if deps.Validator == (accesscode.Validator{}) {
		deps.Validator = accesscode.DefaultValidator()
	}
	return &ViewerSession{
		deps:   deps,
		board:  deps.Board,
		logger: deps.Logger.With("role", string(domain.RoleViewer)),
		logs:   applog.NewContextLogger(deps.Logger.Desugar()),
		status: domain.StatusIdle,
	}
}

// OnRemoteTrack sets the handler for media received after connecting.
func (v *ViewerSession) OnRemoteTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onTrack = fn
}

// Connect joins the host sharing code and returns once the session is
// connected or has failed. An empty code is rejected without a connecting
// phase.
func (v *ViewerSession) Connect(ctx context.Context, code string) error {
	entered := accesscode.Normalize(code)

	v.mu.Lock()
	if v.busy || v.status == domain.StatusConnected {
		v.mu.Unlock()
		return domain.ErrSessionBusy
	}
	if entered == "" {
		err := domain.NewSessionError(domain.KindValidation, "connect", domain.ErrEmptyCode)
		v.setLocked(domain.StatusError, domain.MessageEmptyCode)
		v.mu.Unlock()
		return err
	}
	v.busy = true
	v.gen++
	gen := v.gen
	v.entered = entered
	runCtx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel
	v.setLocked(domain.StatusConnecting, "")
	onTrack := v.onTrack
	v.mu.Unlock()

	connectCtx, stopConnect := context.WithCancel(ctx)
	defer stopConnect()
	unlink := context.AfterFunc(runCtx, stopConnect)
	defer unlink()

	logger := attemptLogger(ctx, v.logs, domain.RoleViewer).With("code", utils.MaskSensitive(string(entered), 2))

	if err := v.deps.Validator.Check(string(entered)); err != nil {
		return v.fail(gen, logger, domain.NewSessionError(domain.KindValidation, "connect", err))
	}

	if v.deps.Signaling == nil {
		return v.fail(gen, logger, signalingFailure("connect", domain.ErrSignalingTransport))
	}
	client, err := v.deps.Signaling(connectCtx, domain.RoleViewer)
	if err != nil {
		return v.fail(gen, logger, signalingFailure("connect", err))
	}
	if !v.adopt(gen, func() { v.signaling = client }) {
		_ = client.Close()
		return domain.ErrSessionClosed
	}

	offer, err := client.JoinByCode(connectCtx, entered)
	if err != nil {
		return v.fail(gen, logger, signalingFailure("join", err))
	}

	// An offer without SDP is a pairing with no media path.
	var lost chan struct{}
	if offer.SDP != "" && v.deps.Peers != nil {
		peer := v.deps.Peers(domain.RoleViewer, client)
		if onTrack != nil {
			peer.OnRemoteTrack(onTrack)
		}
		lost = make(chan struct{})
		var once sync.Once
		peer.OnStateChange(func(from, to domain.PeerState, err error) {
			if to == domain.PeerError {
				once.Do(func() { close(lost) })
			}
		})
		if !v.adopt(gen, func() { v.peer = peer }) {
			_ = peer.Close()
			return domain.ErrSessionClosed
		}
		if err := peer.StartViewer(connectCtx, entered, offer); err != nil {
			return v.fail(gen, logger, err)
		}
	}

	v.mu.Lock()
	if v.gen != gen {
		v.mu.Unlock()
		return domain.ErrSessionClosed
	}
	v.busy = false
	peer := v.peer
	v.setLocked(domain.StatusConnected, "")
	v.mu.Unlock()

	logger.Infow("connected to host")
	go v.watch(runCtx, gen, client, peer, lost)
	return nil
}

// watch turns a host departure or a dropped connection into an error status.
// lost is closed once peer reaches PeerError; it is nil without a peer.
func (v *ViewerSession) watch(ctx context.Context, gen uint64, client ports.SignalingClient, peer ports.PeerSession, lost <-chan struct{}) {
	if peer != nil && peer.State() == domain.PeerError {
		v.end(gen, domain.MessageNegotiationFailed)
		return
	}

	select {
	case <-ctx.Done():
	case <-client.Done():
		v.end(gen, domain.MessageSessionEnded)
	case <-lost:
		v.end(gen, domain.MessageNegotiationFailed)
	}
}

func (v *ViewerSession) end(gen uint64, message string) {
	v.mu.Lock()
	if v.gen != gen {
		v.mu.Unlock()
		return
	}
	v.gen++
	client, peer := v.detachLocked()
	v.setLocked(domain.StatusError, message)
	v.mu.Unlock()

	v.release(client, peer)
	v.logger.Infow("session ended", "reason", message)
}

func (v *ViewerSession) adopt(gen uint64, fn func()) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.gen != gen {
		return false
	}
	fn()
	return true
}

func (v *ViewerSession) fail(gen uint64, logger *zap.SugaredLogger, err error) error {
	v.mu.Lock()
	if v.gen != gen {
		v.mu.Unlock()
		return domain.ErrSessionClosed
	}
	v.busy = false
	client, peer := v.detachLocked()
	v.setLocked(domain.StatusError, domain.UserMessage(err))
	v.mu.Unlock()

	v.release(client, peer)
	if errors.Is(err, domain.ErrInvalidCode) || errors.Is(err, domain.ErrSessionNotFound) {
		logger.Infow("join rejected", "error", err)
	} else {
		logger.Warnw("failed to connect", "error", err)
	}
	return err
}

// Leave closes the connection and resets the entered code. It is safe to
// call at any time, including while Connect is pending.
func (v *ViewerSession) Leave() {
	v.mu.Lock()
	v.gen++
	v.busy = false
	client, peer := v.detachLocked()
	v.entered = ""
	changed := v.status != domain.StatusIdle
	if changed {
		v.setLocked(domain.StatusIdle, "")
	}
	v.mu.Unlock()

	v.release(client, peer)
	if changed {
		v.logger.Infow("left session")
	}
}

func (v *ViewerSession) detachLocked() (ports.SignalingClient, ports.PeerSession) {
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	client, peer := v.signaling, v.peer
	v.signaling, v.peer = nil, nil
	return client, peer
}

func (v *ViewerSession) release(client ports.SignalingClient, peer ports.PeerSession) {
	if peer != nil {
		_ = peer.Close()
	}
	if client != nil {
		_ = client.Close()
	}
}

func (v *ViewerSession) EnteredCode() domain.AccessCode {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.entered
}

// RemoteTracks lists the host's tracks received so far.
func (v *ViewerSession) RemoteTracks() []*webrtc.TrackRemote {
	v.mu.Lock()
	peer := v.peer
	v.mu.Unlock()
	if peer == nil {
		return nil
	}
	return peer.RemoteTracks()
}

// Peer returns the active peer session, or nil before media negotiation.
func (v *ViewerSession) Peer() ports.PeerSession {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.peer
}

func (v *ViewerSession) Snapshot() domain.StatusSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

func (v *ViewerSession) snapshotLocked() domain.StatusSnapshot {
	return domain.StatusSnapshot{Role: domain.RoleViewer, Status: v.status, Message: v.message, Code: v.entered}
}

func (v *ViewerSession) setLocked(status domain.SessionStatus, message string) {
	v.status = status
	v.message = message
	v.board.publish(v.snapshotLocked())
}
