package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"screenlink/internal/core/domain"
	"screenlink/internal/core/ports"
	"screenlink/pkg/accesscode"
	applog "screenlink/pkg/logger"
	"screenlink/pkg/utils"

	"go.uber.org/zap"
)

// HostDeps are the collaborators a HostSession needs. Signaling and Peers
// may both be nil, in which case sharing stops at local capture.
type HostDeps struct {
	Capture   ports.CaptureSource
	Signaling ports.SignalingFactory
	Peers     ports.PeerSessionFactory
	Profile   domain.CaptureProfile
	Board     *StatusBoard
	Logger    *zap.SugaredLogger
}

// HostSession is the sharing side of a pairing. One instance owns at most
// one capture stream, one signaling client and one peer session.
type HostSession struct {
	deps   HostDeps
	board  *StatusBoard
	logger *zap.SugaredLogger
	logs   *applog.ContextLogger

	mu        sync.Mutex
	gen       uint64
	busy      bool
	status    domain.SessionStatus
	message   string
	code      domain.AccessCode
	stream    ports.CaptureStream
	signaling ports.SignalingClient
	peer      ports.PeerSession
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewHostSession(deps HostDeps) *HostSession {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if deps.Board == nil {
		deps.Board = NewStatusBoard(nil, deps.Logger)
	}
	if deps.Profile == (domain.CaptureProfile{}) {
		deps.Profile = domain.DefaultCaptureProfile()
	}
	return &HostSession{
		deps:   deps,
		board:  deps.Board,
		logger: deps.Logger.With("role", string(domain.RoleHost)),
		logs:   applog.NewContextLogger(deps.Logger.Desugar()),
		status: domain.StatusIdle,
	}
}

// StartSharing generates a code, acquires the screen and, when a relay is
// configured, registers the code and starts waiting for a viewer. The
// returned code is also exposed through Code and the status snapshot.
func (h *HostSession) StartSharing(ctx context.Context) (domain.AccessCode, error) {
	h.mu.Lock()
	if h.busy || h.status == domain.StatusConnected {
		h.mu.Unlock()
		return "", domain.ErrSessionBusy
	}
	h.busy = true
	h.gen++
	gen := h.gen
	runCtx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.mu.Unlock()

	startCtx, stopStart := context.WithCancel(ctx)
	defer stopStart()
	unlink := context.AfterFunc(runCtx, stopStart)
	defer unlink()

	code := accesscode.Generate()
	logger := attemptLogger(ctx, h.logs, domain.RoleHost).With("code", utils.MaskSensitive(string(code), 2))

	stream, err := h.deps.Capture.Acquire(startCtx, h.deps.Profile)
	if err != nil {
		err = domain.NewSessionError(domain.KindCapture, "acquire", err)
		return "", h.abortStart(gen, logger, err, nil, nil)
	}
	if !h.adopt(gen, func() { h.stream = stream }) {
		h.deps.Capture.Release(stream)
		return "", domain.ErrSessionClosed
	}

	var client ports.SignalingClient
	if h.deps.Signaling != nil {
		client, err = h.deps.Signaling(startCtx, domain.RoleHost)
		if err != nil {
			return "", h.abortStart(gen, logger, signalingFailure("connect", err), stream, nil)
		}
		if !h.adopt(gen, func() { h.signaling = client }) {
			_ = client.Close()
			return "", domain.ErrSessionClosed
		}
		if err := client.CreateSession(startCtx, code); err != nil {
			return "", h.abortStart(gen, logger, signalingFailure("create session", err), stream, client)
		}
	}

	h.mu.Lock()
	if h.gen != gen {
		h.mu.Unlock()
		return "", domain.ErrSessionClosed
	}
	h.busy = false
	h.code = code
	h.done = make(chan struct{})
	done := h.done
	h.setLocked(domain.StatusConnected, "")
	h.mu.Unlock()

	logger.Infow("sharing started", "relay", client != nil)
	if client != nil && h.deps.Peers != nil {
		go h.serve(runCtx, gen, code, stream, client, done, logger)
	} else {
		close(done)
	}
	return code, nil
}

// adopt runs fn under the lock if gen is still current.
func (h *HostSession) adopt(gen uint64, fn func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gen != gen {
		return false
	}
	fn()
	return true
}

// abortStart tears down a start that failed before sharing began.
func (h *HostSession) abortStart(gen uint64, logger *zap.SugaredLogger, err error, stream ports.CaptureStream, client ports.SignalingClient) error {
	h.mu.Lock()
	if h.gen != gen {
		h.mu.Unlock()
		return domain.ErrSessionClosed
	}
	h.busy = false
	h.stream = nil
	h.signaling = nil
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.setLocked(domain.StatusError, hostMessage(err))
	h.mu.Unlock()

	h.deps.Capture.Release(stream)
	if client != nil {
		_ = client.Close()
	}
	logger.Warnw("failed to start sharing", "error", err)
	return err
}

// serve pairs viewers one at a time until the session stops. A viewer that
// drops after connecting frees the slot for the next one.
func (h *HostSession) serve(ctx context.Context, gen uint64, code domain.AccessCode, stream ports.CaptureStream, client ports.SignalingClient, done chan struct{}, logger *zap.SugaredLogger) {
	defer close(done)
	for {
		if err := client.AwaitViewer(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			h.failSharing(gen, logger, signalingFailure("await viewer", err))
			return
		}
		logger.Infow("viewer joined, negotiating")

		peer := h.deps.Peers(domain.RoleHost, client)
		lost := make(chan struct{})
		var lostOnce sync.Once
		peer.OnStateChange(func(from, to domain.PeerState, err error) {
			if from == domain.PeerConnected && to == domain.PeerError {
				lostOnce.Do(func() { close(lost) })
			}
		})
		if !h.adopt(gen, func() { h.peer = peer }) {
			_ = peer.Close()
			return
		}

		if err := peer.StartHost(ctx, code, stream); err != nil {
			_ = peer.Close()
			if ctx.Err() != nil || errors.Is(err, domain.ErrSessionClosed) {
				return
			}
			if errors.Is(err, domain.ErrViewerLeft) {
				logger.Infow("viewer left during negotiation, waiting for the next viewer")
				h.adopt(gen, func() { h.peer = nil })
				continue
			}
			h.failSharing(gen, logger, err)
			return
		}
		logger.Infow("viewer connected", "connection_type", string(peer.ConnectionInfo().Type))

		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			h.failSharing(gen, logger, signalingFailure("relay", domain.ErrSignalingTransport))
			return
		case <-lost:
			logger.Infow("viewer connection lost, waiting for the next viewer")
			_ = peer.Close()
			h.adopt(gen, func() { h.peer = nil })
		}
	}
}

// failSharing ends an active share with an error status, releasing capture.
func (h *HostSession) failSharing(gen uint64, logger *zap.SugaredLogger, err error) {
	h.mu.Lock()
	if h.gen != gen {
		h.mu.Unlock()
		return
	}
	h.gen++
	stream, client, peer := h.detachLocked()
	h.code = ""
	h.setLocked(domain.StatusError, hostMessage(err))
	h.mu.Unlock()

	h.release(stream, client, peer)
	logger.Warnw("sharing failed", "error", err)
}

// StopSharing releases the capture stream and closes any peer connection,
// even mid-negotiation. Calling it again is a no-op.
func (h *HostSession) StopSharing() {
	h.mu.Lock()
	h.gen++
	h.busy = false
	stream, client, peer := h.detachLocked()
	h.code = ""
	done := h.done
	h.done = nil
	changed := h.status != domain.StatusIdle
	if changed {
		h.setLocked(domain.StatusIdle, "")
	}
	h.mu.Unlock()

	h.release(stream, client, peer)
	if done != nil {
		<-done
	}
	if changed {
		h.logger.Infow("sharing stopped")
	}
}

// detachLocked hands back every owned resource for release outside the lock.
func (h *HostSession) detachLocked() (ports.CaptureStream, ports.SignalingClient, ports.PeerSession) {
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	stream, client, peer := h.stream, h.signaling, h.peer
	h.stream, h.signaling, h.peer = nil, nil, nil
	return stream, client, peer
}

func (h *HostSession) release(stream ports.CaptureStream, client ports.SignalingClient, peer ports.PeerSession) {
	if peer != nil {
		_ = peer.Close()
	}
	h.deps.Capture.Release(stream)
	if client != nil {
		_ = client.Close()
	}
}

// Code is the access code of the current share, or empty.
func (h *HostSession) Code() domain.AccessCode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.code
}

// CopyCode writes the code to clip. Failures are logged and reported as false.
func (h *HostSession) CopyCode(clip ports.Clipboard) bool {
	code := h.Code()
	if code == "" || clip == nil {
		return false
	}
	if err := clip.WriteText(string(code)); err != nil {
		h.logger.Warnw("failed to copy access code", "error", err)
		return false
	}
	return true
}

// Peer returns the active peer session, if a viewer is being served.
func (h *HostSession) Peer() ports.PeerSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peer
}

func (h *HostSession) Snapshot() domain.StatusSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

func (h *HostSession) snapshotLocked() domain.StatusSnapshot {
	return domain.StatusSnapshot{Role: domain.RoleHost, Status: h.status, Message: h.message, Code: h.code}
}

// setLocked publishes while mu is held so snapshots from one role stay ordered.
func (h *HostSession) setLocked(status domain.SessionStatus, message string) {
	h.status = status
	h.message = message
	h.board.publish(h.snapshotLocked())
}

func hostMessage(err error) string {
	if domain.KindOf(err) == domain.KindCapture {
		return domain.MessageCaptureFailed
	}
	return domain.UserMessage(err)
}

// attemptLogger tags one start or connect attempt with a fresh session ID,
// plus the trace ID when ctx carries a span.
func attemptLogger(ctx context.Context, logs *applog.ContextLogger, role domain.Role) *zap.SugaredLogger {
	ctx = applog.WithSessionID(applog.WithRole(ctx, string(role)), utils.GenerateSessionID())
	return logs.Sugared(ctx)
}

func signalingFailure(op string, err error) error {
	var se *domain.SessionError
	if errors.As(err, &se) {
		return err
	}
	if !errors.Is(err, domain.ErrSessionNotFound) && !errors.Is(err, domain.ErrSignalingTimeout) &&
		!errors.Is(err, domain.ErrSignalingTransport) && !errors.Is(err, domain.ErrSessionClosed) &&
		!errors.Is(err, domain.ErrInvalidCode) && !errors.Is(err, domain.ErrSessionBusy) {
		err = fmt.Errorf("%w: %v", domain.ErrSignalingTransport, err)
	}
	return domain.NewSessionError(domain.KindSignaling, op, err)
}
