package services

import (
	"screenlink/internal/core/domain"
	"screenlink/internal/core/ports"
	"screenlink/pkg/accesscode"

	"go.uber.org/zap"
)

// ControllerDeps wires both roles. Nothing here is shared with any other
// controller instance.
type ControllerDeps struct {
	Capture   ports.CaptureSource
	Signaling ports.SignalingFactory
	Peers     ports.PeerSessionFactory
	Profile   domain.CaptureProfile
	Validator accesscode.Validator
	Observer  StatusObserver
	Logger    *zap.SugaredLogger
}

// SessionController composes an independent host and viewer session that
// publish to one status board.
type SessionController struct {
	host   *HostSession
	viewer *ViewerSession
	board  *StatusBoard
}

func NewSessionController(deps ControllerDeps) *SessionController {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	board := NewStatusBoard(deps.Observer, deps.Logger)
	return &SessionController{
		board: board,
		host: NewHostSession(HostDeps{
			Capture:   deps.Capture,
			Signaling: deps.Signaling,
			Peers:     deps.Peers,
			Profile:   deps.Profile,
			Board:     board,
			Logger:    deps.Logger,
		}),
		viewer: NewViewerSession(ViewerDeps{
			Signaling: deps.Signaling,
			Peers:     deps.Peers,
			Validator: deps.Validator,
			Board:     board,
			Logger:    deps.Logger,
		}),
	}
}

func (c *SessionController) Host() *HostSession     { return c.host }
func (c *SessionController) Viewer() *ViewerSession { return c.viewer }

// Snapshot is the last status written by either role.
func (c *SessionController) Snapshot() domain.StatusSnapshot {
	return c.board.Snapshot()
}

func (c *SessionController) Subscribe() (<-chan domain.StatusSnapshot, func()) {
	return c.board.Subscribe()
}

// Close stops sharing and leaves, releasing every handle either role holds.
func (c *SessionController) Close() {
	c.host.StopSharing()
	c.viewer.Leave()
}
