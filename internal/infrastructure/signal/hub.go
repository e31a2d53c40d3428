package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"screenlink/internal/core/domain"
	"screenlink/internal/core/ports"
	"screenlink/pkg/cache"
	"screenlink/pkg/utils"
	"screenlink/pkg/validation"

	"go.uber.org/zap"
)

// Endpoint is one side of a relayed pairing. Send must not block.
type Endpoint interface {
	ID() domain.PeerID
	Send(msg Message) error
}

// Metrics receives relay events. monitoring.PrometheusCollector implements it.
type Metrics interface {
	RoomOpened()
	RoomClosed()
	ViewerJoined()
	ViewerLeft()
	MessageRelayed(msgType string)
	JoinFailed(reason string)
}

// ErrSessionEnded is returned by Join for a code whose host has left.
var ErrSessionEnded = fmt.Errorf("%w: %s", domain.ErrSessionNotFound, ReasonSessionEnded)

type noopMetrics struct{}

func (noopMetrics) RoomOpened()           {}
func (noopMetrics) RoomClosed()           {}
func (noopMetrics) ViewerJoined()         {}
func (noopMetrics) ViewerLeft()           {}
func (noopMetrics) MessageRelayed(string) {}
func (noopMetrics) JoinFailed(string)     {}

type HubConfig struct {
	CodeMinLength int
	CodeMaxLength int
	TombstoneTTL  time.Duration
}

func DefaultHubConfig() HubConfig {
	return HubConfig{CodeMinLength: 6, CodeMaxLength: 8, TombstoneTTL: 5 * time.Minute}
}

type membership struct {
	code domain.AccessCode
	role domain.Role
}

// Hub routes signaling messages between the host and the viewer of each
// access code. One viewer per code.
type Hub struct {
	cfg        HubConfig
	rooms      ports.RoomRepository
	tombstones *cache.Cache[string]
	metrics    Metrics
	logger     *zap.SugaredLogger

	mu        sync.Mutex
	endpoints map[domain.PeerID]Endpoint
	members   map[domain.PeerID]membership
}

func NewHub(cfg HubConfig, rooms ports.RoomRepository, metrics Metrics, logger *zap.SugaredLogger) *Hub {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if cfg.TombstoneTTL <= 0 {
		cfg.TombstoneTTL = DefaultHubConfig().TombstoneTTL
	}
	return &Hub{
		cfg:        cfg,
		rooms:      rooms,
		tombstones: cache.New[string](cfg.TombstoneTTL),
		metrics:    metrics,
		logger:     logger,
		endpoints:  make(map[domain.PeerID]Endpoint),
		members:    make(map[domain.PeerID]membership),
	}
}

// Close stops background housekeeping.
func (h *Hub) Close() {
	h.tombstones.Stop()
}

// Register makes host the owner of code.
func (h *Hub) Register(ctx context.Context, code domain.AccessCode, host Endpoint) error {
	if err := validation.ValidateAccessCodeFormat(string(code), h.cfg.CodeMinLength, h.cfg.CodeMaxLength, false); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidCode, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, joined := h.members[host.ID()]; joined {
		return fmt.Errorf("peer %s already in a session: %w", host.ID(), domain.ErrSessionBusy)
	}

	room := &domain.Room{Code: code, HostID: host.ID(), CreatedAt: time.Now()}
	if err := h.rooms.Create(ctx, room); err != nil {
		return err
	}
	h.tombstones.Delete(string(code))
	h.endpoints[host.ID()] = host
	h.members[host.ID()] = membership{code: code, role: domain.RoleHost}
	h.metrics.RoomOpened()

	h.logger.Infow("session registered", "code", utils.MaskSensitive(string(code), 2), "peer_id", host.ID())
	return host.Send(Message{Type: TypeSessionCreated, Code: code})
}

// Join attaches viewer to the host that owns code and notifies the host.
func (h *Hub) Join(ctx context.Context, code domain.AccessCode, viewer Endpoint) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, joined := h.members[viewer.ID()]; joined {
		return fmt.Errorf("peer %s already in a session: %w", viewer.ID(), domain.ErrSessionBusy)
	}

	room, err := h.rooms.GetByCode(ctx, code)
	if err != nil {
		if _, ended := h.tombstones.Get(string(code)); ended {
			h.metrics.JoinFailed("ended")
			return ErrSessionEnded
		}
		h.metrics.JoinFailed("not_found")
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, ReasonUnknownCode)
	}
	if room.HasViewer() {
		h.metrics.JoinFailed("busy")
		return fmt.Errorf("code %s: %w", utils.MaskSensitive(string(code), 2), domain.ErrSessionBusy)
	}

	room.ViewerID = viewer.ID()
	room.JoinedAt = time.Now()
	if err := h.rooms.Update(ctx, room); err != nil {
		return err
	}
	h.endpoints[viewer.ID()] = viewer
	h.members[viewer.ID()] = membership{code: code, role: domain.RoleViewer}
	h.metrics.ViewerJoined()

	h.logger.Infow("viewer joined", "code", utils.MaskSensitive(string(code), 2), "peer_id", viewer.ID())

	if err := viewer.Send(Message{Type: TypeSessionJoined, Code: code}); err != nil {
		return err
	}
	if host, ok := h.endpoints[room.HostID]; ok {
		if err := host.Send(Message{Type: TypeViewerJoined, Code: code}); err != nil {
			h.logger.Warnw("failed to notify host", "peer_id", room.HostID, "error", err)
		}
	}
	return nil
}

// Route forwards an offer to the viewer, an answer to the host, and ICE
// candidates to whichever side did not send them.
func (h *Hub) Route(ctx context.Context, from Endpoint, msg Message) error {
	switch msg.Type {
	case TypeOffer, TypeAnswer:
		if err := validation.ValidateSDP(msg.SDP); err != nil {
			return fmt.Errorf("%s: %w", msg.Type, err)
		}
	case TypeICECandidate:
		if msg.Candidate == nil {
			return errors.New("ice_candidate: candidate is required")
		}
		if err := validation.ValidateCandidate(msg.Candidate.Candidate); err != nil {
			return fmt.Errorf("ice_candidate: %w", err)
		}
	default:
		return fmt.Errorf("message type %q is not relayed", msg.Type)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.members[from.ID()]
	if !ok {
		return fmt.Errorf("peer %s: %w", from.ID(), domain.ErrSessionNotFound)
	}
	if msg.Type == TypeOffer && m.role != domain.RoleHost {
		return errors.New("only the host may send an offer")
	}
	if msg.Type == TypeAnswer && m.role != domain.RoleViewer {
		return errors.New("only the viewer may send an answer")
	}

	room, err := h.rooms.GetByCode(ctx, m.code)
	if err != nil {
		return err
	}
	target := room.ViewerID
	if m.role == domain.RoleViewer {
		target = room.HostID
	}
	ep, ok := h.endpoints[target]
	if target == "" || !ok {
		return fmt.Errorf("%s: %w", ReasonNoPeer, domain.ErrSessionNotFound)
	}

	msg.Code = m.code
	h.metrics.MessageRelayed(string(msg.Type))
	h.logger.Debugw("relaying message", "type", msg.Type, "from", from.ID(), "to", target)
	return ep.Send(msg)
}

// Leave detaches endpoint. A departing host ends the session and tombstones
// its code; a departing viewer frees the slot for another viewer.
func (h *Hub) Leave(ctx context.Context, endpoint Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := endpoint.ID()
	m, ok := h.members[id]
	if !ok {
		return
	}
	delete(h.members, id)
	delete(h.endpoints, id)

	room, err := h.rooms.GetByCode(ctx, m.code)
	if err != nil {
		return
	}

	switch m.role {
	case domain.RoleHost:
		_ = h.rooms.Delete(ctx, m.code)
		h.tombstones.Set(string(m.code), ReasonHostLeft)
		h.metrics.RoomClosed()
		if room.HasViewer() {
			h.metrics.ViewerLeft()
			delete(h.members, room.ViewerID)
			if viewer, ok := h.endpoints[room.ViewerID]; ok {
				delete(h.endpoints, room.ViewerID)
				_ = viewer.Send(Message{Type: TypeSessionEnded, Code: m.code, Reason: ReasonHostLeft})
			}
		}
		h.logger.Infow("session ended", "code", utils.MaskSensitive(string(m.code), 2), "peer_id", id)

	case domain.RoleViewer:
		if room.ViewerID != id {
			return
		}
		room.ViewerID = ""
		room.JoinedAt = time.Time{}
		_ = h.rooms.Update(ctx, room)
		h.metrics.ViewerLeft()
		if host, ok := h.endpoints[room.HostID]; ok {
			_ = host.Send(Message{Type: TypeViewerLeft, Code: m.code})
		}
		h.logger.Infow("viewer left", "code", utils.MaskSensitive(string(m.code), 2), "peer_id", id)
	}
}

// Lookup reports whether code is hosted and whether a viewer is attached.
func (h *Hub) Lookup(ctx context.Context, code domain.AccessCode) (*domain.Room, error) {
	room, err := h.rooms.GetByCode(ctx, code)
	if err != nil {
		if _, ended := h.tombstones.Get(string(code)); ended {
			return nil, domain.ErrSessionClosed
		}
		return nil, err
	}
	return room, nil
}

func (h *Hub) Stats(ctx context.Context) domain.RelayStats {
	stats := domain.RelayStats{Timestamp: time.Now()}
	rooms, err := h.rooms.List(ctx)
	if err != nil {
		return stats
	}
	stats.ActiveRooms = len(rooms)
	for _, r := range rooms {
		if r.HasViewer() {
			stats.ConnectedViewers++
		}
	}
	return stats
}

// Ping backs the readiness check.
func (h *Hub) Ping(ctx context.Context) error {
	_, err := h.rooms.List(ctx)
	return err
}

// replyForJoinError turns a Join failure into the message sent to the viewer.
func replyForJoinError(code domain.AccessCode, err error) Message {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		reason := ReasonUnknownCode
		if errors.Is(err, ErrSessionEnded) {
			reason = ReasonSessionEnded
		}
		return Message{Type: TypeNotFound, Code: code, Reason: reason}
	case errors.Is(err, domain.ErrSessionBusy):
		return Message{Type: TypeError, Code: code, Reason: ReasonBusy}
	default:
		return Message{Type: TypeError, Code: code, Reason: ReasonInvalid}
	}
}

// Handle applies one client message and sends any error reply to from.
// The returned error is for logging only.
func (h *Hub) Handle(ctx context.Context, from Endpoint, msg Message) error {
	var err error
	switch msg.Type {
	case TypeCreateSession:
		if err = h.Register(ctx, msg.Code, from); err != nil {
			reason := ReasonInvalid
			if errors.Is(err, domain.ErrSessionBusy) {
				reason = ReasonBusy
			}
			_ = from.Send(Message{Type: TypeError, Code: msg.Code, Reason: reason})
		}
	case TypeJoinSession:
		if err = h.Join(ctx, msg.Code, from); err != nil {
			_ = from.Send(replyForJoinError(msg.Code, err))
		}
	case TypeOffer, TypeAnswer, TypeICECandidate:
		if err = h.Route(ctx, from, msg); err != nil {
			reason := ReasonInvalid
			if errors.Is(err, domain.ErrSessionNotFound) {
				reason = ReasonNoPeer
			}
			_ = from.Send(Message{Type: TypeError, OfferID: msg.OfferID, Reason: reason})
		}
	case TypeLeave:
		h.Leave(ctx, from)
	default:
		err = fmt.Errorf("unknown message type: %s", utils.TruncateString(string(msg.Type), 32))
		_ = from.Send(errorMessage(ReasonInvalid))
	}
	return err
}
