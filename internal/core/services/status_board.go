package services

import (
	"sync"
	"time"

	"screenlink/internal/core/domain"

	"go.uber.org/zap"
)

// StatusObserver is told about every published status change.
// monitoring.PrometheusCollector implements it.
type StatusObserver interface {
	SessionStatusChanged(role domain.Role, status domain.SessionStatus)
}

const subscriberDepth = 32

// StatusBoard holds the status/message pair the presentation layer reads and
// fans every change out to subscribers. Slow subscribers miss updates rather
// than block a session.
type StatusBoard struct {
	mu       sync.Mutex
	current  domain.StatusSnapshot
	subs     map[chan domain.StatusSnapshot]struct{}
	observer StatusObserver
	logger   *zap.SugaredLogger
}

func NewStatusBoard(observer StatusObserver, logger *zap.SugaredLogger) *StatusBoard {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &StatusBoard{
		current:  domain.StatusSnapshot{Status: domain.StatusIdle},
		subs:     make(map[chan domain.StatusSnapshot]struct{}),
		observer: observer,
		logger:   logger,
	}
}

// Snapshot returns the most recently published status of either role.
func (b *StatusBoard) Snapshot() domain.StatusSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Subscribe returns a channel of future snapshots and a cancel func that
// unregisters and closes it.
func (b *StatusBoard) Subscribe() (<-chan domain.StatusSnapshot, func()) {
	ch := make(chan domain.StatusSnapshot, subscriberDepth)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *StatusBoard) publish(snap domain.StatusSnapshot) {
	if snap.At.IsZero() {
		snap.At = time.Now()
	}

	b.mu.Lock()
	b.current = snap
	dropped := 0
	for sub := range b.subs {
		select {
		case sub <- snap:
		default:
			dropped++
		}
	}
	b.mu.Unlock()

	if dropped > 0 {
		b.logger.Debugw("status subscribers lagging", "dropped", dropped, "role", string(snap.Role))
	}
	if b.observer != nil {
		b.observer.SessionStatusChanged(snap.Role, snap.Status)
	}
}
