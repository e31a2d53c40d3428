package monitoring

import (
	"context"
	"time"
)

// Pinger is anything that can report its own liveness, such as the relay hub.
type Pinger interface {
	Ping(ctx context.Context) error
}

// AddPingCheck adds a check that passes while target answers Ping.
func (h *HealthChecker) AddPingCheck(name string, target Pinger, interval, timeout time.Duration) {
	h.AddCheck(name, func(ctx context.Context) (bool, error) {
		if err := target.Ping(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}
