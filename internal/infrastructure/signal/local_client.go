package signal

import (
	"context"
	"fmt"
	"sync"

	"screenlink/internal/core/domain"
	"screenlink/internal/core/ports"
	"screenlink/pkg/utils"

	"go.uber.org/zap"
)

// LocalClient talks to an in-process Hub without a network hop. It backs
// the embedded relay and the end-to-end tests.
type LocalClient struct {
	*clientCore

	id        domain.PeerID
	hub       *Hub
	closeOnce sync.Once
}

func NewLocalClient(hub *Hub, timeouts ClientTimeouts, logger *zap.SugaredLogger) *LocalClient {
	c := &LocalClient{
		id:  domain.PeerID(utils.GeneratePeerID()),
		hub: hub,
	}
	c.clientCore = newClientCore(c.forward, timeouts, logger)
	return c
}

// LocalFactory hands out a new LocalClient per session attempt.
func LocalFactory(hub *Hub, timeouts ClientTimeouts, logger *zap.SugaredLogger) ports.SignalingFactory {
	return func(ctx context.Context, role domain.Role) (ports.SignalingClient, error) {
		return NewLocalClient(hub, timeouts, logger.With("role", string(role))), nil
	}
}

func (c *LocalClient) ID() domain.PeerID { return c.id }

// Send receives a message from the hub.
func (c *LocalClient) Send(msg Message) error {
	select {
	case <-c.done:
		return fmt.Errorf("peer %s: %w", c.id, domain.ErrSignalingTransport)
	default:
	}
	c.deliver(msg)
	return nil
}

func (c *LocalClient) forward(msg Message) error {
	if err := c.hub.Handle(context.Background(), c, msg); err != nil {
		c.logger.Debugw("hub rejected message", "type", msg.Type, "error", err)
	}
	return nil
}

func (c *LocalClient) Close() error {
	c.closeOnce.Do(func() {
		c.hub.Leave(context.Background(), c)
		c.terminate(domain.ErrSessionClosed)
	})
	return nil
}
