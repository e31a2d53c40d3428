package signal

import (
	"context"
	"sync"
	"time"

	"screenlink/internal/core/domain"
	"screenlink/internal/core/ports"
	"screenlink/pkg/accesscode"
	"screenlink/pkg/utils"

	"github.com/pion/webrtc/v3"
)

// SimulatedClient resolves every signaling call locally. A join succeeds
// after a fixed delay for any code of acceptable length and yields an offer
// with no SDP, which viewers treat as a signaling-only pairing.
type SimulatedClient struct {
	delay     time.Duration
	validator accesscode.Validator

	candidates chan webrtc.ICECandidateInit
	done       chan struct{}
	closeOnce  sync.Once
}

func NewSimulatedClient(delay time.Duration) *SimulatedClient {
	return &SimulatedClient{
		delay:      delay,
		validator:  accesscode.DefaultValidator(),
		candidates: make(chan webrtc.ICECandidateInit),
		done:       make(chan struct{}),
	}
}

func SimulatedFactory(delay time.Duration) ports.SignalingFactory {
	return func(ctx context.Context, role domain.Role) (ports.SignalingClient, error) {
		return NewSimulatedClient(delay), nil
	}
}

func (c *SimulatedClient) CreateSession(ctx context.Context, code domain.AccessCode) error {
	return ctx.Err()
}

// AwaitViewer never sees a viewer; it returns when ctx ends or the client closes.
func (c *SimulatedClient) AwaitViewer(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return domain.ErrSessionClosed
	}
}

func (c *SimulatedClient) CreateOffer(ctx context.Context, code domain.AccessCode, offer webrtc.SessionDescription) (domain.OfferID, error) {
	return domain.OfferID(utils.GenerateOfferID()), nil
}

func (c *SimulatedClient) AwaitAnswer(ctx context.Context, offerID domain.OfferID) (webrtc.SessionDescription, error) {
	select {
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctxErr(ctx)
	case <-c.done:
		return webrtc.SessionDescription{}, domain.ErrSessionClosed
	}
}

func (c *SimulatedClient) JoinByCode(ctx context.Context, code domain.AccessCode) (webrtc.SessionDescription, error) {
	timer := time.NewTimer(c.delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	case <-c.done:
		return webrtc.SessionDescription{}, domain.ErrSessionClosed
	}

	if err := c.validator.Check(string(code)); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer}, nil
}

func (c *SimulatedClient) SendAnswer(ctx context.Context, answer webrtc.SessionDescription) error {
	return nil
}

func (c *SimulatedClient) SendCandidate(ctx context.Context, candidate webrtc.ICECandidateInit) error {
	return nil
}

func (c *SimulatedClient) Candidates() <-chan webrtc.ICECandidateInit {
	return c.candidates
}

func (c *SimulatedClient) Done() <-chan struct{} {
	return c.done
}

func (c *SimulatedClient) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}
