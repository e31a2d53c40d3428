package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"screenlink/internal/core/domain"
	"screenlink/pkg/tracing"
	"screenlink/pkg/utils"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type ClientTimeouts struct {
	Join   time.Duration
	Answer time.Duration
	Viewer time.Duration // zero waits until the context ends
}

func DefaultClientTimeouts() ClientTimeouts {
	return ClientTimeouts{Join: 10 * time.Second, Answer: 30 * time.Second}
}

// clientCore implements the signaling contract on top of any message
// transport. The transport calls deliver for each inbound message and
// terminate when the connection is gone.
type clientCore struct {
	send     func(Message) error
	timeouts ClientTimeouts
	logger   *zap.SugaredLogger

	ctrl       chan Message
	viewers    chan struct{}
	offers     chan Message
	answers    chan Message
	candidates chan webrtc.ICECandidateInit

	done     chan struct{}
	doneOnce sync.Once
	doneErr  error

	mu      sync.Mutex
	code    domain.AccessCode
	offerID domain.OfferID
}

func newClientCore(send func(Message) error, timeouts ClientTimeouts, logger *zap.SugaredLogger) *clientCore {
	return &clientCore{
		send:       send,
		timeouts:   timeouts,
		logger:     logger,
		ctrl:       make(chan Message, 8),
		viewers:    make(chan struct{}, 4),
		offers:     make(chan Message, 4),
		answers:    make(chan Message, 4),
		candidates: make(chan webrtc.ICECandidateInit, 64),
		done:       make(chan struct{}),
	}
}

func (c *clientCore) deliver(msg Message) {
	var ch chan Message
	switch msg.Type {
	case TypeSessionCreated, TypeSessionJoined, TypeNotFound:
		ch = c.ctrl
	case TypeError:
		if msg.OfferID != "" {
			ch = c.answers
		} else {
			ch = c.ctrl
		}
	case TypeOffer:
		ch = c.offers
	case TypeAnswer:
		ch = c.answers
	case TypeViewerJoined:
		select {
		case c.viewers <- struct{}{}:
		default:
		}
		return
	case TypeViewerLeft:
		c.logger.Infow("viewer left", "code", utils.MaskSensitive(string(msg.Code), 2))
		c.mu.Lock()
		msg.OfferID = c.offerID
		c.mu.Unlock()
		if msg.OfferID == "" {
			return
		}
		// Wakes a pending AwaitAnswer for the offer the viewer abandoned.
		ch = c.answers
	case TypeICECandidate:
		if msg.Candidate == nil {
			return
		}
		select {
		case c.candidates <- *msg.Candidate:
		default:
			c.logger.Warnw("dropping remote candidate, buffer full")
		}
		return
	case TypeSessionEnded:
		c.terminate(fmt.Errorf("%s: %w", msg.Reason, domain.ErrSessionClosed))
		return
	default:
		c.logger.Debugw("ignoring signaling message", "type", msg.Type)
		return
	}

	select {
	case ch <- msg:
	default:
		c.logger.Warnw("dropping signaling message, buffer full", "type", msg.Type)
	}
}

// terminate records why the channel ended. Only the first call counts.
func (c *clientCore) terminate(err error) {
	c.doneOnce.Do(func() {
		c.doneErr = err
		close(c.done)
	})
}

func (c *clientCore) Done() <-chan struct{} {
	return c.done
}

func (c *clientCore) closedErr() error {
	if c.doneErr != nil {
		return c.doneErr
	}
	return domain.ErrSignalingTransport
}

func (c *clientCore) transmit(msg Message) error {
	select {
	case <-c.done:
		return c.closedErr()
	default:
	}
	if err := c.send(msg); err != nil {
		if errors.Is(err, domain.ErrSignalingTransport) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrSignalingTransport, err)
	}
	return nil
}

// await blocks on ch until a message, the deadline, or termination.
func (c *clientCore) await(ctx context.Context, ch <-chan Message, timeout time.Duration) (Message, error) {
	if timeout > 0 {
		if _, has := ctx.Deadline(); !has {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
	}
	select {
	case msg := <-ch:
		return msg, nil
	case <-c.done:
		return Message{}, c.closedErr()
	case <-ctx.Done():
		return Message{}, ctxErr(ctx)
	}
}

func ctxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.ErrSignalingTimeout
	}
	return ctx.Err()
}

func replyError(msg Message) error {
	switch {
	case msg.Type == TypeNotFound && msg.Reason == ReasonSessionEnded:
		return ErrSessionEnded
	case msg.Type == TypeNotFound:
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, msg.Reason)
	case msg.Reason == ReasonBusy:
		return domain.ErrSessionBusy
	case msg.Reason == ReasonInvalid:
		return domain.ErrInvalidCode
	case msg.Reason == ReasonNoPeer:
		return fmt.Errorf("%s: %w", msg.Reason, domain.ErrSessionNotFound)
	default:
		return fmt.Errorf("%w: relay error %q", domain.ErrSignalingTransport, utils.TruncateString(utils.SanitizeString(msg.Reason), 64))
	}
}

func (c *clientCore) CreateSession(ctx context.Context, code domain.AccessCode) error {
	ctx, span := tracing.TraceSignaling(ctx, "create_session", utils.MaskSensitive(string(code), 2))
	defer span.End()

	if err := c.transmit(Message{Type: TypeCreateSession, Code: code}); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	reply, err := c.await(ctx, c.ctrl, c.timeouts.Join)
	if err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	if reply.Type != TypeSessionCreated {
		err = replyError(reply)
		tracing.RecordError(ctx, err)
		return err
	}

	c.mu.Lock()
	c.code = code
	c.mu.Unlock()
	return nil
}

func (c *clientCore) AwaitViewer(ctx context.Context) error {
	if c.timeouts.Viewer > 0 {
		if _, has := ctx.Deadline(); !has {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeouts.Viewer)
			defer cancel()
		}
	}
	select {
	case <-c.viewers:
		return nil
	case <-c.done:
		return c.closedErr()
	case <-ctx.Done():
		return ctxErr(ctx)
	}
}

func (c *clientCore) CreateOffer(ctx context.Context, code domain.AccessCode, offer webrtc.SessionDescription) (domain.OfferID, error) {
	id := domain.OfferID(utils.GenerateOfferID())
	if err := c.transmit(Message{Type: TypeOffer, Code: code, OfferID: id, SDP: offer.SDP}); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.offerID = id
	c.mu.Unlock()
	return id, nil
}

func (c *clientCore) AwaitAnswer(ctx context.Context, offerID domain.OfferID) (webrtc.SessionDescription, error) {
	ctx, span := tracing.TraceSignaling(ctx, "await_answer", "")
	defer span.End()
	span.SetAttributes(tracing.OfferIDKey.String(string(offerID)))

	if c.timeouts.Answer > 0 {
		if _, has := ctx.Deadline(); !has {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeouts.Answer)
			defer cancel()
		}
	}

	for {
		msg, err := c.await(ctx, c.answers, 0)
		if err != nil {
			tracing.RecordError(ctx, err)
			return webrtc.SessionDescription{}, err
		}
		if msg.OfferID != offerID {
			c.logger.Debugw("discarding answer for stale offer", "offer_id", msg.OfferID)
			continue
		}
		if msg.Type == TypeViewerLeft {
			return webrtc.SessionDescription{}, domain.ErrViewerLeft
		}
		if msg.Type == TypeError {
			err = replyError(msg)
			tracing.RecordError(ctx, err)
			return webrtc.SessionDescription{}, err
		}
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}, nil
	}
}

func (c *clientCore) JoinByCode(ctx context.Context, code domain.AccessCode) (webrtc.SessionDescription, error) {
	ctx, span := tracing.TraceSignaling(ctx, "join", utils.MaskSensitive(string(code), 2))
	defer span.End()

	fail := func(err error) (webrtc.SessionDescription, error) {
		tracing.RecordError(ctx, err)
		return webrtc.SessionDescription{}, err
	}

	if c.timeouts.Join > 0 {
		if _, has := ctx.Deadline(); !has {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeouts.Join)
			defer cancel()
		}
	}

	if err := c.transmit(Message{Type: TypeJoinSession, Code: code}); err != nil {
		return fail(err)
	}
	reply, err := c.await(ctx, c.ctrl, 0)
	if err != nil {
		return fail(err)
	}
	if reply.Type != TypeSessionJoined {
		return fail(replyError(reply))
	}

	offer, err := c.await(ctx, c.offers, 0)
	if err != nil {
		return fail(err)
	}

	c.mu.Lock()
	c.code = code
	c.offerID = offer.OfferID
	c.mu.Unlock()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}, nil
}

func (c *clientCore) SendAnswer(ctx context.Context, answer webrtc.SessionDescription) error {
	c.mu.Lock()
	code, offerID := c.code, c.offerID
	c.mu.Unlock()
	return c.transmit(Message{Type: TypeAnswer, Code: code, OfferID: offerID, SDP: answer.SDP})
}

func (c *clientCore) SendCandidate(ctx context.Context, candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	code := c.code
	c.mu.Unlock()
	return c.transmit(Message{Type: TypeICECandidate, Code: code, Candidate: &candidate})
}

func (c *clientCore) Candidates() <-chan webrtc.ICECandidateInit {
	return c.candidates
}
