package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"screenlink/internal/core/domain"
	"screenlink/internal/core/ports"
	"screenlink/pkg/circuitbreaker"
	"screenlink/pkg/retry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type DialerConfig struct {
	URL          string
	Timeouts     ClientTimeouts
	Retry        retry.Config
	Breaker      circuitbreaker.Config
	PongTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultDialerConfig(url string) DialerConfig {
	rc := retry.DefaultConfig()
	rc.Retryable = domain.IsRetryable
	bc := circuitbreaker.DefaultConfig()
	bc.IsFailure = domain.IsRetryable
	return DialerConfig{
		URL:          url,
		Timeouts:     DefaultClientTimeouts(),
		Retry:        rc,
		Breaker:      bc,
		PongTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Dialer opens relay connections. One breaker guards every dial so a dead
// relay fails fast across repeated session attempts.
type Dialer struct {
	cfg     DialerConfig
	ws      *websocket.Dialer
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

func NewDialer(cfg DialerConfig, logger *zap.SugaredLogger) *Dialer {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	d := &Dialer{
		cfg:     cfg,
		ws:      &websocket.Dialer{HandshakeTimeout: cfg.Timeouts.Join},
		breaker: circuitbreaker.New(cfg.Breaker),
		logger:  logger,
	}
	d.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("relay circuit breaker state changed", "from", from.String(), "to", to.String())
	})
	return d
}

func (d *Dialer) Breaker() *circuitbreaker.CircuitBreaker {
	return d.breaker
}

// Dial connects to the relay, retrying transport failures with backoff.
func (d *Dialer) Dial(ctx context.Context) (*WSClient, error) {
	return retry.RetryWithResult(ctx, d.cfg.Retry, func() (*WSClient, error) {
		client, err := circuitbreaker.Execute(ctx, d.breaker, func() (*WSClient, error) {
			return d.dialOnce(ctx)
		})
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return nil, fmt.Errorf("%w: %v", domain.ErrSignalingTransport, err)
		}
		return client, err
	})
}

func (d *Dialer) dialOnce(ctx context.Context) (*WSClient, error) {
	conn, _, err := d.ws.DialContext(ctx, d.cfg.URL, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("dial %s: %w", d.cfg.URL, domain.ErrSignalingTimeout)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", domain.ErrSignalingTransport, d.cfg.URL, err)
	}
	return newWSClient(conn, d.cfg, d.logger), nil
}

// Factory adapts the dialer to the session controller.
func (d *Dialer) Factory() ports.SignalingFactory {
	return func(ctx context.Context, role domain.Role) (ports.SignalingClient, error) {
		client, err := d.Dial(ctx)
		if err != nil {
			return nil, err
		}
		d.logger.Debugw("relay connection opened", "role", string(role), "url", d.cfg.URL)
		return client, nil
	}
}

// WSClient is a SignalingClient over one relay websocket.
type WSClient struct {
	*clientCore

	conn         *websocket.Conn
	writeTimeout time.Duration
	pongTimeout  time.Duration
	logger       *zap.SugaredLogger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn, cfg DialerConfig, logger *zap.SugaredLogger) *WSClient {
	c := &WSClient{
		conn:         conn,
		writeTimeout: cfg.WriteTimeout,
		pongTimeout:  cfg.PongTimeout,
		logger:       logger,
	}
	c.clientCore = newClientCore(c.write, cfg.Timeouts, logger)
	go c.readLoop()
	return c
}

func (c *WSClient) write(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WSClient) readLoop() {
	defer c.terminate(fmt.Errorf("relay connection lost: %w", domain.ErrSignalingTransport))

	if c.pongTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
		c.conn.SetPingHandler(func(appData string) error {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
			return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.writeTimeout))
		})
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Infow("relay read failed", "error", err)
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warnw("malformed relay message", "error", err)
			continue
		}
		c.deliver(msg)
	}
}

// Close leaves the session and drops the connection. Safe to call twice.
func (c *WSClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		select {
		case <-c.done:
		default:
			_ = c.write(Message{Type: TypeLeave})
		}
		c.terminate(domain.ErrSessionClosed)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.writeTimeout))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
