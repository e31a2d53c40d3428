package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"screenlink/internal/core/domain"
	"screenlink/internal/core/ports"
	"screenlink/pkg/tracing"
	"screenlink/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrSendBufferFull is returned when a peer cannot keep up with relayed traffic.
var ErrSendBufferFull = errors.New("send buffer full")

type ServerConfig struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	MaxMessageBytes   int64
	MessagesPerSecond float64
	Burst             int
	MaxConnections    int
	CheckOrigin       func(r *http.Request) bool
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		PingInterval:    30 * time.Second,
		PongTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		MaxMessageBytes: 64 * 1024,
	}
}

// WebSocketServer bridges gorilla websocket connections onto a Hub.
type WebSocketServer struct {
	hub      *Hub
	cfg      ServerConfig
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger

	mu          sync.RWMutex
	connections map[domain.PeerID]*wsPeer
}

// wsPeer is the Endpoint for one websocket connection.
type wsPeer struct {
	id        domain.PeerID
	conn      *websocket.Conn
	send      chan []byte
	limiter   *rate.Limiter
	closeOnce sync.Once
	done      chan struct{}
}

func (p *wsPeer) ID() domain.PeerID { return p.id }

func (p *wsPeer) Send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case <-p.done:
		return fmt.Errorf("peer %s: %w", p.id, domain.ErrSignalingTransport)
	default:
	}
	select {
	case p.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (p *wsPeer) close() {
	p.closeOnce.Do(func() { close(p.done) })
}

var _ ports.WebSocketHandler = (*WebSocketServer)(nil)

func NewWebSocketServer(hub *Hub, cfg ServerConfig, logger *zap.SugaredLogger) *WebSocketServer {
	defaults := DefaultServerConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		cfg.PongTimeout = 2 * cfg.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaults.MaxMessageBytes
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &WebSocketServer{
		hub: hub,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger:      logger,
		connections: make(map[domain.PeerID]*wsPeer),
	}
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxConnections > 0 && s.ConnectionCount() >= s.cfg.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	peer := &wsPeer{
		id:   domain.PeerID(utils.GeneratePeerID()),
		conn: conn,
		send: make(chan []byte, 256),
		done: make(chan struct{}),
	}
	if s.cfg.MessagesPerSecond > 0 {
		burst := s.cfg.Burst
		if burst <= 0 {
			burst = int(s.cfg.MessagesPerSecond)
		}
		peer.limiter = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), burst)
	}

	s.mu.Lock()
	s.connections[peer.id] = peer
	s.mu.Unlock()

	s.logger.Infow("peer connected", "peer_id", peer.id, "remote_addr", r.RemoteAddr)

	go s.writePump(peer)
	s.readPump(peer)
}

func (s *WebSocketServer) readPump(peer *wsPeer) {
	defer func() {
		s.hub.Leave(context.Background(), peer)
		s.mu.Lock()
		delete(s.connections, peer.id)
		s.mu.Unlock()
		peer.close()
		peer.conn.Close()
		s.logger.Infow("peer disconnected", "peer_id", peer.id)
	}()

	peer.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = peer.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	peer.conn.SetPongHandler(func(string) error {
		return peer.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		_, data, err := peer.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading message from peer", "peer_id", peer.id, "error", err)
			}
			return
		}
		_ = peer.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		if peer.limiter != nil && !peer.limiter.Allow() {
			_ = peer.Send(errorMessage(ReasonRateLimited))
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = peer.Send(errorMessage(ReasonInvalid))
			continue
		}

		if msg.Type == TypeLeave {
			return
		}
		s.handleMessage(peer, msg)
	}
}

func (s *WebSocketServer) writePump(peer *wsPeer) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		peer.conn.Close()
	}()

	for {
		select {
		case data := <-peer.send:
			_ = peer.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := peer.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Infow("websocket write failed", "peer_id", peer.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = peer.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := peer.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-peer.done:
			// flush what is queued, then say goodbye
			for {
				select {
				case data := <-peer.send:
					_ = peer.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
					if err := peer.conn.WriteMessage(websocket.TextMessage, data); err != nil {
						return
					}
				default:
					_ = peer.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(s.cfg.WriteTimeout))
					return
				}
			}
		}
	}
}

func (s *WebSocketServer) handleMessage(peer *wsPeer, msg Message) {
	ctx, span := tracing.TraceWebSocketMessage(context.Background(), string(msg.Type), string(peer.id))
	defer span.End()

	err := s.hub.Handle(ctx, peer, msg)
	if err != nil {
		tracing.RecordError(ctx, err)
		s.logger.Infow("error handling message from peer", "peer_id", peer.id, "type", msg.Type, "error", err)
	}
}

func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// Shutdown closes every connection. The hub sees each as a departure.
func (s *WebSocketServer) Shutdown() {
	s.mu.RLock()
	peers := make([]*wsPeer, 0, len(s.connections))
	for _, p := range s.connections {
		peers = append(peers, p)
	}
	s.mu.RUnlock()

	for _, p := range peers {
		p.close()
	}
}
