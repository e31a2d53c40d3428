package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"screenlink/internal/app"
	"screenlink/internal/core/domain"
	"screenlink/internal/core/ports"
	"screenlink/internal/core/services"
	"screenlink/internal/infrastructure/monitoring"
	"screenlink/internal/infrastructure/repositories/memory"
	signalinfra "screenlink/internal/infrastructure/signal"
	peerconn "screenlink/internal/infrastructure/webrtc"
)

// signalingFlags selects how a session reaches its peer.
type signalingFlags struct {
	relay     string
	simulated bool
}

func (f signalingFlags) factory() ports.SignalingFactory {
	if f.simulated {
		return signalinfra.SimulatedFactory(cfg.Signal.SimulatedDelay)
	}
	dc := app.DialerConfig(cfg, f.relay)
	return signalinfra.NewDialer(dc, log.With("relay", dc.URL)).Factory()
}

// newController wires a session controller. A non-nil collector receives
// both peer negotiation metrics and status changes.
func newController(capture ports.CaptureSource, signaling ports.SignalingFactory, collector *monitoring.PrometheusCollector) (*services.SessionController, error) {
	factory, err := peerconn.NewFactory(app.PeerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("webrtc setup: %w", err)
	}
	deps := services.ControllerDeps{
		Capture:   capture,
		Signaling: signaling,
		Profile:   app.CaptureProfile(cfg),
		Validator: app.Validator(cfg),
		Logger:    log,
	}
	var metrics peerconn.Metrics
	if collector != nil {
		metrics = collector
		deps.Observer = collector
	}
	deps.Peers = peerconn.SessionFactory(factory, app.SessionConfig(cfg), metrics, log)
	return services.NewSessionController(deps), nil
}

// sessionMetrics is the collector of the running command, if any.
func sessionMetrics() *monitoring.PrometheusCollector {
	if telem == nil {
		return nil
	}
	return telem.collector
}

// embeddedRelay serves a private hub on cfg.Server.Address so a viewer can
// dial this process directly.
type embeddedRelay struct {
	hub *signalinfra.Hub
	ws  *signalinfra.WebSocketServer
	srv *http.Server
}

func startEmbeddedRelay() *embeddedRelay {
	var metrics signalinfra.Metrics
	if c := sessionMetrics(); c != nil {
		metrics = c
	}
	hub := signalinfra.NewHub(app.HubConfig(cfg), memory.NewMemoryRoomRepository(), metrics, log)
	ws := signalinfra.NewWebSocketServer(hub, app.ServerConfig(cfg), log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", ws.HandleWebSocket)
	srv := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     mux,
		ReadTimeout: cfg.Server.ReadTimeout,
	}
	go func() {
		log.Infow("embedded relay listening", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("embedded relay stopped", "error", err)
		}
	}()
	return &embeddedRelay{hub: hub, ws: ws, srv: srv}
}

func (r *embeddedRelay) factory() ports.SignalingFactory {
	return signalinfra.LocalFactory(r.hub, app.ClientTimeouts(cfg), log)
}

func (r *embeddedRelay) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	r.ws.Shutdown()
	_ = r.srv.Shutdown(ctx)
	r.hub.Close()
}

// printStatus writes one line per status change until the channel closes.
func printStatus(out io.Writer, updates <-chan domain.StatusSnapshot) {
	for snap := range updates {
		if snap.IsError() {
			fmt.Fprintf(out, "[%s] %s: %s\n", snap.Role, snap.Status, snap.Message)
			continue
		}
		fmt.Fprintf(out, "[%s] %s\n", snap.Role, snap.Status)
	}
}

// sessionError prefers the user-facing message the session published.
func sessionError(snap domain.StatusSnapshot, err error) error {
	if snap.IsError() && snap.Message != "" {
		return errors.New(snap.Message)
	}
	return err
}

func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
