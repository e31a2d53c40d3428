package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"screenlink/internal/app"
	"screenlink/internal/infrastructure/monitoring"
	"screenlink/pkg/tracing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// telemetry holds the per-process tracing and metrics state of a CLI run.
type telemetry struct {
	registry  *prometheus.Registry
	collector *monitoring.PrometheusCollector
	tracer    *tracing.TracerProvider
	server    *http.Server
}

// startTelemetry initializes tracing from cfg and a private metrics
// registry. The registry is served on addr when addr is set.
func startTelemetry(addr string) *telemetry {
	t := &telemetry{registry: prometheus.NewRegistry()}
	t.collector = monitoring.NewPrometheusCollector(t.registry)

	tp, err := tracing.Init(app.TracingConfig(cfg, os.Getenv("SCREENLINK_ENV")))
	if err != nil {
		log.Warnw("tracing disabled", "error", err)
	} else {
		t.tracer = tp
	}

	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler(t.registry))
		t.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Infow("serving metrics", "address", addr)
			if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorw("metrics server stopped", "error", err)
			}
		}()
	}
	return t
}

func metricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Stop flushes traces and closes the metrics listener.
func (t *telemetry) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if t.server != nil {
		_ = t.server.Shutdown(ctx)
	}
	if t.tracer != nil {
		if err := t.tracer.Shutdown(ctx); err != nil {
			log.Errorw("failed to flush traces", "error", err)
		}
	}
}
