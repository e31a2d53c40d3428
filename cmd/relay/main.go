package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"screenlink/internal/app"
	httphandlers "screenlink/internal/handlers/http"
	"screenlink/internal/infrastructure/monitoring"
	"screenlink/internal/infrastructure/repositories/memory"
	signalinfra "screenlink/internal/infrastructure/signal"
	"screenlink/pkg/logger"
	"screenlink/pkg/tracing"
	"screenlink/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	startTime := time.Now()

	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		logger.New("info").Sugar().Fatalw("failed to load config", "path", *configPath, "error", err)
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	tp, err := tracing.Init(app.TracingConfig(cfg, os.Getenv("SCREENLINK_ENV")))
	if err != nil {
		log.Warnw("tracing disabled", "error", err)
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				log.Errorw("failed to flush traces", "error", err)
			}
		}()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := monitoring.NewPrometheusCollector(registry)

	hub := signalinfra.NewHub(app.HubConfig(cfg), memory.NewMemoryRoomRepository(), collector, log)
	wsServer := signalinfra.NewWebSocketServer(hub, app.ServerConfig(cfg), log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	health := monitoring.NewHealthChecker()
	health.AddPingCheck("hub", hub, cfg.Monitoring.MetricsInterval, 2*time.Second)
	health.StartBackgroundChecks(ctx)

	go func() {
		ticker := time.NewTicker(cfg.Monitoring.MetricsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				collector.UpdateRelayStats(hub.Stats(ctx))
			}
		}
	}()

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httphandlers.NewRouter(httphandlers.RouterDeps{
		Config:    cfg,
		Directory: hub,
		WebSocket: wsServer.HandleWebSocket,
		Health:    health,
		Gatherer:  registry,
		Logger:    log,
		StartedAt: startTime,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting screenlink relay", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Hijacked websocket connections are not tracked by srv.Shutdown.
	wsServer.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}
	cancel()
	hub.Close()

	log.Infow("screenlink relay stopped", "uptime", utils.FormatDuration(time.Since(startTime)))
}
