package http

import (
	"context"
	"net/http"
	"time"

	"screenlink/internal/infrastructure/middleware"
	"screenlink/internal/infrastructure/monitoring"
	"screenlink/pkg/accesscode"
	"screenlink/pkg/config"
	"screenlink/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterDeps is everything the relay's HTTP surface is built from.
type RouterDeps struct {
	Config    *config.Config
	Directory SessionDirectory
	WebSocket http.HandlerFunc
	Health    *monitoring.HealthChecker
	Gatherer  prometheus.Gatherer
	Logger    *zap.SugaredLogger
	StartedAt time.Time
}

// NewRouter mounts /ws, the health endpoints, /metrics and the sessions API.
func NewRouter(deps RouterDeps) *gin.Engine {
	cfg := deps.Config
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(deps.Logger),
		middleware.TracingMiddleware(),
		middleware.ErrorHandlerMiddleware(deps.Logger),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	router.GET("/ws", middleware.NewWebSocketConnectLimitMiddleware(cfg), gin.WrapF(deps.WebSocket))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    monitoring.StatusHealthy,
			"timestamp": time.Now(),
			"uptime":    utils.FormatDuration(time.Since(deps.StartedAt)),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := deps.Health.CheckAll(ctx)
		code := http.StatusOK
		if status.Status != monitoring.StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled && deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	validator := accesscode.Validator{
		Min:    cfg.Session.CodeMinLength,
		Max:    cfg.Session.CodeMaxLength,
		Strict: cfg.Session.StrictCodes,
	}
	NewSessionHandler(deps.Directory, validator).SetupRoutes(router)

	return router
}
