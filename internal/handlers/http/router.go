package http

import (
	"vidstream/internal/infrastructure/middleware"
	"vidstream/pkg/config"
	"vidstream/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter assembles the admin API with its middleware chain. gatherer may
// be nil when Prometheus export is disabled.
func NewRouter(cfg *config.Config, admin *AdminHandler, gatherer prometheus.Gatherer, log *logger.ContextLogger) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestIDMiddleware(),
		middleware.RequestLoggerMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log),
	)

	admin.SetupRoutes(router)

	if cfg.Monitoring.PrometheusEnabled && gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return router
}
