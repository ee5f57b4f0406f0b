package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vidstream/internal/core/ports"
	"vidstream/internal/core/services"
	httphandlers "vidstream/internal/handlers/http"
	"vidstream/internal/infrastructure/catalog"
	"vidstream/internal/infrastructure/middleware"
	"vidstream/internal/infrastructure/monitoring"
	repositories "vidstream/internal/infrastructure/repositories"
	"vidstream/internal/infrastructure/transport"
	"vidstream/pkg/config"
	"vidstream/pkg/logger"
	"vidstream/pkg/tracing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	if err := run(cfg, zapLogger); err != nil {
		zapLogger.Sugar().Fatalw("server failed", "error", err)
	}
}

// loadConfig reads path, or configs/config.yaml when none is given. A missing
// file yields the validated defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}
	return config.Load(path)
}

func run(cfg *config.Config, zapLogger *zap.Logger) error {
	log := zapLogger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "vidstream",
		Version:     version,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Errorw("tracer shutdown failed", "error", err)
		}
	}()

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		return fmt.Errorf("create repository factory: %w", err)
	}
	defer repoFactory.Close()
	catalogRepo := repoFactory.CreateCatalogRepository()

	scanner := catalog.NewScanner(cfg.MediaRoots(), cfg.Catalog.MediaType, log)
	videos, err := scanner.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan media roots: %w", err)
	}
	if err := catalogRepo.Replace(ctx, videos); err != nil {
		return fmt.Errorf("publish catalog: %w", err)
	}

	metricsService := services.NewMetricsService()
	registry := services.NewSessionRegistry()

	promRegistry := prometheus.NewRegistry()
	var deliveryMetrics ports.DeliveryMetrics = metricsService
	if cfg.Monitoring.PrometheusEnabled {
		promRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		deliveryMetrics = services.MultiMetrics{metricsService, monitoring.NewPrometheusCollector(promRegistry)}
		log.Info("Prometheus metrics enabled")
	}

	delivery := services.NewDeliveryService(catalogRepo, services.DeliveryConfig{
		ChunkSize:        cfg.Server.ChunkSize,
		MaxBufferSeconds: cfg.Server.MaxBufferSeconds,
		PollCadence:      cfg.Server.PollCadence,
		WaitInterval:     cfg.Server.WaitInterval,
		ReadTimeout:      cfg.Server.ReadTimeout,
	}, deliveryMetrics, registry, log)

	tcpServer := transport.NewServer(cfg.Server.Address, delivery, transport.Options{
		MaxConnections: cfg.Server.MaxConnections,
		Gate:           middleware.NewConnectionLimiter(cfg),
	}, log)

	health := monitoring.NewHealthChecker()
	health.AddCatalogCheck(catalogRepo, false, 2*time.Second)
	if client := repoFactory.RedisClient(); client != nil {
		health.AddRedisCheck(client, 2*time.Second)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return tcpServer.ListenAndServe(gctx)
	})

	if cfg.Admin.Enabled {
		admin := httphandlers.NewAdminHandler(catalogRepo, registry, metricsService, health)
		router := httphandlers.NewRouter(cfg, admin, promRegistry, logger.NewContextLogger(zapLogger))
		httpServer := &http.Server{
			Addr:         cfg.Admin.Address,
			Handler:      router,
			ReadTimeout:  cfg.Admin.ReadTimeout,
			WriteTimeout: cfg.Admin.WriteTimeout,
		}

		g.Go(func() error {
			log.Infow("admin API listening", "address", cfg.Admin.Address)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Admin.ShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				httpServer.Close()
				return fmt.Errorf("admin server shutdown: %w", err)
			}
			return nil
		})
	}

	log.Infow("vidstream server starting",
		"version", version,
		"address", cfg.Server.Address,
		"videos", len(videos),
		"catalog_backend", repoFactory.Backend(),
	)

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		log.Info("shutting down")
	}

	select {
	case err := <-done:
		log.Info("server stopped")
		return err
	case <-time.After(cfg.Server.ShutdownTimeout):
		return fmt.Errorf("shutdown did not finish within %s", cfg.Server.ShutdownTimeout)
	}
}
