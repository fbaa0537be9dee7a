// Package main is the entry point for the query service: area-keyed
// forecast lookups backed by Redis, an in-process response cache and
// the scheduled refresh of the weather documents.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/wipnet/wip/internal/adapters/udp"
	"github.com/wipnet/wip/internal/config"
	"github.com/wipnet/wip/internal/core/ports"
	"github.com/wipnet/wip/internal/core/services"
	"github.com/wipnet/wip/internal/infrastructure/cache"
	"github.com/wipnet/wip/internal/infrastructure/circuitbreaker"
	"github.com/wipnet/wip/internal/infrastructure/redisstore"
	"github.com/wipnet/wip/internal/infrastructure/scheduler"
	"github.com/wipnet/wip/internal/observability"
	"github.com/wipnet/wip/internal/server"
	"github.com/wipnet/wip/internal/version"
)

func main() {
	_ = godotenv.Load()

	cfg := config.LoadQuery()

	logger, err := newLogger(cfg.Server.Debug)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}

	defer func() { _ = logger.Sync() }()

	logger.Info("starting query server",
		zap.String("version", version.Get().Version),
		zap.Int("port", cfg.Server.Port))

	ctx := context.Background()

	telemetry, err := observability.InitTelemetry(ctx, observability.Config(config.LoadObservability("wip-query-server")), logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry, continuing without it", zap.Error(err))
	}

	// Redis connections are checked out per call; size the pool so
	// every worker can hold one with headroom.
	redisCfg := redisstore.Config(cfg.Redis)
	if redisCfg.PoolSize <= 0 {
		redisCfg.PoolSize = cfg.Server.Workers * 2
	}

	store, err := redisstore.NewWeatherStore(redisCfg, logger)
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}

	defer func() { _ = store.Close() }()

	responseCache := cache.NewMemoryCache(cfg.CacheTTL, cfg.CacheTTL, logger)
	querySvc := services.NewQueryService(store, responseCache, cfg.CacheTTL, logger)

	feedBreaker := circuitbreaker.New(circuitbreaker.Config{
		Name:        "forecast-feed",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     5 * time.Minute,
	}, logger)

	// Feed collaborators are deployment-provided; nil feeds leave the
	// documents to whatever populates Redis externally.
	var (
		forecastFeed ports.ForecastFeed
		hazardFeed   ports.HazardFeed
	)

	refreshSvc := services.NewRefreshService(store, forecastFeed, hazardFeed, feedBreaker, querySvc, logger)

	sched, err := scheduler.New(logger)
	if err != nil {
		logger.Fatal("failed to create scheduler", zap.Error(err))
	}

	if err := sched.DailyAt("forecast-refresh", cfg.UpdateTimes, func() {
		refreshSvc.RefreshForecasts(context.Background(), nil)
	}); err != nil {
		logger.Fatal("failed to schedule forecast refresh", zap.Error(err))
	}

	if err := sched.Every("skip-area-retry", cfg.RetryInterval, func() {
		refreshSvc.RetrySkipped(context.Background())
	}); err != nil {
		logger.Fatal("failed to schedule retry sweep", zap.Error(err))
	}

	if err := sched.Every("hazard-refresh", cfg.HazardInterval, func() {
		refreshSvc.RefreshHazards(context.Background())
	}); err != nil {
		logger.Fatal("failed to schedule hazard refresh", zap.Error(err))
	}

	if cfg.RefreshOnStartup {
		refreshSvc.RefreshForecasts(ctx, nil)
		refreshSvc.RefreshHazards(ctx)
	}

	sched.Start()

	handler := udp.NewQueryHandler(querySvc, cfg.Version, cfg.Auth, logger)

	srv := server.New(server.Config{
		Name:       "QueryServer",
		Host:       cfg.Server.Host,
		Port:       cfg.Server.Port,
		Workers:    cfg.Server.Workers,
		BufferSize: cfg.Server.BufferSize,
	}, handler, logger)

	go func() {
		if err := srv.Run(); err != nil {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sched.Stop(); err != nil {
		logger.Error("failed to stop scheduler", zap.Error(err))
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server gracefully", zap.Error(err))
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", zap.Error(err))
		}
	}

	logger.Info("query server stopped",
		zap.Uint64("refresh_failures", refreshSvc.FailureCount()))
}

// newLogger builds the production logger, or the development one when
// debug is on.
func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}

	return zap.NewProduction()
}

// waitForShutdown blocks until an interrupt or termination signal.
func waitForShutdown(logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")
}
