// Package main is the entry point for the location service: it resolves
// type-0 coordinate requests against the administrative polygon index
// and answers with type-1 responses.
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
	"github.com/wipnet/wip/internal/core/services"
	"github.com/wipnet/wip/internal/infrastructure/cache"
	"github.com/wipnet/wip/internal/infrastructure/circuitbreaker"
	"github.com/wipnet/wip/internal/infrastructure/database"
	"github.com/wipnet/wip/internal/observability"
	"github.com/wipnet/wip/internal/server"
	"github.com/wipnet/wip/internal/version"
)

func main() {
	_ = godotenv.Load()

	cfg := config.LoadLocation()

	logger, err := newLogger(cfg.Server.Debug)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}

	defer func() { _ = logger.Sync() }()

	logger.Info("starting location server",
		zap.String("version", version.Get().Version),
		zap.Int("port", cfg.Server.Port))

	ctx := context.Background()

	telemetry, err := observability.InitTelemetry(ctx, observability.Config(config.LoadObservability("wip-location-server")), logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry, continuing without it", zap.Error(err))
	}

	areaDB, err := database.NewAreaDB(database.Config(cfg.Database), logger)
	if err != nil {
		logger.Fatal("failed to connect to polygon database", zap.Error(err))
	}

	defer func() { _ = areaDB.Close() }()

	coordCache, err := cache.NewCoordinateCache(cfg.CacheSize)
	if err != nil {
		logger.Fatal("failed to create coordinate cache", zap.Error(err))
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:        "polygon-db",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
	}, logger)

	svc := services.NewLocationService(areaDB, coordCache, breaker, logger)
	handler := udp.NewLocationHandler(svc, cfg.Version, cfg.Auth, logger)

	srv := server.New(server.Config{
		Name:       "LocationServer",
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

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server gracefully", zap.Error(err))
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", zap.Error(err))
		}
	}
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
