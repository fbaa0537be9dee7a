// Package main is the entry point for the report service: ingestion of
// type-4 sensor reports with validation, optional Redis persistence,
// optional relay to another report endpoint and type-5 ACKs.
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
	wipclient "github.com/wipnet/wip/internal/client"
	"github.com/wipnet/wip/internal/config"
	"github.com/wipnet/wip/internal/core/ports"
	"github.com/wipnet/wip/internal/core/services"
	"github.com/wipnet/wip/internal/infrastructure/redisstore"
	"github.com/wipnet/wip/internal/observability"
	"github.com/wipnet/wip/internal/server"
	"github.com/wipnet/wip/internal/version"
)

func main() {
	_ = godotenv.Load()

	cfg := config.LoadReport()

	logger, err := newLogger(cfg.Server.Debug)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}

	defer func() { _ = logger.Sync() }()

	logger.Info("starting report server",
		zap.String("version", version.Get().Version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("persist", cfg.PersistReport),
		zap.Bool("forward", cfg.Forward != nil))

	ctx := context.Background()

	telemetry, err := observability.InitTelemetry(ctx, observability.Config(config.LoadObservability("wip-report-server")), logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry, continuing without it", zap.Error(err))
	}

	var repo ports.ReportRepository

	if cfg.PersistReport {
		redisCfg := redisstore.Config(cfg.Redis)
		if redisCfg.PoolSize <= 0 {
			redisCfg.PoolSize = cfg.Server.Workers * 2
		}

		store, err := redisstore.NewReportStore(redisCfg, logger)
		if err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}

		defer func() { _ = store.Close() }()

		repo = store
	}

	var forwarder ports.ReportForwarder

	if cfg.Forward != nil {
		relayClient, err := wipclient.New(&config.ClientConfig{
			Proxy:   *cfg.Forward,
			Query:   *cfg.Forward,
			Report:  *cfg.Forward,
			Version: cfg.Version,
			Timeout: 10 * time.Second,
			Auth:    cfg.Auth,
		}, logger)
		if err != nil {
			logger.Fatal("failed to create relay client", zap.Error(err))
		}

		defer func() { _ = relayClient.Close() }()

		forwarder = wipclient.NewForwarder(relayClient)
	}

	svc := services.NewReportService(repo, forwarder, logger)
	handler := udp.NewReportHandler(svc, cfg.Version, cfg.Auth, cfg.MaxReportSize, logger)

	srv := server.New(server.Config{
		Name:       "ReportServer",
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
