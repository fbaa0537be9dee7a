// Package main is the entry point for the weather proxy: the stateless
// router that carries a client's request across the location and query
// services and returns the final response.
package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/wipnet/wip/internal/config"
	"github.com/wipnet/wip/internal/observability"
	"github.com/wipnet/wip/internal/proxy"
	"github.com/wipnet/wip/internal/server"
	"github.com/wipnet/wip/internal/version"
)

func main() {
	_ = godotenv.Load()

	cfg := config.LoadProxy()

	logger, err := newLogger(cfg.Server.Debug)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}

	defer func() { _ = logger.Sync() }()

	logger.Info("starting weather proxy",
		zap.String("version", version.Get().Version),
		zap.Int("port", cfg.Server.Port),
		zap.String("location", cfg.Location.Addr()),
		zap.String("query", cfg.Query.Addr()))

	ctx := context.Background()

	telemetry, err := observability.InitTelemetry(ctx, observability.Config(config.LoadObservability("wip-weather-proxy")), logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry, continuing without it", zap.Error(err))
	}

	locationAddr, err := net.ResolveUDPAddr("udp", cfg.Location.Addr())
	if err != nil {
		logger.Fatal("failed to resolve location endpoint", zap.Error(err))
	}

	queryAddr, err := net.ResolveUDPAddr("udp", cfg.Query.Addr())
	if err != nil {
		logger.Fatal("failed to resolve query endpoint", zap.Error(err))
	}

	router := proxy.New(proxy.Config{
		Version:      cfg.Version,
		LocationAddr: locationAddr,
		QueryAddr:    queryAddr,
	}, logger)

	srv := server.New(server.Config{
		Name:       "WeatherProxy",
		Host:       cfg.Server.Host,
		Port:       cfg.Server.Port,
		Workers:    cfg.Server.Workers,
		BufferSize: cfg.Server.BufferSize,
	}, router, logger)

	router.AttachSender(srv)

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
