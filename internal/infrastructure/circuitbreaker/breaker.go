// Package circuitbreaker wraps Sony's GoBreaker for the calls that can
// cascade under a dependency outage: polygon lookups against PostgreSQL
// and scheduled upstream feed refreshes.
package circuitbreaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Breaker wraps a gobreaker circuit with structured logging and span
// annotations.
type Breaker struct {
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	name    string
}

// Config defines the breaker thresholds.
type Config struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
}

// New creates a circuit breaker. The breaker trips after at least three
// requests with a failure ratio of one half or worse.
//
// Parameters:
//   - cfg: Thresholds and the breaker name
//   - logger: Zap logger for state transitions
//
// Returns:
//   - *Breaker: Configured breaker
func New(cfg Config, logger *zap.Logger) *Breaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)

			return counts.Requests >= 3 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Breaker{
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
		name:    cfg.Name,
	}
}

// Execute runs fn inside the breaker.
//
// Parameters:
//   - ctx: Context for tracing
//   - operation: Operation label for logs and spans
//   - fn: Function to protect
//
// Returns:
//   - error: fn's error, or gobreaker.ErrOpenState / ErrTooManyRequests
func (b *Breaker) Execute(ctx context.Context, operation string, fn func() error) error {
	tracer := otel.Tracer("circuit-breaker")
	_, span := tracer.Start(ctx, "CircuitBreaker.Execute")

	defer span.End()

	span.SetAttributes(
		attribute.String("circuit_breaker.name", b.name),
		attribute.String("circuit_breaker.operation", operation),
	)

	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	if err != nil {
		span.RecordError(err)
		b.logger.Warn("circuit breaker execution failed",
			zap.String("name", b.name),
			zap.String("operation", operation),
			zap.String("state", b.breaker.State().String()),
			zap.Error(err))
	}

	return err
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.breaker.State()
}

// Counts returns the current request statistics.
func (b *Breaker) Counts() gobreaker.Counts {
	return b.breaker.Counts()
}
