// Package observability bootstraps OpenTelemetry tracing and metrics
// for the WIP services. Each binary initializes one Telemetry instance;
// spans and counters flow through the global providers it installs.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Telemetry owns the tracer and meter providers plus the instruments
// shared by the UDP servers.
type Telemetry struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	logger         *zap.Logger

	// Metrics
	PacketCounter    metric.Int64Counter
	PacketDuration   metric.Float64Histogram
	ErrorCounter     metric.Int64Counter
	CacheHitCounter  metric.Int64Counter
	CacheMissCounter metric.Int64Counter
	RefreshCounter   metric.Int64Counter
}

// Config identifies the service to the collector.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	SampleRate     float64
}

// InitTelemetry installs global tracer and meter providers and creates
// the shared instruments.
//
// Parameters:
//   - ctx: Context for exporter initialization
//   - cfg: Service identity and exporter settings
//   - logger: Zap logger
//
// Returns:
//   - *Telemetry: Initialized telemetry handle
//   - error: Resource, exporter or instrument creation failure
func InitTelemetry(ctx context.Context, cfg Config, logger *zap.Logger) (*Telemetry, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tracerProvider, err := initTracerProvider(ctx, cfg, res)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracer provider: %w", err)
	}

	meterProvider, err := initMeterProvider(res)
	if err != nil {
		return nil, fmt.Errorf("failed to init meter provider: %w", err)
	}

	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	meter := meterProvider.Meter(cfg.ServiceName)

	packetCounter, err := meter.Int64Counter(
		"wip_packets_total",
		metric.WithDescription("Total number of received packets"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	packetDuration, err := meter.Float64Histogram(
		"wip_packet_duration_seconds",
		metric.WithDescription("Packet handling duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"wip_errors_total",
		metric.WithDescription("Total number of error responses"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	cacheHitCounter, err := meter.Int64Counter(
		"wip_cache_hits_total",
		metric.WithDescription("Total number of response cache hits"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	cacheMissCounter, err := meter.Int64Counter(
		"wip_cache_misses_total",
		metric.WithDescription("Total number of response cache misses"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	refreshCounter, err := meter.Int64Counter(
		"wip_refresh_failures_total",
		metric.WithDescription("Total number of scheduled refresh failures"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		TracerProvider:   tracerProvider,
		MeterProvider:    meterProvider,
		Tracer:           tracerProvider.Tracer(cfg.ServiceName),
		Meter:            meter,
		logger:           logger,
		PacketCounter:    packetCounter,
		PacketDuration:   packetDuration,
		ErrorCounter:     errorCounter,
		CacheHitCounter:  cacheHitCounter,
		CacheMissCounter: cacheMissCounter,
		RefreshCounter:   refreshCounter,
	}, nil
}

func initTracerProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptrace.New(
		ctx,
		otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
	)

	return tp, nil
}

func initMeterProvider(res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)

	return mp, nil
}

// RecordPacket counts one handled packet with its type and outcome.
func (t *Telemetry) RecordPacket(ctx context.Context, packetType string, errored bool, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("packet_type", packetType),
		attribute.Bool("error", errored),
	}

	t.PacketCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	t.PacketDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))

	if errored {
		t.ErrorCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordCacheHit counts a response-cache hit.
func (t *Telemetry) RecordCacheHit(ctx context.Context, key string) {
	t.CacheHitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("key", key),
	))
}

// RecordCacheMiss counts a response-cache miss.
func (t *Telemetry) RecordCacheMiss(ctx context.Context, key string) {
	t.CacheMissCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("key", key),
	))
}

// RecordRefreshFailure counts a failed scheduled refresh.
func (t *Telemetry) RecordRefreshFailure(ctx context.Context, source string) {
	t.RefreshCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
	))
}

// Shutdown flushes and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.TracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}

	if err := t.MeterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown meter provider: %w", err)
	}

	return nil
}
