// Package redisstore persists the long-lived weather documents and
// sensor reports in Redis. Documents live under weather:<area_code>,
// refresh stamps in the weather:timestamps map and the latest sensor
// report under report:<area_code>.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/wipnet/wip/internal/core/domain"
	"github.com/wipnet/wip/internal/core/ports"
)

const (
	weatherKeyPrefix = "weather:"
	timestampsKey    = "weather:timestamps"
	reportKeyPrefix  = "report:"
)

// Config holds Redis connection and pool settings. The pool is sized to
// 2 × the server's workers so every worker can hold a connection.
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// WeatherStore implements ports.WeatherRepository on Redis.
type WeatherStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewWeatherStore connects to Redis and verifies the connection.
//
// Parameters:
//   - cfg: Connection configuration
//   - logger: Zap logger for store operations
//
// Returns:
//   - *WeatherStore: Connected store
//   - error: Connection error if Redis is unavailable
func NewWeatherStore(cfg Config, logger *zap.Logger) (*WeatherStore, error) {
	client, err := connect(cfg)
	if err != nil {
		return nil, err
	}

	return &WeatherStore{client: client, logger: logger}, nil
}

func connect(cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return client, nil
}

// Document fetches the weather document for an area code.
func (s *WeatherStore) Document(ctx context.Context, areaCode string) (*domain.WeatherDocument, error) {
	tracer := otel.Tracer("redisstore")
	ctx, span := tracer.Start(ctx, "WeatherStore.Document")

	defer span.End()

	span.SetAttributes(attribute.String("area_code", areaCode))

	data, err := s.client.Get(ctx, weatherKeyPrefix+areaCode).Bytes()
	if errors.Is(err, redis.Nil) {
		s.logger.Debug("weather document absent", zap.String("area_code", areaCode))

		return nil, ports.ErrNotFound
	}

	if err != nil {
		span.RecordError(err)
		s.logger.Error("weather document fetch failed",
			zap.String("area_code", areaCode),
			zap.Error(err))

		return nil, err
	}

	var doc domain.WeatherDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		span.RecordError(err)

		return nil, err
	}

	return &doc, nil
}

// SaveDocument rewrites the weather document and its refresh stamp.
// The scheduler calls this; request workers only read.
func (s *WeatherStore) SaveDocument(ctx context.Context, areaCode string, doc *domain.WeatherDocument, stamp domain.UpdateStamp) error {
	tracer := otel.Tracer("redisstore")
	ctx, span := tracer.Start(ctx, "WeatherStore.SaveDocument")

	defer span.End()

	span.SetAttributes(attribute.String("area_code", areaCode))

	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	stampData, err := json.Marshal(stamp)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, weatherKeyPrefix+areaCode, data, 0)
	pipe.HSet(ctx, timestampsKey, areaCode, stampData)

	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		s.logger.Error("weather document save failed",
			zap.String("area_code", areaCode),
			zap.Error(err))

		return err
	}

	s.logger.Debug("weather document saved",
		zap.String("area_code", areaCode),
		zap.String("source", stamp.SourceType))

	return nil
}

// Stamp fetches the refresh stamp for an area code.
func (s *WeatherStore) Stamp(ctx context.Context, areaCode string) (*domain.UpdateStamp, error) {
	data, err := s.client.HGet(ctx, timestampsKey, areaCode).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ports.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	var stamp domain.UpdateStamp
	if err := json.Unmarshal(data, &stamp); err != nil {
		return nil, err
	}

	return &stamp, nil
}

// Close releases the connection pool.
func (s *WeatherStore) Close() error {
	return s.client.Close()
}
