package redisstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/wipnet/wip/internal/core/domain"
	"github.com/wipnet/wip/internal/core/ports"
)

// ReportStore implements ports.ReportRepository on Redis. Each area
// keeps its most recent report under report:<area_code>.
type ReportStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewReportStore connects to Redis and verifies the connection.
func NewReportStore(cfg Config, logger *zap.Logger) (*ReportStore, error) {
	client, err := connect(cfg)
	if err != nil {
		return nil, err
	}

	return &ReportStore{client: client, logger: logger}, nil
}

// SaveReport stores the report as the latest for its area.
func (s *ReportStore) SaveReport(ctx context.Context, report *domain.SensorReport) error {
	tracer := otel.Tracer("redisstore")
	ctx, span := tracer.Start(ctx, "ReportStore.SaveReport")

	defer span.End()

	span.SetAttributes(
		attribute.String("area_code", report.AreaCode),
		attribute.String("report_id", report.ID),
	)

	data, err := json.Marshal(report)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, reportKeyPrefix+report.AreaCode, data, 0).Err(); err != nil {
		span.RecordError(err)
		s.logger.Error("report save failed",
			zap.String("area_code", report.AreaCode),
			zap.Error(err))

		return err
	}

	s.logger.Debug("report saved",
		zap.String("area_code", report.AreaCode),
		zap.String("report_id", report.ID))

	return nil
}

// LastReport fetches the most recent report for an area code.
func (s *ReportStore) LastReport(ctx context.Context, areaCode string) (*domain.SensorReport, error) {
	data, err := s.client.Get(ctx, reportKeyPrefix+areaCode).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ports.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	var report domain.SensorReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, err
	}

	return &report, nil
}

// Close releases the connection pool.
func (s *ReportStore) Close() error {
	return s.client.Close()
}
