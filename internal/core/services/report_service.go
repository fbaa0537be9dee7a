package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wipnet/wip/internal/core/domain"
	"github.com/wipnet/wip/internal/core/ports"
)

// ReportService validates and persists sensor reports, optionally
// relaying them to another report endpoint. Persistence and forwarding
// are both optional side effects; validation always runs.
type ReportService struct {
	repo      ports.ReportRepository
	forwarder ports.ReportForwarder
	logger    *zap.Logger
}

// NewReportService creates the report service. repo and forwarder may
// each be nil to disable that side effect.
func NewReportService(repo ports.ReportRepository, forwarder ports.ReportForwarder, logger *zap.Logger) *ReportService {
	return &ReportService{
		repo:      repo,
		forwarder: forwarder,
		logger:    logger,
	}
}

// Ingest validates a report's readings, tags it with an ID and applies
// the configured side effects. A persistence failure is internal (520);
// a forwarding failure is logged but does not fail the ingest, since the
// report was already accepted locally.
//
// Parameters:
//   - ctx: Context for cancellation
//   - report: Parsed sensor report; ID and ReceivedAt are assigned here
//   - now: Server clock, Unix seconds
//
// Returns:
//   - error: ProtocolError 422 on range violations, 520 on store failure
func (s *ReportService) Ingest(ctx context.Context, report *domain.SensorReport, now int64) error {
	if err := report.Validate(now); err != nil {
		s.logger.Warn("report rejected",
			zap.String("area_code", report.AreaCode),
			zap.String("code", string(err.Code)),
			zap.String("reason", err.Message))

		return err
	}

	report.ID = uuid.New().String()
	report.ReceivedAt = now

	if s.repo != nil {
		if err := s.repo.SaveReport(ctx, report); err != nil {
			return domain.WrapProtocolError(domain.CodeInternal, err, "report persistence failed")
		}
	}

	if s.forwarder != nil {
		if err := s.forwarder.Forward(ctx, report); err != nil {
			s.logger.Warn("report forwarding failed",
				zap.String("area_code", report.AreaCode),
				zap.String("report_id", report.ID),
				zap.Error(err))
		}
	}

	s.logger.Info("report ingested",
		zap.String("area_code", report.AreaCode),
		zap.String("report_id", report.ID))

	return nil
}
