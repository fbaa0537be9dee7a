package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wipnet/wip/internal/core/domain"
	"github.com/wipnet/wip/internal/core/ports"
	"github.com/wipnet/wip/internal/infrastructure/circuitbreaker"
)

// RefreshService drives the scheduled reloads of the weather documents.
// Failures never block the request path: failed areas join the skip set
// and are retried by the interval sweep, and every failure increments a
// counter that shutdown logs.
type RefreshService struct {
	repo         ports.WeatherRepository
	forecastFeed ports.ForecastFeed
	hazardFeed   ports.HazardFeed
	breaker      *circuitbreaker.Breaker
	query        *QueryService
	logger       *zap.Logger

	mu           sync.Mutex
	skipAreas    []string
	failureCount uint64
}

// NewRefreshService creates the refresh coordinator. Either feed may be
// nil, which disables the corresponding refresh.
func NewRefreshService(
	repo ports.WeatherRepository,
	forecastFeed ports.ForecastFeed,
	hazardFeed ports.HazardFeed,
	breaker *circuitbreaker.Breaker,
	query *QueryService,
	logger *zap.Logger,
) *RefreshService {
	return &RefreshService{
		repo:         repo,
		forecastFeed: forecastFeed,
		hazardFeed:   hazardFeed,
		breaker:      breaker,
		query:        query,
		logger:       logger,
	}
}

// RefreshForecasts pulls fresh documents for every area (nil areaCodes)
// or a specific set, rewrites Redis and invalidates cached responses.
// Areas the feed could not serve are remembered for the retry sweep.
func (s *RefreshService) RefreshForecasts(ctx context.Context, areaCodes []string) {
	if s.forecastFeed == nil {
		return
	}

	var (
		docs   map[string]*domain.WeatherDocument
		failed []string
	)

	collect := func() error {
		var err error
		docs, failed, err = s.forecastFeed.Collect(ctx, areaCodes)

		return err
	}

	var err error
	if s.breaker != nil {
		err = s.breaker.Execute(ctx, "collect-forecasts", collect)
	} else {
		err = collect()
	}

	if err != nil {
		s.countFailure()
		s.logger.Error("forecast collection failed", zap.Error(err))

		return
	}

	now := time.Now().Unix()

	for areaCode, doc := range docs {
		stamp := domain.UpdateStamp{
			SavedAt:    now,
			SourceTime: now,
			SourceType: "forecast-feed",
		}

		if err := s.repo.SaveDocument(ctx, areaCode, doc, stamp); err != nil {
			s.countFailure()
			failed = append(failed, areaCode)
			s.logger.Error("forecast save failed",
				zap.String("area_code", areaCode),
				zap.Error(err))

			continue
		}

		if s.query != nil {
			s.query.InvalidateArea(ctx, areaCode)
		}
	}

	s.setSkipAreas(failed)

	s.logger.Info("forecast refresh finished",
		zap.Int("updated", len(docs)-len(failed)),
		zap.Int("failed", len(failed)))
}

// RetrySkipped re-runs the forecast refresh for areas that failed the
// last full pass. No-op when the skip set is empty.
func (s *RefreshService) RetrySkipped(ctx context.Context) {
	areas := s.SkipAreas()
	if len(areas) == 0 {
		return
	}

	s.logger.Info("retrying skipped areas", zap.Strings("area_codes", areas))
	s.RefreshForecasts(ctx, areas)
}

// RefreshHazards merges fresh warnings and disaster bulletins into the
// stored documents without touching the forecast arrays.
func (s *RefreshService) RefreshHazards(ctx context.Context) {
	if s.hazardFeed == nil {
		return
	}

	alerts, disasters, err := s.hazardFeed.Collect(ctx)
	if err != nil {
		s.countFailure()
		s.logger.Error("hazard collection failed", zap.Error(err))

		return
	}

	now := time.Now().Unix()
	touched := make(map[string]bool, len(alerts)+len(disasters))

	for area := range alerts {
		touched[area] = true
	}

	for area := range disasters {
		touched[area] = true
	}

	for areaCode := range touched {
		doc, err := s.repo.Document(ctx, areaCode)
		if err != nil {
			s.countFailure()
			s.logger.Warn("hazard merge skipped, document unavailable",
				zap.String("area_code", areaCode),
				zap.Error(err))

			continue
		}

		doc.Warnings = alerts[areaCode]
		doc.Disaster = disasters[areaCode]

		stamp := domain.UpdateStamp{
			SavedAt:    now,
			SourceTime: now,
			SourceType: "hazard-feed",
		}

		if err := s.repo.SaveDocument(ctx, areaCode, doc, stamp); err != nil {
			s.countFailure()
			s.logger.Error("hazard save failed",
				zap.String("area_code", areaCode),
				zap.Error(err))

			continue
		}

		if s.query != nil {
			s.query.InvalidateArea(ctx, areaCode)
		}
	}

	s.logger.Info("hazard refresh finished", zap.Int("areas", len(touched)))
}

// SkipAreas returns a copy of the current retry set.
func (s *RefreshService) SkipAreas() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.skipAreas...)
}

// FailureCount returns the number of refresh failures since start.
func (s *RefreshService) FailureCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.failureCount
}

func (s *RefreshService) setSkipAreas(areas []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.skipAreas = append([]string(nil), areas...)
}

func (s *RefreshService) countFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failureCount++
}
