package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wipnet/wip/internal/core/domain"
	"github.com/wipnet/wip/internal/core/ports"
	"github.com/wipnet/wip/internal/packet"
)

// ForecastQuery names the field set a type-2 request selects.
type ForecastQuery struct {
	AreaCode string
	Day      uint8
	Flags    packet.Flags
}

// cacheKey builds the response-cache key. Flags are part of the key so a
// narrower request never serves a wider cached bundle.
func (q ForecastQuery) cacheKey() string {
	bit := func(b bool) int {
		if b {
			return 1
		}

		return 0
	}

	return fmt.Sprintf("query:%s:w%dt%dp%da%dd%d:d%d",
		q.AreaCode,
		bit(q.Flags.Weather), bit(q.Flags.Temperature), bit(q.Flags.POP),
		bit(q.Flags.Alert), bit(q.Flags.Disaster),
		q.Day)
}

// QueryService serves area-keyed forecast lookups from Redis with an
// in-process TTL cache in front. Cached bundles keep the packet-form
// temperature so a cache hit is bit-identical to a fresh response.
type QueryService struct {
	repo     ports.WeatherRepository
	cache    ports.CacheService
	logger   *zap.Logger
	cacheTTL time.Duration
}

// NewQueryService creates the query service.
//
// Parameters:
//   - repo: Weather document repository (Redis in production)
//   - cacheService: In-process response cache
//   - cacheTTL: Response cache lifetime; zero means 10 minutes
//   - logger: Zap logger
//
// Returns:
//   - *QueryService: Configured service
func NewQueryService(repo ports.WeatherRepository, cacheService ports.CacheService, cacheTTL time.Duration, logger *zap.Logger) *QueryService {
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	return &QueryService{
		repo:     repo,
		cache:    cacheService,
		logger:   logger,
		cacheTTL: cacheTTL,
	}
}

// Forecast assembles the requested field bundle for an area and day.
// Requested fields with no underlying data come back as zeros
// (weather_code 0, 0°C in packet form, 0%).
//
// Parameters:
//   - ctx: Context for cancellation
//   - q: Area, day offset and requested flags
//
// Returns:
//   - *domain.ForecastBundle: Populated field bundle
//   - bool: Whether the bundle came from the response cache
//   - error: ProtocolError 520 when Redis failed
func (s *QueryService) Forecast(ctx context.Context, q ForecastQuery) (*domain.ForecastBundle, bool, error) {
	key := q.cacheKey()

	if cached, err := s.cache.Get(ctx, key); err == nil {
		var bundle domain.ForecastBundle
		if err := json.Unmarshal(cached, &bundle); err == nil {
			s.logger.Debug("forecast served from cache", zap.String("key", key))

			return &bundle, true, nil
		}
	}

	doc, err := s.repo.Document(ctx, q.AreaCode)
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		return nil, false, domain.WrapProtocolError(domain.CodeInternal, err, "weather document fetch failed")
	}

	bundle := s.assemble(doc, q)

	if data, err := json.Marshal(bundle); err == nil {
		if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
			s.logger.Warn("forecast cache store failed", zap.Error(err))
		}
	}

	s.logger.Info("forecast assembled",
		zap.String("area_code", q.AreaCode),
		zap.Uint8("day", q.Day),
		zap.Bool("document_found", doc != nil))

	return bundle, false, nil
}

// assemble fills a bundle field by field. A nil document means every
// requested field falls back to its zero.
func (s *QueryService) assemble(doc *domain.WeatherDocument, q ForecastQuery) *domain.ForecastBundle {
	bundle := &domain.ForecastBundle{}

	if q.Flags.Weather {
		if doc != nil {
			if v, ok := doc.WeatherForDay(q.Day); ok {
				bundle.WeatherCode = uint16(v)
			}
		}
	}

	if q.Flags.Temperature {
		bundle.Temperature = 100 // 0°C when no data

		if doc != nil {
			if v, ok := doc.TemperatureForDay(q.Day); ok {
				bundle.Temperature = uint8(v + 100)
			}
		}
	}

	if q.Flags.POP {
		if doc != nil {
			if v, ok := doc.POPForDay(q.Day); ok && v >= 0 && v <= 100 {
				bundle.POP = uint8(v)
			}
		}
	}

	if q.Flags.Alert && doc != nil {
		bundle.Alerts = doc.Warnings
	}

	if q.Flags.Disaster && doc != nil {
		bundle.Disasters = doc.Disaster
	}

	return bundle
}

// InvalidateArea drops every cached bundle for an area after a refresh.
// Flag combinations are enumerable (32 per day), so deletion is exact.
func (s *QueryService) InvalidateArea(ctx context.Context, areaCode string) {
	for day := uint8(0); day < domain.ForecastDays; day++ {
		for mask := 0; mask < 32; mask++ {
			q := ForecastQuery{
				AreaCode: areaCode,
				Day:      day,
				Flags: packet.Flags{
					Weather:     mask&1 != 0,
					Temperature: mask&2 != 0,
					POP:         mask&4 != 0,
					Alert:       mask&8 != 0,
					Disaster:    mask&16 != 0,
				},
			}

			_ = s.cache.Delete(ctx, q.cacheKey())
		}
	}
}
