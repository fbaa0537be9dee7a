// Package services implements the business logic of the WIP endpoints:
// coordinate resolution, area-keyed forecast lookup and sensor report
// ingestion. Transport concerns stay in the UDP adapters.
package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/wipnet/wip/internal/core/domain"
	"github.com/wipnet/wip/internal/core/ports"
	"github.com/wipnet/wip/internal/infrastructure/cache"
	"github.com/wipnet/wip/internal/infrastructure/circuitbreaker"
)

// LocationService resolves coordinates to administrative area codes,
// fronted by a bounded LRU so repeat lookups skip the spatial index.
type LocationService struct {
	resolver ports.AreaResolver
	cache    *cache.CoordinateCache
	breaker  *circuitbreaker.Breaker
	logger   *zap.Logger
}

// NewLocationService creates the location service.
//
// Parameters:
//   - resolver: Spatial index backend (PostGIS in production)
//   - coordCache: LRU of resolved coordinates; required
//   - breaker: Circuit breaker around backend lookups; may be nil
//   - logger: Zap logger
//
// Returns:
//   - *LocationService: Configured service
func NewLocationService(resolver ports.AreaResolver, coordCache *cache.CoordinateCache, breaker *circuitbreaker.Breaker, logger *zap.Logger) *LocationService {
	return &LocationService{
		resolver: resolver,
		cache:    coordCache,
		breaker:  breaker,
		logger:   logger,
	}
}

// ResolveArea maps a coordinate to the smallest containing area code.
// A point outside every polygon resolves to "000000", which is a valid
// response, not an error.
//
// Parameters:
//   - ctx: Context for cancellation
//   - lat: Latitude in decimal degrees
//   - lon: Longitude in decimal degrees
//
// Returns:
//   - string: Six-digit area code, "000000" when no polygon matched
//   - error: ProtocolError 520 when the backend failed
func (s *LocationService) ResolveArea(ctx context.Context, lat, lon float64) (string, error) {
	if code, ok := s.cache.Get(lat, lon); ok {
		s.logger.Debug("coordinate cache hit",
			zap.Float64("latitude", lat),
			zap.Float64("longitude", lon),
			zap.String("area_code", code))

		return code, nil
	}

	var (
		code  string
		found bool
	)

	lookup := func() error {
		var err error
		code, found, err = s.resolver.Resolve(ctx, lat, lon)

		return err
	}

	var err error
	if s.breaker != nil {
		err = s.breaker.Execute(ctx, "resolve", lookup)
	} else {
		err = lookup()
	}

	if err != nil {
		return "", domain.WrapProtocolError(domain.CodeInternal, err, "polygon lookup failed")
	}

	if !found {
		code = "000000"
	}

	s.cache.Put(lat, lon, code)

	s.logger.Info("coordinate resolved",
		zap.Float64("latitude", lat),
		zap.Float64("longitude", lon),
		zap.String("area_code", code),
		zap.Bool("matched", found))

	return code, nil
}
