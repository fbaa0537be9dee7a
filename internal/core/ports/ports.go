// Package ports defines the interfaces that connect the core services
// with storage, spatial lookup, caching and the out-of-scope upstream
// feed collaborators. The service layer depends only on these contracts.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/wipnet/wip/internal/core/domain"
)

// ErrNotFound is returned by repositories when a document does not exist.
var ErrNotFound = errors.New("document not found")

// AreaResolver maps a coordinate to the smallest administrative area
// containing it. ok is false when no polygon contains the point.
type AreaResolver interface {
	Resolve(ctx context.Context, lat, lon float64) (areaCode string, ok bool, err error)
}

// WeatherRepository reads and writes the area-keyed weather documents
// and their refresh stamps.
type WeatherRepository interface {
	// Document fetches weather:<area_code>; ErrNotFound when absent
	Document(ctx context.Context, areaCode string) (*domain.WeatherDocument, error)

	// SaveDocument rewrites weather:<area_code> and its update stamp
	SaveDocument(ctx context.Context, areaCode string, doc *domain.WeatherDocument, stamp domain.UpdateStamp) error

	// Stamp fetches the refresh stamp for an area; ErrNotFound when absent
	Stamp(ctx context.Context, areaCode string) (*domain.UpdateStamp, error)
}

// ReportRepository persists ingested sensor reports.
type ReportRepository interface {
	// SaveReport stores the latest report for its area
	SaveReport(ctx context.Context, report *domain.SensorReport) error

	// LastReport fetches the most recent report; ErrNotFound when absent
	LastReport(ctx context.Context, areaCode string) (*domain.SensorReport, error)
}

// ReportForwarder relays an accepted report to another report endpoint.
type ReportForwarder interface {
	Forward(ctx context.Context, report *domain.SensorReport) error
}

// CacheService is the byte-level cache contract shared by the in-memory
// TTL cache; entries are immutable once inserted.
type CacheService interface {
	// Get retrieves a cached value; an error signals a miss
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key
	Delete(ctx context.Context, key string) error

	// Clear removes every entry
	Clear(ctx context.Context) error
}

// ForecastFeed is the out-of-scope upstream collaborator that fetches
// and parses meteorological forecasts. Collect returns the refreshed
// documents plus the area codes that failed and should be retried.
type ForecastFeed interface {
	Collect(ctx context.Context, areaCodes []string) (docs map[string]*domain.WeatherDocument, failed []string, err error)
}

// HazardFeed is the out-of-scope upstream collaborator for warnings and
// disaster bulletins, keyed by area code.
type HazardFeed interface {
	Collect(ctx context.Context) (alerts map[string][]string, disasters map[string][]string, err error)
}
