// Package cache provides the in-process caches used on the hot request
// path: a TTL byte cache for query responses and an LRU for resolved
// coordinates. Entries are immutable once inserted; updates write a new
// entry.
package cache

import (
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/wipnet/wip/internal/core/ports"
)

// ErrCacheMiss indicates a cache key was not found or has expired.
var ErrCacheMiss = errors.New("cache miss")

// MemoryCache is the in-process TTL cache backing the query service's
// response cache. go-cache evicts expired entries lazily on read and in
// a background janitor, so a hit is never older than its TTL.
type MemoryCache struct {
	cache  *gocache.Cache
	logger *zap.Logger
}

// NewMemoryCache creates an in-memory cache.
//
// Parameters:
//   - defaultTTL: Default time-to-live for cached items
//   - cleanupInterval: How often the janitor removes expired items
//   - logger: Zap logger for cache operations
//
// Returns:
//   - ports.CacheService: In-memory cache implementation
func NewMemoryCache(defaultTTL, cleanupInterval time.Duration, logger *zap.Logger) ports.CacheService {
	return &MemoryCache{
		cache:  gocache.New(defaultTTL, cleanupInterval),
		logger: logger,
	}
}

// Get retrieves a value by key; ErrCacheMiss when absent or expired.
func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	if value, found := m.cache.Get(key); found {
		m.logger.Debug("memory cache hit", zap.String("key", key))

		return value.([]byte), nil
	}

	m.logger.Debug("memory cache miss", zap.String("key", key))

	return nil, ErrCacheMiss
}

// Set stores a value under key for the given TTL.
func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.cache.Set(key, value, ttl)
	m.logger.Debug("memory cache set", zap.String("key", key), zap.Int("bytes", len(value)))

	return nil
}

// Delete removes a key.
func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.cache.Delete(key)

	return nil
}

// Clear removes every entry.
func (m *MemoryCache) Clear(_ context.Context) error {
	m.cache.Flush()
	m.logger.Info("memory cache cleared")

	return nil
}
