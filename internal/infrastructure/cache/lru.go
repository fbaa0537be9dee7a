package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CoordinateCache maps a coordinate pair to its resolved area code,
// bounded by LRU eviction. Keys round to micro-degree precision, the
// same resolution the wire format carries, so repeat lookups from the
// same client hit regardless of float noise.
type CoordinateCache struct {
	lru *lru.Cache[string, string]
}

// NewCoordinateCache creates a cache capped at size entries.
//
// Parameters:
//   - size: Maximum entries before least-recently-used eviction
//
// Returns:
//   - *CoordinateCache: Bounded coordinate cache
//   - error: Invalid size
func NewCoordinateCache(size int) (*CoordinateCache, error) {
	l, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}

	return &CoordinateCache{lru: l}, nil
}

// Get returns the cached area code for a coordinate pair.
func (c *CoordinateCache) Get(lat, lon float64) (string, bool) {
	return c.lru.Get(coordKey(lat, lon))
}

// Put stores the resolved area code for a coordinate pair.
func (c *CoordinateCache) Put(lat, lon float64, areaCode string) {
	c.lru.Add(coordKey(lat, lon), areaCode)
}

// Len returns the number of cached entries.
func (c *CoordinateCache) Len() int {
	return c.lru.Len()
}

func coordKey(lat, lon float64) string {
	return fmt.Sprintf("%.6f,%.6f", lat, lon)
}
