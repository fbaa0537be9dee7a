// Package database provides the PostgreSQL/PostGIS backend for the
// location service: point-in-polygon resolution of coordinates to
// administrative area codes over a pooled connection.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Config contains PostgreSQL connection configuration.
type Config struct {
	Host                  string
	Port                  int
	User                  string
	Password              string
	Database              string
	SSLMode               string
	MaxConnections        int
	MaxIdleConnections    int
	ConnectionMaxLifetime time.Duration
}

// AreaDB resolves coordinates against the administrative polygon table.
// When several polygons contain a point the smallest wins, so ward-level
// codes shadow their prefecture.
type AreaDB struct {
	db     *sql.DB
	logger *zap.Logger
}

const resolveQuery = `
SELECT area_code
FROM administrative_areas
WHERE ST_Contains(geom, ST_SetSRID(ST_MakePoint($1, $2), 4326))
ORDER BY ST_Area(geom) ASC
LIMIT 1`

// NewAreaDB opens a pooled connection and verifies it.
//
// Parameters:
//   - cfg: Database configuration including pool settings
//   - logger: Zap logger for lookup logging
//
// Returns:
//   - *AreaDB: Connected resolver backend
//   - error: Connection or ping failure
func NewAreaDB(cfg Config, logger *zap.Logger) (*AreaDB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnectionMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &AreaDB{db: db, logger: logger}, nil
}

// Resolve finds the smallest administrative polygon containing the
// point. ok is false when no polygon contains it; that is not an error.
//
// Parameters:
//   - ctx: Context for query cancellation and tracing
//   - lat: Latitude in decimal degrees
//   - lon: Longitude in decimal degrees
//
// Returns:
//   - string: Six-digit area code of the containing polygon
//   - bool: Whether any polygon contained the point
//   - error: Query execution failure
func (a *AreaDB) Resolve(ctx context.Context, lat, lon float64) (string, bool, error) {
	tracer := otel.Tracer("database")
	ctx, span := tracer.Start(ctx, "AreaDB.Resolve")

	defer span.End()

	span.SetAttributes(
		attribute.Float64("latitude", lat),
		attribute.Float64("longitude", lon),
	)

	start := time.Now()

	var areaCode string
	// PostGIS points are (lon, lat)
	err := a.db.QueryRowContext(ctx, resolveQuery, lon, lat).Scan(&areaCode)
	duration := time.Since(start)

	if errors.Is(err, sql.ErrNoRows) {
		a.logger.Debug("no polygon contains point",
			zap.Float64("latitude", lat),
			zap.Float64("longitude", lon),
			zap.Duration("duration", duration))

		return "", false, nil
	}

	if err != nil {
		span.RecordError(err)
		a.logger.Error("polygon lookup failed",
			zap.Float64("latitude", lat),
			zap.Float64("longitude", lon),
			zap.Error(err))

		return "", false, err
	}

	a.logger.Debug("polygon resolved",
		zap.Float64("latitude", lat),
		zap.Float64("longitude", lon),
		zap.String("area_code", areaCode),
		zap.Duration("duration", duration))

	return areaCode, true, nil
}

// Ping verifies the database connection is alive.
func (a *AreaDB) Ping() error {
	return a.db.Ping()
}

// Close closes the connection pool.
func (a *AreaDB) Close() error {
	return a.db.Close()
}
