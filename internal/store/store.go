package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/thatsimonsguy/greenhouse-controller/db"
	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
)

const (
	BackendSQLite = "sqlite"
	BackendInflux = "influxdb"
)

// TimeSeries is the point store behind device state, operation mode and sensor history.
type TimeSeries interface {
	WritePoint(ctx context.Context, points ...model.Point) error
	// QueryLast returns the last value of each requested field (all fields when none are
	// given). Fields that were never written are absent from the map.
	QueryLast(ctx context.Context, measurement string, fields ...string) (map[string]float64, error)
	QueryHourly(ctx context.Context, measurement string, since time.Time) ([]model.HourlyBucket, error)
	Close() error
}

type Config struct {
	Backend string
	Influx  InfluxConfig
}

// Open returns the configured backend. The sqlite backend shares conn with the journal.
func Open(cfg Config, conn *sql.DB) (TimeSeries, error) {
	switch cfg.Backend {
	case "", BackendSQLite:
		return NewSQLite(conn), nil
	case BackendInflux:
		return NewInflux(cfg.Influx)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}

type SQLite struct {
	conn *sql.DB
}

func NewSQLite(conn *sql.DB) *SQLite {
	return &SQLite{conn: conn}
}

func (s *SQLite) WritePoint(ctx context.Context, points ...model.Point) error {
	return db.WritePoints(ctx, s.conn, points...)
}

func (s *SQLite) QueryLast(ctx context.Context, measurement string, fields ...string) (map[string]float64, error) {
	return db.LastValues(ctx, s.conn, measurement, fields...)
}

func (s *SQLite) QueryHourly(ctx context.Context, measurement string, since time.Time) ([]model.HourlyBucket, error) {
	return db.HourlyMeans(ctx, s.conn, measurement, since)
}

// Close is a no-op: the connection belongs to the caller that also runs the journal.
func (s *SQLite) Close() error { return nil }
