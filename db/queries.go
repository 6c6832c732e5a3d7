package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
)

// WritePoints stores points in a single transaction.
func WritePoints(ctx context.Context, db *sql.DB, points ...model.Point) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range points {
		ts := p.Time
		if ts.IsZero() {
			ts = time.Now()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO points (measurement, field, value, ts) VALUES (?, ?, ?, ?)`,
			p.Measurement, p.Field, p.Value, ts.Unix())
		if err != nil {
			return fmt.Errorf("insert point %s.%s: %w", p.Measurement, p.Field, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit points: %w", err)
	}
	return nil
}

// LastValues returns the most recently written value of each field of measurement. When
// fields is non-empty only those fields are returned; fields never written are absent.
func LastValues(ctx context.Context, db *sql.DB, measurement string, fields ...string) (map[string]float64, error) {
	query := `SELECT field, value FROM points WHERE id IN (
		SELECT MAX(id) FROM points WHERE measurement = ?`
	args := []any{measurement}
	if len(fields) > 0 {
		query += ` AND field IN (?` + strings.Repeat(`, ?`, len(fields)-1) + `)`
		for _, f := range fields {
			args = append(args, f)
		}
	}
	query += ` GROUP BY field)`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query last values of %s: %w", measurement, err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var field string
		var value float64
		if err := rows.Scan(&field, &value); err != nil {
			return nil, fmt.Errorf("failed to scan point: %w", err)
		}
		out[field] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read points: %w", err)
	}
	return out, nil
}

// HourlyMeans averages every field of measurement over one-hour buckets since the given time.
func HourlyMeans(ctx context.Context, db *sql.DB, measurement string, since time.Time) ([]model.HourlyBucket, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT (ts / 3600) * 3600 AS bucket, field, AVG(value)
		FROM points
		WHERE measurement = ? AND ts >= ?
		GROUP BY bucket, field
		ORDER BY bucket, field`, measurement, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly means of %s: %w", measurement, err)
	}
	defer rows.Close()

	var buckets []model.HourlyBucket
	for rows.Next() {
		var bucket int64
		var field string
		var mean float64
		if err := rows.Scan(&bucket, &field, &mean); err != nil {
			return nil, fmt.Errorf("failed to scan hourly mean: %w", err)
		}
		start := time.Unix(bucket, 0).UTC()
		if n := len(buckets); n == 0 || !buckets[n-1].Start.Equal(start) {
			buckets = append(buckets, model.HourlyBucket{Start: start, Values: map[string]float64{}})
		}
		buckets[len(buckets)-1].Values[field] = mean
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read hourly means: %w", err)
	}
	return buckets, nil
}
