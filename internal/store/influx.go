package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
)

type InfluxConfig struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`
	// Lookback bounds how far back QueryLast searches.
	Lookback time.Duration `mapstructure:"lookback"`
}

type Influx struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	query  api.QueryAPI
	cfg    InfluxConfig
}

func NewInflux(cfg InfluxConfig) (*Influx, error) {
	if cfg.URL == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influxdb backend requires url and bucket")
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 365 * 24 * time.Hour
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	log.Info().Str("url", cfg.URL).Str("org", cfg.Org).Str("bucket", cfg.Bucket).Msg("Using InfluxDB store")
	return &Influx{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		query:  client.QueryAPI(cfg.Org),
		cfg:    cfg,
	}, nil
}

func (s *Influx) WritePoint(ctx context.Context, points ...model.Point) error {
	if len(points) == 0 {
		return nil
	}
	out := make([]*write.Point, 0, len(points))
	for _, p := range points {
		ts := p.Time
		if ts.IsZero() {
			ts = time.Now()
		}
		out = append(out, influxdb2.NewPoint(p.Measurement, nil, map[string]interface{}{p.Field: p.Value}, ts))
	}
	if err := s.write.WritePoint(ctx, out...); err != nil {
		return fmt.Errorf("write %d point(s) to influxdb: %w", len(out), err)
	}
	return nil
}

func (s *Influx) QueryLast(ctx context.Context, measurement string, fields ...string) (map[string]float64, error) {
	flux := lastQuery(s.cfg.Bucket, measurement, s.cfg.Lookback, fields)
	result, err := s.query.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("query last %s: %w", measurement, err)
	}
	defer result.Close()

	out := make(map[string]float64)
	for result.Next() {
		rec := result.Record()
		if v, ok := toFloat(rec.Value()); ok {
			out[rec.Field()] = v
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("read last %s: %w", measurement, err)
	}
	return out, nil
}

func (s *Influx) QueryHourly(ctx context.Context, measurement string, since time.Time) ([]model.HourlyBucket, error) {
	result, err := s.query.Query(ctx, hourlyQuery(s.cfg.Bucket, measurement, since))
	if err != nil {
		return nil, fmt.Errorf("query hourly %s: %w", measurement, err)
	}
	defer result.Close()

	index := map[time.Time]int{}
	var buckets []model.HourlyBucket
	for result.Next() {
		rec := result.Record()
		v, ok := toFloat(rec.Value())
		if !ok {
			continue
		}
		start := rec.Time().UTC()
		i, seen := index[start]
		if !seen {
			i = len(buckets)
			index[start] = i
			buckets = append(buckets, model.HourlyBucket{Start: start, Values: map[string]float64{}})
		}
		buckets[i].Values[rec.Field()] = v
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("read hourly %s: %w", measurement, err)
	}
	// Flux returns one table per field; merge order must follow time.
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Start.Before(buckets[j].Start) })
	return buckets, nil
}

func (s *Influx) Close() error {
	s.client.Close()
	return nil
}

func lastQuery(bucket, measurement string, lookback time.Duration, fields []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %q)\n", bucket)
	fmt.Fprintf(&b, "  |> range(start: -%ds)\n", int64(lookback/time.Second))
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %q)\n", measurement)
	if f := fieldFilter(fields); f != "" {
		b.WriteString(f)
	}
	b.WriteString("  |> last()\n")
	return b.String()
}

func hourlyQuery(bucket, measurement string, since time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %q)\n", bucket)
	fmt.Fprintf(&b, "  |> range(start: %s)\n", since.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %q)\n", measurement)
	b.WriteString("  |> aggregateWindow(every: 1h, fn: mean, createEmpty: false, timeSrc: \"_start\")\n")
	return b.String()
}

func fieldFilter(fields []string) string {
	if len(fields) == 0 {
		return ""
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fmt.Sprintf("r._field == %q", f)
	}
	return "  |> filter(fn: (r) => " + strings.Join(parts, " or ") + ")\n"
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
