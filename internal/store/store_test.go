package store

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/greenhouse-controller/db"
	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
)

func TestOpen_SelectsBackend(t *testing.T) {
	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	ts, err := Open(Config{}, conn)
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, ts)

	_, err = Open(Config{Backend: "mongodb"}, conn)
	assert.Error(t, err)

	_, err = Open(Config{Backend: BackendInflux}, conn)
	assert.Error(t, err, "influx without url must be rejected")
}

func TestSQLite_RoundTrip(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	s := NewSQLite(conn)
	require.NoError(t, s.WritePoint(ctx,
		model.Point{Measurement: model.MeasurementOperationMode, Field: model.FieldOperationMode, Value: 1},
	))

	last, err := s.QueryLast(ctx, model.MeasurementOperationMode, model.FieldOperationMode)
	require.NoError(t, err)
	assert.Equal(t, 1.0, last[model.FieldOperationMode])
	assert.NoError(t, s.Close())
}

type influxStub struct {
	mu     sync.Mutex
	writes []string
	csv    string
}

func (s *influxStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.writes = append(s.writes, string(body))
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/query":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		_, _ = io.WriteString(w, s.csv)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestInflux_WritePointUsesLineProtocol(t *testing.T) {
	stub := &influxStub{}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	s, err := NewInflux(InfluxConfig{URL: srv.URL, Token: "t", Org: "farm", Bucket: "greenhouse"})
	require.NoError(t, err)
	defer s.Close()

	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.WritePoint(context.Background(),
		model.Point{Measurement: model.MeasurementControlStatus, Field: "window_1", Value: 45, Time: ts},
	))

	stub.mu.Lock()
	defer stub.mu.Unlock()
	require.Len(t, stub.writes, 1)
	assert.True(t, strings.HasPrefix(stub.writes[0], "control_status window_1=45"), stub.writes[0])
}

func TestInflux_QueryLast(t *testing.T) {
	stub := &influxStub{csv: strings.Join([]string{
		"#datatype,string,long,dateTime:RFC3339,dateTime:RFC3339,dateTime:RFC3339,double,string,string",
		"#group,false,false,true,true,false,false,true,true",
		"#default,_result,,,,,,,",
		",result,table,_start,_stop,_time,_value,_field,_measurement",
		",,0,2025-05-01T00:00:00Z,2026-05-01T00:00:00Z,2026-04-30T10:00:00Z,45,window_1,control_status",
		",,1,2025-05-01T00:00:00Z,2026-05-01T00:00:00Z,2026-04-30T11:00:00Z,1,fan,control_status",
		"",
	}, "\r\n")}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	s, err := NewInflux(InfluxConfig{URL: srv.URL, Org: "farm", Bucket: "greenhouse"})
	require.NoError(t, err)
	defer s.Close()

	last, err := s.QueryLast(context.Background(), model.MeasurementControlStatus)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"window_1": 45, "fan": 1}, last)
}

func TestFluxQueries(t *testing.T) {
	q := lastQuery("greenhouse", "control_status", time.Hour, []string{"window_1", "fan"})
	assert.Contains(t, q, `from(bucket: "greenhouse")`)
	assert.Contains(t, q, "range(start: -3600s)")
	assert.Contains(t, q, `r._field == "window_1" or r._field == "fan"`)
	assert.True(t, strings.HasSuffix(q, "|> last()\n"))

	since := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	h := hourlyQuery("greenhouse", "sensor_data", since)
	assert.Contains(t, h, "range(start: 2026-05-01T00:00:00Z)")
	assert.Contains(t, h, "aggregateWindow(every: 1h, fn: mean")
	assert.NotContains(t, h, "_field ==")
}

func TestToFloat(t *testing.T) {
	for _, tc := range []struct {
		in   interface{}
		want float64
		ok   bool
	}{
		{45.5, 45.5, true},
		{int64(3), 3, true},
		{uint64(7), 7, true},
		{true, 1, true},
		{"x", 0, false},
		{nil, 0, false},
	} {
		got, ok := toFloat(tc.in)
		assert.Equal(t, tc.ok, ok, "%v", tc.in)
		assert.Equal(t, tc.want, got, "%v", tc.in)
	}
}
