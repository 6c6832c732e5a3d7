package sensors

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/greenhouse-controller/db"
	"github.com/thatsimonsguy/greenhouse-controller/internal/commander"
	"github.com/thatsimonsguy/greenhouse-controller/internal/config"
	"github.com/thatsimonsguy/greenhouse-controller/internal/device"
	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
	"github.com/thatsimonsguy/greenhouse-controller/internal/protocol"
	"github.com/thatsimonsguy/greenhouse-controller/internal/store"
	"github.com/thatsimonsguy/greenhouse-controller/internal/transport"
)

type MockNotifier struct {
	calls []string
}

func (m *MockNotifier) Send(title, message string) error {
	m.calls = append(m.calls, title+": "+message)
	return nil
}

func newSampler(t *testing.T, sensors ...config.Sensor) (*Sampler, *transport.Memory, store.TimeSeries, *MockNotifier) {
	t.Helper()
	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	mem := transport.NewMemory(200, 500, 64)
	ts := store.NewSQLite(conn)
	notifier := &MockNotifier{}
	s := NewSampler(mem, ts, notifier, config.Sensors{Schedule: "@every 1m", MaxAnomalies: 3, Sensors: sensors})
	return s, mem, ts, notifier
}

func TestProcessReading_Scenarios(t *testing.T) {
	temperature := config.Sensor{Name: "temperature", Register: 10, Scale: 0.1, Min: -40, Max: 80, MaxDelta: 5}

	readings := []struct {
		value    float64
		accepted bool
	}{
		{20, true},
		{21, true},
		{40, false}, // jump
		{21.5, true},
		{90, false}, // out of range
		{40, false},
		{41, false}, // third anomaly in a row disables the sensor
		{41, false},
		{41.5, false},
		{42, false},
		{42, true}, // third stable reading while disabled re-enables it
		{43, true},
	}

	s, _, _, notifier := newSampler(t, temperature)
	for i, r := range readings {
		got := s.processReading(temperature, r.value, time.Now())
		assert.Equal(t, r.accepted, got, "reading %d (%v)", i, r.value)
	}

	require.Len(t, notifier.calls, 2)
	assert.Contains(t, notifier.calls[0], "Sensor disabled")
	assert.Contains(t, notifier.calls[1], "Sensor recovered")
	assert.Equal(t, 43.0, s.Readings()["temperature"].Value)
}

func TestProcessReading_NoDeltaCheck(t *testing.T) {
	humidity := config.Sensor{Name: "humidity", Register: 11, Min: 0, Max: 100}
	s, _, _, _ := newSampler(t, humidity)

	assert.True(t, s.processReading(humidity, 10, time.Now()))
	assert.True(t, s.processReading(humidity, 95, time.Now()))
	assert.False(t, s.processReading(humidity, 101, time.Now()))
}

func TestSampleOnce_StoresAcceptedReadings(t *testing.T) {
	sensors := []config.Sensor{
		{Name: "temperature", Register: 10, Scale: 0.1, Min: -40, Max: 80},
		{Name: "outside", Register: 11, Scale: 0.1, Min: -40, Max: 80},
		{Name: "co2", Register: 12, Min: 0, Max: 5000},
	}
	s, mem, ts, _ := newSampler(t, sensors...)
	mem.Set(10, 215)
	mem.Set(11, 0xFFF6)
	mem.Set(12, 9000)

	points := s.SampleOnce(context.Background())
	require.Len(t, points, 2)

	last, err := ts.QueryLast(context.Background(), model.MeasurementSensorData)
	require.NoError(t, err)
	assert.InDelta(t, 21.5, last["temperature"], 1e-9)
	assert.InDelta(t, -1.0, last["outside"], 1e-9)
	_, stored := last["co2"]
	assert.False(t, stored, "out of range reading must not be stored")
}

func TestSampleOnce_SkipsUnreadableSensor(t *testing.T) {
	s, mem, _, _ := newSampler(t,
		config.Sensor{Name: "temperature", Register: 10, Min: -40, Max: 80},
		config.Sensor{Name: "humidity", Register: 11, Min: 0, Max: 100},
	)
	mem.Set(10, 20)
	mem.Set(11, 55)
	mem.FailReads(1)

	points := s.SampleOnce(context.Background())
	require.Len(t, points, 1)
	assert.Equal(t, "humidity", points[0].Field)
}

func TestRun_RejectsBadSchedule(t *testing.T) {
	s, _, _, _ := newSampler(t, config.Sensor{Name: "temperature", Register: 10, Min: 0, Max: 1})
	s.schedule = "every now and then"

	err := s.Run(context.Background())
	assert.Error(t, err)
}

func TestScale(t *testing.T) {
	assert.Equal(t, 20.0, Scale(20, 0))
	assert.Equal(t, -10.0, Scale(0xFFF6, 1))
	assert.InDelta(t, 102.4, Scale(1024, 0.1), 1e-9)
}

func TestSampleOnce_WaitsForCommandReadBack(t *testing.T) {
	mem := transport.NewMemory(protocol.StatusBase, protocol.CommandBase, 64)
	mem.Set(10, 215)
	cmdr := commander.New(mem, protocol.NewSequencer(0), commander.Config{Settle: 50 * time.Millisecond})

	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()
	s := NewSampler(cmdr, store.NewSQLite(conn), nil, config.Sensors{
		Sensors: []config.Sensor{{Name: "temperature", Register: 10, Scale: 0.1, Min: -40, Max: 80}},
	})

	window := device.NewRegistry(nil).Get(device.RoofWindow1)
	done := make(chan error, 1)
	go func() {
		_, err := cmdr.Send(context.Background(), window, protocol.TimedOpen(30))
		done <- err
	}()

	require.Eventually(t, func() bool { return len(mem.Ops()) > 0 }, time.Second, time.Millisecond)
	points := s.SampleOnce(context.Background())
	require.NoError(t, <-done)

	require.Len(t, points, 1)
	assert.Equal(t, []string{"write@536", "read@236", "read@10"}, mem.Ops())
}

type blockingReader struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (r *blockingReader) ReadRegisters(ctx context.Context, address, count uint16) ([]uint16, error) {
	r.calls.Add(1)
	r.entered <- struct{}{}
	<-r.release
	return []uint16{20}, nil
}

func TestNewCron_SkipsOverlappingCycle(t *testing.T) {
	reader := &blockingReader{entered: make(chan struct{}, 2), release: make(chan struct{})}
	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()
	s := NewSampler(reader, store.NewSQLite(conn), nil, config.Sensors{
		Schedule: "@every 1h",
		Sensors:  []config.Sensor{{Name: "temperature", Register: 10, Min: -40, Max: 80}},
	})

	c, id, err := s.newCron(context.Background())
	require.NoError(t, err)
	job := c.Entry(id).WrappedJob

	first := make(chan struct{})
	go func() {
		job.Run()
		close(first)
	}()
	<-reader.entered

	// The first cycle is still reading; this one is skipped.
	job.Run()
	assert.Equal(t, int32(1), reader.calls.Load())

	close(reader.release)
	<-first
	assert.Equal(t, 20.0, s.Readings()["temperature"].Value)
}
