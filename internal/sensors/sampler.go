package sensors

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/greenhouse-controller/internal/config"
	"github.com/thatsimonsguy/greenhouse-controller/internal/metrics"
	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
	"github.com/thatsimonsguy/greenhouse-controller/internal/notifications"
	"github.com/thatsimonsguy/greenhouse-controller/internal/store"
)

// RegisterReader is the read side of the register channel.
type RegisterReader interface {
	ReadRegisters(ctx context.Context, address, count uint16) ([]uint16, error)
}

type Reading struct {
	Value     float64
	Timestamp time.Time
}

type history struct {
	lastGood      Reading
	hasGood       bool
	anomalyCount  int
	recoveryCount int
	disabled      bool
}

// Sampler reads environmental sensors from the node on a cron schedule and stores the
// readings that pass range and jump checks.
type Sampler struct {
	reader   RegisterReader
	store    store.TimeSeries
	notifier notifications.Notifier
	sensors  []config.Sensor
	schedule string

	maxAnomalies int

	mutex    sync.RWMutex
	readings map[string]Reading
	history  map[string]*history

	now func() time.Time
}

func NewSampler(reader RegisterReader, ts store.TimeSeries, notifier notifications.Notifier, cfg config.Sensors) *Sampler {
	if notifier == nil {
		notifier = notifications.Discard{}
	}
	maxAnomalies := cfg.MaxAnomalies
	if maxAnomalies < 1 {
		maxAnomalies = 6
	}
	return &Sampler{
		reader:       reader,
		store:        ts,
		notifier:     notifier,
		sensors:      cfg.Sensors,
		schedule:     cfg.Schedule,
		maxAnomalies: maxAnomalies,
		readings:     make(map[string]Reading),
		history:      make(map[string]*history),
		now:          time.Now,
	}
}

// Run samples on the schedule until ctx is done.
func (s *Sampler) Run(ctx context.Context) error {
	if len(s.sensors) == 0 {
		log.Info().Msg("No sensors configured - sampler idle")
		<-ctx.Done()
		return nil
	}

	c, _, err := s.newCron(ctx)
	if err != nil {
		return err
	}

	log.Info().Str("schedule", s.schedule).Int("sensors", len(s.sensors)).Msg("Starting sensor sampler")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// newCron schedules SampleOnce. A cycle still reading the node when the next one is due
// causes that next one to be skipped.
func (s *Sampler) newCron(ctx context.Context) (*cron.Cron, cron.EntryID, error) {
	logger := cronLogger{}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.SkipIfStillRunning(logger)))
	id, err := c.AddFunc(s.schedule, func() { s.SampleOnce(ctx) })
	if err != nil {
		return nil, 0, fmt.Errorf("invalid sensor schedule %q: %w", s.schedule, err)
	}
	return c, id, nil
}

// cronLogger routes cron's own messages to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}

// SampleOnce reads every sensor once and writes the accepted readings.
func (s *Sampler) SampleOnce(ctx context.Context) []model.Point {
	timestamp := s.now()
	var points []model.Point

	for _, sensor := range s.sensors {
		words, err := s.reader.ReadRegisters(ctx, sensor.Register, 1)
		if err != nil || len(words) == 0 {
			log.Warn().Err(err).Str("sensor", sensor.Name).Msg("Failed to read sensor")
			metrics.SensorRejectedTotal.WithLabelValues(sensor.Name).Inc()
			continue
		}

		value := Scale(words[0], sensor.Scale)
		if !s.processReading(sensor, value, timestamp) {
			log.Warn().
				Str("sensor", sensor.Name).
				Float64("value", value).
				Msg("Sensor reading rejected")
			metrics.SensorRejectedTotal.WithLabelValues(sensor.Name).Inc()
			continue
		}

		metrics.SensorValue.WithLabelValues(sensor.Name).Set(value)
		points = append(points, model.Point{
			Measurement: model.MeasurementSensorData,
			Field:       sensor.Name,
			Value:       value,
			Time:        timestamp,
		})
	}

	if len(points) > 0 {
		if err := s.store.WritePoint(ctx, points...); err != nil {
			log.Error().Err(err).Int("points", len(points)).Msg("Failed to store sensor readings")
		}
	}

	log.Debug().
		Int("sensors_read", len(s.sensors)).
		Int("accepted", len(points)).
		Msg("Completed sensor reading cycle")
	return points
}

// Readings returns the last accepted reading of every sensor.
func (s *Sampler) Readings() map[string]Reading {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make(map[string]Reading, len(s.readings))
	for k, v := range s.readings {
		out[k] = v
	}
	return out
}

// Scale interprets a register word as a signed value and applies the sensor scale.
func Scale(word uint16, scale float64) float64 {
	if scale == 0 {
		scale = 1
	}
	return float64(int16(word)) * scale
}

// processReading applies the range check, then the jump check against the last good
// reading. A sensor that keeps jumping is disabled until it settles again.
func (s *Sampler) processReading(sensor config.Sensor, value float64, timestamp time.Time) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	h := s.history[sensor.Name]
	if h == nil {
		h = &history{}
		s.history[sensor.Name] = h
	}
	reading := Reading{Value: value, Timestamp: timestamp}

	if math.IsNaN(value) || value < sensor.Min || value > sensor.Max {
		s.recordAnomaly(sensor.Name, h, value)
		return false
	}

	jumped := sensor.MaxDelta > 0 && h.hasGood && math.Abs(value-h.lastGood.Value) > sensor.MaxDelta

	if h.disabled {
		if jumped {
			h.recoveryCount = 0
			// Follow the sensor so a stable new level can recover.
			h.lastGood = reading
			return false
		}
		h.recoveryCount++
		h.lastGood = reading
		if h.recoveryCount < s.maxAnomalies {
			return false
		}
		h.disabled = false
		h.anomalyCount = 0
		h.recoveryCount = 0
		s.readings[sensor.Name] = reading
		s.notify("Sensor recovered", fmt.Sprintf("%s is reporting stable readings again (%.1f)", sensor.Name, value))
		log.Info().Str("sensor", sensor.Name).Msg("Sensor recovered and re-enabled")
		return true
	}

	if jumped {
		s.recordAnomaly(sensor.Name, h, value)
		return false
	}

	h.anomalyCount = 0
	h.lastGood = reading
	h.hasGood = true
	s.readings[sensor.Name] = reading
	return true
}

func (s *Sampler) recordAnomaly(name string, h *history, value float64) {
	h.anomalyCount++
	if h.disabled {
		h.recoveryCount = 0
		return
	}
	if h.anomalyCount < s.maxAnomalies {
		return
	}
	h.disabled = true
	h.recoveryCount = 0
	log.Error().Str("sensor", name).Int("anomalies", h.anomalyCount).Msg("Sensor disabled after repeated anomalies")
	s.notify("Sensor disabled", fmt.Sprintf("%s produced %d anomalous readings in a row (last %.1f)", name, h.anomalyCount, value))
}

func (s *Sampler) notify(title, message string) {
	if err := s.notifier.Send(title, message); err != nil {
		log.Warn().Err(err).Msg("Failed to send sensor notification")
	}
}
