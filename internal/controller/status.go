package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/greenhouse-controller/internal/device"
	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
	"github.com/thatsimonsguy/greenhouse-controller/internal/protocol"
)

// DeviceState is the persisted position of one device.
type DeviceState struct {
	Device device.Device
	// Known is false when nothing was ever persisted for the device.
	Known bool
	Value float64
}

func (s DeviceState) On() bool { return s.Known && s.Value != 0 }

func (s DeviceState) Direction() model.Direction { return model.DirectionFor(s.Value) }

// Status returns the persisted state of every device in registry order.
func (c *Controller) Status(ctx context.Context) ([]DeviceState, error) {
	last, err := c.store.QueryLast(ctx, model.MeasurementControlStatus)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}

	all := c.registry.All()
	out := make([]DeviceState, 0, len(all))
	for _, d := range all {
		v, ok := last[d.Field]
		out = append(out, DeviceState{Device: d, Known: ok, Value: v})
	}
	return out, nil
}

// LiveStatus reads the device status block from the node.
func (c *Controller) LiveStatus(ctx context.Context, name string) (device.Device, protocol.Status, error) {
	d, err := c.registry.Lookup(name)
	if err != nil {
		return device.Device{}, protocol.Status{}, err
	}
	st, err := c.commander.ReadStatus(ctx, d)
	if err != nil {
		return d, protocol.Status{}, err
	}
	return d, st, nil
}

func (c *Controller) OperationMode(ctx context.Context) (model.OperationMode, error) {
	last, err := c.store.QueryLast(ctx, model.MeasurementOperationMode, model.FieldOperationMode)
	if err != nil {
		return model.ModeAuto, fmt.Errorf("%w: %w", ErrStore, err)
	}
	v, ok := last[model.FieldOperationMode]
	if !ok {
		return model.ModeAuto, nil
	}
	return model.OperationMode(int(v)), nil
}

func (c *Controller) SetOperationMode(ctx context.Context, mode model.OperationMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidMode, mode)
	}
	err := c.store.WritePoint(ctx, model.Point{
		Measurement: model.MeasurementOperationMode,
		Field:       model.FieldOperationMode,
		Value:       float64(mode),
		Time:        c.now(),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	log.Info().Int("mode", int(mode)).Msg("Operation mode changed")
	return nil
}

// SensorData returns the latest reading of every sensor and hourly means over the window.
func (c *Controller) SensorData(ctx context.Context, window time.Duration) (map[string]float64, []model.HourlyBucket, error) {
	current, err := c.store.QueryLast(ctx, model.MeasurementSensorData)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	hourly, err := c.store.QueryHourly(ctx, model.MeasurementSensorData, c.now().Add(-window))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return current, hourly, nil
}
