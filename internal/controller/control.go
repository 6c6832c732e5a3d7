package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/greenhouse-controller/db"
	"github.com/thatsimonsguy/greenhouse-controller/internal/commander"
	"github.com/thatsimonsguy/greenhouse-controller/internal/datadog"
	"github.com/thatsimonsguy/greenhouse-controller/internal/device"
	"github.com/thatsimonsguy/greenhouse-controller/internal/dispatcher"
	"github.com/thatsimonsguy/greenhouse-controller/internal/metrics"
	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
	"github.com/thatsimonsguy/greenhouse-controller/internal/protocol"
	"github.com/thatsimonsguy/greenhouse-controller/internal/reconcile"
)

// Outcome describes a command that was sent and persisted.
type Outcome struct {
	Device       string  `json:"device"`
	Command      string  `json:"command"`
	OPID         uint16  `json:"opid"`
	Seconds      int32   `json:"seconds,omitempty"`
	Target       float64 `json:"target"`
	Attempts     int     `json:"attempts"`
	Acknowledged bool    `json:"acknowledged"`
}

// Control drives one device. Timed devices take open/close and a percentage delta; binary
// devices take on/off and ignore percent.
func (c *Controller) Control(ctx context.Context, name, action string, percent float64) (Outcome, error) {
	d, err := c.registry.Lookup(name)
	if err != nil {
		return Outcome{}, err
	}

	if err := c.acquire(ctx); err != nil {
		return Outcome{}, err
	}
	defer c.release()

	if d.Timed() {
		return c.controlTimed(ctx, d, reconcile.Action(strings.ToLower(action)), percent)
	}
	return c.controlBinary(ctx, d, strings.ToLower(action))
}

func (c *Controller) controlTimed(ctx context.Context, d device.Device, action reconcile.Action, percent float64) (Outcome, error) {
	current, err := c.lastValue(ctx, d)
	if err != nil {
		return Outcome{}, err
	}

	plan, err := reconcile.Reconcile(d, action, percent, reconcile.Clamp(current))
	if err != nil {
		return Outcome{}, err
	}

	log.Info().
		Str("device", d.Name).
		Str("action", string(action)).
		Float64("requested", percent).
		Float64("current", current).
		Float64("target", plan.Target).
		Int32("seconds", plan.Seconds).
		Msg("Reconciled control request")

	return c.execute(ctx, d, plan.Request(), plan.Target)
}

func (c *Controller) controlBinary(ctx context.Context, d device.Device, action string) (Outcome, error) {
	cmd, err := protocol.ParseCommand(action)
	if err != nil || cmd.Timed() {
		return Outcome{}, fmt.Errorf("%w: %q for %s", reconcile.ErrBadAction, action, d.Name)
	}
	if cmd == protocol.CmdRun {
		return c.execute(ctx, d, protocol.Run(), 1)
	}
	return c.execute(ctx, d, protocol.Stop(), 0)
}

// execute journals, dispatches and persists one command. Persistence only follows a send
// the dispatcher reports as successful.
func (c *Controller) execute(ctx context.Context, d device.Device, req protocol.Request, target float64) (Outcome, error) {
	entry := db.NewJournalEntry(d.Name, req.Command.String(), seconds(req), target)
	if err := c.journal.Insert(ctx, entry); err != nil {
		return Outcome{}, fmt.Errorf("%w: %w", ErrStore, err)
	}

	sent, res := c.dispatch(ctx, d, req)
	if res.Outcome != dispatcher.Success {
		c.fail(d, req, entry.ID, res)
		return Outcome{Device: d.Name, Command: req.Command.String(), Attempts: res.Attempts},
			fmt.Errorf("%w: %w", ErrDispatchFailed, res.Err)
	}

	// The command reached the node; finish the bookkeeping even if the caller went away.
	ctx = context.WithoutCancel(ctx)
	c.mark(ctx, entry.ID, model.JournalSent, sent.OPID, "")

	if err := c.persist(ctx, d, target); err != nil {
		log.Error().Err(err).Str("device", d.Name).Str("journal_id", entry.ID).Msg("Command sent but state not persisted")
		return Outcome{}, err
	}
	c.mark(ctx, entry.ID, model.JournalPersisted, sent.OPID, "")

	out := Outcome{
		Device:       d.Name,
		Command:      req.Command.String(),
		OPID:         sent.OPID,
		Seconds:      seconds(req),
		Target:       target,
		Attempts:     res.Attempts,
		Acknowledged: sent.Acknowledged,
	}
	c.publish(stateChange(d, out, c.now()))
	return out, nil
}

func (c *Controller) dispatch(ctx context.Context, d device.Device, req protocol.Request) (commander.Sent, dispatcher.Result) {
	var sent commander.Sent
	cmd := req.Command.String()
	start := time.Now()

	res := c.dispatcher.Dispatch(ctx, d.Name+" "+req.String(), func(ctx context.Context, attempt int) error {
		s, err := c.commander.Send(ctx, d, req)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.CommandAttemptsTotal.WithLabelValues(d.Name, cmd, outcome).Inc()
		if err != nil {
			return err
		}
		sent = s
		return nil
	})

	metrics.DispatchTotal.WithLabelValues(d.Name, cmd, res.Outcome.String()).Inc()
	metrics.DispatchLatency.WithLabelValues(cmd).Observe(time.Since(start).Seconds())
	datadog.Incr("command.dispatch", "device:"+d.Name, "command:"+cmd, "outcome:"+res.Outcome.String())
	return sent, res
}

func (c *Controller) fail(d device.Device, req protocol.Request, journalID string, res dispatcher.Result) {
	log.Error().
		Err(res.Err).
		Str("device", d.Name).
		Str("command", req.String()).
		Int("attempts", res.Attempts).
		Msg("Command dispatch failed")

	c.mark(context.Background(), journalID, model.JournalFailed, 0, res.Err.Error())

	msg := fmt.Sprintf("%s %s failed after %d attempt(s): %v", d.Name, req, res.Attempts, res.Err)
	if err := c.notifier.Send("Greenhouse command failed", msg); err != nil {
		log.Warn().Err(err).Msg("Failed to send failure notification")
	}
}

func (c *Controller) persist(ctx context.Context, d device.Device, value float64) error {
	err := c.store.WritePoint(ctx, model.Point{
		Measurement: model.MeasurementControlStatus,
		Field:       d.Field,
		Value:       value,
		Time:        c.now(),
	})
	if err != nil {
		return fmt.Errorf("%w: persist %s: %w", ErrStore, d.Name, err)
	}
	metrics.DevicePosition.WithLabelValues(d.Name).Set(value)
	datadog.Gauge("device.position", value, "device:"+d.Name)
	return nil
}

func (c *Controller) mark(ctx context.Context, id string, status model.JournalStatus, opid uint16, detail string) {
	if err := c.journal.Update(ctx, id, status, opid, detail); err != nil {
		log.Error().Err(err).Str("journal_id", id).Str("status", string(status)).Msg("Failed to update command journal")
	}
}

func (c *Controller) lastValue(ctx context.Context, d device.Device) (float64, error) {
	last, err := c.store.QueryLast(ctx, model.MeasurementControlStatus, d.Field)
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %w", ErrStore, d.Name, err)
	}
	return last[d.Field], nil
}

// Reset stops every device and drives timed devices fully closed. Devices are handled
// independently: a failure on one does not stop the others, and only devices whose
// commands succeeded get their baseline persisted.
func (c *Controller) Reset(ctx context.Context) ([]Outcome, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	var outcomes []Outcome
	var errs []error
	for _, d := range append(c.registry.OfClass(device.Binary), c.registry.OfClass(device.Timed)...) {
		out, err := c.resetDevice(ctx, d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		outcomes = append(outcomes, out)
	}

	log.Info().Int("reset", len(outcomes)).Int("failed", len(errs)).Msg("Reset finished")
	return outcomes, errors.Join(errs...)
}

func (c *Controller) resetDevice(ctx context.Context, d device.Device) (Outcome, error) {
	if !d.Timed() {
		return c.execute(ctx, d, protocol.Stop(), 0)
	}

	// Stop any run in progress so the close is not queued behind it.
	if _, res := c.dispatch(ctx, d, protocol.Stop()); res.Outcome != dispatcher.Success {
		return Outcome{}, fmt.Errorf("%w: stop %s: %w", ErrDispatchFailed, d.Name, res.Err)
	}
	return c.execute(ctx, d, protocol.TimedClose(int32(d.TraverseSeconds+c.resetMargin)), 0)
}

func seconds(req protocol.Request) int32 {
	if req.Seconds == nil {
		return 0
	}
	return *req.Seconds
}

func stateChange(d device.Device, out Outcome, now time.Time) model.StateChange {
	ev := model.StateChange{
		Device:    d.Name,
		OPID:      out.OPID,
		Command:   out.Command,
		Seconds:   out.Seconds,
		Timestamp: now,
	}
	if d.Timed() {
		p := out.Target
		ev.Percent = &p
	} else {
		on := out.Target != 0
		ev.On = &on
	}
	return ev
}

// StopAll sends STOP to every device without touching persisted positions. It bypasses the
// request semaphore so it can run while a control request is stuck.
func (c *Controller) StopAll(ctx context.Context) error {
	var errs []error
	for _, d := range c.registry.All() {
		if _, res := c.dispatch(ctx, d, protocol.Stop()); res.Outcome != dispatcher.Success {
			errs = append(errs, fmt.Errorf("stop %s: %w", d.Name, res.Err))
		}
	}
	return errors.Join(errs...)
}
