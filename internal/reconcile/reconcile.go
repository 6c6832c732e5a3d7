package reconcile

import (
	"errors"
	"fmt"
	"math"

	"github.com/thatsimonsguy/greenhouse-controller/internal/device"
	"github.com/thatsimonsguy/greenhouse-controller/internal/protocol"
)

var (
	ErrOutOfRange = errors.New("percentage out of range")
	ErrNotTimed   = errors.New("device is not percentage addressable")
	ErrBadAction  = errors.New("invalid action")
)

type Action string

const (
	Open  Action = "open"
	Close Action = "close"
)

// Plan is the absolute target position and the actuation needed to approach it.
type Plan struct {
	Target  float64
	Seconds int32
	Action  Action
}

// Request converts the plan into the command sent to the node.
func (p Plan) Request() protocol.Request {
	if p.Action == Open {
		return protocol.TimedOpen(p.Seconds)
	}
	return protocol.TimedClose(p.Seconds)
}

// Reconcile turns a relative open/close request into a clamped target and a run time.
//
// The run time is proportional to the requested delta, not to the clamped one: opening
// 25% from 90% still drives the motor for the full 25%, and the actuator end stop absorbs
// the overshoot.
func Reconcile(d device.Device, action Action, requested, current float64) (Plan, error) {
	if !d.Timed() {
		return Plan{}, fmt.Errorf("%w: %s", ErrNotTimed, d.Name)
	}
	if !inRange(requested) || !inRange(current) {
		return Plan{}, fmt.Errorf("%w: requested=%v current=%v", ErrOutOfRange, requested, current)
	}

	var target float64
	switch action {
	case Open:
		target = Clamp(current + requested)
	case Close:
		target = Clamp(current - requested)
	default:
		return Plan{}, fmt.Errorf("%w: %q", ErrBadAction, action)
	}

	return Plan{
		Target:  target,
		Seconds: ActuationSeconds(d.TraverseSeconds, requested),
		Action:  action,
	}, nil
}

func ActuationSeconds(traverseSeconds int, requested float64) int32 {
	return int32(math.Floor(float64(traverseSeconds) * requested / 100))
}

func Clamp(p float64) float64 {
	return math.Min(math.Max(p, 0), 100)
}

func inRange(p float64) bool {
	return !math.IsNaN(p) && p >= 0 && p <= 100
}
