package reconcile

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/greenhouse-controller/internal/device"
	"github.com/thatsimonsguy/greenhouse-controller/internal/protocol"
)

var registry = device.NewRegistry(nil)

func TestReconcile_Scenarios(t *testing.T) {
	window := registry.Get(device.RoofWindow1)

	tests := []struct {
		name      string
		action    Action
		requested float64
		current   float64
		target    float64
		seconds   int32
	}{
		{"open within range", Open, 25, 20, 45, 120},
		{"open past the end stop", Open, 25, 90, 100, 120},
		{"close within range", Close, 40, 60, 20, 192},
		{"close past zero", Close, 50, 10, 0, 240},
		{"zero request", Open, 0, 33, 33, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Reconcile(window, tt.action, tt.requested, tt.current)
			require.NoError(t, err)
			assert.Equal(t, tt.target, plan.Target)
			assert.Equal(t, tt.seconds, plan.Seconds)
		})
	}
}

func TestReconcile_ClampAndProportionality(t *testing.T) {
	for _, d := range registry.OfClass(device.Timed) {
		for current := 0.0; current <= 100; current += 5 {
			for requested := 0.0; requested <= 100; requested += 2.5 {
				for _, action := range []Action{Open, Close} {
					plan, err := Reconcile(d, action, requested, current)
					require.NoError(t, err)
					assert.GreaterOrEqual(t, plan.Target, 0.0)
					assert.LessOrEqual(t, plan.Target, 100.0)

					want := int32(math.Floor(float64(d.TraverseSeconds) * requested / 100))
					assert.Equal(t, want, plan.Seconds, "%s %s %v from %v", d.Name, action, requested, current)
				}
			}
		}
	}
}

func TestReconcile_Rejects(t *testing.T) {
	window := registry.Get(device.RoofWindow1)

	_, err := Reconcile(registry.Get(device.Fan), Open, 10, 0)
	assert.ErrorIs(t, err, ErrNotTimed)

	_, err = Reconcile(window, Open, 120, 0)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = Reconcile(window, Open, -1, 0)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = Reconcile(window, Open, math.NaN(), 0)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = Reconcile(window, Action("tilt"), 10, 0)
	assert.ErrorIs(t, err, ErrBadAction)
}

func TestPlan_Request(t *testing.T) {
	req := Plan{Action: Open, Seconds: 120}.Request()
	assert.Equal(t, protocol.CmdTimedOpen, req.Command)
	require.NotNil(t, req.Seconds)
	assert.Equal(t, int32(120), *req.Seconds)

	req = Plan{Action: Close, Seconds: 9}.Request()
	assert.Equal(t, protocol.CmdTimedClose, req.Command)
}
