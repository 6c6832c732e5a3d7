package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Defaults(t *testing.T) {
	r := NewRegistry(nil)

	w := r.Get(RoofWindow1)
	assert.Equal(t, "roof-window-1", w.Name)
	assert.Equal(t, 36, w.Register)
	assert.Equal(t, 480, w.TraverseSeconds)
	assert.True(t, w.Timed())
	assert.Equal(t, uint16(236), w.StatusAddress(200))
	assert.Equal(t, uint16(536), w.CommandAddress(500))

	f := r.Get(Fan)
	assert.False(t, f.Timed())
	assert.Equal(t, uint16(504), f.CommandAddress(500))

	assert.Len(t, r.All(), 8)
	assert.Len(t, r.OfClass(Timed), 6)
	assert.Len(t, r.OfClass(Binary), 2)
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry(nil)

	for _, name := range []string{"side-curtain", "side_curtain", "측커텐", " Side-Curtain "} {
		d, err := r.Lookup(name)
		require.NoError(t, err, name)
		assert.Equal(t, SideCurtain, d.ID)
	}

	_, err := r.Lookup("sprinkler")
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func TestRegistry_Overrides(t *testing.T) {
	reg, secs := 90, 600
	r := NewRegistry(map[ID]Override{
		RoofWindow2: {Register: &reg, TraverseSeconds: &secs},
	})

	d := r.Get(RoofWindow2)
	assert.Equal(t, 90, d.Register)
	assert.Equal(t, 600, d.TraverseSeconds)

	// defaults untouched
	assert.Equal(t, 40, NewRegistry(nil).Get(RoofWindow2).Register)
}

func TestParseID(t *testing.T) {
	id, err := ParseID("blower")
	require.NoError(t, err)
	assert.Equal(t, Blower, id)
	assert.Equal(t, "blower", id.String())

	_, err = ParseID("천창1")
	assert.ErrorIs(t, err, ErrUnknownDevice)
}
