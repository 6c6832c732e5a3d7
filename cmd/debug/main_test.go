package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/greenhouse-controller/internal/device"
	"github.com/thatsimonsguy/greenhouse-controller/internal/protocol"
)

func TestConnect_SafeModeUsesMemoryBank(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"safe_mode": true, "modbus": {"url": "tcp://192.0.2.1:502"}}`), 0644))

	cmdr, cfg, closeFn, err := connect(path)
	require.NoError(t, err)
	defer closeFn()
	assert.True(t, cfg.SafeMode)

	d := cfg.Registry().Get(device.SideCurtain)
	sent, err := cmdr.Send(context.Background(), d, protocol.TimedClose(40))
	require.NoError(t, err)
	assert.True(t, sent.Acknowledged)
	assert.Equal(t, protocol.StateClosing, sent.Status.State)
}
