package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_AcknowledgesCommandBlock(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(200, 500, 64)

	require.NoError(t, m.WriteRegisters(ctx, 536, []uint16{303, 12, 120, 0}))

	words, err := m.ReadRegisters(ctx, 236, 4)
	require.NoError(t, err)
	assert.Equal(t, []uint16{12, 301, 120, 0}, words)

	require.NoError(t, m.WriteRegisters(ctx, 504, []uint16{201, 13}))
	words, err = m.ReadRegisters(ctx, 204, 4)
	require.NoError(t, err)
	assert.Equal(t, []uint16{13, 201, 0, 0}, words)
}

func TestMemory_OutsideCommandBlocksIsPlainStorage(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(200, 500, 64)

	require.NoError(t, m.WriteRegisters(ctx, 100, []uint16{7, 8}))
	words, err := m.ReadRegisters(ctx, 100, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint16{7, 8}, words)
}

func TestMemory_FaultInjection(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(200, 500, 64)

	m.FailWrites(2)
	assert.ErrorIs(t, m.WriteRegisters(ctx, 504, []uint16{0, 1}), ErrInjected)
	assert.ErrorIs(t, m.WriteRegisters(ctx, 504, []uint16{0, 1}), ErrInjected)
	assert.NoError(t, m.WriteRegisters(ctx, 504, []uint16{0, 1}))
	assert.Len(t, m.Writes(), 1)

	m.FailReads(1)
	_, err := m.ReadRegisters(ctx, 204, 4)
	assert.ErrorIs(t, err, ErrInjected)
}

func TestMemory_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewMemory(200, 500, 64)
	assert.ErrorIs(t, m.WriteRegisters(ctx, 504, []uint16{0, 1}), context.Canceled)
}

func TestMemory_RecordsOps(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(200, 500, 64)

	require.NoError(t, m.WriteRegisters(ctx, 536, []uint16{303, 1, 10, 0}))
	_, err := m.ReadRegisters(ctx, 236, 4)
	require.NoError(t, err)
	m.FailReads(1)
	_, err = m.ReadRegisters(ctx, 100, 1)
	require.Error(t, err)

	assert.Equal(t, []string{"write@536", "read@236"}, m.Ops())
}

func TestOpen_SafeModeUsesMemory(t *testing.T) {
	tr, err := Open(Options{SafeMode: true, StatusBase: 200, CommandBase: 500, Blocks: 80})
	require.NoError(t, err)

	m, ok := tr.(*Memory)
	require.True(t, ok)
	require.NoError(t, m.WriteRegisters(context.Background(), 575, []uint16{201, 9}))
	words, err := m.ReadRegisters(context.Background(), 275, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint16{9, 201}, words)
}
