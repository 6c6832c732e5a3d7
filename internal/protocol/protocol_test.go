package protocol

import (
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitMergeRoundTrip(t *testing.T) {
	edges := []int32{0, 1, -1, 120, 480, 65535, 65536, -65536, math.MaxInt32, math.MinInt32}
	for _, n := range edges {
		w := SplitDuration(n)
		assert.Equal(t, n, MergeWords(w[0], w[1]), "round trip of %d", n)
	}

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 10000; i++ {
		n := int32(r.Uint32())
		w := SplitDuration(n)
		require.Equal(t, n, MergeWords(w[0], w[1]))
	}
}

func TestSplitDuration_WordOrder(t *testing.T) {
	// 0x00010002 -> low word first
	assert.Equal(t, [2]uint16{0x0002, 0x0001}, SplitDuration(0x00010002))
	assert.Equal(t, [2]uint16{120, 0}, SplitDuration(120))
	assert.Equal(t, [2]uint16{0xFFFF, 0xFFFF}, SplitDuration(-1))
}

func TestEncode(t *testing.T) {
	p, err := Encode(TimedOpen(120), 7)
	require.NoError(t, err)
	assert.Equal(t, Payload{303, 7, 120, 0}, p)

	p, err = Encode(TimedClose(70000), 8)
	require.NoError(t, err)
	assert.Equal(t, Payload{304, 8, uint16(70000 & 0xFFFF), 1}, p)

	p, err = Encode(Stop(), 9)
	require.NoError(t, err)
	assert.Equal(t, Payload{0, 9}, p)

	p, err = Encode(Run(), 10)
	require.NoError(t, err)
	assert.Equal(t, Payload{201, 10}, p)
}

func TestEncode_DurationContract(t *testing.T) {
	secs := int32(5)

	_, err := Encode(Request{Command: CmdTimedOpen}, 1)
	assert.ErrorIs(t, err, ErrInvalidCommand)

	_, err = Encode(Request{Command: CmdStop, Seconds: &secs}, 1)
	assert.ErrorIs(t, err, ErrInvalidCommand)

	_, err = Encode(Request{Command: Command(42)}, 1)
	assert.ErrorIs(t, err, ErrInvalidCommand)
}

func TestSequencer_Monotonic(t *testing.T) {
	seq := NewSequencer(1)
	prev := seq.Current()
	for i := 0; i < 100; i++ {
		next := seq.Next()
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestSequencer_AdoptResetsBaseline(t *testing.T) {
	seq := NewSequencer(1)
	seq.Next()
	seq.Adopt(500)
	assert.Equal(t, uint16(501), seq.Next())
}

func TestSequencer_Wraps(t *testing.T) {
	seq := NewSequencer(math.MaxUint16)
	assert.Equal(t, uint16(0), seq.Next())
}

func TestSequencer_ConcurrentNextIsUnique(t *testing.T) {
	seq := NewSequencer(0)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[uint16]bool{}
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				id := seq.Next()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 1000)
}

func TestDecodeStatus(t *testing.T) {
	tests := []struct {
		name      string
		words     []uint16
		state     State
		remaining int32
	}{
		{"ready", []uint16{3, 0, 0, 0}, StateReady, 0},
		{"working", []uint16{3, 201, 0, 0}, StateWorking, 0},
		{"opening", []uint16{3, 301, 120, 0}, StateOpening, 120},
		{"closing", []uint16{3, 302, 0x1170, 0x0001}, StateClosing, 0x00011170},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := DecodeStatus(tt.words)
			require.NoError(t, err)
			assert.Equal(t, uint16(3), st.OPID)
			assert.Equal(t, tt.state, st.State)
			assert.Equal(t, tt.remaining, st.Remaining)
			assert.True(t, st.Known())
		})
	}
}

func TestDecodeStatus_UnknownCodeIsNotAnError(t *testing.T) {
	st, err := DecodeStatus([]uint16{9, 777, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, StateUnknown, st.State)
	assert.Equal(t, uint16(777), st.RawState)
	assert.False(t, st.Known())
	assert.Equal(t, "unknown", st.State.String())
}

func TestDecodeStatus_Short(t *testing.T) {
	_, err := DecodeStatus([]uint16{1, 0})
	assert.ErrorIs(t, err, ErrShortStatus)
}

func TestParseCommand(t *testing.T) {
	c, err := ParseCommand("open")
	require.NoError(t, err)
	assert.Equal(t, CmdTimedOpen, c)

	_, err = ParseCommand("explode")
	assert.ErrorIs(t, err, ErrInvalidCommand)
}
