package shutdown

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thatsimonsguy/greenhouse-controller/internal/config"
	"github.com/thatsimonsguy/greenhouse-controller/internal/env"
)

type mockStopper struct {
	calls int
	err   error
}

func (m *mockStopper) StopAll(ctx context.Context) error {
	m.calls++
	return m.err
}

func withExit(t *testing.T) *int {
	t.Helper()
	code := -1
	orig := exit
	exit = func(c int) { code = c }
	t.Cleanup(func() { exit = orig })
	return &code
}

func withConfig(t *testing.T, cfg *config.Config) {
	t.Helper()
	orig := env.Cfg
	env.Cfg = cfg
	t.Cleanup(func() { env.Cfg = orig })
}

func TestShutdown_StopsActuators(t *testing.T) {
	withConfig(t, &config.Config{})
	code := withExit(t)
	s := &mockStopper{}

	Shutdown(s, 0)

	assert.Equal(t, 1, s.calls)
	assert.Equal(t, 0, *code)
}

func TestShutdown_SafeModeSkipsStop(t *testing.T) {
	withConfig(t, &config.Config{SafeMode: true})
	code := withExit(t)
	s := &mockStopper{}

	Shutdown(s, 0)

	assert.Zero(t, s.calls)
	assert.Equal(t, 0, *code)
}

func TestShutdownWithError_ExitsNonZeroEvenIfStopFails(t *testing.T) {
	withConfig(t, &config.Config{})
	code := withExit(t)
	s := &mockStopper{err: errors.New("bus down")}

	ShutdownWithError(s, errors.New("boom"), "fatal")

	assert.Equal(t, 1, s.calls)
	assert.Equal(t, 1, *code)
}
