package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/thatsimonsguy/greenhouse-controller/internal/protocol"
)

var ErrInjected = errors.New("injected transport fault")

// Memory is an in-process register bank that behaves like the actuator node: a write
// to a command block is acknowledged in the matching status block.
type Memory struct {
	mu          sync.Mutex
	regs        map[uint16]uint16
	statusBase  uint16
	commandBase uint16
	blocks      uint16

	failWrites int
	failReads  int
	writes     [][]uint16
	ops        []string
	stateFor   func(protocol.Command) protocol.State
}

func NewMemory(statusBase, commandBase, blocks uint16) *Memory {
	return &Memory{
		regs:        make(map[uint16]uint16),
		statusBase:  statusBase,
		commandBase: commandBase,
		blocks:      blocks,
		stateFor:    stateForCommand,
	}
}

func stateForCommand(c protocol.Command) protocol.State {
	switch c {
	case protocol.CmdRun:
		return protocol.StateWorking
	case protocol.CmdTimedOpen:
		return protocol.StateOpening
	case protocol.CmdTimedClose:
		return protocol.StateClosing
	default:
		return protocol.StateReady
	}
}

func (m *Memory) ReadRegisters(ctx context.Context, address uint16, count uint16) ([]uint16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failReads > 0 {
		m.failReads--
		return nil, ErrInjected
	}
	out := make([]uint16, count)
	for i := range out {
		out[i] = m.regs[address+uint16(i)]
	}
	m.ops = append(m.ops, fmt.Sprintf("read@%d", address))
	return out, nil
}

func (m *Memory) WriteRegisters(ctx context.Context, address uint16, words []uint16) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrites > 0 {
		m.failWrites--
		return ErrInjected
	}
	for i, w := range words {
		m.regs[address+uint16(i)] = w
	}
	m.writes = append(m.writes, append([]uint16{address}, words...))
	m.ops = append(m.ops, fmt.Sprintf("write@%d", address))

	if address >= m.commandBase && address < m.commandBase+m.blocks && len(words) >= 2 {
		status := m.statusBase + (address - m.commandBase)
		m.regs[status] = words[1]
		m.regs[status+1] = uint16(m.stateFor(protocol.Command(words[0])))
		m.regs[status+2], m.regs[status+3] = 0, 0
		if len(words) >= 4 {
			m.regs[status+2], m.regs[status+3] = words[2], words[3]
		}
	}
	return nil
}

func (m *Memory) Close() error { return nil }

// Set preloads a register, e.g. a sensor reading.
func (m *Memory) Set(address uint16, value uint16) {
	m.mu.Lock()
	m.regs[address] = value
	m.mu.Unlock()
}

// FailWrites makes the next n writes return ErrInjected.
func (m *Memory) FailWrites(n int) {
	m.mu.Lock()
	m.failWrites = n
	m.mu.Unlock()
}

// FailReads makes the next n reads return ErrInjected.
func (m *Memory) FailReads(n int) {
	m.mu.Lock()
	m.failReads = n
	m.mu.Unlock()
}

// ReportState overrides the state code the bank acknowledges commands with.
func (m *Memory) ReportState(code uint16) {
	m.mu.Lock()
	m.stateFor = func(protocol.Command) protocol.State { return protocol.State(code) }
	m.mu.Unlock()
}

// Writes returns every successful write as [address, words...].
func (m *Memory) Writes() [][]uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]uint16, len(m.writes))
	copy(out, m.writes)
	return out
}

// Ops returns every successful exchange in order, as "read@<address>" or "write@<address>".
func (m *Memory) Ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ops...)
}
