package transport

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("transport closed")

// Registers is a word-oriented holding register channel.
type Registers interface {
	ReadRegisters(ctx context.Context, address uint16, count uint16) ([]uint16, error)
	WriteRegisters(ctx context.Context, address uint16, words []uint16) error
	Close() error
}

type Options struct {
	// SafeMode swaps the node for an in-memory register bank.
	SafeMode    bool
	Modbus      ModbusConfig
	StatusBase  uint16
	CommandBase uint16
	// Blocks is how many register offsets the in-memory bank acknowledges commands for.
	Blocks uint16
}

// Open connects the configured register channel.
func Open(opts Options) (Registers, error) {
	if opts.SafeMode {
		log.Warn().
			Uint16("blocks", opts.Blocks).
			Msg("SAFE MODE ENABLED - commands go to an in-memory register bank, not the node")
		return NewMemory(opts.StatusBase, opts.CommandBase, opts.Blocks), nil
	}
	return NewModbus(opts.Modbus)
}
