package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/simonvetter/modbus"
)

type ModbusConfig struct {
	URL      string
	UnitID   uint8
	Timeout  time.Duration
	Speed    uint
	DataBits uint
	StopBits uint
}

// Modbus talks to the actuator node over Modbus TCP or RTU.
//
// The client library takes no context: ctx is checked before each exchange, but a call
// already on the wire is bounded only by ModbusConfig.Timeout.
type Modbus struct {
	mu     sync.Mutex
	client *modbus.ModbusClient
	closed bool
}

func NewModbus(cfg ModbusConfig) (*Modbus, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:      cfg.URL,
		Timeout:  cfg.Timeout,
		Speed:    cfg.Speed,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
	})
	if err != nil {
		return nil, fmt.Errorf("create modbus client for %s: %w", cfg.URL, err)
	}
	if err := client.Open(); err != nil {
		return nil, fmt.Errorf("open modbus connection to %s: %w", cfg.URL, err)
	}
	if err := client.SetUnitId(cfg.UnitID); err != nil {
		client.Close()
		return nil, fmt.Errorf("set modbus unit id %d: %w", cfg.UnitID, err)
	}

	log.Info().
		Str("url", cfg.URL).
		Uint8("unit_id", cfg.UnitID).
		Dur("timeout", cfg.Timeout).
		Msg("Modbus transport connected")

	return &Modbus{client: client}, nil
}

func (m *Modbus) ReadRegisters(ctx context.Context, address uint16, count uint16) ([]uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ready(ctx); err != nil {
		return nil, err
	}
	words, err := m.client.ReadRegisters(address, count, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, fmt.Errorf("read %d registers at %d: %w", count, address, err)
	}
	return words, nil
}

func (m *Modbus) WriteRegisters(ctx context.Context, address uint16, words []uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ready(ctx); err != nil {
		return err
	}
	if err := m.client.WriteRegisters(address, words); err != nil {
		return fmt.Errorf("write %d registers at %d: %w", len(words), address, err)
	}
	return nil
}

func (m *Modbus) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.client.Close()
}

func (m *Modbus) ready(ctx context.Context) error {
	if m.closed {
		return ErrClosed
	}
	return ctx.Err()
}
