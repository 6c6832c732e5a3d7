package commander

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/greenhouse-controller/internal/device"
	"github.com/thatsimonsguy/greenhouse-controller/internal/dispatcher"
	"github.com/thatsimonsguy/greenhouse-controller/internal/protocol"
	"github.com/thatsimonsguy/greenhouse-controller/internal/transport"
)

var sleep = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Config struct {
	StatusBase  int
	CommandBase int
	// Settle is how long the node gets to latch a command before its status is read back.
	Settle time.Duration
	// CallTimeout bounds each individual register exchange for transports that honour
	// ctx. Over Modbus the client timeout is what bounds a call in flight.
	CallTimeout time.Duration
}

// Sent describes one command that reached the node.
type Sent struct {
	OPID    uint16
	Payload protocol.Payload
	Status  protocol.Status
	// Acknowledged is true when the read-back status carries the OPID we issued.
	Acknowledged bool
}

// Commander is the single owner of the register channel and the OPID sequence. Every
// register exchange goes through it, one at a time.
type Commander struct {
	mu  sync.Mutex
	tr  transport.Registers
	seq *protocol.Sequencer
	cfg Config
}

func New(tr transport.Registers, seq *protocol.Sequencer, cfg Config) *Commander {
	if cfg.StatusBase == 0 {
		cfg.StatusBase = protocol.StatusBase
	}
	if cfg.CommandBase == 0 {
		cfg.CommandBase = protocol.CommandBase
	}
	return &Commander{tr: tr, seq: seq, cfg: cfg}
}

func (c *Commander) Sequencer() *protocol.Sequencer { return c.seq }

// Send encodes req, writes it to the device command block, waits for the node to settle
// and reads the status block back.
func (c *Commander) Send(ctx context.Context, d device.Device, req protocol.Request) (Sent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	opid := c.seq.Next()
	payload, err := protocol.Encode(req, opid)
	if err != nil {
		return Sent{}, dispatcher.Permanent(err)
	}

	addr := d.CommandAddress(c.cfg.CommandBase)
	log.Info().
		Str("device", d.Name).
		Str("command", req.String()).
		Uint16("opid", opid).
		Uint16("address", addr).
		Msg("Sending command")

	if err := c.call(ctx, func(ctx context.Context) error {
		return c.tr.WriteRegisters(ctx, addr, payload)
	}); err != nil {
		return Sent{}, fmt.Errorf("send %s to %s: %w", req, d.Name, err)
	}

	if err := sleep(ctx, c.cfg.Settle); err != nil {
		return Sent{}, err
	}

	st, err := c.readStatus(ctx, d)
	if err != nil {
		return Sent{}, fmt.Errorf("confirm %s on %s: %w", req, d.Name, err)
	}

	sent := Sent{OPID: opid, Payload: payload, Status: st, Acknowledged: st.OPID == opid}
	if !sent.Acknowledged {
		log.Warn().
			Str("device", d.Name).
			Uint16("issued_opid", opid).
			Uint16("reported_opid", st.OPID).
			Msg("Device has not acknowledged the command yet")
	}
	return sent, nil
}

// ReadStatus reads and decodes the device status block.
func (c *Commander) ReadStatus(ctx context.Context, d device.Device) (protocol.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readStatus(ctx, d)
}

// ReadRegisters reads raw words, e.g. sensor values, through the same serialized channel.
func (c *Commander) ReadRegisters(ctx context.Context, address, count uint16) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var words []uint16
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		words, err = c.tr.ReadRegisters(ctx, address, count)
		return err
	})
	return words, err
}

// readStatus adopts the OPID the device reports: the hardware counter is authoritative
// and the local sequence continues from it.
func (c *Commander) readStatus(ctx context.Context, d device.Device) (protocol.Status, error) {
	addr := d.StatusAddress(c.cfg.StatusBase)

	var words []uint16
	if err := c.call(ctx, func(ctx context.Context) error {
		var err error
		words, err = c.tr.ReadRegisters(ctx, addr, protocol.StatusWords)
		return err
	}); err != nil {
		return protocol.Status{}, fmt.Errorf("read status of %s: %w", d.Name, err)
	}

	st, err := protocol.DecodeStatus(words)
	if err != nil {
		return protocol.Status{}, fmt.Errorf("decode status of %s: %w", d.Name, err)
	}
	c.seq.Adopt(st.OPID)

	ev := log.Debug()
	if !st.Known() {
		ev = log.Warn()
	}
	ev.Str("device", d.Name).
		Uint16("opid", st.OPID).
		Str("state", st.State.String()).
		Uint16("raw_state", st.RawState).
		Int32("remaining", st.Remaining).
		Msg("Read device status")

	return st, nil
}

func (c *Commander) call(ctx context.Context, fn func(context.Context) error) error {
	if c.cfg.CallTimeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	return fn(ctx)
}
