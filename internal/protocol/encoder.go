package protocol

import (
	"errors"
	"fmt"
	"sync"
)

var ErrInvalidCommand = errors.New("invalid command")

// Payload is the word sequence written to a device command block.
type Payload []uint16

// Request is one logical command. Seconds must be set for timed commands and nil otherwise.
type Request struct {
	Command Command
	Seconds *int32
}

func Stop() Request { return Request{Command: CmdStop} }
func Run() Request  { return Request{Command: CmdRun} }

func TimedOpen(seconds int32) Request {
	return Request{Command: CmdTimedOpen, Seconds: &seconds}
}

func TimedClose(seconds int32) Request {
	return Request{Command: CmdTimedClose, Seconds: &seconds}
}

func (r Request) String() string {
	if r.Seconds == nil {
		return r.Command.String()
	}
	return fmt.Sprintf("%s(%ds)", r.Command, *r.Seconds)
}

// Encode builds the command block for r tagged with opid.
func Encode(r Request, opid uint16) (Payload, error) {
	switch {
	case r.Command.Timed() && r.Seconds == nil:
		return nil, fmt.Errorf("%w: %s requires a duration", ErrInvalidCommand, r.Command)
	case !r.Command.Timed() && r.Seconds != nil:
		return nil, fmt.Errorf("%w: %s does not take a duration", ErrInvalidCommand, r.Command)
	case r.Command != CmdStop && r.Command != CmdRun && !r.Command.Timed():
		return nil, fmt.Errorf("%w: %s", ErrInvalidCommand, r.Command)
	}

	if r.Seconds == nil {
		return Payload{uint16(r.Command), opid}, nil
	}
	words := SplitDuration(*r.Seconds)
	return Payload{uint16(r.Command), opid, words[0], words[1]}, nil
}

// SplitDuration splits a signed 32-bit value into (low, high) words, the node's native order.
func SplitDuration(n int32) [2]uint16 {
	u := uint32(n)
	return [2]uint16{uint16(u & 0xFFFF), uint16(u >> 16)}
}

// MergeWords is the inverse of SplitDuration.
func MergeWords(low, high uint16) int32 {
	return int32(uint32(high)<<16 | uint32(low))
}

// Sequencer hands out operation ids. Next is the only way to issue one.
//
// The local counter is advisory: every status read reports the OPID the device last
// observed, and Adopt makes that value the new baseline. Hardware wins.
type Sequencer struct {
	mu   sync.Mutex
	last uint16
}

func NewSequencer(start uint16) *Sequencer {
	return &Sequencer{last: start}
}

// Next increments and returns the counter. Wraps at the register width.
func (s *Sequencer) Next() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last++
	return s.last
}

func (s *Sequencer) Adopt(opid uint16) {
	s.mu.Lock()
	s.last = opid
	s.mu.Unlock()
}

func (s *Sequencer) Current() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
