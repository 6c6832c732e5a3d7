package protocol

import "fmt"

// Register layout of the actuator node.
const (
	StatusBase  = 200
	CommandBase = 500

	StatusWords = 4
	// CommandWords is the length of the longest payload, a timed command.
	CommandWords = 4
)

type Command uint16

const (
	CmdStop       Command = 0
	CmdRun        Command = 201
	CmdTimedOpen  Command = 303
	CmdTimedClose Command = 304
)

func (c Command) Timed() bool {
	return c == CmdTimedOpen || c == CmdTimedClose
}

func (c Command) String() string {
	switch c {
	case CmdStop:
		return "stop"
	case CmdRun:
		return "run"
	case CmdTimedOpen:
		return "timed_open"
	case CmdTimedClose:
		return "timed_close"
	default:
		return fmt.Sprintf("command(%d)", uint16(c))
	}
}

// ParseCommand accepts the names used by the debug CLI.
func ParseCommand(name string) (Command, error) {
	switch name {
	case "stop", "off":
		return CmdStop, nil
	case "run", "on":
		return CmdRun, nil
	case "open", "timed_open":
		return CmdTimedOpen, nil
	case "close", "timed_close":
		return CmdTimedClose, nil
	}
	return 0, fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, name)
}

type State uint16

const (
	StateReady   State = 0
	StateWorking State = 201
	StateOpening State = 301
	StateClosing State = 302

	// StateUnknown is never sent by a device; it marks a code we could not map.
	StateUnknown State = 0xFFFF
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateWorking:
		return "working"
	case StateOpening:
		return "opening"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}
