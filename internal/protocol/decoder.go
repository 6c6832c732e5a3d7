package protocol

import (
	"errors"
	"fmt"
)

var ErrShortStatus = errors.New("status block too short")

// Status is a decoded device status block: [opid, state, remaining low, remaining high].
type Status struct {
	OPID      uint16 `json:"opid"`
	State     State  `json:"-"`
	RawState  uint16 `json:"raw_state"`
	Remaining int32  `json:"remaining_seconds"`
}

// Known reports whether the state code mapped onto one of the documented states.
func (s Status) Known() bool {
	return s.State != StateUnknown
}

func DecodeStatus(words []uint16) (Status, error) {
	if len(words) < StatusWords {
		return Status{}, fmt.Errorf("%w: got %d words, want %d", ErrShortStatus, len(words), StatusWords)
	}

	st := Status{
		OPID:      words[0],
		RawState:  words[1],
		Remaining: MergeWords(words[2], words[3]),
	}
	switch State(words[1]) {
	case StateReady, StateWorking, StateOpening, StateClosing:
		st.State = State(words[1])
	default:
		st.State = StateUnknown
	}
	return st, nil
}
