package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxRetries = 3
	DefaultBackoff    = 1 * time.Second
)

const (
	stateIdle       = "idle"
	stateAttempting = "attempting"
	stateBackoff    = "backoff"
	stateSucceeded  = "succeeded"
	stateFailed     = "failed"

	eventSend    = "send"
	eventOK      = "ok"
	eventFault   = "fault"
	eventRetry   = "retry"
	eventExhaust = "exhaust"
	eventAbort   = "abort"
)

type Outcome int

const (
	Success Outcome = iota
	Retry
	Failure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Retry:
		return "retry"
	default:
		return "failure"
	}
}

// Attempt is the result of one physical send.
type Attempt struct {
	Number  int
	Outcome Outcome
	Cause   error
}

type Result struct {
	Outcome  Outcome
	Attempts int
	History  []Attempt
	Err      error
}

// Op performs one send. attempt starts at 1.
type Op func(ctx context.Context, attempt int) error

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

func IsPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p)
}

var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Dispatcher struct {
	maxRetries int
	backoff    time.Duration
}

func New(maxRetries int, backoff time.Duration) *Dispatcher {
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}
	return &Dispatcher{maxRetries: maxRetries, backoff: backoff}
}

func (d *Dispatcher) MaxRetries() int { return d.maxRetries }

// Dispatch runs op until it succeeds, fails permanently, or the retry budget is spent.
func (d *Dispatcher) Dispatch(ctx context.Context, label string, op Op) Result {
	machine := newMachine(label)
	fire(machine, eventSend)

	var res Result
	for n := 1; ; n++ {
		a := d.classify(ctx, n, op(ctx, n))
		res.History = append(res.History, a)
		res.Attempts = n

		switch a.Outcome {
		case Success:
			fire(machine, eventOK)
			res.Outcome = Success
			return res
		case Failure:
			fire(machine, eventExhaust)
			res.Outcome = Failure
			res.Err = fmt.Errorf("%s failed after %d attempt(s): %w", label, n, a.Cause)
			return res
		}

		log.Warn().
			Err(a.Cause).
			Str("command", label).
			Int("attempt", n).
			Int("max_retries", d.maxRetries).
			Msg("Command send failed, retrying")

		fire(machine, eventFault)
		if err := sleep(ctx, d.backoff); err != nil {
			fire(machine, eventAbort)
			res.Outcome = Failure
			res.Err = fmt.Errorf("%s aborted during backoff after %d attempt(s): %w", label, n, err)
			return res
		}
		fire(machine, eventRetry)
	}
}

func (d *Dispatcher) classify(ctx context.Context, n int, err error) Attempt {
	switch {
	case err == nil:
		return Attempt{Number: n, Outcome: Success}
	case IsPermanent(err), ctx.Err() != nil, n >= d.maxRetries:
		return Attempt{Number: n, Outcome: Failure, Cause: err}
	default:
		return Attempt{Number: n, Outcome: Retry, Cause: err}
	}
}

func newMachine(label string) *fsm.FSM {
	return fsm.NewFSM(
		stateIdle,
		fsm.Events{
			{Name: eventSend, Src: []string{stateIdle}, Dst: stateAttempting},
			{Name: eventOK, Src: []string{stateAttempting}, Dst: stateSucceeded},
			{Name: eventExhaust, Src: []string{stateAttempting}, Dst: stateFailed},
			{Name: eventFault, Src: []string{stateAttempting}, Dst: stateBackoff},
			{Name: eventRetry, Src: []string{stateBackoff}, Dst: stateAttempting},
			{Name: eventAbort, Src: []string{stateBackoff}, Dst: stateFailed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debug().
					Str("command", label).
					Str("event", e.Event).
					Str("from", e.Src).
					Str("to", e.Dst).
					Msg("Dispatch transition")
			},
		},
	)
}

// fire advances the bookkeeping machine. It runs detached from the request context so a
// cancelled request still records its terminal state.
func fire(machine *fsm.FSM, event string) {
	if err := machine.Event(context.Background(), event); err != nil {
		log.Error().Err(err).Str("event", event).Str("state", machine.Current()).Msg("Invalid dispatch transition")
	}
}
