package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/greenhouse-controller/internal/commander"
	"github.com/thatsimonsguy/greenhouse-controller/internal/device"
	"github.com/thatsimonsguy/greenhouse-controller/internal/dispatcher"
	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
	"github.com/thatsimonsguy/greenhouse-controller/internal/notifications"
	"github.com/thatsimonsguy/greenhouse-controller/internal/store"
)

var (
	ErrBusy           = errors.New("controller busy with another request")
	ErrDispatchFailed = errors.New("command dispatch failed")
	ErrStore          = errors.New("store failure")
	ErrInvalidMode    = errors.New("invalid operation mode")
)

// Journal records every command from issue to persistence.
type Journal interface {
	Insert(ctx context.Context, e model.JournalEntry) error
	Update(ctx context.Context, id string, status model.JournalStatus, opid uint16, detail string) error
}

type Config struct {
	BusyWait           time.Duration
	ResetMarginSeconds int
}

type Deps struct {
	Registry   *device.Registry
	Commander  *commander.Commander
	Dispatcher *dispatcher.Dispatcher
	Store      store.TimeSeries
	Journal    Journal
	Notifier   notifications.Notifier
}

type Controller struct {
	registry   *device.Registry
	commander  *commander.Commander
	dispatcher *dispatcher.Dispatcher
	store      store.TimeSeries
	journal    Journal
	notifier   notifications.Notifier

	// sem is a one-slot semaphore around read-current, reconcile, send and persist.
	sem         chan struct{}
	busyWait    time.Duration
	resetMargin int

	subsMu  sync.Mutex
	subs    map[int]chan model.StateChange
	nextSub int

	now func() time.Time
}

func New(deps Deps, cfg Config) *Controller {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.Discard{}
	}
	if cfg.ResetMarginSeconds < 0 {
		cfg.ResetMarginSeconds = 0
	}
	return &Controller{
		registry:    deps.Registry,
		commander:   deps.Commander,
		dispatcher:  deps.Dispatcher,
		store:       deps.Store,
		journal:     deps.Journal,
		notifier:    notifier,
		sem:         make(chan struct{}, 1),
		busyWait:    cfg.BusyWait,
		resetMargin: cfg.ResetMarginSeconds,
		subs:        make(map[int]chan model.StateChange),
		now:         time.Now,
	}
}

func (c *Controller) Registry() *device.Registry { return c.registry }

func (c *Controller) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	default:
	}
	if c.busyWait <= 0 {
		return ErrBusy
	}

	t := time.NewTimer(c.busyWait)
	defer t.Stop()
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-t.C:
		return ErrBusy
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) release() { <-c.sem }

// Subscribe returns a stream of persisted state changes. The returned func unsubscribes.
func (c *Controller) Subscribe() (<-chan model.StateChange, func()) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan model.StateChange, 16)
	c.subs[id] = ch

	return ch, func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		if ch, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
	}
}

func (c *Controller) publish(ev model.StateChange) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for id, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			log.Warn().Int("subscriber", id).Str("device", ev.Device).Msg("Dropping state change for slow subscriber")
		}
	}
}
