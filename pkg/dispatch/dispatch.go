// Package dispatch runs the cooperative main loop: one scheduler step, battery
// notifications, a key emission attempt and a watchdog refresh per tick.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/tuffrabit/tinygo-midikbd/pkg/keyboard"
	"github.com/tuffrabit/tinygo-midikbd/pkg/keystate"
)

// DefaultIdle bounds how long Run sleeps without a wake notification, so link
// state changes that raise no interrupt are still noticed.
const DefaultIdle = 10 * time.Millisecond

// Scheduler is the link stack's step function.
type Scheduler interface {
	Schedule()
}

// Link reports per-peer connection state.
type Link interface {
	Connected(peer keyboard.Peer) bool
	Bonded(peer keyboard.Peer) bool
	HIDEnabled(peer keyboard.Peer) bool
}

// Battery flushes a pending level notification for one peer.
type Battery interface {
	Flush(peer keyboard.Peer) bool
}

// Watchdog is refreshed once per tick.
type Watchdog interface {
	Refresh()
}

// Emitter is the key state machine as seen by the loop.
type Emitter interface {
	TryEmit(peer keyboard.Peer, ready bool) keystate.Result
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func()

func (f SchedulerFunc) Schedule() { f() }

// WatchdogFunc adapts a function to Watchdog.
type WatchdogFunc func()

func (f WatchdogFunc) Refresh() { f() }

// Config wires a Loop. Scheduler, Battery, Watchdog and Waker are optional.
type Config struct {
	Scheduler Scheduler
	Link      Link
	Battery   Battery
	Watchdog  Watchdog
	Emitter   Emitter
	Waker     *Waker
	Peers     int
	Primary   keyboard.Peer
	Idle      time.Duration
	Logger    *slog.Logger
}

// Loop is the dispatch loop.
type Loop struct {
	cfg    Config
	waker  *Waker
	logger *slog.Logger
	ready  bool
	ticks  uint64
}

// New builds a loop from cfg.
func New(cfg Config) *Loop {
	if cfg.Peers < 1 {
		cfg.Peers = 1
	}
	if cfg.Idle <= 0 {
		cfg.Idle = DefaultIdle
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	waker := cfg.Waker
	if waker == nil {
		waker = NewWaker()
	}
	return &Loop{
		cfg:    cfg,
		waker:  waker,
		logger: logger,
	}
}

// Waker returns the loop's wake source. Interrupt callbacks call Notify.
func (l *Loop) Waker() *Waker {
	return l.waker
}

// Ticks returns the number of completed ticks.
func (l *Loop) Ticks() uint64 {
	return l.ticks
}

// Tick runs one loop iteration and returns the emission result.
func (l *Loop) Tick() keystate.Result {
	if l.cfg.Scheduler != nil {
		l.cfg.Scheduler.Schedule()
	}

	if l.cfg.Battery != nil {
		for i := 0; i < l.cfg.Peers; i++ {
			peer := keyboard.Peer(i)
			if l.cfg.Link.Connected(peer) && l.cfg.Link.Bonded(peer) {
				l.cfg.Battery.Flush(peer)
			}
		}
	}

	ready := l.linkReady()
	if ready != l.ready {
		l.ready = ready
		l.logger.Info("dispatch: link readiness changed", "peer", l.cfg.Primary, "ready", ready)
	}

	res := l.cfg.Emitter.TryEmit(l.cfg.Primary, ready)
	switch res {
	case keystate.ResultEmitted:
		l.logger.Debug("dispatch: keystroke emitted", "peer", l.cfg.Primary)
	case keystate.ResultAdvanced:
		l.logger.Debug("dispatch: banner advanced")
	}

	if l.cfg.Watchdog != nil {
		l.cfg.Watchdog.Refresh()
	}
	l.ticks++
	return res
}

// Run ticks until ctx is cancelled, sleeping between ticks until woken or
// the idle period passes.
func (l *Loop) Run(ctx context.Context) error {
	timer := time.NewTimer(l.cfg.Idle)
	defer timer.Stop()

	for {
		l.Tick()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(l.cfg.Idle)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.waker.C():
		case <-timer.C:
		}
	}
}

func (l *Loop) linkReady() bool {
	p := l.cfg.Primary
	return l.cfg.Link.Connected(p) && l.cfg.Link.Bonded(p) && l.cfg.Link.HIDEnabled(p)
}
