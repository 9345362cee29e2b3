// Package acquisition runs the sampling loop: every tick it pulls one
// raw word per port from the backend, decodes it, publishes the state
// to the shared cells, and feeds presence changes into the composite
// manager. This goroutine is the sole owner of the manager's state
// machine.
package acquisition

import (
	"context"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/quadpad/quadpad/composite"
	"github.com/quadpad/quadpad/internal/watchdog"
	"github.com/quadpad/quadpad/pad"
	"github.com/quadpad/quadpad/sampler"
)

// DefaultTick is the acquisition cadence. Controller hardware is
// comfortably stable at this rate and HID hosts poll no faster.
const DefaultTick = 10 * time.Millisecond

// Stats is a snapshot of the loop's counters.
type Stats struct {
	Ticks           uint64
	Reports         uint64
	PresenceChanges uint64
}

// Loop ties the sampling backend to the shared cells and the manager.
type Loop struct {
	log     *slog.Logger
	backend sampler.Backend
	mgr     *composite.Manager
	cells   *pad.Cells
	tick    time.Duration
	hb      *watchdog.Heartbeat

	tracker pad.Tracker

	ticks    atomic.Uint64
	reports  atomic.Uint64
	presence atomic.Uint64
}

// New returns a loop ticking at tick (DefaultTick when non-positive).
// hb may be nil when no watchdog supervises the loop.
func New(log *slog.Logger, backend sampler.Backend, mgr *composite.Manager, cells *pad.Cells, tick time.Duration, hb *watchdog.Heartbeat) *Loop {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Loop{
		log:     log.With("component", "acquisition"),
		backend: backend,
		mgr:     mgr,
		cells:   cells,
		tick:    tick,
		hb:      hb,
	}
}

// Run drives the loop until ctx is done. The goroutine is pinned to its
// OS thread to keep tick jitter away from the host-facing path.
func (l *Loop) Run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	l.log.Info("acquisition loop running", "tick", l.tick)
	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.log.Info("acquisition loop stopped")
			return
		case <-ticker.C:
			l.step()
		}
	}
}

func (l *Loop) step() {
	words := l.backend.Sample()
	for port, raw := range words {
		s := pad.Decode(raw)
		l.cells[port].Store(s)
		switch ev := l.tracker.Observe(port, s); ev.Kind {
		case pad.EventPresence:
			l.presence.Add(1)
			l.log.Info("presence change", "port", port, "connected", s.Connected)
			l.mgr.HandlePresence(port, s.Connected)
		case pad.EventReport:
			l.reports.Add(1)
		}
	}
	l.mgr.Poll()
	if l.hb != nil {
		l.hb.Pet()
	}
	l.ticks.Add(1)
}

// Stats returns a snapshot of the loop's counters. Safe from any
// goroutine.
func (l *Loop) Stats() Stats {
	return Stats{
		Ticks:           l.ticks.Load(),
		Reports:         l.reports.Load(),
		PresenceChanges: l.presence.Load(),
	}
}
