// Package watchdog supervises the long-running loops. Each loop pets
// its heartbeat every iteration; if any heartbeat goes stale the hang
// callback fires. The pipeline itself has no liveness recovery, so the
// callback is expected to restart the process.
package watchdog

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTimeout is how stale a heartbeat may go before the watchdog
// declares the loop hung.
const DefaultTimeout = 3 * time.Second

// Heartbeat is petted by one loop and read by the watchdog.
type Heartbeat struct {
	last atomic.Int64 // unix nanos of the most recent pet
}

// Pet records that the owning loop is alive.
func (h *Heartbeat) Pet() {
	h.last.Store(time.Now().UnixNano())
}

func (h *Heartbeat) age(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, h.last.Load()))
}

// Watchdog aggregates heartbeats and fires onHang with the name of the
// first loop that goes stale.
type Watchdog struct {
	log     *slog.Logger
	timeout time.Duration
	onHang  func(name string)

	mu      sync.Mutex
	entries []entry
}

type entry struct {
	name string
	hb   *Heartbeat
}

// New returns a watchdog with the given timeout; non-positive values
// fall back to DefaultTimeout.
func New(log *slog.Logger, timeout time.Duration, onHang func(name string)) *Watchdog {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Watchdog{
		log:     log.With("component", "watchdog"),
		timeout: timeout,
		onHang:  onHang,
	}
}

// Register adds a named heartbeat, already petted so a loop that has
// not started yet gets a full timeout of grace.
func (w *Watchdog) Register(name string) *Heartbeat {
	hb := &Heartbeat{}
	hb.Pet()
	w.mu.Lock()
	w.entries = append(w.entries, entry{name: name, hb: hb})
	w.mu.Unlock()
	return hb
}

// Run checks heartbeats until ctx is done or a loop hangs. On a hang it
// logs, invokes the callback once, and returns.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.timeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if name, age, ok := w.stale(now); ok {
				w.log.Error("loop hung", "name", name, "age", age)
				if w.onHang != nil {
					w.onHang(name)
				}
				return
			}
		}
	}
}

func (w *Watchdog) stale(now time.Time) (string, time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range w.entries {
		if age := e.hb.age(now); age > w.timeout {
			return e.name, age, true
		}
	}
	return "", 0, false
}
