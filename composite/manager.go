package composite

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/quadpad/quadpad/pad"
)

// DefaultSettleDelay is how long the link stays down during a
// reconfiguration cycle. Long enough for host driver unbind, short
// enough that the stall is not perceptible. The value is empirical and
// may need tuning per host OS.
const DefaultSettleDelay = 100 * time.Millisecond

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// SettleDelay overrides DefaultSettleDelay when positive.
	SettleDelay time.Duration
	// Pool is the number of HID instances available. Mask bits at or
	// above Pool are discarded before compaction. Defaults to the
	// physical port count; values beyond it are clamped down.
	Pool int
}

// Manager owns the active-port mask and runs the reconfiguration state
// machine: Stable(mask) until presence changes, then exactly one
// in-flight link bounce at a time, with further changes coalesced into
// the pending target.
//
// HandlePresence and Poll must only be called from the acquisition
// goroutine. ActiveMask, Reconfiguring, Cycles, Enable and Disable are
// safe from any goroutine.
type Manager struct {
	log      *slog.Logger
	link     Link
	settle   time.Duration
	poolMask uint8

	active atomic.Uint32
	busy   atomic.Bool
	cycles atomic.Uint64

	// Owned by the acquisition goroutine.
	target uint8

	inject chan presenceChange
	done   chan uint8
}

type presenceChange struct {
	port      int
	connected bool
}

// NewManager returns a Manager in Stable(0) bound to link.
func NewManager(log *slog.Logger, link Link, cfg ManagerConfig) *Manager {
	settle := cfg.SettleDelay
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	pool := cfg.Pool
	if pool <= 0 || pool > pad.NumPorts {
		pool = pad.NumPorts
	}
	return &Manager{
		log:      log.With("component", "composite"),
		link:     link,
		settle:   settle,
		poolMask: 1<<pool - 1,
		inject:   make(chan presenceChange, 16),
		done:     make(chan uint8, 1),
	}
}

// ActiveMask returns the published active-port mask. Bit i is set iff
// port i is represented by a HID interface in the configuration the
// host sees (or is about to see, while a cycle is in flight).
func (m *Manager) ActiveMask() uint8 {
	return uint8(m.active.Load())
}

// Reconfiguring reports whether a link bounce is currently in flight.
func (m *Manager) Reconfiguring() bool {
	return m.busy.Load()
}

// Cycles returns the number of completed reconfiguration cycles.
func (m *Manager) Cycles() uint64 {
	return m.cycles.Load()
}

// Layout compacts the current mask into an interface assignment.
func (m *Manager) Layout() Layout {
	return LayoutFor(m.ActiveMask())
}

// BuildConfigDescriptor materializes the configuration descriptor for
// the mask current at this instant. Callable from the presentation
// goroutine at any time, including mid-cycle.
func (m *Manager) BuildConfigDescriptor() []byte {
	return m.Layout().Descriptor()
}

// Enable injects a synthetic attach event for port. It follows the same
// coalescing rules as a physical presence change and takes effect on
// the acquisition loop's next poll.
func (m *Manager) Enable(port int) error {
	return m.injectChange(port, true)
}

// Disable injects a synthetic detach event for port.
func (m *Manager) Disable(port int) error {
	return m.injectChange(port, false)
}

func (m *Manager) injectChange(port int, connected bool) error {
	if port < 0 || port >= pad.NumPorts {
		return fmt.Errorf("port %d out of range 0..%d", port, pad.NumPorts-1)
	}
	m.inject <- presenceChange{port: port, connected: connected}
	return nil
}

// HandlePresence folds a presence change for port into the state
// machine. Owner goroutine only.
func (m *Manager) HandlePresence(port int, connected bool) {
	target := m.target
	if connected {
		target |= 1 << port
	} else {
		target &^= 1 << port
	}
	m.request(target)
}

// Poll drains injected events and completed cycles. The acquisition
// loop calls it once per tick. Owner goroutine only.
func (m *Manager) Poll() {
	for {
		select {
		case ch := <-m.inject:
			m.HandlePresence(ch.port, ch.connected)
		case completed := <-m.done:
			m.finish(completed)
		default:
			return
		}
	}
}

func (m *Manager) request(target uint8) {
	target &= m.poolMask
	if m.busy.Load() {
		// Coalesce into the pending target; the completion handler
		// starts at most one follow-up cycle.
		m.target = target
		return
	}
	m.target = target
	if target == uint8(m.active.Load()) {
		return
	}
	m.begin(target)
}

// begin publishes target and starts the link bounce. The mask store
// happens before Down so any descriptor rebuild triggered by the
// re-enumeration observes the new mask, never a stale one.
func (m *Manager) begin(target uint8) {
	m.busy.Store(true)
	m.active.Store(uint32(target))
	m.log.Info("reconfiguring", "mask", fmt.Sprintf("%04b", target))

	go func() {
		m.link.Down()
		time.Sleep(m.settle)
		m.link.Up()
		m.done <- target
	}()
}

func (m *Manager) finish(completed uint8) {
	m.cycles.Add(1)
	m.busy.Store(false)
	m.log.Debug("reconfiguration complete", "mask", fmt.Sprintf("%04b", completed))
	if m.target != completed {
		m.begin(m.target)
	}
}
