package pad

// EventKind classifies what a tracker observation produced.
type EventKind int

const (
	// EventNone: nothing changed, or noise on a disconnected port.
	EventNone EventKind = iota
	// EventPresence: the port's connected flag flipped.
	EventPresence
	// EventReport: a connected port's axes or buttons changed.
	EventReport
)

// Event is the outcome of observing one port for one tick.
type Event struct {
	Port  int
	Kind  EventKind
	State State
}

// Tracker remembers the last observed state per port and turns fresh
// decoded states into presence-change or report-ready events.
//
// A Tracker is owned by the acquisition loop and is not safe for
// concurrent use; the shared view of port state lives in Cells.
type Tracker struct {
	last [NumPorts]State
}

// Observe records s as port's newest state and reports what changed.
//
// Presence flips always win over data changes. While a port is
// disconnected no report event is ever produced for it, no matter how
// noisy the decoded axis/button bits are; only a reconnect re-arms
// reporting.
func (t *Tracker) Observe(port int, s State) Event {
	prev := t.last[port]
	t.last[port] = s

	switch {
	case s.Connected != prev.Connected:
		return Event{Port: port, Kind: EventPresence, State: s}
	case s.Connected && s != prev:
		return Event{Port: port, Kind: EventReport, State: s}
	default:
		return Event{Port: port, Kind: EventNone, State: s}
	}
}

// Last returns the most recent state observed for port.
func (t *Tracker) Last(port int) State {
	return t.last[port]
}
