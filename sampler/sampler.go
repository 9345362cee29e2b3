// Package sampler provides the sampling backends the acquisition loop
// pulls raw controller words from. A backend stands in for the dedicated
// sampling co-processor of the hardware adapter: it delivers exactly one
// raw 32-bit word per port per acquisition round, with no buffering.
// Sampling is lossy: only the most recent word is observable.
package sampler

import (
	"sync/atomic"

	"github.com/quadpad/quadpad/pad"
)

// Backend supplies one raw sample word per port for one acquisition
// round. Sample must be cheap and must never block for longer than a
// small fraction of the acquisition tick.
type Backend interface {
	Sample() [pad.NumPorts]pad.RawSample
}

// Feed is a Backend whose port words are injected externally, e.g. by
// the control API. Each port holds a single word that every subsequent
// round re-observes until it is replaced; intermediate writes between
// rounds are discarded, matching the lossy sampling contract.
//
// The zero value reads as four disconnected ports.
type Feed struct {
	words [pad.NumPorts]atomic.Uint32
}

// NewFeed returns a Feed with all ports disconnected.
func NewFeed() *Feed {
	return &Feed{}
}

// Sample returns the current word of every port.
func (f *Feed) Sample() [pad.NumPorts]pad.RawSample {
	var out [pad.NumPorts]pad.RawSample
	for i := range out {
		out[i] = pad.RawSample(f.words[i].Load())
	}
	return out
}

// Set replaces port's raw word. Safe for concurrent use.
func (f *Feed) Set(port int, raw pad.RawSample) {
	f.words[port].Store(uint32(raw))
}

// SetState encodes s onto port's data lines.
func (f *Feed) SetState(port int, s pad.State) {
	f.Set(port, pad.Encode(s))
}

// Unplug drops all lines of port low, reading as no pad attached.
func (f *Feed) Unplug(port int) {
	f.Set(port, 0)
}
