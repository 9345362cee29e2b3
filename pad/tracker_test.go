package pad_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quadpad/quadpad/pad"
)

func TestTrackerPresenceAndReports(t *testing.T) {
	var tr pad.Tracker

	// First sight of a connected pad is a presence change.
	ev := tr.Observe(1, pad.Decode(0x55000000))
	assert.Equal(t, pad.EventPresence, ev.Kind)
	assert.Equal(t, 1, ev.Port)
	assert.True(t, ev.State.Connected)

	// Same state again: nothing.
	ev = tr.Observe(1, pad.Decode(0x55000000))
	assert.Equal(t, pad.EventNone, ev.Kind)

	// Button press on a connected pad: report.
	ev = tr.Observe(1, pad.Decode(0x55000001))
	assert.Equal(t, pad.EventReport, ev.Kind)
	assert.Equal(t, uint8(0x01), ev.State.Buttons)

	// Unplug: presence change, even though buttons changed too.
	ev = tr.Observe(1, pad.Decode(0x00000000))
	assert.Equal(t, pad.EventPresence, ev.Kind)
	assert.False(t, ev.State.Connected)
}

func TestTrackerSuppressesReportsWhileDisconnected(t *testing.T) {
	var tr pad.Tracker

	// Noisy data lines with no sentinel bits must never produce reports.
	noise := []pad.RawSample{0x00000001, 0x0000101d, 0x00000500, 0x00000000}
	for _, raw := range noise {
		ev := tr.Observe(0, pad.Decode(raw))
		assert.Equal(t, pad.EventNone, ev.Kind, "raw=%#08x", raw)
	}

	// Reconnect re-arms reporting.
	ev := tr.Observe(0, pad.Decode(0x55000000))
	assert.Equal(t, pad.EventPresence, ev.Kind)
	ev = tr.Observe(0, pad.Decode(0x55000001))
	assert.Equal(t, pad.EventReport, ev.Kind)
}

func TestTrackerPortsAreIndependent(t *testing.T) {
	var tr pad.Tracker

	assert.Equal(t, pad.EventPresence, tr.Observe(0, pad.State{Connected: true}).Kind)
	assert.Equal(t, pad.EventNone, tr.Observe(3, pad.State{}).Kind)
	assert.Equal(t, pad.EventPresence, tr.Observe(3, pad.State{Connected: true}).Kind)
	assert.Equal(t, pad.State{Connected: true}, tr.Last(0))
}
