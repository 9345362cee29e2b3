package pad

import "sync/atomic"

// Cell publishes one port's most recent state as a single atomically
// accessed word. The acquisition side stores into it each tick; the
// host-facing side loads from it when building reports. No locks: the
// presentation path must never be blocked by acquisition.
type Cell struct {
	v atomic.Uint32
}

// Cells is the per-port publication array shared between the two loops.
type Cells [NumPorts]Cell

// Store atomically publishes s.
func (c *Cell) Store(s State) {
	c.v.Store(s.pack())
}

// Load atomically reads the last published state.
func (c *Cell) Load() State {
	return unpack(c.v.Load())
}

func (s State) pack() uint32 {
	w := uint32(uint8(s.X)) | uint32(uint8(s.Y))<<8 | uint32(s.Buttons)<<16
	if s.Connected {
		w |= 1 << 24
	}
	return w
}

func unpack(w uint32) State {
	return State{
		Connected: w&(1<<24) != 0,
		X:         int8(uint8(w)),
		Y:         int8(uint8(w >> 8)),
		Buttons:   uint8(w >> 16),
	}
}
