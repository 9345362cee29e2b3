// Package pad models the legacy shift-register controller protocol: the
// raw 32-bit sample word captured from a controller port, its decoded
// state, and the 3-byte HID report derived from it.
package pad

// NumPorts is the number of physical controller ports. Port identity is
// fixed for the lifetime of the process and never reassigned.
const NumPorts = 4

// RawSample is one raw 32-bit word captured from a port: 16 shift cycles
// on 2 parallel data lines. Cycles 0-7 carry button states, 8-11 the
// axis polarity pairs, and 12-15 are protocol-constant high bits used as
// a presence sentinel.
type RawSample uint32

// Button bits of State.Buttons, in shift cycle order:
// B Y SELECT START UP DOWN LEFT RIGHT A X L R ^ ^ ^ ^
// (the directional cycles become the X/Y axes, not buttons).
const (
	ButtonB uint8 = 1 << iota
	ButtonY
	ButtonSelect
	ButtonStart
	ButtonA
	ButtonX
	ButtonL
	ButtonR
)

// State is the decoded state of one controller port. It is a plain value
// compared by structural equality; instances are produced fresh each
// acquisition tick and never mutated.
type State struct {
	Connected bool
	X         int8  // x axis, [-127, 127]
	Y         int8  // y axis, [-127, 127]
	Buttons   uint8 // 8 buttons
}

// Decode converts a raw sample word into a controller state.
//
// The bit mapping is a hardware compatibility contract fixed by the
// adapter wiring; every 32-bit input maps to a valid state and the
// negative X / positive Y polarity bits win on conflicting inputs.
// Decode is pure and total.
func Decode(raw RawSample) State {
	var s State

	// All four sentinel bits must read high for a pad to be present.
	s.Connected = (raw>>24)&1 == 1 &&
		(raw>>26)&1 == 1 &&
		(raw>>28)&1 == 1 &&
		(raw>>30)&1 == 1

	switch {
	case raw&(1<<12) != 0:
		s.X = -127
	case raw&(1<<14) != 0:
		s.X = 127
	}

	switch {
	case raw&(1<<8) != 0:
		s.Y = 127
	case raw&(1<<10) != 0:
		s.Y = -127
	}

	s.Buttons = uint8(((raw >> 0) & 1) |
		((raw>>2)&1)<<1 |
		((raw>>3)&1)<<2 |
		((raw>>4)&1)<<3 |
		((raw>>16)&1)<<4 |
		((raw>>18)&1)<<5 |
		((raw>>20)&1)<<6 |
		((raw>>22)&1)<<7)

	return s
}

// Encode builds the raw sample word a physical pad in the given state
// would produce. It is the inverse of Decode up to axis quantization:
// any negative axis value maps to the full-deflection polarity bit, so
// Decode(Encode(s)) equals s only for axis values in {-127, 0, 127}.
//
// Feed backends and tests use Encode to inject synthetic pads through
// the same bit-exact path real hardware takes.
func Encode(s State) RawSample {
	var raw RawSample

	if s.Connected {
		raw |= 1<<24 | 1<<26 | 1<<28 | 1<<30
	}

	switch {
	case s.X < 0:
		raw |= 1 << 12
	case s.X > 0:
		raw |= 1 << 14
	}

	switch {
	case s.Y > 0:
		raw |= 1 << 8
	case s.Y < 0:
		raw |= 1 << 10
	}

	b := RawSample(s.Buttons)
	raw |= (b & 1) |
		((b>>1)&1)<<2 |
		((b>>2)&1)<<3 |
		((b>>3)&1)<<4 |
		((b>>4)&1)<<16 |
		((b>>5)&1)<<18 |
		((b>>6)&1)<<20 |
		((b>>7)&1)<<22

	return raw
}

// Report encodes the state as the 3-byte HID input report:
// byte 0 = x, byte 1 = y, byte 2 = button mask.
func (s State) Report() [3]byte {
	return [3]byte{byte(s.X), byte(s.Y), s.Buttons}
}
