package sampler

import (
	"math/rand"

	"github.com/quadpad/quadpad/pad"
)

// Sim is a Backend that synthesizes four attached pads mashing buttons
// and flicking the stick at random. It exists so the whole pipeline can
// be exercised without hardware or a feeder client.
//
// Sim mutates internal state on each Sample call and is intended to be
// called from the acquisition loop only.
type Sim struct {
	rng    *rand.Rand
	states [pad.NumPorts]pad.State
}

// NewSim returns a simulator seeded with seed so runs are reproducible.
func NewSim(seed int64) *Sim {
	s := &Sim{rng: rand.New(rand.NewSource(seed))}
	for i := range s.states {
		s.states[i] = pad.State{Connected: true}
	}
	return s
}

// Sample advances every simulated pad one step and returns the words
// its data lines would read.
func (s *Sim) Sample() [pad.NumPorts]pad.RawSample {
	var out [pad.NumPorts]pad.RawSample
	for i := range s.states {
		s.step(i)
		out[i] = pad.Encode(s.states[i])
	}
	return out
}

var axisSteps = [3]int8{-127, 0, 127}

func (s *Sim) step(port int) {
	st := &s.states[port]
	switch s.rng.Intn(20) {
	case 0:
		st.Buttons ^= 1 << s.rng.Intn(8)
	case 1:
		st.X = axisSteps[s.rng.Intn(3)]
	case 2:
		st.Y = axisSteps[s.rng.Intn(3)]
	case 3:
		// Rare hot-plug event.
		if s.rng.Intn(10) == 0 {
			st.Connected = !st.Connected
		}
	}
}
