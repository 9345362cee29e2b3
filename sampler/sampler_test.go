package sampler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quadpad/quadpad/pad"
	"github.com/quadpad/quadpad/sampler"
)

func TestFeed(t *testing.T) {
	f := sampler.NewFeed()

	words := f.Sample()
	for i, w := range words {
		assert.Equal(t, pad.RawSample(0), w, "port %d", i)
	}

	f.SetState(2, pad.State{Connected: true, X: -127, Buttons: pad.ButtonA})
	words = f.Sample()
	assert.Equal(t, pad.State{Connected: true, X: -127, Buttons: pad.ButtonA}, pad.Decode(words[2]))
	assert.Equal(t, pad.RawSample(0), words[0])

	// Latest write wins; earlier words between rounds are not observable.
	f.SetState(2, pad.State{Connected: true})
	f.Unplug(2)
	words = f.Sample()
	assert.Equal(t, pad.State{}, pad.Decode(words[2]))
}

func TestSimIsReproducible(t *testing.T) {
	a := sampler.NewSim(7)
	b := sampler.NewSim(7)
	for i := 0; i < 100; i++ {
		assert.Equal(t, a.Sample(), b.Sample())
	}
}

func TestSimStartsConnected(t *testing.T) {
	s := sampler.NewSim(1)
	words := s.Sample()
	connected := 0
	for _, w := range words {
		if pad.Decode(w).Connected {
			connected++
		}
	}
	// Hot-plug flips are rare; the first round must leave most pads attached.
	assert.GreaterOrEqual(t, connected, 3)
}
