package metrics

import (
	"math"

	"github.com/san-kum/quadgrid/internal/sim"
)

// Settling records the first sample index after which the position stays
// within threshold of the target for the rest of the run. Value returns the
// sample count, or the total number of samples if the run never settles.
type Settling struct {
	name      string
	target    sim.State
	threshold float64

	samples    int
	lastOutset int // last sample seen outside the threshold
}

func NewSettling(target sim.State, threshold float64) *Settling {
	return &Settling{
		name:       "settling_steps",
		target:     target.Clone(),
		threshold:  threshold,
		lastOutset: -1,
	}
}

func (s *Settling) Name() string { return s.name }

func (s *Settling) SetTarget(p sim.State) {
	s.target = p.Clone()
	s.lastOutset = s.samples - 1
}

func (s *Settling) Observe(y sim.State, u sim.Control, t float64) {
	d := 0.0
	for i := range s.target {
		if i >= len(y) {
			break
		}
		e := y[i] - s.target[i]
		d += e * e
	}
	if math.Sqrt(d) > s.threshold {
		s.lastOutset = s.samples
	}
	s.samples++
}

func (s *Settling) Value() float64 {
	return float64(s.lastOutset + 1)
}

func (s *Settling) Reset() {
	s.samples = 0
	s.lastOutset = -1
}
