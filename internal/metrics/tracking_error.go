package metrics

import (
	"math"

	"github.com/san-kum/quadgrid/internal/sim"
)

// TrackingError accumulates the RMS distance between the measured position
// and the current target.
type TrackingError struct {
	name   string
	target sim.State

	sumSq   float64
	samples int
}

func NewTrackingError(target sim.State) *TrackingError {
	return &TrackingError{
		name:   "tracking_error",
		target: target.Clone(),
	}
}

func (m *TrackingError) Name() string { return m.name }

// SetTarget updates the reference without resetting the accumulator, so a
// multi-setpoint run reports error against whichever target was active at
// each sample.
func (m *TrackingError) SetTarget(p sim.State) {
	m.target = p.Clone()
}

func (m *TrackingError) Observe(y sim.State, u sim.Control, t float64) {
	d := 0.0
	for i := range m.target {
		if i >= len(y) {
			break
		}
		e := y[i] - m.target[i]
		d += e * e
	}
	m.sumSq += d
	m.samples++
}

func (m *TrackingError) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return math.Sqrt(m.sumSq / float64(m.samples))
}

func (m *TrackingError) Reset() {
	m.sumSq = 0
	m.samples = 0
}
