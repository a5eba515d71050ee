package sim

import (
	"fmt"
	"math"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func (s State) Add(o State) State {
	c := make(State, len(s))
	for i := range s {
		c[i] = s[i] + o[i]
	}
	return c
}

func (s State) Sub(o State) State {
	c := make(State, len(s))
	for i := range s {
		c[i] = s[i] - o[i]
	}
	return c
}

func (s State) Scale(f float64) State {
	c := make(State, len(s))
	for i := range s {
		c[i] = s[i] * f
	}
	return c
}

type Control []float64

func (u Control) Clone() Control {
	c := make(Control, len(u))
	copy(c, u)
	return c
}

func (u Control) IsValid() bool {
	for _, v := range u {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

type Dynamics interface {
	Derivative(x State, u Control, t float64) State
	StateDim() int
	ControlDim() int
}

type Integrator interface {
	Step(dyn Dynamics, x State, u Control, t float64, dt float64) State
}

// Controller maps the measured plant output to a control input. All
// controllers here are output-feedback: they never see the full state.
type Controller interface {
	Compute(y State, t float64) Control
}

type Metric interface {
	Name() string
	Observe(y State, u Control, t float64)
	Value() float64
	Reset()
}

type Observer interface {
	OnStep(y State, u Control, t float64)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(y State, u Control, t float64)

func (f ObserverFunc) OnStep(y State, u Control, t float64) { f(y, u, t) }

type SimError struct {
	Time    float64
	Step    int
	Message string
}

func (e SimError) Error() string {
	return fmt.Sprintf("step %d (t=%.4f): %s", e.Step, e.Time, e.Message)
}
