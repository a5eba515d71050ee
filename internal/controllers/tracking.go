package controllers

import (
	"math"

	"github.com/san-kum/quadgrid/internal/models"
	"github.com/san-kum/quadgrid/internal/sim"
)

// Tracking is the stabilizing position controller: a per-axis PID on the
// measured position feeding a proportional attitude loop that emits CTBR
// actions. It only sees position measurements; since the plant tracks
// commanded body rates exactly, the controller keeps its own attitude
// estimate by integrating the rates it commands.
type Tracking struct {
	Kp, Ki, Kd float64
	KpAtt      float64
	MaxTiltCmd float64

	mass    float64
	gravity float64
	dt      float64
	numAct  int

	target      sim.State
	integral    [3]float64
	prevErr     [3]float64
	first       bool
	roll, pitch float64
}

func NewTracking(target sim.State, stepDt float64, numActions int) *Tracking {
	q := models.NewQuadrotor()
	return &Tracking{
		Kp:         2.0,
		Ki:         0.3,
		Kd:         2.5,
		KpAtt:      8.0,
		MaxTiltCmd: 0.4,
		mass:       q.Mass,
		gravity:    q.Gravity,
		dt:         stepDt,
		numAct:     numActions,
		target:     target.Clone(),
		first:      true,
	}
}

// SetTarget retargets the controller. Integral state is cleared and the
// derivative term skips one step to avoid a kick from the error jump.
func (c *Tracking) SetTarget(p sim.State) {
	c.target = p.Clone()
	c.integral = [3]float64{}
	c.first = true
}

func (c *Tracking) Reset() {
	c.integral = [3]float64{}
	c.prevErr = [3]float64{}
	c.first = true
	c.roll, c.pitch = 0, 0
}

func (c *Tracking) Compute(y sim.State, t float64) sim.Control {
	var aDes [3]float64
	for i := 0; i < 3; i++ {
		err := c.target[i] - y[i]

		deriv := 0.0
		if !c.first {
			deriv = (err - c.prevErr[i]) / c.dt
			c.integral[i] += err * c.dt
		}
		c.prevErr[i] = err

		aDes[i] = c.Kp*err + c.Ki*c.integral[i] + c.Kd*deriv
	}
	c.first = false

	thrust := c.mass * (c.gravity + aDes[2])
	thrust = math.Min(math.Max(thrust, 0), models.MaxThrust)

	pitchDes := clip(aDes[0]/c.gravity, -c.MaxTiltCmd, c.MaxTiltCmd)
	rollDes := clip(-aDes[1]/c.gravity, -c.MaxTiltCmd, c.MaxTiltCmd)

	wx := clip(c.KpAtt*(rollDes-c.roll), -models.MaxBodyRate, models.MaxBodyRate)
	wy := clip(c.KpAtt*(pitchDes-c.pitch), -models.MaxBodyRate, models.MaxBodyRate)

	// ideal rate tracking: commanded rates become attitude
	c.roll += wx * c.dt
	c.pitch += wy * c.dt

	u := make(sim.Control, c.numAct)
	u[0] = thrust
	u[1] = wx
	u[2] = wy
	return u
}

func clip(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
