package models

import (
	"math"

	"github.com/san-kum/quadgrid/internal/sim"
)

// Quadrotor is a 3D rigid-body quadrotor driven by collective thrust and
// body rates (CTBR). The rate loop is assumed ideal: commanded body rates
// are integrated directly into the attitude. State layout:
//
//	[x, y, z, vx, vy, vz, roll, pitch, yaw]
//
// Control layout: [thrust, wx, wy, wz]; a 3-element control is treated as
// fixed-yaw (wz = 0).
type Quadrotor struct {
	Mass      float64
	Gravity   float64
	DragCoeff float64
}

func NewQuadrotor() *Quadrotor {
	return &Quadrotor{
		Mass:      DefaultMass,
		Gravity:   DefaultGravity,
		DragCoeff: DefaultDragCoeff,
	}
}

func (q *Quadrotor) StateDim() int   { return 9 }
func (q *Quadrotor) ControlDim() int { return 4 }

func (q *Quadrotor) Derivative(x sim.State, u sim.Control, t float64) sim.State {
	vx, vy, vz := x[3], x[4], x[5]
	roll, pitch, yaw := x[6], x[7], x[8]

	thrust := 0.0
	wx, wy, wz := 0.0, 0.0, 0.0
	switch {
	case len(u) >= 4:
		thrust, wx, wy, wz = u[0], u[1], u[2], u[3]
	case len(u) == 3:
		thrust, wx, wy = u[0], u[1], u[2]
	case len(u) >= 1:
		thrust = u[0]
	}
	thrust = math.Max(0, thrust)

	sr, cr := math.Sincos(roll)
	sp, cp := math.Sincos(pitch)
	sy, cy := math.Sincos(yaw)

	// body z-axis in world frame (ZYX euler)
	a := thrust / q.Mass
	ax := a*(cr*sp*cy+sr*sy) - q.DragCoeff*vx/q.Mass
	ay := a*(cr*sp*sy-sr*cy) - q.DragCoeff*vy/q.Mass
	az := a*cr*cp - q.Gravity - q.DragCoeff*vz/q.Mass

	return sim.State{vx, vy, vz, ax, ay, az, wx, wy, wz}
}

// HoverThrust is the collective thrust that cancels gravity in level flight.
func (q *Quadrotor) HoverThrust() float64 {
	return q.Mass * q.Gravity
}

// Position extracts the measured output (position) from a state vector.
func (q *Quadrotor) Position(x sim.State) sim.State {
	return sim.State{x[0], x[1], x[2]}
}

func (q *Quadrotor) Energy(x sim.State) float64 {
	vx, vy, vz := x[3], x[4], x[5]
	ke := 0.5 * q.Mass * (vx*vx + vy*vy + vz*vz)
	pe := q.Mass * q.Gravity * x[2]
	return ke + pe
}
