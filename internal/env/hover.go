package env

import (
	"math"
	"math/rand"

	"github.com/san-kum/quadgrid/internal/integrators"
	"github.com/san-kum/quadgrid/internal/models"
	"github.com/san-kum/quadgrid/internal/sim"
)

type ActionType int

const (
	// CTBR: collective thrust and three body rates.
	CTBR ActionType = iota
	// CTBRFixedYaw drops the yaw rate input; the controller cannot spin
	// the drone around its vertical axis.
	CTBRFixedYaw
)

func (a ActionType) NumActions() int {
	if a == CTBRFixedYaw {
		return 3
	}
	return 4
}

// Bounds holds per-dimension [min, max] action limits.
type Bounds struct {
	Min []float64
	Max []float64
}

func (b Bounds) Clamp(u sim.Control) sim.Control {
	c := u.Clone()
	for i := range c {
		if i >= len(b.Min) {
			break
		}
		c[i] = math.Min(math.Max(c[i], b.Min[i]), b.Max[i])
	}
	return c
}

type Config struct {
	Dt         float64 // physics timestep
	Decimation int     // physics steps per control step
	ActionType ActionType

	InitPos []float64 // initial hover position

	ActuatorNoiseStd float64
	ObsNoiseStd      float64

	// Integrator names the scheme stepping the plant ("rk4" or "euler");
	// empty or unknown names fall back to RK4.
	Integrator string

	// termination limits
	MaxTilt     float64 // rad, roll/pitch magnitude
	MaxLinVel   float64 // m/s per axis
	MaxPosError float64 // m per axis, relative to target
	MinHeight   float64 // m, ground proximity cutoff

	// hover detection
	AtTargetThreshold float64
	MinHoverSteps     int
}

func DefaultConfig() Config {
	return Config{
		Dt:                0.01,
		Decimation:        4,
		ActionType:        CTBRFixedYaw,
		InitPos:           []float64{0, 0, 1.5},
		MaxTilt:           math.Pi / 2,
		MaxLinVel:         10.0,
		MaxPosError:       5.0,
		MinHeight:         0.05,
		AtTargetThreshold: 5e-2,
		MinHoverSteps:     10,
	}
}

// Env wraps the quadrotor plant with action bounds, control decimation,
// actuator/observation noise, crash termination and hover bookkeeping.
// One control step advances the physics by Dt*Decimation seconds.
type Env struct {
	cfg    Config
	quad   *models.Quadrotor
	integ  sim.Integrator
	rng    *rand.Rand
	bounds Bounds

	x          sim.State
	t          float64
	target     sim.State
	lastAction sim.Control
	hoverSteps int
	crashed    bool
	steps      int
}

func New(cfg Config, seed int64) *Env {
	quad := models.NewQuadrotor()

	n := cfg.ActionType.NumActions()
	min := make([]float64, n)
	max := make([]float64, n)
	min[0], max[0] = 0, models.MaxThrust
	for i := 1; i < n; i++ {
		min[i], max[i] = -models.MaxBodyRate, models.MaxBodyRate
	}

	integ, err := integrators.New(cfg.Integrator)
	if err != nil {
		integ = integrators.NewRK4()
	}

	e := &Env{
		cfg:    cfg,
		quad:   quad,
		integ:  integ,
		rng:    rand.New(rand.NewSource(seed)),
		bounds: Bounds{Min: min, Max: max},
		target: sim.State{cfg.InitPos[0], cfg.InitPos[1], cfg.InitPos[2]},
	}
	e.Reset()
	return e
}

// Reset places the drone at rest at the configured initial position.
func (e *Env) Reset() {
	e.x = make(sim.State, e.quad.StateDim())
	copy(e.x, e.cfg.InitPos)
	e.t = 0
	e.lastAction = make(sim.Control, e.cfg.ActionType.NumActions())
	e.hoverSteps = 0
	e.crashed = false
	e.steps = 0
}

func (e *Env) StepDt() float64 { return e.cfg.Dt * float64(e.cfg.Decimation) }
func (e *Env) Bounds() Bounds  { return e.bounds }
func (e *Env) NumActions() int { return e.cfg.ActionType.NumActions() }
func (e *Env) Time() float64   { return e.t }
func (e *Env) Steps() int      { return e.steps }

// Step applies one control action for a full decimated control period and
// returns the measured (possibly noisy) position. Actions outside the
// bounds are clamped, matching the plant's actuator saturation.
func (e *Env) Step(u sim.Control) sim.State {
	a := e.bounds.Clamp(u)
	if e.cfg.ActuatorNoiseStd > 0 {
		for i := range a {
			a[i] += e.rng.NormFloat64() * e.cfg.ActuatorNoiseStd
		}
		a = e.bounds.Clamp(a)
	}

	for i := 0; i < e.cfg.Decimation; i++ {
		e.x = e.integ.Step(e.quad, e.x, a, e.t, e.cfg.Dt)
		e.t += e.cfg.Dt
	}
	e.steps++
	e.lastAction = a

	e.updateHover()
	e.updateCrash()

	return e.Position(true)
}

func (e *Env) updateHover() {
	rel := e.relPos()
	if rel.Norm() < e.cfg.AtTargetThreshold {
		e.hoverSteps++
	} else {
		e.hoverSteps = 0
	}
}

func (e *Env) updateCrash() {
	if !e.x.IsValid() {
		e.crashed = true
		return
	}
	rel := e.relPos()
	roll, pitch := e.x[6], e.x[7]
	switch {
	case math.Abs(roll) > e.cfg.MaxTilt || math.Abs(pitch) > e.cfg.MaxTilt:
		e.crashed = true
	case e.x[2] < e.cfg.MinHeight:
		e.crashed = true
	case math.Abs(rel[0]) > e.cfg.MaxPosError ||
		math.Abs(rel[1]) > e.cfg.MaxPosError ||
		math.Abs(rel[2]) > e.cfg.MaxPosError:
		e.crashed = true
	case math.Abs(e.x[3]) > e.cfg.MaxLinVel ||
		math.Abs(e.x[4]) > e.cfg.MaxLinVel ||
		math.Abs(e.x[5]) > e.cfg.MaxLinVel:
		e.crashed = true
	}
}

func (e *Env) relPos() sim.State {
	return sim.State{
		e.target[0] - e.x[0],
		e.target[1] - e.x[1],
		e.target[2] - e.x[2],
	}
}

// Position returns the drone position, with observation noise when noise is
// true and a noise level is configured.
func (e *Env) Position(noise bool) sim.State {
	p := sim.State{e.x[0], e.x[1], e.x[2]}
	if noise && e.cfg.ObsNoiseStd > 0 {
		for i := range p {
			p[i] += e.rng.NormFloat64() * e.cfg.ObsNoiseStd
		}
	}
	return p
}

const (
	obsRelPosScale = 1.0 / 3.0
	obsLinVelScale = 1.0 / 3.0
)

// Observation builds the policy observation vector: scaled and clipped
// relative position, attitude, scaled linear velocity, and the last action
// normalized to [-1, 1].
func (e *Env) Observation() sim.State {
	obs := make(sim.State, 0, 9+len(e.lastAction))

	rel := e.relPos()
	for _, v := range rel {
		obs = append(obs, clip(v*obsRelPosScale, -1, 1))
	}
	obs = append(obs, e.x[6], e.x[7], e.x[8])
	for i := 3; i < 6; i++ {
		obs = append(obs, clip(e.x[i]*obsLinVelScale, -1, 1))
	}
	for i, v := range e.lastAction {
		obs = append(obs, normalize(v, e.bounds.Min[i], e.bounds.Max[i]))
	}
	return obs
}

func clip(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// normalize maps v from [min, max] to [-1, 1].
func normalize(v, min, max float64) float64 {
	if max == min {
		return 0
	}
	return 2*(v-min)/(max-min) - 1
}

// Denormalize maps a [-1, 1] action back to the environment bounds.
func (e *Env) Denormalize(a sim.Control) sim.Control {
	u := make(sim.Control, len(a))
	for i := range a {
		u[i] = e.bounds.Min[i] + (clip(a[i], -1, 1)+1)/2*(e.bounds.Max[i]-e.bounds.Min[i])
	}
	return u
}

func (e *Env) SetTarget(p sim.State) {
	e.target = p.Clone()
	e.hoverSteps = 0
}

func (e *Env) Target() sim.State { return e.target.Clone() }
func (e *Env) Crashed() bool     { return e.crashed }

// AtTarget reports whether the drone has hovered within the at-target
// threshold for at least MinHoverSteps consecutive control steps.
func (e *Env) AtTarget() bool {
	return e.hoverSteps >= e.cfg.MinHoverSteps
}

func (e *Env) HoverSteps() int { return e.hoverSteps }

// DistanceToTarget uses the true position, not the noisy measurement.
func (e *Env) DistanceToTarget() float64 {
	return e.relPos().Norm()
}

// Snapshot captures everything needed to resume the environment later.
type Snapshot struct {
	X          sim.State
	T          float64
	Target     sim.State
	LastAction sim.Control
	HoverSteps int
	Crashed    bool
	Steps      int
}

func (e *Env) Snapshot() Snapshot {
	return Snapshot{
		X:          e.x.Clone(),
		T:          e.t,
		Target:     e.target.Clone(),
		LastAction: e.lastAction.Clone(),
		HoverSteps: e.hoverSteps,
		Crashed:    e.crashed,
		Steps:      e.steps,
	}
}

func (e *Env) Restore(s Snapshot) {
	e.x = s.X.Clone()
	e.t = s.T
	e.target = s.Target.Clone()
	e.lastAction = s.LastAction.Clone()
	e.hoverSteps = s.HoverSteps
	e.crashed = s.Crashed
	e.steps = s.Steps
}
