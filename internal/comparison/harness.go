package comparison

import (
	"context"
	"fmt"

	"github.com/san-kum/quadgrid/internal/controllers"
	"github.com/san-kum/quadgrid/internal/ddmpc"
	"github.com/san-kum/quadgrid/internal/env"
	"github.com/san-kum/quadgrid/internal/metrics"
	"github.com/san-kum/quadgrid/internal/sim"
)

// Runner adapts one control strategy to the harness loop: given the
// environment it reads whatever measurement it needs and produces the next
// input.
type Runner interface {
	Name() string
	SetTarget(p sim.State)
	Step(e *env.Env) (sim.Control, error)
}

// TrackingRunner drives the cascade PID position controller.
type TrackingRunner struct {
	C *controllers.Tracking
}

func (r *TrackingRunner) Name() string         { return "tracking" }
func (r *TrackingRunner) SetTarget(p sim.State) { r.C.SetTarget(p) }
func (r *TrackingRunner) Step(e *env.Env) (sim.Control, error) {
	return r.C.Compute(e.Position(true), e.Time()), nil
}

// PolicyRunner drives a learned policy on normalized observations.
type PolicyRunner struct {
	P *controllers.Policy
}

func (r *PolicyRunner) Name() string          { return "policy" }
func (r *PolicyRunner) SetTarget(p sim.State) {}
func (r *PolicyRunner) Step(e *env.Env) (sim.Control, error) {
	return e.Denormalize(r.P.Act(e.Observation())), nil
}

// DDMPCRunner drives the data-driven MPC controller.
type DDMPCRunner struct {
	C *ddmpc.Controller
}

func (r *DDMPCRunner) Name() string          { return "ddmpc" }
func (r *DDMPCRunner) SetTarget(p sim.State) { r.C.SetTarget(p) }
func (r *DDMPCRunner) Step(e *env.Env) (sim.Control, error) {
	return r.C.Control(e.Position(true))
}

// Trajectory is the recorded closed-loop run of one strategy.
type Trajectory struct {
	Name string

	Times     []float64
	Inputs    [][]float64
	Outputs   [][]float64
	Setpoints [][]float64 // target active at each sample

	TrackingError float64
	ControlEffort float64
	SettlingSteps float64

	SetpointsReached int
	Crashed          bool
	Err              error
}

// Config fixes the shared evaluation protocol: every runner visits the same
// setpoints on an identically seeded environment.
type Config struct {
	EnvConfig env.Config
	Seed      int64

	Setpoints        []sim.State
	StepsPerSetpoint int // cap before moving on even if never stabilized

	// Observers receive every recorded (output, input, time) sample of
	// every runner.
	Observers []sim.Observer
}

func (c Config) validate() error {
	if len(c.Setpoints) == 0 {
		return fmt.Errorf("at least one setpoint is required")
	}
	if c.StepsPerSetpoint <= 0 {
		return fmt.Errorf("steps per setpoint must be positive")
	}
	return nil
}

// Harness runs several control strategies through the same setpoint
// sequence, each on its own environment, and records their trajectories
// for side-by-side comparison.
type Harness struct {
	cfg Config
}

func NewHarness(cfg Config) (*Harness, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Harness{cfg: cfg}, nil
}

// lane is one runner on its own identically seeded environment, with the
// metrics accumulated along its trajectory.
type lane struct {
	r      Runner
	e      *env.Env
	traj   Trajectory
	te     *metrics.TrackingError
	ce     *metrics.ControlEffort
	settle *metrics.Settling
	mets   []sim.Metric
	done   bool // crashed or errored; the lane stops stepping
}

// Run walks the setpoint sequence with all runners in lockstep. The shared
// setpoint advances only once every still-running lane has hovered at it
// for the environment's minimum hover count on the same control step, or
// unconditionally after the step cap, so the recorded trajectories stay
// time-aligned. A crash or controller error removes that lane from the
// gate; its trajectory keeps what was recorded up to that point.
func (h *Harness) Run(ctx context.Context, runners ...Runner) ([]Trajectory, error) {
	if len(runners) == 0 {
		return nil, fmt.Errorf("no runners given")
	}

	lanes := make([]*lane, len(runners))
	for i, r := range runners {
		e := env.New(h.cfg.EnvConfig, h.cfg.Seed)
		l := &lane{
			r: r, e: e,
			traj:   Trajectory{Name: r.Name()},
			te:     metrics.NewTrackingError(e.Target()),
			ce:     metrics.NewControlEffort(),
			settle: metrics.NewSettling(e.Target(), h.cfg.EnvConfig.AtTargetThreshold),
		}
		l.mets = []sim.Metric{l.te, l.ce, l.settle}
		lanes[i] = l
	}

	for _, sp := range h.cfg.Setpoints {
		for _, l := range lanes {
			if l.done {
				continue
			}
			l.e.SetTarget(sp)
			l.r.SetTarget(sp)
			l.te.SetTarget(sp)
			l.settle.SetTarget(sp)
		}

		advanced := false
		for k := 0; k < h.cfg.StepsPerSetpoint && !advanced; k++ {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}

			alive := false
			stable := true
			for _, l := range lanes {
				if l.done || !h.stepLane(l, sp) {
					continue
				}
				alive = true
				if !l.e.AtTarget() {
					stable = false
				}
			}
			if !alive {
				break
			}
			advanced = stable
		}

		alive := false
		for _, l := range lanes {
			if l.done {
				continue
			}
			alive = true
			if l.e.AtTarget() {
				l.traj.SetpointsReached++
			}
		}
		if !alive {
			break
		}
	}

	out := make([]Trajectory, len(lanes))
	for i, l := range lanes {
		l.traj.TrackingError = l.te.Value()
		l.traj.ControlEffort = l.ce.Value()
		l.traj.SettlingSteps = l.settle.Value()
		out[i] = l.traj
	}
	return out, nil
}

// stepLane advances one lane a single control step and records the sample.
// It returns false when the lane ends on a controller error or a crash.
func (h *Harness) stepLane(l *lane, sp sim.State) bool {
	u, err := l.r.Step(l.e)
	if err != nil {
		l.traj.Err = sim.SimError{
			Time:    l.e.Time(),
			Step:    len(l.traj.Times),
			Message: err.Error(),
		}
		l.done = true
		return false
	}
	y := l.e.Step(u)

	l.traj.Times = append(l.traj.Times, l.e.Time())
	l.traj.Inputs = append(l.traj.Inputs, append([]float64(nil), u...))
	l.traj.Outputs = append(l.traj.Outputs, append([]float64(nil), y...))
	l.traj.Setpoints = append(l.traj.Setpoints, append([]float64(nil), sp...))
	for _, m := range l.mets {
		m.Observe(y, u, l.e.Time())
	}
	for _, o := range h.cfg.Observers {
		o.OnStep(y, u, l.e.Time())
	}

	if l.e.Crashed() {
		l.traj.Crashed = true
		l.done = true
		return false
	}
	return true
}
