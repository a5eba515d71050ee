package optim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sync"

	"github.com/san-kum/quadgrid/internal/controllers"
	"github.com/san-kum/quadgrid/internal/ddmpc"
	"github.com/san-kum/quadgrid/internal/env"
	"github.com/san-kum/quadgrid/internal/metrics"
	"github.com/san-kum/quadgrid/internal/sim"
)

// Failure reasons recorded on unsuccessful runs.
const (
	ReasonCollectionCrash = "collection_crash"
	ReasonNotExciting     = "not_persistently_exciting"
	ReasonBadParams       = "invalid_parameters"
	ReasonDiverged        = "diverged"
	ReasonCrashed         = "crashed"
	ReasonDriftedAway     = "target_distance_exceeded"
	ReasonCancelled       = "cancelled"
)

// EvalConfig fixes everything about the evaluation protocol except the
// swept parameters.
type EvalConfig struct {
	Base      ddmpc.ParameterSet // fixed controller parameters
	EnvConfig env.Config

	Targets        []sim.State // setpoints visited in order by every run
	StepsPerTarget int         // control steps granted per setpoint

	// a run fails as soon as its distance to the current target grows
	// this far beyond the distance it started the setpoint with
	MaxDistIncrement float64

	Replicates int // independent datasets per combination
	Workers    int // 0 means GOMAXPROCS
	Seed       int64

	// keep the full input/output series on each RunResult; off by
	// default because a large grid multiplies the memory cost
	CaptureTrajectories bool
}

func (c EvalConfig) validate() error {
	if len(c.Targets) == 0 {
		return fmt.Errorf("at least one evaluation target is required")
	}
	if c.StepsPerTarget <= 0 {
		return fmt.Errorf("steps per target must be positive")
	}
	if c.MaxDistIncrement <= 0 {
		return fmt.Errorf("max distance increment must be positive")
	}
	if c.Replicates <= 0 {
		return fmt.Errorf("replicates must be positive")
	}
	return nil
}

// SetpointResult is the outcome of one setpoint within a run.
type SetpointResult struct {
	Index  int
	Target []float64

	OK     bool
	Reason string
	Steps  int // control steps spent on this setpoint

	InitialDistance float64
	FinalDistance   float64
}

// RunResult is the outcome of one (combination, replicate) evaluation.
type RunResult struct {
	Combination Combination
	Replicate   int
	Seed        int64

	OK     bool
	Reason string // empty when OK

	Steps         int // control steps completed before success or failure
	TrackingError float64
	ControlEffort float64

	Setpoints []SetpointResult

	// populated only with CaptureTrajectories
	Inputs  [][]float64
	Outputs [][]float64
}

// CombinationResult aggregates the replicate runs of one grid point. The
// combination counts as successful only if every replicate tracked every
// setpoint without crashing, diverging or drifting away.
type CombinationResult struct {
	Combination Combination
	Success     bool
	Runs        []RunResult
}

type SweepResult struct {
	Combinations []CombinationResult
}

// Successful returns the grid points where all replicates passed.
func (r *SweepResult) Successful() []CombinationResult {
	var out []CombinationResult
	for _, c := range r.Combinations {
		if c.Success {
			out = append(out, c)
		}
	}
	return out
}

// Progress is called from worker goroutines as runs finish.
type Progress func(done, total int, r RunResult)

// Evaluator runs every (combination, replicate) pair of a grid on its own
// environment instance, in parallel.
type Evaluator struct {
	cfg        EvalConfig
	OnProgress Progress
}

func NewEvaluator(cfg EvalConfig) (*Evaluator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Evaluator{cfg: cfg}, nil
}

type job struct {
	comb Combination
	rep  int
}

func (ev *Evaluator) Run(ctx context.Context, grid Grid) (*SweepResult, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	combs := grid.Combinations()
	reps := ev.cfg.Replicates
	total := len(combs) * reps

	workers := ev.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > total {
		workers = total
	}

	jobs := make(chan job)
	results := make([]RunResult, total)

	var done int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				r := ev.evaluateRun(ctx, j.comb, j.rep)
				slot := j.comb.Index*reps + j.rep
				results[slot] = r

				mu.Lock()
				done++
				d := done
				mu.Unlock()
				if ev.OnProgress != nil {
					ev.OnProgress(d, total, r)
				}
			}
		}()
	}

feed:
	for _, c := range combs {
		for rep := 0; rep < reps; rep++ {
			select {
			case jobs <- job{comb: c, rep: rep}:
			case <-ctx.Done():
				break feed
			}
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sweep := &SweepResult{Combinations: make([]CombinationResult, len(combs))}
	for i, c := range combs {
		cr := CombinationResult{
			Combination: c,
			Success:     true,
			Runs:        results[i*reps : (i+1)*reps],
		}
		for _, r := range cr.Runs {
			if !r.OK {
				cr.Success = false
			}
		}
		sweep.Combinations[i] = cr
	}
	return sweep, nil
}

// evaluateRun collects a fresh dataset with its own seed, builds the
// controller, and walks the setpoint sequence until success or the first
// failure.
func (ev *Evaluator) evaluateRun(ctx context.Context, comb Combination, rep int) RunResult {
	seed := ev.cfg.Seed + int64(comb.Index*ev.cfg.Replicates+rep)
	res := RunResult{Combination: comb, Replicate: rep, Seed: seed}

	ps := comb.Apply(ev.cfg.Base)
	e := env.New(ev.cfg.EnvConfig, seed)

	if err := ps.Validate(e.NumActions(), 3); err != nil {
		res.Reason = ReasonBadParams
		return res
	}

	tracking := controllers.NewTracking(e.Target(), e.StepDt(), e.NumActions())
	rng := rand.New(rand.NewSource(seed))

	data, err := ddmpc.Collect(e, tracking, ps, rng)
	if err != nil {
		res.Reason = ReasonCollectionCrash
		return res
	}

	ctl, err := ddmpc.NewController(ps, data, e.Target())
	if err != nil {
		if errors.Is(err, ddmpc.ErrNotPersistentlyExciting) {
			res.Reason = ReasonNotExciting
		} else {
			res.Reason = ReasonBadParams
		}
		return res
	}

	ev.walkSetpoints(ctx, e, ctl, &res)
	return res
}

// controller is the part of the synthesized controller the setpoint walk
// needs; satisfied by *ddmpc.Controller.
type controller interface {
	SetTarget(yr sim.State)
	Control(y sim.State) (sim.Control, error)
}

// walkSetpoints drives the environment through the configured setpoint
// sequence and fills in the per-setpoint and run-level outcome fields,
// stopping at the first failed step.
func (ev *Evaluator) walkSetpoints(ctx context.Context, e *env.Env, ctl controller, res *RunResult) {
	te := metrics.NewTrackingError(e.Target())
	ce := metrics.NewControlEffort()

	y := e.Position(true)
	for i, target := range ev.cfg.Targets {
		e.SetTarget(target)
		ctl.SetTarget(target)
		te.SetTarget(target)
		initial := e.DistanceToTarget()

		sr := SetpointResult{
			Index:           i,
			Target:          append([]float64(nil), target...),
			InitialDistance: initial,
		}
		fail := func(reason string) {
			sr.Reason = reason
			sr.FinalDistance = e.DistanceToTarget()
			res.Setpoints = append(res.Setpoints, sr)
			res.Reason = reason
			res.finish(te, ce)
		}

		for k := 0; k < ev.cfg.StepsPerTarget; k++ {
			select {
			case <-ctx.Done():
				fail(ReasonCancelled)
				return
			default:
			}

			u, err := ctl.Control(y)
			if err != nil {
				fail(ReasonDiverged)
				return
			}

			y = e.Step(u)
			res.Steps++
			sr.Steps++
			te.Observe(y, u, e.Time())
			ce.Observe(y, u, e.Time())
			if ev.cfg.CaptureTrajectories {
				res.Inputs = append(res.Inputs, append([]float64(nil), u...))
				res.Outputs = append(res.Outputs, append([]float64(nil), y...))
			}

			if e.Crashed() {
				fail(ReasonCrashed)
				return
			}
			if e.DistanceToTarget()-initial > ev.cfg.MaxDistIncrement {
				fail(ReasonDriftedAway)
				return
			}
		}

		sr.OK = true
		sr.FinalDistance = e.DistanceToTarget()
		res.Setpoints = append(res.Setpoints, sr)
	}

	res.OK = true
	res.finish(te, ce)
}

func (r *RunResult) finish(te *metrics.TrackingError, ce *metrics.ControlEffort) {
	r.TrackingError = te.Value()
	r.ControlEffort = ce.Value()
}
