package optim

import (
	"context"
	"math"
	"testing"

	"github.com/san-kum/quadgrid/internal/ddmpc"
	"github.com/san-kum/quadgrid/internal/env"
	"github.com/san-kum/quadgrid/internal/models"
	"github.com/san-kum/quadgrid/internal/sim"
)

func evalBase() ddmpc.ParameterSet {
	hover := models.DefaultMass * models.DefaultGravity
	return ddmpc.ParameterSet{
		Q:            []float64{1, 1, 1},
		R:            []float64{0.1, 0.1, 0.1},
		S:            []float64{10, 10, 10},
		UMin:         []float64{0, -1, -1},
		UMax:         []float64{models.MaxThrust, 1, 1},
		UsMin:        []float64{0.5 * hover, -0.5, -0.5},
		UsMax:        []float64{1.5 * hover, 0.5, 0.5},
		URangeMin:    []float64{-0.01, -0.05, -0.05},
		URangeMax:    []float64{0.01, 0.05, 0.05},
		AlphaRegMode: ddmpc.AlphaRegApproximated,
	}
}

func evalConfig(targets []sim.State) EvalConfig {
	cfg := env.DefaultConfig()
	cfg.ActuatorNoiseStd = 0
	cfg.ObsNoiseStd = 0
	return EvalConfig{
		Base:             evalBase(),
		EnvConfig:        cfg,
		Targets:          targets,
		StepsPerTarget:   25,
		MaxDistIncrement: 1.0,
		Replicates:       2,
		Workers:          2,
		Seed:             100,
	}
}

func tinyGrid() Grid {
	return Grid{
		N:            []int{60},
		Order:        []int{3},
		Horizon:      []int{10},
		LambdaAlpha:  []float64{1e-4, 1e-3},
		LambdaSigma:  []float64{1e3},
		LambdaAlphaS: []float64{1e-4},
		LambdaSigmaS: []float64{1e3},
	}
}

func TestEvaluatorRunShape(t *testing.T) {
	cfg := evalConfig([]sim.State{{0, 0, 1.5}})
	ev, err := NewEvaluator(cfg)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	var progressCalls int
	ev.OnProgress = func(done, total int, r RunResult) {
		progressCalls++
		if total != 4 {
			t.Errorf("progress total = %d, want 4", total)
		}
	}

	sweep, err := ev.Run(context.Background(), tinyGrid())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(sweep.Combinations) != 2 {
		t.Fatalf("got %d combination results, want 2", len(sweep.Combinations))
	}
	if progressCalls != 4 {
		t.Errorf("progress called %d times, want 4", progressCalls)
	}
	for i, cr := range sweep.Combinations {
		if cr.Combination.Index != i {
			t.Errorf("combination result %d carries index %d", i, cr.Combination.Index)
		}
		if len(cr.Runs) != 2 {
			t.Fatalf("combination %d has %d runs, want 2", i, len(cr.Runs))
		}
		for rep, r := range cr.Runs {
			if r.Replicate != rep {
				t.Errorf("run slot %d carries replicate %d", rep, r.Replicate)
			}
			wantSeed := int64(100 + i*2 + rep)
			if r.Seed != wantSeed {
				t.Errorf("run (%d,%d) seed = %d, want %d", i, rep, r.Seed, wantSeed)
			}
			if !r.OK && r.Reason == "" {
				t.Errorf("failed run (%d,%d) has no reason", i, rep)
			}
			if r.OK && r.Reason != "" {
				t.Errorf("successful run (%d,%d) has reason %q", i, rep, r.Reason)
			}
			if r.OK {
				if len(r.Setpoints) != 1 {
					t.Fatalf("successful run (%d,%d) has %d setpoint results, want 1", i, rep, len(r.Setpoints))
				}
				sp := r.Setpoints[0]
				if !sp.OK || sp.Steps != cfg.StepsPerTarget {
					t.Errorf("setpoint result (%d,%d) = %+v, want OK with %d steps", i, rep, sp, cfg.StepsPerTarget)
				}
			}
			if len(r.Inputs) != 0 || len(r.Outputs) != 0 {
				t.Errorf("run (%d,%d) captured trajectories without CaptureTrajectories", i, rep)
			}
		}
	}
}

func TestEvaluatorDeterministic(t *testing.T) {
	cfg := evalConfig([]sim.State{{0, 0, 1.5}})
	grid := tinyGrid()

	run := func() *SweepResult {
		ev, err := NewEvaluator(cfg)
		if err != nil {
			t.Fatalf("NewEvaluator: %v", err)
		}
		sweep, err := ev.Run(context.Background(), grid)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return sweep
	}

	a, b := run(), run()
	for i := range a.Combinations {
		for j := range a.Combinations[i].Runs {
			ra, rb := a.Combinations[i].Runs[j], b.Combinations[i].Runs[j]
			if ra.OK != rb.OK || ra.Reason != rb.Reason || ra.Steps != rb.Steps ||
				ra.Seed != rb.Seed || ra.TrackingError != rb.TrackingError ||
				ra.ControlEffort != rb.ControlEffort || len(ra.Setpoints) != len(rb.Setpoints) {
				t.Fatalf("run (%d,%d) differs between identical sweeps:\n%+v\n%+v", i, j, ra, rb)
			}
			for k := range ra.Setpoints {
				sa, sb := ra.Setpoints[k], rb.Setpoints[k]
				if sa.OK != sb.OK || sa.Reason != sb.Reason || sa.Steps != sb.Steps ||
					sa.InitialDistance != sb.InitialDistance ||
					sa.FinalDistance != sb.FinalDistance {
					t.Fatalf("setpoint (%d,%d,%d) differs: %+v vs %+v", i, j, k, sa, sb)
				}
			}
		}
	}
}

func TestEvaluatorFailsUnreachableTarget(t *testing.T) {
	// a target below ground forces a crash or a distance violation
	cfg := evalConfig([]sim.State{{0, 0, -5}})
	cfg.StepsPerTarget = 200
	cfg.MaxDistIncrement = 0.5
	cfg.Replicates = 1

	ev, err := NewEvaluator(cfg)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	sweep, err := ev.Run(context.Background(), tinyGrid())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, cr := range sweep.Combinations {
		if cr.Success {
			t.Errorf("combination %v succeeded against an unreachable target", cr.Combination)
		}
		for _, r := range cr.Runs {
			if r.OK {
				t.Errorf("run %+v reported OK", r)
			}
		}
	}
	if got := len(sweep.Successful()); got != 0 {
		t.Errorf("Successful returned %d combinations, want 0", got)
	}
}

// climbCtl commands full thrust regardless of the target.
type climbCtl struct{}

func (climbCtl) SetTarget(sim.State) {}

func (climbCtl) Control(sim.State) (sim.Control, error) {
	u := make(sim.Control, 3)
	u[0] = models.MaxThrust
	return u, nil
}

func TestEvaluatorDriftTerminatesAtViolatingStep(t *testing.T) {
	// full thrust against a target below the start climbs straight away
	// from it, so the distance budget runs out after a few steps; the
	// captured trajectory pins down the violating one
	cfg := evalConfig([]sim.State{{0, 0, 1.0}})
	cfg.StepsPerTarget = 50
	cfg.MaxDistIncrement = 0.05
	cfg.Replicates = 1
	cfg.CaptureTrajectories = true

	ev, err := NewEvaluator(cfg)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	e := env.New(cfg.EnvConfig, 7)
	r := RunResult{Seed: 7}
	ev.walkSetpoints(context.Background(), e, climbCtl{}, &r)

	if r.OK || r.Reason != ReasonDriftedAway {
		t.Fatalf("run: ok=%v reason=%q, want %s", r.OK, r.Reason, ReasonDriftedAway)
	}
	if len(r.Setpoints) != 1 {
		t.Fatalf("got %d setpoint results, want 1", len(r.Setpoints))
	}
	sp := r.Setpoints[0]
	if sp.Steps != r.Steps || len(r.Outputs) != r.Steps {
		t.Fatalf("termination bookkeeping off: setpoint steps %d, run steps %d, %d samples",
			sp.Steps, r.Steps, len(r.Outputs))
	}
	if sp.Steps < 2 || sp.Steps >= cfg.StepsPerTarget {
		t.Fatalf("expected a mid-run termination, got %d of %d steps", sp.Steps, cfg.StepsPerTarget)
	}

	target := cfg.Targets[0]
	dist := func(y []float64) float64 {
		var s float64
		for i := range target {
			d := y[i] - target[i]
			s += d * d
		}
		return math.Sqrt(s)
	}
	last := len(r.Outputs) - 1
	for i, y := range r.Outputs[:last] {
		if dist(y)-sp.InitialDistance > cfg.MaxDistIncrement {
			t.Fatalf("distance violated at step %d but the run went on", i+1)
		}
	}
	if dist(r.Outputs[last])-sp.InitialDistance <= cfg.MaxDistIncrement {
		t.Error("final recorded sample does not violate the distance increment")
	}
}

func TestEvaluatorRejectsBadConfig(t *testing.T) {
	cfg := evalConfig(nil)
	if _, err := NewEvaluator(cfg); err == nil {
		t.Error("missing targets must be rejected")
	}

	cfg = evalConfig([]sim.State{{0, 0, 1.5}})
	cfg.Replicates = 0
	if _, err := NewEvaluator(cfg); err == nil {
		t.Error("zero replicates must be rejected")
	}
}

func TestEvaluatorHonorsCancellation(t *testing.T) {
	cfg := evalConfig([]sim.State{{0, 0, 1.5}})
	ev, err := NewEvaluator(cfg)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ev.Run(ctx, tinyGrid()); err == nil {
		t.Error("cancelled context must surface an error")
	}
}
