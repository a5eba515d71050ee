package ddmpc

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/san-kum/quadgrid/internal/controllers"
	"github.com/san-kum/quadgrid/internal/env"
	"github.com/san-kum/quadgrid/internal/models"
	"github.com/san-kum/quadgrid/internal/sim"
)

// firstOrderPlant steps y <- 0.9y + u, a minimal system of order one with
// a known input equilibrium u_s = 0.1 y_s.
type firstOrderPlant struct{ y float64 }

func (p *firstOrderPlant) step(u float64) float64 {
	p.y = 0.9*p.y + u
	return p.y
}

func sisoParams() ParameterSet {
	return ParameterSet{
		N:            20,
		Order:        1,
		Horizon:      4,
		Q:            []float64{1},
		R:            []float64{0.05},
		S:            []float64{100},
		LambdaAlpha:  1e-5,
		LambdaSigma:  1e4,
		LambdaAlphaS: 1e-5,
		LambdaSigmaS: 1e4,
		UMin:         []float64{-2},
		UMax:         []float64{2},
		UsMin:        []float64{-1},
		UsMax:        []float64{1},
		URangeMin:    []float64{-1},
		URangeMax:    []float64{1},
		AlphaRegMode: AlphaRegApproximated,
	}
}

func collectSISO(ps ParameterSet, seed int64) (*Dataset, *firstOrderPlant) {
	rng := rand.New(rand.NewSource(seed))
	plant := &firstOrderPlant{}
	data := NewDataset(1, 1, ps.N)
	for k := 0; k < ps.N; k++ {
		u := rng.Float64()*2 - 1
		y := plant.step(u)
		data.Append([]float64{u}, []float64{y})
	}
	return data, plant
}

func runSISO(t *testing.T, ps ParameterSet, target float64, steps int) float64 {
	t.Helper()
	data, plant := collectSISO(ps, 42)

	ctl, err := NewController(ps, data, sim.State{target})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	y := plant.y
	for k := 0; k < steps; k++ {
		u, err := ctl.Control(sim.State{y})
		if err != nil {
			t.Fatalf("Control at step %d: %v", k, err)
		}
		y = plant.step(u[0])
	}
	return y
}

func TestControllerTracksSetpoint(t *testing.T) {
	y := runSISO(t, sisoParams(), 1.0, 40)
	if math.Abs(y-1.0) > 0.05 {
		t.Errorf("output after 40 steps = %v, want within 0.05 of 1.0", y)
	}
}

func TestControllerAlphaRegModes(t *testing.T) {
	for _, mode := range []AlphaRegMode{AlphaRegZero, AlphaRegPrevious, AlphaRegApproximated} {
		t.Run(string(mode), func(t *testing.T) {
			ps := sisoParams()
			ps.AlphaRegMode = mode
			y := runSISO(t, ps, 0.8, 40)
			if math.Abs(y-0.8) > 0.05 {
				t.Errorf("output = %v, want within 0.05 of 0.8", y)
			}
		})
	}
}

func TestControllerNStepMode(t *testing.T) {
	ps := sisoParams()
	ps.NStep = true
	y := runSISO(t, ps, 0.5, 40)
	if math.Abs(y-0.5) > 0.05 {
		t.Errorf("output = %v, want within 0.05 of 0.5", y)
	}
}

func TestControllerExtendedMode(t *testing.T) {
	ps := sisoParams()
	ps.ExtOutIncrIn = true
	ps.LambdaSigma = 1e5
	y := runSISO(t, ps, 0.6, 60)
	if math.Abs(y-0.6) > 0.1 {
		t.Errorf("output = %v, want within 0.1 of 0.6", y)
	}
}

func TestControllerSetTargetDiscardsPlan(t *testing.T) {
	ps := sisoParams()
	ps.NStep = true
	ps.Order = 3
	ps.N = 30
	data, plant := collectSISO(ps, 9)

	ctl, err := NewController(ps, data, sim.State{1.0})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	y := plant.y
	for k := 0; k < 20; k++ {
		u, err := ctl.Control(sim.State{y})
		if err != nil {
			t.Fatalf("Control: %v", err)
		}
		y = plant.step(u[0])
	}

	ctl.SetTarget(sim.State{-0.5})
	if got := ctl.Target()[0]; got != -0.5 {
		t.Fatalf("Target = %v, want -0.5", got)
	}
	for k := 0; k < 60; k++ {
		u, err := ctl.Control(sim.State{y})
		if err != nil {
			t.Fatalf("Control after retarget: %v", err)
		}
		y = plant.step(u[0])
	}
	if math.Abs(y+0.5) > 0.05 {
		t.Errorf("output after retarget = %v, want within 0.05 of -0.5", y)
	}
}

func TestControllerRejectsConstantData(t *testing.T) {
	ps := sisoParams()
	data := NewDataset(1, 1, ps.N)
	for k := 0; k < ps.N; k++ {
		data.Append([]float64{0.3}, []float64{3.0})
	}
	_, err := NewController(ps, data, sim.State{1})
	if !errors.Is(err, ErrNotPersistentlyExciting) {
		t.Fatalf("err = %v, want ErrNotPersistentlyExciting", err)
	}
}

func TestControllerRejectsDatasetLengthMismatch(t *testing.T) {
	ps := sisoParams()
	data, _ := collectSISO(ps, 1)
	ps.N = 25
	if _, err := NewController(ps, data, sim.State{1}); err == nil {
		t.Fatal("expected error for dataset shorter than N")
	}
}

func TestControllerClampsPlannedInputs(t *testing.T) {
	ps := sisoParams()
	// force saturation with a far target and tight bounds
	ps.UMin = []float64{-0.2}
	ps.UMax = []float64{0.2}
	ps.UsMin = []float64{-0.2}
	ps.UsMax = []float64{0.2}
	ps.URangeMin = []float64{-0.2}
	ps.URangeMax = []float64{0.2}

	rng := rand.New(rand.NewSource(3))
	plant := &firstOrderPlant{}
	data := NewDataset(1, 1, ps.N)
	for k := 0; k < ps.N; k++ {
		u := rng.Float64()*0.4 - 0.2
		y := plant.step(u)
		data.Append([]float64{u}, []float64{y})
	}

	ctl, err := NewController(ps, data, sim.State{5})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	y := plant.y
	for k := 0; k < 20; k++ {
		u, err := ctl.Control(sim.State{y})
		if err != nil {
			t.Fatalf("Control: %v", err)
		}
		if u[0] < -0.2-1e-12 || u[0] > 0.2+1e-12 {
			t.Fatalf("input %v escapes bounds at step %d", u[0], k)
		}
		y = plant.step(u[0])
	}
}

// End-to-end construction on the drone: collect excited data while hovering,
// then verify the controller starts issuing in-bounds thrust commands.
func TestControllerOnHoverEnv(t *testing.T) {
	cfg := env.DefaultConfig()
	cfg.ActuatorNoiseStd = 0
	cfg.ObsNoiseStd = 0
	e := env.New(cfg, 11)

	tracking := controllers.NewTracking(e.Target(), e.StepDt(), e.NumActions())

	hover := models.DefaultMass * models.DefaultGravity
	ps := ParameterSet{
		N:            60,
		Order:        3,
		Horizon:      10,
		Q:            []float64{1, 1, 1},
		R:            []float64{0.1, 0.1, 0.1},
		S:            []float64{10, 10, 10},
		LambdaAlpha:  1e-4,
		LambdaSigma:  1e3,
		LambdaAlphaS: 1e-4,
		LambdaSigmaS: 1e3,
		UMin:         []float64{0, -1, -1},
		UMax:         []float64{models.MaxThrust, 1, 1},
		UsMin:        []float64{0.5 * hover, -0.5, -0.5},
		UsMax:        []float64{1.5 * hover, 0.5, 0.5},
		URangeMin:    []float64{-0.01, -0.05, -0.05},
		URangeMax:    []float64{0.01, 0.05, 0.05},
		AlphaRegMode: AlphaRegApproximated,
	}

	rng := rand.New(rand.NewSource(5))
	data, err := Collect(e, tracking, ps, rng)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if data.Len() != ps.N {
		t.Fatalf("dataset length = %d, want %d", data.Len(), ps.N)
	}

	ctl, err := NewController(ps, data, e.Target())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	y := e.Position(false)
	for k := 0; k < 5; k++ {
		u, err := ctl.Control(y)
		if err != nil {
			t.Fatalf("Control at step %d: %v", k, err)
		}
		if len(u) != e.NumActions() {
			t.Fatalf("control has %d actions, want %d", len(u), e.NumActions())
		}
		for i, v := range u {
			if math.IsNaN(v) || v < ps.UMin[i]-1e-9 || v > ps.UMax[i]+1e-9 {
				t.Fatalf("action %d = %v out of bounds", i, v)
			}
		}
		y = e.Step(u)
	}
}
