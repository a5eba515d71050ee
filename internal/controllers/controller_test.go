package controllers

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/san-kum/quadgrid/internal/env"
	"github.com/san-kum/quadgrid/internal/sim"
)

func TestTrackingReachesTarget(t *testing.T) {
	e := env.New(env.DefaultConfig(), 1)
	target := sim.State{0.3, -0.2, 1.2}
	e.SetTarget(target)

	ctrl := NewTracking(target, e.StepDt(), e.NumActions())

	y := e.Position(false)
	for i := 0; i < 500; i++ {
		u := ctrl.Compute(y, e.Time())
		y = e.Step(u)
		if e.Crashed() {
			t.Fatalf("drone crashed at step %d", i)
		}
	}

	if d := e.DistanceToTarget(); d > 0.1 {
		t.Errorf("tracking controller left %f m residual error", d)
	}
}

func TestTrackingHoverThrustAtRest(t *testing.T) {
	target := sim.State{0, 0, 1.5}
	ctrl := NewTracking(target, 0.04, 3)

	u := ctrl.Compute(sim.State{0, 0, 1.5}, 0)

	// no error anywhere: thrust must cancel gravity, rates stay zero
	if math.Abs(u[0]-0.027*9.81) > 1e-9 {
		t.Errorf("expected hover thrust, got %f", u[0])
	}
	if u[1] != 0 || u[2] != 0 {
		t.Errorf("expected zero rates at rest, got %v", u)
	}
}

func TestTrackingSetTargetClearsIntegral(t *testing.T) {
	ctrl := NewTracking(sim.State{0, 0, 1.5}, 0.04, 3)

	// accumulate integral error
	for i := 0; i < 50; i++ {
		ctrl.Compute(sim.State{0, 0, 1.0}, float64(i)*0.04)
	}
	ctrl.SetTarget(sim.State{0, 0, 1.0})

	u := ctrl.Compute(sim.State{0, 0, 1.0}, 2.0)
	if math.Abs(u[0]-0.027*9.81) > 1e-6 {
		t.Errorf("integral not cleared on target change, thrust %f", u[0])
	}
}

func TestPolicyForwardPass(t *testing.T) {
	// identity-ish single layer: action 0 follows obs 0 through tanh
	p := NewPolicy(
		[][][]float64{{{2, 0}, {0, 2}}},
		[][]float64{{0, 0}},
	)

	a := p.Act(sim.State{0.5, -0.5})
	if len(a) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(a))
	}
	if math.Abs(a[0]-math.Tanh(1.0)) > 1e-12 {
		t.Errorf("forward pass wrong: %f", a[0])
	}
	if a[0] < -1 || a[0] > 1 || a[1] < -1 || a[1] > 1 {
		t.Error("actions must be in [-1, 1]")
	}
}

func TestLoadPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")

	data := `{"layers":[{"weights":[[0.1,0.2],[0.3,0.4]],"biases":[0,0]},{"weights":[[1,1]],"biases":[0.5]}]}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if p.NumActions() != 1 {
		t.Errorf("expected 1 action, got %d", p.NumActions())
	}

	a := p.Act(sim.State{1, 1})
	if len(a) != 1 || math.IsNaN(a[0]) {
		t.Errorf("bad action: %v", a)
	}
}

func TestLoadPolicyRejectsMismatchedBias(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")

	data := `{"layers":[{"weights":[[0.1]],"biases":[0,0]}]}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadPolicy(path); err == nil {
		t.Error("expected error for mismatched bias count")
	}
}
