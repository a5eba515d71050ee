package ddmpc

import (
	"fmt"
)

// AlphaRegMode selects what the alpha regularization term pulls the solution
// toward.
type AlphaRegMode string

const (
	// AlphaRegApproximated regularizes toward a least-squares particular
	// solution for the current target equilibrium.
	AlphaRegApproximated AlphaRegMode = "approximated"
	// AlphaRegPrevious regularizes toward the previous optimal solution.
	AlphaRegPrevious AlphaRegMode = "previous"
	// AlphaRegZero regularizes toward zero.
	AlphaRegZero AlphaRegMode = "zero"
)

func (m AlphaRegMode) Valid() bool {
	switch m {
	case AlphaRegApproximated, AlphaRegPrevious, AlphaRegZero:
		return true
	}
	return false
}

// ParameterSet is the full parameterization of a nonlinear data-driven MPC
// controller. Q, R and S are diagonal weight vectors over outputs, inputs
// and setpoint deviation; UMin/UMax bound the inputs and UsMin/UsMax bound
// the artificial input equilibrium. URange bounds the persistently exciting
// perturbation added during initial data collection.
type ParameterSet struct {
	N       int `yaml:"N"` // initial trajectory length
	Order   int `yaml:"n"` // system order estimate
	Horizon int `yaml:"L"` // prediction horizon

	Q []float64 `yaml:"Q"`
	R []float64 `yaml:"R"`
	S []float64 `yaml:"S"`

	LambdaAlpha  float64 `yaml:"lamb_alpha"`
	LambdaSigma  float64 `yaml:"lamb_sigma"`
	LambdaAlphaS float64 `yaml:"lamb_alpha_s"`
	LambdaSigmaS float64 `yaml:"lamb_sigma_s"`

	UMin  []float64 `yaml:"U_min"`
	UMax  []float64 `yaml:"U_max"`
	UsMin []float64 `yaml:"Us_min"`
	UsMax []float64 `yaml:"Us_max"`

	URangeMin []float64 `yaml:"u_range_min"`
	URangeMax []float64 `yaml:"u_range_max"`

	AlphaRegMode AlphaRegMode `yaml:"alpha_reg_type"`

	// ExtOutIncrIn switches the controller to extended outputs [y; u] and
	// input increments as the decision variable.
	ExtOutIncrIn bool `yaml:"ext_out_incr_in"`
	// NStep applies n inputs per solve with online data updates; when
	// false a single input is applied per solve.
	NStep bool `yaml:"n_step"`

	// UpdateCostThreshold suppresses online data updates while the
	// achieved tracking cost stays below it. Zero disables the gate.
	UpdateCostThreshold float64 `yaml:"update_cost_threshold"`
}

// Validate checks the parameter set against the plant dimensions (m inputs,
// p outputs). All violations here are configuration errors: they must be
// reported before any simulation starts.
func (ps ParameterSet) Validate(m, p int) error {
	if ps.N <= 0 || ps.Order <= 0 || ps.Horizon <= 0 {
		return fmt.Errorf("N, n and L must be positive (N=%d n=%d L=%d)", ps.N, ps.Order, ps.Horizon)
	}
	if ps.N <= ps.Horizon+2*ps.Order {
		return fmt.Errorf("trajectory length N=%d too short for L=%d, n=%d (need N > L+2n)",
			ps.N, ps.Horizon, ps.Order)
	}
	if len(ps.Q) != p {
		return fmt.Errorf("Q has %d weights, want %d (one per output)", len(ps.Q), p)
	}
	if len(ps.S) != p {
		return fmt.Errorf("S has %d weights, want %d (one per output)", len(ps.S), p)
	}
	if len(ps.R) != m {
		return fmt.Errorf("R has %d weights, want %d (one per input)", len(ps.R), m)
	}
	if len(ps.UMin) != m || len(ps.UMax) != m {
		return fmt.Errorf("input bounds U must have %d dimensions", m)
	}
	if len(ps.UsMin) != m || len(ps.UsMax) != m {
		return fmt.Errorf("setpoint bounds Us must have %d dimensions", m)
	}
	for i := 0; i < m; i++ {
		if ps.UMin[i] > ps.UMax[i] {
			return fmt.Errorf("U bounds inverted in dimension %d", i)
		}
		if ps.UsMin[i] > ps.UsMax[i] {
			return fmt.Errorf("Us bounds inverted in dimension %d", i)
		}
		if ps.UsMin[i] < ps.UMin[i] || ps.UsMax[i] > ps.UMax[i] {
			return fmt.Errorf("Us bounds exceed U bounds in dimension %d: [%g, %g] not within [%g, %g]",
				i, ps.UsMin[i], ps.UsMax[i], ps.UMin[i], ps.UMax[i])
		}
	}
	if len(ps.URangeMin) != m || len(ps.URangeMax) != m {
		return fmt.Errorf("u_range must have %d dimensions", m)
	}
	for i := 0; i < m; i++ {
		if ps.URangeMin[i] > ps.URangeMax[i] {
			return fmt.Errorf("u_range inverted in dimension %d", i)
		}
	}
	if ps.LambdaAlpha < 0 || ps.LambdaSigma < 0 || ps.LambdaAlphaS < 0 || ps.LambdaSigmaS < 0 {
		return fmt.Errorf("regularization weights must be non-negative")
	}
	if !ps.AlphaRegMode.Valid() {
		return fmt.Errorf("unknown alpha regularization mode %q", ps.AlphaRegMode)
	}
	return nil
}

// ClampU projects an input vector onto the U bounds, in place.
func (ps ParameterSet) ClampU(u []float64) {
	for i := range u {
		if i >= len(ps.UMin) {
			return
		}
		if u[i] < ps.UMin[i] {
			u[i] = ps.UMin[i]
		} else if u[i] > ps.UMax[i] {
			u[i] = ps.UMax[i]
		}
	}
}

// ClampUs projects an input equilibrium onto the Us bounds, in place.
func (ps ParameterSet) ClampUs(u []float64) {
	for i := range u {
		if i >= len(ps.UsMin) {
			return
		}
		if u[i] < ps.UsMin[i] {
			u[i] = ps.UsMin[i]
		} else if u[i] > ps.UsMax[i] {
			u[i] = ps.UsMax[i]
		}
	}
}
