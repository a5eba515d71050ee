package optim

import (
	"testing"

	"github.com/san-kum/quadgrid/internal/ddmpc"
)

func smallGrid() Grid {
	return Grid{
		N:            []int{100, 200},
		Order:        []int{3},
		Horizon:      []int{10, 20, 30},
		LambdaAlpha:  []float64{1e-4, 1e-2},
		LambdaSigma:  []float64{1e3},
		LambdaAlphaS: []float64{1e-4},
		LambdaSigmaS: []float64{1e3, 1e5},
	}
}

func TestGridSize(t *testing.T) {
	g := smallGrid()
	if got := g.Size(); got != 24 {
		t.Fatalf("Size = %d, want 24", got)
	}
	if got := len(g.Combinations()); got != 24 {
		t.Fatalf("Combinations length = %d, want 24", got)
	}

	wide := Grid{
		N:            []int{400},
		Order:        []int{3, 4},
		Horizon:      []int{15, 25},
		LambdaAlpha:  []float64{1e-5, 1e-4, 1e-3, 1e-2, 1e-1},
		LambdaSigma:  []float64{1e2, 1e3, 1e4},
		LambdaAlphaS: []float64{1e-5, 1e-4, 1e-3, 1e-2, 1e-1},
		LambdaSigmaS: []float64{1e2, 1e3, 1e4},
	}
	if got := wide.Size(); got != 900 {
		t.Fatalf("Size = %d, want 1*2*2*5*3*5*3 = 900", got)
	}
	combs := wide.Combinations()
	if got := len(combs); got != 900 {
		t.Fatalf("Combinations length = %d, want 900", got)
	}
	if last := combs[899]; last.Index != 899 ||
		last.Order != 4 || last.Horizon != 25 ||
		last.LambdaAlpha != 1e-1 || last.LambdaSigmaS != 1e4 {
		t.Errorf("last combination = %+v, want the maximal grid point", last)
	}
}

func TestGridCombinationOrder(t *testing.T) {
	combs := smallGrid().Combinations()

	// innermost axis varies fastest
	if combs[0].LambdaSigmaS != 1e3 || combs[1].LambdaSigmaS != 1e5 {
		t.Error("lamb_sigma_s must vary fastest")
	}
	if combs[0].LambdaAlpha != 1e-4 || combs[2].LambdaAlpha != 1e-2 {
		t.Error("lamb_alpha must vary after lamb_sigma and lamb_sigma_s")
	}
	// outermost axis varies slowest
	if combs[0].N != 100 || combs[11].N != 100 || combs[12].N != 200 {
		t.Error("N must vary slowest")
	}
	for i, c := range combs {
		if c.Index != i {
			t.Fatalf("combination %d carries index %d", i, c.Index)
		}
	}
}

func TestGridValidate(t *testing.T) {
	g := smallGrid()
	if err := g.Validate(); err != nil {
		t.Fatalf("valid grid rejected: %v", err)
	}

	empty := smallGrid()
	empty.Horizon = nil
	if err := empty.Validate(); err == nil {
		t.Error("empty axis must be rejected")
	}

	negative := smallGrid()
	negative.LambdaAlpha = []float64{-1}
	if err := negative.Validate(); err == nil {
		t.Error("negative lambda must be rejected")
	}

	badN := smallGrid()
	badN.N = []int{0}
	if err := badN.Validate(); err == nil {
		t.Error("zero N must be rejected")
	}
}

func TestCombinationApplyKeepsFixedFields(t *testing.T) {
	base := ddmpc.ParameterSet{
		Q:            []float64{1, 2, 3},
		R:            []float64{4, 5, 6},
		UMin:         []float64{-1, -1, -1},
		AlphaRegMode: ddmpc.AlphaRegPrevious,
		NStep:        true,
	}
	c := Combination{N: 150, Order: 4, Horizon: 25, LambdaAlpha: 0.5}
	ps := c.Apply(base)

	if ps.N != 150 || ps.Order != 4 || ps.Horizon != 25 || ps.LambdaAlpha != 0.5 {
		t.Error("swept fields not applied")
	}
	if ps.Q[1] != 2 || ps.R[2] != 6 || ps.UMin[0] != -1 {
		t.Error("fixed weight and bound fields must pass through")
	}
	if ps.AlphaRegMode != ddmpc.AlphaRegPrevious || !ps.NStep {
		t.Error("fixed mode fields must pass through")
	}
}
