package optim

import (
	"fmt"

	"github.com/san-kum/quadgrid/internal/ddmpc"
)

// Grid holds the value lists for each swept controller parameter. The sweep
// order is fixed: N outermost, then n, L, lamb_alpha, lamb_sigma,
// lamb_alpha_s, and lamb_sigma_s innermost, so combination indices are
// stable across runs of the same grid.
type Grid struct {
	N            []int     `yaml:"N"`
	Order        []int     `yaml:"n"`
	Horizon      []int     `yaml:"L"`
	LambdaAlpha  []float64 `yaml:"lamb_alpha"`
	LambdaSigma  []float64 `yaml:"lamb_sigma"`
	LambdaAlphaS []float64 `yaml:"lamb_alpha_s"`
	LambdaSigmaS []float64 `yaml:"lamb_sigma_s"`
}

func (g Grid) Validate() error {
	if len(g.N) == 0 || len(g.Order) == 0 || len(g.Horizon) == 0 {
		return fmt.Errorf("grid axes N, n and L must each have at least one value")
	}
	if len(g.LambdaAlpha) == 0 || len(g.LambdaSigma) == 0 ||
		len(g.LambdaAlphaS) == 0 || len(g.LambdaSigmaS) == 0 {
		return fmt.Errorf("grid lambda axes must each have at least one value")
	}
	for _, v := range g.N {
		if v <= 0 {
			return fmt.Errorf("grid N values must be positive, got %d", v)
		}
	}
	for _, v := range g.Order {
		if v <= 0 {
			return fmt.Errorf("grid n values must be positive, got %d", v)
		}
	}
	for _, v := range g.Horizon {
		if v <= 0 {
			return fmt.Errorf("grid L values must be positive, got %d", v)
		}
	}
	for _, axis := range [][]float64{g.LambdaAlpha, g.LambdaSigma, g.LambdaAlphaS, g.LambdaSigmaS} {
		for _, v := range axis {
			if v < 0 {
				return fmt.Errorf("grid lambda values must be non-negative, got %g", v)
			}
		}
	}
	return nil
}

// Size is the number of combinations the grid expands to.
func (g Grid) Size() int {
	return len(g.N) * len(g.Order) * len(g.Horizon) *
		len(g.LambdaAlpha) * len(g.LambdaSigma) * len(g.LambdaAlphaS) * len(g.LambdaSigmaS)
}

// Combination is one point of the grid. Index is its position in the fixed
// sweep order and seeds the evaluation runs.
type Combination struct {
	Index int

	N       int
	Order   int
	Horizon int

	LambdaAlpha  float64
	LambdaSigma  float64
	LambdaAlphaS float64
	LambdaSigmaS float64
}

// Apply overlays the combination onto a base parameter set, leaving the
// fixed fields (weights, bounds, modes) untouched.
func (c Combination) Apply(base ddmpc.ParameterSet) ddmpc.ParameterSet {
	ps := base
	ps.N = c.N
	ps.Order = c.Order
	ps.Horizon = c.Horizon
	ps.LambdaAlpha = c.LambdaAlpha
	ps.LambdaSigma = c.LambdaSigma
	ps.LambdaAlphaS = c.LambdaAlphaS
	ps.LambdaSigmaS = c.LambdaSigmaS
	return ps
}

func (c Combination) String() string {
	return fmt.Sprintf("N=%d n=%d L=%d la=%g ls=%g las=%g lss=%g",
		c.N, c.Order, c.Horizon,
		c.LambdaAlpha, c.LambdaSigma, c.LambdaAlphaS, c.LambdaSigmaS)
}

// Combinations expands the grid in sweep order.
func (g Grid) Combinations() []Combination {
	out := make([]Combination, 0, g.Size())
	idx := 0
	for _, n := range g.N {
		for _, order := range g.Order {
			for _, horizon := range g.Horizon {
				for _, la := range g.LambdaAlpha {
					for _, ls := range g.LambdaSigma {
						for _, las := range g.LambdaAlphaS {
							for _, lss := range g.LambdaSigmaS {
								out = append(out, Combination{
									Index:        idx,
									N:            n,
									Order:        order,
									Horizon:      horizon,
									LambdaAlpha:  la,
									LambdaSigma:  ls,
									LambdaAlphaS: las,
									LambdaSigmaS: lss,
								})
								idx++
							}
						}
					}
				}
			}
		}
	}
	return out
}
