package config

import "github.com/san-kum/quadgrid/internal/optim"

// Presets are ready-to-run sweep grids. They share the default environment
// and fixed parameters; only the grid and the evaluation budget differ.
var Presets = map[string]func() *SweepConfig{
	"quick": func() *SweepConfig {
		cfg := DefaultSweepConfig()
		cfg.Grid = optim.Grid{
			N:            []int{300},
			Order:        []int{3},
			Horizon:      []int{15},
			LambdaAlpha:  []float64{1e-4, 1e-2},
			LambdaSigma:  []float64{1e3},
			LambdaAlphaS: []float64{1e-4},
			LambdaSigmaS: []float64{1e3},
		}
		cfg.Evaluation.Replicates = 1
		cfg.Evaluation.StepsPerTarget = 250
		return cfg
	},
	"standard": func() *SweepConfig {
		cfg := DefaultSweepConfig()
		cfg.Grid = optim.Grid{
			N:            []int{300, 400},
			Order:        []int{2, 3, 4},
			Horizon:      []int{10, 15, 20},
			LambdaAlpha:  []float64{1e-5, 1e-4, 1e-3},
			LambdaSigma:  []float64{1e3, 1e4},
			LambdaAlphaS: []float64{1e-4},
			LambdaSigmaS: []float64{1e3},
		}
		cfg.Evaluation.Setpoints = [][]float64{
			{0, 0, 1.5},
			{0.5, 0.5, 2.0},
			{-0.5, 0.5, 1.0},
		}
		return cfg
	},
	"noisy": func() *SweepConfig {
		cfg := DefaultSweepConfig()
		cfg.Env.ActuatorNoiseStd = 0.005
		cfg.Env.ObsNoiseStd = 0.002
		cfg.Grid = optim.Grid{
			N:            []int{400},
			Order:        []int{3},
			Horizon:      []int{15},
			LambdaAlpha:  []float64{1e-4, 1e-3, 1e-2},
			LambdaSigma:  []float64{1e2, 1e3, 1e4},
			LambdaAlphaS: []float64{1e-4, 1e-3},
			LambdaSigmaS: []float64{1e2, 1e3},
		}
		cfg.Evaluation.Replicates = 5
		return cfg
	},
}

func GetPreset(name string) *SweepConfig {
	build, ok := Presets[name]
	if !ok {
		return nil
	}
	return build()
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	return names
}
