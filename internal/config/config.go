package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/quadgrid/internal/ddmpc"
	"github.com/san-kum/quadgrid/internal/env"
	"github.com/san-kum/quadgrid/internal/integrators"
	"github.com/san-kum/quadgrid/internal/models"
	"github.com/san-kum/quadgrid/internal/optim"
	"github.com/san-kum/quadgrid/internal/sim"
)

const (
	DefaultDt               = 0.01
	DefaultDecimation       = 4
	DefaultStepsPerTarget   = 750
	DefaultMaxDistIncrement = 0.5
	DefaultReplicates       = 3
)

type EnvConfig struct {
	Dt               float64   `yaml:"dt"`
	Decimation       int       `yaml:"decimation"`
	ActionType       string    `yaml:"action_type"` // "ctbr" or "ctbr_fixed_yaw"
	InitPos          []float64 `yaml:"init_pos"`
	ActuatorNoiseStd float64   `yaml:"actuator_noise_std"`
	ObsNoiseStd      float64   `yaml:"obs_noise_std"`
	Integrator       string    `yaml:"integrator"` // "rk4" (default) or "euler"
}

type EvaluationConfig struct {
	Setpoints        [][]float64 `yaml:"setpoints"`
	StepsPerTarget   int         `yaml:"steps_per_target"`
	MaxDistIncrement float64     `yaml:"max_dist_increment"`
	Replicates       int         `yaml:"replicates"`
}

// SweepConfig is the full description of a grid search: the environment,
// the fixed controller parameters, the swept grid and the evaluation
// protocol.
type SweepConfig struct {
	Env        EnvConfig          `yaml:"env"`
	Fixed      ddmpc.ParameterSet `yaml:"fixed_params"`
	Grid       optim.Grid         `yaml:"parameter_grid"`
	Evaluation EvaluationConfig   `yaml:"evaluation"`

	Seed      int64  `yaml:"seed"`
	Workers   int    `yaml:"workers"`
	OutputDir string `yaml:"output_dir"`
	Database  string `yaml:"database"`
}

// ComparisonConfig describes a side-by-side run of the tracking controller,
// an optional learned policy and the data-driven MPC controller.
type ComparisonConfig struct {
	Env   EnvConfig          `yaml:"env"`
	Fixed ddmpc.ParameterSet `yaml:"fixed_params"`

	PolicyPath       string      `yaml:"policy_path"`
	Setpoints        [][]float64 `yaml:"setpoints"`
	StepsPerSetpoint int         `yaml:"steps_per_setpoint"`

	Seed      int64  `yaml:"seed"`
	OutputDir string `yaml:"output_dir"`
}

func defaultEnv() EnvConfig {
	return EnvConfig{
		Dt:         DefaultDt,
		Decimation: DefaultDecimation,
		ActionType: "ctbr_fixed_yaw",
		InitPos:    []float64{0, 0, 1.5},
	}
}

func defaultFixed() ddmpc.ParameterSet {
	hover := models.DefaultMass * models.DefaultGravity
	return ddmpc.ParameterSet{
		Q:            []float64{1, 1, 1},
		R:            []float64{0.1, 0.1, 0.1},
		S:            []float64{10, 10, 10},
		UMin:         []float64{0, -models.MaxBodyRate, -models.MaxBodyRate},
		UMax:         []float64{models.MaxThrust, models.MaxBodyRate, models.MaxBodyRate},
		UsMin:        []float64{0.5 * hover, -0.5, -0.5},
		UsMax:        []float64{1.5 * hover, 0.5, 0.5},
		URangeMin:    []float64{-0.01, -0.05, -0.05},
		URangeMax:    []float64{0.01, 0.05, 0.05},
		AlphaRegMode: ddmpc.AlphaRegApproximated,
	}
}

func DefaultSweepConfig() *SweepConfig {
	return &SweepConfig{
		Env:   defaultEnv(),
		Fixed: defaultFixed(),
		Evaluation: EvaluationConfig{
			Setpoints:        [][]float64{{0, 0, 1.5}},
			StepsPerTarget:   DefaultStepsPerTarget,
			MaxDistIncrement: DefaultMaxDistIncrement,
			Replicates:       DefaultReplicates,
		},
		OutputDir: "runs",
	}
}

func DefaultComparisonConfig() *ComparisonConfig {
	// comparison runs need a concrete parameter point, not a grid
	fixed := defaultFixed()
	fixed.N = 300
	fixed.Order = 3
	fixed.Horizon = 15
	fixed.LambdaAlpha = 1e-4
	fixed.LambdaSigma = 1e3
	fixed.LambdaAlphaS = 1e-4
	fixed.LambdaSigmaS = 1e3

	return &ComparisonConfig{
		Env:              defaultEnv(),
		Fixed:            fixed,
		Setpoints:        [][]float64{{0, 0, 1.5}, {0.5, 0.5, 2.0}, {0, 0, 1.0}},
		StepsPerSetpoint: DefaultStepsPerTarget,
		OutputDir:        "runs",
	}
}

// decodeStrict unmarshals onto cfg and rejects fields the schema does not
// know, so a typo in a grid axis name fails loudly instead of silently
// sweeping nothing.
func decodeStrict(data []byte, cfg interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

func LoadSweep(path string) (*SweepConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultSweepConfig()
	if err := decodeStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func LoadComparison(path string) (*ComparisonConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultComparisonConfig()
	if err := decodeStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg interface{}) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c EnvConfig) Validate() error {
	if c.Dt <= 0 {
		return fmt.Errorf("env dt must be positive")
	}
	if c.Decimation <= 0 {
		return fmt.Errorf("env decimation must be positive")
	}
	switch c.ActionType {
	case "ctbr", "ctbr_fixed_yaw":
	default:
		return fmt.Errorf("unknown action type %q", c.ActionType)
	}
	if len(c.InitPos) != 3 {
		return fmt.Errorf("init_pos must have 3 components")
	}
	if _, err := integrators.New(c.Integrator); err != nil {
		return err
	}
	return nil
}

func (c *SweepConfig) Validate() error {
	if err := c.Env.Validate(); err != nil {
		return err
	}
	if err := c.Grid.Validate(); err != nil {
		return err
	}
	// the grid always sweeps these axes; a value in fixed_params would be
	// silently overwritten, so reject it instead
	if c.Fixed.N != 0 || c.Fixed.Order != 0 || c.Fixed.Horizon != 0 {
		return fmt.Errorf("fixed_params must not set N, n or L: the grid sweeps them")
	}
	if c.Fixed.LambdaAlpha != 0 || c.Fixed.LambdaSigma != 0 ||
		c.Fixed.LambdaAlphaS != 0 || c.Fixed.LambdaSigmaS != 0 {
		return fmt.Errorf("fixed_params must not set regularization weights: the grid sweeps them")
	}
	// exercise the first grid point against the fixed parameters so a
	// dimension mismatch fails at load time, not mid-sweep
	if combs := c.Grid.Combinations(); len(combs) > 0 {
		m := 4
		if c.Env.ActionType == "ctbr_fixed_yaw" {
			m = 3
		}
		if err := combs[0].Apply(c.Fixed).Validate(m, 3); err != nil {
			return fmt.Errorf("fixed_params: %w", err)
		}
	}
	if len(c.Evaluation.Setpoints) == 0 {
		return fmt.Errorf("evaluation needs at least one setpoint")
	}
	for i, sp := range c.Evaluation.Setpoints {
		if len(sp) != 3 {
			return fmt.Errorf("setpoint %d must have 3 components", i)
		}
	}
	if c.Evaluation.StepsPerTarget <= 0 {
		return fmt.Errorf("steps_per_target must be positive")
	}
	if c.Evaluation.MaxDistIncrement <= 0 {
		return fmt.Errorf("max_dist_increment must be positive")
	}
	if c.Evaluation.Replicates <= 0 {
		return fmt.Errorf("replicates must be positive")
	}
	return nil
}

func (c *ComparisonConfig) Validate() error {
	if err := c.Env.Validate(); err != nil {
		return err
	}
	m := 4
	if c.Env.ActionType == "ctbr_fixed_yaw" {
		m = 3
	}
	if err := c.Fixed.Validate(m, 3); err != nil {
		return fmt.Errorf("fixed_params: %w", err)
	}
	if len(c.Setpoints) == 0 {
		return fmt.Errorf("at least one setpoint is required")
	}
	for i, sp := range c.Setpoints {
		if len(sp) != 3 {
			return fmt.Errorf("setpoint %d must have 3 components", i)
		}
	}
	if c.StepsPerSetpoint <= 0 {
		return fmt.Errorf("steps_per_setpoint must be positive")
	}
	return nil
}

// BuildEnv translates the YAML section into the simulation environment
// configuration.
func (c EnvConfig) BuildEnv() env.Config {
	cfg := env.DefaultConfig()
	cfg.Dt = c.Dt
	cfg.Decimation = c.Decimation
	if c.ActionType == "ctbr" {
		cfg.ActionType = env.CTBR
	} else {
		cfg.ActionType = env.CTBRFixedYaw
	}
	cfg.InitPos = sim.State(c.InitPos).Clone()
	cfg.ActuatorNoiseStd = c.ActuatorNoiseStd
	cfg.ObsNoiseStd = c.ObsNoiseStd
	cfg.Integrator = c.Integrator
	return cfg
}

// BuildEval assembles the evaluator configuration for the sweep.
func (c *SweepConfig) BuildEval() optim.EvalConfig {
	targets := make([]sim.State, len(c.Evaluation.Setpoints))
	for i, sp := range c.Evaluation.Setpoints {
		targets[i] = sim.State(sp).Clone()
	}
	return optim.EvalConfig{
		Base:             c.Fixed,
		EnvConfig:        c.Env.BuildEnv(),
		Targets:          targets,
		StepsPerTarget:   c.Evaluation.StepsPerTarget,
		MaxDistIncrement: c.Evaluation.MaxDistIncrement,
		Replicates:       c.Evaluation.Replicates,
		Workers:          c.Workers,
		Seed:             c.Seed,
	}
}
