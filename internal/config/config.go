// Package config loads and saves the YAML run configuration consumed
// by the CLI. Zero fields fall back to the model's own defaults.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAbsTol    = 1e-8
	DefaultRelTol    = 1e-8
	DefaultMethod    = "dopri5"
	DefaultAlgorithm = "interpolating_adjoint"
	DefaultAutodiff  = "user_jacobian"
	DefaultLearnRate = 0.05
	DefaultMaxIters  = 200
)

type Config struct {
	Model     string `yaml:"model"`
	Method    string `yaml:"method"`
	Algorithm string `yaml:"algorithm"`
	Autodiff  string `yaml:"autodiff"`

	AbsTol float64 `yaml:"abstol"`
	RelTol float64 `yaml:"reltol"`
	// Dt is the fixed step size; required by rk4, ignored by dopri5.
	Dt         float64 `yaml:"dt,omitempty"`
	QuadAbsTol float64 `yaml:"quad_abstol,omitempty"`
	QuadRelTol float64 `yaml:"quad_reltol,omitempty"`

	// InitState and Params override the model defaults when non-empty.
	InitState []float64 `yaml:"init_state,omitempty"`
	Params    []float64 `yaml:"params,omitempty"`
	T0        *float64  `yaml:"t0,omitempty"`
	TF        *float64  `yaml:"tf,omitempty"`

	Observations []float64        `yaml:"observations,omitempty"`
	Checkpoint   CheckpointConfig `yaml:"checkpoint"`

	Strict   bool `yaml:"strict"`
	Resync   bool `yaml:"resync"`
	Parallel bool `yaml:"parallel"`

	Fit FitConfig `yaml:"fit"`
}

type CheckpointConfig struct {
	Enabled bool      `yaml:"enabled"`
	Times   []float64 `yaml:"times,omitempty"`
}

type FitConfig struct {
	LearnRate  float64 `yaml:"learn_rate"`
	MaxIters   int     `yaml:"max_iters"`
	Tol        float64 `yaml:"tol,omitempty"`
	FitInitial bool    `yaml:"fit_initial"`
}

func DefaultConfig() *Config {
	return &Config{
		Model:     "lotka_volterra",
		Method:    DefaultMethod,
		Algorithm: DefaultAlgorithm,
		Autodiff:  DefaultAutodiff,
		AbsTol:    DefaultAbsTol,
		RelTol:    DefaultRelTol,
		Fit: FitConfig{
			LearnRate: DefaultLearnRate,
			MaxIters:  DefaultMaxIters,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
