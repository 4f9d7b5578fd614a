package config

var Presets = map[string]map[string]*Config{
	"lotka_volterra": {
		"classic": {
			Model: "lotka_volterra", Algorithm: "interpolating_adjoint", Autodiff: "user_jacobian",
			AbsTol: 1e-8, RelTol: 1e-8,
			Observations: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		},
		"checkpointed": {
			Model: "lotka_volterra", Algorithm: "backsolve_adjoint", Autodiff: "user_jacobian",
			AbsTol: 1e-8, RelTol: 1e-8, Resync: true,
			Observations: []float64{2.5, 5, 7.5, 10},
			Checkpoint:   CheckpointConfig{Enabled: true, Times: []float64{0, 2.5, 5, 7.5, 10}},
		},
		"forward": {
			Model: "lotka_volterra", Algorithm: "forward_sensitivity", Autodiff: "user_jacobian",
			AbsTol: 1e-8, RelTol: 1e-8, Parallel: true,
			Observations: []float64{2.5, 5, 7.5, 10},
		},
	},
	"decay": {
		"fit-demo": {
			Model: "decay", Algorithm: "interpolating_adjoint", Autodiff: "user_jacobian",
			AbsTol: 1e-10, RelTol: 1e-10,
			Observations: []float64{0.5, 1, 1.5, 2, 2.5, 3},
			TF:           ptr(3),
			Fit:          FitConfig{LearnRate: 0.1, MaxIters: 300, Tol: 1e-8},
		},
	},
	"vanderpol": {
		"relaxation": {
			Model: "vanderpol", Algorithm: "quadrature_adjoint", Autodiff: "user_jacobian",
			AbsTol: 1e-9, RelTol: 1e-9,
			Observations: []float64{5, 10},
		},
	},
	"lorenz": {
		"short-span": {
			Model: "lorenz", Algorithm: "interpolating_adjoint", Autodiff: "finite_diff",
			AbsTol: 1e-9, RelTol: 1e-9, Strict: true,
			Observations: []float64{1, 2},
			Checkpoint:   CheckpointConfig{Enabled: true},
		},
	},
}

func ptr(v float64) *float64 { return &v }

func GetPreset(model, preset string) *Config {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	cfg, ok := modelPresets[preset]
	if !ok {
		return nil
	}
	return cfg
}

func ListPresets(model string) []string {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(modelPresets))
	for name := range modelPresets {
		names = append(names, name)
	}
	return names
}
