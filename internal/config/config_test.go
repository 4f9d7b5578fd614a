package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Model != "lotka_volterra" {
		t.Errorf("expected model lotka_volterra, got %s", cfg.Model)
	}
	if cfg.Method != DefaultMethod {
		t.Errorf("expected method %s, got %s", DefaultMethod, cfg.Method)
	}
	if cfg.AbsTol <= 0 || cfg.RelTol <= 0 {
		t.Error("tolerances should be positive")
	}
	if cfg.Fit.LearnRate <= 0 {
		t.Error("learn rate should be positive")
	}
	if cfg.Fit.MaxIters <= 0 {
		t.Error("max iters should be positive")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	src := &Config{
		Model:        "decay",
		Method:       "rk4",
		Dt:           0.01,
		Algorithm:    "backsolve_adjoint",
		AbsTol:       1e-10,
		Observations: []float64{1, 2},
	}
	if err := Save(path, src); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Model != "decay" {
		t.Errorf("expected model decay, got %s", cfg.Model)
	}
	if cfg.Algorithm != "backsolve_adjoint" {
		t.Errorf("expected backsolve_adjoint, got %s", cfg.Algorithm)
	}
	if cfg.Method != "rk4" || cfg.Dt != 0.01 {
		t.Errorf("expected rk4 with dt 0.01, got %s with dt %g", cfg.Method, cfg.Dt)
	}
	if cfg.AbsTol != 1e-10 {
		t.Errorf("expected abstol 1e-10, got %g", cfg.AbsTol)
	}
	if len(cfg.Observations) != 2 {
		t.Errorf("expected 2 observation times, got %d", len(cfg.Observations))
	}
}

func TestGetPreset(t *testing.T) {
	cfg := GetPreset("lotka_volterra", "classic")
	if cfg == nil {
		t.Fatal("expected preset, got nil")
	}
	if cfg.Algorithm != "interpolating_adjoint" {
		t.Errorf("expected interpolating_adjoint, got %s", cfg.Algorithm)
	}
	if len(cfg.Observations) == 0 {
		t.Error("classic preset should carry observation times")
	}
}

func TestGetPreset_NotFound(t *testing.T) {
	cfg := GetPreset("lotka_volterra", "nonexistent")
	if cfg != nil {
		t.Error("expected nil for nonexistent preset")
	}

	cfg = GetPreset("nonexistent", "classic")
	if cfg != nil {
		t.Error("expected nil for nonexistent model")
	}
}

func TestListPresets(t *testing.T) {
	presets := ListPresets("lotka_volterra")
	if len(presets) == 0 {
		t.Error("expected presets for lotka_volterra")
	}

	presets = ListPresets("nonexistent")
	if presets != nil {
		t.Error("expected nil for nonexistent model")
	}
}
