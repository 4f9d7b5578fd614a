package calibrate

import (
	"context"
	"math"
	"testing"

	"github.com/san-kum/odesens/internal/autodiff"
	"github.com/san-kum/odesens/internal/gradient"
	"github.com/san-kum/odesens/internal/integrate"
	"github.com/san-kum/odesens/internal/models"
	"github.com/san-kum/odesens/internal/ode"
)

func decayObservations(u0, k float64) Observations {
	d := models.NewDecay()
	times := []float64{0.5, 1, 1.5, 2, 2.5, 3}
	data := make([]ode.State, len(times))
	for i, t := range times {
		data[i] = ode.State{d.Solution(u0, k, t)}
	}
	return Observations{Times: times, Data: data}
}

func TestFitRecoversDecayRate(t *testing.T) {
	trueK := 0.8
	obs := decayObservations(2, trueK)

	prob := ode.Problem{Sys: models.NewDecay(), U0: ode.State{2}, P: ode.Params{0.3}, T0: 0, TF: 3}
	opts := Options{
		Algorithm: gradient.InterpolatingAdjoint,
		Provider:  autodiff.Exact{},
		Solver:    integrate.DefaultOptions(),
		MaxIters:  300,
		Tol:       1e-8,
	}

	res, err := Fit(context.Background(), prob, obs, opts, nil)
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	if math.Abs(res.Params[0]-trueK) > 1e-3 {
		t.Errorf("recovered k = %g, want %g (loss %g after %d iters)",
			res.Params[0], trueK, res.Loss, res.Iters)
	}
	if len(res.History) == 0 {
		t.Error("history should record iterations")
	}
	for i := 1; i < len(res.History); i++ {
		if res.History[i].Loss > res.History[i-1].Loss+1e-12 {
			t.Errorf("loss increased at iteration %d: %g -> %g",
				i, res.History[i-1].Loss, res.History[i].Loss)
		}
	}
}

func TestGridSeedFindsBasin(t *testing.T) {
	obs := decayObservations(2, 0.8)
	prob := ode.Problem{Sys: models.NewDecay(), U0: ode.State{2}, P: ode.Params{5.0}, T0: 0, TF: 3}

	seeded, err := gridSeed(context.Background(), prob, obs.Cost(), Options{
		Solver: integrate.DefaultOptions(),
		Seed:   &GridSeed{Lo: ode.Params{0.1}, Hi: ode.Params{2.0}, Steps: 20},
	}.withDefaults())
	if err != nil {
		t.Fatalf("grid seed failed: %v", err)
	}
	if math.Abs(seeded[0]-0.8) > 0.2 {
		t.Errorf("seed k = %g, want within 0.2 of 0.8", seeded[0])
	}
}

func TestFitProgressAndCancellation(t *testing.T) {
	obs := decayObservations(2, 0.8)
	prob := ode.Problem{Sys: models.NewDecay(), U0: ode.State{2}, P: ode.Params{0.3}, T0: 0, TF: 3}

	calls := 0
	ctx, cancel := context.WithCancel(context.Background())
	_, err := Fit(ctx, prob, obs, Options{
		Algorithm: gradient.InterpolatingAdjoint,
		Provider:  autodiff.Exact{},
	}, func(it Iteration) {
		calls++
		if calls == 3 {
			cancel()
		}
	})
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls < 3 {
		t.Errorf("progress callback saw %d iterations", calls)
	}
}

func TestObservationValidation(t *testing.T) {
	prob := ode.Problem{Sys: models.NewDecay(), U0: ode.State{2}, P: ode.Params{0.3}, T0: 0, TF: 3}

	_, err := Fit(context.Background(), prob, Observations{}, Options{}, nil)
	if err == nil {
		t.Error("empty observations should fail")
	}

	bad := Observations{Times: []float64{1}, Data: []ode.State{{1, 2}}}
	_, err = Fit(context.Background(), prob, bad, Options{}, nil)
	if err == nil {
		t.Error("dimension mismatch should fail")
	}
}
