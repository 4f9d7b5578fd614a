package sensitivity

import (
	"context"
	"math"
	"testing"

	"github.com/san-kum/odesens/internal/autodiff"
	"github.com/san-kum/odesens/internal/integrate"
	"github.com/san-kum/odesens/internal/ode"
)

// decay is du = -k u, with u(t) = u0 e^{-kt} and ∂u/∂k = -t u(t).
type decay struct{}

func (decay) Derive(dst ode.State, u ode.State, p ode.Params, t float64) {
	dst[0] = -p[0] * u[0]
}
func (decay) StateDim() int { return 1 }
func (decay) ParamDim() int { return 1 }

func (decay) JacU(dst []ode.State, u ode.State, p ode.Params, t float64) {
	dst[0][0] = -p[0]
}
func (decay) JacP(dst []ode.State, u ode.State, p ode.Params, t float64) {
	dst[0][0] = -u[0]
}

// drift has no parameters at all.
type drift struct{}

func (drift) Derive(dst ode.State, u ode.State, p ode.Params, t float64) {
	dst[0] = 1
}
func (drift) StateDim() int { return 1 }
func (drift) ParamDim() int { return 0 }

func decayProblem() ode.Problem {
	return ode.Problem{Sys: decay{}, U0: ode.State{2.0}, P: ode.Params{0.7}, T0: 0, TF: 3}
}

func tightOptions() Options {
	opts := Options{Solver: integrate.DefaultOptions()}
	opts.Solver.AbsTol, opts.Solver.RelTol = 1e-10, 1e-10
	return opts
}

func TestForwardSensitivityClosedForm(t *testing.T) {
	prob := decayProblem()
	_, ext, _, err := ForwardSensitivity(context.Background(), prob, autodiff.Exact{}, tightOptions())
	if err != nil {
		t.Fatalf("forward sensitivity failed: %v", err)
	}

	u, cols := ext.Terminal()
	tf, k, u0 := 3.0, 0.7, 2.0
	wantU := u0 * math.Exp(-k*tf)
	wantS := -tf * wantU

	if math.Abs(u[0]-wantU) > 1e-8 {
		t.Errorf("solution: got %g, want %g", u[0], wantU)
	}
	if math.Abs(cols[0][0]-wantS) > 1e-7 {
		t.Errorf("sensitivity: got %g, want %g", cols[0][0], wantS)
	}
}

func TestAugmentedProjectionMatchesPlainSolve(t *testing.T) {
	prob := decayProblem()
	opts := tightOptions()

	plain, _, err := integrate.Solve(context.Background(), prob, opts.Solver)
	if err != nil {
		t.Fatalf("plain solve failed: %v", err)
	}

	_, ext, _, err := ForwardSensitivity(context.Background(), prob, autodiff.Exact{}, opts)
	if err != nil {
		t.Fatalf("forward sensitivity failed: %v", err)
	}

	for _, q := range []float64{0.5, 1.1, 2.9} {
		up, err := plain.At(q)
		if err != nil {
			t.Fatal(err)
		}
		ua, _, err := ext.AtTime(q)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(up[0]-ua[0]) > 1e-8 {
			t.Errorf("projection at t=%g differs from plain solve: %g vs %g", q, ua[0], up[0])
		}
	}
}

func TestAugmentZeroParamsIsIdentity(t *testing.T) {
	prob := ode.Problem{Sys: drift{}, U0: ode.State{0}, P: ode.Params{}, T0: 0, TF: 1}

	aug, err := Augment(prob, autodiff.NewFiniteDiff(0), false)
	if err != nil {
		t.Fatalf("augment failed: %v", err)
	}
	if aug.Sys != prob.Sys {
		t.Error("M=0 augmentation should return the problem unchanged")
	}
	if len(aug.U0) != 1 {
		t.Error("M=0 augmentation should not grow the state")
	}
}

func TestExtractionIdempotence(t *testing.T) {
	prob := decayProblem()
	_, ext, _, err := ForwardSensitivity(context.Background(), prob, autodiff.Exact{}, tightOptions())
	if err != nil {
		t.Fatalf("forward sensitivity failed: %v", err)
	}

	us, sens := ext.Series()
	for i, ti := range ext.Times() {
		uIdx, colsIdx := ext.AtIndex(i)
		uT, colsT, err := ext.AtTime(ti)
		if err != nil {
			t.Fatalf("AtTime(%g) failed: %v", ti, err)
		}

		for k := range uIdx {
			if math.Abs(uIdx[k]-uT[k]) > 1e-12 || math.Abs(uIdx[k]-us[i][k]) > 1e-12 {
				t.Fatalf("sample %d: call shapes disagree on state", i)
			}
		}
		for j := range colsIdx {
			for k := range colsIdx[j] {
				if math.Abs(colsIdx[j][k]-colsT[j][k]) > 1e-12 ||
					math.Abs(colsIdx[j][k]-sens[i][j][k]) > 1e-12 {
					t.Fatalf("sample %d: call shapes disagree on sensitivity column %d", i, j)
				}
			}
		}
	}
}

func TestParallelColumnsMatchSerial(t *testing.T) {
	// Oscillator with two parameters so there are columns to fan out.
	prob := ode.Problem{Sys: twoParamOsc{}, U0: ode.State{1, 0}, P: ode.Params{2.0, 0.3}, T0: 0, TF: 4}

	serial := tightOptions()
	parallel := tightOptions()
	parallel.Parallel = true

	_, extS, _, err := ForwardSensitivity(context.Background(), prob, autodiff.Exact{}, serial)
	if err != nil {
		t.Fatal(err)
	}
	_, extP, _, err := ForwardSensitivity(context.Background(), prob, autodiff.Exact{}, parallel)
	if err != nil {
		t.Fatal(err)
	}

	uS, colsS := extS.Terminal()
	uP, colsP := extP.Terminal()
	for k := range uS {
		if math.Abs(uS[k]-uP[k]) > 1e-10 {
			t.Errorf("parallel solve changed the solution")
		}
	}
	for j := range colsS {
		for k := range colsS[j] {
			if math.Abs(colsS[j][k]-colsP[j][k]) > 1e-10 {
				t.Errorf("parallel solve changed sensitivity column %d", j)
			}
		}
	}
}

// twoParamOsc is du1 = u2, du2 = -w^2 u1 - c u2.
type twoParamOsc struct{}

func (twoParamOsc) Derive(dst ode.State, u ode.State, p ode.Params, t float64) {
	w, c := p[0], p[1]
	dst[0] = u[1]
	dst[1] = -w*w*u[0] - c*u[1]
}
func (twoParamOsc) StateDim() int { return 2 }
func (twoParamOsc) ParamDim() int { return 2 }

func (twoParamOsc) JacU(dst []ode.State, u ode.State, p ode.Params, t float64) {
	w, c := p[0], p[1]
	dst[0][0], dst[0][1] = 0, 1
	dst[1][0], dst[1][1] = -w*w, -c
}
func (twoParamOsc) JacP(dst []ode.State, u ode.State, p ode.Params, t float64) {
	w := p[0]
	dst[0][0], dst[0][1] = 0, -2*w*u[0]
	dst[1][0], dst[1][1] = 0, -u[1]
}
