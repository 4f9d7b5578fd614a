package ode

import (
	"errors"
	"math"
	"testing"
)

type linear struct{}

func (linear) Derive(dst State, u State, p Params, t float64) {
	dst[0] = -p[0] * u[0]
}
func (linear) StateDim() int { return 1 }
func (linear) ParamDim() int { return 1 }

func TestStateClone(t *testing.T) {
	s := State{1, 2, 3}
	c := s.Clone()
	c[0] = 9
	if s[0] != 1 {
		t.Error("Clone should not share backing array")
	}
}

func TestStateIsValid(t *testing.T) {
	if !(State{1, 2}).IsValid() {
		t.Error("finite state should be valid")
	}
	if (State{1, math.NaN()}).IsValid() {
		t.Error("NaN state should be invalid")
	}
	if (State{math.Inf(1)}).IsValid() {
		t.Error("Inf state should be invalid")
	}
}

func TestStateAXPY(t *testing.T) {
	s := State{1, 2}
	s.AXPY(2, State{10, 20})
	if s[0] != 21 || s[1] != 42 {
		t.Errorf("AXPY result wrong: %v", s)
	}
}

func TestProblemValidate(t *testing.T) {
	prob := Problem{Sys: linear{}, U0: State{1}, P: Params{0.5}, T0: 0, TF: 1}
	if err := prob.Validate(); err != nil {
		t.Fatalf("valid problem rejected: %v", err)
	}

	bad := prob.WithState(State{1, 2})
	if err := bad.Validate(); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}

	bad = prob.WithParams(Params{})
	if err := bad.Validate(); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}

	bad = prob.WithSpan(2, 2)
	if err := bad.Validate(); !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig for empty span, got %v", err)
	}
}

func TestProblemRemakeDoesNotAlias(t *testing.T) {
	prob := Problem{Sys: linear{}, U0: State{1}, P: Params{0.5}, T0: 0, TF: 1}
	alt := prob.WithParams(Params{2.0})
	if prob.P[0] != 0.5 {
		t.Error("WithParams mutated the original problem")
	}
	if alt.P[0] != 2.0 {
		t.Error("WithParams lost the override")
	}
}

func TestStepErrorContext(t *testing.T) {
	err := &StepError{Time: 1.5, Step: 42, Wrapped: ErrDiverged}
	if !errors.Is(err, ErrDiverged) {
		t.Error("StepError should unwrap to sentinel")
	}

	bracketed := &StepError{Time: 3, Step: 7, Bracket: [2]float64{2, 5}, Wrapped: ErrStepTooSmall}
	if !errors.Is(bracketed, ErrStepTooSmall) {
		t.Error("bracketed StepError should unwrap to sentinel")
	}
}

func TestVecPool(t *testing.T) {
	p := NewVecPool(3)
	s := p.Get()
	if len(s) != 3 {
		t.Fatalf("expected len 3, got %d", len(s))
	}
	s[0] = 5
	p.Put(s)
	s2 := p.Get()
	for _, v := range s2 {
		if v != 0 {
			t.Error("pooled buffer not zeroed")
		}
	}
}
