package ode

import (
	"fmt"
	"math"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// AXPY adds a*x to s in place. Panics if lengths differ.
func (s State) AXPY(a float64, x State) {
	if len(s) != len(x) {
		panic("ode: AXPY length mismatch")
	}
	for i := range s {
		s[i] += a * x[i]
	}
}

func (s State) Zero() {
	for i := range s {
		s[i] = 0
	}
}

func (s State) Sub(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] - other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

type Params []float64

func (p Params) Clone() Params {
	c := make(Params, len(p))
	copy(c, p)
	return c
}

func (p Params) IsValid() bool {
	return State(p).IsValid()
}

// System is a parameterized ODE right-hand side du/dt = f(u, p, t).
//
// Derive writes f(u, p, t) into dst. dst has length StateDim and is
// caller-owned scratch, valid only for the duration of the call.
type System interface {
	Derive(dst State, u State, p Params, t float64)
	StateDim() int
	ParamDim() int
}

// Jacobian is implemented by systems with analytic derivatives.
//
// JacU fills dst[i][j] = ∂f_i/∂u_j (dst is StateDim rows of StateDim).
// JacP fills dst[j][i] = ∂f_i/∂p_j (dst is ParamDim columns of StateDim).
type Jacobian interface {
	JacU(dst []State, u State, p Params, t float64)
	JacP(dst []State, u State, p Params, t float64)
}

// Problem bundles a system with its initial condition, parameters and
// time span. Problems are immutable; derive variants with the With*
// methods, which copy.
type Problem struct {
	Sys    System
	U0     State
	P      Params
	T0, TF float64
}

func (pr Problem) WithState(u0 State) Problem {
	pr.U0 = u0.Clone()
	return pr
}

func (pr Problem) WithParams(p Params) Problem {
	pr.P = p.Clone()
	return pr
}

func (pr Problem) WithSpan(t0, tf float64) Problem {
	pr.T0, pr.TF = t0, tf
	return pr
}

func (pr Problem) Validate() error {
	if pr.Sys == nil {
		return fmt.Errorf("%w: nil system", ErrConfig)
	}
	if len(pr.U0) != pr.Sys.StateDim() {
		return fmt.Errorf("%w: initial state has %d components, system expects %d",
			ErrDimensionMismatch, len(pr.U0), pr.Sys.StateDim())
	}
	if len(pr.P) != pr.Sys.ParamDim() {
		return fmt.Errorf("%w: parameter vector has %d components, system expects %d",
			ErrDimensionMismatch, len(pr.P), pr.Sys.ParamDim())
	}
	if pr.T0 == pr.TF {
		return fmt.Errorf("%w: empty time span [%g, %g]", ErrConfig, pr.T0, pr.TF)
	}
	if !pr.U0.IsValid() || !pr.P.IsValid() {
		return fmt.Errorf("%w: NaN/Inf in initial state or parameters", ErrConfig)
	}
	return nil
}

// Span returns the signed span length TF - T0.
func (pr Problem) Span() float64 { return pr.TF - pr.T0 }
