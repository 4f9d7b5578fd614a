package models

import (
	"math"

	"github.com/san-kum/odesens/internal/ode"
)

// Decay is du = -k u, the one-dimensional model with closed-form
// solution u0·e^{-kt} and sensitivity ∂u/∂k = -t·u(t).
type Decay struct{}

func NewDecay() *Decay { return &Decay{} }

func (*Decay) StateDim() int { return 1 }
func (*Decay) ParamDim() int { return 1 }

func (*Decay) Derive(dst ode.State, u ode.State, p ode.Params, t float64) {
	dst[0] = -p[0] * u[0]
}

func (*Decay) JacU(dst []ode.State, u ode.State, p ode.Params, t float64) {
	dst[0][0] = -p[0]
}

func (*Decay) JacP(dst []ode.State, u ode.State, p ode.Params, t float64) {
	dst[0][0] = -u[0]
}

func (*Decay) DefaultState() ode.State         { return ode.State{1} }
func (*Decay) DefaultParams() ode.Params       { return ode.Params{0.5} }
func (*Decay) DefaultSpan() (float64, float64) { return 0, 5 }
func (*Decay) ParamNames() []string            { return []string{"k"} }

// Solution returns the closed-form value u0·e^{-kt}.
func (*Decay) Solution(u0, k, t float64) float64 {
	return u0 * math.Exp(-k*t)
}
