package models

import (
	"github.com/san-kum/odesens/internal/ode"
)

// VanDerPol is the oscillator du1 = u2, du2 = μ(1-u1²)u2 - u1. Larger μ
// stiffens the limit cycle.
type VanDerPol struct{}

func NewVanDerPol() *VanDerPol { return &VanDerPol{} }

func (*VanDerPol) StateDim() int { return 2 }
func (*VanDerPol) ParamDim() int { return 1 }

func (*VanDerPol) Derive(dst ode.State, u ode.State, p ode.Params, t float64) {
	mu := p[0]
	dst[0] = u[1]
	dst[1] = mu*(1-u[0]*u[0])*u[1] - u[0]
}

func (*VanDerPol) JacU(dst []ode.State, u ode.State, p ode.Params, t float64) {
	mu := p[0]
	dst[0][0], dst[0][1] = 0, 1
	dst[1][0], dst[1][1] = -2*mu*u[0]*u[1]-1, mu*(1-u[0]*u[0])
}

func (*VanDerPol) JacP(dst []ode.State, u ode.State, p ode.Params, t float64) {
	dst[0][0], dst[0][1] = 0, (1-u[0]*u[0])*u[1]
}

func (*VanDerPol) DefaultState() ode.State         { return ode.State{2, 0} }
func (*VanDerPol) DefaultParams() ode.Params       { return ode.Params{1.0} }
func (*VanDerPol) DefaultSpan() (float64, float64) { return 0, 10 }
func (*VanDerPol) ParamNames() []string            { return []string{"mu"} }
