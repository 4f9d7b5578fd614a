package models

import (
	"github.com/san-kum/odesens/internal/ode"
)

// Lorenz is the chaotic attractor
//
//	du1 = σ(u2 - u1)
//	du2 = u1(ρ - u3) - u2
//	du3 = u1·u2 - β·u3
//
// The default span is short: gradients through chaotic dynamics lose
// meaning once trajectories decorrelate, and backsolve adjoints are
// flagged unstable here.
type Lorenz struct{}

func NewLorenz() *Lorenz { return &Lorenz{} }

func (*Lorenz) StateDim() int { return 3 }
func (*Lorenz) ParamDim() int { return 3 }

func (*Lorenz) Derive(dst ode.State, u ode.State, p ode.Params, t float64) {
	sigma, rho, beta := p[0], p[1], p[2]
	dst[0] = sigma * (u[1] - u[0])
	dst[1] = u[0]*(rho-u[2]) - u[1]
	dst[2] = u[0]*u[1] - beta*u[2]
}

func (*Lorenz) JacU(dst []ode.State, u ode.State, p ode.Params, t float64) {
	sigma, rho, beta := p[0], p[1], p[2]
	dst[0][0], dst[0][1], dst[0][2] = -sigma, sigma, 0
	dst[1][0], dst[1][1], dst[1][2] = rho-u[2], -1, -u[0]
	dst[2][0], dst[2][1], dst[2][2] = u[1], u[0], -beta
}

func (*Lorenz) JacP(dst []ode.State, u ode.State, p ode.Params, t float64) {
	dst[0][0], dst[0][1], dst[0][2] = u[1]-u[0], 0, 0
	dst[1][0], dst[1][1], dst[1][2] = 0, u[0], 0
	dst[2][0], dst[2][1], dst[2][2] = 0, 0, -u[2]
}

func (*Lorenz) DefaultState() ode.State         { return ode.State{1, 1, 1} }
func (*Lorenz) DefaultParams() ode.Params       { return ode.Params{10, 28, 8.0 / 3.0} }
func (*Lorenz) DefaultSpan() (float64, float64) { return 0, 2 }
func (*Lorenz) ParamNames() []string            { return []string{"sigma", "rho", "beta"} }
