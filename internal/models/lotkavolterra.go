package models

import (
	"github.com/san-kum/odesens/internal/ode"
)

// LotkaVolterra is the predator-prey system
//
//	du1 = p1·u1 - p2·u1·u2
//	du2 = -p3·u2 + u1·u2
//
// with prey u1 and predators u2.
type LotkaVolterra struct{}

func NewLotkaVolterra() *LotkaVolterra { return &LotkaVolterra{} }

func (*LotkaVolterra) StateDim() int { return 2 }
func (*LotkaVolterra) ParamDim() int { return 3 }

func (*LotkaVolterra) Derive(dst ode.State, u ode.State, p ode.Params, t float64) {
	dst[0] = p[0]*u[0] - p[1]*u[0]*u[1]
	dst[1] = -p[2]*u[1] + u[0]*u[1]
}

func (*LotkaVolterra) JacU(dst []ode.State, u ode.State, p ode.Params, t float64) {
	dst[0][0], dst[0][1] = p[0]-p[1]*u[1], -p[1]*u[0]
	dst[1][0], dst[1][1] = u[1], -p[2]+u[0]
}

func (*LotkaVolterra) JacP(dst []ode.State, u ode.State, p ode.Params, t float64) {
	dst[0][0], dst[0][1] = u[0], 0
	dst[1][0], dst[1][1] = -u[0]*u[1], 0
	dst[2][0], dst[2][1] = 0, -u[1]
}

func (*LotkaVolterra) DefaultState() ode.State         { return ode.State{1, 1} }
func (*LotkaVolterra) DefaultParams() ode.Params       { return ode.Params{1.5, 1.0, 3.0} }
func (*LotkaVolterra) DefaultSpan() (float64, float64) { return 0, 10 }
func (*LotkaVolterra) ParamNames() []string            { return []string{"growth", "predation", "mortality"} }
