package integrate

import "github.com/san-kum/odesens/internal/ode"

type rk4Stepper struct {
	sys ode.System
	p   ode.Params

	k1, k2, k3, k4 ode.State
	scratch        ode.State
}

func newRK4Stepper(sys ode.System, p ode.Params) *rk4Stepper {
	n := sys.StateDim()
	return &rk4Stepper{
		sys: sys, p: p,
		k1: make(ode.State, n), k2: make(ode.State, n),
		k3: make(ode.State, n), k4: make(ode.State, n),
		scratch: make(ode.State, n),
	}
}

// step advances one fixed step of size dt (signed), writing the result
// into xNew and the derivative at xNew into dfNew.
func (r *rk4Stepper) step(x, xNew, dfNew ode.State, t, dt float64) (evals int) {
	n := len(x)

	r.sys.Derive(r.k1, x, r.p, t)

	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + dt*0.5*r.k1[i]
	}
	r.sys.Derive(r.k2, r.scratch, r.p, t+dt*0.5)

	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + dt*0.5*r.k2[i]
	}
	r.sys.Derive(r.k3, r.scratch, r.p, t+dt*0.5)

	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + dt*r.k3[i]
	}
	r.sys.Derive(r.k4, r.scratch, r.p, t+dt)

	dt6 := dt / 6.0
	for i := 0; i < n; i++ {
		xNew[i] = x[i] + dt6*(r.k1[i]+2*r.k2[i]+2*r.k3[i]+r.k4[i])
	}
	r.sys.Derive(dfNew, xNew, r.p, t+dt)

	return 5
}
