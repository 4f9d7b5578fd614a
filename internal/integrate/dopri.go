package integrate

import (
	"math"

	"github.com/san-kum/odesens/internal/ode"
)

// Dormand-Prince 5(4) coefficients
var (
	a2 = 1.0 / 5.0
	a3 = 3.0 / 10.0
	a4 = 4.0 / 5.0
	a5 = 8.0 / 9.0

	b21 = 1.0 / 5.0
	b31 = 3.0 / 40.0
	b32 = 9.0 / 40.0
	b41 = 44.0 / 45.0
	b42 = -56.0 / 15.0
	b43 = 32.0 / 9.0
	b51 = 19372.0 / 6561.0
	b52 = -25360.0 / 2187.0
	b53 = 64448.0 / 6561.0
	b54 = -212.0 / 729.0
	b61 = 9017.0 / 3168.0
	b62 = -355.0 / 33.0
	b63 = 46732.0 / 5247.0
	b64 = 49.0 / 176.0
	b65 = -5103.0 / 18656.0

	c1 = 35.0 / 384.0
	c3 = 500.0 / 1113.0
	c4 = 125.0 / 192.0
	c5 = -2187.0 / 6784.0
	c6 = 11.0 / 84.0

	dc1 = c1 - 5179.0/57600.0
	dc3 = c3 - 7571.0/16695.0
	dc4 = c4 - 393.0/640.0
	dc5 = c5 - -92097.0/339200.0
	dc6 = c6 - 187.0/2100.0
	dc7 = -1.0 / 40.0
)

const (
	safety   = 0.9
	minScale = 0.2
	maxScale = 10.0
)

type dopriStepper struct {
	sys ode.System
	p   ode.Params

	k1, k2, k3, k4, k5, k6, k7 ode.State
	xtmp                       ode.State
}

func newDopriStepper(sys ode.System, p ode.Params) *dopriStepper {
	n := sys.StateDim()
	return &dopriStepper{
		sys: sys, p: p,
		k1: make(ode.State, n), k2: make(ode.State, n), k3: make(ode.State, n),
		k4: make(ode.State, n), k5: make(ode.State, n), k6: make(ode.State, n),
		k7: make(ode.State, n), xtmp: make(ode.State, n),
	}
}

// step attempts one step of size dt (signed) from (x, t). The derivative
// at x must already be in s.k1 (FSAL). On return xNew holds the trial
// state, s.k7 its derivative, and errRatio the max-norm error estimate
// relative to tolerance. evals is the number of RHS calls performed.
func (s *dopriStepper) step(x, xNew ode.State, t, dt, absTol, relTol float64) (errRatio float64, evals int) {
	n := len(x)

	for i := 0; i < n; i++ {
		s.xtmp[i] = x[i] + dt*b21*s.k1[i]
	}
	s.sys.Derive(s.k2, s.xtmp, s.p, t+a2*dt)

	for i := 0; i < n; i++ {
		s.xtmp[i] = x[i] + dt*(b31*s.k1[i]+b32*s.k2[i])
	}
	s.sys.Derive(s.k3, s.xtmp, s.p, t+a3*dt)

	for i := 0; i < n; i++ {
		s.xtmp[i] = x[i] + dt*(b41*s.k1[i]+b42*s.k2[i]+b43*s.k3[i])
	}
	s.sys.Derive(s.k4, s.xtmp, s.p, t+a4*dt)

	for i := 0; i < n; i++ {
		s.xtmp[i] = x[i] + dt*(b51*s.k1[i]+b52*s.k2[i]+b53*s.k3[i]+b54*s.k4[i])
	}
	s.sys.Derive(s.k5, s.xtmp, s.p, t+a5*dt)

	for i := 0; i < n; i++ {
		s.xtmp[i] = x[i] + dt*(b61*s.k1[i]+b62*s.k2[i]+b63*s.k3[i]+b64*s.k4[i]+b65*s.k5[i])
	}
	s.sys.Derive(s.k6, s.xtmp, s.p, t+dt)

	for i := 0; i < n; i++ {
		xNew[i] = x[i] + dt*(c1*s.k1[i]+c3*s.k3[i]+c4*s.k4[i]+c5*s.k5[i]+c6*s.k6[i])
	}
	s.sys.Derive(s.k7, xNew, s.p, t+dt)

	errMax := 0.0
	for i := 0; i < n; i++ {
		errEst := dt * (dc1*s.k1[i] + dc3*s.k3[i] + dc4*s.k4[i] + dc5*s.k5[i] + dc6*s.k6[i] + dc7*s.k7[i])
		sc := absTol + relTol*math.Max(math.Abs(x[i]), math.Abs(xNew[i]))
		errMax = math.Max(errMax, math.Abs(errEst)/sc)
	}

	return errMax, 6
}

// nextDt proposes the following step size from the error ratio.
func nextDt(dt, errRatio float64) float64 {
	if errRatio > 1 {
		return dt * math.Max(minScale, safety*math.Pow(errRatio, -0.25))
	}
	if errRatio > 0 {
		return dt * math.Min(maxScale, safety*math.Pow(errRatio, -0.2))
	}
	return dt * maxScale
}
