// Package ode provides the core vocabulary for parameterized ordinary
// differential equations and their sensitivity analysis.
//
// The package defines the fundamental interfaces and types shared by the
// solver and sensitivity packages:
//
//   - [State], [Params]: state and parameter vectors
//   - [System]: interface for parameterized ODEs (du/dt = f(u, p, t))
//   - [Jacobian]: optional analytic derivatives of f
//   - [Problem]: immutable bundle of system, initial state, parameters, span
//
// # Evaluator contract
//
// System.Derive writes the derivative into a caller-owned destination
// buffer. The buffer is valid only for the duration of the call and must
// not be retained by the implementation. Derive must not mutate u or p.
//
// # Example
//
//	sys := models.NewLotkaVolterra()
//	prob := ode.Problem{Sys: sys, U0: sys.DefaultState(), P: sys.DefaultParams(), T0: 0, TF: 10}
//	traj, _, err := integrate.Solve(ctx, prob, integrate.DefaultOptions())
package ode
