// Package models ships the example systems used by the CLI and the
// calibration demos. Every model carries canonical initial conditions
// and analytic Jacobians so the exact autodiff provider works out of
// the box.
package models

import (
	"github.com/san-kum/odesens/internal/ode"
)

// Model is a named example system with canonical defaults.
type Model interface {
	ode.System
	ode.Jacobian

	DefaultState() ode.State
	DefaultParams() ode.Params
	DefaultSpan() (t0, tf float64)
	ParamNames() []string
}
