// Package autodiff defines the derivative capability injected into the
// sensitivity algorithms: Jacobian-vector and vector-Jacobian products
// against a system right-hand side, computed without materializing the
// full Jacobian.
//
// The engine is always passed explicitly; there is no process-wide
// default. External AD engines plug in by implementing [Provider]. The
// package ships two fallbacks: [Exact] over a user-supplied analytic
// Jacobian, and [FiniteDiff] central differences as a last resort.
//
// Providers must be reentrant: the forward augmenter may evaluate
// columns concurrently when the caller opts in.
package autodiff

import (
	"fmt"

	"github.com/san-kum/odesens/internal/ode"
)

// Provider computes directional derivative products of f(u, p, t).
type Provider interface {
	// JVP writes (∂f/∂u)·du + (∂f/∂p)·dp into out. du or dp may be nil,
	// meaning a zero direction.
	JVP(sys ode.System, u ode.State, p ode.Params, t float64, du ode.State, dp ode.Params, out ode.State)

	// VJP writes (∂f/∂u)ᵀ·v into outU and (∂f/∂p)ᵀ·v into outP.
	// outP may be nil when the parameter pullback is not needed.
	VJP(sys ode.System, u ode.State, p ode.Params, t float64, v ode.State, outU ode.State, outP ode.Params)
}

// Parse maps a configuration name to a provider. Tape-based AD engines
// are external capabilities and must be injected programmatically.
func Parse(name string, eps float64) (Provider, error) {
	switch name {
	case "finite_diff", "":
		return NewFiniteDiff(eps), nil
	case "jacobian", "user_jacobian":
		return Exact{}, nil
	case "forward_ad", "reverse_ad":
		return nil, fmt.Errorf("%w: %s requires an injected AD provider", ode.ErrUnsupported, name)
	}
	return nil, fmt.Errorf("%w: unknown autodiff mode %q", ode.ErrConfig, name)
}
