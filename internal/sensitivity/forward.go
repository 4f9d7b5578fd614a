// Package sensitivity implements forward sensitivity analysis: the ODE
// is augmented with the sensitivity matrix S = ∂u/∂p so that one solve
// propagates the solution and its parameter derivatives together.
//
// Cost scales O(N·M); adjoint methods are preferable for large M.
package sensitivity

import (
	"context"

	"github.com/san-kum/odesens/internal/autodiff"
	"github.com/san-kum/odesens/internal/integrate"
	"github.com/san-kum/odesens/internal/ode"
)

// augmented wraps a system so its state is [u; S] with S flattened
// column-major: block j holds ∂u/∂p_j.
type augmented struct {
	sys      ode.System
	ad       autodiff.Provider
	n, m     int
	parallel bool

	// dirs[j] is the j-th parameter basis vector, built once so the
	// per-step derivative never allocates.
	dirs []ode.Params
}

func (a *augmented) StateDim() int { return a.n * (1 + a.m) }
func (a *augmented) ParamDim() int { return a.m }

func (a *augmented) Derive(dst ode.State, x ode.State, p ode.Params, t float64) {
	n := a.n
	u := x[:n]

	a.sys.Derive(dst[:n], u, p, t)

	// dS_j = (∂f/∂u)·S_j + ∂f/∂p_j, one JVP per column.
	column := func(j int) {
		sj := x[n+j*n : n+(j+1)*n]
		a.ad.JVP(a.sys, u, p, t, sj, a.dirs[j], dst[n+j*n:n+(j+1)*n])
	}

	if a.parallel {
		parallelFor(a.m, 1, func(start, end int) {
			for j := start; j < end; j++ {
				column(j)
			}
		})
		return
	}
	for j := 0; j < a.m; j++ {
		column(j)
	}
}

// Options controls the forward augmentation.
type Options struct {
	Solver integrate.Options

	// Parallel evaluates sensitivity columns concurrently. Opt-in only:
	// the caller declares the system and provider reentrant.
	Parallel bool
}

// Augment returns a problem whose solution carries [u; S], with S
// initialized to zero at T0. With no parameters the problem is returned
// unchanged.
func Augment(prob ode.Problem, ad autodiff.Provider, parallel bool) (ode.Problem, error) {
	if err := prob.Validate(); err != nil {
		return ode.Problem{}, err
	}

	n, m := prob.Sys.StateDim(), prob.Sys.ParamDim()
	if m == 0 {
		return prob, nil
	}

	u0 := make(ode.State, n*(1+m))
	copy(u0, prob.U0)

	dirs := make([]ode.Params, m)
	for j := range dirs {
		dirs[j] = make(ode.Params, m)
		dirs[j][j] = 1
	}

	return ode.Problem{
		Sys: &augmented{sys: prob.Sys, ad: ad, n: n, m: m, parallel: parallel, dirs: dirs},
		U0:  u0,
		P:   prob.P.Clone(),
		T0:  prob.T0,
		TF:  prob.TF,
	}, nil
}

// ForwardSensitivity solves the augmented problem and returns the
// trajectory together with its extractor. Projecting the first N
// components of the augmented trajectory recovers the plain solution at
// the same tolerances.
func ForwardSensitivity(ctx context.Context, prob ode.Problem, ad autodiff.Provider, opts Options) (*integrate.Trajectory, *Extractor, integrate.Stats, error) {
	aug, err := Augment(prob, ad, opts.Parallel)
	if err != nil {
		return nil, nil, integrate.Stats{}, err
	}

	traj, stats, err := integrate.Solve(ctx, aug, opts.Solver)
	if err != nil {
		return nil, nil, stats, err
	}

	ext := &Extractor{
		n:    prob.Sys.StateDim(),
		m:    prob.Sys.ParamDim(),
		traj: traj,
	}
	return traj, ext, stats, nil
}
