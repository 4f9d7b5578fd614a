package adjoint

import (
	"context"
	"fmt"

	"github.com/san-kum/odesens/internal/autodiff"
	"github.com/san-kum/odesens/internal/checkpoint"
	"github.com/san-kum/odesens/internal/integrate"
	"github.com/san-kum/odesens/internal/ode"
)

// lamSys is the costate alone, dλ/dt = -(∂f/∂u)ᵀλ - ∂g/∂u, dimension N.
// The parameter pullback is skipped entirely during the solve; it is
// recovered afterwards by quadrature.
type lamSys struct {
	ctx  context.Context
	sys  ode.System
	ad   autodiff.Provider
	mgr  *checkpoint.Manager
	cont *ContinuousCost
	n    int

	jtU ode.State
	gU  ode.State

	err error
}

func (l *lamSys) StateDim() int { return l.n }
func (l *lamSys) ParamDim() int { return l.sys.ParamDim() }

func (l *lamSys) Derive(dst ode.State, lambda ode.State, p ode.Params, t float64) {
	if l.err != nil {
		dst.Zero()
		return
	}
	u, err := l.mgr.At(l.ctx, t)
	if err != nil {
		l.err = err
		dst.Zero()
		return
	}

	l.ad.VJP(l.sys, u, p, t, lambda, l.jtU, nil)
	for i := 0; i < l.n; i++ {
		dst[i] = -l.jtU[i]
	}
	if l.cont != nil {
		l.cont.GradUAt(l.gU, u, p, t)
		for i := 0; i < l.n; i++ {
			dst[i] -= l.gU[i]
		}
	}
}

// Quadrature solves the costate without the q component and recovers
// the parameter gradient afterwards,
//
//	DP = ∫_{T0}^{TF} (∂f/∂p)ᵀλ + ∂g/∂p dt,
//
// by composite Simpson over the accepted backward step grid, with
// mid-interval costate values taken from the dense interpolant. The
// quadrature tolerances tighten the costate solve, which controls both
// the grid density and the interpolant accuracy.
func Quadrature(ctx context.Context, prob ode.Problem, mgr *checkpoint.Manager, cfg Config) (*Result, error) {
	if err := prob.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(prob); err != nil {
		return nil, err
	}
	if mgr == nil {
		return nil, fmt.Errorf("%w: nil checkpoint manager", ode.ErrConfig)
	}

	n, m := prob.Sys.StateDim(), prob.Sys.ParamDim()
	ls := &lamSys{
		ctx: ctx, sys: prob.Sys, ad: cfg.Provider, mgr: mgr, cont: cfg.Continuous,
		n: n, jtU: make(ode.State, n), gU: make(ode.State, n),
	}

	opts := cfg.Solver
	opts.Dense = true
	opts.SaveAt = nil
	if cfg.QuadAbsTol > 0 {
		opts.AbsTol = cfg.QuadAbsTol
	}
	if cfg.QuadRelTol > 0 {
		opts.RelTol = cfg.QuadRelTol
	}

	lambda := make(ode.State, n)
	res := &Result{Drift: -1, DP: make(ode.Params, m)}

	scratchU := make(ode.State, n)
	phi := make(ode.Params, m)
	gP := make(ode.Params, m)

	// integrand evaluates φ(t) = (∂f/∂p)ᵀλ + ∂g/∂p into dst.
	integrand := func(dst ode.Params, lam ode.State, t float64) error {
		u, err := mgr.At(ctx, t)
		if err != nil {
			return err
		}
		cfg.Provider.VJP(prob.Sys, u, prob.P, t, lam, scratchU, dst)
		if cfg.Continuous != nil {
			cfg.Continuous.GradPAt(gP, u, prob.P, t)
			for j := range dst {
				dst[j] += gP[j]
			}
		}
		return nil
	}

	// accumulate adds the Simpson contribution of one backward segment
	// to DP, walking the descending sample grid with interpolated
	// mid-interval costates.
	mid := make(ode.Params, m)
	accumulate := func(traj *integrate.Trajectory) error {
		if m == 0 {
			return nil
		}
		prev := make(ode.Params, m)
		tPrev := traj.Times[0]
		if err := integrand(prev, traj.States[0], tPrev); err != nil {
			return err
		}
		for k := 1; k < traj.Len(); k++ {
			tk := traj.Times[k]
			tm := 0.5 * (tPrev + tk)
			lm, err := traj.At(tm)
			if err != nil {
				return err
			}
			if err := integrand(mid, lm, tm); err != nil {
				return err
			}
			if err := integrand(phi, traj.States[k], tk); err != nil {
				return err
			}
			h := tPrev - tk
			for j := 0; j < m; j++ {
				res.DP[j] += h / 6 * (prev[j] + 4*mid[j] + phi[j])
			}
			copy(prev, phi)
			tPrev = tk
		}
		return nil
	}

	sweep := func(from, to float64) error {
		if from == to {
			return nil
		}
		seg := ode.Problem{Sys: ls, U0: lambda, P: prob.P, T0: from, TF: to}
		traj, stats, err := integrate.Solve(ctx, seg, opts)
		res.Stats = res.Stats.Add(stats)
		if ls.err != nil {
			return fmt.Errorf("reconstructing forward state: %w", ls.err)
		}
		if err != nil {
			return fmt.Errorf("costate solve over [%g, %g]: %w", to, from, err)
		}
		if err := accumulate(traj); err != nil {
			return err
		}
		_, lf := traj.Terminal()
		copy(lambda, lf)
		return nil
	}

	cur := prob.TF
	if dc := cfg.Discrete; dc != nil {
		jump := make(ode.State, n)
		for i := len(dc.Times) - 1; i >= 0; i-- {
			ti := dc.Times[i]
			if err := sweep(cur, ti); err != nil {
				return nil, err
			}
			cur = ti

			u, err := mgr.At(ctx, ti)
			if err != nil {
				return nil, fmt.Errorf("forward state at observation t=%g: %w", ti, err)
			}
			dc.GradAt(jump, u, prob.P, ti, i)
			lambda.AXPY(1, jump)
		}
	}
	if err := sweep(cur, prob.T0); err != nil {
		return nil, err
	}

	res.DU0 = lambda.Clone()
	return res, nil
}
