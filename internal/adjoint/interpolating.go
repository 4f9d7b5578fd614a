package adjoint

import (
	"context"
	"fmt"

	"github.com/san-kum/odesens/internal/autodiff"
	"github.com/san-kum/odesens/internal/checkpoint"
	"github.com/san-kum/odesens/internal/integrate"
	"github.com/san-kum/odesens/internal/ode"
)

// costate is the backward system z = [λ; q] of dimension N+M:
//
//	dλ/dt = -(∂f/∂u)ᵀλ - ∂g/∂u
//	dq/dt = -(∂f/∂p)ᵀλ - ∂g/∂p
//
// with the ∂g terms present only for a continuous cost. The forward
// state u(t) comes from the checkpoint manager; Derive cannot return
// errors, so a failed lookup is latched in err and the sweep aborts
// after the solve.
type costate struct {
	ctx  context.Context
	sys  ode.System
	ad   autodiff.Provider
	mgr  *checkpoint.Manager
	cont *ContinuousCost
	n, m int

	jtU ode.State
	jtP ode.Params
	gU  ode.State
	gP  ode.Params

	err error
}

func newCostate(ctx context.Context, prob ode.Problem, mgr *checkpoint.Manager, cfg Config) *costate {
	n, m := prob.Sys.StateDim(), prob.Sys.ParamDim()
	return &costate{
		ctx: ctx, sys: prob.Sys, ad: cfg.Provider, mgr: mgr, cont: cfg.Continuous,
		n: n, m: m,
		jtU: make(ode.State, n), jtP: make(ode.Params, m),
		gU: make(ode.State, n), gP: make(ode.Params, m),
	}
}

func (c *costate) StateDim() int { return c.n + c.m }
func (c *costate) ParamDim() int { return c.m }

func (c *costate) Derive(dst ode.State, z ode.State, p ode.Params, t float64) {
	if c.err != nil {
		dst.Zero()
		return
	}
	u, err := c.mgr.At(c.ctx, t)
	if err != nil {
		c.err = err
		dst.Zero()
		return
	}

	lambda := z[:c.n]
	c.ad.VJP(c.sys, u, p, t, lambda, c.jtU, c.jtP)
	for i := 0; i < c.n; i++ {
		dst[i] = -c.jtU[i]
	}
	for j := 0; j < c.m; j++ {
		dst[c.n+j] = -c.jtP[j]
	}

	if c.cont != nil {
		c.cont.GradUAt(c.gU, u, p, t)
		for i := 0; i < c.n; i++ {
			dst[i] -= c.gU[i]
		}
		if c.m > 0 {
			c.cont.GradPAt(c.gP, u, p, t)
			for j := 0; j < c.m; j++ {
				dst[c.n+j] -= c.gP[j]
			}
		}
	}
}

// Interpolating runs the adjoint sweep against forward states served by
// mgr. z starts at zero at TF; discrete observation times are visited in
// descending order with a λ jump of ∂g/∂u at each, and z(T0) carries the
// gradient: DU0 = λ(T0), DP = q(T0).
func Interpolating(ctx context.Context, prob ode.Problem, mgr *checkpoint.Manager, cfg Config) (*Result, error) {
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
	cs := newCostate(ctx, prob, mgr, cfg)

	opts := cfg.Solver
	opts.Dense = false
	opts.SaveAt = nil

	z := make(ode.State, n+m)
	res := &Result{Drift: -1}

	sweep := func(from, to float64) error {
		if from == to {
			return nil
		}
		seg := ode.Problem{Sys: cs, U0: z, P: prob.P, T0: from, TF: to}
		traj, stats, err := integrate.Solve(ctx, seg, opts)
		res.Stats = res.Stats.Add(stats)
		if cs.err != nil {
			return fmt.Errorf("reconstructing forward state: %w", cs.err)
		}
		if err != nil {
			return fmt.Errorf("costate solve over [%g, %g]: %w", to, from, err)
		}
		_, zf := traj.Terminal()
		copy(z, zf)
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
			z[:n].AXPY(1, jump)
		}
	}
	if err := sweep(cur, prob.T0); err != nil {
		return nil, err
	}

	res.DU0 = z[:n].Clone()
	res.DP = ode.Params(z[n : n+m]).Clone()
	return res, nil
}
