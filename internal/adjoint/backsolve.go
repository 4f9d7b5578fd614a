package adjoint

import (
	"context"
	"fmt"
	"sort"

	"github.com/san-kum/odesens/internal/autodiff"
	"github.com/san-kum/odesens/internal/checkpoint"
	"github.com/san-kum/odesens/internal/integrate"
	"github.com/san-kum/odesens/internal/ode"
)

// backsys is the combined backward system w = [u; λ; q] of dimension
// 2N+M: the forward dynamics re-integrated in reverse together with the
// costate, so no stored trajectory is consulted between events.
type backsys struct {
	sys  ode.System
	ad   autodiff.Provider
	cont *ContinuousCost
	n, m int

	jtU ode.State
	jtP ode.Params
	gU  ode.State
	gP  ode.Params
}

func newBacksys(prob ode.Problem, cfg Config) *backsys {
	n, m := prob.Sys.StateDim(), prob.Sys.ParamDim()
	return &backsys{
		sys: prob.Sys, ad: cfg.Provider, cont: cfg.Continuous,
		n: n, m: m,
		jtU: make(ode.State, n), jtP: make(ode.Params, m),
		gU: make(ode.State, n), gP: make(ode.Params, m),
	}
}

func (b *backsys) StateDim() int { return 2*b.n + b.m }
func (b *backsys) ParamDim() int { return b.m }

func (b *backsys) Derive(dst ode.State, w ode.State, p ode.Params, t float64) {
	u := w[:b.n]
	lambda := w[b.n : 2*b.n]

	b.sys.Derive(dst[:b.n], u, p, t)
	b.ad.VJP(b.sys, u, p, t, lambda, b.jtU, b.jtP)
	for i := 0; i < b.n; i++ {
		dst[b.n+i] = -b.jtU[i]
	}
	for j := 0; j < b.m; j++ {
		dst[2*b.n+j] = -b.jtP[j]
	}

	if b.cont != nil {
		b.cont.GradUAt(b.gU, u, p, t)
		for i := 0; i < b.n; i++ {
			dst[b.n+i] -= b.gU[i]
		}
		if b.m > 0 {
			b.cont.GradPAt(b.gP, u, p, t)
			for j := 0; j < b.m; j++ {
				dst[2*b.n+j] -= b.gP[j]
			}
		}
	}
}

// event is a stop point of the backward sweep.
type event struct {
	t      float64
	obs    int // observation index, -1 when none
	ckpt   int // snapshot index, valid only when resync
	resync bool
}

// mergeEvents builds the descending event schedule from observation
// times and, when re-synchronizing, the checkpoint times. Coincident
// times collapse into one event.
func mergeEvents(dc *DiscreteCost, mgr *checkpoint.Manager, resync bool, t0, tf float64) []event {
	var evs []event
	if dc != nil {
		for i, t := range dc.Times {
			evs = append(evs, event{t: t, obs: i})
		}
	}
	if resync && mgr.Checkpointed() {
		for i, t := range mgr.Times() {
			if t <= t0 || t >= tf {
				continue
			}
			evs = append(evs, event{t: t, obs: -1, ckpt: i, resync: true})
		}
	}
	sort.Slice(evs, func(i, j int) bool { return evs[i].t > evs[j].t })

	// Collapse a resync that coincides with an observation into the
	// observation's event; duplicate observations stay separate.
	merged := evs[:0]
	for _, e := range evs {
		if len(merged) > 0 && merged[len(merged)-1].t == e.t {
			last := &merged[len(merged)-1]
			if e.obs < 0 {
				last.resync = true
				last.ckpt = e.ckpt
				continue
			}
			if last.obs < 0 {
				last.obs = e.obs
				continue
			}
		}
		merged = append(merged, e)
	}
	return merged
}

// Backsolve recomputes the forward state by integrating the dynamics
// backward from the terminal state, avoiding any stored trajectory.
// This is only stable when the reversed dynamics are well-posed; with
// cfg.Resync and a checkpointed manager the forward component is reset
// at every checkpoint crossing and the worst relative deviation is
// reported as Result.Drift.
func Backsolve(ctx context.Context, prob ode.Problem, mgr *checkpoint.Manager, cfg Config) (*Result, error) {
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
	bs := newBacksys(prob, cfg)

	uf, err := mgr.At(ctx, prob.TF)
	if err != nil {
		return nil, fmt.Errorf("terminal state: %w", err)
	}

	w := make(ode.State, 2*n+m)
	copy(w[:n], uf)

	opts := cfg.Solver
	opts.Dense = false
	opts.SaveAt = nil

	res := &Result{Drift: -1}

	sweep := func(from, to float64) error {
		if from == to {
			return nil
		}
		seg := ode.Problem{Sys: bs, U0: w, P: prob.P, T0: from, TF: to}
		traj, stats, err := integrate.Solve(ctx, seg, opts)
		res.Stats = res.Stats.Add(stats)
		if err != nil {
			return fmt.Errorf("backsolve over [%g, %g]: %w", to, from, err)
		}
		_, wf := traj.Terminal()
		copy(w, wf)
		return nil
	}

	jump := make(ode.State, n)
	cur := prob.TF
	for _, ev := range mergeEvents(cfg.Discrete, mgr, cfg.Resync, prob.T0, prob.TF) {
		if err := sweep(cur, ev.t); err != nil {
			return nil, err
		}
		cur = ev.t

		if ev.resync {
			// The snapshot is stored verbatim; no interpolation needed.
			_, snap := mgr.StateAt(ev.ckpt)
			d := ode.State(w[:n]).Sub(snap).Norm() / (1 + snap.Norm())
			if d > res.Drift {
				res.Drift = d
			}
			copy(w[:n], snap)
		}
		if ev.obs >= 0 {
			cfg.Discrete.GradAt(jump, w[:n], prob.P, ev.t, ev.obs)
			w[n : 2*n].AXPY(1, jump)
		}
	}
	if err := sweep(cur, prob.T0); err != nil {
		return nil, err
	}

	res.DU0 = w[n : 2*n].Clone()
	res.DP = ode.Params(w[2*n : 2*n+m]).Clone()
	return res, nil
}
