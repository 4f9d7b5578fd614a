package gradient

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/san-kum/odesens/internal/autodiff"
	"github.com/san-kum/odesens/internal/integrate"
	"github.com/san-kum/odesens/internal/ode"
)

// fullSens augments the base system with one sensitivity column per
// parameter and per initial-state component:
//
//	w = [u; Sp_0 .. Sp_{M-1}; S0_0 .. S0_{N-1}], each block of size N,
//
// where dSp_j = (∂f/∂u)Sp_j + (∂f/∂p)e_j with Sp_j(t0) = 0, and
// dS0_k = (∂f/∂u)S0_k with S0_k(t0) = e_k. Contracting the columns with
// the cost gradient yields both DP and DU0 from one forward solve.
type fullSens struct {
	sys      ode.System
	ad       autodiff.Provider
	n, m     int
	parallel bool

	dirs []ode.Params
}

func newFullSens(sys ode.System, ad autodiff.Provider, parallel bool) *fullSens {
	n, m := sys.StateDim(), sys.ParamDim()
	s := &fullSens{sys: sys, ad: ad, n: n, m: m, parallel: parallel}
	s.dirs = make([]ode.Params, m)
	for j := range s.dirs {
		d := make(ode.Params, m)
		d[j] = 1
		s.dirs[j] = d
	}
	return s
}

func (s *fullSens) StateDim() int { return s.n * (1 + s.m + s.n) }
func (s *fullSens) ParamDim() int { return s.m }

func (s *fullSens) Derive(dst ode.State, w ode.State, p ode.Params, t float64) {
	u := w[:s.n]
	s.sys.Derive(dst[:s.n], u, p, t)

	col := func(c int) {
		lo := s.n * (1 + c)
		S := w[lo : lo+s.n]
		var dp ode.Params
		if c < s.m {
			dp = s.dirs[c]
		}
		s.ad.JVP(s.sys, u, p, t, S, dp, dst[lo:lo+s.n])
	}

	cols := s.m + s.n
	if s.parallel && cols > 1 {
		parallelCols(cols, col)
		return
	}
	for c := 0; c < cols; c++ {
		col(c)
	}
}

func parallelCols(cols int, fn func(int)) {
	workers := runtime.GOMAXPROCS(0)
	if workers > cols {
		workers = cols
	}
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(start int) {
			defer wg.Done()
			for c := start; c < cols; c += workers {
				fn(c)
			}
		}(w)
	}
	wg.Wait()
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// forwardGradient solves the fully augmented system once and contracts
// the sensitivity columns with the cost gradient.
func forwardGradient(ctx context.Context, req Request) (*Result, error) {
	prob := req.Problem
	n, m := prob.Sys.StateDim(), prob.Sys.ParamDim()

	fs := newFullSens(prob.Sys, req.Provider, req.Parallel)
	w0 := make(ode.State, fs.StateDim())
	copy(w0[:n], prob.U0)
	for k := 0; k < n; k++ {
		w0[n*(1+m+k)+k] = 1
	}

	opts := req.Solver
	opts.Dense = true
	if dc := req.Discrete; dc != nil {
		opts.SaveAt = dc.Times
	}

	aug := ode.Problem{Sys: fs, U0: w0, P: prob.P, T0: prob.T0, TF: prob.TF}
	traj, stats, err := integrate.Solve(ctx, aug, opts)
	if err != nil {
		return nil, fmt.Errorf("augmented forward solve: %w", err)
	}

	res := &Result{
		Algorithm: ForwardSensitivity,
		Forward:   stats,
		Drift:     -1,
		DU0:       make(ode.State, n),
		DP:        make(ode.Params, m),
	}

	spCol := func(w ode.State, j int) ode.State { return w[n*(1+j) : n*(2+j)] }
	s0Col := func(w ode.State, k int) ode.State { return w[n*(1+m+k) : n*(2+m+k)] }

	if dc := req.Discrete; dc != nil {
		g := make(ode.State, n)
		for i, ti := range dc.Times {
			w, err := traj.At(ti)
			if err != nil {
				return nil, fmt.Errorf("augmented state at observation t=%g: %w", ti, err)
			}
			u := w[:n]
			dc.GradAt(g, u, prob.P, ti, i)
			for j := 0; j < m; j++ {
				res.DP[j] += dot(g, spCol(w, j))
			}
			for k := 0; k < n; k++ {
				res.DU0[k] += dot(g, s0Col(w, k))
			}
			if dc.Loss != nil {
				res.Loss += dc.Loss(u, prob.P, ti, i)
				res.LossKnown = true
			}
		}
		return res, nil
	}

	// Continuous cost: Simpson over the sample grid. The integrand per
	// parameter is ∂g/∂u·Sp_j + ∂g/∂p_j, per initial-state component
	// ∂g/∂u·S0_k, and Fn itself for the loss value.
	cc := req.Continuous
	gU := make(ode.State, n)
	gP := make(ode.Params, m)

	type rates struct {
		dp   ode.Params
		du0  ode.State
		loss float64
	}
	eval := func(w ode.State, t float64, out *rates) {
		u := w[:n]
		cc.GradUAt(gU, u, prob.P, t)
		if m > 0 {
			cc.GradPAt(gP, u, prob.P, t)
		}
		for j := 0; j < m; j++ {
			out.dp[j] = dot(gU, spCol(w, j)) + gP[j]
		}
		for k := 0; k < n; k++ {
			out.du0[k] = dot(gU, s0Col(w, k))
		}
		if cc.Fn != nil {
			out.loss = cc.Fn(u, prob.P, t)
		}
	}

	mk := func() *rates {
		return &rates{dp: make(ode.Params, m), du0: make(ode.State, n)}
	}
	prev, mid, next := mk(), mk(), mk()

	eval(traj.States[0], traj.Times[0], prev)
	for k := 1; k < traj.Len(); k++ {
		t0, t1 := traj.Times[k-1], traj.Times[k]
		tm := 0.5 * (t0 + t1)
		wm, err := traj.At(tm)
		if err != nil {
			return nil, err
		}
		eval(wm, tm, mid)
		eval(traj.States[k], t1, next)

		h := t1 - t0
		for j := 0; j < m; j++ {
			res.DP[j] += h / 6 * (prev.dp[j] + 4*mid.dp[j] + next.dp[j])
		}
		for i := 0; i < n; i++ {
			res.DU0[i] += h / 6 * (prev.du0[i] + 4*mid.du0[i] + next.du0[i])
		}
		res.Loss += h / 6 * (prev.loss + 4*mid.loss + next.loss)

		prev, next = next, prev
	}
	res.LossKnown = cc.Fn != nil
	if !res.LossKnown {
		res.Loss = 0
	}
	return res, nil
}
