// Package checkpoint answers "what was the forward state at time t?"
// during a backward adjoint sweep. Dense mode interpolates a retained
// trajectory; checkpointed mode keeps only snapshot states and
// re-integrates one bracket at a time, trading compute for memory.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/san-kum/odesens/internal/integrate"
	"github.com/san-kum/odesens/internal/ode"
)

type Manager struct {
	// dense mode
	traj *integrate.Trajectory

	// checkpointed mode
	prob   ode.Problem
	opts   integrate.Options
	times  []float64
	states []ode.State

	// single-bracket segment cache, replaced as the sweep moves
	seg    *integrate.Trajectory
	segIdx int

	stats integrate.Stats
}

// NewDense wraps a dense forward trajectory.
func NewDense(traj *integrate.Trajectory) (*Manager, error) {
	if !traj.Dense() {
		return nil, fmt.Errorf("%w: dense checkpoint manager requires a dense trajectory", ode.ErrConfig)
	}
	return &Manager{traj: traj, segIdx: -1}, nil
}

// NewCheckpointed retains only snapshot states. With no explicit times
// the trajectory's own sample times are used. Custom times must be
// sorted ascending and lie within the span; the span endpoints are
// always included so every query is bracketed.
func NewCheckpointed(prob ode.Problem, traj *integrate.Trajectory, times []float64, opts integrate.Options) (*Manager, error) {
	if err := prob.Validate(); err != nil {
		return nil, err
	}

	// Bracket re-solves need dense output over their own sub-span;
	// caller save targets would fall outside it.
	m := &Manager{prob: prob, opts: opts, segIdx: -1}
	m.opts.Dense = true
	m.opts.SaveAt = nil

	if len(times) == 0 {
		m.times = append([]float64(nil), traj.Times...)
		m.states = make([]ode.State, len(traj.States))
		for i, s := range traj.States {
			m.states[i] = s.Clone()
		}
		return m, nil
	}

	if !sort.Float64sAreSorted(times) {
		return nil, fmt.Errorf("%w: checkpoint times must be sorted ascending", ode.ErrConfig)
	}
	for _, t := range times {
		if t < prob.T0 || t > prob.TF {
			return nil, fmt.Errorf("%w: checkpoint time %g outside span [%g, %g]",
				ode.ErrConfig, t, prob.T0, prob.TF)
		}
	}

	full := make([]float64, 0, len(times)+2)
	if times[0] != prob.T0 {
		full = append(full, prob.T0)
	}
	full = append(full, times...)
	if full[len(full)-1] != prob.TF {
		full = append(full, prob.TF)
	}

	m.times = full
	m.states = make([]ode.State, len(full))
	for i, t := range full {
		u, err := traj.At(t)
		if err != nil {
			return nil, fmt.Errorf("seeding checkpoint at t=%g: %w", t, err)
		}
		m.states[i] = u
	}
	return m, nil
}

// Checkpointed reports whether the manager runs in re-integration mode.
func (m *Manager) Checkpointed() bool { return m.traj == nil }

// Times returns the checkpoint times (checkpointed mode).
func (m *Manager) Times() []float64 { return m.times }

// StateAt returns the stored snapshot index i (checkpointed mode).
func (m *Manager) StateAt(i int) (float64, ode.State) {
	return m.times[i], m.states[i]
}

// Stats reports re-integration work performed so far.
func (m *Manager) Stats() integrate.Stats { return m.stats }

// At reconstructs the forward state at time t.
func (m *Manager) At(ctx context.Context, t float64) (ode.State, error) {
	if m.traj != nil {
		return m.traj.At(t)
	}

	n := len(m.times)
	if t < m.times[0]-1e-10 || t > m.times[n-1]+1e-10 {
		return nil, fmt.Errorf("%w: query time %g outside checkpoint span [%g, %g]",
			ode.ErrConfig, t, m.times[0], m.times[n-1])
	}

	i := sort.SearchFloat64s(m.times, t)
	if i < n && m.times[i] == t {
		return m.states[i].Clone(), nil
	}
	i--
	if i < 0 {
		i = 0
	}
	if i > n-2 {
		i = n - 2
	}

	if m.seg == nil || m.segIdx != i {
		if err := m.integrateBracket(ctx, i); err != nil {
			return nil, err
		}
	}
	return m.seg.At(t)
}

// integrateBracket re-solves the forward problem over bracket i with a
// dense local interpolant, replacing any previously cached segment.
func (m *Manager) integrateBracket(ctx context.Context, i int) error {
	lo, hi := m.times[i], m.times[i+1]

	local := m.prob.WithState(m.states[i]).WithSpan(lo, hi)
	seg, stats, err := integrate.Solve(ctx, local, m.opts)
	m.stats = m.stats.Add(stats)
	if err != nil {
		var se *ode.StepError
		if errors.As(err, &se) {
			se.Bracket = [2]float64{lo, hi}
			return err
		}
		return fmt.Errorf("re-integrating bracket [%g, %g]: %w", lo, hi, err)
	}

	m.seg = seg
	m.segIdx = i
	return nil
}
