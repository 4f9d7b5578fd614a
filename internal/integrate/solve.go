// Package integrate provides the ODE time steppers and the Trajectory
// type consumed by the sensitivity packages. Spans may run forward or
// backward in time; TF < T0 integrates with negative steps.
package integrate

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/odesens/internal/ode"
)

// Solve integrates prob over its span and returns the trajectory.
// Cancellation is cooperative and checked between steps only.
func Solve(ctx context.Context, prob ode.Problem, opts Options) (*Trajectory, Stats, error) {
	var stats Stats

	if err := prob.Validate(); err != nil {
		return nil, stats, err
	}
	if err := opts.validate(); err != nil {
		return nil, stats, err
	}

	dir := 1.0
	if prob.TF < prob.T0 {
		dir = -1.0
	}

	targets, err := saveTargets(prob, opts.SaveAt, dir)
	if err != nil {
		return nil, stats, err
	}

	switch opts.Method {
	case RK4:
		return solveRK4(ctx, prob, opts, dir, targets, &stats)
	default:
		return solveDopri(ctx, prob, opts, dir, targets, &stats)
	}
}

// saveTargets validates SaveAt times and orders them along the
// integration direction.
func saveTargets(prob ode.Problem, saveAt []float64, dir float64) ([]float64, error) {
	if len(saveAt) == 0 {
		return nil, nil
	}
	lo, hi := prob.T0, prob.TF
	if lo > hi {
		lo, hi = hi, lo
	}
	targets := make([]float64, 0, len(saveAt))
	for _, t := range saveAt {
		if t < lo || t > hi {
			return nil, fmt.Errorf("%w: save time %g outside span [%g, %g]", ode.ErrConfig, t, lo, hi)
		}
		targets = append(targets, t)
	}
	sort.Float64s(targets)
	if dir < 0 {
		for i, j := 0, len(targets)-1; i < j; i, j = i+1, j-1 {
			targets[i], targets[j] = targets[j], targets[i]
		}
	}
	return targets, nil
}

func solveDopri(ctx context.Context, prob ode.Problem, opts Options, dir float64, targets []float64, stats *Stats) (*Trajectory, Stats, error) {
	n := prob.Sys.StateDim()
	span := math.Abs(prob.Span())

	maxDt := span
	if opts.MaxDt > 0 && opts.MaxDt < maxDt {
		maxDt = opts.MaxDt
	}
	dt := opts.InitDt
	if dt <= 0 {
		dt = span / 100
	}
	dt = math.Min(dt, maxDt)

	st := newDopriStepper(prob.Sys, prob.P)
	x := prob.U0.Clone()
	xNew := make(ode.State, n)
	t := prob.T0

	st.sys.Derive(st.k1, x, st.p, t)
	stats.Evals++

	traj := &Trajectory{dense: opts.Dense}
	traj.append(t, x, st.k1)

	nextTarget := 0
	for step := 0; ; step++ {
		if dir*(t-prob.TF) >= 0 {
			break
		}
		if step >= opts.MaxSteps {
			return nil, *stats, &ode.StepError{Time: t, Step: step,
				Wrapped: fmt.Errorf("%w: exceeded %d steps", ode.ErrConfig, opts.MaxSteps)}
		}

		select {
		case <-ctx.Done():
			return nil, *stats, ctx.Err()
		default:
		}

		// Clamp the trial step to the next forced time, then the span end.
		dtTry := dir * dt
		clamped := false
		if nextTarget < len(targets) && dir*(t+dtTry-targets[nextTarget]) > 0 {
			dtTry = targets[nextTarget] - t
			clamped = true
		}
		if dir*(t+dtTry-prob.TF) > 0 {
			dtTry = prob.TF - t
			clamped = true
		}

		errRatio, evals := st.step(x, xNew, t, dtTry, opts.AbsTol, opts.RelTol)
		stats.Evals += evals

		if errRatio > 1 {
			stats.Rejected++
			dt = math.Abs(nextDt(dtTry, errRatio))
			if dt < opts.MinDt {
				return nil, *stats, &ode.StepError{Time: t, Step: step, Wrapped: ode.ErrStepTooSmall}
			}
			continue
		}

		if !xNew.IsValid() {
			return nil, *stats, &ode.StepError{Time: t, Step: step, Wrapped: ode.ErrDiverged}
		}

		t += dtTry
		if nextTarget < len(targets) && math.Abs(t-targets[nextTarget]) < 1e-12*math.Max(1, math.Abs(t)) {
			t = targets[nextTarget]
			nextTarget++
		}
		if math.Abs(t-prob.TF) < 1e-12*math.Max(1, math.Abs(prob.TF)) {
			t = prob.TF
		}
		x, xNew = xNew, x
		copy(st.k1, st.k7) // FSAL
		stats.Steps++

		traj.append(t, x, st.k1)

		if !clamped {
			dt = math.Min(math.Abs(nextDt(dtTry, errRatio)), maxDt)
			if dt < opts.MinDt {
				return nil, *stats, &ode.StepError{Time: t, Step: step, Wrapped: ode.ErrStepTooSmall}
			}
		}
	}

	return traj, *stats, nil
}

func solveRK4(ctx context.Context, prob ode.Problem, opts Options, dir float64, targets []float64, stats *Stats) (*Trajectory, Stats, error) {
	n := prob.Sys.StateDim()

	st := newRK4Stepper(prob.Sys, prob.P)
	x := prob.U0.Clone()
	xNew := make(ode.State, n)
	df := make(ode.State, n)
	t := prob.T0

	st.sys.Derive(df, x, st.p, t)
	stats.Evals++

	traj := &Trajectory{dense: opts.Dense}
	traj.append(t, x, df)

	nextTarget := 0
	for step := 0; dir*(t-prob.TF) < 0; step++ {
		if step >= opts.MaxSteps {
			return nil, *stats, &ode.StepError{Time: t, Step: step,
				Wrapped: fmt.Errorf("%w: exceeded %d steps", ode.ErrConfig, opts.MaxSteps)}
		}

		select {
		case <-ctx.Done():
			return nil, *stats, ctx.Err()
		default:
		}

		dtTry := dir * opts.InitDt
		if nextTarget < len(targets) && dir*(t+dtTry-targets[nextTarget]) > 0 {
			dtTry = targets[nextTarget] - t
		}
		if dir*(t+dtTry-prob.TF) > 0 {
			dtTry = prob.TF - t
		}

		stats.Evals += st.step(x, xNew, df, t, dtTry)

		if !xNew.IsValid() {
			return nil, *stats, &ode.StepError{Time: t, Step: step, Wrapped: ode.ErrDiverged}
		}

		t += dtTry
		if nextTarget < len(targets) && math.Abs(t-targets[nextTarget]) < 1e-12*math.Max(1, math.Abs(t)) {
			t = targets[nextTarget]
			nextTarget++
		}
		if math.Abs(t-prob.TF) < 1e-12*math.Max(1, math.Abs(prob.TF)) {
			t = prob.TF
		}
		x, xNew = xNew, x
		stats.Steps++

		traj.append(t, x, df)
	}

	return traj, *stats, nil
}
