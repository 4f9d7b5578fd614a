// Package calibrate fits ODE parameters to observed data by gradient
// descent over adjoint gradients of a squared-residual cost, with
// optional coarse grid seeding before the descent.
package calibrate

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/odesens/internal/adjoint"
	"github.com/san-kum/odesens/internal/autodiff"
	"github.com/san-kum/odesens/internal/gradient"
	"github.com/san-kum/odesens/internal/integrate"
	"github.com/san-kum/odesens/internal/ode"
)

// Observations is the fitting target: measured states at sample times.
type Observations struct {
	Times []float64
	Data  []ode.State
}

func (o *Observations) validate(prob ode.Problem) error {
	if len(o.Times) == 0 {
		return fmt.Errorf("%w: no observations", ode.ErrConfig)
	}
	if len(o.Times) != len(o.Data) {
		return fmt.Errorf("%w: %d times for %d data points", ode.ErrDimensionMismatch, len(o.Times), len(o.Data))
	}
	n := prob.Sys.StateDim()
	for i, d := range o.Data {
		if len(d) != n {
			return fmt.Errorf("%w: observation %d has %d components, system has %d",
				ode.ErrDimensionMismatch, i, len(d), n)
		}
	}
	return nil
}

// Cost builds the squared-residual discrete cost Σ‖u(t_i)-d_i‖²/2.
func (o *Observations) Cost() *adjoint.DiscreteCost {
	return &adjoint.DiscreteCost{
		Times: o.Times,
		Grad: func(dst ode.State, u ode.State, p ode.Params, t float64, i int) {
			for k := range dst {
				dst[k] = u[k] - o.Data[i][k]
			}
		},
		Loss: func(u ode.State, p ode.Params, t float64, i int) float64 {
			sum := 0.0
			for k := range u {
				d := u[k] - o.Data[i][k]
				sum += d * d
			}
			return sum / 2
		},
	}
}

// GridSeed scans a coarse parameter grid before the descent and starts
// from the cell with the lowest loss.
type GridSeed struct {
	Lo, Hi ode.Params
	Steps  int
}

type Options struct {
	Algorithm  gradient.Algorithm
	Provider   autodiff.Provider
	Solver     integrate.Options
	Checkpoint gradient.CheckpointPolicy

	LearnRate float64 // initial step size; adapted by backtracking
	MaxIters  int
	Tol       float64 // gradient norm stopping threshold

	// FitInitial also adjusts the initial state.
	FitInitial bool

	Seed *GridSeed
}

func (o Options) withDefaults() Options {
	if o.Provider == nil {
		o.Provider = autodiff.NewFiniteDiff(0)
	}
	if o.LearnRate <= 0 {
		o.LearnRate = 0.05
	}
	if o.MaxIters <= 0 {
		o.MaxIters = 200
	}
	if o.Tol <= 0 {
		o.Tol = 1e-6
	}
	if o.Solver.MaxSteps == 0 {
		o.Solver = integrate.DefaultOptions()
	}
	return o
}

// Iteration is one descent step, reported to the progress callback.
type Iteration struct {
	Iter     int
	Params   ode.Params
	U0       ode.State
	Loss     float64
	GradNorm float64
}

type Result struct {
	Params    ode.Params
	U0        ode.State
	Loss      float64
	Iters     int
	Converged bool
	History   []Iteration
}

// Fit runs the calibration. progress may be nil; when set it receives a
// snapshot of every iteration (for the live view). Cancellation is
// checked between iterations.
func Fit(ctx context.Context, prob ode.Problem, obs Observations, opts Options, progress func(Iteration)) (*Result, error) {
	if err := prob.Validate(); err != nil {
		return nil, err
	}
	if err := obs.validate(prob); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	cost := obs.Cost()

	p := prob.P.Clone()
	u0 := prob.U0.Clone()

	if opts.Seed != nil {
		seeded, err := gridSeed(ctx, prob, cost, opts)
		if err != nil {
			return nil, fmt.Errorf("grid seeding: %w", err)
		}
		p = seeded
	}

	res := &Result{}
	lr := opts.LearnRate

	for iter := 0; iter < opts.MaxIters; iter++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		cur := prob.WithParams(p).WithState(u0)
		g, err := gradient.Compute(ctx, gradient.Request{
			Problem:    cur,
			Algorithm:  opts.Algorithm,
			Provider:   opts.Provider,
			Solver:     opts.Solver,
			Discrete:   cost,
			Checkpoint: opts.Checkpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("iteration %d: %w", iter, err)
		}

		gnorm := ode.State(g.DP).Norm()
		if opts.FitInitial {
			gnorm = math.Hypot(gnorm, g.DU0.Norm())
		}

		it := Iteration{Iter: iter, Params: p.Clone(), U0: u0.Clone(), Loss: g.Loss, GradNorm: gnorm}
		res.History = append(res.History, it)
		if progress != nil {
			progress(it)
		}

		res.Params, res.U0, res.Loss, res.Iters = p, u0, g.Loss, iter+1
		if gnorm < opts.Tol {
			res.Converged = true
			return res, nil
		}

		// Backtracking step: halve the rate until the loss decreases.
		accepted := false
		for try := 0; try < 25; try++ {
			pTrial := p.Clone()
			ode.State(pTrial).AXPY(-lr, ode.State(g.DP))
			uTrial := u0
			if opts.FitInitial {
				uTrial = u0.Clone()
				uTrial.AXPY(-lr, g.DU0)
			}

			trialLoss, err := lossAt(ctx, prob.WithParams(pTrial).WithState(uTrial), cost, opts.Solver)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				lr /= 2
				continue
			}
			if trialLoss < g.Loss {
				p, u0 = pTrial, uTrial
				lr *= 1.2
				accepted = true
				break
			}
			lr /= 2
		}
		if !accepted {
			return res, nil
		}
	}

	// Iteration budget exhausted; report the last accepted point.
	res.Params, res.U0 = p, u0
	return res, nil
}

// lossAt evaluates the cost for a candidate problem with one forward
// solve.
func lossAt(ctx context.Context, prob ode.Problem, cost *adjoint.DiscreteCost, solver integrate.Options) (float64, error) {
	solver.Dense = true
	traj, _, err := integrate.Solve(ctx, prob, solver)
	if err != nil {
		return 0, err
	}
	us := make([]ode.State, len(cost.Times))
	for i, ti := range cost.Times {
		us[i], err = traj.At(ti)
		if err != nil {
			return 0, err
		}
	}
	return cost.Eval(us, prob.P)
}

// gridSeed scans the coarse grid and returns the best starting point.
func gridSeed(ctx context.Context, prob ode.Problem, cost *adjoint.DiscreteCost, opts Options) (ode.Params, error) {
	seed := opts.Seed
	m := prob.Sys.ParamDim()
	if len(seed.Lo) != m || len(seed.Hi) != m {
		return nil, fmt.Errorf("%w: seed bounds have %d/%d components, system has %d",
			ode.ErrDimensionMismatch, len(seed.Lo), len(seed.Hi), m)
	}
	steps := seed.Steps
	if steps < 2 {
		steps = 5
	}

	best := math.Inf(1)
	bestP := prob.P.Clone()
	cur := make(ode.Params, m)

	var walk func(depth int) error
	walk = func(depth int) error {
		if depth == m {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			loss, err := lossAt(ctx, prob.WithParams(cur), cost, opts.Solver)
			if err != nil {
				// A diverging cell is not a candidate; keep scanning.
				return nil
			}
			if loss < best {
				best = loss
				bestP = cur.Clone()
			}
			return nil
		}
		for s := 0; s < steps; s++ {
			cur[depth] = seed.Lo[depth] + (seed.Hi[depth]-seed.Lo[depth])*float64(s)/float64(steps-1)
			if err := walk(depth + 1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(0); err != nil {
		return nil, err
	}
	return bestP, nil
}
