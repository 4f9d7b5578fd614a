// Package gradient is the orchestration layer over the sensitivity
// machinery: it validates a gradient request, runs the forward solve,
// builds the checkpoint view, dispatches to the selected algorithm and
// assembles the (dG/du0, dG/dp) pair together with the cost value.
package gradient

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/odesens/internal/adjoint"
	"github.com/san-kum/odesens/internal/autodiff"
	"github.com/san-kum/odesens/internal/checkpoint"
	"github.com/san-kum/odesens/internal/integrate"
	"github.com/san-kum/odesens/internal/ode"
)

// Algorithm selects the gradient strategy. Selection is a configuration
// value; every algorithm computes the same mathematical object.
type Algorithm int

const (
	// ForwardSensitivity propagates ∂u/∂p and ∂u/∂u0 columns alongside
	// the solution and contracts them with the cost gradient. O(N·(N+M))
	// state, no backward sweep.
	ForwardSensitivity Algorithm = iota

	// InterpolatingAdjoint runs the backward costate sweep against the
	// stored (or checkpointed) forward trajectory. The robust default.
	InterpolatingAdjoint

	// BacksolveAdjoint re-integrates the forward equation backward
	// together with the costate. Lowest memory, unstable on dynamics
	// whose time reversal is ill-posed.
	BacksolveAdjoint

	// QuadratureAdjoint solves the costate alone and recovers the
	// parameter gradient by quadrature afterwards.
	QuadratureAdjoint
)

func (a Algorithm) String() string {
	switch a {
	case ForwardSensitivity:
		return "forward_sensitivity"
	case InterpolatingAdjoint:
		return "interpolating_adjoint"
	case BacksolveAdjoint:
		return "backsolve_adjoint"
	case QuadratureAdjoint:
		return "quadrature_adjoint"
	}
	return fmt.Sprintf("algorithm(%d)", int(a))
}

// ParseAlgorithm maps a configuration name to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "forward", "forward_sensitivity":
		return ForwardSensitivity, nil
	case "interpolating", "interpolating_adjoint", "":
		return InterpolatingAdjoint, nil
	case "backsolve", "backsolve_adjoint":
		return BacksolveAdjoint, nil
	case "quadrature", "quadrature_adjoint":
		return QuadratureAdjoint, nil
	}
	return 0, fmt.Errorf("%w: unknown gradient algorithm %q", ode.ErrConfig, s)
}

// CheckpointPolicy selects how the backward sweep reconstructs forward
// states. Disabled means the dense trajectory is retained and
// interpolated; enabled with no Times defaults to the trajectory's own
// sample times.
type CheckpointPolicy struct {
	Enabled bool
	Times   []float64
}

// backsolveExponentLimit is the divergence rate above which the
// reversed dynamics are flagged as unstable for BacksolveAdjoint.
const backsolveExponentLimit = 0.05

type Request struct {
	Problem   ode.Problem
	Algorithm Algorithm
	Provider  autodiff.Provider

	Solver     integrate.Options
	QuadAbsTol float64
	QuadRelTol float64

	// Exactly one of Discrete or Continuous must be set.
	Discrete   *adjoint.DiscreteCost
	Continuous *adjoint.ContinuousCost

	Checkpoint CheckpointPolicy

	// Resync re-anchors BacksolveAdjoint at checkpoint crossings.
	Resync bool

	// Parallel evaluates forward sensitivity columns concurrently; the
	// system's Derive must be reentrant.
	Parallel bool

	// Strict upgrades stability warnings to hard errors.
	Strict bool
}

func (req *Request) adjointConfig() adjoint.Config {
	return adjoint.Config{
		Provider:   req.Provider,
		Solver:     req.Solver,
		QuadAbsTol: req.QuadAbsTol,
		QuadRelTol: req.QuadRelTol,
		Discrete:   req.Discrete,
		Continuous: req.Continuous,
		Resync:     req.Resync,
	}
}

func (req *Request) validate() error {
	if err := req.Problem.Validate(); err != nil {
		return err
	}
	if req.Algorithm < ForwardSensitivity || req.Algorithm > QuadratureAdjoint {
		return fmt.Errorf("%w: %s", ode.ErrConfig, req.Algorithm)
	}
	cfg := req.adjointConfig()
	return cfg.Validate(req.Problem)
}

// Result carries the assembled gradient. Loss is the cost value when
// the request included an evaluable loss (LossKnown reports that).
type Result struct {
	Algorithm Algorithm

	DU0 ode.State
	DP  ode.Params

	Loss      float64
	LossKnown bool

	Forward  integrate.Stats
	Backward integrate.Stats

	// Drift and Unstable describe BacksolveAdjoint health: Drift is the
	// measured checkpoint deviation (negative when unmeasured) and
	// Unstable flags a positive divergence exponent of the reversed
	// dynamics.
	Drift    float64
	Unstable bool
	Exponent float64

	// Warnings are human-readable health notes, one per condition.
	Warnings []string
}

// Compute runs the forward solve and then the selected gradient
// strategy. The forward trajectory is dense so it can seed checkpoints
// and evaluate the loss.
func Compute(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	if req.Algorithm == ForwardSensitivity {
		return forwardGradient(ctx, req)
	}

	fopts := req.Solver
	fopts.Dense = true
	traj, fstats, err := integrate.Solve(ctx, req.Problem, fopts)
	if err != nil {
		return nil, fmt.Errorf("forward solve: %w", err)
	}
	return computeAdjoint(ctx, req, traj, fstats)
}

// ComputeWith runs an adjoint strategy against an existing forward
// trajectory. A disabled checkpoint policy requires a dense trajectory.
func ComputeWith(ctx context.Context, req Request, traj *integrate.Trajectory) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.Algorithm == ForwardSensitivity {
		return nil, fmt.Errorf("%w: forward sensitivity re-solves; use Compute", ode.ErrUnsupported)
	}
	return computeAdjoint(ctx, req, traj, integrate.Stats{})
}

func computeAdjoint(ctx context.Context, req Request, traj *integrate.Trajectory, fstats integrate.Stats) (*Result, error) {
	var (
		mgr *checkpoint.Manager
		err error
	)
	if req.Checkpoint.Enabled {
		mgr, err = checkpoint.NewCheckpointed(req.Problem, traj, req.Checkpoint.Times, req.Solver)
	} else {
		mgr, err = checkpoint.NewDense(traj)
	}
	if err != nil {
		return nil, err
	}

	res := &Result{Algorithm: req.Algorithm, Forward: fstats, Drift: -1}

	if req.Algorithm == BacksolveAdjoint {
		_, uf := traj.Terminal()
		span := math.Abs(req.Problem.Span())
		res.Exponent = adjoint.BacksolveExponent(req.Problem, uf, span/256, 1e-8)
		if res.Exponent > backsolveExponentLimit {
			if req.Strict {
				return nil, fmt.Errorf("%w: reversed dynamics diverge (exponent %.3g); use an interpolating adjoint",
					ode.ErrUnsupported, res.Exponent)
			}
			res.Unstable = true
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("reversed dynamics diverge (exponent %.3g); gradient may be inaccurate", res.Exponent))
		}
	}

	cfg := req.adjointConfig()
	var ar *adjoint.Result
	switch req.Algorithm {
	case InterpolatingAdjoint:
		ar, err = adjoint.Interpolating(ctx, req.Problem, mgr, cfg)
	case BacksolveAdjoint:
		ar, err = adjoint.Backsolve(ctx, req.Problem, mgr, cfg)
	case QuadratureAdjoint:
		ar, err = adjoint.Quadrature(ctx, req.Problem, mgr, cfg)
	default:
		err = fmt.Errorf("%w: %s", ode.ErrConfig, req.Algorithm)
	}
	if err != nil {
		return nil, err
	}

	res.DU0 = ar.DU0
	res.DP = ar.DP
	res.Backward = ar.Stats.Add(mgr.Stats())
	if ar.Drift > res.Drift {
		res.Drift = ar.Drift
	}

	if traj.Dense() {
		if loss, ok, err := evalLoss(req, traj); err == nil && ok {
			res.Loss, res.LossKnown = loss, true
		} else if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// evalLoss computes the cost value from the dense forward trajectory
// when the request carries an evaluable loss.
func evalLoss(req Request, traj *integrate.Trajectory) (float64, bool, error) {
	if dc := req.Discrete; dc != nil && dc.Loss != nil {
		us := make([]ode.State, len(dc.Times))
		for i, ti := range dc.Times {
			u, err := traj.At(ti)
			if err != nil {
				return 0, false, fmt.Errorf("loss at t=%g: %w", ti, err)
			}
			us[i] = u
		}
		v, err := dc.Eval(us, req.Problem.P)
		return v, err == nil, err
	}
	if cc := req.Continuous; cc != nil && cc.Fn != nil {
		v, err := simpsonOverTrajectory(traj, func(u ode.State, t float64) float64 {
			return cc.Fn(u, req.Problem.P, t)
		})
		return v, err == nil, err
	}
	return 0, false, nil
}

// simpsonOverTrajectory integrates a scalar of the solution over the
// sample grid, with mid-interval states from the dense interpolant.
func simpsonOverTrajectory(traj *integrate.Trajectory, f func(u ode.State, t float64) float64) (float64, error) {
	total := 0.0
	for k := 1; k < traj.Len(); k++ {
		t0, t1 := traj.Times[k-1], traj.Times[k]
		tm := 0.5 * (t0 + t1)
		um, err := traj.At(tm)
		if err != nil {
			return 0, err
		}
		h := t1 - t0
		total += h / 6 * (f(traj.States[k-1], t0) + 4*f(um, tm) + f(traj.States[k], t1))
	}
	return total, nil
}
