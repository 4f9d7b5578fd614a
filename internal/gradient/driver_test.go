package gradient_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/odesens/internal/adjoint"
	"github.com/san-kum/odesens/internal/autodiff"
	"github.com/san-kum/odesens/internal/gradient"
	"github.com/san-kum/odesens/internal/integrate"
	"github.com/san-kum/odesens/internal/ode"
)

type lv struct{}

func (lv) Derive(dst ode.State, u ode.State, p ode.Params, t float64) {
	a, b, c := p[0], p[1], p[2]
	dst[0] = a*u[0] - b*u[0]*u[1]
	dst[1] = -c*u[1] + u[0]*u[1]
}
func (lv) StateDim() int { return 2 }
func (lv) ParamDim() int { return 3 }

func (lv) JacU(dst []ode.State, u ode.State, p ode.Params, t float64) {
	a, b, c := p[0], p[1], p[2]
	dst[0][0], dst[0][1] = a-b*u[1], -b*u[0]
	dst[1][0], dst[1][1] = u[1], -c+u[0]
}
func (lv) JacP(dst []ode.State, u ode.State, p ode.Params, t float64) {
	dst[0][0], dst[0][1] = u[0], 0
	dst[1][0], dst[1][1] = -u[0]*u[1], 0
	dst[2][0], dst[2][1] = 0, -u[1]
}

type decay struct{}

func (decay) Derive(dst ode.State, u ode.State, p ode.Params, t float64) {
	dst[0] = -p[0] * u[0]
}
func (decay) StateDim() int { return 1 }
func (decay) ParamDim() int { return 1 }

func (decay) JacU(dst []ode.State, u ode.State, p ode.Params, t float64) {
	dst[0][0] = -p[0]
}
func (decay) JacP(dst []ode.State, u ode.State, p ode.Params, t float64) {
	dst[0][0] = -u[0]
}

func lvRequest(alg gradient.Algorithm) gradient.Request {
	solver := integrate.DefaultOptions()
	solver.AbsTol, solver.RelTol = 1e-10, 1e-10

	data := []ode.State{{1.2, 0.8}, {0.9, 1.1}, {1.4, 0.6}}
	return gradient.Request{
		Problem:   ode.Problem{Sys: lv{}, U0: ode.State{1, 1}, P: ode.Params{1.5, 1.0, 3.0}, T0: 0, TF: 3},
		Algorithm: alg,
		Provider:  autodiff.Exact{},
		Solver:    solver,
		Discrete: &adjoint.DiscreteCost{
			Times: []float64{0.8, 1.7, 2.6},
			Grad: func(dst ode.State, u ode.State, p ode.Params, t float64, i int) {
				for k := range dst {
					dst[k] = u[k] - data[i][k]
				}
			},
			Loss: func(u ode.State, p ode.Params, t float64, i int) float64 {
				sum := 0.0
				for k := range u {
					d := u[k] - data[i][k]
					sum += d * d
				}
				return sum / 2
			},
		},
	}
}

func TestParseAlgorithm(t *testing.T) {
	for _, alg := range []gradient.Algorithm{
		gradient.ForwardSensitivity, gradient.InterpolatingAdjoint,
		gradient.BacksolveAdjoint, gradient.QuadratureAdjoint,
	} {
		got, err := gradient.ParseAlgorithm(alg.String())
		require.NoError(t, err)
		assert.Equal(t, alg, got)
	}

	def, err := gradient.ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, gradient.InterpolatingAdjoint, def)

	_, err = gradient.ParseAlgorithm("magic")
	assert.ErrorIs(t, err, ode.ErrConfig)
}

func TestRequestValidation(t *testing.T) {
	req := lvRequest(gradient.InterpolatingAdjoint)
	req.Provider = nil
	_, err := gradient.Compute(context.Background(), req)
	assert.ErrorIs(t, err, ode.ErrConfig)

	req = lvRequest(gradient.InterpolatingAdjoint)
	req.Continuous = &adjoint.ContinuousCost{
		Fn: func(u ode.State, p ode.Params, t float64) float64 { return 0 },
	}
	_, err = gradient.Compute(context.Background(), req)
	assert.ErrorIs(t, err, ode.ErrConfig)

	req = lvRequest(gradient.InterpolatingAdjoint)
	req.Discrete = nil
	_, err = gradient.Compute(context.Background(), req)
	assert.ErrorIs(t, err, ode.ErrConfig)
}

func TestAlgorithmsAgree(t *testing.T) {
	base, err := gradient.Compute(context.Background(), lvRequest(gradient.InterpolatingAdjoint))
	require.NoError(t, err)
	require.True(t, base.LossKnown)

	for _, alg := range []gradient.Algorithm{
		gradient.ForwardSensitivity, gradient.BacksolveAdjoint, gradient.QuadratureAdjoint,
	} {
		res, err := gradient.Compute(context.Background(), lvRequest(alg))
		require.NoError(t, err, alg.String())
		require.True(t, res.LossKnown, alg.String())
		assert.InDelta(t, base.Loss, res.Loss, 1e-8, alg.String())

		for j := range base.DP {
			assert.InDelta(t, base.DP[j], res.DP[j], 1e-5*(1+math.Abs(base.DP[j])), "%s DP[%d]", alg, j)
		}
		for k := range base.DU0 {
			assert.InDelta(t, base.DU0[k], res.DU0[k], 1e-5*(1+math.Abs(base.DU0[k])), "%s DU0[%d]", alg, k)
		}
	}
}

func TestCheckpointPolicyEquivalence(t *testing.T) {
	dense, err := gradient.Compute(context.Background(), lvRequest(gradient.InterpolatingAdjoint))
	require.NoError(t, err)

	req := lvRequest(gradient.InterpolatingAdjoint)
	req.Checkpoint = gradient.CheckpointPolicy{Enabled: true, Times: []float64{0, 1, 2, 3}}
	cp, err := gradient.Compute(context.Background(), req)
	require.NoError(t, err)

	for j := range dense.DP {
		assert.InDelta(t, dense.DP[j], cp.DP[j], 1e-6*(1+math.Abs(dense.DP[j])))
	}
	for k := range dense.DU0 {
		assert.InDelta(t, dense.DU0[k], cp.DU0[k], 1e-6*(1+math.Abs(dense.DU0[k])))
	}

	auto := lvRequest(gradient.InterpolatingAdjoint)
	auto.Checkpoint = gradient.CheckpointPolicy{Enabled: true}
	_, err = gradient.Compute(context.Background(), auto)
	assert.NoError(t, err, "empty checkpoint set should default to trajectory samples")
}

func TestBacksolveStabilityFlag(t *testing.T) {
	solver := integrate.DefaultOptions()
	solver.AbsTol, solver.RelTol = 1e-10, 1e-10

	req := gradient.Request{
		Problem:   ode.Problem{Sys: decay{}, U0: ode.State{2}, P: ode.Params{0.7}, T0: 0, TF: 3},
		Algorithm: gradient.BacksolveAdjoint,
		Provider:  autodiff.Exact{},
		Solver:    solver,
		Discrete: &adjoint.DiscreteCost{
			Times: []float64{1.0, 2.0},
			Grad: func(dst ode.State, u ode.State, p ode.Params, t float64, i int) {
				dst[0] = u[0] - 1
			},
		},
	}

	res, err := gradient.Compute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Unstable, "reversed decay grows; expected an instability flag")
	assert.Greater(t, res.Exponent, 0.5)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "diverge")

	req.Strict = true
	_, err = gradient.Compute(context.Background(), req)
	assert.ErrorIs(t, err, ode.ErrUnsupported)
}

func TestContinuousCostForwardPath(t *testing.T) {
	// G = ∫ u²/2 dt over du = -k u has closed-form gradients.
	u0, k, T := 2.0, 0.7, 3.0
	solver := integrate.DefaultOptions()
	solver.AbsTol, solver.RelTol = 1e-10, 1e-10

	req := gradient.Request{
		Problem:   ode.Problem{Sys: decay{}, U0: ode.State{u0}, P: ode.Params{k}, T0: 0, TF: T},
		Algorithm: gradient.ForwardSensitivity,
		Provider:  autodiff.Exact{},
		Solver:    solver,
		Continuous: &adjoint.ContinuousCost{
			Fn: func(u ode.State, p ode.Params, t float64) float64 { return u[0] * u[0] / 2 },
			GradU: func(dst ode.State, u ode.State, p ode.Params, t float64) {
				dst[0] = u[0]
			},
		},
	}

	res, err := gradient.Compute(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.LossKnown)

	e := math.Exp(-2 * k * T)
	assert.InDelta(t, u0*u0*(1-e)/(4*k), res.Loss, 1e-7)
	assert.InDelta(t, u0*(1-e)/(2*k), res.DU0[0], 1e-6)
	assert.InDelta(t, u0*u0*(T*e/(2*k)-(1-e)/(4*k*k)), res.DP[0], 1e-6)
}

func TestComputeWithRequiresDenseWhenUncheckpointed(t *testing.T) {
	req := lvRequest(gradient.InterpolatingAdjoint)

	sparse := req.Solver
	sparse.Dense = false
	traj, _, err := integrate.Solve(context.Background(), req.Problem, sparse)
	require.NoError(t, err)

	_, err = gradient.ComputeWith(context.Background(), req, traj)
	assert.ErrorIs(t, err, ode.ErrConfig)
}

func TestParallelForwardColumns(t *testing.T) {
	serial := lvRequest(gradient.ForwardSensitivity)
	par := lvRequest(gradient.ForwardSensitivity)
	par.Parallel = true

	a, err := gradient.Compute(context.Background(), serial)
	require.NoError(t, err)
	b, err := gradient.Compute(context.Background(), par)
	require.NoError(t, err)

	for j := range a.DP {
		assert.InDelta(t, a.DP[j], b.DP[j], 1e-10)
	}
	for k := range a.DU0 {
		assert.InDelta(t, a.DU0[k], b.DU0[k], 1e-10)
	}
}
