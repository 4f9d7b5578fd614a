package autodiff

import (
	"fmt"

	"github.com/san-kum/odesens/internal/ode"
)

// Exact computes products from a user-supplied analytic Jacobian.
// The system must implement ode.Jacobian; both products are exact.
type Exact struct{}

func jacobian(sys ode.System) ode.Jacobian {
	j, ok := sys.(ode.Jacobian)
	if !ok {
		panic(fmt.Sprintf("autodiff: %T does not implement ode.Jacobian", sys))
	}
	return j
}

func (Exact) JVP(sys ode.System, u ode.State, p ode.Params, t float64, du ode.State, dp ode.Params, out ode.State) {
	jac := jacobian(sys)
	n, m := sys.StateDim(), sys.ParamDim()

	out.Zero()

	if du != nil {
		rows := makeMat(n, n)
		jac.JacU(rows, u, p, t)
		for i := 0; i < n; i++ {
			dot := 0.0
			for j := 0; j < n; j++ {
				dot += rows[i][j] * du[j]
			}
			out[i] += dot
		}
	}

	if dp != nil && m > 0 {
		cols := makeMat(m, n)
		jac.JacP(cols, u, p, t)
		for j := 0; j < m; j++ {
			if dp[j] == 0 {
				continue
			}
			out.AXPY(dp[j], cols[j])
		}
	}
}

func (Exact) VJP(sys ode.System, u ode.State, p ode.Params, t float64, v ode.State, outU ode.State, outP ode.Params) {
	jac := jacobian(sys)
	n, m := sys.StateDim(), sys.ParamDim()

	if outU != nil {
		rows := makeMat(n, n)
		jac.JacU(rows, u, p, t)
		for j := 0; j < n; j++ {
			dot := 0.0
			for i := 0; i < n; i++ {
				dot += v[i] * rows[i][j]
			}
			outU[j] = dot
		}
	}

	if outP != nil && m > 0 {
		cols := makeMat(m, n)
		jac.JacP(cols, u, p, t)
		for j := 0; j < m; j++ {
			dot := 0.0
			for i := 0; i < n; i++ {
				dot += v[i] * cols[j][i]
			}
			outP[j] = dot
		}
	}
}

func makeMat(rows, cols int) []ode.State {
	backing := make(ode.State, rows*cols)
	mat := make([]ode.State, rows)
	for i := range mat {
		mat[i] = backing[i*cols : (i+1)*cols]
	}
	return mat
}
