package integrate

import (
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/odesens/internal/ode"
)

// Trajectory is an ordered sequence of (time, state) samples produced by
// a single solve. A dense trajectory additionally supports continuous
// queries over the whole span via cubic Hermite interpolation on the
// stored step derivatives.
//
// Times follow integration direction: ascending for a forward solve,
// descending for a backward one.
type Trajectory struct {
	Times  []float64
	States []ode.State

	derivs []ode.State
	dense  bool
}

func (tr *Trajectory) Len() int    { return len(tr.Times) }
func (tr *Trajectory) Dense() bool { return tr.dense }

// Terminal returns the last sample.
func (tr *Trajectory) Terminal() (float64, ode.State) {
	i := len(tr.Times) - 1
	return tr.Times[i], tr.States[i]
}

func (tr *Trajectory) append(t float64, u, du ode.State) {
	tr.Times = append(tr.Times, t)
	tr.States = append(tr.States, u.Clone())
	if tr.dense {
		tr.derivs = append(tr.derivs, du.Clone())
	}
}

// contains reports whether t lies within the trajectory span, in either
// direction.
func (tr *Trajectory) contains(t float64) bool {
	lo, hi := tr.Times[0], tr.Times[len(tr.Times)-1]
	if lo > hi {
		lo, hi = hi, lo
	}
	const slack = 1e-10
	return t >= lo-slack && t <= hi+slack
}

// segment returns the index i such that t lies between Times[i] and
// Times[i+1] in integration order.
func (tr *Trajectory) segment(t float64) int {
	n := len(tr.Times)
	ascending := tr.Times[n-1] >= tr.Times[0]
	var i int
	if ascending {
		i = sort.Search(n, func(j int) bool { return tr.Times[j] > t }) - 1
	} else {
		i = sort.Search(n, func(j int) bool { return tr.Times[j] < t }) - 1
	}
	if i < 0 {
		i = 0
	}
	if i > n-2 {
		i = n - 2
	}
	return i
}

// At evaluates the trajectory at time t. Requires a dense trajectory.
func (tr *Trajectory) At(t float64) (ode.State, error) {
	if !tr.dense {
		return nil, fmt.Errorf("%w: trajectory was not solved with dense output", ode.ErrUnsupported)
	}
	if !tr.contains(t) {
		return nil, fmt.Errorf("%w: query time %g outside span [%g, %g]",
			ode.ErrConfig, t, tr.Times[0], tr.Times[len(tr.Times)-1])
	}
	if len(tr.Times) == 1 {
		return tr.States[0].Clone(), nil
	}

	i := tr.segment(t)
	t0, t1 := tr.Times[i], tr.Times[i+1]
	h := t1 - t0
	if h == 0 || math.Abs(t-t0) < 1e-14*math.Max(1, math.Abs(t0)) {
		return tr.States[i].Clone(), nil
	}

	// Cubic Hermite on (u0, f0, u1, f1).
	theta := (t - t0) / h
	u0, u1 := tr.States[i], tr.States[i+1]
	f0, f1 := tr.derivs[i], tr.derivs[i+1]

	out := make(ode.State, len(u0))
	for k := range out {
		d := u1[k] - u0[k]
		out[k] = u0[k] + theta*d +
			theta*(theta-1)*((1-2*theta)*d+(theta-1)*h*f0[k]+theta*h*f1[k])
	}
	return out, nil
}

// AtIndex returns the stored sample i without interpolation.
func (tr *Trajectory) AtIndex(i int) (float64, ode.State) {
	return tr.Times[i], tr.States[i]
}
