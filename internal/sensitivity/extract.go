package sensitivity

import (
	"github.com/san-kum/odesens/internal/integrate"
	"github.com/san-kum/odesens/internal/ode"
)

// Extractor splits augmented trajectory points back into the base state
// and the M sensitivity columns ∂u/∂p_j. Three call shapes are
// supported: the whole series, a single stored index, and a continuous
// time query (dense trajectories only). All three return the same
// structural (u, columns) pair.
type Extractor struct {
	n, m int
	traj *integrate.Trajectory
}

func (e *Extractor) StateDim() int { return e.n }
func (e *Extractor) ParamDim() int { return e.m }
func (e *Extractor) Len() int      { return e.traj.Len() }
func (e *Extractor) Times() []float64 {
	return e.traj.Times
}

func (e *Extractor) split(x ode.State) (ode.State, []ode.State) {
	u := x[:e.n].Clone()
	cols := make([]ode.State, e.m)
	for j := 0; j < e.m; j++ {
		cols[j] = x[e.n+j*e.n : e.n+(j+1)*e.n].Clone()
	}
	return u, cols
}

// AtIndex extracts stored sample i.
func (e *Extractor) AtIndex(i int) (ode.State, []ode.State) {
	_, x := e.traj.AtIndex(i)
	return e.split(x)
}

// AtTime extracts an interpolated query at time t.
func (e *Extractor) AtTime(t float64) (ode.State, []ode.State, error) {
	x, err := e.traj.At(t)
	if err != nil {
		return nil, nil, err
	}
	u, cols := e.split(x)
	return u, cols, nil
}

// Series extracts every stored sample.
func (e *Extractor) Series() ([]ode.State, [][]ode.State) {
	us := make([]ode.State, e.traj.Len())
	sens := make([][]ode.State, e.traj.Len())
	for i := range us {
		us[i], sens[i] = e.AtIndex(i)
	}
	return us, sens
}

// Terminal extracts the last sample: the solution at TF and the
// parameter Jacobian columns ∂u(TF)/∂p_j.
func (e *Extractor) Terminal() (ode.State, []ode.State) {
	return e.AtIndex(e.traj.Len() - 1)
}
