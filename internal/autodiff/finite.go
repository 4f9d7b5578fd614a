package autodiff

import (
	"sync"

	"github.com/san-kum/odesens/internal/ode"
)

const defaultEps = 1e-6

// pools recycles scratch buffers per length. FiniteDiff values stay
// stateless so concurrent sensitivity columns can share one instance.
var pools sync.Map

func poolFor(n int) *ode.VecPool {
	if p, ok := pools.Load(n); ok {
		return p.(*ode.VecPool)
	}
	p, _ := pools.LoadOrStore(n, ode.NewVecPool(n))
	return p.(*ode.VecPool)
}

// FiniteDiff approximates derivative products by central differences.
// It is the fallback when no analytic Jacobian or external AD engine is
// available; accuracy is O(eps²) per product.
type FiniteDiff struct {
	Eps float64
}

func NewFiniteDiff(eps float64) FiniteDiff {
	if eps <= 0 {
		eps = defaultEps
	}
	return FiniteDiff{Eps: eps}
}

func (fd FiniteDiff) JVP(sys ode.System, u ode.State, p ode.Params, t float64, du ode.State, dp ode.Params, out ode.State) {
	n := len(u)
	h := fd.Eps

	// Scale the offset by the direction magnitude to keep the secant
	// well-conditioned.
	norm := 0.0
	if du != nil {
		norm += ode.State(du).Norm()
	}
	if dp != nil {
		norm += ode.State(dp).Norm()
	}
	if norm > 1 {
		h /= norm
	}

	sp := poolFor(n)
	uPlus := sp.GetAndCopy(u)
	uMinus := sp.GetAndCopy(u)
	defer sp.Put(uPlus)
	defer sp.Put(uMinus)
	if du != nil {
		uPlus.AXPY(h, du)
		uMinus.AXPY(-h, du)
	}

	pp := poolFor(len(p))
	pPlus := ode.Params(pp.GetAndCopy(ode.State(p)))
	pMinus := ode.Params(pp.GetAndCopy(ode.State(p)))
	defer pp.Put(ode.State(pPlus))
	defer pp.Put(ode.State(pMinus))
	if dp != nil {
		ode.State(pPlus).AXPY(h, ode.State(dp))
		ode.State(pMinus).AXPY(-h, ode.State(dp))
	}

	fPlus := sp.Get()
	fMinus := sp.Get()
	defer sp.Put(fPlus)
	defer sp.Put(fMinus)
	sys.Derive(fPlus, uPlus, pPlus, t)
	sys.Derive(fMinus, uMinus, pMinus, t)

	inv := 1 / (2 * h)
	for i := 0; i < n; i++ {
		out[i] = (fPlus[i] - fMinus[i]) * inv
	}
}

func (fd FiniteDiff) VJP(sys ode.System, u ode.State, p ode.Params, t float64, v ode.State, outU ode.State, outP ode.Params) {
	n := len(u)

	sp := poolFor(n)
	fPlus := sp.Get()
	fMinus := sp.Get()
	defer sp.Put(fPlus)
	defer sp.Put(fMinus)

	if outU != nil {
		work := sp.GetAndCopy(u)
		for j := 0; j < n; j++ {
			h := fd.Eps * scale(u[j])
			orig := work[j]
			work[j] = orig + h
			sys.Derive(fPlus, work, p, t)
			work[j] = orig - h
			sys.Derive(fMinus, work, p, t)
			work[j] = orig

			// column j of ∂f/∂u dotted with v
			dot := 0.0
			inv := 1 / (2 * h)
			for i := 0; i < n; i++ {
				dot += v[i] * (fPlus[i] - fMinus[i]) * inv
			}
			outU[j] = dot
		}
		sp.Put(work)
	}

	if outP != nil {
		pp := poolFor(len(p))
		work := ode.Params(pp.GetAndCopy(ode.State(p)))
		for j := range p {
			h := fd.Eps * scale(p[j])
			orig := work[j]
			work[j] = orig + h
			sys.Derive(fPlus, u, work, t)
			work[j] = orig - h
			sys.Derive(fMinus, u, work, t)
			work[j] = orig

			dot := 0.0
			inv := 1 / (2 * h)
			for i := 0; i < n; i++ {
				dot += v[i] * (fPlus[i] - fMinus[i]) * inv
			}
			outP[j] = dot
		}
		pp.Put(ode.State(work))
	}
}

func scale(x float64) float64 {
	if x < 0 {
		x = -x
	}
	if x > 1 {
		return x
	}
	return 1
}
