package autodiff

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/san-kum/odesens/internal/ode"
)

// bilinear is du1 = p1*u1*u2, du2 = p2*u1 - u2, with analytic Jacobians.
type bilinear struct{}

func (bilinear) Derive(dst ode.State, u ode.State, p ode.Params, t float64) {
	dst[0] = p[0] * u[0] * u[1]
	dst[1] = p[1]*u[0] - u[1]
}
func (bilinear) StateDim() int { return 2 }
func (bilinear) ParamDim() int { return 2 }

func (bilinear) JacU(dst []ode.State, u ode.State, p ode.Params, t float64) {
	dst[0][0], dst[0][1] = p[0]*u[1], p[0]*u[0]
	dst[1][0], dst[1][1] = p[1], -1
}

func (bilinear) JacP(dst []ode.State, u ode.State, p ode.Params, t float64) {
	dst[0][0], dst[0][1] = u[0]*u[1], 0
	dst[1][0], dst[1][1] = 0, u[0]
}

var (
	testU = ode.State{1.3, -0.7}
	testP = ode.Params{2.0, 0.5}
)

func TestFiniteDiffMatchesExactJVP(t *testing.T) {
	sys := bilinear{}
	du := ode.State{0.3, 1.1}
	dp := ode.Params{-0.2, 0.9}

	exact := make(ode.State, 2)
	approx := make(ode.State, 2)

	Exact{}.JVP(sys, testU, testP, 0, du, dp, exact)
	NewFiniteDiff(0).JVP(sys, testU, testP, 0, du, dp, approx)

	for i := range exact {
		if math.Abs(exact[i]-approx[i]) > 1e-6 {
			t.Errorf("JVP component %d: exact %g, finite-diff %g", i, exact[i], approx[i])
		}
	}
}

func TestFiniteDiffMatchesExactVJP(t *testing.T) {
	sys := bilinear{}
	v := ode.State{0.5, -1.5}

	exactU := make(ode.State, 2)
	exactP := make(ode.Params, 2)
	approxU := make(ode.State, 2)
	approxP := make(ode.Params, 2)

	Exact{}.VJP(sys, testU, testP, 0, v, exactU, exactP)
	NewFiniteDiff(0).VJP(sys, testU, testP, 0, v, approxU, approxP)

	for i := range exactU {
		if math.Abs(exactU[i]-approxU[i]) > 1e-6 {
			t.Errorf("VJP state component %d: exact %g, finite-diff %g", i, exactU[i], approxU[i])
		}
	}
	for i := range exactP {
		if math.Abs(exactP[i]-approxP[i]) > 1e-6 {
			t.Errorf("VJP param component %d: exact %g, finite-diff %g", i, exactP[i], approxP[i])
		}
	}
}

func TestJVPNilDirections(t *testing.T) {
	sys := bilinear{}
	out := make(ode.State, 2)

	// dp-only direction picks out a ∂f/∂p column.
	Exact{}.JVP(sys, testU, testP, 0, nil, ode.Params{1, 0}, out)
	want := testU[0] * testU[1]
	if math.Abs(out[0]-want) > 1e-12 || math.Abs(out[1]) > 1e-12 {
		t.Errorf("dp-only JVP wrong: %v", out)
	}

	// du-only direction is a plain directional state derivative.
	Exact{}.JVP(sys, testU, testP, 0, ode.State{1, 0}, nil, out)
	if math.Abs(out[0]-testP[0]*testU[1]) > 1e-12 {
		t.Errorf("du-only JVP wrong: %v", out)
	}
}

// Products run from recycled scratch buffers; a stale or shared buffer
// would corrupt results under repetition or concurrency.
func TestFiniteDiffConcurrentProducts(t *testing.T) {
	sys := bilinear{}
	du := ode.State{0.3, 1.1}
	dp := ode.Params{-0.2, 0.9}
	v := ode.State{0.5, -1.5}

	wantJVP := make(ode.State, 2)
	wantU := make(ode.State, 2)
	wantP := make(ode.Params, 2)
	Exact{}.JVP(sys, testU, testP, 0, du, dp, wantJVP)
	Exact{}.VJP(sys, testU, testP, 0, v, wantU, wantP)

	fd := NewFiniteDiff(0)
	var wg sync.WaitGroup
	errs := make(chan string, 8)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outJVP := make(ode.State, 2)
			outU := make(ode.State, 2)
			outP := make(ode.Params, 2)
			for iter := 0; iter < 50; iter++ {
				fd.JVP(sys, testU, testP, 0, du, dp, outJVP)
				fd.VJP(sys, testU, testP, 0, v, outU, outP)
				for i := range outJVP {
					if math.Abs(outJVP[i]-wantJVP[i]) > 1e-6 ||
						math.Abs(outU[i]-wantU[i]) > 1e-6 ||
						math.Abs(outP[i]-wantP[i]) > 1e-6 {
						errs <- "product drifted from analytic value"
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Error(msg)
	}
}

func TestParse(t *testing.T) {
	if _, err := Parse("finite_diff", 0); err != nil {
		t.Errorf("finite_diff should parse: %v", err)
	}
	if _, err := Parse("user_jacobian", 0); err != nil {
		t.Errorf("user_jacobian should parse: %v", err)
	}
	if _, err := Parse("reverse_ad", 0); !errors.Is(err, ode.ErrUnsupported) {
		t.Errorf("reverse_ad without injection should be ErrUnsupported, got %v", err)
	}
	if _, err := Parse("zygote", 0); !errors.Is(err, ode.ErrConfig) {
		t.Errorf("unknown mode should be ErrConfig, got %v", err)
	}
}
