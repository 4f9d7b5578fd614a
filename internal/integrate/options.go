package integrate

import (
	"fmt"

	"github.com/san-kum/odesens/internal/ode"
)

// Method selects the time stepper.
type Method int

const (
	// Dopri5 is the adaptive Dormand-Prince 5(4) pair.
	Dopri5 Method = iota
	// RK4 is the classic fixed-step fourth-order Runge-Kutta method.
	RK4
)

func (m Method) String() string {
	switch m {
	case Dopri5:
		return "dopri5"
	case RK4:
		return "rk4"
	}
	return fmt.Sprintf("method(%d)", int(m))
}

// ParseMethod maps a method name to its Method value.
func ParseMethod(name string) (Method, error) {
	switch name {
	case "dopri5", "rk45", "":
		return Dopri5, nil
	case "rk4":
		return RK4, nil
	}
	return 0, fmt.Errorf("%w: unknown method %q", ode.ErrConfig, name)
}

type Options struct {
	Method Method

	AbsTol float64
	RelTol float64

	InitDt   float64 // 0 means estimate from the span
	MinDt    float64
	MaxDt    float64 // 0 means no cap beyond the span
	MaxSteps int

	// Dense retains a continuous interpolant over the whole span.
	Dense bool

	// SaveAt forces accepted steps to land exactly on these times.
	// Must lie within the span; order follows integration direction.
	SaveAt []float64
}

func DefaultOptions() Options {
	return Options{
		Method:   Dopri5,
		AbsTol:   1e-8,
		RelTol:   1e-8,
		MinDt:    1e-12,
		MaxSteps: 1_000_000,
		Dense:    true,
	}
}

func (o Options) validate() error {
	if o.AbsTol <= 0 || o.RelTol <= 0 {
		return fmt.Errorf("%w: tolerances must be positive (abstol=%g, reltol=%g)",
			ode.ErrConfig, o.AbsTol, o.RelTol)
	}
	if o.MinDt < 0 {
		return fmt.Errorf("%w: MinDt must be non-negative", ode.ErrConfig)
	}
	if o.MaxSteps <= 0 {
		return fmt.Errorf("%w: MaxSteps must be positive", ode.ErrConfig)
	}
	if o.Method == RK4 && o.InitDt <= 0 {
		return fmt.Errorf("%w: RK4 requires a positive InitDt", ode.ErrConfig)
	}
	return nil
}

// Stats reports the work a solve performed.
type Stats struct {
	Steps    int // accepted steps
	Rejected int // rejected trial steps
	Evals    int // right-hand side evaluations
}

func (s Stats) Add(other Stats) Stats {
	return Stats{
		Steps:    s.Steps + other.Steps,
		Rejected: s.Rejected + other.Rejected,
		Evals:    s.Evals + other.Evals,
	}
}
