package ode

import (
	"errors"
	"fmt"
)

// Domain errors for solver and sensitivity operations.
var (
	// ErrConfig indicates an invalid or contradictory configuration.
	// Fatal; never retried.
	ErrConfig = errors.New("odesens: invalid configuration")

	// ErrDiverged indicates NaN/Inf appeared in the state during
	// integration.
	ErrDiverged = errors.New("odesens: integration diverged (NaN or Inf in state)")

	// ErrStepTooSmall indicates the adaptive step size collapsed below
	// the configured floor.
	ErrStepTooSmall = errors.New("odesens: adaptive step size below minimum")

	// ErrDimensionMismatch indicates mismatched state/parameter/Jacobian
	// dimensions.
	ErrDimensionMismatch = errors.New("odesens: dimension mismatch")

	// ErrUnsupported indicates a combination of options the selected
	// algorithm cannot honor.
	ErrUnsupported = errors.New("odesens: unsupported combination")

	// ErrNotFound indicates a stored run does not exist.
	ErrNotFound = errors.New("odesens: run not found")
)

// StepError wraps an integration failure with the time, step index and,
// for checkpointed re-integration, the offending bracket.
type StepError struct {
	Time    float64
	Step    int
	Bracket [2]float64
	Wrapped error
}

func (e *StepError) Error() string {
	if e.Bracket[0] != e.Bracket[1] {
		return fmt.Sprintf("step %d (t=%.6g, bracket [%.6g, %.6g]): %v",
			e.Step, e.Time, e.Bracket[0], e.Bracket[1], e.Wrapped)
	}
	return fmt.Sprintf("step %d (t=%.6g): %v", e.Step, e.Time, e.Wrapped)
}

func (e *StepError) Unwrap() error { return e.Wrapped }
