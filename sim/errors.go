package sim

import (
	"errors"
	"fmt"
)

// Error classes surfaced by the accounting engine. Callers match with errors.Is;
// the wrapped message carries the step, product or rate involved.
var (
	// ErrDimensionMismatch: collaborators disagree on rates, steps, factors or products.
	// Raised before any path runs.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrNumericalDegeneracy: a discount factor, ratio or adjoint term is non-finite,
	// or a pseudo-root block is rank deficient. Fatal for the path.
	ErrNumericalDegeneracy = errors.New("numerical degeneracy")

	// ErrContractViolation: a collaborator broke its interface contract
	// (e.g. a cash flow referencing a time the sweep cannot reach).
	ErrContractViolation = errors.New("collaborator contract violation")
)

func dimensionErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDimensionMismatch, fmt.Sprintf(format, args...))
}

func degeneracyErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNumericalDegeneracy, fmt.Sprintf(format, args...))
}

func contractErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrContractViolation, fmt.Sprintf(format, args...))
}
