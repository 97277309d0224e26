package abeval

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is returned when an evaluation input violates its
// preconditions.
var ErrInvalidInput = errors.New("invalid evaluation input")

// ScoringError reports a scorer failure for one variant.
type ScoringError struct {
	RunID     string
	VariantID string
	Cause     error
}

// Error implements the error interface.
func (e *ScoringError) Error() string {
	return fmt.Sprintf("scoring failed [run_id=%s, variant_id=%s]: %v", e.RunID, e.VariantID, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *ScoringError) Unwrap() error {
	return e.Cause
}
