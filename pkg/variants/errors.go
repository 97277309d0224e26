package variants

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRegistryNotFound is returned when no registry exists for an objective.
var ErrRegistryNotFound = errors.New("variant registry not found")

// RegistryError collects every problem found while validating a registry.
type RegistryError struct {
	// ObjectiveID identifies the offending registry.
	ObjectiveID string

	// Problems lists each violated rule.
	Problems []string
}

// Error implements the error interface.
func (e *RegistryError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("invalid registry [objective=%s]: %s", e.ObjectiveID, e.Problems[0])
	}
	return fmt.Sprintf("invalid registry [objective=%s]: %d problems: %s",
		e.ObjectiveID, len(e.Problems), strings.Join(e.Problems, "; "))
}
