// Package descriptor synthesizes the per-unit documents that register
// appliance units inside the orchestration platform: tool descriptors for
// applications and display descriptors for consumers.
// This is part of the Functional Core - documents are built and adapted in
// memory; the caller decides where they are written.
package descriptor

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Shape errors in a shipped descriptor
	ErrNotToolDescriptor = errors.New("descriptor root is not <tool>")
	ErrNoCommand         = errors.New("descriptor has no <command> element")
	ErrNoCategories      = errors.New("descriptor has no category text in <help>")
)

// ShapeError reports a descriptor that is missing an anchor the
// registration logic depends on.
type ShapeError struct {
	Unit    string
	Message string
	Err     error
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("descriptor for %s: %s", e.Unit, e.Message)
}

func (e *ShapeError) Unwrap() error {
	return e.Err
}

// NewShapeError creates a new ShapeError.
func NewShapeError(unit, message string, err error) *ShapeError {
	return &ShapeError{
		Unit:    unit,
		Message: message,
		Err:     err,
	}
}
