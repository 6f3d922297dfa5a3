// Package registry merges appliance units into the orchestration platform's
// shared registry documents: the tool registry (sections of tools) and the
// data-type registry (datatypes with display applications).
//
// Registries are loaded once per run, amended in memory through the methods
// here, and written back once by the caller. Every insertion builds a fresh
// leaf element, so no element is ever attached under two parents.
package registry

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrNoRoot         = errors.New("registry document has no root element")
	ErrNotToolbox     = errors.New("tool registry root is not <toolbox>")
	ErrNoRegistration = errors.New("data-type registry has no <registration> element")
	ErrNoDatatype     = errors.New("data-type registry has no datatype with the requested extension")
	ErrEmptyReference = errors.New("leaf reference has an empty file name")
)

// ShapeError reports a registry missing an anchor the merge depends on.
type ShapeError struct {
	Registry string // "tool" or "datatype"
	Message  string
	Err      error
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s registry: %s", e.Registry, e.Message)
}

func (e *ShapeError) Unwrap() error {
	return e.Err
}

// NewShapeError creates a new ShapeError.
func NewShapeError(registry, message string, err error) *ShapeError {
	return &ShapeError{
		Registry: registry,
		Message:  message,
		Err:      err,
	}
}
