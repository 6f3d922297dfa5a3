// Package manifest contains pure functions for reading and validating an
// appliance manifest. This is part of the Functional Core - no I/O except
// the thin Load wrapper.
package manifest

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input errors
	ErrEmptyInput  = errors.New("manifest is empty")
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// Structure errors
	ErrNotMapping    = errors.New("expected a mapping")
	ErrDuplicateUnit = errors.New("unit declared more than once")
	ErrInvalidName   = errors.New("invalid unit name")

	// Required field errors
	ErrMissingStoragePath = errors.New("storage_path is required")
	ErrMissingRepository  = errors.New("repository is required for enabled units")
	ErrMissingDescription = errors.New("description is required")
)

// FieldError wraps errors with the manifest field that caused them.
type FieldError struct {
	Field   string // e.g., "apps.asr.repository"
	Message string
	Err     error
}

func (e *FieldError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// NewFieldError creates a new FieldError.
func NewFieldError(field, message string, err error) *FieldError {
	return &FieldError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
