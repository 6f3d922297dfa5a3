package workspace

import (
	"errors"
	"fmt"
)

// ErrNotDirectory is returned when a path that must be a directory is not.
var ErrNotDirectory = errors.New("not a directory")

// Error wraps filesystem failures with the operation and path involved.
type Error struct {
	Op   string // e.g. "WriteXML"
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error.
func NewError(op, path string, err error) *Error {
	return &Error{Op: op, Path: path, Err: err}
}
