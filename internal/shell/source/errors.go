package source

import (
	"errors"
	"fmt"
)

var (
	ErrSourceNotFound   = errors.New("source not found")
	ErrRevisionNotFound = errors.New("revision not found")
	ErrCloneFailed      = errors.New("clone failed")
	ErrLinkFailed       = errors.New("link failed")
	ErrUnknownMode      = errors.New("unknown acquisition mode")
)

// AcquireError reports a failed acquisition of one source tree.
type AcquireError struct {
	Mode    Mode
	Dir     string // destination
	Source  string // repository URL or local path
	Message string
	Err     error
}

func (e *AcquireError) Error() string {
	return fmt.Sprintf("%s %s into %s: %s", e.Mode, e.Source, e.Dir, e.Message)
}

func (e *AcquireError) Unwrap() error {
	return e.Err
}

// NewAcquireError creates a new AcquireError.
func NewAcquireError(mode Mode, dir, source, message string, err error) *AcquireError {
	return &AcquireError{Mode: mode, Dir: dir, Source: source, Message: message, Err: err}
}
