package engine

import (
	"errors"
	"fmt"
)

var (
	ErrPortRangesOverlap = errors.New("application and consumer port ranges overlap")
	ErrPlatformPortTaken = errors.New("platform host port collides with a unit port")
)

// Stage names the compiler step that failed.
type Stage string

const (
	StageConfig     Stage = "config"
	StageReset      Stage = "reset"
	StageAcquire    Stage = "acquire"
	StageBuild      Stage = "build"
	StageDescriptor Stage = "descriptor"
	StageRegistry   Stage = "registry"
	StageTopology   Stage = "topology"
	StageFilesystem Stage = "filesystem"
)

// CompileError reports the stage and unit at which a run aborted.
type CompileError struct {
	Stage Stage
	Unit  string // service name, empty for run-wide steps
	Err   error
}

func (e *CompileError) Error() string {
	if e.Unit != "" {
		return fmt.Sprintf("%s %s: %v", e.Stage, e.Unit, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// NewCompileError creates a new CompileError.
func NewCompileError(stage Stage, unit string, err error) *CompileError {
	return &CompileError{Stage: stage, Unit: unit, Err: err}
}
