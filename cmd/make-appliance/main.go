// Command make-appliance compiles an appliance manifest into a compose
// topology and registers every unit with the orchestration platform.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/clamsproject/appliance/internal/engine"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitAcquireError    = 2
	ExitBuildError      = 3
	ExitRegistryError   = 4
	ExitFilesystemError = 5
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := newRootCommand(provision)
	cmd.SetArgs(args)

	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}

	var runErr *RunError
	if errors.As(err, &runErr) {
		fmt.Fprintf(os.Stderr, "%s: %v\n", runErr.Op, runErr.Err)
		return runErr.ExitCode
	}
	// Flag and argument errors
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return ExitConfigError
}

// ExitCodeFor maps a compile failure to the process exit status.
func ExitCodeFor(err error) int {
	var compileErr *engine.CompileError
	if !errors.As(err, &compileErr) {
		return ExitConfigError
	}
	switch compileErr.Stage {
	case engine.StageConfig:
		return ExitConfigError
	case engine.StageAcquire:
		return ExitAcquireError
	case engine.StageBuild:
		return ExitBuildError
	case engine.StageDescriptor, engine.StageRegistry, engine.StageTopology:
		return ExitRegistryError
	case engine.StageReset, engine.StageFilesystem:
		return ExitFilesystemError
	default:
		return ExitConfigError
	}
}

// =============================================================================
// Run Error
// =============================================================================

// RunError represents an error during a provisioning run.
type RunError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *RunError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *RunError) Unwrap() error {
	return e.Err
}
