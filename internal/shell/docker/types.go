// Package docker builds container images through the Docker Engine API.
package docker

import "io"

// =============================================================================
// Build Types
// =============================================================================

// BuildSpec describes one image build.
type BuildSpec struct {
	ContextDir string    // build context root; symlinks are resolved
	Dockerfile string    // build descriptor path, must be inside ContextDir
	Tag        string    // e.g. "clams-app-whisper"
	NoCache    bool      // ignore cached layers
	Output     io.Writer // build progress; nil discards it
}
