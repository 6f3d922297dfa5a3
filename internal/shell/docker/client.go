package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/distribution/reference"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/moby/go-archive"
	"github.com/moby/patternmatcher/ignorefile"
	"github.com/moby/term"
)

// =============================================================================
// Docker Client Implementation
// =============================================================================

// DockerClient builds and inspects images using the Docker SDK.
type DockerClient struct {
	cli *client.Client
}

// NewDockerClient creates a new Docker client.
// If host is empty, it uses the default Docker host from environment.
// On macOS with Docker Desktop, it automatically detects the correct socket.
func NewDockerClient(host string) (*DockerClient, error) {
	var opts []client.Opt
	opts = append(opts, client.FromEnv)
	opts = append(opts, client.WithAPIVersionNegotiation())

	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewDockerError("NewDockerClient", "", "", "failed to create client", ErrConnectionFailed)
	}

	// An explicit host is never second-guessed.
	if host != "" {
		return &DockerClient{cli: cli}, nil
	}

	ctx := context.Background()
	if _, pingErr := cli.Ping(ctx); pingErr != nil {
		// If default socket fails, try Docker Desktop socket on macOS
		homeDir, _ := os.UserHomeDir()
		dockerDesktopSocket := "unix://" + homeDir + "/.docker/run/docker.sock"

		cli2, err2 := client.NewClientWithOpts(
			client.WithHost(dockerDesktopSocket),
			client.WithAPIVersionNegotiation(),
		)
		if err2 == nil {
			if _, pingErr2 := cli2.Ping(ctx); pingErr2 == nil {
				cli.Close()
				return &DockerClient{cli: cli2}, nil
			}
			cli2.Close()
		}
	}

	return &DockerClient{cli: cli}, nil
}

// Ping checks if Docker daemon is reachable.
func (d *DockerClient) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	if err != nil {
		return NewDockerError("Ping", "", "", fmt.Sprintf("failed to ping docker: %v", err), ErrConnectionFailed)
	}
	return nil
}

// Close closes the Docker client connection.
func (d *DockerClient) Close() error {
	return d.cli.Close()
}

// =============================================================================
// Image Operations
// =============================================================================

// BuildImage builds spec.ContextDir into an image tagged spec.Tag.
// Progress is streamed to spec.Output. A build whose stream reports an
// error, or that finishes without producing the tag, fails with
// ErrImageBuildFailed.
func (d *DockerClient) BuildImage(ctx context.Context, spec BuildSpec) error {
	if spec.Tag == "" {
		return NewDockerError("BuildImage", "image", "", "tag is required", ErrInvalidBuildSpec)
	}
	if _, err := reference.ParseNormalizedNamed(spec.Tag); err != nil {
		return NewDockerError("BuildImage", "image", spec.Tag, err.Error(), ErrInvalidBuildSpec)
	}

	dockerfile, err := DockerfileInContext(spec.ContextDir, spec.Dockerfile)
	if err != nil {
		return NewDockerError("BuildImage", "image", spec.Tag, err.Error(), ErrInvalidBuildSpec)
	}
	// Linked sources are symlinks; the archiver must walk their targets.
	contextDir, err := filepath.EvalSymlinks(spec.ContextDir)
	if err != nil {
		return NewDockerError("BuildImage", "image", spec.Tag, err.Error(), ErrInvalidBuildSpec)
	}

	excludes, err := readDockerignore(contextDir)
	if err != nil {
		return NewDockerError("BuildImage", "image", spec.Tag, err.Error(), ErrInvalidBuildSpec)
	}

	buildCtx, err := archive.TarWithOptions(contextDir, &archive.TarOptions{
		ExcludePatterns: excludes,
	})
	if err != nil {
		return NewDockerError("BuildImage", "image", spec.Tag, err.Error(), ErrImageBuildFailed)
	}
	defer buildCtx.Close()

	resp, err := d.cli.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:        []string{spec.Tag},
		Dockerfile:  dockerfile,
		NoCache:     spec.NoCache,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return NewDockerError("BuildImage", "image", spec.Tag, err.Error(), ErrImageBuildFailed)
	}
	defer resp.Body.Close()

	out := spec.Output
	if out == nil {
		out = io.Discard
	}
	fd, isTerminal := term.GetFdInfo(out)
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, out, fd, isTerminal, nil); err != nil {
		return NewDockerError("BuildImage", "image", spec.Tag, err.Error(), ErrImageBuildFailed)
	}

	exists, err := d.ImageExists(ctx, spec.Tag)
	if err != nil {
		return err
	}
	if !exists {
		return NewDockerError("BuildImage", "image", spec.Tag, "build finished without producing the tag", ErrImageBuildFailed)
	}
	return nil
}

// ImageExists checks if an image exists locally.
func (d *DockerClient) ImageExists(ctx context.Context, imageName string) (bool, error) {
	_, err := d.cli.ImageInspect(ctx, imageName)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, NewDockerError("ImageExists", "image", imageName, err.Error(), err)
	}

	return true, nil
}

// =============================================================================
// Build Context Helpers
// =============================================================================

// DockerfileInContext returns the build descriptor path relative to the
// context root, as the Engine API expects it. An empty dockerfile means
// "Dockerfile" at the root.
//
// Example:
//
//	DockerfileInContext("/w/app-x", "/w/app-x/Dockerfile") // "Dockerfile"
func DockerfileInContext(contextDir, dockerfile string) (string, error) {
	if dockerfile == "" {
		return "Dockerfile", nil
	}
	if !filepath.IsAbs(dockerfile) {
		dockerfile = filepath.Join(contextDir, dockerfile)
	}

	rel, err := filepath.Rel(contextDir, dockerfile)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("dockerfile %s is outside the build context %s", dockerfile, contextDir)
	}
	return filepath.ToSlash(rel), nil
}

// readDockerignore returns the exclude patterns of the context's
// .dockerignore, or nil when it has none.
func readDockerignore(contextDir string) ([]string, error) {
	f, err := os.Open(filepath.Join(contextDir, ".dockerignore"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ignorefile.ReadAll(f)
}
