package main

import (
	"context"
	"os"

	"github.com/clamsproject/appliance/internal/core/manifest"
	"github.com/clamsproject/appliance/internal/engine"
	"github.com/clamsproject/appliance/internal/shell/docker"
	"github.com/clamsproject/appliance/internal/shell/source"
	"github.com/clamsproject/appliance/internal/shell/workspace"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var _ engine.ImageBuilder = (*docker.DockerClient)(nil)

// cliOptions are the only switches the command line accepts; everything
// else comes from the manifest and the config file.
type cliOptions struct {
	ForceRebuild bool
	Link         bool
}

// Mode returns the source acquisition mode selected by the flags.
func (o cliOptions) Mode() source.Mode {
	if o.Link {
		return source.ModeLink
	}
	return source.ModeFetch
}

// provisionFunc performs one run with the parsed flags.
type provisionFunc func(ctx context.Context, opts cliOptions) error

func newRootCommand(provision provisionFunc) *cobra.Command {
	var opts cliOptions

	cmd := &cobra.Command{
		Use:   "make-appliance",
		Short: "Make a CLAMS appliance using docker compose",
		Long: `make-appliance reads the appliance manifest, fetches and builds every
enabled app and consumer, registers them with the platform and writes
the docker compose topology.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return provision(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.ForceRebuild, "force-rebuild", "f", false,
		"Delete existing apps, consumers and the platform, then fetch and rebuild everything")
	cmd.Flags().BoolVarP(&opts.Link, "link", "l", false,
		"Link local checkouts (repository is a path) instead of cloning")

	return cmd
}

// provision wires the real collaborators and runs the compiler.
func provision(ctx context.Context, opts cliOptions) error {
	configPath := os.Getenv(ConfigPathEnv)
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return &RunError{Op: "load config", Err: err, ExitCode: ExitConfigError}
	}

	logger := SetupLogger(cfg)
	logger.Info("starting make-appliance",
		"version", Version,
		"build_time", BuildTime,
		"config", configPath,
		"manifest", cfg.Manifest,
	)

	m, err := manifest.Load(cfg.Manifest)
	if err != nil {
		return &RunError{Op: "load manifest", Err: err, ExitCode: ExitConfigError}
	}

	dockerClient, err := docker.NewDockerClient(cfg.Docker.Host)
	if err != nil {
		return &RunError{Op: "connect docker", Err: err, ExitCode: ExitBuildError}
	}
	defer dockerClient.Close()
	if err := dockerClient.Ping(ctx); err != nil {
		return &RunError{Op: "connect docker", Err: err, ExitCode: ExitBuildError}
	}

	compiler := engine.NewCompiler(engine.CompilerConfig{
		Settings:  cfg.Settings(),
		Workspace: workspace.New(afero.NewOsFs(), cfg.Layout()),
		Acquirer:  source.NewAcquirer(cfg.Source.Depth, os.Stdout),
		Builder:   dockerClient,
		Logger:    logger,
	})

	report, err := compiler.Compile(ctx, m, engine.Options{
		Reset:       opts.ForceRebuild,
		Mode:        opts.Mode(),
		BuildOutput: os.Stdout,
	})
	if err != nil {
		return &RunError{Op: "compile", Err: err, ExitCode: ExitCodeFor(err)}
	}

	logger.Info("appliance ready",
		"run_id", report.RunID,
		"topology", report.TopologyPath,
		"apps", report.Apps,
		"consumers", report.Consumers,
	)
	return nil
}
