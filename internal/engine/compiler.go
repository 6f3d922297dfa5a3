package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/beevik/etree"
	"github.com/clamsproject/appliance/internal/core/catalog"
	"github.com/clamsproject/appliance/internal/core/compose"
	"github.com/clamsproject/appliance/internal/core/deployment"
	"github.com/clamsproject/appliance/internal/core/descriptor"
	"github.com/clamsproject/appliance/internal/core/manifest"
	"github.com/clamsproject/appliance/internal/core/registry"
	"github.com/clamsproject/appliance/internal/shell/docker"
	"github.com/clamsproject/appliance/internal/shell/source"
	"github.com/clamsproject/appliance/internal/shell/workspace"
	"github.com/google/uuid"
)

// =============================================================================
// Collaborators
// =============================================================================

// Acquirer places a source tree at dir.
type Acquirer interface {
	Acquire(ctx context.Context, dir string, spec source.Spec, mode source.Mode) (source.Outcome, error)
}

// ImageBuilder builds a container image from a source tree.
type ImageBuilder interface {
	BuildImage(ctx context.Context, spec docker.BuildSpec) error
}

// =============================================================================
// Configuration
// =============================================================================

// Settings holds the fixed, tool-level values a run is compiled against.
type Settings struct {
	PlatformName          string // tree directory and service name
	PlatformRepository    string
	PlatformBranch        string
	PlatformHostPort      int
	PlatformContainerPort int
	PublicHost            string // platform host as browsers see it

	NetworkName string
	DefaultPort int // mappings to this container port are omitted

	AppPortBase       int
	ConsumerPortBase  int
	UnitContainerPort int

	StorageContainerPath string // storage mount inside every container
	ConsumerStaticPath   string // second storage mount for consumers
	ImagePrefix          string
}

// Options are the per-invocation switches.
type Options struct {
	Reset       bool        // remove generated trees and topology first
	Mode        source.Mode // fetch or link unit sources
	BuildOutput io.Writer   // image build progress, nil discards it
}

// Report summarizes a successful run.
type Report struct {
	RunID        string
	Apps         []string // compiled application services, in order
	Consumers    []string // compiled consumer services, in order
	Skipped      []string // disabled services
	Removed      []string // paths removed by a reset
	Catalogs     map[catalog.Kind]int
	TopologyPath string
	Topology     *compose.Document
}

// CompilerConfig wires a Compiler.
type CompilerConfig struct {
	Settings  Settings
	Workspace *workspace.Workspace
	Acquirer  Acquirer
	Builder   ImageBuilder
	Logger    *slog.Logger
}

// =============================================================================
// Compiler
// =============================================================================

// Compiler turns a manifest into a topology, registry amendments,
// descriptors and data catalogs. A run is strictly sequential and stops at
// the first error.
type Compiler struct {
	settings Settings
	ws       *workspace.Workspace
	acquirer Acquirer
	builder  ImageBuilder
	logger   *slog.Logger
}

// NewCompiler creates a Compiler.
func NewCompiler(cfg CompilerConfig) *Compiler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Compiler{
		settings: cfg.Settings,
		ws:       cfg.Workspace,
		acquirer: cfg.Acquirer,
		builder:  cfg.Builder,
		logger:   cfg.Logger.With("component", "compiler"),
	}
}

// run holds the state of one Compile call.
type run struct {
	*Compiler
	opts     Options
	manifest *manifest.Manifest
	logger   *slog.Logger

	appPorts      deployment.Ports
	consumerPorts deployment.Ports

	graph     *compose.Graph
	tools     *registry.ToolRegistry
	datatypes *registry.DatatypeRegistry
	report    *Report
}

// Compile provisions the appliance described by m.
//
// Steps, in order: port and image name checks, optional reset, platform acquisition, base topology,
// application units, consumer units, registry rewrite, data catalogs,
// platform image build, topology write. The registries are written once,
// after every unit merged cleanly.
func (c *Compiler) Compile(ctx context.Context, m *manifest.Manifest, opts Options) (*Report, error) {
	r := &run{
		Compiler: c,
		opts:     opts,
		manifest: m,
		report:   &Report{RunID: uuid.NewString()},
	}
	r.logger = c.logger.With("run_id", r.report.RunID)
	r.logger.Info("compile started",
		"apps", len(m.Apps), "consumers", len(m.Consumers),
		"mode", opts.Mode.String(), "reset", opts.Reset)

	if err := r.allocatePorts(); err != nil {
		return nil, err
	}
	if err := r.checkImageNames(); err != nil {
		return nil, err
	}
	if opts.Reset {
		if err := r.reset(); err != nil {
			return nil, err
		}
	}
	if err := r.preparePlatform(ctx); err != nil {
		return nil, err
	}

	for _, unit := range m.Apps {
		svc := deployment.ServiceName(deployment.KindApp, unit.Name)
		if !unit.Config.Enabled {
			r.skip(svc, r.appPorts[unit.Name])
			continue
		}
		if err := r.compileApp(ctx, unit, svc); err != nil {
			return nil, err
		}
	}
	for _, unit := range m.Consumers {
		svc := deployment.ServiceName(deployment.KindConsumer, unit.Name)
		if !unit.Config.Enabled {
			r.skip(svc, r.consumerPorts[unit.Name])
			continue
		}
		if err := r.compileConsumer(ctx, unit, svc); err != nil {
			return nil, err
		}
	}

	if err := r.writeRegistries(); err != nil {
		return nil, err
	}
	if err := r.writeCatalogs(); err != nil {
		return nil, err
	}
	if err := r.buildPlatform(ctx); err != nil {
		return nil, err
	}
	if err := r.writeTopology(); err != nil {
		return nil, err
	}

	r.logger.Info("compile finished",
		"apps", len(r.report.Apps), "consumers", len(r.report.Consumers),
		"skipped", len(r.report.Skipped), "topology", r.report.TopologyPath)
	return r.report, nil
}

// =============================================================================
// Run Steps
// =============================================================================

func (r *run) allocatePorts() error {
	s := r.settings
	apps, consumers := r.manifest.Apps, r.manifest.Consumers

	var err error
	if r.appPorts, err = deployment.AllocatePorts(apps.Names(), s.AppPortBase); err != nil {
		return NewCompileError(StageConfig, "", fmt.Errorf("apps: %w", err))
	}
	if r.consumerPorts, err = deployment.AllocatePorts(consumers.Names(), s.ConsumerPortBase); err != nil {
		return NewCompileError(StageConfig, "", fmt.Errorf("consumers: %w", err))
	}

	if deployment.RangesOverlap(s.AppPortBase, len(apps), s.ConsumerPortBase, len(consumers)) {
		return NewCompileError(StageConfig, "", fmt.Errorf("%w: %d apps from %d, %d consumers from %d",
			ErrPortRangesOverlap, len(apps), s.AppPortBase, len(consumers), s.ConsumerPortBase))
	}
	if deployment.RangesOverlap(s.PlatformHostPort, 1, s.AppPortBase, len(apps)) ||
		deployment.RangesOverlap(s.PlatformHostPort, 1, s.ConsumerPortBase, len(consumers)) {
		return NewCompileError(StageConfig, "", fmt.Errorf("%w: %d", ErrPlatformPortTaken, s.PlatformHostPort))
	}
	return nil
}

// checkImageNames rejects a run whose generated image names the daemon
// would refuse, before any tree is fetched.
func (r *run) checkImageNames() error {
	prefix := r.settings.ImagePrefix
	check := func(unit, image string) error {
		if err := deployment.ValidateImageName(image); err != nil {
			return NewCompileError(StageConfig, unit, err)
		}
		return nil
	}

	if err := check(r.settings.PlatformName, deployment.ImageName(prefix, r.settings.PlatformName)); err != nil {
		return err
	}
	for _, kind := range []struct {
		kind  deployment.Kind
		units manifest.Units
	}{
		{deployment.KindApp, r.manifest.Apps.Enabled()},
		{deployment.KindConsumer, r.manifest.Consumers.Enabled()},
	} {
		for _, unit := range kind.units {
			svc := deployment.ServiceName(kind.kind, unit.Name)
			if err := check(svc, deployment.ImageName(prefix, svc)); err != nil {
				return err
			}
		}
	}
	return nil
}

// reset removes every declared unit tree, enabled or not, the platform
// tree and the topology file.
func (r *run) reset() error {
	names := append(
		deployment.ServiceNames(deployment.KindApp, r.manifest.Apps.Names()),
		deployment.ServiceNames(deployment.KindConsumer, r.manifest.Consumers.Names())...,
	)

	removed, err := r.ws.Reset(names)
	if err != nil {
		return NewCompileError(StageReset, "", err)
	}
	for _, p := range removed {
		r.logger.Info("removed", "path", p)
	}
	r.report.Removed = removed
	return nil
}

// preparePlatform acquires the platform tree, loads both registries and
// starts the topology with the platform entry.
func (r *run) preparePlatform(ctx context.Context) error {
	s := r.settings
	dir := r.ws.PlatformDir()

	// The platform is always cloned; link mode only applies to units.
	spec := source.Spec{Repository: s.PlatformRepository, Branch: s.PlatformBranch}
	outcome, err := r.acquirer.Acquire(ctx, dir, spec, source.ModeFetch)
	if err != nil {
		return NewCompileError(StageAcquire, s.PlatformName, err)
	}
	r.logger.Info("platform acquired", "unit", s.PlatformName, "dir", dir, "outcome", outcome.String())

	toolDoc, err := r.ws.ReadXML(r.ws.ToolRegistryPath())
	if err != nil {
		return NewCompileError(StageFilesystem, s.PlatformName, err)
	}
	if r.tools, err = registry.NewToolRegistry(toolDoc); err != nil {
		return NewCompileError(StageRegistry, s.PlatformName, err)
	}

	datatypeDoc, err := r.ws.ReadXML(r.ws.DatatypeRegistryPath())
	if err != nil {
		return NewCompileError(StageFilesystem, s.PlatformName, err)
	}
	if r.datatypes, err = registry.NewDatatypeRegistry(datatypeDoc); err != nil {
		return NewCompileError(StageRegistry, s.PlatformName, err)
	}

	r.graph = compose.NewGraph(s.NetworkName, s.DefaultPort)
	r.graph.AddPlatformService(compose.PlatformService{
		Name:          s.PlatformName,
		Image:         deployment.ImageName(s.ImagePrefix, s.PlatformName),
		HostPort:      s.PlatformHostPort,
		ContainerPort: s.PlatformContainerPort,
		StoragePath:   r.manifest.StoragePath,
		DataMount:     s.StorageContainerPath,
	}, nil)
	return nil
}

func (r *run) skip(svc string, port int) {
	r.logger.Info("unit disabled", "unit", svc, "port", port)
	r.report.Skipped = append(r.report.Skipped, svc)
}

func (r *run) compileApp(ctx context.Context, unit manifest.Unit, svc string) error {
	s := r.settings
	port := r.appPorts[unit.Name]
	image := deployment.ImageName(s.ImagePrefix, svc)
	log := r.logger.With("unit", svc, "port", port, "image", image)

	if err := r.acquire(ctx, log, unit, svc); err != nil {
		return err
	}

	doc, err := r.toolDescriptor(log, unit, svc, port)
	if err != nil {
		return err
	}
	categories, err := descriptor.Categories(doc, svc)
	if err != nil {
		return NewCompileError(StageDescriptor, svc, err)
	}

	if err := r.build(ctx, log, svc, image, false); err != nil {
		return err
	}

	if err := r.ws.WriteXML(r.ws.ToolDescriptorPath(svc), doc); err != nil {
		return NewCompileError(StageFilesystem, svc, err)
	}

	file := deployment.DescriptorFilename(s.ImagePrefix, svc)
	merge, err := r.tools.AddTool(categories, file)
	if err != nil {
		return NewCompileError(StageRegistry, svc, err)
	}
	log.Info("tool registered", "step", "registry",
		"created_sections", merge.CreatedSections,
		"added_to", merge.AddedTo,
		"already_present", merge.AlreadyPresent)

	r.graph.AddUnitService(compose.UnitService{
		Name:          svc,
		Image:         image,
		HostPort:      port,
		ContainerPort: s.UnitContainerPort,
		StoragePath:   r.manifest.StoragePath,
		DataMount:     s.StorageContainerPath,
	})
	if err := r.graph.AddDependency(svc); err != nil {
		return NewCompileError(StageTopology, svc, err)
	}

	r.report.Apps = append(r.report.Apps, svc)
	return nil
}

// toolDescriptor adapts the unit's shipped descriptor, or synthesizes one
// when it ships none.
func (r *run) toolDescriptor(log *slog.Logger, unit manifest.Unit, svc string, port int) (*etree.Document, error) {
	params := descriptor.ToolParams{
		UnitName:    unit.Name,
		ServiceName: svc,
		Port:        port,
		Config:      unit.Config,
	}

	shipped := r.ws.ShippedDescriptorPath(svc)
	exists, err := r.ws.Exists(shipped)
	if err != nil {
		return nil, NewCompileError(StageFilesystem, svc, err)
	}

	if !exists {
		doc, err := descriptor.SynthesizeTool(params)
		if err != nil {
			var fieldErr *manifest.FieldError
			if errors.As(err, &fieldErr) {
				return nil, NewCompileError(StageConfig, svc, err)
			}
			return nil, NewCompileError(StageDescriptor, svc, err)
		}
		log.Debug("descriptor synthesized", "step", "descriptor")
		return doc, nil
	}

	doc, err := r.ws.ReadXML(shipped)
	if err != nil {
		return nil, NewCompileError(StageDescriptor, svc, err)
	}
	if err := descriptor.AdaptTool(doc, params); err != nil {
		return nil, NewCompileError(StageDescriptor, svc, err)
	}
	log.Debug("descriptor adapted", "step", "descriptor", "path", shipped)
	return doc, nil
}

func (r *run) compileConsumer(ctx context.Context, unit manifest.Unit, svc string) error {
	s := r.settings
	port := r.consumerPorts[unit.Name]
	image := deployment.ImageName(s.ImagePrefix, svc)
	log := r.logger.With("unit", svc, "port", port, "image", image)

	if err := r.acquire(ctx, log, unit, svc); err != nil {
		return err
	}
	if err := r.build(ctx, log, svc, image, false); err != nil {
		return err
	}

	doc := descriptor.Display(descriptor.DisplayParams{
		ServiceName: svc,
		Label:       unit.Config.Description,
		PublicHost:  s.PublicHost,
		Port:        port,
	})
	if err := r.ws.WriteXML(r.ws.DisplayDescriptorPath(svc), doc); err != nil {
		return NewCompileError(StageFilesystem, svc, err)
	}

	added, err := r.datatypes.AddDisplay(registry.JSONExtension, deployment.DescriptorFilename(s.ImagePrefix, svc))
	if err != nil {
		return NewCompileError(StageRegistry, svc, err)
	}
	log.Info("display registered", "step", "registry", "added", added)

	r.graph.AddUnitService(compose.UnitService{
		Name:          svc,
		Image:         image,
		HostPort:      port,
		ContainerPort: s.UnitContainerPort,
		StoragePath:   r.manifest.StoragePath,
		DataMount:     s.StorageContainerPath,
		StaticMount:   s.ConsumerStaticPath,
	})

	r.report.Consumers = append(r.report.Consumers, svc)
	return nil
}

func (r *run) acquire(ctx context.Context, log *slog.Logger, unit manifest.Unit, svc string) error {
	dir := r.ws.UnitDir(svc)
	spec := source.Spec{Repository: unit.Config.Repository, Branch: unit.Config.Branch}

	outcome, err := r.acquirer.Acquire(ctx, dir, spec, r.opts.Mode)
	if err != nil {
		return NewCompileError(StageAcquire, svc, err)
	}
	log.Info("source acquired", "step", "acquire", "outcome", outcome.String())
	return nil
}

// build builds the tree named name; the platform tree sits next to the
// unit trees, so one lookup covers both.
func (r *run) build(ctx context.Context, log *slog.Logger, name, image string, noCache bool) error {
	dir := r.ws.UnitDir(name)
	err := r.builder.BuildImage(ctx, docker.BuildSpec{
		ContextDir: dir,
		Dockerfile: r.ws.Dockerfile(dir),
		Tag:        image,
		NoCache:    noCache,
		Output:     r.opts.BuildOutput,
	})
	if err != nil {
		return NewCompileError(StageBuild, name, err)
	}
	log.Info("image built", "step", "build", "no_cache", noCache)
	return nil
}

func (r *run) writeRegistries() error {
	if err := r.ws.WriteXML(r.ws.ToolRegistryPath(), r.tools.Document()); err != nil {
		return NewCompileError(StageFilesystem, r.settings.PlatformName, err)
	}
	if err := r.ws.WriteXML(r.ws.DatatypeRegistryPath(), r.datatypes.Document()); err != nil {
		return NewCompileError(StageFilesystem, r.settings.PlatformName, err)
	}
	r.logger.Info("registries written", "sections", len(r.tools.Sections()))
	return nil
}

func (r *run) writeCatalogs() error {
	written, err := r.ws.WriteCatalogs(r.manifest.StoragePath, r.settings.StorageContainerPath)
	if err != nil {
		return NewCompileError(StageFilesystem, "", err)
	}
	for kind, n := range written {
		r.logger.Info("catalog written", "kind", string(kind), "entries", n)
	}
	r.report.Catalogs = written
	return nil
}

// buildPlatform always skips the layer cache: the registries inside its
// build context were just rewritten.
func (r *run) buildPlatform(ctx context.Context) error {
	s := r.settings
	image := deployment.ImageName(s.ImagePrefix, s.PlatformName)
	log := r.logger.With("unit", s.PlatformName, "image", image)
	return r.build(ctx, log, s.PlatformName, image, true)
}

// writeTopology checks the assembled document, verifies it loads as a
// compose project and writes it.
func (r *run) writeTopology() error {
	doc := r.graph.Document()
	if err := doc.Validate(); err != nil {
		return NewCompileError(StageTopology, "", err)
	}

	data, err := compose.Marshal(doc)
	if err != nil {
		return NewCompileError(StageTopology, "", err)
	}
	if _, err := compose.ParseTopology(string(data)); err != nil {
		return NewCompileError(StageTopology, "", err)
	}

	path := r.ws.TopologyPath()
	if err := r.ws.WriteFile(path, data); err != nil {
		return NewCompileError(StageFilesystem, "", err)
	}

	r.logger.Info("topology written", "path", path,
		"services", len(doc.Services), "platform_depends_on", r.graph.Dependencies())
	r.report.TopologyPath = path
	r.report.Topology = doc
	return nil
}
