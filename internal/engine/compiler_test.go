package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clamsproject/appliance/internal/core/catalog"
	"github.com/clamsproject/appliance/internal/core/compose"
	"github.com/clamsproject/appliance/internal/core/deployment"
	"github.com/clamsproject/appliance/internal/core/descriptor"
	"github.com/clamsproject/appliance/internal/core/manifest"
	"github.com/clamsproject/appliance/internal/core/registry"
	"github.com/clamsproject/appliance/internal/shell/docker"
	"github.com/clamsproject/appliance/internal/shell/source"
	"github.com/clamsproject/appliance/internal/shell/workspace"
	"github.com/distribution/reference"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Fixtures
// =============================================================================

const toolConf = `<?xml version="1.0"?>
<toolbox>
  <section id="Get Data" name="Get Data">
    <tool file="data_source/upload1.xml"/>
  </section>
</toolbox>
`

const datatypesConf = `<?xml version="1.0"?>
<datatypes>
  <registration converters_path="lib/galaxy/datatypes/converters" display_path="display_applications">
    <datatype extension="txt" type="galaxy.datatypes.data:Text"/>
    <datatype extension="json" type="galaxy.datatypes.text:Json"/>
  </registration>
</datatypes>
`

func testSettings() Settings {
	return Settings{
		PlatformName:          "clams-galaxy",
		PlatformRepository:    "https://github.com/clamsproject/clams-galaxy.git",
		PlatformBranch:        "dev",
		PlatformHostPort:      8080,
		PlatformContainerPort: 5000,
		PublicHost:            "localhost",
		NetworkName:           "clams-appliance",
		DefaultPort:           80,
		AppPortBase:           8001,
		ConsumerPortBase:      9001,
		UnitContainerPort:     5000,
		StorageContainerPath:  "/var/archive",
		ConsumerStaticPath:    "/app/static/archive",
		ImagePrefix:           "clams-",
	}
}

// scenarioManifest declares a disabled app before an enabled one, so the
// enabled app lands on the second port slot.
func scenarioManifest() *manifest.Manifest {
	return &manifest.Manifest{
		StoragePath: "/data",
		Apps: manifest.Units{
			{Name: "Y", Config: manifest.UnitConfig{Enabled: false, Repository: "https://example/y"}},
			{Name: "X", Config: manifest.UnitConfig{
				Enabled:     true,
				Repository:  "https://example/x",
				Branch:      "main",
				Description: "Transcriber",
				Type:        "speech recognition",
			}},
		},
		Consumers: manifest.Units{
			{Name: "Z", Config: manifest.UnitConfig{Enabled: true, Repository: "https://example/z", Description: "Viewer"}},
		},
	}
}

// =============================================================================
// Fakes
// =============================================================================

type acquireCall struct {
	Dir  string
	Spec source.Spec
	Mode source.Mode
}

// fakeAcquirer materializes source trees in an afero filesystem.
type fakeAcquirer struct {
	fs     afero.Fs
	trees  map[string]map[string]string // tree name -> relative path -> content
	failOn string
	calls  []acquireCall
}

func (f *fakeAcquirer) Acquire(_ context.Context, dir string, spec source.Spec, mode source.Mode) (source.Outcome, error) {
	f.calls = append(f.calls, acquireCall{Dir: dir, Spec: spec, Mode: mode})

	name := filepath.Base(dir)
	if name == f.failOn {
		return source.Reused, source.NewAcquireError(mode, dir, spec.Repository, "unreachable", source.ErrCloneFailed)
	}
	if ok, _ := afero.DirExists(f.fs, dir); ok {
		return source.Reused, nil
	}

	files := map[string]string{"Dockerfile": "FROM scratch\n"}
	for path, content := range f.trees[name] {
		files[path] = content
	}
	for path, content := range files {
		full := filepath.Join(dir, path)
		if err := f.fs.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return source.Reused, err
		}
		if err := afero.WriteFile(f.fs, full, []byte(content), 0o644); err != nil {
			return source.Reused, err
		}
	}
	return source.Cloned, nil
}

// fakeBuilder records builds and fails the one tagged failTag. Tags the
// daemon would refuse fail too.
type fakeBuilder struct {
	failTag string
	specs   []docker.BuildSpec
}

func (f *fakeBuilder) BuildImage(_ context.Context, spec docker.BuildSpec) error {
	f.specs = append(f.specs, spec)
	if _, err := reference.ParseNormalizedNamed(spec.Tag); err != nil {
		return docker.NewDockerError("BuildImage", "image", spec.Tag, err.Error(), docker.ErrInvalidBuildSpec)
	}
	if spec.Tag == f.failTag {
		return docker.NewDockerError("BuildImage", "image", spec.Tag, "step failed", docker.ErrImageBuildFailed)
	}
	return nil
}

func (f *fakeBuilder) tags() []string {
	tags := make([]string, 0, len(f.specs))
	for _, s := range f.specs {
		tags = append(tags, s.Tag)
	}
	return tags
}

type harness struct {
	fs       afero.Fs
	ws       *workspace.Workspace
	acquirer *fakeAcquirer
	builder  *fakeBuilder
	compiler *Compiler
}

func newHarness(t *testing.T, settings Settings) *harness {
	t.Helper()
	fsys := afero.NewMemMapFs()
	ws := workspace.New(fsys, workspace.Layout{
		Root:        "/work",
		Platform:    settings.PlatformName,
		Topology:    "docker-compose.yml",
		ImagePrefix: settings.ImagePrefix,
	})
	acquirer := &fakeAcquirer{
		fs: fsys,
		trees: map[string]map[string]string{
			settings.PlatformName: {
				"config/tool_conf.xml":      toolConf,
				"config/datatypes_conf.xml": datatypesConf,
			},
		},
	}
	builder := &fakeBuilder{}

	return &harness{
		fs:       fsys,
		ws:       ws,
		acquirer: acquirer,
		builder:  builder,
		compiler: NewCompiler(CompilerConfig{
			Settings:  settings,
			Workspace: ws,
			Acquirer:  acquirer,
			Builder:   builder,
			Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		}),
	}
}

func (h *harness) read(t *testing.T, path string) string {
	t.Helper()
	data, err := afero.ReadFile(h.fs, path)
	require.NoError(t, err)
	return string(data)
}

func (h *harness) toolRegistry(t *testing.T) *registry.ToolRegistry {
	t.Helper()
	doc, err := h.ws.ReadXML(h.ws.ToolRegistryPath())
	require.NoError(t, err)
	reg, err := registry.NewToolRegistry(doc)
	require.NoError(t, err)
	return reg
}

func (h *harness) datatypeRegistry(t *testing.T) *registry.DatatypeRegistry {
	t.Helper()
	doc, err := h.ws.ReadXML(h.ws.DatatypeRegistryPath())
	require.NoError(t, err)
	reg, err := registry.NewDatatypeRegistry(doc)
	require.NoError(t, err)
	return reg
}

// logRecords runs a compile with a debug JSON logger and returns the
// records keyed by message.
func (h *harness) logRecords(t *testing.T, settings Settings, m *manifest.Manifest) map[string]map[string]any {
	t.Helper()
	var buf bytes.Buffer
	c := NewCompiler(CompilerConfig{
		Settings:  settings,
		Workspace: h.ws,
		Acquirer:  h.acquirer,
		Builder:   h.builder,
		Logger:    slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
	_, err := c.Compile(context.Background(), m, Options{})
	require.NoError(t, err)

	records := make(map[string]map[string]any)
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		records[rec["msg"].(string)] = rec
	}
	return records
}

func requireStage(t *testing.T, err error, stage Stage, unit string) *CompileError {
	t.Helper()
	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, stage, compileErr.Stage)
	assert.Equal(t, unit, compileErr.Unit)
	return compileErr
}

// =============================================================================
// Topology Tests
// =============================================================================

func TestCompile_DisabledAppIsAbsent(t *testing.T) {
	h := newHarness(t, testSettings())

	report, err := h.compiler.Compile(context.Background(), scenarioManifest(), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"app-X"}, report.Apps)
	assert.Equal(t, []string{"consumer-Z"}, report.Consumers)
	assert.Equal(t, []string{"app-Y"}, report.Skipped)
	assert.NotEmpty(t, report.RunID)

	services := report.Topology.Services
	require.Len(t, services, 3)
	assert.Contains(t, services, "clams-galaxy")
	assert.Contains(t, services, "app-X")
	assert.Contains(t, services, "consumer-Z")
	assert.NotContains(t, services, "app-Y")

	// app-Y keeps slot 8001 even though it is disabled
	assert.Equal(t, []string{"8002:5000"}, services["app-X"].Ports)
	assert.Equal(t, []string{"9001:5000"}, services["consumer-Z"].Ports)
}

func TestCompile_PlatformEntry(t *testing.T) {
	h := newHarness(t, testSettings())

	report, err := h.compiler.Compile(context.Background(), scenarioManifest(), Options{})
	require.NoError(t, err)

	platform := report.Topology.Services["clams-galaxy"]
	require.NotNil(t, platform)
	assert.Equal(t, "clams-clams-galaxy", platform.Image)
	assert.Equal(t, "clams-galaxy", platform.ContainerName)
	assert.Equal(t, []string{"8080:5000"}, platform.Ports)
	assert.Equal(t, []string{"/data:/var/archive:ro"}, platform.Volumes)
	assert.True(t, platform.Privileged)
	assert.Equal(t, []string{"app-X"}, platform.DependsOn, "depends on enabled apps only")
	assert.Equal(t, []string{"clams-appliance"}, platform.Networks)
}

func TestCompile_UnitEntries(t *testing.T) {
	h := newHarness(t, testSettings())

	report, err := h.compiler.Compile(context.Background(), scenarioManifest(), Options{})
	require.NoError(t, err)

	app := report.Topology.Services["app-X"]
	assert.Equal(t, "clams-app-x", app.Image)
	assert.Equal(t, []string{"/data:/var/archive:ro"}, app.Volumes)
	assert.Empty(t, app.DependsOn)
	assert.False(t, app.Privileged)

	consumer := report.Topology.Services["consumer-Z"]
	assert.Equal(t, "clams-consumer-z", consumer.Image)
	assert.Equal(t, []string{
		"/data:/var/archive:ro",
		"/data:/app/static/archive:ro",
	}, consumer.Volumes)
}

func TestCompile_WritesLoadableTopology(t *testing.T) {
	h := newHarness(t, testSettings())

	report, err := h.compiler.Compile(context.Background(), scenarioManifest(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "/work/docker-compose.yml", report.TopologyPath)

	written := h.read(t, report.TopologyPath)
	doc, err := compose.Unmarshal([]byte(written))
	require.NoError(t, err)
	assert.Equal(t, report.Topology, doc)

	spec, err := compose.ParseTopology(written)
	require.NoError(t, err)
	assert.Equal(t, []string{"clams-appliance"}, spec.Networks)
}

func TestCompile_MappingOmittedForDefaultPort(t *testing.T) {
	settings := testSettings()
	settings.UnitContainerPort = 80
	h := newHarness(t, settings)

	report, err := h.compiler.Compile(context.Background(), scenarioManifest(), Options{})
	require.NoError(t, err)

	assert.Empty(t, report.Topology.Services["app-X"].Ports)
	assert.Empty(t, report.Topology.Services["consumer-Z"].Ports)
	assert.Equal(t, []string{"8080:5000"}, report.Topology.Services["clams-galaxy"].Ports)
}

func TestCompile_LogsCarryUnitAttributes(t *testing.T) {
	settings := testSettings()
	h := newHarness(t, settings)

	records := h.logRecords(t, settings, scenarioManifest())

	synthesized := records["descriptor synthesized"]
	require.NotNil(t, synthesized)
	assert.Equal(t, "app-X", synthesized["unit"])
	assert.Equal(t, float64(8002), synthesized["port"])
	assert.Equal(t, "clams-app-x", synthesized["image"])
	assert.NotEmpty(t, synthesized["run_id"])

	written := records["topology written"]
	require.NotNil(t, written)
	assert.Equal(t, []any{"app-X"}, written["platform_depends_on"])
}

// =============================================================================
// Build and Acquisition Tests
// =============================================================================

func TestCompile_BuildOrder(t *testing.T) {
	h := newHarness(t, testSettings())

	_, err := h.compiler.Compile(context.Background(), scenarioManifest(), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"clams-app-x", "clams-consumer-z", "clams-clams-galaxy"}, h.builder.tags())

	for _, spec := range h.builder.specs[:2] {
		assert.False(t, spec.NoCache, spec.Tag)
	}
	platform := h.builder.specs[2]
	assert.True(t, platform.NoCache, "platform always rebuilds")
	assert.Equal(t, "/work/clams-galaxy", platform.ContextDir)
	assert.Equal(t, "/work/clams-galaxy/Dockerfile", platform.Dockerfile)
}

func TestCompile_ImageTagsAreValidReferences(t *testing.T) {
	h := newHarness(t, testSettings())

	report, err := h.compiler.Compile(context.Background(), scenarioManifest(), Options{})
	require.NoError(t, err)

	require.Len(t, h.builder.specs, 3)
	for _, spec := range h.builder.specs {
		_, err := reference.ParseNormalizedNamed(spec.Tag)
		assert.NoError(t, err, spec.Tag)
	}
	for name, svc := range report.Topology.Services {
		_, err := reference.ParseNormalizedNamed(svc.Image)
		assert.NoError(t, err, name)
	}
}

func TestCompile_InvalidImagePrefixIsConfigError(t *testing.T) {
	settings := testSettings()
	settings.ImagePrefix = "clams app-"
	h := newHarness(t, settings)

	_, err := h.compiler.Compile(context.Background(), scenarioManifest(), Options{})
	requireStage(t, err, StageConfig, "clams-galaxy")
	assert.ErrorIs(t, err, deployment.ErrInvalidImageName)
	assert.Empty(t, h.acquirer.calls)
	assert.Empty(t, h.builder.specs)
}

func TestCompile_LinkModeAppliesToUnitsOnly(t *testing.T) {
	h := newHarness(t, testSettings())

	_, err := h.compiler.Compile(context.Background(), scenarioManifest(), Options{Mode: source.ModeLink})
	require.NoError(t, err)

	require.Len(t, h.acquirer.calls, 3)
	platform := h.acquirer.calls[0]
	assert.Equal(t, "/work/clams-galaxy", platform.Dir)
	assert.Equal(t, source.ModeFetch, platform.Mode)
	assert.Equal(t, "dev", platform.Spec.Branch)

	assert.Equal(t, acquireCall{
		Dir:  "/work/app-X",
		Spec: source.Spec{Repository: "https://example/x", Branch: "main"},
		Mode: source.ModeLink,
	}, h.acquirer.calls[1])
	assert.Equal(t, source.ModeLink, h.acquirer.calls[2].Mode)
}

func TestCompile_AcquisitionFailureLeavesRegistriesUntouched(t *testing.T) {
	h := newHarness(t, testSettings())
	h.acquirer.failOn = "consumer-Z"

	_, err := h.compiler.Compile(context.Background(), scenarioManifest(), Options{})
	requireStage(t, err, StageAcquire, "consumer-Z")
	assert.ErrorIs(t, err, source.ErrCloneFailed)

	assert.Equal(t, toolConf, h.read(t, h.ws.ToolRegistryPath()), "registry is written only at the end")
	assert.Equal(t, datatypesConf, h.read(t, h.ws.DatatypeRegistryPath()))

	ok, err := afero.Exists(h.fs, h.ws.TopologyPath())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompile_PlatformAcquisitionFailure(t *testing.T) {
	h := newHarness(t, testSettings())
	h.acquirer.failOn = "clams-galaxy"

	_, err := h.compiler.Compile(context.Background(), scenarioManifest(), Options{})
	requireStage(t, err, StageAcquire, "clams-galaxy")
	assert.Empty(t, h.builder.specs)
}

func TestCompile_BuildFailure(t *testing.T) {
	h := newHarness(t, testSettings())
	h.builder.failTag = "clams-app-x"

	_, err := h.compiler.Compile(context.Background(), scenarioManifest(), Options{})
	requireStage(t, err, StageBuild, "app-X")
	assert.ErrorIs(t, err, docker.ErrImageBuildFailed)

	ok, err := afero.Exists(h.fs, h.ws.ToolDescriptorPath("app-X"))
	require.NoError(t, err)
	assert.False(t, ok, "no descriptor for a unit whose image failed")
}

// =============================================================================
// Descriptor Tests
// =============================================================================

func TestCompile_SynthesizedToolDescriptor(t *testing.T) {
	h := newHarness(t, testSettings())

	_, err := h.compiler.Compile(context.Background(), scenarioManifest(), Options{})
	require.NoError(t, err)

	doc, err := h.ws.ReadXML("/work/clams-galaxy/tools/clams-app-X.xml")
	require.NoError(t, err)

	tool := doc.SelectElement("tool")
	require.NotNil(t, tool)
	assert.Equal(t, "app-X", tool.SelectAttrValue("id", ""))
	assert.Equal(t, "Transcriber", tool.SelectAttrValue("name", ""))
	assert.Equal(t, "main", tool.SelectAttrValue("version", ""))
	assert.Equal(t, descriptor.Command("app-X", 8002), tool.SelectElement("command").Text())
	assert.Equal(t, "Speech Recognition", tool.SelectElement("help").Text())
}

func TestCompile_ShippedToolDescriptorIsAdapted(t *testing.T) {
	h := newHarness(t, testSettings())
	h.acquirer.trees["app-ner"] = map[string]string{
		"config.xml": `<tool id="ner" name="NER" version="1.2">
  <command interpreter="python">ner.py $input $output</command>
  <help><![CDATA[Named Entity, NLP]]></help>
</tool>`,
	}
	m := &manifest.Manifest{
		StoragePath: "/data",
		Apps: manifest.Units{
			{Name: "ner", Config: manifest.UnitConfig{Enabled: true, Repository: "https://example/ner"}},
		},
	}

	_, err := h.compiler.Compile(context.Background(), m, Options{})
	require.NoError(t, err)

	written := h.read(t, h.ws.ToolDescriptorPath("app-ner"))
	assert.Contains(t, written, "app-ner:8001 &gt; $output")
	assert.NotContains(t, written, "interpreter")
	assert.Contains(t, written, "<![CDATA[Named Entity, NLP]]>")

	reg := h.toolRegistry(t)
	sections := reg.Sections()
	require.Len(t, sections, 3)
	assert.Equal(t, registry.Section{ID: "Named Entity", Name: "Named Entity Apps", Tools: []string{"clams-app-ner.xml"}}, sections[1])
	assert.Equal(t, registry.Section{ID: "NLP", Name: "NLP Apps", Tools: []string{"clams-app-ner.xml"}}, sections[2])
}

func TestCompile_MissingDescriptionIsConfigError(t *testing.T) {
	h := newHarness(t, testSettings())
	m := &manifest.Manifest{
		StoragePath: "/data",
		Apps: manifest.Units{
			{Name: "x", Config: manifest.UnitConfig{Enabled: true, Repository: "https://example/x", Type: "ocr"}},
		},
	}

	_, err := h.compiler.Compile(context.Background(), m, Options{})
	requireStage(t, err, StageConfig, "app-x")
	assert.ErrorIs(t, err, manifest.ErrMissingDescription)
	assert.Empty(t, h.builder.specs, "checked before the image build")
}

func TestCompile_NoCategoriesIsDescriptorError(t *testing.T) {
	h := newHarness(t, testSettings())
	m := &manifest.Manifest{
		StoragePath: "/data",
		Apps: manifest.Units{
			{Name: "x", Config: manifest.UnitConfig{Enabled: true, Repository: "r", Description: "X"}},
		},
	}

	_, err := h.compiler.Compile(context.Background(), m, Options{})
	requireStage(t, err, StageDescriptor, "app-x")
	assert.ErrorIs(t, err, descriptor.ErrNoCategories)
}

func TestCompile_DisplayDescriptor(t *testing.T) {
	h := newHarness(t, testSettings())

	_, err := h.compiler.Compile(context.Background(), scenarioManifest(), Options{})
	require.NoError(t, err)

	doc, err := h.ws.ReadXML("/work/clams-galaxy/display_applications/clams-consumer-Z.xml")
	require.NoError(t, err)

	display := doc.SelectElement("display")
	require.NotNil(t, display)
	assert.Equal(t, "consumer-Z", display.SelectAttrValue("id", ""))
	assert.Equal(t, "Viewer", display.SelectAttrValue("name", ""))
	assert.Equal(t, "http://localhost:9001", display.FindElement("link/url").Text())
}

// =============================================================================
// Registry Tests
// =============================================================================

func TestCompile_RegistriesMerged(t *testing.T) {
	h := newHarness(t, testSettings())

	_, err := h.compiler.Compile(context.Background(), scenarioManifest(), Options{})
	require.NoError(t, err)

	sections := h.toolRegistry(t).Sections()
	require.Len(t, sections, 2)
	assert.Equal(t, "Get Data", sections[0].ID, "existing sections are kept in place")
	assert.Equal(t, []string{"data_source/upload1.xml"}, sections[0].Tools)
	assert.Equal(t, registry.Section{
		ID:    "Speech Recognition",
		Name:  "Speech Recognition Apps",
		Tools: []string{"clams-app-X.xml"},
	}, sections[1])

	datatypes := h.datatypeRegistry(t)
	assert.Equal(t, []string{"clams-consumer-Z.xml"}, datatypes.Displays(registry.JSONExtension))
	assert.Empty(t, datatypes.Displays("txt"))
}

func TestCompile_SharedCategoryReusesSection(t *testing.T) {
	h := newHarness(t, testSettings())
	m := &manifest.Manifest{
		StoragePath: "/data",
		Apps: manifest.Units{
			{Name: "a", Config: manifest.UnitConfig{Enabled: true, Repository: "r", Description: "A", Type: "ocr"}},
			{Name: "b", Config: manifest.UnitConfig{Enabled: true, Repository: "r", Description: "B", Type: "ocr"}},
		},
	}

	_, err := h.compiler.Compile(context.Background(), m, Options{})
	require.NoError(t, err)

	sections := h.toolRegistry(t).Sections()
	require.Len(t, sections, 2)
	assert.Equal(t, "Ocr", sections[1].ID)
	assert.Equal(t, []string{"clams-app-a.xml", "clams-app-b.xml"}, sections[1].Tools)
}

func TestCompile_MissingJSONDatatype(t *testing.T) {
	h := newHarness(t, testSettings())
	h.acquirer.trees["clams-galaxy"]["config/datatypes_conf.xml"] =
		`<datatypes><registration><datatype extension="txt"/></registration></datatypes>`

	_, err := h.compiler.Compile(context.Background(), scenarioManifest(), Options{})
	requireStage(t, err, StageRegistry, "consumer-Z")
	assert.ErrorIs(t, err, registry.ErrNoDatatype)
}

func TestCompile_RegistryWithoutToolbox(t *testing.T) {
	h := newHarness(t, testSettings())
	h.acquirer.trees["clams-galaxy"]["config/tool_conf.xml"] = `<tools/>`

	_, err := h.compiler.Compile(context.Background(), scenarioManifest(), Options{})
	requireStage(t, err, StageRegistry, "clams-galaxy")
	assert.ErrorIs(t, err, registry.ErrNotToolbox)
}

func TestCompile_MissingRegistryFile(t *testing.T) {
	h := newHarness(t, testSettings())
	delete(h.acquirer.trees["clams-galaxy"], "config/tool_conf.xml")

	_, err := h.compiler.Compile(context.Background(), scenarioManifest(), Options{})
	requireStage(t, err, StageFilesystem, "clams-galaxy")
}

// =============================================================================
// Re-run and Reset Tests
// =============================================================================

func TestCompile_RerunIsEquivalent(t *testing.T) {
	h := newHarness(t, testSettings())

	first, err := h.compiler.Compile(context.Background(), scenarioManifest(), Options{})
	require.NoError(t, err)
	firstTopology := h.read(t, first.TopologyPath)
	firstRegistry := h.read(t, h.ws.ToolRegistryPath())
	firstDatatypes := h.read(t, h.ws.DatatypeRegistryPath())

	second, err := h.compiler.Compile(context.Background(), scenarioManifest(), Options{})
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, firstTopology, h.read(t, second.TopologyPath))
	assert.Equal(t, firstRegistry, h.read(t, h.ws.ToolRegistryPath()), "re-running adds no leaves")
	assert.Equal(t, firstDatatypes, h.read(t, h.ws.DatatypeRegistryPath()))
}

func TestCompile_ResetRemovesTreesAndRegenerates(t *testing.T) {
	h := newHarness(t, testSettings())

	first, err := h.compiler.Compile(context.Background(), scenarioManifest(), Options{})
	require.NoError(t, err)
	firstTopology := h.read(t, first.TopologyPath)

	markers := []string{
		"/work/app-X/local-edit",
		"/work/consumer-Z/local-edit",
		"/work/clams-galaxy/local-edit",
	}
	for _, m := range markers {
		require.NoError(t, afero.WriteFile(h.fs, m, []byte("x"), 0o644))
	}

	second, err := h.compiler.Compile(context.Background(), scenarioManifest(), Options{Reset: true})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/work/app-X",
		"/work/consumer-Z",
		"/work/clams-galaxy",
		"/work/docker-compose.yml",
	}, second.Removed)
	for _, m := range markers {
		ok, err := afero.Exists(h.fs, m)
		require.NoError(t, err)
		assert.False(t, ok, m)
	}
	assert.Equal(t, firstTopology, h.read(t, second.TopologyPath))
}

// =============================================================================
// Catalog Tests
// =============================================================================

func TestCompile_WritesCatalogs(t *testing.T) {
	h := newHarness(t, testSettings())
	for _, p := range []string{"/data/video/a.mp4", "/data/text/.hidden", "/data/text/b.txt"} {
		require.NoError(t, afero.WriteFile(h.fs, p, nil, 0o644))
	}

	report, err := h.compiler.Compile(context.Background(), scenarioManifest(), Options{})
	require.NoError(t, err)

	assert.Equal(t, map[catalog.Kind]int{catalog.KindVideo: 1, catalog.KindText: 1}, report.Catalogs)
	assert.Equal(t, "a.mp4\t/var/archive/video/a.mp4\n", h.read(t, "/work/clams-galaxy/tool-data/videodb.loc"))
	assert.Equal(t, "b.txt\t/var/archive/text/b.txt\n", h.read(t, "/work/clams-galaxy/tool-data/textdb.loc"))
}

// =============================================================================
// Port Configuration Tests
// =============================================================================

func TestCompile_OverlappingPortRanges(t *testing.T) {
	settings := testSettings()
	settings.ConsumerPortBase = 8002
	h := newHarness(t, settings)

	_, err := h.compiler.Compile(context.Background(), scenarioManifest(), Options{})
	requireStage(t, err, StageConfig, "")
	assert.ErrorIs(t, err, ErrPortRangesOverlap)
	assert.Empty(t, h.acquirer.calls, "nothing is acquired on a config error")
}

func TestCompile_PlatformPortCollision(t *testing.T) {
	settings := testSettings()
	settings.PlatformHostPort = 8002
	h := newHarness(t, settings)

	_, err := h.compiler.Compile(context.Background(), scenarioManifest(), Options{})
	assert.ErrorIs(t, err, ErrPlatformPortTaken)
}

func TestCompile_PortRangeBeyondMax(t *testing.T) {
	settings := testSettings()
	settings.AppPortBase = 65535
	h := newHarness(t, settings)

	_, err := h.compiler.Compile(context.Background(), scenarioManifest(), Options{})
	requireStage(t, err, StageConfig, "")
}

// =============================================================================
// Error Tests
// =============================================================================

func TestCompileError(t *testing.T) {
	err := NewCompileError(StageBuild, "app-x", docker.ErrImageBuildFailed)
	assert.Equal(t, "build app-x: image build failed", err.Error())
	assert.True(t, errors.Is(err, docker.ErrImageBuildFailed))

	err = NewCompileError(StageReset, "", errors.New("permission denied"))
	assert.True(t, strings.HasPrefix(err.Error(), "reset: "))
}
