package compose

import (
	"fmt"
	"slices"
)

// =============================================================================
// Service Specs - builder inputs
// =============================================================================

// PlatformService describes the orchestration platform entry.
type PlatformService struct {
	Name          string
	Image         string
	HostPort      int
	ContainerPort int
	StoragePath   string // host path, mounted read-only
	DataMount     string // container path of the storage mount
}

// UnitService describes one application or consumer entry.
type UnitService struct {
	Name          string
	Image         string
	HostPort      int
	ContainerPort int
	StoragePath   string
	DataMount     string
	// StaticMount, when set, adds a second read-only alias of the storage
	// path for consumers that render media inline.
	StaticMount string
}

// =============================================================================
// Graph
// =============================================================================

// Graph assembles a topology Document.
// Services are keyed by name; adding a service twice replaces it.
type Graph struct {
	network     string
	defaultPort int
	platform    string
	doc         *Document
}

// NewGraph returns an empty graph with the appliance network declared.
// Services whose container port equals defaultPort get no port mapping.
func NewGraph(network string, defaultPort int) *Graph {
	return &Graph{
		network:     network,
		defaultPort: defaultPort,
		doc: &Document{
			Version:  Version,
			Services: make(map[string]*Service),
			Networks: map[string]*Network{network: nil},
		},
	}
}

// AddPlatformService inserts the orchestration platform entry. The platform
// runs privileged and depends on every name in dependencies.
func (g *Graph) AddPlatformService(svc PlatformService, dependencies []string) {
	entry := g.baseService(svc.Name, svc.Image, svc.HostPort, svc.ContainerPort)
	entry.Volumes = []string{BindMount(svc.StoragePath, svc.DataMount)}
	entry.Privileged = true
	entry.DependsOn = dedupe(dependencies)

	g.doc.Services[svc.Name] = entry
	g.platform = svc.Name
}

// AddUnitService inserts one application or consumer entry.
func (g *Graph) AddUnitService(svc UnitService) {
	entry := g.baseService(svc.Name, svc.Image, svc.HostPort, svc.ContainerPort)
	entry.Volumes = []string{BindMount(svc.StoragePath, svc.DataMount)}
	if svc.StaticMount != "" {
		entry.Volumes = append(entry.Volumes, BindMount(svc.StoragePath, svc.StaticMount))
	}

	g.doc.Services[svc.Name] = entry
}

// AddDependency adds name to the platform's dependency list.
// The named service must already be in the graph.
func (g *Graph) AddDependency(name string) error {
	platform, ok := g.doc.Services[g.platform]
	if g.platform == "" || !ok {
		return ErrNoPlatformService
	}
	if _, ok := g.doc.Services[name]; !ok {
		return NewParseError("services."+name, "cannot depend on a service that is not defined", ErrUnknownService)
	}
	if !slices.Contains(platform.DependsOn, name) {
		platform.DependsOn = append(platform.DependsOn, name)
	}
	return nil
}

// Dependencies returns the platform's current dependency list.
func (g *Graph) Dependencies() []string {
	if platform, ok := g.doc.Services[g.platform]; ok {
		return slices.Clone(platform.DependsOn)
	}
	return nil
}

// Document returns the assembled topology.
func (g *Graph) Document() *Document {
	return g.doc
}

func (g *Graph) baseService(name, image string, hostPort, containerPort int) *Service {
	svc := &Service{
		Image:         image,
		ContainerName: name,
		Networks:      []string{g.network},
	}
	if containerPort != g.defaultPort && hostPort > 0 {
		svc.Ports = []string{PortMapping(hostPort, containerPort)}
	}
	return svc
}

// =============================================================================
// Formatting helpers
// =============================================================================

// PortMapping formats a "<host>:<container>" port entry.
func PortMapping(hostPort, containerPort int) string {
	return fmt.Sprintf("%d:%d", hostPort, containerPort)
}

// BindMount formats a read-only "<host>:<container>:ro" volume entry.
func BindMount(hostPath, containerPath string) string {
	return fmt.Sprintf("%s:%s:ro", hostPath, containerPath)
}

func dedupe(names []string) []string {
	var out []string
	for _, n := range names {
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}
