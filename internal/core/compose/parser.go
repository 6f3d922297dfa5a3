package compose

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"github.com/docker/go-connections/nat"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Serialization
// =============================================================================

// Marshal serializes a topology document to YAML.
// The appliance network is written as an explicit null.
func Marshal(doc *Document) ([]byte, error) {
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal topology: %w", err)
	}
	return out, nil
}

// Unmarshal decodes a topology document previously written by Marshal.
func Unmarshal(data []byte) (*Document, error) {
	if strings.TrimSpace(string(data)) == "" {
		return nil, ErrEmptyInput
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, NewParseError("", err.Error(), ErrInvalidYAML)
	}
	return &doc, nil
}

// =============================================================================
// Validation
// =============================================================================

// Validate checks that every port entry is well formed and that no host
// port is published twice.
func (d *Document) Validate() error {
	if len(d.Services) == 0 {
		return ErrNoServices
	}

	names := make([]string, 0, len(d.Services))
	for name := range d.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	published := make(map[string]string)
	for _, name := range names {
		svc := d.Services[name]
		if svc.Image == "" {
			return NewParseError("services."+name, "service must have an image", ErrServiceNoImage)
		}
		for i, raw := range svc.Ports {
			field := fmt.Sprintf("services.%s.ports[%d]", name, i)
			mappings, err := nat.ParsePortSpec(raw)
			if err != nil {
				return NewParseError(field, err.Error(), ErrServiceInvalidPort)
			}
			for _, m := range mappings {
				if m.Binding.HostPort == "" {
					continue
				}
				key := m.Binding.HostPort + "/" + m.Port.Proto()
				if owner, taken := published[key]; taken {
					return NewParseError(field, fmt.Sprintf("host port %s already published by %s", key, owner), ErrDuplicateHostPort)
				}
				published[key] = name
			}
		}
	}
	return nil
}

// =============================================================================
// compose-go Loading
// =============================================================================

// ParseTopology loads a topology with compose-go, the same loader
// docker compose uses, and converts it into a ParsedSpec. Dependency
// cycles and malformed ports are reported by the loader.
// This is a pure function - no I/O, no side effects.
func ParseTopology(yamlContent string) (*ParsedSpec, error) {
	if strings.TrimSpace(yamlContent) == "" {
		return nil, ErrEmptyInput
	}

	project, err := loadComposeSpec(yamlContent)
	if err != nil {
		return nil, err
	}
	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	names := make([]string, 0, len(project.Services))
	for name := range project.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	spec := &ParsedSpec{
		Services: make([]ParsedService, 0, len(project.Services)),
	}
	for _, name := range names {
		spec.Services = append(spec.Services, convertService(project.Services[name]))
	}

	for name := range project.Networks {
		spec.Networks = append(spec.Networks, name)
	}
	sort.Strings(spec.Networks)

	return spec, nil
}

// loadComposeSpec loads a compose document using compose-go
func loadComposeSpec(yamlContent string) (*types.Project, error) {
	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlContent), &dict); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	if dict == nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: []byte(yamlContent),
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName("appliance", false)
		opts.SkipValidation = false
		opts.SkipInterpolation = false // Enable interpolation for proper type parsing
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "dependency cycle detected") {
			return nil, NewParseError("", "circular dependency detected", ErrCircularDependency)
		}
		if strings.Contains(errStr, "image") && strings.Contains(errStr, "build") {
			return nil, NewParseError("", "service must have image or build", ErrServiceNoImage)
		}
		return nil, NewParseError("", errStr, ErrInvalidYAML)
	}

	return project, nil
}

// convertService converts a compose-go service to our ParsedService type
func convertService(svc types.ServiceConfig) ParsedService {
	service := ParsedService{
		Name:       svc.Name,
		Image:      svc.Image,
		Privileged: svc.Privileged,
		Networks:   make([]string, 0, len(svc.Networks)),
		DependsOn:  make([]string, 0, len(svc.DependsOn)),
	}

	for _, p := range svc.Ports {
		var published uint32
		if p.Published != "" {
			if pub, err := strconv.ParseUint(p.Published, 10, 32); err == nil {
				published = uint32(pub)
			}
		}
		service.Ports = append(service.Ports, Port{
			Target:    p.Target,
			Published: published,
			Protocol:  p.Protocol,
		})
	}

	for _, v := range svc.Volumes {
		service.Volumes = append(service.Volumes, VolumeMount{
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	for net := range svc.Networks {
		service.Networks = append(service.Networks, net)
	}
	sort.Strings(service.Networks)

	for dep := range svc.DependsOn {
		service.DependsOn = append(service.DependsOn, dep)
	}
	sort.Strings(service.DependsOn)

	return service
}
