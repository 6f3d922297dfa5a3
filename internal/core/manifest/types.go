package manifest

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Manifest
// =============================================================================

// Manifest is the parsed appliance manifest.
// It is read once per run and never mutated afterwards.
type Manifest struct {
	StoragePath string `yaml:"storage_path"`
	Apps        Units  `yaml:"apps"`
	Consumers   Units  `yaml:"consumers"`
}

// UnitConfig is the per-unit manifest entry.
type UnitConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Repository  string `yaml:"repository"`
	Branch      string `yaml:"branch,omitempty"`
	Description string `yaml:"description"`
	// Type classifies an application for tool registry grouping.
	// Comma-separated when an app belongs to several categories.
	Type string `yaml:"type,omitempty"`
}

// Unit is one named manifest entry.
type Unit struct {
	Name   string
	Config UnitConfig
}

// =============================================================================
// Units - ordered mapping
// =============================================================================

// Units is an ordered name → config mapping.
// Declaration order determines port numbers, so a Go map cannot be used.
type Units []Unit

// UnmarshalYAML decodes a YAML mapping while keeping key order.
func (u *Units) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
		*u = nil
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return NewFieldError("", fmt.Sprintf("line %d: units must be a mapping of name to config", value.Line), ErrNotMapping)
	}

	units := make(Units, 0, len(value.Content)/2)
	seen := make(map[string]bool, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		keyNode, valNode := value.Content[i], value.Content[i+1]

		var name string
		if err := keyNode.Decode(&name); err != nil {
			return fmt.Errorf("line %d: %w", keyNode.Line, err)
		}
		if seen[name] {
			return NewFieldError(name, fmt.Sprintf("line %d: unit declared more than once", keyNode.Line), ErrDuplicateUnit)
		}
		seen[name] = true

		var cfg UnitConfig
		if err := valNode.Decode(&cfg); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		units = append(units, Unit{Name: name, Config: cfg})
	}

	*u = units
	return nil
}

// MarshalYAML encodes the units as a mapping in declaration order.
func (u Units) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, unit := range u {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: unit.Name}
		val := &yaml.Node{}
		if err := val.Encode(unit.Config); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, key, val)
	}
	return node, nil
}

// Names returns unit names in declaration order.
func (u Units) Names() []string {
	names := make([]string, 0, len(u))
	for _, unit := range u {
		names = append(names, unit.Name)
	}
	return names
}

// Enabled returns the enabled units in declaration order.
func (u Units) Enabled() Units {
	var enabled Units
	for _, unit := range u {
		if unit.Config.Enabled {
			enabled = append(enabled, unit)
		}
	}
	return enabled
}
