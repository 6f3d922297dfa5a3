package manifest

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Parsing
// =============================================================================

// Parse decodes a manifest document.
// The storage path is returned as written; call ExpandPath before use.
func Parse(data []byte) (*Manifest, error) {
	if strings.TrimSpace(string(data)) == "" {
		return nil, ErrEmptyInput
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		var fieldErr *FieldError
		if errors.As(err, &fieldErr) {
			return nil, fieldErr
		}
		return nil, NewFieldError("", err.Error(), ErrInvalidYAML)
	}
	return &m, nil
}

// Load reads and parses the manifest at path, then validates it and
// expands its storage path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	expanded, err := ExpandPath(m.StoragePath)
	if err != nil {
		return nil, NewFieldError("storage_path", err.Error(), err)
	}
	m.StoragePath = expanded
	return m, nil
}

// ExpandPath applies environment variable and home directory expansion.
//
// Example:
//
//	ExpandPath("~/archive/$SITE") // "/home/me/archive/wgbh" when SITE=wgbh
func ExpandPath(path string) (string, error) {
	return homedir.Expand(os.ExpandEnv(path))
}

// =============================================================================
// Validation
// =============================================================================

// Validate checks the manifest for configuration errors.
// Disabled units are only checked for a valid name; they are never fetched,
// built or registered, so their remaining fields are irrelevant.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.StoragePath) == "" {
		return NewFieldError("storage_path", "storage_path is required", ErrMissingStoragePath)
	}
	if err := validateUnits("apps", m.Apps, false); err != nil {
		return err
	}
	return validateUnits("consumers", m.Consumers, true)
}

func validateUnits(section string, units Units, needsDescription bool) error {
	for _, unit := range units {
		field := section + "." + unit.Name
		if !ValidName(unit.Name) {
			return NewFieldError(field, "name must be a hostname label (letters and digits joined by '-', '_' or '.')", ErrInvalidName)
		}
		if !unit.Config.Enabled {
			continue
		}
		if strings.TrimSpace(unit.Config.Repository) == "" {
			return NewFieldError(field+".repository", "repository is required for enabled units", ErrMissingRepository)
		}
		if needsDescription && strings.TrimSpace(unit.Config.Description) == "" {
			return NewFieldError(field+".description", "description is required for enabled consumers", ErrMissingDescription)
		}
	}
	return nil
}

// ValidName reports whether name can be used inside a container hostname
// and, lowercased, inside an image repository name.
//
// The accepted characters are:
//   - Letters (a-z, A-Z) and digits (0-9)
//   - Hyphens, underscores and dots between alphanumerics
//
// Hyphens may repeat; dots and underscores may not touch another separator.
func ValidName(name string) bool {
	if name == "" || len(name) > 63 {
		return false
	}
	prev := rune(0)
	for _, r := range name {
		switch {
		case isAlnum(r):
		case r == '-' && (isAlnum(prev) || prev == '-'):
		case (r == '_' || r == '.') && isAlnum(prev):
		default:
			return false
		}
		prev = r
	}
	return isAlnum(prev)
}

func isAlnum(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
}
