package deployment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/distribution/reference"
)

// ErrInvalidImageName is returned when a generated image name is not a
// valid image reference.
var ErrInvalidImageName = errors.New("invalid image name")

// =============================================================================
// Unit Kinds
// =============================================================================

// Kind distinguishes application units from consumer units.
type Kind string

const (
	KindApp      Kind = "app"
	KindConsumer Kind = "consumer"
)

// =============================================================================
// Resource Naming Functions
// =============================================================================

// ServiceName generates the hostname-like service name for a unit.
// Pattern: {kind}-{unitName}
//
// Example:
//
//	ServiceName(KindApp, "whisper")         // returns "app-whisper"
//	ServiceName(KindConsumer, "visualizer") // returns "consumer-visualizer"
func ServiceName(kind Kind, unitName string) string {
	return fmt.Sprintf("%s-%s", kind, unitName)
}

// ServiceNames maps unit names to service names, keeping order.
func ServiceNames(kind Kind, unitNames []string) []string {
	names := make([]string, 0, len(unitNames))
	for _, n := range unitNames {
		names = append(names, ServiceName(kind, n))
	}
	return names
}

// ImageName generates the container image name for a service.
// Pattern: lowercase({prefix}{serviceName})
//
// Repository names must be lowercase; service names keep the unit's case.
//
// Example:
//
//	ImageName("clams-", "app-whisper") // returns "clams-app-whisper"
//	ImageName("clams-", "app-X")       // returns "clams-app-x"
func ImageName(prefix, serviceName string) string {
	return strings.ToLower(prefix + serviceName)
}

// ValidateImageName reports whether image is a usable image reference.
func ValidateImageName(image string) error {
	if _, err := reference.ParseNormalizedNamed(image); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidImageName, image, err)
	}
	return nil
}

// DescriptorFilename generates the file name of a unit's generated descriptor.
// Registry leaves refer to descriptors by this name.
// Pattern: {prefix}{serviceName}.xml
//
// Example:
//
//	DescriptorFilename("clams-", "app-whisper") // returns "clams-app-whisper.xml"
func DescriptorFilename(prefix, serviceName string) string {
	return prefix + serviceName + ".xml"
}
