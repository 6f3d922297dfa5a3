package compose

// =============================================================================
// Document - the emitted topology
// =============================================================================

// Version is the compose file format version written to every topology.
const Version = "3"

// Document is the serialized compose topology.
// Field order and tags match what docker-compose expects on disk.
type Document struct {
	Version  string              `yaml:"version"`
	Services map[string]*Service `yaml:"services"`
	Networks map[string]*Network `yaml:"networks"`
}

// Service is one entry in the topology.
type Service struct {
	Image         string   `yaml:"image"`
	ContainerName string   `yaml:"container_name"`
	Networks      []string `yaml:"networks"`
	Ports         []string `yaml:"ports,omitempty"`
	Volumes       []string `yaml:"volumes,omitempty"`
	Privileged    bool     `yaml:"privileged,omitempty"`
	DependsOn     []string `yaml:"depends_on,omitempty"`
}

// Network is a network definition. The appliance network uses every
// default, so it is always written as null.
type Network struct {
	Driver string `yaml:"driver,omitempty"`
}

// =============================================================================
// ParsedSpec - compose-go view of a topology
// =============================================================================

// ParsedSpec is a topology as understood by compose-go.
// It is decoupled from compose-go types and used to verify generated output.
type ParsedSpec struct {
	Services []ParsedService `json:"services"`
	Networks []string        `json:"networks,omitempty"`
}

// ParsedService represents a single loaded service definition.
type ParsedService struct {
	Name       string        `json:"name"`
	Image      string        `json:"image,omitempty"`
	Ports      []Port        `json:"ports,omitempty"`
	Volumes    []VolumeMount `json:"volumes,omitempty"`
	Networks   []string      `json:"networks,omitempty"`
	DependsOn  []string      `json:"depends_on,omitempty"`
	Privileged bool          `json:"privileged"`
}

// Port represents a port mapping.
type Port struct {
	Target    uint32 `json:"target"`              // Container port
	Published uint32 `json:"published,omitempty"` // Host port (0 = not published)
	Protocol  string `json:"protocol,omitempty"`  // tcp, udp
}

// VolumeMount represents a bind mount in a service.
type VolumeMount struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	ReadOnly bool   `json:"readonly"`
}
