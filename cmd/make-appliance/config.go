package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/clamsproject/appliance/internal/core/deployment"
	"github.com/clamsproject/appliance/internal/engine"
	"github.com/clamsproject/appliance/internal/shell/workspace"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. APPLIANCE_LOG_LEVEL.
const EnvPrefix = "APPLIANCE"

// ConfigPathEnv names the optional config file.
const ConfigPathEnv = EnvPrefix + "_CONFIG"

// =============================================================================
// Config Types
// =============================================================================

// Config holds all tool-level configuration. The manifest is separate and
// describes what to provision; this describes how.
type Config struct {
	Manifest  string          `mapstructure:"manifest"`
	Workdir   string          `mapstructure:"workdir"`
	Output    string          `mapstructure:"output"`
	Log       LogConfig       `mapstructure:"log"`
	Docker    DockerConfig    `mapstructure:"docker"`
	Source    SourceConfig    `mapstructure:"source"`
	Platform  PlatformConfig  `mapstructure:"platform"`
	Network   NetworkConfig   `mapstructure:"network"`
	Ports     PortsConfig     `mapstructure:"ports"`
	Units     UnitsConfig     `mapstructure:"units"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Consumers ConsumersConfig `mapstructure:"consumers"`
	Image     ImageConfig     `mapstructure:"image"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// SourceConfig holds source acquisition configuration.
type SourceConfig struct {
	Depth int `mapstructure:"depth"` // 0 clones full history
}

// PlatformConfig describes the orchestration platform.
type PlatformConfig struct {
	Name          string `mapstructure:"name"`
	Repository    string `mapstructure:"repository"`
	Branch        string `mapstructure:"branch"`
	HostPort      int    `mapstructure:"host_port"`
	ContainerPort int    `mapstructure:"container_port"`
	PublicHost    string `mapstructure:"public_host"`
}

// NetworkConfig describes the appliance network.
type NetworkConfig struct {
	Name        string `mapstructure:"name"`
	DefaultPort int    `mapstructure:"default_port"`
}

// PortsConfig holds the host port bases.
type PortsConfig struct {
	AppBase      int `mapstructure:"app_base"`
	ConsumerBase int `mapstructure:"consumer_base"`
}

// UnitsConfig holds settings shared by every unit container.
type UnitsConfig struct {
	ContainerPort int `mapstructure:"container_port"`
}

// StorageConfig holds the storage mount configuration.
type StorageConfig struct {
	ContainerPath string `mapstructure:"container_path"`
}

// ConsumersConfig holds consumer-only settings.
type ConsumersConfig struct {
	StaticPath string `mapstructure:"static_path"`
}

// ImageConfig holds image naming configuration.
type ImageConfig struct {
	Prefix string `mapstructure:"prefix"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("manifest", "config.yaml")
	v.SetDefault("workdir", ".")
	v.SetDefault("output", "docker-compose.yml")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("docker.host", "")
	v.SetDefault("source.depth", 1)

	v.SetDefault("platform.name", "clams-galaxy")
	v.SetDefault("platform.repository", "https://github.com/clamsproject/clams-galaxy.git")
	v.SetDefault("platform.branch", "dev")
	v.SetDefault("platform.host_port", 8080)
	v.SetDefault("platform.container_port", 5000)
	v.SetDefault("platform.public_host", "localhost")

	v.SetDefault("network.name", "clams-appliance")
	v.SetDefault("network.default_port", 80)
	v.SetDefault("ports.app_base", 8001)
	v.SetDefault("ports.consumer_base", 9001)
	v.SetDefault("units.container_port", 5000)

	v.SetDefault("storage.container_path", "/var/archive")
	v.SetDefault("consumers.static_path", "/app/static/archive")
	v.SetDefault("image.prefix", "clams-")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	ports := map[string]int{
		"platform.host_port":      c.Platform.HostPort,
		"platform.container_port": c.Platform.ContainerPort,
		"ports.app_base":          c.Ports.AppBase,
		"ports.consumer_base":     c.Ports.ConsumerBase,
		"units.container_port":    c.Units.ContainerPort,
	}
	for key, port := range ports {
		if port < 1 || port > deployment.MaxPort {
			return fmt.Errorf("%s: %d: %w", key, port, deployment.ErrPortOutOfRange)
		}
	}

	required := map[string]string{
		"manifest":               c.Manifest,
		"output":                 c.Output,
		"platform.name":          c.Platform.Name,
		"platform.repository":    c.Platform.Repository,
		"network.name":           c.Network.Name,
		"storage.container_path": c.Storage.ContainerPath,
	}
	for key, value := range required {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must not be empty", key)
		}
	}

	if c.Source.Depth < 0 {
		return errors.New("source.depth must not be negative")
	}
	return nil
}

// Settings returns the compiler settings.
func (c *Config) Settings() engine.Settings {
	return engine.Settings{
		PlatformName:          c.Platform.Name,
		PlatformRepository:    c.Platform.Repository,
		PlatformBranch:        c.Platform.Branch,
		PlatformHostPort:      c.Platform.HostPort,
		PlatformContainerPort: c.Platform.ContainerPort,
		PublicHost:            c.Platform.PublicHost,
		NetworkName:           c.Network.Name,
		DefaultPort:           c.Network.DefaultPort,
		AppPortBase:           c.Ports.AppBase,
		ConsumerPortBase:      c.Ports.ConsumerBase,
		UnitContainerPort:     c.Units.ContainerPort,
		StorageContainerPath:  c.Storage.ContainerPath,
		ConsumerStaticPath:    c.Consumers.StaticPath,
		ImagePrefix:           c.Image.Prefix,
	}
}

// Layout returns the workspace layout.
func (c *Config) Layout() workspace.Layout {
	return workspace.Layout{
		Root:        c.Workdir,
		Platform:    c.Platform.Name,
		Topology:    c.Output,
		ImagePrefix: c.Image.Prefix,
	}
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
