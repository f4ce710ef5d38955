// Package config handles viewer configuration loading and management.
package config

import (
	"errors"
	"fmt"

	"github.com/Faultbox/maple/internal/logger"
)

// Renderer backends.
const (
	BackendGL       = "gl"
	BackendHeadless = "headless"
)

// Config holds all viewer settings.
type Config struct {
	Renderer RendererConfig `yaml:"renderer"`
	Assets   AssetsConfig   `yaml:"assets"`
	Registry RegistryConfig `yaml:"registry"`
	Uniforms UniformsConfig `yaml:"uniforms"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// RendererConfig holds display and backend settings.
type RendererConfig struct {
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	Fullscreen bool   `yaml:"fullscreen"`
	VSync      bool   `yaml:"vsync"`
	Backend    string `yaml:"backend"`    // gl or headless
	MaxFrames  int    `yaml:"max_frames"` // 0 runs until closed
}

// AssetsConfig holds the asset root and what to load from it.
type AssetsConfig struct {
	Root      string   `yaml:"root"`
	Models    []string `yaml:"models"`    // paths relative to root
	Materials []string `yaml:"materials"` // paths relative to root
	Watch     bool     `yaml:"watch"`     // hot reload changed files
}

// RegistryConfig sizes the resource and asset registries.
type RegistryConfig struct {
	InitialCapacity int `yaml:"initial_capacity"`
	MaxCapacity     int `yaml:"max_capacity"` // 0 means unbounded
}

// minObjectStride is one model matrix, the data written per object.
const minObjectStride = 64

// UniformsConfig sizes the per-object dynamic uniform buffer.
type UniformsConfig struct {
	ObjectCapacity int `yaml:"object_capacity"`
	ObjectStride   int `yaml:"object_stride"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Renderer: RendererConfig{
			Width:      1280,
			Height:     720,
			Fullscreen: false,
			VSync:      true,
			Backend:    BackendGL,
			MaxFrames:  0,
		},
		Assets: AssetsConfig{
			Root:      "assets",
			Models:    []string{"models/sample.mdl"},
			Materials: []string{"materials/basic.toml"},
			Watch:     false,
		},
		Registry: RegistryConfig{
			InitialCapacity: 10,
			MaxCapacity:     0,
		},
		Uniforms: UniformsConfig{
			ObjectCapacity: 1024,
			ObjectStride:   64,
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}

var errInvalidConfig = errors.New("invalid config")

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch c.Renderer.Backend {
	case BackendGL, BackendHeadless:
	default:
		return fmt.Errorf("%w: renderer.backend %q must be %q or %q", errInvalidConfig, c.Renderer.Backend, BackendGL, BackendHeadless)
	}
	if c.Renderer.Width <= 0 || c.Renderer.Height <= 0 {
		return fmt.Errorf("%w: renderer size %dx%d", errInvalidConfig, c.Renderer.Width, c.Renderer.Height)
	}
	if c.Registry.InitialCapacity < 0 || c.Registry.MaxCapacity < 0 {
		return fmt.Errorf("%w: registry capacities must be non-negative", errInvalidConfig)
	}
	if c.Registry.MaxCapacity > 0 && c.Registry.MaxCapacity < c.Registry.InitialCapacity {
		return fmt.Errorf("%w: registry.max_capacity %d below initial_capacity %d",
			errInvalidConfig, c.Registry.MaxCapacity, c.Registry.InitialCapacity)
	}
	if c.Uniforms.ObjectCapacity <= 0 {
		return fmt.Errorf("%w: uniforms.object_capacity must be positive", errInvalidConfig)
	}
	if c.Uniforms.ObjectStride < minObjectStride {
		return fmt.Errorf("%w: uniforms.object_stride %d below %d", errInvalidConfig, c.Uniforms.ObjectStride, minObjectStride)
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: logging.level: %w", errInvalidConfig, err)
	}
	return nil
}
