// Package config provides configuration loading and management for cellseg.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"cellseg/internal/logging"
	"cellseg/internal/models"
	"cellseg/internal/video"
	"cellseg/pkg/features"
	"cellseg/pkg/forest"
	"cellseg/pkg/labels"
	"cellseg/pkg/preprocess"
	"cellseg/pkg/segmentation"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Features is the ordered filter bank and its scales
	Features features.Config `yaml:"features"`

	// Forest holds the classifier training parameters
	Forest forest.Params `yaml:"forest"`

	// Labels configures user classes and binary output
	Labels struct {
		// Custom names user-defined classes; they receive ids 5, 6, ...
		Custom []string `yaml:"custom"`

		// Names overrides the display name of existing classes by id
		Names map[models.Label]string `yaml:"names"`

		// Background lists the labels rendered as background in binary masks
		Background []models.Label `yaml:"background"`
	} `yaml:"labels"`

	// Preprocess holds the enhancement factors applied before extraction
	Preprocess preprocess.Options `yaml:"preprocess"`

	// Batch parameters
	Batch struct {
		// OutputFormat is the extension of binary masks: png, tiff or jpg
		OutputFormat string `yaml:"outputFormat"`

		Overwrite         bool `yaml:"overwrite"`
		Binary            bool `yaml:"binary"`
		SaveProbabilities bool `yaml:"saveProbabilities"`
		SaveOverlay       bool `yaml:"saveOverlay"`
	} `yaml:"batch"`

	// Video frame selection
	Video video.Options `yaml:"video"`

	// Output parameters
	Output struct {
		// LogLevel is debug, info, warn or error
		LogLevel string `yaml:"logLevel"`

		// LogFormat is text or json
		LogFormat string `yaml:"logFormat"`

		// Progress draws progress bars on stderr
		Progress bool `yaml:"progress"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{
		Features:   features.DefaultConfig(),
		Forest:     forest.DefaultParams(),
		Preprocess: preprocess.DefaultOptions(),
		Video:      video.DefaultOptions(),
	}
	cfg.Labels.Background = segmentation.DefaultPolicy().Background

	cfg.Batch.OutputFormat = "png"
	cfg.Batch.Binary = true

	cfg.Output.LogLevel = "info"
	cfg.Output.LogFormat = "text"
	cfg.Output.Progress = true

	return cfg
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Features.Validate(); err != nil {
		return fmt.Errorf("features: %w", err)
	}
	if c.Forest.Trees < 1 {
		return fmt.Errorf("forest: trees must be positive, got %d", c.Forest.Trees)
	}
	if c.Forest.MinSamplesSplit < 2 {
		return fmt.Errorf("forest: minSamplesSplit must be at least 2, got %d", c.Forest.MinSamplesSplit)
	}
	if c.Forest.MaxDepth < 0 || c.Forest.MaxFeatures < 0 {
		return fmt.Errorf("forest: maxDepth and maxFeatures must not be negative")
	}
	for _, l := range c.Labels.Background {
		if l == models.Unlabeled {
			return fmt.Errorf("labels: 0 is the unlabeled value and cannot be listed as background")
		}
	}
	if err := c.Preprocess.Validate(); err != nil {
		return fmt.Errorf("preprocess: %w", err)
	}
	switch c.Batch.OutputFormat {
	case "png", "tiff", "tif", "jpg", "jpeg":
	default:
		return fmt.Errorf("batch: unsupported output format %q", c.Batch.OutputFormat)
	}
	if err := c.Video.Validate(); err != nil {
		return fmt.Errorf("video: %w", err)
	}
	if _, err := logging.ParseLevel(c.Output.LogLevel); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	return nil
}

// Policy returns the binary output policy.
func (c *Config) Policy() segmentation.Policy {
	return segmentation.Policy{Background: append([]models.Label(nil), c.Labels.Background...)}
}

// Catalog returns the built-in classes followed by the custom ones.
func (c *Config) Catalog() (*labels.Catalog, error) {
	cat := labels.NewCatalog()
	for _, name := range c.Labels.Custom {
		if _, err := cat.Add(name); err != nil {
			return nil, err
		}
	}
	for id, name := range c.Labels.Names {
		if err := cat.Rename(id, name); err != nil {
			return nil, fmt.Errorf("labels: %w", err)
		}
	}
	return cat, nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
