// Package config provides configuration loading and management for autothreshold.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"autothreshold/pkg/metric"
	"autothreshold/pkg/predictor"
	"autothreshold/pkg/solver"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Solver controls the bracket and stopping criteria used to invert metrics
	Solver solver.Params `yaml:"solver"`

	// Processing parameters
	Processing struct {
		// NumCores bounds how many metric evaluations run at once
		NumCores int `yaml:"numCores"`

		// SolveTimeout bounds a single root search; zero disables it
		SolveTimeout time.Duration `yaml:"solveTimeout"`
	} `yaml:"processing"`

	// Metrics is the ordered list of metric names. A model is only valid
	// with the list it was trained with.
	Metrics []string `yaml:"metrics"`

	// Chimera parameters for the sa_v_chimera metric
	Chimera struct {
		// Executable is the path of the chimera binary
		Executable string `yaml:"executable"`
	} `yaml:"chimera"`

	// Model storage parameters
	Model struct {
		// Path is the model record file written by train and read by predict
		Path string `yaml:"path"`

		// Registry is the SQLite registry database; empty disables it
		Registry string `yaml:"registry"`

		// Name is the registry key of the model
		Name string `yaml:"name"`
	} `yaml:"model"`

	// Output parameters
	Output struct {
		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`

		// PreviewDir receives mask slices of predicted thresholds; empty disables it
		PreviewDir string `yaml:"previewDir"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Solver = solver.DefaultParams()

	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default

	// surface area to volume ratio and remaining to non-zero ratio
	cfg.Metrics = []string{"sa_v", "r_nz"}

	cfg.Chimera.Executable = metric.DefaultChimera

	cfg.Model.Path = "model.json"
	cfg.Model.Name = "default"

	cfg.Output.Verbose = false

	return cfg
}

// Validate reports the first setting that cannot be used
func (c *Config) Validate() error {
	if err := c.Solver.Validate(); err != nil {
		return fmt.Errorf("solver: %w", err)
	}
	if c.Processing.NumCores < 0 {
		return fmt.Errorf("processing: numCores must not be negative, got %d", c.Processing.NumCores)
	}
	if c.Processing.SolveTimeout < 0 {
		return fmt.Errorf("processing: solveTimeout must not be negative, got %s", c.Processing.SolveTimeout)
	}
	if len(c.Metrics) == 0 {
		return errors.New("metrics: at least one metric is required")
	}
	seen := make(map[string]bool, len(c.Metrics))
	for _, name := range c.Metrics {
		if seen[name] {
			return fmt.Errorf("metrics: %q listed twice", name)
		}
		seen[name] = true
	}
	if c.Model.Path == "" && c.Model.Registry == "" {
		return errors.New("model: path or registry is required")
	}
	return nil
}

// LookupMetrics resolves the configured metric names, in order
func (c *Config) LookupMetrics() ([]metric.Metric, error) {
	return metric.DefaultRegistry(c.Chimera.Executable).Lookup(c.Metrics...)
}

// PredictorParams returns predictor parameters for this configuration
func (c *Config) PredictorParams(logger *zap.Logger) *predictor.Params {
	return &predictor.Params{
		Solver:       c.Solver,
		NumCores:     c.Processing.NumCores,
		SolveTimeout: c.Processing.SolveTimeout,
		Logger:       logger,
	}
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
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
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
