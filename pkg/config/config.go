// Package config provides configuration loading and management for betaseries.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// Strategy is "multi-regressor" (lsa) or "multi-model" (lss)
		Strategy string `yaml:"strategy"`

		// IgnoreConditions are modelled as one regressor and never split into trials
		IgnoreConditions []string `yaml:"ignoreConditions"`

		// Overwrite re-estimates models whose artifact already exists
		Overwrite bool `yaml:"overwrite"`
	} `yaml:"processing"`

	// Engine parameters for the external estimation command
	Engine struct {
		// Command is the argv of the estimation command. Arguments may use
		// {{.JobFile}} and {{.OutputDir}}.
		Command []string `yaml:"command"`

		// ModelArtifact is the file the engine writes once a model is estimated
		ModelArtifact string `yaml:"modelArtifact"`

		// BetaPattern formats the 1-based regressor index into a beta image name
		BetaPattern string `yaml:"betaPattern"`

		// ResidualImage is the residual variance image written by the engine
		ResidualImage string `yaml:"residualImage"`
	} `yaml:"engine"`

	// ROI summary parameters
	ROI struct {
		// Threshold selects mask voxels strictly above this value
		Threshold float64 `yaml:"threshold"`

		// Interpolation is "nearest" or "trilinear"
		Interpolation string `yaml:"interpolation"`

		// Mask is summarized against each model's residual image when set
		Mask string `yaml:"mask"`
	} `yaml:"roi"`

	// Output parameters
	Output struct {
		// Dir is the root of all generated models and images
		Dir string `yaml:"dir"`

		// TrialLog is the CSV file name of the trial log, relative to Dir
		TrialLog string `yaml:"trialLog"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// LogFormat is "text" or "json"
		LogFormat string `yaml:"logFormat"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.Strategy = "multi-model"
	cfg.Processing.IgnoreConditions = []string{}
	cfg.Processing.Overwrite = false

	cfg.Engine.Command = []string{"matlab", "-batch", "estimate_glm('{{.JobFile}}')"}
	cfg.Engine.ModelArtifact = "SPM.mat"
	cfg.Engine.BetaPattern = "beta_%04d.nii"
	cfg.Engine.ResidualImage = "ResMS.nii"

	cfg.ROI.Threshold = 0
	cfg.ROI.Interpolation = "nearest"

	cfg.Output.Dir = "betaseries"
	cfg.Output.TrialLog = "trials.csv"
	cfg.Output.Verbose = false
	cfg.Output.LogFormat = "text"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}
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
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
