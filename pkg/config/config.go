// Package config provides configuration loading and management for
// shapetrack. It handles loading configuration from YAML files and provides
// default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"shapetrack/pkg/dataset"
	"shapetrack/pkg/regression"
)

// Config represents the application configuration loaded from YAML.
type Config struct {
	// Training parameters for the cascade fit
	Training struct {
		// NumCascades is the number of regressor stages
		NumCascades int `yaml:"numCascades"`

		// NumTrees is the number of boosted trees per stage
		NumTrees int `yaml:"numTrees"`

		// MaxTreeDepth bounds tree growth
		MaxTreeDepth int `yaml:"maxTreeDepth"`

		// NumRandomPixelCoordinates is the number of pixel locations sampled per stage
		NumRandomPixelCoordinates int `yaml:"numRandomPixelCoordinates"`

		// NumSplitTestsPerNode is the number of candidate tests per tree node
		NumSplitTestsPerNode int `yaml:"numSplitTestsPerNode"`

		// ExponentialLambda biases split tests toward nearby coordinate pairs
		ExponentialLambda float64 `yaml:"exponentialLambda"`

		// LearningRate scales every tree's contribution
		LearningRate float64 `yaml:"learningRate"`

		// Seed initializes the shared random generator
		Seed int64 `yaml:"seed"`

		// NumWorkers bounds training parallelism; 0 uses all CPUs
		NumWorkers int `yaml:"numWorkers"`
	} `yaml:"training"`

	// Sampling parameters for training-batch creation
	Sampling struct {
		// NumShapesPerImage is the number of initial estimates per image
		NumShapesPerImage int `yaml:"numShapesPerImage"`

		// UseLinearCombinations blends pairs of borrowed shapes
		UseLinearCombinations bool `yaml:"useLinearCombinations"`

		// ValidationFraction is held out of training for evaluation
		ValidationFraction float64 `yaml:"validationFraction"`
	} `yaml:"sampling"`

	// Dataset import parameters
	Dataset struct {
		// MaxImageSideLength bounds the longer image side on import
		MaxImageSideLength int `yaml:"maxImageSideLength"`
	} `yaml:"dataset"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default training parameters
	cfg.Training.NumCascades = 10
	cfg.Training.NumTrees = 500
	cfg.Training.MaxTreeDepth = 5
	cfg.Training.NumRandomPixelCoordinates = 400
	cfg.Training.NumSplitTestsPerNode = 20
	cfg.Training.ExponentialLambda = 0.1
	cfg.Training.LearningRate = 0.08
	cfg.Training.Seed = 1
	cfg.Training.NumWorkers = runtime.NumCPU()

	// Set default sampling parameters
	cfg.Sampling.NumShapesPerImage = 20
	cfg.Sampling.UseLinearCombinations = true
	cfg.Sampling.ValidationFraction = 0.01

	// Set default dataset parameters
	cfg.Dataset.MaxImageSideLength = 2048

	return cfg
}

// TrainingParams converts the training section into regression parameters.
func (c *Config) TrainingParams() regression.Params {
	return regression.Params{
		NumCascades:               c.Training.NumCascades,
		NumTrees:                  c.Training.NumTrees,
		MaxTreeDepth:              c.Training.MaxTreeDepth,
		NumRandomPixelCoordinates: c.Training.NumRandomPixelCoordinates,
		NumSplitTestsPerNode:      c.Training.NumSplitTestsPerNode,
		ExponentialLambda:         c.Training.ExponentialLambda,
		LearningRate:              c.Training.LearningRate,
	}
}

// SampleParams converts the sampling section into dataset parameters.
func (c *Config) SampleParams() dataset.SampleParams {
	return dataset.SampleParams{
		NumShapesPerImage:     c.Sampling.NumShapesPerImage,
		UseLinearCombinations: c.Sampling.UseLinearCombinations,
	}
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
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

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
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

// CreateDefaultConfigFile creates a default configuration file at the
// specified path.
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
