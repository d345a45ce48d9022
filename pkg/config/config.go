// Package config provides configuration loading and management for tvflow.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"tvflow/pkg/opticflow"
	"tvflow/pkg/penalty"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Solver parameters, mirrored from opticflow.Params
	Solver struct {
		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`

		Alpha            float64 `yaml:"alpha"`
		GradBrightWeight float64 `yaml:"gradBrightWeight"`
		EpsilonData      float64 `yaml:"epsilonData"`
		EpsilonSmooth    float64 `yaml:"epsilonSmooth"`

		// DataPenalty and SmoothPenalty name a robust penalty:
		// charbonnier, tv, perona-malik or homogeneous
		DataPenalty   string `yaml:"dataPenalty"`
		SmoothPenalty string `yaml:"smoothPenalty"`
		NormalizeData bool   `yaml:"normalizeData"`

		PyramidScale float64 `yaml:"pyramidScale"`
		Levels       int     `yaml:"levels"`
		MinSize      int     `yaml:"minSize"`

		WarpIterations  int     `yaml:"warpIterations"`
		OuterIterations int     `yaml:"outerIterations"`
		InnerIterations int     `yaml:"innerIterations"`
		Omega           float64 `yaml:"omega"`
		Tolerance       float64 `yaml:"tolerance"`

		// DirectSolveMaxPixels enables the Cholesky solve on small levels
		DirectSolveMaxPixels int `yaml:"directSolveMaxPixels"`
	} `yaml:"solver"`

	// Preprocessing applied to both frames before estimation
	Preprocess struct {
		// Sigma is the radius of the Gaussian presmoothing, 0 disables it
		Sigma float64 `yaml:"sigma"`

		// Resize scales the frames before estimation, 1 keeps the size
		Resize float64 `yaml:"resize"`
	} `yaml:"preprocess"`

	// Output parameters
	Output struct {
		Dir    string `yaml:"dir"`
		Prefix string `yaml:"prefix"`

		// MaxDisplacement is the length shown at full colour, 0 for automatic
		MaxDisplacement float64 `yaml:"maxDisplacement"`
		SaveMagnitude   bool    `yaml:"saveMagnitude"`
		SaveComponents  bool    `yaml:"saveComponents"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}
	p := opticflow.DefaultParams()

	cfg.Solver.NumCores = runtime.NumCPU() // Use all available cores by default
	cfg.Solver.Alpha = p.Alpha
	cfg.Solver.GradBrightWeight = p.GradBrightWeight
	cfg.Solver.EpsilonData = p.EpsilonData
	cfg.Solver.EpsilonSmooth = p.EpsilonSmooth
	cfg.Solver.DataPenalty = p.DataPenalty.String()
	cfg.Solver.SmoothPenalty = p.SmoothPenalty.String()
	cfg.Solver.NormalizeData = p.NormalizeData
	cfg.Solver.PyramidScale = p.PyramidScale
	cfg.Solver.Levels = p.Levels
	cfg.Solver.MinSize = p.MinSize
	cfg.Solver.WarpIterations = p.WarpIterations
	cfg.Solver.OuterIterations = p.OuterIterations
	cfg.Solver.InnerIterations = p.InnerIterations
	cfg.Solver.Omega = p.Omega
	cfg.Solver.Tolerance = p.Tolerance
	cfg.Solver.DirectSolveMaxPixels = p.DirectSolveMaxPixels

	cfg.Preprocess.Sigma = 0
	cfg.Preprocess.Resize = 1

	cfg.Output.Dir = "output"
	cfg.Output.Prefix = "flow"
	cfg.Output.MaxDisplacement = 0
	cfg.Output.SaveMagnitude = false
	cfg.Output.SaveComponents = false
	cfg.Output.Verbose = true

	return cfg
}

// SolverParams converts the solver section to estimator parameters and
// validates them.
func (c *Config) SolverParams() (opticflow.Params, error) {
	data, err := penalty.ParseKind(c.Solver.DataPenalty)
	if err != nil {
		return opticflow.Params{}, errors.Wrap(err, "config: dataPenalty")
	}
	smooth, err := penalty.ParseKind(c.Solver.SmoothPenalty)
	if err != nil {
		return opticflow.Params{}, errors.Wrap(err, "config: smoothPenalty")
	}

	p := opticflow.Params{
		Alpha:                c.Solver.Alpha,
		GradBrightWeight:     c.Solver.GradBrightWeight,
		EpsilonData:          c.Solver.EpsilonData,
		EpsilonSmooth:        c.Solver.EpsilonSmooth,
		DataPenalty:          data,
		SmoothPenalty:        smooth,
		NormalizeData:        c.Solver.NormalizeData,
		PyramidScale:         c.Solver.PyramidScale,
		Levels:               c.Solver.Levels,
		MinSize:              c.Solver.MinSize,
		WarpIterations:       c.Solver.WarpIterations,
		OuterIterations:      c.Solver.OuterIterations,
		InnerIterations:      c.Solver.InnerIterations,
		Omega:                c.Solver.Omega,
		Tolerance:            c.Solver.Tolerance,
		DirectSolveMaxPixels: c.Solver.DirectSolveMaxPixels,
		Workers:              c.Solver.NumCores,
	}
	if err := p.Validate(); err != nil {
		return opticflow.Params{}, err
	}
	return p, nil
}

// Validate checks the sections that are not covered by SolverParams.
func (c *Config) Validate() error {
	if c.Preprocess.Sigma < 0 {
		return errors.Errorf("config: preprocess.sigma must be >= 0, got %g", c.Preprocess.Sigma)
	}
	if !(c.Preprocess.Resize > 0) {
		return errors.Errorf("config: preprocess.resize must be > 0, got %g", c.Preprocess.Resize)
	}
	if c.Output.MaxDisplacement < 0 {
		return errors.Errorf("config: output.maxDisplacement must be >= 0, got %g", c.Output.MaxDisplacement)
	}
	_, err := c.SolverParams()
	return err
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
		return nil, errors.Wrap(err, "error reading config file")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "error parsing config file")
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "error creating config directory")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "error marshaling config")
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return errors.Wrap(err, "error writing config file")
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
