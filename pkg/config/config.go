// Package config provides configuration loading and management for
// dvhstats. It handles loading configuration from YAML files, overriding
// connection settings from the environment, and provides default values.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"dvhanalytics/internal/models"
	"dvhanalytics/pkg/radbio"
)

// Environment variables read by ApplyEnv.
const (
	EnvDatabaseURL = "DVHA_DATABASE_URL"
	EnvCSVDir      = "DVHA_CSV_DIR"
	EnvBinStride   = "DVHA_BIN_STRIDE"
)

// Source kinds.
const (
	SourceCSV      = "csv"
	SourcePostgres = "postgres"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Histogram parameters
	Histogram struct {
		// BinStride keeps every n-th value of the stored 1 cGy histogram;
		// the resulting bin width is BinStride cGy
		BinStride int `yaml:"binStride"`

		// Delimiter separates values in the stored histogram string
		Delimiter string `yaml:"delimiter"`

		// ResampledBinCount is the number of bins per prescription dose
		// used for relative dose statistics
		ResampledBinCount int `yaml:"resampledBinCount"`

		// Workers bounds parallel histogram parsing and endpoint
		// evaluation; zero or less uses every CPU for parsing and leaves
		// endpoint evaluation unbounded
		Workers int `yaml:"workers"`
	} `yaml:"histogram"`

	// Control chart parameters
	ControlChart struct {
		// StdDevs is the half-width of the control band in estimated
		// standard deviations
		StdDevs float64 `yaml:"stdDevs"`

		// AverageLength is the look-back window of the time series trend
		AverageLength int `yaml:"averageLength"`

		// Percentile is the central percentile covered by the trend band
		Percentile float64 `yaml:"percentile"`
	} `yaml:"controlChart"`

	// Regression parameters
	Regression struct {
		// PThreshold is the p-value above which backward elimination drops
		// a predictor
		PThreshold float64 `yaml:"pThreshold"`

		// BackwardElimination runs backward elimination after the full fit
		BackwardElimination bool `yaml:"backwardElimination"`
	} `yaml:"regression"`

	// Radbio holds the EUD and NTCP/TCP model parameters
	Radbio radbio.Params `yaml:"radbio"`

	// Endpoints are the DVH endpoints computed for every record
	Endpoints []models.EndpointDef `yaml:"endpoints"`

	// Source selects where records are read from
	Source struct {
		// Kind is "csv" or "postgres"
		Kind string `yaml:"kind"`

		// CSVDir holds DVHs.csv, Plans.csv, Rxs.csv and Beams.csv
		CSVDir string `yaml:"csvDir"`

		// DatabaseURL is a PostgreSQL connection string
		DatabaseURL string `yaml:"databaseURL"`

		MaxConns int32 `yaml:"maxConns"`
		MinConns int32 `yaml:"minConns"`
	} `yaml:"source"`

	// Output parameters
	Output struct {
		// Dir receives exported CSV and XLSX files
		Dir string `yaml:"dir"`

		// Format is "csv", "xlsx" or "both"
		Format string `yaml:"format"`

		// Verbose enables debug logging on a human-readable console
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Histogram.BinStride = 5
	cfg.Histogram.Delimiter = ","
	cfg.Histogram.ResampledBinCount = 5000
	cfg.Histogram.Workers = runtime.NumCPU()

	cfg.ControlChart.StdDevs = 3
	cfg.ControlChart.AverageLength = 5
	cfg.ControlChart.Percentile = 90

	cfg.Regression.PThreshold = 0.05
	cfg.Regression.BackwardElimination = false

	cfg.Radbio = radbio.Params{A: 1, Gamma50: 1, TD50: 50}

	cfg.Endpoints = []models.EndpointDef{
		{Output: models.DoseQuantity, InputValue: 95, InputScale: models.Relative, OutputScale: models.Absolute},
		{Output: models.DoseQuantity, InputValue: 2, InputScale: models.Absolute, OutputScale: models.Absolute},
		{Output: models.VolumeQuantity, InputValue: 20, InputScale: models.Absolute, OutputScale: models.Relative},
	}

	cfg.Source.Kind = SourceCSV
	cfg.Source.CSVDir = "data"
	cfg.Source.MaxConns = 4
	cfg.Source.MinConns = 1

	cfg.Output.Dir = "output"
	cfg.Output.Format = "csv"
	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate checks values the analysis cannot run with.
func (c *Config) Validate() error {
	if c.Histogram.BinStride < 1 {
		return fmt.Errorf("histogram.binStride must be at least 1, got %d", c.Histogram.BinStride)
	}
	if c.Histogram.ResampledBinCount < 1 {
		return fmt.Errorf("histogram.resampledBinCount must be at least 1, got %d", c.Histogram.ResampledBinCount)
	}
	if c.ControlChart.StdDevs <= 0 {
		return fmt.Errorf("controlChart.stdDevs must be positive, got %g", c.ControlChart.StdDevs)
	}
	if c.Regression.PThreshold <= 0 || c.Regression.PThreshold >= 1 {
		return fmt.Errorf("regression.pThreshold must be in (0, 1), got %g", c.Regression.PThreshold)
	}
	if err := c.Radbio.Validate(); err != nil {
		return fmt.Errorf("radbio: %w", err)
	}
	switch c.Source.Kind {
	case SourceCSV, SourcePostgres:
	default:
		return fmt.Errorf("unknown source kind %q", c.Source.Kind)
	}
	return nil
}

// ApplyEnv loads a .env file when one exists and overrides the source
// settings from DVHA_DATABASE_URL, DVHA_CSV_DIR and DVHA_BIN_STRIDE. A
// database URL switches the source to postgres.
func (c *Config) ApplyEnv(envFiles ...string) error {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error loading env file: %w", err)
	}

	if v := os.Getenv(EnvCSVDir); v != "" {
		c.Source.CSVDir = v
		c.Source.Kind = SourceCSV
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.Source.DatabaseURL = v
		c.Source.Kind = SourcePostgres
	}
	if v := os.Getenv(EnvBinStride); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvBinStride, err)
		}
		c.Histogram.BinStride = n
	}
	return c.Validate()
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
