// Package config handles Cadence configuration from a YAML file and
// environment variables.
//
// Values are layered, lowest priority first:
//  1. Defaults (Default)
//  2. An optional YAML file
//  3. CADENCE_* environment variables
//
// The result is checked with Validate before use.
//
// Example Usage:
//
//	cfg, err := config.Load("cadence.yaml")
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
//	logger, err := config.NewLogger(cfg.Logging)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer logger.Sync()
//
// Environment Variables:
//   - CADENCE_BUMP_WINDOW=10m
//   - CADENCE_CURVE_WINDOW=336h
//   - CADENCE_CURVE_SEGMENTS=14
//   - CADENCE_PERIOD_MIN_INTERVALS=1
//   - CADENCE_PERIOD_MAX_INTERVALS=5
//   - CADENCE_PERIOD_STDDEV_FACTOR=2
//   - CADENCE_DATA_DIR="./data"
//   - CADENCE_IN_MEMORY=false
//   - CADENCE_SYNC_WRITES=false
//   - CADENCE_LOG_LEVEL=info
//   - CADENCE_LOG_FORMAT=console
//   - CADENCE_LOG_OUTPUT=stderr
//   - CADENCE_METRICS_NAMESPACE=cadence
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/cadence/pkg/temporal"
)

// Config holds all Cadence configuration.
//
// Configuration is organized into logical sections:
//   - Scoring: focus-distance scoring
//   - Curves: decay curve window and resolution
//   - Period: target interval estimation
//   - Storage: journal location and durability
//   - Logging: zap logger settings
//   - Metrics: Prometheus naming
type Config struct {
	Scoring ScoringConfig `yaml:"scoring"`
	Curves  CurveConfig   `yaml:"curves"`
	Period  PeriodConfig  `yaml:"period"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ScoringConfig holds focus-scoring settings.
type ScoringConfig struct {
	// BumpWindow - LastTime within this of now counts as freshly active
	BumpWindow time.Duration `yaml:"bump_window" validate:"gt=0"`
}

// CurveConfig holds decay curve settings.
type CurveConfig struct {
	// Window - total time span covered by a curve
	Window time.Duration `yaml:"window" validate:"gt=0"`
	// Segments - number of values per curve
	Segments int `yaml:"segments" validate:"min=1,max=10000"`
}

// PeriodConfig holds period estimation settings.
type PeriodConfig struct {
	MinIntervals int     `yaml:"min_intervals" validate:"min=1"`
	MaxIntervals int     `yaml:"max_intervals" validate:"gtefield=MinIntervals"`
	StddevFactor float64 `yaml:"stddev_factor"`
}

// StorageConfig holds journal settings.
type StorageConfig struct {
	// DataDir for the BadgerDB journal. Required unless InMemory.
	DataDir    string `yaml:"data_dir" validate:"required_without=InMemory"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level (debug, info, warn, error)
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	// Format (json, console)
	Format string `yaml:"format" validate:"oneof=json console"`
	// Output path (stdout, stderr, or file path)
	Output string `yaml:"output" validate:"required"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Namespace string `yaml:"namespace" validate:"required"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Scoring: ScoringConfig{BumpWindow: 10 * time.Minute},
		Curves: CurveConfig{
			Window:   14 * 24 * time.Hour,
			Segments: 14,
		},
		Period: PeriodConfig{
			MinIntervals: 1,
			MaxIntervals: 5,
			StddevFactor: 2,
		},
		Storage: StorageConfig{DataDir: "./data"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Metrics: MetricsConfig{Namespace: "cadence"},
	}
}

// LoadFromEnv returns the defaults overlaid with CADENCE_* variables.
func LoadFromEnv() *Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

// Load reads path (if non-empty), applies environment overrides and
// validates the result. Unknown YAML keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Scoring.BumpWindow = getEnvDuration("CADENCE_BUMP_WINDOW", c.Scoring.BumpWindow)

	c.Curves.Window = getEnvDuration("CADENCE_CURVE_WINDOW", c.Curves.Window)
	c.Curves.Segments = getEnvInt("CADENCE_CURVE_SEGMENTS", c.Curves.Segments)

	c.Period.MinIntervals = getEnvInt("CADENCE_PERIOD_MIN_INTERVALS", c.Period.MinIntervals)
	c.Period.MaxIntervals = getEnvInt("CADENCE_PERIOD_MAX_INTERVALS", c.Period.MaxIntervals)
	c.Period.StddevFactor = getEnvFloat("CADENCE_PERIOD_STDDEV_FACTOR", c.Period.StddevFactor)

	c.Storage.DataDir = getEnv("CADENCE_DATA_DIR", c.Storage.DataDir)
	c.Storage.InMemory = getEnvBool("CADENCE_IN_MEMORY", c.Storage.InMemory)
	c.Storage.SyncWrites = getEnvBool("CADENCE_SYNC_WRITES", c.Storage.SyncWrites)

	c.Logging.Level = strings.ToLower(getEnv("CADENCE_LOG_LEVEL", c.Logging.Level))
	c.Logging.Format = strings.ToLower(getEnv("CADENCE_LOG_FORMAT", c.Logging.Format))
	c.Logging.Output = getEnv("CADENCE_LOG_OUTPUT", c.Logging.Output)

	c.Metrics.Namespace = getEnv("CADENCE_METRICS_NAMESPACE", c.Metrics.Namespace)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for invalid settings.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}
	msgs := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		msgs = append(msgs, formatFieldError(e))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "required", "required_without":
		return fmt.Sprintf("%s is required", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "gtefield":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// PeriodOptions converts the period section for the estimator.
func (c *Config) PeriodOptions() temporal.Config {
	return temporal.Config{
		MinIntervals: c.Period.MinIntervals,
		MaxIntervals: c.Period.MaxIntervals,
		StddevFactor: c.Period.StddevFactor,
	}
}

// String returns a one-line summary suitable for logging.
func (c *Config) String() string {
	storage := c.Storage.DataDir
	if c.Storage.InMemory {
		storage = "memory"
	}
	return fmt.Sprintf("Config{BumpWindow: %s, Window: %s/%d, Period: %d-%d@%.1fσ, Storage: %s, Log: %s}",
		c.Scoring.BumpWindow, c.Curves.Window, c.Curves.Segments,
		c.Period.MinIntervals, c.Period.MaxIntervals, c.Period.StddevFactor,
		storage, c.Logging.Level)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
