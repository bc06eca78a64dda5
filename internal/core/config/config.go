// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/kusari-oss/remedy/internal/core/logging"
	"github.com/kusari-oss/remedy/internal/core/models"
	yamlv3 "gopkg.in/yaml.v3"
)

// Constants for default paths
const (
	DefaultConfigDir      = ".remedy"
	DefaultConfigFileName = "config.yaml"
	HomeEnvVar            = "REMEDY_HOME"
	EnvPrefix             = "REMEDY_"

	maxConfigFileSize = 1024 * 1024
)

// Retry strategies
const (
	RetryFixed       = "fixed"
	RetryExponential = "exponential"
)

// Config holds the application configuration
type Config struct {
	TemplatesDir string `koanf:"templates_dir" yaml:"templates_dir"`
	ActionsDir   string `koanf:"actions_dir" yaml:"actions_dir"`
	WorkingDir   string `koanf:"working_dir" yaml:"working_dir,omitempty"`

	// BuiltinActions registers the embedded action catalogue
	BuiltinActions bool `koanf:"builtin_actions" yaml:"builtin_actions"`

	Engine     EngineConfig     `koanf:"engine" yaml:"engine"`
	Validation ValidationConfig `koanf:"validation" yaml:"validation"`
	Logging    logging.Config   `koanf:"logging" yaml:"logging"`
	Metrics    MetricsConfig    `koanf:"metrics" yaml:"metrics"`
}

// EngineConfig controls plan execution
type EngineConfig struct {
	RiskThreshold  string        `koanf:"risk_threshold" yaml:"risk_threshold"`
	FailFast       bool          `koanf:"fail_fast" yaml:"fail_fast"`
	MaxConcurrency int           `koanf:"max_concurrency" yaml:"max_concurrency"`
	DefaultTimeout time.Duration `koanf:"default_timeout" yaml:"default_timeout"`
	SystemUser     string        `koanf:"system_user" yaml:"system_user"`
	Retry          RetryConfig   `koanf:"retry" yaml:"retry"`
}

// RetryConfig selects the backoff used between action attempts. The
// per-action retry delay is always the initial interval.
type RetryConfig struct {
	Strategy   string        `koanf:"strategy" yaml:"strategy"`
	MaxDelay   time.Duration `koanf:"max_delay" yaml:"max_delay"`
	Multiplier float64       `koanf:"multiplier" yaml:"multiplier"`
}

// ValidationConfig controls the validation result cache
type ValidationConfig struct {
	CacheDuration   time.Duration `koanf:"cache_duration" yaml:"cache_duration"`
	CleanupInterval time.Duration `koanf:"cleanup_interval" yaml:"cleanup_interval"`
}

// MetricsConfig controls Prometheus export
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled" yaml:"enabled"`
	Namespace string `koanf:"namespace" yaml:"namespace"`
}

// NewDefaultConfig creates a default configuration
func NewDefaultConfig() *Config {
	return &Config{
		TemplatesDir:   "templates",
		ActionsDir:     "actions",
		BuiltinActions: true,
		Engine: EngineConfig{
			RiskThreshold:  string(models.RiskHigh),
			FailFast:       true,
			MaxConcurrency: 4,
			DefaultTimeout: 5 * time.Minute,
			SystemUser:     "system",
			Retry: RetryConfig{
				Strategy:   RetryFixed,
				MaxDelay:   30 * time.Second,
				Multiplier: 2,
			},
		},
		Validation: ValidationConfig{
			CacheDuration:   time.Minute,
			CleanupInterval: 5 * time.Minute,
		},
		Logging: *logging.NewDefaultConfig(),
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "remedy",
		},
	}
}

// RiskThresholdLevel returns the parsed risk gate threshold
func (c *Config) RiskThresholdLevel() models.RiskLevel {
	level, err := models.ParseRiskLevel(c.Engine.RiskThreshold)
	if err != nil {
		return models.RiskHigh
	}
	return level
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if _, err := models.ParseRiskLevel(c.Engine.RiskThreshold); err != nil {
		return fmt.Errorf("engine.risk_threshold: %w", err)
	}
	if c.Engine.MaxConcurrency <= 0 {
		return fmt.Errorf("engine.max_concurrency must be > 0, got %d", c.Engine.MaxConcurrency)
	}
	if c.Engine.DefaultTimeout < 0 {
		return fmt.Errorf("engine.default_timeout must not be negative")
	}
	switch c.Engine.Retry.Strategy {
	case RetryFixed:
	case RetryExponential:
		if c.Engine.Retry.Multiplier < 1 {
			return fmt.Errorf("engine.retry.multiplier must be >= 1 for exponential backoff")
		}
	default:
		return fmt.Errorf("engine.retry.strategy must be %q or %q, got %q", RetryFixed, RetryExponential, c.Engine.Retry.Strategy)
	}
	if c.Validation.CacheDuration < 0 {
		return fmt.Errorf("validation.cache_duration must not be negative")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// ExpandPathWithTilde expands ~ to user home directory
// It respects the REMEDY_HOME environment variable for testing purposes.
func ExpandPathWithTilde(path string) string {
	if path == "~" {
		if home := getHomeDir(); home != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home := getHomeDir(); home != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// getHomeDir returns the home directory, respecting REMEDY_HOME for testing
func getHomeDir() string {
	if remedyHome := os.Getenv(HomeEnvVar); remedyHome != "" {
		return remedyHome
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

// GlobalConfigFilePath returns the absolute path to the global config file.
func GlobalConfigFilePath() (string, error) {
	home := getHomeDir()
	if home == "" {
		return "", fmt.Errorf("could not determine home directory")
	}
	return filepath.Join(home, DefaultConfigDir, DefaultConfigFileName), nil
}

// LoadConfig loads the application configuration.
//
// Precedence (highest first): REMEDY_* environment variables, the YAML file at
// configPathOverride (or ~/.remedy/config.yaml), built-in defaults. A missing
// file is not an error.
func LoadConfig(configPathOverride string) (*Config, error) {
	k := koanf.New(".")

	configPath := configPathOverride
	if configPath != "" {
		configPath = ExpandPathWithTilde(configPath)
	} else {
		var err error
		configPath, err = GlobalConfigFilePath()
		if err != nil {
			configPath = ""
		}
	}

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		} else if configPathOverride != "" {
			return nil, fmt.Errorf("config file %s: %w", configPath, err)
		}
	}

	// REMEDY_ENGINE_FAIL_FAST -> engine.fail_fast
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := NewDefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.TemplatesDir = ExpandPathWithTilde(cfg.TemplatesDir)
	cfg.ActionsDir = ExpandPathWithTilde(cfg.ActionsDir)
	cfg.WorkingDir = ExpandPathWithTilde(cfg.WorkingDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}
	return os.ReadFile(path)
}

// sections whose fields may themselves contain underscores, longest first
var envSections = []string{"engine_retry", "engine", "validation", "logging", "metrics"}

// envKey maps an environment variable name to a koanf key path
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, section := range envSections {
		if strings.HasPrefix(key, section+"_") {
			return strings.ReplaceAll(section, "_", ".") + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	return key
}

// SaveConfig writes the configuration to <dir>/.remedy/config.yaml
func SaveConfig(config *Config, dir string) (string, error) {
	configDir := filepath.Join(dir, DefaultConfigDir)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("error creating config directory '%s': %w", configDir, err)
	}

	data, err := yamlv3.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("error marshaling config: %w", err)
	}

	configPath := filepath.Join(configDir, DefaultConfigFileName)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return "", fmt.Errorf("error writing config file '%s': %w", configPath, err)
	}
	return configPath, nil
}
