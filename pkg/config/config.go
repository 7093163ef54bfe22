package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the complete io-backends configuration.
//
// This structure captures all configurable aspects of a backend including:
//   - Logging configuration
//   - Engine selection and configuration (engine-specific)
//   - Catalog selection and configuration (catalog-specific)
//   - Metrics collection
//
// Configuration sources (in order of precedence):
//  1. Environment variables (IOBACKENDS_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
//
// Engine Configuration Pattern:
// Each engine defines its own options type. The Config struct contains
// engine-specific sections (backend.posix, backend.mmap, backend.uring) and
// only the section matching the selected engine is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Backend selects the namespace root and the engine
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`

	// Catalog specifies the object catalog type and type-specific configuration
	Catalog CatalogConfig `mapstructure:"catalog" yaml:"catalog"`

	// Metrics controls Prometheus metrics collection
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" jsonschema:"enum=DEBUG,enum=INFO,enum=WARN,enum=ERROR"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json" jsonschema:"enum=text,enum=json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// BackendConfig specifies the namespace root and the storage engine.
//
// The Engine field determines which engine implementation is used.
// Only the corresponding engine-specific configuration section is used.
type BackendConfig struct {
	// Namespace is the root directory all objects live under
	Namespace string `mapstructure:"namespace" yaml:"namespace" validate:"required"`

	// Engine specifies which storage engine to use
	// Valid values: posix, mmap, uring
	Engine string `mapstructure:"engine" yaml:"engine" validate:"required,oneof=posix mmap uring" jsonschema:"enum=posix,enum=mmap,enum=uring"`

	// Posix contains posix-specific configuration
	// Only used when Engine = "posix"
	Posix map[string]any `mapstructure:"posix" yaml:"posix"`

	// Mmap contains mmap-specific configuration
	// Only used when Engine = "mmap"
	Mmap map[string]any `mapstructure:"mmap" yaml:"mmap"`

	// Uring contains io_uring-specific configuration
	// Only used when Engine = "uring"
	Uring map[string]any `mapstructure:"uring" yaml:"uring"`
}

// CatalogConfig specifies the object catalog.
type CatalogConfig struct {
	// Type specifies which catalog implementation to use
	// Valid values: none, memory, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=none memory badger" jsonschema:"enum=none,enum=memory,enum=badger"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`
}

// MetricsConfig controls metrics collection.
type MetricsConfig struct {
	// Enabled turns on Prometheus metrics collection
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (IOBACKENDS_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// envKeys are the scalar keys that can be overridden from the environment
// even when the config file does not mention them.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"backend.namespace",
	"backend.engine",
	"catalog.type",
	"metrics.enabled",
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use IOBACKENDS_ prefix and underscores
	// Example: IOBACKENDS_BACKEND_ENGINE=mmap
	v.SetEnvPrefix("IOBACKENDS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper knows about.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/io-backends/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		// An explicit path that does not exist is not an error either
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "io-backends")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "io-backends")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
