package config

import (
	"path/filepath"
	"strings"

	"github.com/konradgithuup/io-backends/pkg/backend/mmap"
	"github.com/konradgithuup/io-backends/pkg/backend/posix"
	"github.com/konradgithuup/io-backends/pkg/backend/uring"
)

// DefaultNamespace is the namespace root used when none is configured.
const DefaultNamespace = "/tmp/io-backends"

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Defaults are filled in for every engine section, not only the
//     selected one, so that generated config files document all of them
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyBackendDefaults(&cfg.Backend)
	applyCatalogDefaults(&cfg.Catalog, cfg.Backend.Namespace)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyBackendDefaults sets namespace and engine defaults.
func applyBackendDefaults(cfg *BackendConfig) {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.Engine == "" {
		cfg.Engine = posix.EngineName
	}
	cfg.Engine = strings.ToLower(cfg.Engine)

	if cfg.Posix == nil {
		cfg.Posix = make(map[string]any)
	}
	if cfg.Mmap == nil {
		cfg.Mmap = make(map[string]any)
	}
	if cfg.Uring == nil {
		cfg.Uring = make(map[string]any)
	}

	setDefault(cfg.Posix, "direct", false)
	setDefault(cfg.Posix, "sync_mode", string(posix.SyncNone))

	setDefault(cfg.Mmap, "min_capacity", uint64(mmap.DefaultMinCapacity))

	setDefault(cfg.Uring, "queue_depth", uint32(uring.DefaultQueueDepth))
	setDefault(cfg.Uring, "sqpoll", true)
	setDefault(cfg.Uring, "sq_thread_idle", uint32(uring.DefaultSQThreadIdle))
	// 0 = one ring per GOMAXPROCS
	setDefault(cfg.Uring, "max_rings", 0)
}

// applyCatalogDefaults sets catalog defaults. The badger catalog lives next
// to the namespace it describes unless configured otherwise.
func applyCatalogDefaults(cfg *CatalogConfig, namespace string) {
	if cfg.Type == "" {
		cfg.Type = "none"
	}
	cfg.Type = strings.ToLower(cfg.Type)

	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	setDefault(cfg.Badger, "path", filepath.Clean(namespace)+".catalog")
}

func setDefault(m map[string]any, key string, value any) {
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
