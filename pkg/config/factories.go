package config

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/konradgithuup/io-backends/internal/logger"
	"github.com/konradgithuup/io-backends/pkg/backend"
	"github.com/konradgithuup/io-backends/pkg/backend/mmap"
	"github.com/konradgithuup/io-backends/pkg/backend/posix"
	"github.com/konradgithuup/io-backends/pkg/backend/uring"
	"github.com/konradgithuup/io-backends/pkg/catalog"
	catalogbadger "github.com/konradgithuup/io-backends/pkg/catalog/badger"
	catalogmemory "github.com/konradgithuup/io-backends/pkg/catalog/memory"
)

// posixYAMLConfig represents posix engine configuration loaded from YAML files.
type posixYAMLConfig struct {
	Direct   bool   `mapstructure:"direct"`
	SyncMode string `mapstructure:"sync_mode" validate:"omitempty,oneof=none fdatasync"`
}

// mmapYAMLConfig represents mmap engine configuration loaded from YAML files.
type mmapYAMLConfig struct {
	MinCapacity uint64 `mapstructure:"min_capacity"`
}

// uringYAMLConfig represents io_uring engine configuration loaded from YAML files.
type uringYAMLConfig struct {
	QueueDepth   uint32 `mapstructure:"queue_depth" validate:"lte=4096"`
	SQPoll       bool   `mapstructure:"sqpoll"`
	SQThreadIdle uint32 `mapstructure:"sq_thread_idle"`
	MaxRings     int    `mapstructure:"max_rings" validate:"gte=0"`
}

// badgerYAMLConfig represents BadgerDB catalog configuration loaded from YAML files.
type badgerYAMLConfig struct {
	Path     string `mapstructure:"path"`
	InMemory bool   `mapstructure:"in_memory"`
}

// CreateEngine creates a storage engine based on configuration.
//
// This factory function uses the Engine field to determine which engine to
// create, then decodes the engine-specific configuration from the
// corresponding map and passes it to the engine's constructor.
//
// Supported engines:
//   - "posix": Uses pkg/backend/posix (pread/pwrite, optional O_DIRECT)
//   - "mmap": Uses pkg/backend/mmap (shared memory mapping)
//   - "uring": Uses pkg/backend/uring (io_uring submission/completion)
//
// Parameters:
//   - cfg: Backend configuration
//   - m: Optional metrics collector for engine growth events (nil = none)
func CreateEngine(cfg *BackendConfig, m backend.BackendMetrics) (backend.Engine, error) {
	switch cfg.Engine {
	case posix.EngineName:
		return createPosixEngine(cfg.Posix)
	case mmap.EngineName:
		return createMmapEngine(cfg.Mmap, m)
	case uring.EngineName:
		return createUringEngine(cfg.Uring)
	default:
		return nil, fmt.Errorf("unknown engine: %q", cfg.Engine)
	}
}

// createPosixEngine creates a pread/pwrite engine.
func createPosixEngine(options map[string]any) (backend.Engine, error) {
	engineCfg, err := decodePosixOptions(options)
	if err != nil {
		return nil, fmt.Errorf("invalid posix config: %w", err)
	}

	engine, err := posix.NewEngine(posix.Options{
		Direct:   engineCfg.Direct,
		SyncMode: posix.SyncMode(engineCfg.SyncMode),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create posix engine: %w", err)
	}

	return engine, nil
}

// createMmapEngine creates a memory-mapped engine. Remaps are reported to m.
func createMmapEngine(options map[string]any, m backend.BackendMetrics) (backend.Engine, error) {
	engineCfg, err := decodeMmapOptions(options)
	if err != nil {
		return nil, fmt.Errorf("invalid mmap config: %w", err)
	}

	opts := mmap.Options{MinCapacity: engineCfg.MinCapacity}
	if m != nil {
		opts.OnGrow = func(capacity uint64) {
			m.RecordGrowth(mmap.EngineName, capacity)
		}
	}

	return mmap.NewEngine(opts), nil
}

// createUringEngine creates an io_uring engine.
func createUringEngine(options map[string]any) (backend.Engine, error) {
	engineCfg, err := decodeUringOptions(options)
	if err != nil {
		return nil, fmt.Errorf("invalid uring config: %w", err)
	}

	engine, err := uring.NewEngine(uring.Options{
		QueueDepth:   engineCfg.QueueDepth,
		SQPoll:       engineCfg.SQPoll,
		SQThreadIdle: engineCfg.SQThreadIdle,
		MaxRings:     engineCfg.MaxRings,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create uring engine: %w", err)
	}

	return engine, nil
}

// CreateCatalog creates an object catalog based on configuration.
//
// Supported types:
//   - "none": No catalog; returns nil
//   - "memory": Uses pkg/catalog/memory (lost on exit)
//   - "badger": Uses pkg/catalog/badger (persistent)
func CreateCatalog(ctx context.Context, cfg *CatalogConfig) (catalog.Catalog, error) {
	switch cfg.Type {
	case "none":
		return nil, nil
	case "memory":
		return catalogmemory.NewMemoryCatalog(), nil
	case "badger":
		return createBadgerCatalog(ctx, cfg.Badger)
	default:
		return nil, fmt.Errorf("unknown catalog type: %q", cfg.Type)
	}
}

// createBadgerCatalog creates a BadgerDB catalog.
func createBadgerCatalog(ctx context.Context, options map[string]any) (catalog.Catalog, error) {
	catalogCfg, err := decodeBadgerOptions(options)
	if err != nil {
		return nil, fmt.Errorf("invalid badger config: %w", err)
	}

	c, err := catalogbadger.NewBadgerCatalog(ctx, catalogbadger.Config{
		Path:     catalogCfg.Path,
		InMemory: catalogCfg.InMemory,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open badger catalog: %w", err)
	}

	return c, nil
}

// CreateBackend wires metrics, engine and catalog from cfg into a backend.
//
// The caller owns the returned backend and must call Fini, which also closes
// the engine and catalog.
func CreateBackend(ctx context.Context, cfg *Config) (*backend.Backend, error) {
	m := InitializeMetrics(cfg)

	engine, err := CreateEngine(&cfg.Backend, m)
	if err != nil {
		return nil, err
	}

	cat, err := CreateCatalog(ctx, &cfg.Catalog)
	if err != nil {
		closeEngine(engine)
		return nil, err
	}

	opts := []backend.Option{backend.WithMetrics(m)}
	if cat != nil {
		opts = append(opts, backend.WithCatalog(cat))
	}

	b, err := backend.New(cfg.Backend.Namespace, engine, opts...)
	if err != nil {
		closeEngine(engine)
		if cat != nil {
			_ = cat.Close()
		}
		return nil, err
	}

	logger.Debug("Backend ready: engine=%s catalog=%s metrics=%v",
		engine.Name(), cfg.Catalog.Type, cfg.Metrics.Enabled)
	return b, nil
}

func closeEngine(engine backend.Engine) {
	if c, ok := engine.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}

func decodePosixOptions(options map[string]any) (*posixYAMLConfig, error) {
	var cfg posixYAMLConfig
	return &cfg, decode(options, &cfg)
}

func decodeMmapOptions(options map[string]any) (*mmapYAMLConfig, error) {
	var cfg mmapYAMLConfig
	return &cfg, decode(options, &cfg)
}

func decodeUringOptions(options map[string]any) (*uringYAMLConfig, error) {
	var cfg uringYAMLConfig
	return &cfg, decode(options, &cfg)
}

func decodeBadgerOptions(options map[string]any) (*badgerYAMLConfig, error) {
	var cfg badgerYAMLConfig
	return &cfg, decode(options, &cfg)
}

// decode maps options onto result. Values arriving as strings (from
// environment overrides) are converted; unknown keys are rejected.
func decode(options map[string]any, result any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           result,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(options)
}
