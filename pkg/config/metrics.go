package config

import (
	"github.com/konradgithuup/io-backends/pkg/backend"
	"github.com/konradgithuup/io-backends/pkg/metrics"
)

// InitializeMetrics creates the backend metrics collector based on configuration.
//
// If metrics are enabled in the configuration, the global Prometheus
// registry is initialized and a Prometheus-backed collector is returned.
// Otherwise it returns nil and the backend keeps its no-op implementation.
func InitializeMetrics(cfg *Config) backend.BackendMetrics {
	if !cfg.Metrics.Enabled {
		return nil
	}

	metrics.InitRegistry()
	return metrics.NewBackendMetrics()
}
