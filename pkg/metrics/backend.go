package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/konradgithuup/io-backends/pkg/backend"
)

// backendMetrics is the Prometheus implementation of backend.BackendMetrics.
//
// This implementation collects:
//   - Operation counts by operation, engine and status
//   - Operation latencies
//   - Bytes transferred by read and write
//   - Live objects in the object cache
//   - Growth of engine allocations (mmap remaps)
type backendMetrics struct {
	operations   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	bytes        *prometheus.CounterVec
	cached       prometheus.Gauge
	growths      *prometheus.CounterVec
	lastCapacity *prometheus.GaugeVec
}

var (
	// shared is registered once; every backend in the process reports to it
	shared     *backendMetrics
	sharedOnce sync.Once
)

// NewBackendMetrics returns the Prometheus-backed BackendMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// causes the backend to keep its no-op implementation. Repeated calls return
// the same collectors, since a registry accepts each metric name once.
func NewBackendMetrics() backend.BackendMetrics {
	if !IsEnabled() {
		return nil
	}
	sharedOnce.Do(func() {
		shared = newBackendMetrics(GetRegistry())
	})
	return shared
}

func newBackendMetrics(reg prometheus.Registerer) *backendMetrics {
	return &backendMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "iobackends_operations_total",
				Help: "Total number of backend operations by operation, engine and status",
			},
			[]string{"operation", "engine", "status"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "iobackends_operation_duration_seconds",
				Help: "Duration of backend operations in seconds",
				Buckets: []float64{
					0.000001, // 1µs
					0.00001,  // 10µs
					0.0001,   // 100µs
					0.001,    // 1ms
					0.01,     // 10ms
					0.1,      // 100ms
					1,        // 1s
				},
			},
			[]string{"operation", "engine"},
		),
		bytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "iobackends_bytes_total",
				Help: "Total bytes transferred by read and write operations",
			},
			[]string{"operation", "engine"},
		),
		cached: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "iobackends_cached_objects",
				Help: "Current number of open objects in the object cache",
			},
		),
		growths: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "iobackends_growth_total",
				Help: "Total number of engine allocation growths",
			},
			[]string{"engine"},
		),
		lastCapacity: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "iobackends_growth_capacity_bytes",
				Help: "Capacity in bytes after the most recent growth",
			},
			[]string{"engine"},
		),
	}
}

// ObserveOperation implements backend.BackendMetrics.ObserveOperation
func (m *backendMetrics) ObserveOperation(op, engine string, bytes uint64, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	m.operations.WithLabelValues(op, engine, status).Inc()
	m.duration.WithLabelValues(op, engine).Observe(duration.Seconds())
	if bytes > 0 {
		m.bytes.WithLabelValues(op, engine).Add(float64(bytes))
	}
}

// SetCachedObjects implements backend.BackendMetrics.SetCachedObjects
func (m *backendMetrics) SetCachedObjects(count int) {
	m.cached.Set(float64(count))
}

// RecordGrowth implements backend.BackendMetrics.RecordGrowth
func (m *backendMetrics) RecordGrowth(engine string, capacity uint64) {
	m.growths.WithLabelValues(engine).Inc()
	m.lastCapacity.WithLabelValues(engine).Set(float64(capacity))
}
