package backend

import "time"

// BackendMetrics provides observability for backend operations.
//
// This is optional - if not provided, metrics collection is skipped. The
// Prometheus implementation lives in pkg/metrics.
type BackendMetrics interface {
	// ObserveOperation records one backend operation (create, open, read,
	// write, ...). bytes is the transferred byte count for read and write and
	// zero otherwise; err is the operation result.
	ObserveOperation(op, engine string, bytes uint64, duration time.Duration, err error)

	// SetCachedObjects records the number of live objects in the cache.
	SetCachedObjects(count int)

	// RecordGrowth records an engine growing its internal allocation (the
	// mmap engine remapping) to capacity bytes.
	RecordGrowth(engine string, capacity uint64)
}

// noopBackendMetrics is a default no-op metrics implementation
type noopBackendMetrics struct{}

func (noopBackendMetrics) ObserveOperation(string, string, uint64, time.Duration, error) {}
func (noopBackendMetrics) SetCachedObjects(int)                                         {}
func (noopBackendMetrics) RecordGrowth(string, uint64)                                  {}

// NoopMetrics returns a BackendMetrics that discards everything.
func NoopMetrics() BackendMetrics {
	return noopBackendMetrics{}
}
