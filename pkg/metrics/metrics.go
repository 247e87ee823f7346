// Package metrics defines the instrumentation interfaces the storage
// layer reports through. Implementations live in subpackages; a nil
// interface value is valid everywhere and records nothing, so callers
// never branch on whether metrics are enabled.
package metrics

// StoreMetrics records the outcome of store operations. Implementations
// must be safe for concurrent use.
type StoreMetrics interface {
	// ObserveOperation records one operation with its duration and
	// outcome. backend is the adapter name ("fs", "s3", ...); operation
	// is the method name ("Get", "Set", ...).
	ObserveOperation(backend, operation string, seconds float64, err error)

	// RecordBytes counts payload bytes moved through the store.
	// direction is "read" or "write".
	RecordBytes(backend, direction string, n int64)
}

// ObserveOperation records an operation on m, tolerating a nil recorder.
func ObserveOperation(m StoreMetrics, backend, operation string, seconds float64, err error) {
	if m != nil {
		m.ObserveOperation(backend, operation, seconds, err)
	}
}

// RecordBytes counts bytes on m, tolerating a nil recorder.
func RecordBytes(m StoreMetrics, backend, direction string, n int64) {
	if m != nil && n > 0 {
		m.RecordBytes(backend, direction, n)
	}
}
