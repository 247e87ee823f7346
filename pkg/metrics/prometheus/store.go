// Package prometheus implements the metrics interfaces on a Prometheus
// registry.
package prometheus

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/gridstore/pkg/metrics"
	"github.com/marmos91/gridstore/pkg/store"
)

// storeMetrics is the Prometheus implementation of metrics.StoreMetrics.
type storeMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTotal        *prometheus.CounterVec
}

// NewStoreMetrics registers the store metric families on reg and returns
// a recorder. A nil reg uses the default registerer.
func NewStoreMetrics(reg prometheus.Registerer) metrics.StoreMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	return &storeMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridstore_store_operations_total",
				Help: "Total number of store operations by backend, operation, and status",
			},
			[]string{"backend", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "gridstore_store_operation_duration_seconds",
				Help: "Duration of store operations in seconds",
				Buckets: []float64{
					0.0001, // 100µs - in-memory operations
					0.0005,
					0.001, // 1ms - local disk
					0.005,
					0.01,
					0.05, // 50ms - embedded databases under load
					0.1,
					0.5, // 500ms - object stores
					1,
					5, // 5s - large objects or degraded backends
				},
			},
			[]string{"backend", "operation"},
		),
		bytesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridstore_store_bytes_total",
				Help: "Total payload bytes moved through the store by direction",
			},
			[]string{"backend", "direction"},
		),
	}
}

// ObserveOperation records one operation. Missing keys are a routine
// outcome of fill elision and cancellation follows the caller, so both
// get their own status rather than inflating the error count.
func (m *storeMetrics) ObserveOperation(backend, operation string, seconds float64, err error) {
	status := "success"
	switch {
	case errors.Is(err, store.ErrKeyNotFound):
		status = "not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = "canceled"
	case err != nil:
		status = "error"
	}

	m.operationsTotal.WithLabelValues(backend, operation, status).Inc()
	m.operationDuration.WithLabelValues(backend, operation).Observe(seconds)
}

func (m *storeMetrics) RecordBytes(backend, direction string, n int64) {
	if n <= 0 {
		return
	}
	m.bytesTotal.WithLabelValues(backend, direction).Add(float64(n))
}

// Ensure storeMetrics implements the interface.
var _ metrics.StoreMetrics = (*storeMetrics)(nil)
