package prometheus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/marmos91/gridstore/pkg/store"
)

func TestObserveOperationStatuses(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewStoreMetrics(reg)

	m.ObserveOperation("memory", "Get", 0.001, nil)
	m.ObserveOperation("memory", "Get", 0.001, store.ErrKeyNotFound)
	m.ObserveOperation("memory", "Get", 0.001, errors.New("disk on fire"))
	m.ObserveOperation("memory", "Get", 0.001, nil)
	m.ObserveOperation("memory", "Get", 0.001, fmt.Errorf("read chunk: %w", context.Canceled))
	m.ObserveOperation("memory", "Get", 0.001, context.DeadlineExceeded)

	expected := `
		# HELP gridstore_store_operations_total Total number of store operations by backend, operation, and status
		# TYPE gridstore_store_operations_total counter
		gridstore_store_operations_total{backend="memory",operation="Get",status="canceled"} 2
		gridstore_store_operations_total{backend="memory",operation="Get",status="error"} 1
		gridstore_store_operations_total{backend="memory",operation="Get",status="not_found"} 1
		gridstore_store_operations_total{backend="memory",operation="Get",status="success"} 2
	`
	if err := testutil.CollectAndCompare(reg, strings.NewReader(expected), "gridstore_store_operations_total"); err != nil {
		t.Error(err)
	}
}

func TestRecordBytes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewStoreMetrics(reg)

	m.RecordBytes("s3", "read", 1024)
	m.RecordBytes("s3", "read", 512)
	m.RecordBytes("s3", "write", 2048)
	m.RecordBytes("s3", "write", 0)
	m.RecordBytes("s3", "write", -5)

	expected := `
		# HELP gridstore_store_bytes_total Total payload bytes moved through the store by direction
		# TYPE gridstore_store_bytes_total counter
		gridstore_store_bytes_total{backend="s3",direction="read"} 1536
		gridstore_store_bytes_total{backend="s3",direction="write"} 2048
	`
	if err := testutil.CollectAndCompare(reg, strings.NewReader(expected), "gridstore_store_bytes_total"); err != nil {
		t.Error(err)
	}
}

func TestDurationHistogramCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewStoreMetrics(reg)

	m.ObserveOperation("fs", "Set", 0.002, nil)
	m.ObserveOperation("fs", "Set", 0.2, nil)

	count := testutil.CollectAndCount(reg, "gridstore_store_operation_duration_seconds")
	if count != 1 {
		t.Errorf("CollectAndCount = %d series, want 1", count)
	}
}
