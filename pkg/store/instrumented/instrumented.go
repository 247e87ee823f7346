// Package instrumented provides a store decorator that records
// per-operation metrics. With a nil recorder the decorator is inert, so
// wiring it unconditionally costs nothing when metrics are disabled.
package instrumented

import (
	"context"
	"iter"
	"time"

	"github.com/marmos91/gridstore/pkg/metrics"
	"github.com/marmos91/gridstore/pkg/store"
)

// Store wraps an inner store and reports every operation.
type Store struct {
	inner   store.Store
	backend string
	metrics metrics.StoreMetrics
}

// partialStore extends Store with the inner store's partial-write
// capability. New picks it when the inner store supports SetRange, so the
// wrapped capability flag always matches the interface assertion.
type partialStore struct {
	*Store
	pw store.PartialWriter
}

// New wraps inner, labeling observations with the backend name.
func New(inner store.Store, backend string, m metrics.StoreMetrics) store.Store {
	s := &Store{inner: inner, backend: backend, metrics: m}
	if pw, ok := inner.(store.PartialWriter); ok && inner.SupportsPartialWrites() {
		return &partialStore{Store: s, pw: pw}
	}
	return s
}

// Get reads a complete object.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := s.inner.Get(ctx, key)
	metrics.ObserveOperation(s.metrics, s.backend, "Get", time.Since(start).Seconds(), err)
	metrics.RecordBytes(s.metrics, s.backend, "read", int64(len(data)))
	return data, err
}

// GetRange reads a byte range.
func (s *Store) GetRange(ctx context.Context, key string, rng store.ByteRange) ([]byte, error) {
	start := time.Now()
	data, err := s.inner.GetRange(ctx, key, rng)
	metrics.ObserveOperation(s.metrics, s.backend, "GetRange", time.Since(start).Seconds(), err)
	metrics.RecordBytes(s.metrics, s.backend, "read", int64(len(data)))
	return data, err
}

// Set writes a complete object.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := s.inner.Set(ctx, key, value)
	metrics.ObserveOperation(s.metrics, s.backend, "Set", time.Since(start).Seconds(), err)
	if err == nil {
		metrics.RecordBytes(s.metrics, s.backend, "write", int64(len(value)))
	}
	return err
}

// Delete removes an object.
func (s *Store) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.inner.Delete(ctx, key)
	metrics.ObserveOperation(s.metrics, s.backend, "Delete", time.Since(start).Seconds(), err)
	return err
}

// Exists reports whether the key holds an object.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := s.inner.Exists(ctx, key)
	metrics.ObserveOperation(s.metrics, s.backend, "Exists", time.Since(start).Seconds(), err)
	return ok, err
}

// List streams keys under a prefix. The observation covers the whole
// iteration, from the call until the sequence ends.
func (s *Store) List(ctx context.Context, prefix string) iter.Seq2[string, error] {
	inner := s.inner.List(ctx, prefix)
	return func(yield func(string, error) bool) {
		start := time.Now()
		var firstErr error
		defer func() {
			metrics.ObserveOperation(s.metrics, s.backend, "List", time.Since(start).Seconds(), firstErr)
		}()

		for key, err := range inner {
			if err != nil && firstErr == nil {
				firstErr = err
			}
			if !yield(key, err) {
				return
			}
		}
	}
}

// SupportsPartialWrites reports the plain wrapper's lack of SetRange.
func (s *Store) SupportsPartialWrites() bool { return false }

// Close closes the inner store.
func (s *Store) Close() error {
	return s.inner.Close()
}

// HealthCheck probes the inner store when it supports probing.
func (s *Store) HealthCheck(ctx context.Context) error {
	start := time.Now()
	var err error
	if hc, ok := s.inner.(store.HealthChecker); ok {
		err = hc.HealthCheck(ctx)
	}
	metrics.ObserveOperation(s.metrics, s.backend, "HealthCheck", time.Since(start).Seconds(), err)
	return err
}

// SupportsPartialWrites reports the forwarded capability.
func (s *partialStore) SupportsPartialWrites() bool { return true }

// SetRange overwrites bytes in place on the inner store.
func (s *partialStore) SetRange(ctx context.Context, key string, offset int64, p []byte) error {
	start := time.Now()
	err := s.pw.SetRange(ctx, key, offset, p)
	metrics.ObserveOperation(s.metrics, s.backend, "SetRange", time.Since(start).Seconds(), err)
	if err == nil {
		metrics.RecordBytes(s.metrics, s.backend, "write", int64(len(p)))
	}
	return err
}

// Ensure both wrappers implement the contract.
var (
	_ store.Store         = (*Store)(nil)
	_ store.Store         = (*partialStore)(nil)
	_ store.PartialWriter = (*partialStore)(nil)
)
