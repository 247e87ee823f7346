// Package cache provides a read-through LRU wrapper around any store.
// Whole objects fetched by Get are kept in memory up to a byte budget;
// Set and Delete invalidate, so the wrapper never serves stale data it
// wrote through itself.
package cache

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/golang/groupcache/lru"

	"github.com/marmos91/gridstore/internal/bytesize"
	"github.com/marmos91/gridstore/pkg/store"
)

// Config holds configuration for the cache wrapper.
type Config struct {
	// MaxBytes bounds the total size of cached values.
	// Default: 256MiB.
	MaxBytes bytesize.ByteSize `mapstructure:"max_bytes"`
}

// Store wraps an inner store with a byte-bounded LRU of whole objects.
type Store struct {
	inner store.Store

	mu       sync.Mutex
	lru      *lru.Cache
	curBytes int64
	maxBytes int64

	hits   atomic.Int64
	misses atomic.Int64
	closed atomic.Bool
}

// New wraps inner with a read-through cache.
func New(inner store.Store, cfg Config) (*Store, error) {
	if inner == nil {
		return nil, errors.New("cache: inner store is required")
	}
	maxBytes := int64(cfg.MaxBytes)
	if maxBytes == 0 {
		maxBytes = int64(256 * bytesize.MiB)
	}
	if maxBytes < 0 {
		return nil, fmt.Errorf("cache: negative size budget %d", maxBytes)
	}

	s := &Store{
		inner:    inner,
		lru:      lru.New(0),
		maxBytes: maxBytes,
	}
	s.lru.OnEvicted = func(_ lru.Key, value any) {
		s.curBytes -= int64(len(value.([]byte)))
	}
	return s, nil
}

// lookup returns a copy of the cached value, promoting the entry.
func (s *Store) lookup(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.lru.Get(key)
	if !ok {
		return nil, false
	}
	return slices.Clone(value.([]byte)), true
}

// insert caches a copy of value, evicting old entries past the budget.
// Values larger than the whole budget are not cached.
func (s *Store) insert(key string, value []byte) {
	n := int64(len(value))
	if n > s.maxBytes {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.lru.Get(key); ok {
		s.curBytes -= int64(len(old.([]byte)))
	}
	s.lru.Add(key, slices.Clone(value))
	s.curBytes += n
	for s.curBytes > s.maxBytes {
		s.lru.RemoveOldest()
	}
}

// invalidate drops the key from the cache.
func (s *Store) invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Remove(key)
}

// Get reads through the cache.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, store.ErrStoreClosed
	}

	if value, ok := s.lookup(key); ok {
		s.hits.Add(1)
		return value, nil
	}
	s.misses.Add(1)

	value, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	s.insert(key, value)
	return value, nil
}

// GetRange serves ranged reads from a cached whole object when present,
// and passes through otherwise. Misses do not populate the cache because
// a range response is not the whole object.
func (s *Store) GetRange(ctx context.Context, key string, rng store.ByteRange) ([]byte, error) {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, store.ErrStoreClosed
	}

	if value, ok := s.lookup(key); ok {
		s.hits.Add(1)
		offset, n, err := rng.Resolve(key, int64(len(value)))
		if err != nil {
			return nil, err
		}
		return value[offset : offset+n], nil
	}
	s.misses.Add(1)
	return s.inner.GetRange(ctx, key, rng)
}

// Set writes through and invalidates.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return err
	}
	if s.closed.Load() {
		return store.ErrStoreClosed
	}

	if err := s.inner.Set(ctx, key, value); err != nil {
		return err
	}
	s.invalidate(key)
	return nil
}

// Delete deletes through and invalidates.
func (s *Store) Delete(ctx context.Context, key string) error {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return err
	}
	if s.closed.Load() {
		return store.ErrStoreClosed
	}

	if err := s.inner.Delete(ctx, key); err != nil {
		return err
	}
	s.invalidate(key)
	return nil
}

// Exists answers from the cache when possible.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return false, err
	}
	if s.closed.Load() {
		return false, store.ErrStoreClosed
	}

	if _, ok := s.lookup(key); ok {
		return true, nil
	}
	return s.inner.Exists(ctx, key)
}

// List passes through to the inner store.
func (s *Store) List(ctx context.Context, prefix string) iter.Seq2[string, error] {
	if s.closed.Load() {
		return func(yield func(string, error) bool) {
			yield("", store.ErrStoreClosed)
		}
	}
	return s.inner.List(ctx, prefix)
}

// SupportsPartialWrites reports false: an in-place write through the
// wrapper would stale the cached whole object.
func (s *Store) SupportsPartialWrites() bool { return false }

// Close drops the cache and closes the inner store.
func (s *Store) Close() error {
	s.closed.Store(true)
	s.mu.Lock()
	s.lru.Clear()
	s.mu.Unlock()
	return s.inner.Close()
}

// HealthCheck probes the inner store when it supports probing.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.closed.Load() {
		return store.ErrStoreClosed
	}
	if hc, ok := s.inner.(store.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// Len returns the number of cached objects.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// SizeBytes returns the total size of cached values.
func (s *Store) SizeBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.curBytes
}

// Stats returns cumulative hit and miss counts.
func (s *Store) Stats() (hits, misses int64) {
	return s.hits.Load(), s.misses.Load()
}

// Ensure Store implements the contract.
var _ store.Store = (*Store)(nil)
