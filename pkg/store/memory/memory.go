// Package memory provides an in-memory store implementation for testing
// and ephemeral data.
package memory

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"

	"github.com/marmos91/gridstore/pkg/store"
)

// Store is an in-memory implementation of store.Store backed by a map.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
	closed  bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		objects: make(map[string][]byte),
	}
}

// Get reads a complete object from memory.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrStoreClosed
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, store.ErrKeyNotFound
	}

	// Return a copy to prevent mutation of the stored value.
	copied := make([]byte, len(data))
	copy(copied, data)
	return copied, nil
}

// GetRange reads a byte range from an object in memory.
func (s *Store) GetRange(ctx context.Context, key string, rng store.ByteRange) ([]byte, error) {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrStoreClosed
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, store.ErrKeyNotFound
	}

	offset, n, err := rng.Resolve(key, int64(len(data)))
	if err != nil {
		return nil, err
	}
	result := make([]byte, n)
	copy(result, data[offset:offset+n])
	return result, nil
}

// Set writes a complete object to memory.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrStoreClosed
	}

	// Copy so later caller mutations don't reach the stored value.
	copied := make([]byte, len(value))
	copy(copied, value)
	s.objects[key] = copied
	return nil
}

// SetRange overwrites part of an existing object in place.
func (s *Store) SetRange(ctx context.Context, key string, offset int64, p []byte) error {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return err
	}
	if offset < 0 {
		return fmt.Errorf("memory: negative offset %d", offset)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrStoreClosed
	}
	data, ok := s.objects[key]
	if !ok {
		return store.ErrKeyNotFound
	}
	if offset+int64(len(p)) > int64(len(data)) {
		return fmt.Errorf("memory: range [%d, %d) outside object %q of %d bytes",
			offset, offset+int64(len(p)), key, len(data))
	}
	copy(data[offset:], p)
	return nil
}

// Delete removes an object from memory. Absent keys are a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrStoreClosed
	}
	delete(s.objects, key)
	return nil
}

// Exists reports whether the key holds an object.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, store.ErrStoreClosed
	}
	_, ok := s.objects[key]
	return ok, nil
}

// List yields the keys under a prefix from a sorted snapshot.
func (s *Store) List(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		prefix, err := store.NormalizePrefix(prefix)
		if err != nil {
			yield("", err)
			return
		}

		s.mu.RLock()
		if s.closed {
			s.mu.RUnlock()
			yield("", store.ErrStoreClosed)
			return
		}
		keys := make([]string, 0, len(s.objects))
		for key := range s.objects {
			if store.KeyWithinPrefix(key, prefix) {
				keys = append(keys, key)
			}
		}
		s.mu.RUnlock()

		sort.Strings(keys)
		for _, key := range keys {
			if !yield(key, nil) {
				return
			}
		}
	}
}

// SupportsPartialWrites reports that in-place updates are available.
func (s *Store) SupportsPartialWrites() bool { return true }

// Close marks the store as closed and releases the map.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.objects = nil
	return nil
}

// HealthCheck verifies the store is open.
func (s *Store) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return store.ErrStoreClosed
	}
	return nil
}

// Len returns the number of objects stored (for testing).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// TotalSize returns the total size of all objects stored (for testing).
func (s *Store) TotalSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, data := range s.objects {
		total += int64(len(data))
	}
	return total
}

// Ensure Store implements the full contract.
var (
	_ store.Store         = (*Store)(nil)
	_ store.PartialWriter = (*Store)(nil)
)
