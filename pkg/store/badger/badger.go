// Package badger provides a store implementation backed by BadgerDB, an
// embedded log-structured key-value store. Values are atomic blobs, so
// ranged reads slice a full fetch and partial writes are unsupported.
package badger

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/gridstore/pkg/store"
)

// Config holds configuration for the badger store.
type Config struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps the whole database in memory, for tests.
	InMemory bool

	// SyncWrites makes every write durable before returning.
	SyncWrites bool
}

// Store is a BadgerDB implementation of store.Store.
type Store struct {
	db        *badger.DB
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New opens (or creates) a badger database per the configuration.
func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, errors.New("badger: database directory is required")
	}

	opts := badger.DefaultOptions(cfg.Dir).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %q: %w", cfg.Dir, err)
	}
	return &Store{db: db}, nil
}

// NewInMemory opens an in-memory badger store, for tests.
func NewInMemory() (*Store, error) {
	return New(Config{InMemory: true})
}

// Get reads a complete object.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, store.ErrStoreClosed
	}

	var data []byte
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, store.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger: get %q: %w", key, err)
	}
	return data, nil
}

// GetRange reads a byte range. Badger stores values whole, so the range
// slices a full fetch.
func (s *Store) GetRange(ctx context.Context, key string, rng store.ByteRange) ([]byte, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	offset, n, err := rng.Resolve(key, int64(len(data)))
	if err != nil {
		return nil, err
	}
	return data[offset : offset+n : offset+n], nil
}

// Set writes a complete object.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return err
	}
	if s.closed.Load() {
		return store.ErrStoreClosed
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("badger: set %q: %w", key, err)
	}
	return nil
}

// Delete removes an object. Badger's delete of an absent key already
// succeeds, which is exactly the contract.
func (s *Store) Delete(ctx context.Context, key string) error {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return err
	}
	if s.closed.Load() {
		return store.ErrStoreClosed
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("badger: delete %q: %w", key, err)
	}
	return nil
}

// Exists reports whether the key holds an object.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return false, err
	}
	if s.closed.Load() {
		return false, store.ErrStoreClosed
	}

	err = s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("badger: exists %q: %w", key, err)
	}
	return true, nil
}

// List streams keys under a prefix through a keys-only iterator.
func (s *Store) List(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		prefix, err := store.NormalizePrefix(prefix)
		if err != nil {
			yield("", err)
			return
		}
		if s.closed.Load() {
			yield("", store.ErrStoreClosed)
			return
		}

		txn := s.db.NewTransaction(false)
		defer txn.Discard()

		// A prefix equal to a full key matches that key.
		if prefix != "" {
			if _, err := txn.Get([]byte(prefix)); err == nil {
				if !yield(prefix, nil) {
					return
				}
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				yield("", fmt.Errorf("badger: list %q: %w", prefix, err))
				return
			}
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		if prefix != "" {
			opts.Prefix = []byte(prefix + "/")
		}

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if ctx.Err() != nil {
				yield("", ctx.Err())
				return
			}
			if !yield(string(it.Item().KeyCopy(nil)), nil) {
				return
			}
		}
	}
}

// SupportsPartialWrites reports that in-place updates are unavailable.
func (s *Store) SupportsPartialWrites() bool { return false }

// Close closes the database.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

// HealthCheck verifies the database is open.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.closed.Load() || s.db.IsClosed() {
		return store.ErrStoreClosed
	}
	return nil
}

// Ensure Store implements the contract.
var _ store.Store = (*Store)(nil)
