// Package sqlite provides a store implementation backed by a SQLite
// database file, using the pure-Go driver. One table maps keys to blob
// values; ranged reads run server-side through substr.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marmos91/gridstore/pkg/store"
)

// object is the row type of the chunks table.
type object struct {
	Key   string `gorm:"column:key;primaryKey"`
	Value []byte `gorm:"column:value;not null"`
}

func (object) TableName() string { return "chunks" }

// Config holds configuration for the sqlite store.
type Config struct {
	// Path is the database file. Parent directories are created.
	Path string

	// InMemory keeps the database in memory, for tests.
	InMemory bool
}

// Store is a SQLite implementation of store.Store.
type Store struct {
	db        *gorm.DB
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New opens (or creates) the database and ensures the schema.
func New(cfg Config) (*Store, error) {
	var dsn string
	switch {
	case cfg.InMemory:
		dsn = ":memory:"
	case cfg.Path == "":
		return nil, errors.New("sqlite: database path is required")
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("sqlite: create database directory: %w", err)
		}
		// WAL allows concurrent readers with a single writer; the busy
		// timeout rides out short lock contention.
		dsn = cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", cfg.Path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite: underlying database: %w", err)
	}
	if cfg.InMemory {
		// Every pooled connection would otherwise get its own empty
		// in-memory database.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&object{}); err != nil {
		return nil, fmt.Errorf("sqlite: migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// NewInMemory opens an in-memory sqlite store, for tests.
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

	var obj object
	err = s.db.WithContext(ctx).Take(&obj, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get %q: %w", key, err)
	}
	if obj.Value == nil {
		obj.Value = []byte{}
	}
	return obj.Value, nil
}

// GetRange reads a byte range server-side via substr.
func (s *Store) GetRange(ctx context.Context, key string, rng store.ByteRange) ([]byte, error) {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, store.ErrStoreClosed
	}

	var data []byte
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var size sql.NullInt64
		row := tx.Raw("SELECT length(value) FROM chunks WHERE key = ?", key).Row()
		if err := row.Scan(&size); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrKeyNotFound
			}
			return err
		}

		offset, n, err := rng.Resolve(key, size.Int64)
		if err != nil {
			return err
		}
		if n == 0 {
			data = []byte{}
			return nil
		}

		// substr is 1-based.
		row = tx.Raw("SELECT substr(value, ?, ?) FROM chunks WHERE key = ?", offset+1, n, key).Row()
		return row.Scan(&data)
	})
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, store.ErrKeyNotFound
		}
		var re *store.RangeError
		if errors.As(err, &re) {
			return nil, re
		}
		return nil, fmt.Errorf("sqlite: get range %q: %w", key, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// Set writes a complete object through an upsert.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return err
	}
	if s.closed.Load() {
		return store.ErrStoreClosed
	}

	if value == nil {
		value = []byte{}
	}
	err = s.db.WithContext(ctx).Exec(
		"INSERT INTO chunks (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value",
		key, value,
	).Error
	if err != nil {
		return fmt.Errorf("sqlite: set %q: %w", key, err)
	}
	return nil
}

// Delete removes an object. Deleting zero rows is success.
func (s *Store) Delete(ctx context.Context, key string) error {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return err
	}
	if s.closed.Load() {
		return store.ErrStoreClosed
	}

	if err := s.db.WithContext(ctx).Delete(&object{}, "key = ?", key).Error; err != nil {
		return fmt.Errorf("sqlite: delete %q: %w", key, err)
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

	var n int64
	if err := s.db.WithContext(ctx).Model(&object{}).Where("key = ?", key).Count(&n).Error; err != nil {
		return false, fmt.Errorf("sqlite: exists %q: %w", key, err)
	}
	return n > 0, nil
}

// List streams keys under a prefix through a rows cursor.
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

		q := s.db.WithContext(ctx).Model(&object{}).Select("key").Order("key")
		if prefix != "" {
			q = q.Where("key = ? OR key LIKE ? ESCAPE '\\'", prefix, likePattern(prefix))
		}
		rows, err := q.Rows()
		if err != nil {
			yield("", fmt.Errorf("sqlite: list %q: %w", prefix, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				yield("", fmt.Errorf("sqlite: list %q: %w", prefix, err))
				return
			}
			if !yield(key, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield("", fmt.Errorf("sqlite: list %q: %w", prefix, err))
		}
	}
}

// likePattern escapes LIKE metacharacters in the prefix and anchors it at
// a path-segment boundary.
func likePattern(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "/%"
}

// SupportsPartialWrites reports that in-place updates are unavailable.
func (s *Store) SupportsPartialWrites() bool { return false }

// Close closes the database.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		sqlDB, err := s.db.DB()
		if err != nil {
			s.closeErr = err
			return
		}
		s.closeErr = sqlDB.Close()
	})
	return s.closeErr
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.closed.Load() {
		return store.ErrStoreClosed
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Ensure Store implements the contract.
var _ store.Store = (*Store)(nil)
