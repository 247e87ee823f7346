// Package postgres provides a store implementation backed by PostgreSQL.
// Objects live in a single chunks table; ranged reads run server-side via
// substring so large values never cross the wire for small windows.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marmos91/gridstore/internal/logger"
	"github.com/marmos91/gridstore/pkg/store"
)

// Config holds the configuration for the PostgreSQL store.
type Config struct {
	// Connection parameters
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	Database string `mapstructure:"database" validate:"required"`
	User     string `mapstructure:"user" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
	SSLMode  string `mapstructure:"ssl_mode" validate:"omitempty,oneof=disable require verify-ca verify-full prefer"`

	// Connection pool
	MaxConns          int32         `mapstructure:"max_conns"`           // Default: 10
	MinConns          int32         `mapstructure:"min_conns"`           // Default: 2
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`   // Default: 1h
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`  // Default: 30m
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"` // Default: 1m

	// Timeouts
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"` // Default: 5s
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`   // Default: 30s

	// AutoMigrate runs embedded schema migrations on startup. The serve
	// command enables this by default; disable it when DDL is managed
	// out of band and run RunMigrations manually instead.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// ApplyDefaults sets default values for unspecified configuration fields.
func (c *Config) ApplyDefaults() {
	if c.MaxConns == 0 {
		c.MaxConns = 10
	}
	if c.MinConns == 0 {
		c.MinConns = 2
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = 1 * time.Hour
	}
	if c.MaxConnIdleTime == 0 {
		c.MaxConnIdleTime = 30 * time.Minute
	}
	if c.HealthCheckPeriod == 0 {
		c.HealthCheckPeriod = 1 * time.Minute
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 30 * time.Second
	}
	if c.SSLMode == "" {
		c.SSLMode = "prefer"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.MaxConns < 1 {
		return fmt.Errorf("max_conns must be at least 1")
	}
	if c.MinConns < 0 {
		return fmt.Errorf("min_conns cannot be negative")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min_conns (%d) cannot be greater than max_conns (%d)", c.MinConns, c.MaxConns)
	}
	return nil
}

// ConnectionString builds a PostgreSQL connection string from the config.
func (c *Config) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s connect_timeout=%d",
		c.Host,
		c.Port,
		c.Database,
		c.User,
		c.Password,
		c.SSLMode,
		int(c.ConnectTimeout.Seconds()),
	)
}

// Store is a PostgreSQL implementation of store.Store.
type Store struct {
	pool      *pgxpool.Pool
	closed    atomic.Bool
	closeOnce sync.Once
}

// New creates a connection pool, optionally runs migrations, and verifies
// connectivity with a ping.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("postgres: invalid configuration: %w", err)
	}

	log := logger.With("component", "postgres_store")

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("postgres: parse connection string: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	if cfg.QueryTimeout > 0 {
		poolConfig.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprintf("%dms", cfg.QueryTimeout.Milliseconds())
	}

	log.Info("Creating PostgreSQL connection pool",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Database,
		"max_conns", cfg.MaxConns,
		"ssl_mode", cfg.SSLMode,
	)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if cfg.AutoMigrate {
		if err := runMigrations(ctx, cfg.ConnectionString(), log); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres: run migrations: %w", err)
		}
	}

	return &Store{pool: pool}, nil
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

	var value []byte
	err = s.pool.QueryRow(ctx, "SELECT value FROM chunks WHERE key = $1", key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get %q: %w", key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

// GetRange reads a byte range server-side via substring. The size probe and
// the substring run in one transaction so concurrent writers cannot shear
// the result.
func (s *Store) GetRange(ctx context.Context, key string, rng store.ByteRange) ([]byte, error) {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, store.ErrStoreClosed
	}

	var data []byte
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var size int64
		err := tx.QueryRow(ctx, "SELECT octet_length(value) FROM chunks WHERE key = $1", key).Scan(&size)
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrKeyNotFound
		}
		if err != nil {
			return err
		}

		offset, n, err := rng.Resolve(key, size)
		if err != nil {
			return err
		}
		if n == 0 {
			data = []byte{}
			return nil
		}

		// substring is 1-based.
		return tx.QueryRow(ctx,
			"SELECT substring(value FROM $2 FOR $3) FROM chunks WHERE key = $1",
			key, offset+1, n,
		).Scan(&data)
	})
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, store.ErrKeyNotFound
		}
		var re *store.RangeError
		if errors.As(err, &re) {
			return nil, re
		}
		return nil, fmt.Errorf("postgres: get range %q: %w", key, err)
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
	_, err = s.pool.Exec(ctx,
		"INSERT INTO chunks (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("postgres: set %q: %w", key, err)
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

	if _, err := s.pool.Exec(ctx, "DELETE FROM chunks WHERE key = $1", key); err != nil {
		return fmt.Errorf("postgres: delete %q: %w", key, err)
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

	var exists bool
	err = s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM chunks WHERE key = $1)", key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: exists %q: %w", key, err)
	}
	return exists, nil
}

// List streams keys under a prefix through a cursor.
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

		var rows pgx.Rows
		if prefix == "" {
			rows, err = s.pool.Query(ctx, "SELECT key FROM chunks ORDER BY key")
		} else {
			rows, err = s.pool.Query(ctx,
				`SELECT key FROM chunks WHERE key = $1 OR key LIKE $2 ESCAPE '\' ORDER BY key`,
				prefix, likePattern(prefix),
			)
		}
		if err != nil {
			yield("", fmt.Errorf("postgres: list %q: %w", prefix, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				yield("", fmt.Errorf("postgres: list %q: %w", prefix, err))
				return
			}
			if !yield(key, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield("", fmt.Errorf("postgres: list %q: %w", prefix, err))
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

// Close closes the connection pool.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.pool.Close()
	})
	return nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.closed.Load() {
		return store.ErrStoreClosed
	}
	return s.pool.Ping(ctx)
}

// Ensure Store implements the contract.
var _ store.Store = (*Store)(nil)
