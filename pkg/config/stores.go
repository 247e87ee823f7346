package config

import (
	"context"
	"fmt"

	"github.com/marmos91/gridstore/internal/bytesize"
	"github.com/marmos91/gridstore/pkg/store"
	"github.com/marmos91/gridstore/pkg/store/badger"
	"github.com/marmos91/gridstore/pkg/store/cache"
	"github.com/marmos91/gridstore/pkg/store/fs"
	"github.com/marmos91/gridstore/pkg/store/httpstore"
	"github.com/marmos91/gridstore/pkg/store/memory"
	"github.com/marmos91/gridstore/pkg/store/postgres"
	"github.com/marmos91/gridstore/pkg/store/s3"
	"github.com/marmos91/gridstore/pkg/store/sqlite"
	"github.com/marmos91/gridstore/pkg/store/zip"
)

// Backend names accepted by StoreConfig.Backend.
const (
	BackendMemory   = "memory"
	BackendFS       = "fs"
	BackendZip      = "zip"
	BackendBadger   = "badger"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
	BackendHTTP     = "http"
)

// StoreConfig selects the chunk store backend and configures it. Only
// the active backend's block is consulted; the rest may stay empty.
type StoreConfig struct {
	// Backend selects the adapter.
	Backend string `mapstructure:"backend" yaml:"backend" json:"backend" validate:"required,oneof=memory fs zip badger sqlite postgres s3 http"`

	// FS configures the filesystem backend.
	FS FSConfig `mapstructure:"fs" yaml:"fs,omitempty" json:"fs,omitempty"`

	// Zip configures the zip archive backend.
	Zip ZipConfig `mapstructure:"zip" yaml:"zip,omitempty" json:"zip,omitempty"`

	// Badger configures the embedded badger backend.
	Badger BadgerConfig `mapstructure:"badger" yaml:"badger,omitempty" json:"badger,omitempty"`

	// SQLite configures the embedded sqlite backend.
	SQLite SQLiteConfig `mapstructure:"sqlite" yaml:"sqlite,omitempty" json:"sqlite,omitempty"`

	// Postgres configures the postgres backend.
	Postgres postgres.Config `mapstructure:"postgres" yaml:"postgres,omitempty" json:"postgres,omitempty"`

	// S3 configures the object store backend.
	S3 s3.Config `mapstructure:"s3" yaml:"s3,omitempty" json:"s3,omitempty"`

	// HTTP configures the remote gateway backend.
	HTTP httpstore.Config `mapstructure:"http" yaml:"http,omitempty" json:"http,omitempty"`

	// Cache wraps the backend in a read-through LRU when enabled.
	Cache CacheConfig `mapstructure:"cache" yaml:"cache,omitempty" json:"cache,omitempty"`
}

// FSConfig is the filesystem backend block.
type FSConfig struct {
	// Root is the directory holding the objects. Created when missing.
	Root string `mapstructure:"root" yaml:"root" json:"root"`
}

// ZipConfig is the zip archive backend block.
type ZipConfig struct {
	// Path is the archive file. Created when missing.
	Path string `mapstructure:"path" yaml:"path" json:"path"`

	// Deflate compresses entries. Chunk payloads usually arrive already
	// compressed by the codec pipeline, so the default stores verbatim.
	Deflate bool `mapstructure:"deflate" yaml:"deflate,omitempty" json:"deflate,omitempty"`
}

// BadgerConfig is the embedded badger backend block.
type BadgerConfig struct {
	// Dir is the database directory.
	Dir string `mapstructure:"dir" yaml:"dir" json:"dir"`

	// SyncWrites makes every write durable before returning.
	SyncWrites bool `mapstructure:"sync_writes" yaml:"sync_writes,omitempty" json:"sync_writes,omitempty"`
}

// SQLiteConfig is the embedded sqlite backend block.
type SQLiteConfig struct {
	// Path is the database file. Parent directories are created.
	Path string `mapstructure:"path" yaml:"path" json:"path"`
}

// CacheConfig wraps the chosen backend in the read-through LRU.
type CacheConfig struct {
	// Enabled turns the cache on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// MaxBytes bounds the cached bytes. Accepts human-readable sizes
	// ("256MiB"). Zero uses the cache's default budget.
	MaxBytes bytesize.ByteSize `mapstructure:"max_bytes" yaml:"max_bytes,omitempty" json:"max_bytes,omitempty"`
}

// Validate checks the backend selector and the active backend's block.
func (c *StoreConfig) Validate() error {
	switch c.Backend {
	case BackendMemory:
		return nil
	case BackendFS:
		if c.FS.Root == "" {
			return fmt.Errorf("fs backend requires root")
		}
	case BackendZip:
		if c.Zip.Path == "" {
			return fmt.Errorf("zip backend requires path")
		}
	case BackendBadger:
		if c.Badger.Dir == "" {
			return fmt.Errorf("badger backend requires dir")
		}
	case BackendSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite backend requires path")
		}
	case BackendPostgres:
		if err := validate.Struct(&c.Postgres); err != nil {
			return fmt.Errorf("postgres backend: %w", err)
		}
	case BackendS3:
		if err := validate.Struct(&c.S3); err != nil {
			return fmt.Errorf("s3 backend: %w", err)
		}
	case BackendHTTP:
		if err := validate.Struct(&c.HTTP); err != nil {
			return fmt.Errorf("http backend: %w", err)
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	return nil
}

// NewStore builds the configured backend, wrapped in the read-through
// cache when enabled. The caller owns Close.
func NewStore(ctx context.Context, cfg StoreConfig) (store.Store, error) {
	st, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Cache.Enabled {
		cached, err := cache.New(st, cache.Config{MaxBytes: cfg.Cache.MaxBytes})
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("config: wrap cache: %w", err)
		}
		return cached, nil
	}
	return st, nil
}

func newBackend(ctx context.Context, cfg StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case BackendMemory:
		return memory.New(), nil
	case BackendFS:
		return fs.New(fs.Config{
			Root:      cfg.FS.Root,
			CreateDir: true,
		})
	case BackendZip:
		return zip.New(zip.Config{
			Path:    cfg.Zip.Path,
			Create:  true,
			Deflate: cfg.Zip.Deflate,
		})
	case BackendBadger:
		return badger.New(badger.Config{
			Dir:        cfg.Badger.Dir,
			SyncWrites: cfg.Badger.SyncWrites,
		})
	case BackendSQLite:
		return sqlite.New(sqlite.Config{
			Path: cfg.SQLite.Path,
		})
	case BackendPostgres:
		return postgres.New(ctx, cfg.Postgres)
	case BackendS3:
		return s3.NewFromConfig(ctx, cfg.S3)
	case BackendHTTP:
		return httpstore.New(cfg.HTTP)
	default:
		return nil, fmt.Errorf("config: unknown backend %q", cfg.Backend)
	}
}
