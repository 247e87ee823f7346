// Package fs provides a filesystem-backed store implementation. Keys map
// to file paths under a root directory; writes land in a temporary file
// renamed into place so readers never observe partial objects.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/marmos91/gridstore/pkg/store"
)

// tmpPrefix marks in-flight temporary files so List skips them.
const tmpPrefix = ".tmp-"

// Config holds configuration for the filesystem store.
type Config struct {
	// Root is the directory holding the objects. Keys are stored as
	// paths relative to it.
	Root string

	// CreateDir creates the root directory if it doesn't exist.
	// Default: true.
	CreateDir bool

	// DirMode is the permission mode for created directories.
	// Default: 0755.
	DirMode os.FileMode

	// FileMode is the permission mode for created files.
	// Default: 0644.
	FileMode os.FileMode
}

// DefaultConfig returns the default configuration for a root directory.
func DefaultConfig(root string) Config {
	return Config{
		Root:      root,
		CreateDir: true,
		DirMode:   0755,
		FileMode:  0644,
	}
}

// Store is a filesystem-backed implementation of store.Store.
type Store struct {
	root     string
	fileMode os.FileMode
	dirMode  os.FileMode

	// dirMu serializes directory creation and pruning so a delete
	// pruning an empty parent can't race a set materializing it.
	dirMu sync.Mutex

	mu     sync.RWMutex
	closed bool
}

// New creates a filesystem store rooted at cfg.Root.
func New(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, errors.New("fs: root directory is required")
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = 0755
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0644
	}

	if cfg.CreateDir {
		if err := os.MkdirAll(cfg.Root, cfg.DirMode); err != nil {
			return nil, fmt.Errorf("fs: create root: %w", err)
		}
	}
	info, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("fs: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("fs: root %q is not a directory", cfg.Root)
	}

	return &Store{
		root:     cfg.Root,
		fileMode: cfg.FileMode,
		dirMode:  cfg.DirMode,
	}, nil
}

// NewWithRoot creates a filesystem store with default configuration.
func NewWithRoot(root string) (*Store, error) {
	return New(DefaultConfig(root))
}

// path returns the filesystem path for a normalized key.
func (s *Store) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrStoreClosed
	}
	return nil
}

// Get reads a complete object.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrKeyNotFound
		}
		return nil, fmt.Errorf("fs: read %q: %w", key, err)
	}
	return data, nil
}

// GetRange reads a byte range from an object using ReadAt.
func (s *Store) GetRange(ctx context.Context, key string, rng store.ByteRange) ([]byte, error) {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return nil, err
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrKeyNotFound
		}
		return nil, fmt.Errorf("fs: open %q: %w", key, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("fs: stat %q: %w", key, err)
	}
	offset, n, err := rng.Resolve(key, info.Size())
	if err != nil {
		return nil, err
	}

	data := make([]byte, n)
	if _, err := f.ReadAt(data, offset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("fs: read %q at %d: %w", key, offset, err)
	}
	return data, nil
}

// Set writes an object through a temporary file and an atomic rename.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	path := s.path(key)
	dir := filepath.Dir(path)

	s.dirMu.Lock()
	defer s.dirMu.Unlock()

	if err := os.MkdirAll(dir, s.dirMode); err != nil {
		return fmt.Errorf("fs: create parent of %q: %w", key, err)
	}

	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("fs: temp file for %q: %w", key, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fs: write %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("fs: close %q: %w", key, err)
	}
	if err := os.Chmod(tmpPath, s.fileMode); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("fs: chmod %q: %w", key, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("fs: rename into %q: %w", key, err)
	}
	return nil
}

// SetRange overwrites part of an existing object in place.
func (s *Store) SetRange(ctx context.Context, key string, offset int64, p []byte) error {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return err
	}
	if offset < 0 {
		return fmt.Errorf("fs: negative offset %d", offset)
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	f, err := os.OpenFile(s.path(key), os.O_RDWR, s.fileMode)
	if err != nil {
		if os.IsNotExist(err) {
			return store.ErrKeyNotFound
		}
		return fmt.Errorf("fs: open %q: %w", key, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("fs: stat %q: %w", key, err)
	}
	if offset+int64(len(p)) > info.Size() {
		return fmt.Errorf("fs: range [%d, %d) outside object %q of %d bytes",
			offset, offset+int64(len(p)), key, info.Size())
	}
	if _, err := f.WriteAt(p, offset); err != nil {
		return fmt.Errorf("fs: write %q at %d: %w", key, offset, err)
	}
	return nil
}

// Delete removes an object and prunes empty parent directories.
func (s *Store) Delete(ctx context.Context, key string) error {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	path := s.path(key)

	s.dirMu.Lock()
	defer s.dirMu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("fs: delete %q: %w", key, err)
	}
	s.cleanEmptyDirs(filepath.Dir(path))
	return nil
}

// cleanEmptyDirs removes empty directories up to the root. Callers hold
// dirMu.
func (s *Store) cleanEmptyDirs(dir string) {
	for dir != s.root && strings.HasPrefix(dir, s.root) {
		if err := os.Remove(dir); err != nil {
			// Not empty, or already gone.
			break
		}
		dir = filepath.Dir(dir)
	}
}

// Exists reports whether the key holds an object.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	key, err := store.NormalizeKey(key)
	if err != nil {
		return false, err
	}
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	info, err := os.Stat(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("fs: stat %q: %w", key, err)
	}
	return !info.IsDir(), nil
}

// List streams keys under a prefix from a directory walk.
func (s *Store) List(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		prefix, err := store.NormalizePrefix(prefix)
		if err != nil {
			yield("", err)
			return
		}
		if err := s.checkOpen(); err != nil {
			yield("", err)
			return
		}

		start := s.root
		if prefix != "" {
			start = s.path(prefix)
		}

		info, err := os.Stat(start)
		if os.IsNotExist(err) {
			return
		}
		if err != nil {
			yield("", fmt.Errorf("fs: stat %q: %w", prefix, err))
			return
		}

		// A prefix naming a plain file matches exactly that key.
		if !info.IsDir() {
			yield(prefix, nil)
			return
		}

		stopped := errors.New("stopped")
		err = filepath.WalkDir(start, func(path string, d iofs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() || strings.HasPrefix(d.Name(), tmpPrefix) {
				return nil
			}
			rel, err := filepath.Rel(s.root, path)
			if err != nil {
				return err
			}
			if !yield(filepath.ToSlash(rel), nil) {
				return stopped
			}
			return nil
		})
		if err != nil && !errors.Is(err, stopped) {
			yield("", fmt.Errorf("fs: walk %q: %w", prefix, err))
		}
	}
}

// SupportsPartialWrites reports that in-place updates are available.
func (s *Store) SupportsPartialWrites() bool { return true }

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// HealthCheck verifies the root directory is accessible.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := os.Stat(s.root); err != nil {
		return fmt.Errorf("fs: root inaccessible: %w", err)
	}
	return nil
}

// Root returns the root directory of the store (for testing).
func (s *Store) Root() string { return s.root }

// Ensure Store implements the full contract.
var (
	_ store.Store         = (*Store)(nil)
	_ store.PartialWriter = (*Store)(nil)
)
