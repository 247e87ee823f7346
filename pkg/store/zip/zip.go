// Package zip provides a store implementation backed by a single zip
// archive. Reads are served from the archive directory; every mutation
// rewrites the whole archive through a temporary file under an internal
// mutex. The cost of a Set or Delete is proportional to the archive size,
// which suits packaging and read-mostly use, not write-heavy workloads.
package zip

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/marmos91/gridstore/pkg/store"
)

// Config holds configuration for the zip store.
type Config struct {
	// Path is the archive file. Created on first use when Create is set.
	Path string

	// Create writes an empty archive at construction when the file
	// doesn't exist. Default: true.
	Create bool

	// Deflate compresses entries with DEFLATE instead of storing them
	// verbatim. Chunk payloads are usually already compressed by the
	// codec pipeline, so the default is verbatim.
	Deflate bool

	// FileMode is the permission mode of the archive file.
	// Default: 0644.
	FileMode os.FileMode
}

// DefaultConfig returns the default configuration for an archive path.
func DefaultConfig(path string) Config {
	return Config{
		Path:     path,
		Create:   true,
		FileMode: 0644,
	}
}

// Store is a zip-archive implementation of store.Store.
type Store struct {
	path   string
	mode   os.FileMode
	method uint16

	mu     sync.RWMutex
	closed bool
}

// New creates a zip store for cfg.Path.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("zip: archive path is required")
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0644
	}

	method := uint16(zip.Store)
	if cfg.Deflate {
		method = zip.Deflate
	}

	s := &Store{
		path:   cfg.Path,
		mode:   cfg.FileMode,
		method: method,
	}

	if _, err := os.Stat(cfg.Path); os.IsNotExist(err) {
		if !cfg.Create {
			return nil, fmt.Errorf("zip: archive %q does not exist", cfg.Path)
		}
		if err := s.writeEmpty(); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("zip: stat archive: %w", err)
	}
	return s, nil
}

// NewWithPath creates a zip store with default configuration.
func NewWithPath(path string) (*Store, error) {
	return New(DefaultConfig(path))
}

func (s *Store) writeEmpty() error {
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, s.mode)
	if err != nil {
		return fmt.Errorf("zip: create archive: %w", err)
	}
	w := zip.NewWriter(f)
	if err := w.Close(); err != nil {
		f.Close()
		return fmt.Errorf("zip: initialize archive: %w", err)
	}
	return f.Close()
}

// find returns the last archive entry matching the key. Later entries win
// for duplicate names, like the archive directory itself.
func find(r *zip.ReadCloser, key string) *zip.File {
	var match *zip.File
	for _, f := range r.File {
		name, err := store.NormalizeKey(f.Name)
		if err != nil {
			continue
		}
		if name == key {
			match = f
		}
	}
	return match
}

func (s *Store) open() (*zip.ReadCloser, error) {
	r, err := zip.OpenReader(s.path)
	if err != nil {
		return nil, fmt.Errorf("zip: open archive %q: %w", s.path, err)
	}
	return r, nil
}

// Get reads a complete object from the archive.
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
	r, err := s.open()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	f := find(r, key)
	if f == nil {
		return nil, store.ErrKeyNotFound
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("zip: open entry %q: %w", key, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("zip: read entry %q: %w", key, err)
	}
	return data, nil
}

// GetRange reads a byte range. The whole entry is decompressed first, so
// ranges cost as much as full reads on this backend.
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

// Set writes an object, rewriting the whole archive.
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
	return s.rewrite(key, value, false)
}

// Delete removes an object, rewriting the whole archive. Absent keys are
// a no-op.
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
	return s.rewrite(key, nil, true)
}

// rewrite copies every entry except key into a fresh archive, appends the
// new value unless deleting, and renames it into place. Untouched entries
// are copied raw, without recompression.
func (s *Store) rewrite(key string, value []byte, remove bool) error {
	r, err := s.open()
	if err != nil {
		return err
	}
	defer r.Close()

	if remove && find(r, key) == nil {
		// Nothing to remove; skip the rewrite entirely.
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tmp-*.zip")
	if err != nil {
		return fmt.Errorf("zip: temp archive: %w", err)
	}
	tmpPath := tmp.Name()
	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}

	w := zip.NewWriter(tmp)
	seen := map[string]bool{}
	// Walk backwards so the surviving duplicate is the latest one.
	for i := len(r.File) - 1; i >= 0; i-- {
		f := r.File[i]
		name, err := store.NormalizeKey(f.Name)
		if err != nil || name == key || seen[name] {
			continue
		}
		seen[name] = true
		if err := w.Copy(f); err != nil {
			return fail(fmt.Errorf("zip: copy entry %q: %w", name, err))
		}
	}

	if !remove {
		fw, err := w.CreateHeader(&zip.FileHeader{Name: key, Method: s.method})
		if err != nil {
			return fail(fmt.Errorf("zip: create entry %q: %w", key, err))
		}
		if _, err := fw.Write(value); err != nil {
			return fail(fmt.Errorf("zip: write entry %q: %w", key, err))
		}
	}

	if err := w.Close(); err != nil {
		return fail(fmt.Errorf("zip: finalize archive: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("zip: close temp archive: %w", err)
	}
	if err := os.Chmod(tmpPath, s.mode); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("zip: chmod temp archive: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("zip: replace archive: %w", err)
	}
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
	r, err := s.open()
	if err != nil {
		return false, err
	}
	defer r.Close()

	return find(r, key) != nil, nil
}

// List yields the keys under a prefix from a sorted directory snapshot.
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
		r, err := s.open()
		if err != nil {
			s.mu.RUnlock()
			yield("", err)
			return
		}

		seen := map[string]bool{}
		var keys []string
		for _, f := range r.File {
			name, err := store.NormalizeKey(f.Name)
			if err != nil || f.FileInfo().IsDir() {
				continue
			}
			if store.KeyWithinPrefix(name, prefix) && !seen[name] {
				seen[name] = true
				keys = append(keys, name)
			}
		}
		r.Close()
		s.mu.RUnlock()

		sort.Strings(keys)
		for _, key := range keys {
			if !yield(key, nil) {
				return
			}
		}
	}
}

// SupportsPartialWrites reports that in-place updates are unavailable:
// zip archives cannot be edited in place.
func (s *Store) SupportsPartialWrites() bool { return false }

// Close marks the store as closed. The archive on disk is already
// complete after every mutation.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// HealthCheck verifies the archive is readable.
func (s *Store) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return store.ErrStoreClosed
	}
	r, err := s.open()
	if err != nil {
		return err
	}
	return r.Close()
}

// Path returns the archive path (for testing).
func (s *Store) Path() string { return s.path }

// Ensure Store implements the contract.
var _ store.Store = (*Store)(nil)
