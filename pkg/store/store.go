// Package store defines the key-addressable persistence contract every
// backend adapter satisfies. The engine above it never special-cases
// backend identity: whatever differs between a map, a directory tree, an
// embedded database, and an object store is normalized here, inside the
// adapters, before it crosses this boundary.
package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
)

// Common errors returned by Store implementations.
var (
	// ErrKeyNotFound is returned by Get, GetRange, and SetRange when the
	// key doesn't exist. It is the one shared absent signal: adapters
	// translate their native not-found vocabulary to it and never leak
	// backend-specific types. Test with errors.Is.
	ErrKeyNotFound = errors.New("key not found")

	// ErrStoreClosed is returned when operations are attempted on a
	// closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrReadOnly is returned by mutating operations on stores opened in
	// read-only mode.
	ErrReadOnly = errors.New("store is read-only")
)

// Store is the interface for chunk storage backends. Keys are
// slash-separated paths; values are opaque byte payloads.
type Store interface {
	// Get reads a complete object.
	// Returns ErrKeyNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetRange reads a byte range from an object. More efficient than
	// Get for partial reads on backends with native range support.
	// Returns ErrKeyNotFound if the key doesn't exist and a *RangeError
	// if the range starts at or beyond the end of the object.
	GetRange(ctx context.Context, key string, rng ByteRange) ([]byte, error)

	// Set writes a complete object, overwriting any previous value.
	// Concurrent sets on distinct keys are safe.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes an object.
	// Returns nil if the key doesn't exist: the engine routinely deletes
	// chunks that were never written, on every backend.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the key holds an object. Errors indicate
	// backend failures, never absence.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns a lazy sequence of the keys under a prefix, in
	// unspecified order: keys equal to the prefix or extending it at a
	// path-segment boundary. The empty prefix lists every key. The
	// sequence is single-use; iterate again by calling List again.
	// Iteration failures surface through the second element, after which
	// the sequence ends.
	List(ctx context.Context, prefix string) iter.Seq2[string, error]

	// SupportsPartialWrites reports whether the store also implements
	// PartialWriter. Callers use it to choose between in-place updates
	// and full rewrites.
	SupportsPartialWrites() bool

	// Close releases any resources held by the store. Operations after
	// Close return ErrStoreClosed; closing twice is harmless.
	Close() error
}

// PartialWriter is implemented by stores whose objects can be updated in
// place. SupportsPartialWrites reports its availability.
type PartialWriter interface {
	// SetRange overwrites len(p) bytes at offset within an existing
	// object. The range must lie inside the current object bounds.
	// Returns ErrKeyNotFound if the key doesn't exist.
	SetRange(ctx context.Context, key string, offset int64, p []byte) error
}

// HealthChecker is implemented by stores that can probe their backend.
type HealthChecker interface {
	// HealthCheck verifies the backend is reachable and operational.
	HealthCheck(ctx context.Context) error
}

// ByteRange selects part of an object.
//
//   - Offset >= 0, Length > 0: Length bytes starting at Offset. A range
//     overrunning the object is truncated at the end.
//   - Offset >= 0, Length == 0: everything from Offset to the end.
//   - Offset < 0, Length == 0: the last -Offset bytes (suffix read).
//
// Negative lengths, and suffix offsets combined with a length, are
// invalid.
type ByteRange struct {
	Offset int64
	Length int64
}

// IsFull reports whether the range selects the whole object.
func (r ByteRange) IsFull() bool { return r.Offset == 0 && r.Length == 0 }

// Validate checks the static constraints that hold regardless of object
// size.
func (r ByteRange) Validate() error {
	if r.Length < 0 {
		return fmt.Errorf("store: negative range length %d", r.Length)
	}
	if r.Offset < 0 && r.Length != 0 {
		return fmt.Errorf("store: suffix range cannot carry a length (offset %d, length %d)", r.Offset, r.Length)
	}
	return nil
}

// String formats the range as an RFC 9110 Range header value.
func (r ByteRange) String() string {
	switch {
	case r.Offset < 0:
		return fmt.Sprintf("bytes=%d", r.Offset)
	case r.Length == 0:
		return fmt.Sprintf("bytes=%d-", r.Offset)
	default:
		return fmt.Sprintf("bytes=%d-%d", r.Offset, r.Offset+r.Length-1)
	}
}

// ParseRange parses an RFC 9110 Range header value into a ByteRange. It
// accepts the single-range forms String produces: "bytes=a-b" (inclusive
// end), "bytes=a-", and "bytes=-n". Other units and multi-range headers
// are rejected.
func ParseRange(header string) (ByteRange, error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return ByteRange{}, fmt.Errorf("store: unsupported range unit in %q", header)
	}
	if strings.Contains(spec, ",") {
		return ByteRange{}, fmt.Errorf("store: multi-range header %q not supported", header)
	}
	first, last, ok := strings.Cut(spec, "-")
	if !ok {
		return ByteRange{}, fmt.Errorf("store: malformed range %q", header)
	}
	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return ByteRange{}, fmt.Errorf("store: malformed suffix range %q", header)
		}
		return ByteRange{Offset: -n}, nil
	}
	offset, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return ByteRange{}, fmt.Errorf("store: malformed range start in %q", header)
	}
	if last == "" {
		return ByteRange{Offset: offset}, nil
	}
	end, err := strconv.ParseInt(last, 10, 64)
	if err != nil || end < offset {
		return ByteRange{}, fmt.Errorf("store: malformed range end in %q", header)
	}
	return ByteRange{Offset: offset, Length: end - offset + 1}, nil
}

// Resolve maps the range onto an object of known size, returning the
// concrete start offset and byte count. Adapters with the full object in
// hand use it; adapters with native range support push the same semantics
// to the backend. A bounded or offset range starting at or beyond the end
// is a *RangeError; a suffix longer than the object yields the whole
// object.
func (r ByteRange) Resolve(key string, size int64) (offset, n int64, err error) {
	if err := r.Validate(); err != nil {
		return 0, 0, err
	}
	if r.Offset < 0 {
		offset = size + r.Offset
		if offset < 0 {
			offset = 0
		}
		return offset, size - offset, nil
	}
	if r.Offset >= size {
		return 0, 0, &RangeError{Key: key, Offset: r.Offset, Length: r.Length, Size: size}
	}
	n = size - r.Offset
	if r.Length > 0 && r.Length < n {
		n = r.Length
	}
	return r.Offset, n, nil
}

// RangeError reports a byte range that starts at or beyond the end of the
// object.
type RangeError struct {
	Key    string
	Offset int64
	Length int64
	Size   int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("store: range offset %d is at or beyond the end of %q (%d bytes)", e.Offset, e.Key, e.Size)
}
