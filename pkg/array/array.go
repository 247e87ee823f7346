// Package array implements the chunk manager: the orchestration layer that
// turns chunk and region operations into store keys, codec passes, and
// fill-value handling. A chunk whose every element equals the fill value
// is never stored. Writing one deletes its key and reading a missing one
// synthesizes fill, so sparse arrays occupy space proportional to their
// written data. Sharded layouts group rectangular blocks of chunks into
// single stored objects with a trailing binary index.
package array

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"github.com/marmos91/gridstore/pkg/codec"
	"github.com/marmos91/gridstore/pkg/dtype"
	"github.com/marmos91/gridstore/pkg/grid"
	"github.com/marmos91/gridstore/pkg/meta"
	"github.com/marmos91/gridstore/pkg/store"
)

var (
	// ErrArrayExists is returned by CreateArray when the prefix already
	// holds a metadata document.
	ErrArrayExists = errors.New("array already exists")

	// ErrArrayNotFound is returned by OpenArray when the prefix holds no
	// metadata document.
	ErrArrayNotFound = errors.New("array not found")
)

// Array is the chunk manager for one stored array. It holds the grid, the
// codec pipeline, and the encoded fill element, all fixed at open time, and
// no other mutable state beyond the shard write locks. Safe for concurrent
// use.
type Array struct {
	st     store.Store
	prefix string
	md     *meta.Metadata

	grid *grid.Grid
	pipe *codec.Pipeline

	dt         dtype.DType
	sep        string
	chunkShape []int64
	fillElem   []byte // one encoded element
	fillData   []byte // a full chunk of fill elements

	shardShape []int64 // nil when every chunk has its own key
	slotCount  int64
	locks      stripedLocks

	concurrency    int
	allOrNothing   bool
	partialResults bool
}

// Option configures an Array at open time.
type Option func(*Array)

// WithConcurrency bounds the number of chunk operations a region read or
// write runs in parallel. Defaults to runtime.GOMAXPROCS(0).
func WithConcurrency(n int) Option {
	return func(a *Array) { a.concurrency = n }
}

// WithAllOrNothing makes region operations cancel in-flight sibling chunk
// operations on the first failure. Chunks already persisted stay persisted.
func WithAllOrNothing(enabled bool) Option {
	return func(a *Array) { a.allOrNothing = enabled }
}

// WithPartialResults makes region operations attempt every chunk and
// report the failures aggregated in a *RegionError, returning whatever
// succeeded instead of failing the whole request.
func WithPartialResults(enabled bool) Option {
	return func(a *Array) { a.partialResults = enabled }
}

// Open builds the chunk manager for an array whose metadata the caller
// already holds. The grid, pipeline, and fill element are built once here;
// md is treated as immutable afterwards.
func Open(st store.Store, prefix string, md *meta.Metadata, opts ...Option) (*Array, error) {
	if st == nil {
		return nil, errors.New("array: nil store")
	}
	if md == nil {
		return nil, errors.New("array: nil metadata")
	}
	md.ApplyDefaults()
	if err := md.Validate(); err != nil {
		return nil, err
	}

	g, err := md.Grid()
	if err != nil {
		return nil, err
	}
	pipe, err := md.Pipeline()
	if err != nil {
		return nil, err
	}

	a := &Array{
		st:          st,
		prefix:      strings.TrimSuffix(prefix, "/"),
		md:          md,
		grid:        g,
		pipe:        pipe,
		dt:          md.DType(),
		sep:         md.Separator(),
		chunkShape:  g.ChunkShape(),
		fillElem:    md.FillBytes(),
		concurrency: runtime.GOMAXPROCS(0),
	}
	a.fillData = bytes.Repeat(a.fillElem, int(grid.NumElements(a.chunkShape)))

	if md.Sharded() {
		a.shardShape = slices.Clone(md.ShardShape)
		a.slotCount = grid.NumElements(a.shardShape)
	}

	for _, opt := range opts {
		opt(a)
	}
	if a.concurrency < 1 {
		a.concurrency = 1
	}
	return a, nil
}

// CreateArray validates the metadata, writes its document at
// <prefix>/array.json, and opens the array. Fails with ErrArrayExists when
// the prefix already holds a document.
func CreateArray(ctx context.Context, st store.Store, prefix string, md *meta.Metadata, opts ...Option) (*Array, error) {
	if st == nil {
		return nil, errors.New("array: nil store")
	}
	if md == nil {
		return nil, errors.New("array: nil metadata")
	}
	md.ApplyDefaults()
	if err := md.Validate(); err != nil {
		return nil, err
	}

	key := meta.Key(prefix)
	ok, err := st.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("array: probe %q: %w", key, err)
	}
	if ok {
		return nil, fmt.Errorf("%q: %w", prefix, ErrArrayExists)
	}

	doc, err := md.Encode()
	if err != nil {
		return nil, err
	}
	if err := st.Set(ctx, key, doc); err != nil {
		return nil, fmt.Errorf("array: write metadata %q: %w", key, err)
	}
	return Open(st, prefix, md, opts...)
}

// OpenArray reads the metadata document at <prefix>/array.json and opens
// the array. Fails with ErrArrayNotFound when no document exists.
func OpenArray(ctx context.Context, st store.Store, prefix string, opts ...Option) (*Array, error) {
	if st == nil {
		return nil, errors.New("array: nil store")
	}

	key := meta.Key(prefix)
	doc, err := st.Get(ctx, key)
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, fmt.Errorf("%q: %w", prefix, ErrArrayNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("array: read metadata %q: %w", key, err)
	}

	md, err := meta.Parse(doc)
	if err != nil {
		return nil, err
	}
	return Open(st, prefix, md, opts...)
}

// Metadata returns the array's metadata document.
func (a *Array) Metadata() *meta.Metadata { return a.md }

// Prefix returns the array's storage key prefix.
func (a *Array) Prefix() string { return a.prefix }

// Shape returns a copy of the array shape.
func (a *Array) Shape() []int64 { return a.grid.Shape() }

// ChunkShape returns a copy of the chunk shape.
func (a *Array) ChunkShape() []int64 { return slices.Clone(a.chunkShape) }

// DType returns the element type.
func (a *Array) DType() dtype.DType { return a.dt }

// Grid returns the array's chunk grid.
func (a *Array) Grid() *grid.Grid { return a.grid }

// Sharded reports whether chunks are grouped into shard objects.
func (a *Array) Sharded() bool { return a.shardShape != nil }

// chunkKey derives the store key of a chunk coordinate, or of a shard
// coordinate for sharded arrays: the prefix followed by the coordinate
// components joined with the array's dimension separator.
func (a *Array) chunkKey(coord []int64) string {
	parts := make([]string, len(coord))
	for d, c := range coord {
		parts[d] = strconv.FormatInt(c, 10)
	}
	key := strings.Join(parts, a.sep)
	if a.prefix == "" {
		return key
	}
	return a.prefix + "/" + key
}

// fillChunk synthesizes an all-fill chunk buffer.
func (a *Array) fillChunk() *codec.Buffer {
	return &codec.Buffer{
		DType: a.dt,
		Shape: slices.Clone(a.chunkShape),
		Data:  slices.Clone(a.fillData),
	}
}

// isFill reports whether a full chunk's data equals all fill elements,
// comparing encoded bytes so NaN fills match by bit pattern.
func (a *Array) isFill(data []byte) bool {
	return bytes.Equal(data, a.fillData)
}

// checkBuffer validates that a chunk buffer matches the array's dtype and
// chunk shape exactly.
func (a *Array) checkBuffer(buf *codec.Buffer) error {
	if buf == nil {
		return errors.New("array: nil buffer")
	}
	if buf.DType != a.dt {
		return fmt.Errorf("array: buffer dtype %s does not match array dtype %s", buf.DType, a.dt)
	}
	if !slices.Equal(buf.Shape, a.chunkShape) {
		return fmt.Errorf("array: buffer shape %v does not match chunk shape %v", buf.Shape, a.chunkShape)
	}
	if len(buf.Data) != len(a.fillData) {
		return fmt.Errorf("array: buffer holds %d bytes, a chunk needs %d", len(buf.Data), len(a.fillData))
	}
	return nil
}
