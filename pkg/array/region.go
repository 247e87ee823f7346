package array

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/gridstore/pkg/codec"
	"github.com/marmos91/gridstore/pkg/grid"
)

// ChunkError is one chunk's failure within a region operation.
type ChunkError struct {
	Coord []int64
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %v: %v", e.Coord, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// RegionError aggregates per-chunk failures of a region operation run
// with WithPartialResults. The operation's other chunks completed; a
// region read still returns the buffer holding everything that succeeded.
type RegionError struct {
	Failures []*ChunkError
}

func (e *RegionError) Error() string {
	if len(e.Failures) == 1 {
		return fmt.Sprintf("array: 1 chunk failed: %v", e.Failures[0])
	}
	return fmt.Sprintf("array: %d chunks failed, first: %v", len(e.Failures), e.Failures[0])
}

// Unwrap exposes the per-chunk failures to errors.Is and errors.As.
func (e *RegionError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// ReadRegion reads an index selection into one buffer shaped as the
// selection, fetching the covering chunks concurrently. Out-of-bounds
// selections are rejected before any store call. By default a single
// chunk failure fails the whole read; see WithAllOrNothing and
// WithPartialResults for the other failure policies.
func (a *Array) ReadRegion(ctx context.Context, sel grid.Selection) (*codec.Buffer, error) {
	if err := a.grid.CheckSelection(sel); err != nil {
		return nil, err
	}

	out := codec.NewBuffer(a.dt, sel.Shape())
	if a.partialResults {
		// Blocks that fail leave their region untouched; make untouched
		// read as fill, not zeros.
		fillBytes(out.Data, a.fillElem)
	}

	blocks, err := a.grid.Cover(sel)
	if err != nil {
		return nil, err
	}

	var cache *indexCache
	if a.Sharded() {
		cache = newIndexCache()
	}

	itemSize := int64(a.dt.ItemSize())
	err = a.runBlocks(ctx, blocks, func(ctx context.Context, s grid.Slice) error {
		chunk, err := a.readChunkAt(ctx, s.Coord, cache)
		if err != nil {
			return err
		}
		// Blocks tile the selection disjointly, so concurrent copies
		// touch disjoint ranges of out.Data.
		copyBlock(out.Data, out.Shape, chunk.Data, a.chunkShape, s, itemSize, true)
		return nil
	})

	var regionErr *RegionError
	if errors.As(err, &regionErr) {
		return out, err
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WriteRegion writes a buffer shaped as the selection into the array,
// updating the covering chunks concurrently. A chunk only partially
// covered by the selection is read, merged, and written back; chunks left
// equal to all-fill are elided. The buffer's shape must equal the
// selection's shape exactly.
func (a *Array) WriteRegion(ctx context.Context, sel grid.Selection, buf *codec.Buffer) error {
	if err := a.grid.CheckSelection(sel); err != nil {
		return err
	}
	if buf == nil {
		return errors.New("array: nil buffer")
	}
	if buf.DType != a.dt {
		return fmt.Errorf("array: buffer dtype %s does not match array dtype %s", buf.DType, a.dt)
	}
	selShape := sel.Shape()
	if !slices.Equal(buf.Shape, selShape) {
		return fmt.Errorf("array: buffer shape %v does not match selection shape %v", buf.Shape, selShape)
	}
	if int64(len(buf.Data)) != grid.NumElements(selShape)*int64(a.dt.ItemSize()) {
		return fmt.Errorf("array: buffer holds %d bytes, selection %v of %s needs %d",
			len(buf.Data), selShape, a.dt, grid.NumElements(selShape)*int64(a.dt.ItemSize()))
	}

	blocks, err := a.grid.Cover(sel)
	if err != nil {
		return err
	}

	itemSize := int64(a.dt.ItemSize())
	return a.runBlocks(ctx, blocks, func(ctx context.Context, s grid.Slice) error {
		if a.coversChunk(s) {
			chunk := codec.NewBuffer(a.dt, a.chunkShape)
			copyBlock(buf.Data, buf.Shape, chunk.Data, a.chunkShape, s, itemSize, false)
			return a.writeChunkAt(ctx, s.Coord, chunk)
		}
		// Partial coverage: merge into the chunk's current contents.
		return a.updateChunkAt(ctx, s.Coord, func(cur *codec.Buffer) error {
			copyBlock(buf.Data, buf.Shape, cur.Data, a.chunkShape, s, itemSize, false)
			return nil
		})
	})
}

// coversChunk reports whether a cover block selects every cell of its
// chunk. Edge chunks are never fully covered: their out-of-bounds cells
// stay fill through the read-modify-write path.
func (a *Array) coversChunk(s grid.Slice) bool {
	if !s.Chunk.Contiguous() {
		return false
	}
	for d := range a.chunkShape {
		if s.Chunk.Start[d] != 0 || s.Chunk.Stop[d] != a.chunkShape[d] {
			return false
		}
	}
	return true
}

// runBlocks executes op once per cover block with bounded concurrency,
// applying the array's failure policy.
func (a *Array) runBlocks(ctx context.Context, blocks iter.Seq[grid.Slice], op func(context.Context, grid.Slice) error) error {
	switch {
	case a.partialResults:
		g := &errgroup.Group{}
		g.SetLimit(a.concurrency)
		var mu sync.Mutex
		var fails []*ChunkError
		for s := range blocks {
			g.Go(func() error {
				err := ctx.Err()
				if err == nil {
					err = op(ctx, s)
				}
				if err != nil {
					mu.Lock()
					fails = append(fails, &ChunkError{Coord: s.Coord, Err: err})
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
		if len(fails) > 0 {
			return &RegionError{Failures: fails}
		}
		return nil

	case a.allOrNothing:
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(a.concurrency)
		for s := range blocks {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				return op(gctx, s)
			})
		}
		return g.Wait()

	default:
		// In-flight siblings run to completion; the first error is
		// reported after all of them settle.
		g := &errgroup.Group{}
		g.SetLimit(a.concurrency)
		for s := range blocks {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				return op(ctx, s)
			})
		}
		return g.Wait()
	}
}
