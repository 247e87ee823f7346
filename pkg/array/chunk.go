package array

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/gridstore/pkg/codec"
	"github.com/marmos91/gridstore/pkg/store"
)

// ReadChunk returns the decoded chunk at coord. A chunk that was never
// written, or was elided because it held only fill values, decodes to an
// all-fill buffer with no store payload read. Stored bytes that cannot be
// unwound through the pipeline surface as a *codec.DecodeError, never as
// fill.
func (a *Array) ReadChunk(ctx context.Context, coord []int64) (*codec.Buffer, error) {
	if err := a.grid.CheckCoord(coord); err != nil {
		return nil, err
	}
	return a.readChunkAt(ctx, coord, nil)
}

// WriteChunk stores the chunk at coord. A buffer equal to all fill values
// deletes the chunk's key instead: absence and all-fill are the same
// logical state, and fill bytes are never persisted.
func (a *Array) WriteChunk(ctx context.Context, coord []int64, buf *codec.Buffer) error {
	if err := a.grid.CheckCoord(coord); err != nil {
		return err
	}
	if err := a.checkBuffer(buf); err != nil {
		return err
	}
	return a.writeChunkAt(ctx, coord, buf)
}

// DeleteChunk removes the chunk at coord; reading it afterwards yields
// fill values. Deleting a chunk that was never written succeeds.
func (a *Array) DeleteChunk(ctx context.Context, coord []int64) error {
	if err := a.grid.CheckCoord(coord); err != nil {
		return err
	}
	if a.Sharded() {
		return a.clearShardSlot(ctx, coord)
	}
	if err := a.st.Delete(ctx, a.chunkKey(coord)); err != nil {
		return fmt.Errorf("array: delete chunk %v: %w", coord, err)
	}
	return nil
}

// readChunkAt is ReadChunk without coordinate validation; region reads
// pass a shared index cache so chunks of one shard fetch its index once.
func (a *Array) readChunkAt(ctx context.Context, coord []int64, cache *indexCache) (*codec.Buffer, error) {
	if a.Sharded() {
		return a.readShardChunk(ctx, coord, cache)
	}

	data, err := a.st.Get(ctx, a.chunkKey(coord))
	if errors.Is(err, store.ErrKeyNotFound) {
		return a.fillChunk(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("array: read chunk %v: %w", coord, err)
	}

	buf, err := a.pipe.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("array: chunk %v: %w", coord, err)
	}
	return buf, nil
}

// writeChunkAt is WriteChunk without validation.
func (a *Array) writeChunkAt(ctx context.Context, coord []int64, buf *codec.Buffer) error {
	if a.Sharded() {
		return a.writeShardChunk(ctx, coord, buf)
	}

	key := a.chunkKey(coord)
	if a.isFill(buf.Data) {
		if err := a.st.Delete(ctx, key); err != nil {
			return fmt.Errorf("array: elide chunk %v: %w", coord, err)
		}
		return nil
	}

	data, err := a.pipe.Encode(buf)
	if err != nil {
		return fmt.Errorf("array: chunk %v: %w", coord, err)
	}
	if err := a.st.Set(ctx, key, data); err != nil {
		return fmt.Errorf("array: write chunk %v: %w", coord, err)
	}
	return nil
}

// updateChunkAt applies mutate to the current decoded chunk and persists
// the result; the read-modify-write path of partially covering writes. For
// sharded arrays the whole cycle runs under the shard lock.
func (a *Array) updateChunkAt(ctx context.Context, coord []int64, mutate func(*codec.Buffer) error) error {
	if a.Sharded() {
		return a.updateShardChunk(ctx, coord, mutate)
	}

	cur, err := a.readChunkAt(ctx, coord, nil)
	if err != nil {
		return err
	}
	if err := mutate(cur); err != nil {
		return err
	}
	return a.writeChunkAt(ctx, coord, cur)
}
