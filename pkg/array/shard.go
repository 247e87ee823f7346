package array

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/marmos91/gridstore/pkg/codec"
	"github.com/marmos91/gridstore/pkg/shard"
	"github.com/marmos91/gridstore/pkg/store"
)

// lockStripes is the size of the keyed mutex table serializing writers to
// one shard. Writers to different shards contend only on hash collisions.
const lockStripes = 64

type stripedLocks [lockStripes]sync.Mutex

// lock acquires the stripe owning key and returns it for deferred unlock.
func (s *stripedLocks) lock(key string) *sync.Mutex {
	mu := &s[xxhash.Sum64String(key)%lockStripes]
	mu.Lock()
	return mu
}

// shardCoord splits a chunk coordinate into the shard coordinate and the
// row-major slot of the sub-chunk within that shard.
func (a *Array) shardCoord(coord []int64) (scoord []int64, slot int64) {
	scoord = make([]int64, len(coord))
	for d, c := range coord {
		scoord[d] = c / a.shardShape[d]
		slot = slot*a.shardShape[d] + c%a.shardShape[d]
	}
	return scoord, slot
}

// indexCache memoizes shard indexes for the duration of one region read,
// so reading many sub-chunks of a shard fetches its index once. A nil
// entry records that the shard object is absent.
type indexCache struct {
	mu sync.Mutex
	m  map[string]*shard.Index
}

func newIndexCache() *indexCache {
	return &indexCache{m: make(map[string]*shard.Index)}
}

func (c *indexCache) get(key string) (*shard.Index, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ix, ok := c.m[key]
	return ix, ok
}

func (c *indexCache) put(key string, ix *shard.Index) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = ix
}

// indexSize returns the encoded byte size of one shard index.
func (a *Array) indexSize() int64 {
	return a.slotCount * shard.EntrySize
}

// loadIndex fetches a shard's index with one suffix range request. Returns
// (nil, nil) when the shard object does not exist. An object shorter than
// its index is corrupt.
func (a *Array) loadIndex(ctx context.Context, key string, cache *indexCache) (*shard.Index, error) {
	if cache != nil {
		if ix, ok := cache.get(key); ok {
			return ix, nil
		}
	}

	data, err := a.st.GetRange(ctx, key, store.ByteRange{Offset: -a.indexSize()})
	if errors.Is(err, store.ErrKeyNotFound) {
		if cache != nil {
			cache.put(key, nil)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("array: read shard index %q: %w", key, err)
	}

	ix := shard.NewIndex(a.slotCount)
	if err := ix.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("array: shard %q: %w", key, err)
	}
	if cache != nil {
		cache.put(key, ix)
	}
	return ix, nil
}

// readShardChunk reads one sub-chunk: the index locates the payload, a
// bounded range request fetches it. Absent shards and absent slots
// synthesize fill.
func (a *Array) readShardChunk(ctx context.Context, coord []int64, cache *indexCache) (*codec.Buffer, error) {
	scoord, slot := a.shardCoord(coord)
	key := a.chunkKey(scoord)

	ix, err := a.loadIndex(ctx, key, cache)
	if err != nil {
		return nil, err
	}
	if ix == nil {
		return a.fillChunk(), nil
	}
	e := ix.Get(slot)
	if e.IsAbsent() {
		return a.fillChunk(), nil
	}

	data, err := a.st.GetRange(ctx, key, store.ByteRange{Offset: int64(e.Offset), Length: int64(e.Length)})
	if err != nil {
		return nil, fmt.Errorf("array: read shard %q slot %d: %w", key, slot, err)
	}

	buf, err := a.pipe.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("array: chunk %v: %w", coord, err)
	}
	return buf, nil
}

// writeShardChunk stores one full sub-chunk, serializing with other
// writers to the same shard. All-fill buffers clear the slot instead.
func (a *Array) writeShardChunk(ctx context.Context, coord []int64, buf *codec.Buffer) error {
	if a.isFill(buf.Data) {
		return a.clearShardSlot(ctx, coord)
	}

	payload, err := a.pipe.Encode(buf)
	if err != nil {
		return fmt.Errorf("array: chunk %v: %w", coord, err)
	}

	scoord, slot := a.shardCoord(coord)
	key := a.chunkKey(scoord)

	mu := a.locks.lock(key)
	defer mu.Unlock()

	obj, ix, err := a.loadShard(ctx, key)
	if err != nil {
		return err
	}
	return a.placeSlotLocked(ctx, key, obj, ix, slot, payload)
}

// updateShardChunk runs a read-modify-write of one sub-chunk entirely
// under the shard lock, so two partial writes to the same sub-chunk never
// lose each other's cells.
func (a *Array) updateShardChunk(ctx context.Context, coord []int64, mutate func(*codec.Buffer) error) error {
	scoord, slot := a.shardCoord(coord)
	key := a.chunkKey(scoord)

	mu := a.locks.lock(key)
	defer mu.Unlock()

	obj, ix, err := a.loadShard(ctx, key)
	if err != nil {
		return err
	}

	cur := a.fillChunk()
	if ix != nil {
		if e := ix.Get(slot); !e.IsAbsent() {
			data, err := a.slotExtent(key, obj, e, slot)
			if err != nil {
				return err
			}
			if cur, err = a.pipe.Decode(data); err != nil {
				return fmt.Errorf("array: chunk %v: %w", coord, err)
			}
		}
	}

	if err := mutate(cur); err != nil {
		return err
	}

	if a.isFill(cur.Data) {
		return a.clearSlotLocked(ctx, key, obj, ix, slot)
	}
	payload, err := a.pipe.Encode(cur)
	if err != nil {
		return fmt.Errorf("array: chunk %v: %w", coord, err)
	}
	return a.placeSlotLocked(ctx, key, obj, ix, slot, payload)
}

// clearShardSlot marks one sub-chunk absent; a shard left with no live
// slots is deleted outright. Clearing a never-written sub-chunk succeeds.
func (a *Array) clearShardSlot(ctx context.Context, coord []int64) error {
	scoord, slot := a.shardCoord(coord)
	key := a.chunkKey(scoord)

	mu := a.locks.lock(key)
	defer mu.Unlock()

	obj, ix, err := a.loadShard(ctx, key)
	if err != nil {
		return err
	}
	return a.clearSlotLocked(ctx, key, obj, ix, slot)
}

// loadShard reads a whole shard object and decodes its trailing index.
// Returns (nil, nil, nil) when the shard does not exist. Callers hold the
// shard lock.
func (a *Array) loadShard(ctx context.Context, key string) ([]byte, *shard.Index, error) {
	obj, err := a.st.Get(ctx, key)
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("array: read shard %q: %w", key, err)
	}

	ix := shard.NewIndex(a.slotCount)
	if int64(len(obj)) < ix.Size() {
		return nil, nil, fmt.Errorf("array: shard %q is %d bytes, smaller than its %d byte index", key, len(obj), ix.Size())
	}
	if err := ix.UnmarshalBinary(obj[int64(len(obj))-ix.Size():]); err != nil {
		return nil, nil, fmt.Errorf("array: shard %q: %w", key, err)
	}
	return obj, ix, nil
}

// slotExtent returns the payload bytes of a live index entry, verifying
// the extent lies inside the object's payload region.
func (a *Array) slotExtent(key string, obj []byte, e shard.Entry, slot int64) ([]byte, error) {
	end := uint64(int64(len(obj)) - a.indexSize())
	if e.Offset > end || e.Length > end-e.Offset {
		return nil, fmt.Errorf("array: shard %q slot %d extent [%d, %d) exceeds payload region of %d bytes",
			key, slot, e.Offset, e.Offset+e.Length, end)
	}
	return obj[e.Offset : e.Offset+e.Length], nil
}

// placeSlotLocked persists a new payload for one slot. When the backend
// supports partial writes and the payload fits the slot's current extent,
// the payload and its index entry are patched in place; otherwise the
// shard is rewritten compacted. Callers hold the shard lock.
func (a *Array) placeSlotLocked(ctx context.Context, key string, obj []byte, ix *shard.Index, slot int64, payload []byte) error {
	if ix == nil {
		// First write to this shard.
		nix := shard.NewIndex(a.slotCount)
		nix.Set(slot, 0, uint64(len(payload)))
		return a.writeShardObject(ctx, key, [][]byte{payload}, nix)
	}

	if e := ix.Get(slot); a.st.SupportsPartialWrites() && !e.IsAbsent() && uint64(len(payload)) <= e.Length {
		pw := a.st.(store.PartialWriter)
		if err := pw.SetRange(ctx, key, int64(e.Offset), payload); err != nil {
			return fmt.Errorf("array: patch shard %q slot %d: %w", key, slot, err)
		}
		ne := shard.Entry{Offset: e.Offset, Length: uint64(len(payload))}
		return a.patchIndexEntry(ctx, pw, key, int64(len(obj)), slot, ne)
	}

	return a.rewriteShard(ctx, key, obj, ix, slot, payload)
}

// clearSlotLocked marks a slot absent: deleting the shard when it was the
// last live slot, patching the entry in place when the backend allows it,
// and rewriting compacted otherwise. Callers hold the shard lock.
func (a *Array) clearSlotLocked(ctx context.Context, key string, obj []byte, ix *shard.Index, slot int64) error {
	if ix == nil {
		return nil
	}
	if ix.Get(slot).IsAbsent() {
		return nil
	}

	ix.Clear(slot)
	if ix.IsEmpty() {
		if err := a.st.Delete(ctx, key); err != nil {
			return fmt.Errorf("array: delete shard %q: %w", key, err)
		}
		return nil
	}

	if a.st.SupportsPartialWrites() {
		pw := a.st.(store.PartialWriter)
		absent := shard.Entry{Offset: shard.Absent, Length: shard.Absent}
		return a.patchIndexEntry(ctx, pw, key, int64(len(obj)), slot, absent)
	}
	return a.rewriteShard(ctx, key, obj, ix, slot, nil)
}

// patchIndexEntry writes one index entry in place. The index sits at the
// object tail, so the entry's position follows from the object size, which
// in-place updates never change.
func (a *Array) patchIndexEntry(ctx context.Context, pw store.PartialWriter, key string, objSize, slot int64, e shard.Entry) error {
	eb, err := e.MarshalBinary()
	if err != nil {
		return err
	}
	pos := objSize - a.indexSize() + slot*shard.EntrySize
	if err := pw.SetRange(ctx, key, pos, eb); err != nil {
		return fmt.Errorf("array: patch shard %q index slot %d: %w", key, slot, err)
	}
	return nil
}

// rewriteShard rebuilds the shard object compacted: live payloads in slot
// order, dead bytes dropped, a fresh index appended. payload replaces the
// given slot; nil payload drops it. Callers hold the shard lock.
func (a *Array) rewriteShard(ctx context.Context, key string, obj []byte, ix *shard.Index, slot int64, payload []byte) error {
	nix := shard.NewIndex(a.slotCount)
	parts := make([][]byte, 0, a.slotCount)

	var off uint64
	for s := int64(0); s < a.slotCount; s++ {
		var part []byte
		if s == slot {
			part = payload
		} else if ix != nil {
			e := ix.Get(s)
			if e.IsAbsent() {
				continue
			}
			var err error
			if part, err = a.slotExtent(key, obj, e, s); err != nil {
				return err
			}
		}
		if part == nil {
			continue
		}
		nix.Set(s, off, uint64(len(part)))
		parts = append(parts, part)
		off += uint64(len(part))
	}

	if nix.IsEmpty() {
		if err := a.st.Delete(ctx, key); err != nil {
			return fmt.Errorf("array: delete shard %q: %w", key, err)
		}
		return nil
	}
	return a.writeShardObject(ctx, key, parts, nix)
}

// writeShardObject concatenates payloads and the encoded index into one
// object and stores it.
func (a *Array) writeShardObject(ctx context.Context, key string, parts [][]byte, ix *shard.Index) error {
	size := ix.Size()
	for _, p := range parts {
		size += int64(len(p))
	}

	obj := make([]byte, 0, size)
	for _, p := range parts {
		obj = append(obj, p...)
	}
	ixb, err := ix.MarshalBinary()
	if err != nil {
		return err
	}
	obj = append(obj, ixb...)

	if err := a.st.Set(ctx, key, obj); err != nil {
		return fmt.Errorf("array: write shard %q: %w", key, err)
	}
	return nil
}
