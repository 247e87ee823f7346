// Package shard implements the binary index embedded at the tail of a
// shard object. A shard aggregates many chunks into one stored object;
// the index maps each sub-chunk slot to the byte extent of its encoded
// payload inside the object, with an all-ones pair marking absent slots.
// The index occupies the final 16*slots bytes of the object so a reader
// can fetch it with a single suffix range request.
package shard

import (
	"encoding/binary"
	"fmt"
)

// Absent is the sentinel offset and length of a slot holding no chunk.
const Absent = ^uint64(0)

// EntrySize is the encoded width of one slot: offset and length, both
// little-endian uint64.
const EntrySize = 16

// Entry is the byte extent of one sub-chunk inside the shard object.
type Entry struct {
	Offset uint64
	Length uint64
}

// IsAbsent reports whether the entry is the absent sentinel.
func (e Entry) IsAbsent() bool {
	return e.Offset == Absent && e.Length == Absent
}

// MarshalBinary encodes the entry as its little-endian wire pair, the same
// layout Index.MarshalBinary uses per slot. In-place shard updates write
// single entries through this.
func (e Entry) MarshalBinary() ([]byte, error) {
	out := make([]byte, EntrySize)
	binary.LittleEndian.PutUint64(out, e.Offset)
	binary.LittleEndian.PutUint64(out[8:], e.Length)
	return out, nil
}

// Index is the slot table of one shard. Slots are addressed in row-major
// order of the sub-chunk coordinate within the shard.
type Index struct {
	entries []Entry
}

// NewIndex returns an index of the given slot count with every slot
// absent.
func NewIndex(slots int64) *Index {
	entries := make([]Entry, slots)
	for i := range entries {
		entries[i] = Entry{Offset: Absent, Length: Absent}
	}
	return &Index{entries: entries}
}

// Slots returns the number of slots.
func (ix *Index) Slots() int64 { return int64(len(ix.entries)) }

// Size returns the encoded byte size of the index.
func (ix *Index) Size() int64 { return int64(len(ix.entries)) * EntrySize }

// Get returns the entry of one slot.
func (ix *Index) Get(slot int64) Entry { return ix.entries[slot] }

// Set records the byte extent of one slot.
func (ix *Index) Set(slot int64, offset, length uint64) {
	ix.entries[slot] = Entry{Offset: offset, Length: length}
}

// Clear marks one slot absent.
func (ix *Index) Clear(slot int64) {
	ix.entries[slot] = Entry{Offset: Absent, Length: Absent}
}

// IsEmpty reports whether every slot is absent, in which case the shard
// object should not exist at all.
func (ix *Index) IsEmpty() bool {
	for _, e := range ix.entries {
		if !e.IsAbsent() {
			return false
		}
	}
	return true
}

// MarshalBinary encodes the slot table as little-endian (offset, length)
// pairs in slot order.
func (ix *Index) MarshalBinary() ([]byte, error) {
	out := make([]byte, ix.Size())
	for i, e := range ix.entries {
		binary.LittleEndian.PutUint64(out[i*EntrySize:], e.Offset)
		binary.LittleEndian.PutUint64(out[i*EntrySize+8:], e.Length)
	}
	return out, nil
}

// UnmarshalBinary decodes a slot table. The data length must be exactly
// 16 bytes per slot of the receiver.
func (ix *Index) UnmarshalBinary(data []byte) error {
	if int64(len(data)) != ix.Size() {
		return fmt.Errorf("shard: index is %d bytes, %d slots need %d", len(data), len(ix.entries), ix.Size())
	}
	for i := range ix.entries {
		ix.entries[i] = Entry{
			Offset: binary.LittleEndian.Uint64(data[i*EntrySize:]),
			Length: binary.LittleEndian.Uint64(data[i*EntrySize+8:]),
		}
	}
	return nil
}
