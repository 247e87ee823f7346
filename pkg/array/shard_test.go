package array

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/marmos91/gridstore/pkg/grid"
	"github.com/marmos91/gridstore/pkg/shard"
	"github.com/marmos91/gridstore/pkg/store"
	"github.com/marmos91/gridstore/pkg/store/memory"
)

// noPartial hides a store's partial write support, forcing shard updates
// through the compacting rewrite path.
type noPartial struct{ store.Store }

func (noPartial) SupportsPartialWrites() bool { return false }

// countingStore tallies write and range operations so tests can tell the
// in-place patch path from the rewrite path.
type countingStore struct {
	*memory.Store
	sets      atomic.Int64
	setRanges atomic.Int64
	getRanges atomic.Int64
}

func (s *countingStore) Set(ctx context.Context, key string, value []byte) error {
	s.sets.Add(1)
	return s.Store.Set(ctx, key, value)
}

func (s *countingStore) SetRange(ctx context.Context, key string, offset int64, p []byte) error {
	s.setRanges.Add(1)
	return s.Store.SetRange(ctx, key, offset, p)
}

func (s *countingStore) GetRange(ctx context.Context, key string, rng store.ByteRange) ([]byte, error) {
	s.getRanges.Add(1)
	return s.Store.GetRange(ctx, key, rng)
}

func TestShardCoordMapping(t *testing.T) {
	md := testMeta([]int64{12, 12}, []int64{2, 2})
	md.ShardShape = []int64{2, 3}
	a := mustCreate(t, memory.New(), "t", md)

	tests := []struct {
		coord  []int64
		scoord []int64
		slot   int64
	}{
		{[]int64{0, 0}, []int64{0, 0}, 0},
		{[]int64{0, 2}, []int64{0, 0}, 2},
		{[]int64{1, 0}, []int64{0, 0}, 3},
		{[]int64{1, 2}, []int64{0, 0}, 5},
		{[]int64{2, 3}, []int64{1, 1}, 0},
		{[]int64{5, 5}, []int64{2, 1}, 5},
	}
	for _, tt := range tests {
		scoord, slot := a.shardCoord(tt.coord)
		if !slices.Equal(scoord, tt.scoord) || slot != tt.slot {
			t.Errorf("shardCoord(%v) = %v, %d, want %v, %d", tt.coord, scoord, slot, tt.scoord, tt.slot)
		}
	}
}

// runShardSequence drives a sequence of sub-chunk writes, overwrites and
// clears against one shard, checking every sub-chunk of the shard after
// each step. The same sequence runs against stores with and without
// partial write support; results must not differ.
func runShardSequence(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()
	md := testMeta([]int64{4, 4}, []int64{2, 2})
	md.FillValue = -1.0
	md.ShardShape = []int64{2, 2}
	a := mustCreate(t, st, "t", md)

	coords := [][]int64{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	want := make(map[int][]float64)

	checkAll := func(stepName string) {
		t.Helper()
		for i, c := range coords {
			expect, ok := want[i]
			if !ok {
				expect = repeat(-1, 4)
			}
			got, err := a.ReadChunk(ctx, c)
			if err != nil {
				t.Fatalf("%s: ReadChunk(%v) error = %v", stepName, c, err)
			}
			if vals := f64Values(got); !slices.Equal(vals, expect) {
				t.Fatalf("%s: chunk %v = %v, want %v", stepName, c, vals, expect)
			}
		}
	}

	steps := []struct {
		name  string
		coord int
		vals  []float64 // nil clears the sub-chunk by writing fill
	}{
		{"first write", 0, seq(10, 4)},
		{"second slot", 1, seq(20, 4)},
		{"overwrite in place", 0, seq(30, 4)},
		{"last slot", 3, seq(40, 4)},
		{"clear one slot", 1, nil},
		{"reuse cleared slot", 1, seq(50, 4)},
		{"overwrite again", 3, seq(60, 4)},
	}
	for _, s := range steps {
		vals := s.vals
		if vals == nil {
			vals = repeat(-1, 4)
		}
		if err := a.WriteChunk(ctx, coords[s.coord], f64Buffer(t, []int64{2, 2}, vals)); err != nil {
			t.Fatalf("%s: WriteChunk(%v) error = %v", s.name, coords[s.coord], err)
		}
		if s.vals == nil {
			delete(want, s.coord)
		} else {
			want[s.coord] = s.vals
		}
		checkAll(s.name)
	}

	// Clearing every live slot removes the shard object entirely.
	for i := range coords {
		if err := a.WriteChunk(ctx, coords[i], f64Buffer(t, []int64{2, 2}, repeat(-1, 4))); err != nil {
			t.Fatalf("final clear: WriteChunk(%v) error = %v", coords[i], err)
		}
		delete(want, i)
	}
	checkAll("final clear")
	if ok, _ := st.Exists(ctx, "t/0.0"); ok {
		t.Error("shard object survived clearing all of its slots")
	}
}

func TestShardWriteSequence(t *testing.T) {
	t.Run("partial writes", func(t *testing.T) {
		runShardSequence(t, memory.New())
	})
	t.Run("full rewrites", func(t *testing.T) {
		runShardSequence(t, noPartial{memory.New()})
	})
}

func TestShardInPlacePatching(t *testing.T) {
	ctx := context.Background()
	cs := &countingStore{Store: memory.New()}
	md := testMeta([]int64{4, 4}, []int64{2, 2})
	md.FillValue = -1.0
	md.ShardShape = []int64{2, 2}
	a := mustCreate(t, cs, "t", md)

	var lastSets, lastRanges int64
	step := func() (sets, ranges int64) {
		sets = cs.sets.Load() - lastSets
		ranges = cs.setRanges.Load() - lastRanges
		lastSets += sets
		lastRanges += ranges
		return sets, ranges
	}
	step() // swallow the metadata write

	write := func(coord []int64, vals []float64) {
		t.Helper()
		if err := a.WriteChunk(ctx, coord, f64Buffer(t, []int64{2, 2}, vals)); err != nil {
			t.Fatalf("WriteChunk(%v) error = %v", coord, err)
		}
	}
	objSize := func() int {
		t.Helper()
		obj, err := cs.Get(ctx, "t/0.0")
		if err != nil {
			t.Fatalf("Get(shard) error = %v", err)
		}
		return len(obj)
	}

	// First write creates the object: one payload plus the index.
	write([]int64{0, 0}, seq(10, 4))
	if sets, ranges := step(); sets != 1 || ranges != 0 {
		t.Errorf("create: %d sets, %d range writes, want 1, 0", sets, ranges)
	}
	if got := objSize(); got != 32+64 {
		t.Errorf("shard object is %d bytes, want 96", got)
	}

	// Same-size overwrite patches the payload and its index entry in
	// place; the object is never rewritten.
	write([]int64{0, 0}, seq(30, 4))
	if sets, ranges := step(); sets != 0 || ranges != 2 {
		t.Errorf("overwrite: %d sets, %d range writes, want 0, 2", sets, ranges)
	}
	if got := objSize(); got != 96 {
		t.Errorf("shard object grew to %d bytes after in-place overwrite", got)
	}

	// A write to a slot with no extent rewrites the shard compacted.
	write([]int64{0, 1}, seq(20, 4))
	if sets, ranges := step(); sets != 1 || ranges != 0 {
		t.Errorf("new slot: %d sets, %d range writes, want 1, 0", sets, ranges)
	}
	if got := objSize(); got != 2*32+64 {
		t.Errorf("shard object is %d bytes, want 128", got)
	}

	// Clearing a slot with other slots live only patches the index; the
	// dead payload bytes stay until the next rewrite.
	write([]int64{0, 1}, repeat(-1, 4))
	if sets, ranges := step(); sets != 0 || ranges != 1 {
		t.Errorf("clear: %d sets, %d range writes, want 0, 1", sets, ranges)
	}
	if got := objSize(); got != 128 {
		t.Errorf("shard object is %d bytes after in-place clear, want 128", got)
	}

	got, err := a.ReadChunk(ctx, []int64{0, 1})
	if err != nil {
		t.Fatalf("ReadChunk(cleared) error = %v", err)
	}
	checkValues(t, got, repeat(-1, 4))
	got, err = a.ReadChunk(ctx, []int64{0, 0})
	if err != nil {
		t.Fatalf("ReadChunk() error = %v", err)
	}
	checkValues(t, got, seq(30, 4))

	// Clearing the last live slot deletes the object outright.
	write([]int64{0, 0}, repeat(-1, 4))
	if ok, _ := cs.Exists(ctx, "t/0.0"); ok {
		t.Error("shard object survived clearing its last live slot")
	}
}

func TestShardObjectLayout(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	md := testMeta([]int64{4, 4}, []int64{2, 2})
	md.FillValue = -1.0
	md.ShardShape = []int64{2, 2}
	a := mustCreate(t, st, "t", md)

	// Slot 3 written before slot 1: payloads still land in slot order.
	write31 := seq(70, 4)
	write11 := seq(80, 4)
	if err := a.WriteChunk(ctx, []int64{1, 1}, f64Buffer(t, []int64{2, 2}, write31)); err != nil {
		t.Fatalf("WriteChunk() error = %v", err)
	}
	if err := a.WriteChunk(ctx, []int64{0, 1}, f64Buffer(t, []int64{2, 2}, write11)); err != nil {
		t.Fatalf("WriteChunk() error = %v", err)
	}

	obj, err := st.Get(ctx, "t/0.0")
	if err != nil {
		t.Fatalf("Get(shard) error = %v", err)
	}
	ix := shard.NewIndex(4)
	if err := ix.UnmarshalBinary(obj[len(obj)-4*shard.EntrySize:]); err != nil {
		t.Fatalf("UnmarshalBinary(index) error = %v", err)
	}

	if !ix.Get(0).IsAbsent() || !ix.Get(2).IsAbsent() {
		t.Error("never-written slots are not absent in the index")
	}
	e1, e3 := ix.Get(1), ix.Get(3)
	if e1.Offset != 0 || e1.Length != 32 {
		t.Errorf("slot 1 extent = [%d, %d), want [0, 32)", e1.Offset, e1.Offset+e1.Length)
	}
	if e3.Offset != 32 || e3.Length != 32 {
		t.Errorf("slot 3 extent = [%d, %d), want [32, 64)", e3.Offset, e3.Offset+e3.Length)
	}

	// The extents decode through the pipeline to what was written.
	buf, err := a.pipe.Decode(obj[e1.Offset : e1.Offset+e1.Length])
	if err != nil {
		t.Fatalf("Decode(slot 1) error = %v", err)
	}
	checkValues(t, buf, write11)
	buf, err = a.pipe.Decode(obj[e3.Offset : e3.Offset+e3.Length])
	if err != nil {
		t.Fatalf("Decode(slot 3) error = %v", err)
	}
	checkValues(t, buf, write31)
}

func TestShardEdgeShards(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	md := testMeta([]int64{6, 6}, []int64{2, 2})
	md.FillValue = -1.0
	md.ShardShape = []int64{2, 2}
	a := mustCreate(t, st, "t", md)
	m := newMirror([]int64{6, 6}, -1)

	// Nine chunks spread over a 2x2 shard grid; the right and bottom
	// shards have slots their grid never maps to.
	var n float64
	for ci := int64(0); ci < 3; ci++ {
		for cj := int64(0); cj < 3; cj++ {
			vals := repeat(100+n, 4)
			n++
			if err := a.WriteChunk(ctx, []int64{ci, cj}, f64Buffer(t, []int64{2, 2}, vals)); err != nil {
				t.Fatalf("WriteChunk(%v) error = %v", []int64{ci, cj}, err)
			}
			m.write(a.grid.ChunkBounds([]int64{ci, cj}), vals)
		}
	}

	// Metadata plus one object per shard, nothing per chunk.
	if got := st.Len(); got != 5 {
		t.Errorf("store holds %d objects, want 5", got)
	}

	full := grid.FullSelection([]int64{6, 6})
	checkRegion(t, a, full, m.read(full))
}

func TestShardRegionRoundTrip(t *testing.T) {
	ctx := context.Background()
	md := testMeta([]int64{10, 10}, []int64{2, 2})
	md.FillValue = -1.0
	md.ShardShape = []int64{2, 2}
	a := mustCreate(t, memory.New(), "t", md)
	m := newMirror([]int64{10, 10}, -1)

	sel := grid.Selection{Start: []int64{1, 2}, Stop: []int64{9, 10}}
	vals := seq(0, sel.NumElements())
	if err := a.WriteRegion(ctx, sel, f64Buffer(t, sel.Shape(), vals)); err != nil {
		t.Fatalf("WriteRegion() error = %v", err)
	}
	m.write(sel, vals)

	checkRegion(t, a, sel, vals)
	full := grid.FullSelection([]int64{10, 10})
	checkRegion(t, a, full, m.read(full))
}

func TestShardRegionFillWriteElidesAll(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	md := testMeta([]int64{6, 6}, []int64{2, 2})
	md.FillValue = 2.5
	md.ShardShape = []int64{2, 2}
	a := mustCreate(t, st, "t", md)

	full := grid.FullSelection([]int64{6, 6})
	if err := a.WriteRegion(ctx, full, f64Buffer(t, []int64{6, 6}, seq(0, 36))); err != nil {
		t.Fatalf("WriteRegion(data) error = %v", err)
	}
	if st.Len() < 2 {
		t.Fatal("no shard objects were written")
	}

	// Overwriting everything with fill clears every slot and deletes
	// every shard object.
	if err := a.WriteRegion(ctx, full, f64Buffer(t, []int64{6, 6}, repeat(2.5, 36))); err != nil {
		t.Fatalf("WriteRegion(fill) error = %v", err)
	}
	if got := st.Len(); got != 1 {
		t.Errorf("store holds %d objects after fill overwrite, want 1", got)
	}
	checkRegion(t, a, full, repeat(2.5, 36))
}

func TestShardIndexFetchedOncePerShard(t *testing.T) {
	ctx := context.Background()
	cs := &countingStore{Store: memory.New()}
	md := testMeta([]int64{6, 6}, []int64{2, 2})
	md.FillValue = -1.0
	md.ShardShape = []int64{2, 2}
	a := mustCreate(t, cs, "t", md, WithConcurrency(1))

	for ci := int64(0); ci < 3; ci++ {
		for cj := int64(0); cj < 3; cj++ {
			if err := a.WriteChunk(ctx, []int64{ci, cj}, f64Buffer(t, []int64{2, 2}, seq(float64(ci*10+cj), 4))); err != nil {
				t.Fatalf("WriteChunk() error = %v", err)
			}
		}
	}

	before := cs.getRanges.Load()
	if _, err := a.ReadRegion(ctx, grid.FullSelection([]int64{6, 6})); err != nil {
		t.Fatalf("ReadRegion() error = %v", err)
	}
	// Four index fetches, one per shard, plus one payload fetch per live
	// chunk. Without the shared cache it would be one index fetch per
	// chunk.
	if got := cs.getRanges.Load() - before; got != 4+9 {
		t.Errorf("ReadRegion issued %d range reads, want 13", got)
	}
}

func TestShardDeleteChunk(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	md := testMeta([]int64{4, 4}, []int64{2, 2})
	md.FillValue = -1.0
	md.ShardShape = []int64{2, 2}
	a := mustCreate(t, st, "t", md)

	keep := seq(5, 4)
	if err := a.WriteChunk(ctx, []int64{0, 0}, f64Buffer(t, []int64{2, 2}, seq(1, 4))); err != nil {
		t.Fatalf("WriteChunk() error = %v", err)
	}
	if err := a.WriteChunk(ctx, []int64{1, 1}, f64Buffer(t, []int64{2, 2}, keep)); err != nil {
		t.Fatalf("WriteChunk() error = %v", err)
	}

	if err := a.DeleteChunk(ctx, []int64{0, 0}); err != nil {
		t.Fatalf("DeleteChunk() error = %v", err)
	}
	got, err := a.ReadChunk(ctx, []int64{0, 0})
	if err != nil {
		t.Fatalf("ReadChunk(deleted) error = %v", err)
	}
	checkValues(t, got, repeat(-1, 4))
	got, err = a.ReadChunk(ctx, []int64{1, 1})
	if err != nil {
		t.Fatalf("ReadChunk(kept) error = %v", err)
	}
	checkValues(t, got, keep)

	// Deleting the last live sub-chunk removes the shard object.
	if err := a.DeleteChunk(ctx, []int64{1, 1}); err != nil {
		t.Fatalf("DeleteChunk() error = %v", err)
	}
	if ok, _ := st.Exists(ctx, "t/0.0"); ok {
		t.Error("shard object survived deleting its last live sub-chunk")
	}

	// Deleting an already absent sub-chunk is a no-op.
	if err := a.DeleteChunk(ctx, []int64{0, 1}); err != nil {
		t.Fatalf("DeleteChunk(absent) error = %v", err)
	}
}

func TestShardCorruption(t *testing.T) {
	ctx := context.Background()

	t.Run("object shorter than index", func(t *testing.T) {
		st := memory.New()
		md := testMeta([]int64{4, 4}, []int64{2, 2})
		md.ShardShape = []int64{2, 2}
		a := mustCreate(t, st, "t", md)

		if err := a.WriteChunk(ctx, []int64{0, 0}, f64Buffer(t, []int64{2, 2}, seq(1, 4))); err != nil {
			t.Fatalf("WriteChunk() error = %v", err)
		}
		obj, err := st.Get(ctx, "t/0.0")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if err := st.Set(ctx, "t/0.0", obj[:len(obj)-1]); err != nil {
			t.Fatalf("Set() error = %v", err)
		}

		if _, err := a.ReadChunk(ctx, []int64{0, 0}); err == nil {
			t.Fatal("ReadChunk(truncated shard) succeeded")
		}
	})

	t.Run("extent outside payload", func(t *testing.T) {
		st := memory.New()
		md := testMeta([]int64{4, 4}, []int64{2, 2})
		md.ShardShape = []int64{2, 2}
		a := mustCreate(t, st, "t", md)

		ix := shard.NewIndex(4)
		ix.Set(0, 0, 999)
		ixb, err := ix.MarshalBinary()
		if err != nil {
			t.Fatalf("MarshalBinary() error = %v", err)
		}
		obj := append(make([]byte, 8), ixb...)
		if err := st.Set(ctx, "t/0.0", obj); err != nil {
			t.Fatalf("Set() error = %v", err)
		}

		if _, err := a.ReadChunk(ctx, []int64{0, 0}); err == nil {
			t.Fatal("ReadChunk(bogus extent) succeeded")
		}

		// The read-modify-write path verifies extents explicitly.
		sel := grid.Selection{Start: []int64{0, 0}, Stop: []int64{1, 1}}
		if err := a.WriteRegion(ctx, sel, f64Buffer(t, []int64{1, 1}, seq(1, 1))); err == nil {
			t.Fatal("WriteRegion over a bogus extent succeeded")
		}
	})
}

func TestShardConcurrentWritersSameShard(t *testing.T) {
	ctx := context.Background()
	md := testMeta([]int64{4, 4}, []int64{2, 2})
	md.FillValue = -1.0
	md.ShardShape = []int64{2, 2}
	a := mustCreate(t, memory.New(), "t", md)

	// Every chunk lands in the same shard object; the shard lock must
	// serialize the writers without losing any slot.
	coords := [][]int64{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	var wg sync.WaitGroup
	errs := make([]error, len(coords))
	for i, c := range coords {
		buf := f64Buffer(t, []int64{2, 2}, repeat(float64(i+1), 4))
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = a.WriteChunk(ctx, c, buf)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("writer %d: WriteChunk() error = %v", i, err)
		}
	}
	for i, c := range coords {
		got, err := a.ReadChunk(ctx, c)
		if err != nil {
			t.Fatalf("ReadChunk(%v) error = %v", c, err)
		}
		checkValues(t, got, repeat(float64(i+1), 4))
	}
}
