package array

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/marmos91/gridstore/pkg/codec"
	"github.com/marmos91/gridstore/pkg/dtype"
	"github.com/marmos91/gridstore/pkg/grid"
	"github.com/marmos91/gridstore/pkg/meta"
	"github.com/marmos91/gridstore/pkg/store"
	"github.com/marmos91/gridstore/pkg/store/memory"
)

func testMeta(shape, chunks []int64) *meta.Metadata {
	return &meta.Metadata{
		Shape:    shape,
		Chunks:   chunks,
		DataType: "<f8",
	}
}

func mustCreate(t *testing.T, st store.Store, prefix string, md *meta.Metadata, opts ...Option) *Array {
	t.Helper()
	a, err := CreateArray(context.Background(), st, prefix, md, opts...)
	if err != nil {
		t.Fatalf("CreateArray() error = %v", err)
	}
	return a
}

// f64Buffer builds a float64 buffer holding vals in C order.
func f64Buffer(t *testing.T, shape []int64, vals []float64) *codec.Buffer {
	t.Helper()
	if int64(len(vals)) != grid.NumElements(shape) {
		t.Fatalf("test bug: %d values for shape %v", len(vals), shape)
	}
	buf := codec.NewBuffer(dtype.MustParse("<f8"), shape)
	for i, v := range vals {
		binary.NativeEndian.PutUint64(buf.Data[i*8:], math.Float64bits(v))
	}
	return buf
}

func f64Values(buf *codec.Buffer) []float64 {
	out := make([]float64, len(buf.Data)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.NativeEndian.Uint64(buf.Data[i*8:]))
	}
	return out
}

func checkValues(t *testing.T, buf *codec.Buffer, want []float64) {
	t.Helper()
	if got := f64Values(buf); !slices.Equal(got, want) {
		t.Fatalf("values = %v, want %v", got, want)
	}
}

// seq returns n consecutive values starting at base.
func seq(base float64, n int64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = base + float64(i)
	}
	return out
}

func repeat(v float64, n int64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestCreateOpenRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	md := testMeta([]int64{6, 6}, []int64{3, 3})
	md.FillValue = 1.5
	a := mustCreate(t, st, "data/temp", md)

	if got := a.Prefix(); got != "data/temp" {
		t.Errorf("Prefix() = %q, want %q", got, "data/temp")
	}
	ok, err := st.Exists(ctx, "data/temp/array.json")
	if err != nil || !ok {
		t.Fatalf("Exists(array.json) = %v, %v, want true", ok, err)
	}

	b, err := OpenArray(ctx, st, "data/temp")
	if err != nil {
		t.Fatalf("OpenArray() error = %v", err)
	}
	if !slices.Equal(b.Shape(), []int64{6, 6}) {
		t.Errorf("Shape() = %v, want [6 6]", b.Shape())
	}
	if !slices.Equal(b.ChunkShape(), []int64{3, 3}) {
		t.Errorf("ChunkShape() = %v, want [3 3]", b.ChunkShape())
	}
	if got := b.DType().String(); got != "<f8" {
		t.Errorf("DType() = %v, want <f8", got)
	}
	if b.Sharded() {
		t.Error("Sharded() = true for unsharded metadata")
	}
}

func TestCreateArrayExists(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	mustCreate(t, st, "t", testMeta([]int64{4}, []int64{2}))

	_, err := CreateArray(ctx, st, "t", testMeta([]int64{8}, []int64{4}))
	if !errors.Is(err, ErrArrayExists) {
		t.Fatalf("CreateArray(existing) error = %v, want ErrArrayExists", err)
	}
}

func TestOpenArrayNotFound(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	_, err := OpenArray(ctx, st, "nothing/here")
	if !errors.Is(err, ErrArrayNotFound) {
		t.Fatalf("OpenArray(missing) error = %v, want ErrArrayNotFound", err)
	}

	// A present but unreadable document is a parse error, not absence.
	if err := st.Set(ctx, "bad/array.json", []byte("not json")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	_, err = OpenArray(ctx, st, "bad")
	if err == nil || errors.Is(err, ErrArrayNotFound) {
		t.Fatalf("OpenArray(corrupt) error = %v, want parse error", err)
	}
}

func TestOpenValidatesArguments(t *testing.T) {
	st := memory.New()
	md := testMeta([]int64{4, 4}, []int64{2, 2})

	if _, err := Open(nil, "t", md); err == nil {
		t.Error("Open(nil store) succeeded")
	}
	if _, err := Open(st, "t", nil); err == nil {
		t.Error("Open(nil metadata) succeeded")
	}

	bad := testMeta([]int64{4, 4}, []int64{2})
	if _, err := Open(st, "t", bad); err == nil {
		t.Error("Open(rank mismatch) succeeded")
	}
}

func TestChunkRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	md := testMeta([]int64{4, 6}, []int64{2, 3})
	md.FillValue = -1.0
	a := mustCreate(t, st, "t", md)

	want := seq(10, 6)
	if err := a.WriteChunk(ctx, []int64{1, 1}, f64Buffer(t, []int64{2, 3}, want)); err != nil {
		t.Fatalf("WriteChunk() error = %v", err)
	}
	got, err := a.ReadChunk(ctx, []int64{1, 1})
	if err != nil {
		t.Fatalf("ReadChunk() error = %v", err)
	}
	checkValues(t, got, want)

	// A chunk never written reads back as fill, without touching the store.
	got, err = a.ReadChunk(ctx, []int64{0, 0})
	if err != nil {
		t.Fatalf("ReadChunk(absent) error = %v", err)
	}
	checkValues(t, got, repeat(-1, 6))
}

func TestWriteFillElidesChunk(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	md := testMeta([]int64{4, 4}, []int64{2, 2})
	md.FillValue = 7.0
	a := mustCreate(t, st, "t", md)
	coord := []int64{0, 1}
	key := a.chunkKey(coord)

	if err := a.WriteChunk(ctx, coord, f64Buffer(t, []int64{2, 2}, repeat(7, 4))); err != nil {
		t.Fatalf("WriteChunk(fill) error = %v", err)
	}
	if ok, _ := st.Exists(ctx, key); ok {
		t.Fatal("fill-only chunk was stored")
	}

	if err := a.WriteChunk(ctx, coord, f64Buffer(t, []int64{2, 2}, seq(1, 4))); err != nil {
		t.Fatalf("WriteChunk(data) error = %v", err)
	}
	if ok, _ := st.Exists(ctx, key); !ok {
		t.Fatal("data chunk was not stored")
	}

	// Overwriting with pure fill removes the object again.
	if err := a.WriteChunk(ctx, coord, f64Buffer(t, []int64{2, 2}, repeat(7, 4))); err != nil {
		t.Fatalf("WriteChunk(fill over data) error = %v", err)
	}
	if ok, _ := st.Exists(ctx, key); ok {
		t.Fatal("chunk object survived a fill overwrite")
	}
	got, err := a.ReadChunk(ctx, coord)
	if err != nil {
		t.Fatalf("ReadChunk() error = %v", err)
	}
	checkValues(t, got, repeat(7, 4))
}

func TestNaNFillElidesByBitPattern(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	md := testMeta([]int64{2, 2}, []int64{2, 2})
	md.FillValue = "NaN"
	a := mustCreate(t, st, "t", md)
	coord := []int64{0, 0}

	nan := math.NaN()
	if err := a.WriteChunk(ctx, coord, f64Buffer(t, []int64{2, 2}, repeat(nan, 4))); err != nil {
		t.Fatalf("WriteChunk(NaN) error = %v", err)
	}
	if ok, _ := st.Exists(ctx, a.chunkKey(coord)); ok {
		t.Fatal("all-NaN chunk was stored despite NaN fill")
	}

	got, err := a.ReadChunk(ctx, coord)
	if err != nil {
		t.Fatalf("ReadChunk() error = %v", err)
	}
	for i, v := range f64Values(got) {
		if !math.IsNaN(v) {
			t.Fatalf("element %d = %v, want NaN", i, v)
		}
	}
}

func TestChunkCoordBounds(t *testing.T) {
	ctx := context.Background()
	a := mustCreate(t, memory.New(), "t", testMeta([]int64{4, 4}, []int64{2, 2}))

	coords := [][]int64{
		{2, 0},
		{0, 2},
		{-1, 0},
		{0},
		{0, 0, 0},
	}
	for _, coord := range coords {
		if _, err := a.ReadChunk(ctx, coord); !errors.Is(err, grid.ErrOutOfBounds) {
			t.Errorf("ReadChunk(%v) error = %v, want ErrOutOfBounds", coord, err)
		}
		buf := f64Buffer(t, []int64{2, 2}, seq(0, 4))
		if err := a.WriteChunk(ctx, coord, buf); !errors.Is(err, grid.ErrOutOfBounds) {
			t.Errorf("WriteChunk(%v) error = %v, want ErrOutOfBounds", coord, err)
		}
		if err := a.DeleteChunk(ctx, coord); !errors.Is(err, grid.ErrOutOfBounds) {
			t.Errorf("DeleteChunk(%v) error = %v, want ErrOutOfBounds", coord, err)
		}
	}
}

func TestWriteChunkRejectsBadBuffers(t *testing.T) {
	ctx := context.Background()
	a := mustCreate(t, memory.New(), "t", testMeta([]int64{4, 4}, []int64{2, 2}))
	coord := []int64{0, 0}

	if err := a.WriteChunk(ctx, coord, nil); err == nil {
		t.Error("WriteChunk(nil buffer) succeeded")
	}

	wrongShape := f64Buffer(t, []int64{2, 3}, seq(0, 6))
	if err := a.WriteChunk(ctx, coord, wrongShape); err == nil {
		t.Error("WriteChunk(wrong shape) succeeded")
	}

	wrongType := codec.NewBuffer(dtype.MustParse("<i4"), []int64{2, 2})
	if err := a.WriteChunk(ctx, coord, wrongType); err == nil {
		t.Error("WriteChunk(wrong dtype) succeeded")
	}

	short := f64Buffer(t, []int64{2, 2}, seq(0, 4))
	short.Data = short.Data[:8]
	if err := a.WriteChunk(ctx, coord, short); err == nil {
		t.Error("WriteChunk(short data) succeeded")
	}
}

func TestDeleteChunk(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	md := testMeta([]int64{4, 4}, []int64{2, 2})
	md.FillValue = 3.0
	a := mustCreate(t, st, "t", md)
	coord := []int64{1, 0}

	if err := a.WriteChunk(ctx, coord, f64Buffer(t, []int64{2, 2}, seq(1, 4))); err != nil {
		t.Fatalf("WriteChunk() error = %v", err)
	}
	if err := a.DeleteChunk(ctx, coord); err != nil {
		t.Fatalf("DeleteChunk() error = %v", err)
	}
	if ok, _ := st.Exists(ctx, a.chunkKey(coord)); ok {
		t.Fatal("chunk object survived DeleteChunk")
	}
	got, err := a.ReadChunk(ctx, coord)
	if err != nil {
		t.Fatalf("ReadChunk() error = %v", err)
	}
	checkValues(t, got, repeat(3, 4))

	// Deleting an absent chunk is a no-op.
	if err := a.DeleteChunk(ctx, coord); err != nil {
		t.Fatalf("DeleteChunk(absent) error = %v", err)
	}
}

func TestCorruptChunkSurfacesDecodeError(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	a := mustCreate(t, st, "t", testMeta([]int64{2, 2}, []int64{2, 2}))
	coord := []int64{0, 0}

	if err := a.WriteChunk(ctx, coord, f64Buffer(t, []int64{2, 2}, seq(1, 4))); err != nil {
		t.Fatalf("WriteChunk() error = %v", err)
	}
	key := a.chunkKey(coord)
	data, err := st.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if err := st.Set(ctx, key, data[:len(data)-1]); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// Truncated payloads must fail loudly, never read back as fill.
	_, err = a.ReadChunk(ctx, coord)
	var de *codec.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("ReadChunk(corrupt) error = %v, want *codec.DecodeError", err)
	}
}

func TestChunkKeyLayout(t *testing.T) {
	st := memory.New()

	tests := []struct {
		name      string
		prefix    string
		separator string
		coord     []int64
		want      string
	}{
		{"dot separator", "data/temp", ".", []int64{1, 12}, "data/temp/1.12"},
		{"slash separator", "data/temp", "/", []int64{1, 12}, "data/temp/1/12"},
		{"empty prefix", "", ".", []int64{0, 3}, "0.3"},
		{"single dimension", "a", ".", []int64{5}, "a/5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := testMeta([]int64{60, 60}, []int64{4, 4})
			if len(tt.coord) == 1 {
				md = testMeta([]int64{60}, []int64{4})
			}
			md.DimensionSeparator = tt.separator
			a, err := Open(st, tt.prefix, md)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if got := a.chunkKey(tt.coord); got != tt.want {
				t.Errorf("chunkKey(%v) = %q, want %q", tt.coord, got, tt.want)
			}
		})
	}
}

func TestCompressedPipelineRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	md := testMeta([]int64{4, 8}, []int64{4, 8})
	md.Codecs = []codec.Spec{{Name: "bytes"}, {Name: "zstd"}}
	a := mustCreate(t, st, "t", md)
	coord := []int64{0, 0}

	want := repeat(2.25, 32)
	if err := a.WriteChunk(ctx, coord, f64Buffer(t, []int64{4, 8}, want)); err != nil {
		t.Fatalf("WriteChunk() error = %v", err)
	}

	// Highly repetitive data must come out smaller than raw.
	obj, err := st.Get(ctx, a.chunkKey(coord))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(obj) >= 32*8 {
		t.Errorf("compressed object is %d bytes, want < %d", len(obj), 32*8)
	}

	got, err := a.ReadChunk(ctx, coord)
	if err != nil {
		t.Fatalf("ReadChunk() error = %v", err)
	}
	checkValues(t, got, want)
}

func TestMetadataAccessors(t *testing.T) {
	md := testMeta([]int64{9, 9}, []int64{3, 3})
	md.ShardShape = []int64{2, 2}
	a := mustCreate(t, memory.New(), "t", md)

	if !a.Sharded() {
		t.Error("Sharded() = false with shard_shape set")
	}
	if a.Metadata() == nil {
		t.Error("Metadata() = nil")
	}
	if got := a.Grid().TotalChunks(); got != 9 {
		t.Errorf("TotalChunks() = %d, want 9", got)
	}
}
