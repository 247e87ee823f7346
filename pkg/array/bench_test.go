package array

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/marmos91/gridstore/pkg/codec"
	"github.com/marmos91/gridstore/pkg/dtype"
	"github.com/marmos91/gridstore/pkg/grid"
	"github.com/marmos91/gridstore/pkg/store/memory"
)

func benchArray(b *testing.B, shape, chunks []int64) *Array {
	b.Helper()

	a, err := CreateArray(context.Background(), memory.New(), "bench", testMeta(shape, chunks))
	if err != nil {
		b.Fatal(err)
	}
	return a
}

func benchRegionBuffer(shape []int64) *codec.Buffer {
	buf := codec.NewBuffer(dtype.MustParse("<f8"), shape)
	for i := int64(0); i < buf.NumElements(); i++ {
		binary.NativeEndian.PutUint64(buf.Data[i*8:], math.Float64bits(float64(i)))
	}
	return buf
}

func BenchmarkWriteRegion(b *testing.B) {
	ctx := context.Background()
	a := benchArray(b, []int64{1024, 1024}, []int64{256, 256})

	sel := grid.Selection{Start: []int64{128, 128}, Stop: []int64{640, 640}}
	buf := benchRegionBuffer(sel.Shape())

	b.SetBytes(int64(len(buf.Data)))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := a.WriteRegion(ctx, sel, buf); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkReadRegion(b *testing.B) {
	ctx := context.Background()
	a := benchArray(b, []int64{1024, 1024}, []int64{256, 256})

	sel := grid.Selection{Start: []int64{128, 128}, Stop: []int64{640, 640}}
	buf := benchRegionBuffer(sel.Shape())
	if err := a.WriteRegion(ctx, sel, buf); err != nil {
		b.Fatal(err)
	}

	b.SetBytes(int64(len(buf.Data)))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := a.ReadRegion(ctx, sel); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkReadChunkFill measures fill synthesis for chunks that were
// never written, the no-I/O path.
func BenchmarkReadChunkFill(b *testing.B) {
	ctx := context.Background()
	a := benchArray(b, []int64{1024, 1024}, []int64{256, 256})

	chunkBytes := int64(256 * 256 * 8)
	b.SetBytes(chunkBytes)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := a.ReadChunk(ctx, []int64{3, 3}); err != nil {
			b.Fatal(err)
		}
	}
}
