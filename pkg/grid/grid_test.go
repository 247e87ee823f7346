package grid

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		shape   []int64
		chunks  []int64
		wantErr bool
	}{
		{"valid", []int64{100, 100}, []int64{10, 10}, false},
		{"uneven edges", []int64{105, 17}, []int64{10, 5}, false},
		{"single chunk", []int64{5}, []int64{5}, false},
		{"zero extent", []int64{0, 10}, []int64{5, 5}, false},
		{"empty shape", nil, nil, true},
		{"rank mismatch", []int64{10, 10}, []int64{5}, true},
		{"zero chunk", []int64{10}, []int64{0}, true},
		{"negative chunk", []int64{10}, []int64{-2}, true},
		{"negative extent", []int64{-1}, []int64{1}, true},
		{"chunk larger than array", []int64{4}, []int64{8}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.shape, tt.chunks)
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%v, %v) error = %v, wantErr %v", tt.shape, tt.chunks, err, tt.wantErr)
			}
		})
	}
}

func TestChunkCount(t *testing.T) {
	g, err := New([]int64{105, 17, 8}, []int64{10, 5, 8})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	want := []int64{11, 4, 1}
	if got := g.ChunkCount(); !reflect.DeepEqual(got, want) {
		t.Errorf("ChunkCount() = %v, want %v", got, want)
	}
	if got := g.TotalChunks(); got != 44 {
		t.Errorf("TotalChunks() = %d, want 44", got)
	}
	if got := g.Rank(); got != 3 {
		t.Errorf("Rank() = %d, want 3", got)
	}
}

func TestCheckCoord(t *testing.T) {
	g, err := New([]int64{100, 20}, []int64{10, 5})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := g.CheckCoord([]int64{9, 3}); err != nil {
		t.Errorf("CheckCoord(9,3) = %v, want nil", err)
	}
	if err := g.CheckCoord([]int64{10, 0}); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("CheckCoord(10,0) = %v, want ErrOutOfBounds", err)
	}
	if err := g.CheckCoord([]int64{0, -1}); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("CheckCoord(0,-1) = %v, want ErrOutOfBounds", err)
	}
	if err := g.CheckCoord([]int64{0}); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("CheckCoord rank mismatch = %v, want ErrOutOfBounds", err)
	}
}

func TestChunkBounds(t *testing.T) {
	g, err := New([]int64{105, 17}, []int64{10, 5})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	inner := g.ChunkBounds([]int64{3, 1})
	if !reflect.DeepEqual(inner.Start, []int64{30, 5}) || !reflect.DeepEqual(inner.Stop, []int64{40, 10}) {
		t.Errorf("inner chunk bounds = %v, want [30 5]..[40 10]", inner)
	}

	// Chunks on the upper edges clip to the array shape.
	edge := g.ChunkBounds([]int64{10, 3})
	if !reflect.DeepEqual(edge.Start, []int64{100, 15}) || !reflect.DeepEqual(edge.Stop, []int64{105, 17}) {
		t.Errorf("edge chunk bounds = %v, want [100 15]..[105 17]", edge)
	}
	if got := g.ChunkSize([]int64{10, 3}); !reflect.DeepEqual(got, []int64{5, 2}) {
		t.Errorf("edge chunk size = %v, want [5 2]", got)
	}
}

func TestCheckSelection(t *testing.T) {
	g, err := New([]int64{100, 20}, []int64{10, 5})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ok := Selection{Start: []int64{0, 0}, Stop: []int64{100, 20}}
	if err := g.CheckSelection(ok); err != nil {
		t.Errorf("CheckSelection(full) = %v, want nil", err)
	}

	over := Selection{Start: []int64{90, 0}, Stop: []int64{101, 20}}
	if err := g.CheckSelection(over); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("CheckSelection(over) = %v, want ErrOutOfBounds", err)
	}

	badStep := Selection{Start: []int64{0, 0}, Stop: []int64{10, 10}, Step: []int64{0, 1}}
	if err := g.CheckSelection(badStep); err == nil {
		t.Error("CheckSelection with zero step succeeded, want error")
	}
}

func TestSelectionShape(t *testing.T) {
	tests := []struct {
		name string
		sel  Selection
		want []int64
	}{
		{
			"contiguous",
			Selection{Start: []int64{2, 3}, Stop: []int64{10, 7}},
			[]int64{8, 4},
		},
		{
			"strided",
			Selection{Start: []int64{0, 0}, Stop: []int64{10, 7}, Step: []int64{3, 2}},
			[]int64{4, 4},
		},
		{
			"empty dimension",
			Selection{Start: []int64{5, 0}, Stop: []int64{5, 7}},
			[]int64{0, 7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sel.Shape(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Shape() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCoverSingleChunk(t *testing.T) {
	g, err := New([]int64{100, 100}, []int64{10, 10})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	seq, err := g.Cover(Selection{Start: []int64{12, 34}, Stop: []int64{15, 38}})
	if err != nil {
		t.Fatalf("Cover: %v", err)
	}

	var got []Slice
	for s := range seq {
		got = append(got, s)
	}
	if len(got) != 1 {
		t.Fatalf("Cover yielded %d slices, want 1", len(got))
	}
	s := got[0]
	if !reflect.DeepEqual(s.Coord, []int64{1, 3}) {
		t.Errorf("Coord = %v, want [1 3]", s.Coord)
	}
	if !reflect.DeepEqual(s.Chunk.Start, []int64{2, 4}) || !reflect.DeepEqual(s.Chunk.Stop, []int64{5, 8}) {
		t.Errorf("Chunk = %v, want [2 4]..[5 8]", s.Chunk)
	}
	if !reflect.DeepEqual(s.Sel, []int64{0, 0}) {
		t.Errorf("Sel = %v, want [0 0]", s.Sel)
	}
}

func TestCoverOutsideYieldsNothing(t *testing.T) {
	g, err := New([]int64{10, 10}, []int64{5, 5})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	seq, err := g.Cover(Selection{Start: []int64{10, 0}, Stop: []int64{20, 10}})
	if err != nil {
		t.Fatalf("Cover: %v", err)
	}
	for s := range seq {
		t.Errorf("Cover yielded %v for a selection outside the array", s)
	}
}

func TestCoverStops(t *testing.T) {
	g, err := New([]int64{100}, []int64{10})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	seq, err := g.Cover(FullSelection(g.Shape()))
	if err != nil {
		t.Fatalf("Cover: %v", err)
	}
	n := 0
	for range seq {
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 {
		t.Errorf("iterated %d slices after break, want 3", n)
	}
}

// TestCoverExactTiling checks that the blocks yielded by Cover tile the
// selection exactly: every selected cell is produced by exactly one slice,
// at the right position in selection space, and nothing else is produced.
func TestCoverExactTiling(t *testing.T) {
	cases := []struct {
		name   string
		shape  []int64
		chunks []int64
		sel    Selection
	}{
		{
			"full 2d",
			[]int64{20, 15}, []int64{6, 4},
			Selection{Start: []int64{0, 0}, Stop: []int64{20, 15}},
		},
		{
			"interior 2d",
			[]int64{20, 15}, []int64{6, 4},
			Selection{Start: []int64{3, 2}, Stop: []int64{17, 13}},
		},
		{
			"strided skips chunks",
			[]int64{40}, []int64{4},
			Selection{Start: []int64{1}, Stop: []int64{40}, Step: []int64{7}},
		},
		{
			"strided 3d",
			[]int64{9, 8, 7}, []int64{4, 3, 2},
			Selection{Start: []int64{1, 0, 2}, Stop: []int64{9, 7, 7}, Step: []int64{2, 3, 1}},
		},
		{
			"clipped past bounds",
			[]int64{10}, []int64{4},
			Selection{Start: []int64{6}, Stop: []int64{30}},
		},
		{
			"single cell",
			[]int64{10, 10}, []int64{3, 3},
			Selection{Start: []int64{7, 7}, Stop: []int64{8, 8}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, err := New(tc.shape, tc.chunks)
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			// Expected cells: selection clipped to shape.
			norm := tc.sel.normalized()
			want := map[string]bool{}
			expand(tc.shape, norm, func(global []int64) {
				want[key(global)] = true
			})

			seq, err := g.Cover(tc.sel)
			if err != nil {
				t.Fatalf("Cover: %v", err)
			}

			seen := map[string]int{}
			for s := range seq {
				cells := enumerate(s, g)
				for _, c := range cells {
					seen[key(c.global)]++

					// The cell's position in selection space must
					// agree with Sel plus the within-block offset.
					for d := range c.global {
						wantGlobal := norm.Start[d] + c.selIdx[d]*norm.Step[d]
						if c.global[d] != wantGlobal {
							t.Fatalf("slice %v cell %v: selection index %v maps to global %d, want %d",
								s, c.global, c.selIdx, c.global[d], wantGlobal)
						}
					}
				}
			}

			for k := range want {
				if seen[k] != 1 {
					t.Errorf("cell %s covered %d times, want 1", k, seen[k])
				}
			}
			for k, n := range seen {
				if !want[k] {
					t.Errorf("cell %s covered %d times but not selected", k, n)
				}
			}
		})
	}
}

type cell struct {
	global []int64
	selIdx []int64
}

// enumerate lists every cell of one cover slice with its global coordinate
// and its index in selection space.
func enumerate(s Slice, g *Grid) []cell {
	chunkShape := g.ChunkShape()
	shape := s.Chunk.Shape()
	total := NumElements(shape)

	var out []cell
	idx := make([]int64, len(shape))
	for n := int64(0); n < total; n++ {
		global := make([]int64, len(shape))
		selIdx := make([]int64, len(shape))
		for d := range shape {
			local := s.Chunk.Start[d] + idx[d]*s.Chunk.Step[d]
			global[d] = s.Coord[d]*chunkShape[d] + local
			selIdx[d] = s.Sel[d] + idx[d]
		}
		out = append(out, cell{global: global, selIdx: selIdx})

		for d := len(shape) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out
}

// expand calls fn for every global coordinate a normalized selection picks
// inside shape.
func expand(shape []int64, sel Selection, fn func([]int64)) {
	var rec func(d int, coord []int64)
	rec = func(d int, coord []int64) {
		if d == len(shape) {
			c := make([]int64, len(coord))
			copy(c, coord)
			fn(c)
			return
		}
		stop := min(sel.Stop[d], shape[d])
		for v := max(sel.Start[d], int64(0)); v < stop; v += sel.Step[d] {
			coord[d] = v
			rec(d+1, coord)
		}
	}
	rec(0, make([]int64, len(shape)))
}

func key(coord []int64) string {
	return fmt.Sprint(coord)
}
