// Package grid maps logical array coordinates onto chunk coordinates.
//
// A Grid divides an N-dimensional array of a given shape into rectangular
// chunks of a fixed chunk shape. Chunks at the upper array edges may cover
// less than a full chunk. The package is pure coordinate math: no I/O, no
// state, safe for concurrent use.
package grid

import (
	"errors"
	"fmt"
	"iter"
	"slices"
)

// ErrOutOfBounds reports a chunk coordinate or selection outside the array.
var ErrOutOfBounds = errors.New("grid: out of bounds")

// Grid is the chunking layout of one array.
type Grid struct {
	shape  []int64
	chunks []int64
	counts []int64 // chunks per dimension, ceil(shape/chunks)
}

// New validates an array shape and chunk shape and returns their grid.
// Ranks must match; every chunk dimension must be positive and no larger
// than the corresponding array extent when that extent is non-zero.
func New(shape, chunks []int64) (*Grid, error) {
	if len(shape) == 0 {
		return nil, errors.New("grid: empty shape")
	}
	if len(shape) != len(chunks) {
		return nil, fmt.Errorf("grid: shape rank %d does not match chunk rank %d", len(shape), len(chunks))
	}

	counts := make([]int64, len(shape))
	for d := range shape {
		if shape[d] < 0 {
			return nil, fmt.Errorf("grid: negative extent %d in dimension %d", shape[d], d)
		}
		if chunks[d] <= 0 {
			return nil, fmt.Errorf("grid: chunk extent %d in dimension %d must be positive", chunks[d], d)
		}
		if shape[d] > 0 && chunks[d] > shape[d] {
			return nil, fmt.Errorf("grid: chunk extent %d exceeds array extent %d in dimension %d", chunks[d], shape[d], d)
		}
		counts[d] = ceilDiv(shape[d], chunks[d])
	}

	return &Grid{
		shape:  slices.Clone(shape),
		chunks: slices.Clone(chunks),
		counts: counts,
	}, nil
}

// Rank returns the number of dimensions.
func (g *Grid) Rank() int { return len(g.shape) }

// Shape returns a copy of the array shape.
func (g *Grid) Shape() []int64 { return slices.Clone(g.shape) }

// ChunkShape returns a copy of the chunk shape.
func (g *Grid) ChunkShape() []int64 { return slices.Clone(g.chunks) }

// ChunkCount returns the number of chunks along each dimension.
func (g *Grid) ChunkCount() []int64 { return slices.Clone(g.counts) }

// TotalChunks returns the total number of chunks in the grid.
func (g *Grid) TotalChunks() int64 {
	return NumElements(g.counts)
}

// CheckCoord validates a chunk coordinate against the grid, returning an
// error wrapping ErrOutOfBounds before any I/O would happen.
func (g *Grid) CheckCoord(coord []int64) error {
	if len(coord) != len(g.counts) {
		return fmt.Errorf("%w: coordinate rank %d does not match grid rank %d", ErrOutOfBounds, len(coord), len(g.counts))
	}
	for d, c := range coord {
		if c < 0 || c >= g.counts[d] {
			return fmt.Errorf("%w: coordinate %v dimension %d: %d not in [0, %d)", ErrOutOfBounds, coord, d, c, g.counts[d])
		}
	}
	return nil
}

// ChunkBounds returns the index region a chunk covers, clipped to the
// array bounds. Chunks on the upper edges cover less than the chunk shape.
func (g *Grid) ChunkBounds(coord []int64) Selection {
	start := make([]int64, len(coord))
	stop := make([]int64, len(coord))
	for d, c := range coord {
		start[d] = c * g.chunks[d]
		stop[d] = min(start[d]+g.chunks[d], g.shape[d])
	}
	return Selection{Start: start, Stop: stop}
}

// ChunkSize returns the clipped extent of a chunk along each dimension.
func (g *Grid) ChunkSize(coord []int64) []int64 {
	return g.ChunkBounds(coord).Shape()
}

// CheckSelection validates that a selection lies fully inside the array.
// Array-level operations reject out-of-bounds selections through this
// before issuing any store operation; Cover itself clips instead.
func (g *Grid) CheckSelection(sel Selection) error {
	if err := sel.validate(len(g.shape)); err != nil {
		return err
	}
	for d := range g.shape {
		if sel.Start[d] < 0 || sel.Stop[d] > g.shape[d] {
			return fmt.Errorf("%w: selection [%d, %d) dimension %d exceeds array extent %d",
				ErrOutOfBounds, sel.Start[d], sel.Stop[d], d, g.shape[d])
		}
	}
	return nil
}

// dimSlice is the per-dimension piece of a chunk's overlap with a selection.
type dimSlice struct {
	chunk     int64 // chunk index along this dimension
	local     int64 // first selected cell, chunk-local
	localStop int64 // one past the last selected cell, chunk-local
	sel       int64 // position of the first selected cell in selection space
	n         int64 // number of selected cells in this chunk
}

// Slice describes one chunk's overlap with a selection.
type Slice struct {
	// Coord is the chunk coordinate.
	Coord []int64

	// Chunk selects the overlapping cells in chunk-local indices. Its
	// Step equals the selection's step.
	Chunk Selection

	// Sel is the position of this block inside the selection grid: the
	// block occupies [Sel[d], Sel[d]+Chunk.Shape()[d]) along each
	// dimension of the selection's own index space.
	Sel []int64
}

// Cover yields the minimal set of chunks intersecting a selection, each
// with the sub-region of the chunk that overlaps it. The selection is
// clipped to the array bounds first; a selection fully outside the array
// yields nothing. The union of the yielded blocks tiles the clipped
// selection exactly.
func (g *Grid) Cover(sel Selection) (iter.Seq[Slice], error) {
	if err := sel.validate(len(g.shape)); err != nil {
		return nil, err
	}

	norm := sel.normalized()

	// Per-dimension list of chunks holding at least one selected cell.
	dims := make([][]dimSlice, len(g.shape))
	for d := range g.shape {
		start := max(norm.Start[d], 0)
		stop := min(norm.Stop[d], g.shape[d])
		step := norm.Step[d]

		if stop <= start {
			return func(yield func(Slice) bool) {}, nil
		}

		cs := g.chunks[d]
		var list []dimSlice
		for chunk := start / cs; chunk*cs < stop; chunk++ {
			cStart := chunk * cs
			cStop := min(cStart+cs, stop)

			// First selected index at or after the chunk start.
			k0 := int64(0)
			if cStart > start {
				k0 = ceilDiv(cStart-start, step)
			}
			g0 := start + k0*step
			if g0 >= cStop {
				continue
			}
			k1 := (cStop - 1 - start) / step
			gLast := start + k1*step

			list = append(list, dimSlice{
				chunk:     chunk,
				local:     g0 - cStart,
				localStop: gLast - cStart + 1,
				sel:       k0,
				n:         k1 - k0 + 1,
			})
		}
		dims[d] = list
	}

	step := norm.Step

	return func(yield func(Slice) bool) {
		// Odometer over the per-dimension chunk lists.
		idx := make([]int, len(dims))
		for {
			s := Slice{
				Coord: make([]int64, len(dims)),
				Chunk: Selection{
					Start: make([]int64, len(dims)),
					Stop:  make([]int64, len(dims)),
					Step:  slices.Clone(step),
				},
				Sel: make([]int64, len(dims)),
			}
			for d, i := range idx {
				ds := dims[d][i]
				s.Coord[d] = ds.chunk
				s.Chunk.Start[d] = ds.local
				s.Chunk.Stop[d] = ds.localStop
				s.Sel[d] = ds.sel
			}
			if !yield(s) {
				return
			}

			// Advance the odometer, last dimension fastest.
			d := len(dims) - 1
			for d >= 0 {
				idx[d]++
				if idx[d] < len(dims[d]) {
					break
				}
				idx[d] = 0
				d--
			}
			if d < 0 {
				return
			}
		}
	}, nil
}

// ceilDiv returns ceil(a/b) for positive b.
func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// NumElements returns the product of a shape's extents.
func NumElements(shape []int64) int64 {
	n := int64(1)
	for _, s := range shape {
		n *= s
	}
	return n
}
