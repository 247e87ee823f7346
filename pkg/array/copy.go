package array

import (
	"github.com/marmos91/gridstore/pkg/grid"
)

// fillBytes tiles one encoded element across a buffer.
func fillBytes(dst, elem []byte) {
	if len(dst) == 0 {
		return
	}
	n := copy(dst, elem)
	for n < len(dst) {
		n += copy(dst[n:], dst[:n])
	}
}

// strides returns C-order element strides for a shape.
func strides(shape []int64) []int64 {
	out := make([]int64, len(shape))
	acc := int64(1)
	for d := len(shape) - 1; d >= 0; d-- {
		out[d] = acc
		acc *= shape[d]
	}
	return out
}

// copyBlock moves the cells of one cover block between a chunk buffer and
// a region buffer, in either direction. The block selects cells of the
// chunk through s.Chunk (chunk-local, possibly strided) and occupies the
// rectangle starting at s.Sel in the region buffer. Rows are copied as
// contiguous runs when the last dimension is unit-stride.
func copyBlock(region []byte, regionShape []int64, chunk []byte, chunkShape []int64, s grid.Slice, itemSize int64, toRegion bool) {
	rank := len(chunkShape)
	blockShape := s.Chunk.Shape()
	if grid.NumElements(blockShape) == 0 {
		return
	}

	step := make([]int64, rank)
	for d := range step {
		step[d] = 1
		if s.Chunk.Step != nil {
			step[d] = s.Chunk.Step[d]
		}
	}

	cstride := strides(chunkShape)
	rstride := strides(regionShape)

	var cbase, rbase int64
	for d := 0; d < rank; d++ {
		cbase += s.Chunk.Start[d] * cstride[d]
		rbase += s.Sel[d] * rstride[d]
	}

	last := rank - 1
	rowLen := blockShape[last]

	// Odometer over every dimension but the last; the last dimension is
	// the copy row. cstride[last] and rstride[last] are both 1.
	idx := make([]int64, rank)
	for {
		coff := cbase
		roff := rbase
		for d := 0; d < last; d++ {
			coff += idx[d] * step[d] * cstride[d]
			roff += idx[d] * rstride[d]
		}

		if step[last] == 1 {
			cb := coff * itemSize
			rb := roff * itemSize
			nb := rowLen * itemSize
			if toRegion {
				copy(region[rb:rb+nb], chunk[cb:cb+nb])
			} else {
				copy(chunk[cb:cb+nb], region[rb:rb+nb])
			}
		} else {
			for i := int64(0); i < rowLen; i++ {
				cb := (coff + i*step[last]) * itemSize
				rb := (roff + i) * itemSize
				if toRegion {
					copy(region[rb:rb+itemSize], chunk[cb:cb+itemSize])
				} else {
					copy(chunk[cb:cb+itemSize], region[rb:rb+itemSize])
				}
			}
		}

		d := last - 1
		for d >= 0 {
			idx[d]++
			if idx[d] < blockShape[d] {
				break
			}
			idx[d] = 0
			d--
		}
		if d < 0 {
			return
		}
	}
}
