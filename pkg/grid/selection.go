package grid

import (
	"fmt"
	"slices"
)

// Selection is a rectangular, optionally strided index region. Bounds are
// half-open [Start, Stop) per dimension. A nil Step means step 1 in every
// dimension; steps must be positive.
type Selection struct {
	Start []int64
	Stop  []int64
	Step  []int64
}

// FullSelection selects an entire shape.
func FullSelection(shape []int64) Selection {
	return Selection{
		Start: make([]int64, len(shape)),
		Stop:  slices.Clone(shape),
	}
}

// Rank returns the number of dimensions.
func (s Selection) Rank() int { return len(s.Start) }

// Shape returns the number of selected indices along each dimension.
func (s Selection) Shape() []int64 {
	shape := make([]int64, len(s.Start))
	for d := range s.Start {
		n := s.Stop[d] - s.Start[d]
		if n <= 0 {
			continue
		}
		step := int64(1)
		if s.Step != nil {
			step = s.Step[d]
		}
		shape[d] = ceilDiv(n, step)
	}
	return shape
}

// NumElements returns the total number of selected indices.
func (s Selection) NumElements() int64 {
	return NumElements(s.Shape())
}

// IsEmpty reports whether the selection contains no indices.
func (s Selection) IsEmpty() bool {
	for d := range s.Start {
		if s.Stop[d] <= s.Start[d] {
			return true
		}
	}
	return len(s.Start) == 0
}

func (s Selection) String() string {
	if s.Step == nil {
		return fmt.Sprintf("[%v:%v]", s.Start, s.Stop)
	}
	return fmt.Sprintf("[%v:%v:%v]", s.Start, s.Stop, s.Step)
}

// validate checks internal consistency against an expected rank.
func (s Selection) validate(rank int) error {
	if len(s.Start) != rank || len(s.Stop) != rank {
		return fmt.Errorf("grid: selection rank %d/%d does not match grid rank %d", len(s.Start), len(s.Stop), rank)
	}
	if s.Step != nil && len(s.Step) != rank {
		return fmt.Errorf("grid: selection step rank %d does not match grid rank %d", len(s.Step), rank)
	}
	for d := range s.Start {
		if s.Start[d] < 0 {
			return fmt.Errorf("grid: negative selection start %d in dimension %d", s.Start[d], d)
		}
		if s.Step != nil && s.Step[d] <= 0 {
			return fmt.Errorf("grid: selection step %d in dimension %d must be positive", s.Step[d], d)
		}
	}
	return nil
}

// normalized returns a copy with Step materialized as ones when nil.
func (s Selection) normalized() Selection {
	out := Selection{
		Start: slices.Clone(s.Start),
		Stop:  slices.Clone(s.Stop),
	}
	if s.Step == nil {
		out.Step = make([]int64, len(s.Start))
		for d := range out.Step {
			out.Step[d] = 1
		}
	} else {
		out.Step = slices.Clone(s.Step)
	}
	return out
}

// Contiguous reports whether the selection is unit-stride in every
// dimension, which lets copies take the contiguous row fast path.
func (s Selection) Contiguous() bool {
	if s.Step == nil {
		return true
	}
	for _, st := range s.Step {
		if st != 1 {
			return false
		}
	}
	return true
}
