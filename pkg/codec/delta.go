package codec

import (
	"fmt"

	"github.com/marmos91/gridstore/pkg/dtype"
)

// deltaFilter stores each integer element as the difference from its
// predecessor in flat C order. Differences wrap modulo the element width,
// so the transform is exact for both signed and unsigned types.
type deltaFilter struct {
	dt dtype.DType
}

func newDeltaFilter(cfg map[string]any, dt dtype.DType, _ []int64) (any, error) {
	var c struct{}
	if err := decodeConfig("delta", cfg, &c); err != nil {
		return nil, err
	}
	if dt.Kind != dtype.Int && dt.Kind != dtype.Uint {
		return nil, fmt.Errorf("codec: delta: requires an integer dtype, got %s", dt)
	}
	return &deltaFilter{dt: dt}, nil
}

func (f *deltaFilter) Name() string { return "delta" }

func (f *deltaFilter) EncodeArray(buf *Buffer) error {
	w := f.dt.ItemSize()
	prev := uint64(0)
	for off := 0; off+w <= len(buf.Data); off += w {
		cur := f.dt.Uint(buf.Data[off:])
		f.dt.PutUint(buf.Data[off:], cur-prev)
		prev = cur
	}
	return nil
}

func (f *deltaFilter) DecodeArray(buf *Buffer) error {
	w := f.dt.ItemSize()
	acc := uint64(0)
	for off := 0; off+w <= len(buf.Data); off += w {
		acc += f.dt.Uint(buf.Data[off:])
		f.dt.PutUint(buf.Data[off:], acc)
	}
	return nil
}

func init() {
	Register("delta", newDeltaFilter)
}
