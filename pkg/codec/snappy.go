package codec

import (
	"github.com/klauspost/compress/snappy"

	"github.com/marmos91/gridstore/pkg/dtype"
)

// snappyFilter compresses with the snappy block format. No tunables.
type snappyFilter struct{}

func newSnappyFilter(cfg map[string]any, _ dtype.DType, _ []int64) (any, error) {
	var c struct{}
	if err := decodeConfig("snappy", cfg, &c); err != nil {
		return nil, err
	}
	return snappyFilter{}, nil
}

func (snappyFilter) Name() string { return "snappy" }

func (snappyFilter) Encode(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyFilter) Decode(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

func init() {
	Register("snappy", newSnappyFilter)
}
