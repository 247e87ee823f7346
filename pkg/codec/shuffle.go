package codec

import (
	"fmt"

	"github.com/marmos91/gridstore/pkg/dtype"
)

// shuffleFilter transposes the byte matrix of the stream: all first bytes
// of every element, then all second bytes, and so on. Grouping the bytes
// of equal significance makes the stream far more compressible for slowly
// varying numeric data, so shuffle is normally followed by a compressor.
type shuffleFilter struct {
	elementSize int
}

type shuffleConfig struct {
	ElementSize int `mapstructure:"elementsize"`
}

func newShuffleFilter(cfg map[string]any, dt dtype.DType, _ []int64) (any, error) {
	var c shuffleConfig
	if err := decodeConfig("shuffle", cfg, &c); err != nil {
		return nil, err
	}
	if c.ElementSize == 0 {
		c.ElementSize = dt.ItemSize()
	}
	if c.ElementSize < 1 {
		return nil, fmt.Errorf("codec: shuffle: elementsize %d must be positive", c.ElementSize)
	}
	return &shuffleFilter{elementSize: c.ElementSize}, nil
}

func (f *shuffleFilter) Name() string { return "shuffle" }

func (f *shuffleFilter) Encode(data []byte) ([]byte, error) {
	es := f.elementSize
	if es == 1 || len(data) == 0 {
		return data, nil
	}
	if len(data)%es != 0 {
		return nil, fmt.Errorf("data length %d is not a multiple of element size %d", len(data), es)
	}

	n := len(data) / es
	out := make([]byte, len(data))
	for i := 0; i < n; i++ {
		for j := 0; j < es; j++ {
			out[j*n+i] = data[i*es+j]
		}
	}
	return out, nil
}

func (f *shuffleFilter) Decode(data []byte) ([]byte, error) {
	es := f.elementSize
	if es == 1 || len(data) == 0 {
		return data, nil
	}
	if len(data)%es != 0 {
		return nil, fmt.Errorf("data length %d is not a multiple of element size %d", len(data), es)
	}

	n := len(data) / es
	out := make([]byte, len(data))
	for i := 0; i < n; i++ {
		for j := 0; j < es; j++ {
			out[i*es+j] = data[j*n+i]
		}
	}
	return out, nil
}

func init() {
	Register("shuffle", newShuffleFilter)
}
