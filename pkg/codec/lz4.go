package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/marmos91/gridstore/pkg/dtype"
)

// lz4Filter compresses with the LZ4 frame format, which carries its own
// length and integrity information.
type lz4Filter struct {
	level lz4.CompressionLevel
}

type lz4Config struct {
	Level int `mapstructure:"level"`
}

var lz4Levels = map[int]lz4.CompressionLevel{
	0: lz4.Fast,
	1: lz4.Level1,
	2: lz4.Level2,
	3: lz4.Level3,
	4: lz4.Level4,
	5: lz4.Level5,
	6: lz4.Level6,
	7: lz4.Level7,
	8: lz4.Level8,
	9: lz4.Level9,
}

func newLZ4Filter(cfg map[string]any, _ dtype.DType, _ []int64) (any, error) {
	var c lz4Config
	if err := decodeConfig("lz4", cfg, &c); err != nil {
		return nil, err
	}
	level, ok := lz4Levels[c.Level]
	if !ok {
		return nil, fmt.Errorf("codec: lz4: level %d not in [0, 9]", c.Level)
	}
	return &lz4Filter{level: level}, nil
}

func (f *lz4Filter) Name() string { return "lz4" }

func (f *lz4Filter) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(f.level)); err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f *lz4Filter) Decode(data []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
}

func init() {
	Register("lz4", newLZ4Filter)
}
