package codec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/marmos91/gridstore/pkg/dtype"
)

// zstdFilter compresses with zstandard. One encoder and one decoder are
// built at construction and reused; EncodeAll and DecodeAll are safe for
// concurrent use.
type zstdFilter struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

type zstdConfig struct {
	Level    int  `mapstructure:"level"`
	Checksum bool `mapstructure:"checksum"`
}

func newZstdFilter(cfg map[string]any, _ dtype.DType, _ []int64) (any, error) {
	c := zstdConfig{Level: 3}
	if err := decodeConfig("zstd", cfg, &c); err != nil {
		return nil, err
	}
	if c.Level < 1 || c.Level >= 23 {
		return nil, fmt.Errorf("codec: zstd: level %d not in [1, 22]", c.Level)
	}

	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(c.Level)),
		zstd.WithEncoderCRC(c.Checksum),
	)
	if err != nil {
		return nil, fmt.Errorf("codec: zstd: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, fmt.Errorf("codec: zstd: %w", err)
	}
	return &zstdFilter{enc: enc, dec: dec}, nil
}

func (f *zstdFilter) Name() string { return "zstd" }

func (f *zstdFilter) Encode(data []byte) ([]byte, error) {
	return f.enc.EncodeAll(data, nil), nil
}

func (f *zstdFilter) Decode(data []byte) ([]byte, error) {
	return f.dec.DecodeAll(data, nil)
}

func init() {
	Register("zstd", newZstdFilter)
}
