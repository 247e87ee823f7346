package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/marmos91/gridstore/pkg/dtype"
)

type gzipFilter struct {
	level int
}

type gzipConfig struct {
	Level *int `mapstructure:"level"`
}

func newGzipFilter(cfg map[string]any, _ dtype.DType, _ []int64) (any, error) {
	var c gzipConfig
	if err := decodeConfig("gzip", cfg, &c); err != nil {
		return nil, err
	}
	level := gzip.DefaultCompression
	if c.Level != nil {
		level = *c.Level
	}
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		return nil, fmt.Errorf("codec: gzip: level %d not in [%d, %d]", level, gzip.HuffmanOnly, gzip.BestCompression)
	}
	return &gzipFilter{level: level}, nil
}

func (f *gzipFilter) Name() string { return "gzip" }

func (f *gzipFilter) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, f.level)
	if err != nil {
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

func (f *gzipFilter) Decode(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	out, err := io.ReadAll(r)
	if err != nil {
		r.Close()
		return nil, err
	}
	if err := r.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func init() {
	Register("gzip", newGzipFilter)
}
