package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/marmos91/gridstore/pkg/dtype"
	"github.com/marmos91/gridstore/pkg/grid"
)

// bytesCodec is the array-to-bytes stage: it lays the typed elements out
// as a flat C-order byte slice in a declared byte order, swapping between
// that order and native memory order for multi-byte elements.
type bytesCodec struct {
	// word is the swap width in bytes. 0 means no swap is ever needed
	// (single-byte elements or stored order equals native order).
	word int
}

type bytesConfig struct {
	Endian string `mapstructure:"endian"`
}

func newBytesCodec(cfg map[string]any, dt dtype.DType, _ []int64) (any, error) {
	var c bytesConfig
	if err := decodeConfig("bytes", cfg, &c); err != nil {
		return nil, err
	}

	var storedLittle bool
	switch c.Endian {
	case "little":
		storedLittle = true
	case "big":
		storedLittle = false
	case "":
		// Default to the dtype's declared order.
		storedLittle = dt.Order != dtype.BigEndian
	default:
		return nil, fmt.Errorf("codec: bytes: endian must be %q or %q, got %q", "little", "big", c.Endian)
	}

	word := dt.WordSize()
	if word == 1 || storedLittle == nativeIsLittle() {
		word = 0
	}
	return &bytesCodec{word: word}, nil
}

// nativeIsLittle reports the host memory byte order.
func nativeIsLittle() bool {
	var probe [2]byte
	binary.NativeEndian.PutUint16(probe[:], 1)
	return probe[0] == 1
}

func (c *bytesCodec) Name() string { return "bytes" }

func (c *bytesCodec) EncodeBytes(buf *Buffer) ([]byte, error) {
	out := make([]byte, len(buf.Data))
	copy(out, buf.Data)
	if c.word > 1 {
		byteSwap(out, c.word)
	}
	return out, nil
}

func (c *bytesCodec) DecodeBytes(data []byte, dt dtype.DType, shape []int64) (*Buffer, error) {
	want := grid.NumElements(shape) * int64(dt.ItemSize())
	if int64(len(data)) != want {
		return nil, fmt.Errorf("got %d bytes, shape %v of %s needs %d", len(data), shape, dt, want)
	}

	buf := NewBuffer(dt, shape)
	copy(buf.Data, data)
	if c.word > 1 {
		byteSwap(buf.Data, c.word)
	}
	return buf, nil
}

// byteSwap reverses each word-sized group in place.
func byteSwap(data []byte, word int) {
	for off := 0; off+word <= len(data); off += word {
		for i, j := off, off+word-1; i < j; i, j = i+1, j-1 {
			data[i], data[j] = data[j], data[i]
		}
	}
}

func init() {
	Register("bytes", newBytesCodec)
}
