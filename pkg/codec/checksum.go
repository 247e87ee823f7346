package codec

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/cespare/xxhash/v2"

	"github.com/marmos91/gridstore/pkg/dtype"
)

// Integrity codecs append a fixed-width digest of the payload. Decode
// verifies and strips it; a mismatch is a decode error for the chunk, so
// corruption surfaces instead of being decompressed into garbage.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

type crc32cFilter struct{}

func newCRC32CFilter(cfg map[string]any, _ dtype.DType, _ []int64) (any, error) {
	var c struct{}
	if err := decodeConfig("crc32c", cfg, &c); err != nil {
		return nil, err
	}
	return crc32cFilter{}, nil
}

func (crc32cFilter) Name() string { return "crc32c" }

func (crc32cFilter) Encode(data []byte) ([]byte, error) {
	out := make([]byte, len(data)+4)
	copy(out, data)
	binary.LittleEndian.PutUint32(out[len(data):], crc32.Checksum(data, castagnoli))
	return out, nil
}

func (crc32cFilter) Decode(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("payload of %d bytes is shorter than the crc32c digest", len(data))
	}
	payload, tail := data[:len(data)-4], data[len(data)-4:]
	want := binary.LittleEndian.Uint32(tail)
	if got := crc32.Checksum(payload, castagnoli); got != want {
		return nil, fmt.Errorf("crc32c mismatch: computed %08x, stored %08x", got, want)
	}
	return payload, nil
}

type xxhashFilter struct{}

func newXXHashFilter(cfg map[string]any, _ dtype.DType, _ []int64) (any, error) {
	var c struct{}
	if err := decodeConfig("xxhash", cfg, &c); err != nil {
		return nil, err
	}
	return xxhashFilter{}, nil
}

func (xxhashFilter) Name() string { return "xxhash" }

func (xxhashFilter) Encode(data []byte) ([]byte, error) {
	out := make([]byte, len(data)+8)
	copy(out, data)
	binary.LittleEndian.PutUint64(out[len(data):], xxhash.Sum64(data))
	return out, nil
}

func (xxhashFilter) Decode(data []byte) ([]byte, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("payload of %d bytes is shorter than the xxhash digest", len(data))
	}
	payload, tail := data[:len(data)-8], data[len(data)-8:]
	want := binary.LittleEndian.Uint64(tail)
	if got := xxhash.Sum64(payload); got != want {
		return nil, fmt.Errorf("xxhash mismatch: computed %016x, stored %016x", got, want)
	}
	return payload, nil
}

func init() {
	Register("crc32c", newCRC32CFilter)
	Register("xxhash", newXXHashFilter)
}
