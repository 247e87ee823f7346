// Package codec implements the reversible transform pipeline applied to
// chunk payloads. A pipeline is an ordered chain of stages: zero or more
// array filters (typed-element transforms), exactly one array-to-bytes
// codec (serialization to a flat byte layout), and zero or more byte
// filters (compressors and integrity codecs). Stages are resolved by name
// through a process-wide registry and configured at construction; encode
// and decode never consult ambient state.
package codec

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/gridstore/pkg/dtype"
	"github.com/marmos91/gridstore/pkg/grid"
)

// Spec names one pipeline stage and its configuration, as it appears in
// the array metadata document.
type Spec struct {
	Name   string         `json:"name" validate:"required"`
	Config map[string]any `json:"configuration,omitempty"`
}

// Buffer is the decoded representation of one chunk: a data type, a shape,
// and a flat C-order byte slice holding the elements in native byte order.
type Buffer struct {
	DType dtype.DType
	Shape []int64
	Data  []byte
}

// NewBuffer allocates a zeroed buffer for the given dtype and shape.
func NewBuffer(dt dtype.DType, shape []int64) *Buffer {
	return &Buffer{
		DType: dt,
		Shape: slices.Clone(shape),
		Data:  make([]byte, grid.NumElements(shape)*int64(dt.ItemSize())),
	}
}

// NumElements returns the number of elements the buffer's shape implies.
func (b *Buffer) NumElements() int64 {
	return grid.NumElements(b.Shape)
}

// Clone returns a deep copy of the buffer.
func (b *Buffer) Clone() *Buffer {
	return &Buffer{
		DType: b.DType,
		Shape: slices.Clone(b.Shape),
		Data:  slices.Clone(b.Data),
	}
}

// check validates that the data length matches the shape and dtype.
func (b *Buffer) check() error {
	want := b.NumElements() * int64(b.DType.ItemSize())
	if int64(len(b.Data)) != want {
		return fmt.Errorf("codec: buffer holds %d bytes, shape %v of %s needs %d",
			len(b.Data), b.Shape, b.DType, want)
	}
	return nil
}

// ArrayFilter transforms typed elements in place. Encode and decode are
// exact inverses and preserve dtype and shape.
type ArrayFilter interface {
	Name() string
	EncodeArray(buf *Buffer) error
	DecodeArray(buf *Buffer) error
}

// ArrayBytesCodec serializes a typed buffer to its stored byte layout and
// back. Exactly one per pipeline.
type ArrayBytesCodec interface {
	Name() string
	EncodeBytes(buf *Buffer) ([]byte, error)
	DecodeBytes(data []byte, dt dtype.DType, shape []int64) (*Buffer, error)
}

// BytesFilter transforms an opaque byte stream. Encode and decode are
// exact inverses.
type BytesFilter interface {
	Name() string
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

// Constructor builds one configured stage. The dtype and chunk shape of
// the owning array are available so stages can validate applicability and
// derive defaults. The returned stage must be one of ArrayFilter,
// ArrayBytesCodec, or BytesFilter.
type Constructor func(cfg map[string]any, dt dtype.DType, chunkShape []int64) (any, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// Register installs a stage constructor under a name. Registration happens
// at init time; duplicate names panic.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("codec: duplicate registration of %q", name))
	}
	registry[name] = ctor
}

// Registered returns the sorted names of all registered stages.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookup(name string) (Constructor, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
	return ctor, nil
}

// decodeConfig maps a stage's raw configuration onto its typed config
// struct. Unknown keys are configuration errors.
func decodeConfig(name string, cfg map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: true,
	})
	if err != nil {
		return fmt.Errorf("codec: %s: %w", name, err)
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("codec: %s: invalid configuration: %w", name, err)
	}
	return nil
}
