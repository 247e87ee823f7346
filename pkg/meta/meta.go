// Package meta defines the array metadata document: the JSON file stored
// at <prefix>/array.json that declares an array's shape, chunking, element
// type, fill value, and codec chain. The engine treats a validated
// Metadata as immutable configuration; every field that influences stored
// bytes is fixed at array creation time.
package meta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/gridstore/pkg/codec"
	"github.com/marmos91/gridstore/pkg/dtype"
	"github.com/marmos91/gridstore/pkg/grid"
)

// DocumentName is the file name of the metadata document under the array's
// key prefix.
const DocumentName = "array.json"

// Key returns the store key of the metadata document for an array prefix.
func Key(prefix string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return DocumentName
	}
	return prefix + "/" + DocumentName
}

// Metadata is the parsed metadata document.
//
// FillValue holds the JSON form of the fill value: a number, a bool, the
// strings "NaN", "Infinity", "-Infinity", a "0x…" bit-pattern string, a
// [real, imaginary] pair for complex types, or nil for a zero element.
// ShardShape, when present, counts chunks per shard along each dimension;
// its absence means every chunk is stored under its own key.
type Metadata struct {
	Format             int            `json:"format" validate:"required,eq=1"`
	Shape              []int64        `json:"shape" validate:"required,min=1,dive,gte=0"`
	Chunks             []int64        `json:"chunks" validate:"required,min=1,dive,gt=0"`
	DataType           string         `json:"dtype" validate:"required"`
	FillValue          any            `json:"fill_value"`
	Order              string         `json:"order" validate:"omitempty,oneof=C"`
	Codecs             []codec.Spec   `json:"codecs" validate:"omitempty,dive"`
	DimensionSeparator string         `json:"dimension_separator" validate:"omitempty,oneof=. /"`
	ShardShape         []int64        `json:"shard_shape,omitempty" validate:"omitempty,min=1,dive,gt=0"`
	Attributes         map[string]any `json:"attributes,omitempty"`

	// Derived by Validate.
	dt   dtype.DType
	fill []byte
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parse decodes and validates a metadata document. Unknown fields and
// trailing data are rejected; numeric fill values keep their exact JSON
// literal so integer fills never round through float64.
func Parse(data []byte) (*Metadata, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()

	md := &Metadata{}
	if err := dec.Decode(md); err != nil {
		return nil, fmt.Errorf("meta: parse: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("meta: parse: trailing data after document")
	}

	md.ApplyDefaults()
	if err := md.Validate(); err != nil {
		return nil, err
	}
	return md, nil
}

// ApplyDefaults fills the optional fields of a document: format 1,
// row-major order, "." separator, and a bare "bytes" codec chain.
func (m *Metadata) ApplyDefaults() {
	if m.Format == 0 {
		m.Format = 1
	}
	if m.Order == "" {
		m.Order = "C"
	}
	if m.DimensionSeparator == "" {
		m.DimensionSeparator = "."
	}
	if len(m.Codecs) == 0 {
		m.Codecs = []codec.Spec{{Name: "bytes"}}
	}
}

// Validate checks the document against its field tags and the cross-field
// rules: shape and chunk ranks match with chunks inside array extents, the
// dtype parses, the fill value encodes as one element of that dtype, the
// codec chain resolves with exactly one array-to-bytes stage, and a shard
// shape (when present) matches the array rank. Expects ApplyDefaults to
// have run. On success the parsed dtype and encoded fill element are
// cached for DType and FillBytes.
func (m *Metadata) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("meta: %w", err)
	}

	if _, err := grid.New(m.Shape, m.Chunks); err != nil {
		return fmt.Errorf("meta: %w", err)
	}

	dt, err := dtype.Parse(m.DataType)
	if err != nil {
		return fmt.Errorf("meta: %w", err)
	}

	fill, err := dt.EncodeFill(m.FillValue)
	if err != nil {
		return fmt.Errorf("meta: fill value: %w", err)
	}

	if len(m.ShardShape) > 0 && len(m.ShardShape) != len(m.Shape) {
		return fmt.Errorf("meta: shard_shape rank %d does not match shape rank %d", len(m.ShardShape), len(m.Shape))
	}

	// Resolving the chain here rejects unknown codec names and malformed
	// stage configurations at open time instead of on the first encode.
	if _, err := codec.NewPipeline(m.Codecs, dt, m.Chunks); err != nil {
		return fmt.Errorf("meta: %w", err)
	}

	m.dt = dt
	m.fill = fill
	return nil
}

// DType returns the parsed element type. Valid after Validate.
func (m *Metadata) DType() dtype.DType { return m.dt }

// FillBytes returns one encoded fill element in native byte order. Valid
// after Validate.
func (m *Metadata) FillBytes() []byte { return slices.Clone(m.fill) }

// Separator returns the dimension separator, defaulting to ".".
func (m *Metadata) Separator() string {
	if m.DimensionSeparator == "" {
		return "."
	}
	return m.DimensionSeparator
}

// Sharded reports whether chunks are grouped into shard objects.
func (m *Metadata) Sharded() bool { return len(m.ShardShape) > 0 }

// Rank returns the number of array dimensions.
func (m *Metadata) Rank() int { return len(m.Shape) }

// Grid builds the chunk grid the document declares.
func (m *Metadata) Grid() (*grid.Grid, error) {
	return grid.New(m.Shape, m.Chunks)
}

// Pipeline builds the codec pipeline the document declares. Expects
// ApplyDefaults and Validate to have run.
func (m *Metadata) Pipeline() (*codec.Pipeline, error) {
	return codec.NewPipeline(m.Codecs, m.dt, m.Chunks)
}

// Encode renders the canonical document: defaults applied, non-finite
// float fills normalized to their string forms, two-space indentation,
// trailing newline. The receiver is not modified.
func (m *Metadata) Encode() ([]byte, error) {
	out := *m
	out.ApplyDefaults()
	out.FillValue = normalizeFill(m.FillValue)

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("meta: encode: %w", err)
	}
	return append(data, '\n'), nil
}

// normalizeFill rewrites non-finite floats into the string forms JSON can
// carry. Complex pairs are normalized per part.
func normalizeFill(v any) any {
	switch f := v.(type) {
	case float64:
		switch {
		case math.IsNaN(f):
			return "NaN"
		case math.IsInf(f, 1):
			return "Infinity"
		case math.IsInf(f, -1):
			return "-Infinity"
		}
	case []any:
		parts := make([]any, len(f))
		for i, p := range f {
			parts[i] = normalizeFill(p)
		}
		return parts
	}
	return v
}
