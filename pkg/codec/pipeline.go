package codec

import (
	"fmt"
	"slices"

	"github.com/marmos91/gridstore/pkg/dtype"
)

// Pipeline is a configured stage chain for one array. Encode applies array
// filters in order, then the array-to-bytes codec, then byte filters in
// order; Decode unwinds the same chain in reverse. A pipeline holds no
// per-chunk state and is safe for concurrent use on independent chunks.
type Pipeline struct {
	dt         dtype.DType
	chunkShape []int64

	filters      []ArrayFilter
	arrayBytes   ArrayBytesCodec
	bytesFilters []BytesFilter
}

// NewPipeline resolves and configures every stage. Specs must contain
// exactly one array-to-bytes codec, with array filters before it and byte
// filters after it. Unknown names and malformed configurations fail here,
// never at encode time.
func NewPipeline(specs []Spec, dt dtype.DType, chunkShape []int64) (*Pipeline, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("codec: empty pipeline, need an array-to-bytes codec such as %q", "bytes")
	}

	p := &Pipeline{
		dt:         dt,
		chunkShape: slices.Clone(chunkShape),
	}

	for _, spec := range specs {
		ctor, err := lookup(spec.Name)
		if err != nil {
			return nil, err
		}
		stage, err := ctor(spec.Config, dt, chunkShape)
		if err != nil {
			return nil, err
		}

		switch s := stage.(type) {
		case ArrayFilter:
			if p.arrayBytes != nil {
				return nil, fmt.Errorf("codec: array filter %q after array-to-bytes codec %q", spec.Name, p.arrayBytes.Name())
			}
			p.filters = append(p.filters, s)
		case ArrayBytesCodec:
			if p.arrayBytes != nil {
				return nil, fmt.Errorf("codec: second array-to-bytes codec %q, already have %q", spec.Name, p.arrayBytes.Name())
			}
			p.arrayBytes = s
		case BytesFilter:
			if p.arrayBytes == nil {
				return nil, fmt.Errorf("codec: byte filter %q before the array-to-bytes codec", spec.Name)
			}
			p.bytesFilters = append(p.bytesFilters, s)
		default:
			return nil, fmt.Errorf("codec: %q constructor returned unsupported stage type %T", spec.Name, stage)
		}
	}

	if p.arrayBytes == nil {
		return nil, fmt.Errorf("codec: pipeline has no array-to-bytes codec")
	}
	return p, nil
}

// DType returns the element type the pipeline was built for.
func (p *Pipeline) DType() dtype.DType { return p.dt }

// ChunkShape returns the chunk shape the pipeline was built for.
func (p *Pipeline) ChunkShape() []int64 { return slices.Clone(p.chunkShape) }

// Encode transforms a decoded chunk buffer into its stored byte form. The
// input buffer is not modified.
func (p *Pipeline) Encode(buf *Buffer) ([]byte, error) {
	if err := buf.check(); err != nil {
		return nil, err
	}

	work := buf
	if len(p.filters) > 0 {
		// Array filters mutate in place; keep the caller's buffer intact.
		work = buf.Clone()
		for _, f := range p.filters {
			if err := f.EncodeArray(work); err != nil {
				return nil, fmt.Errorf("codec: %s: encode: %w", f.Name(), err)
			}
		}
	}

	data, err := p.arrayBytes.EncodeBytes(work)
	if err != nil {
		return nil, fmt.Errorf("codec: %s: encode: %w", p.arrayBytes.Name(), err)
	}

	for _, f := range p.bytesFilters {
		if data, err = f.Encode(data); err != nil {
			return nil, fmt.Errorf("codec: %s: encode: %w", f.Name(), err)
		}
	}
	return data, nil
}

// Decode unwinds stored bytes back to a chunk buffer shaped exactly as the
// pipeline's chunk shape. Inconsistent input surfaces as a *DecodeError;
// a decoded buffer of the wrong shape as a *ShapeMismatchError.
func (p *Pipeline) Decode(data []byte) (*Buffer, error) {
	var err error
	for i := len(p.bytesFilters) - 1; i >= 0; i-- {
		f := p.bytesFilters[i]
		if data, err = f.Decode(data); err != nil {
			return nil, &DecodeError{Codec: f.Name(), Err: err}
		}
	}

	buf, err := p.arrayBytes.DecodeBytes(data, p.dt, p.chunkShape)
	if err != nil {
		return nil, &DecodeError{Codec: p.arrayBytes.Name(), Err: err}
	}

	for i := len(p.filters) - 1; i >= 0; i-- {
		f := p.filters[i]
		if err := f.DecodeArray(buf); err != nil {
			return nil, &DecodeError{Codec: f.Name(), Err: err}
		}
	}

	if !slices.Equal(buf.Shape, p.chunkShape) {
		return nil, &ShapeMismatchError{Want: slices.Clone(p.chunkShape), Got: slices.Clone(buf.Shape)}
	}
	if err := buf.check(); err != nil {
		return nil, &DecodeError{Codec: p.arrayBytes.Name(), Err: err}
	}
	return buf, nil
}
