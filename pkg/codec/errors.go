package codec

import "fmt"

// DecodeError reports stored bytes that cannot be unwound by a stage:
// truncation, corrupt streams, failed checksums, or a byte length that
// disagrees with the declared dtype and shape. A DecodeError is fatal to
// the chunk read; it is never masked by fill synthesis.
type DecodeError struct {
	Codec string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec: %s: decode: %v", e.Codec, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ShapeMismatchError reports a decoded buffer whose shape disagrees with
// the shape the grid expects for the chunk.
type ShapeMismatchError struct {
	Want []int64
	Got  []int64
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("codec: decoded shape %v does not match expected chunk shape %v", e.Got, e.Want)
}
