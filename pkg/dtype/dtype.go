// Package dtype describes array element types using NumPy-style type
// strings such as "<f8" (little-endian float64) or "|u1" (unsigned byte).
//
// A type string has three parts: a byte-order rune ('<' little, '>' big,
// '|' not applicable), a kind rune, and a size in bytes. The in-memory
// representation of chunk buffers is always native-endian; the declared
// byte order only matters to the array-to-bytes codec when chunks are
// serialized for storage.
package dtype

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind classifies the element type.
type Kind byte

const (
	Bool    Kind = 'b'
	Int     Kind = 'i'
	Uint    Kind = 'u'
	Float   Kind = 'f'
	Complex Kind = 'c'
)

// Byte-order runes as they appear in type strings.
const (
	LittleEndian  = '<'
	BigEndian     = '>'
	NotApplicable = '|'
)

// DType is a parsed element type descriptor.
type DType struct {
	Kind  Kind
	Size  int  // bytes per element
	Order rune // '<', '>', or '|'
}

// validSizes maps each kind to its supported element widths.
var validSizes = map[Kind][]int{
	Bool:    {1},
	Int:     {1, 2, 4, 8},
	Uint:    {1, 2, 4, 8},
	Float:   {4, 8},
	Complex: {8, 16},
}

// Parse parses a NumPy-style type string.
func Parse(s string) (DType, error) {
	if len(s) < 3 {
		return DType{}, fmt.Errorf("dtype %q: too short", s)
	}

	order := rune(s[0])
	switch order {
	case LittleEndian, BigEndian, NotApplicable:
	default:
		return DType{}, fmt.Errorf("dtype %q: unknown byte order %q", s, string(order))
	}

	kind := Kind(s[1])
	sizes, ok := validSizes[kind]
	if !ok {
		return DType{}, fmt.Errorf("dtype %q: unsupported kind %q", s, string(rune(kind)))
	}

	size, err := strconv.Atoi(s[2:])
	if err != nil {
		return DType{}, fmt.Errorf("dtype %q: invalid size: %w", s, err)
	}

	valid := false
	for _, n := range sizes {
		if n == size {
			valid = true
			break
		}
	}
	if !valid {
		return DType{}, fmt.Errorf("dtype %q: size %d not supported for kind %q", s, size, string(rune(kind)))
	}

	if size == 1 && order != NotApplicable {
		// Single-byte types are conventionally written "|b1", "|i1", "|u1";
		// accept explicit orders but normalize them away.
		order = NotApplicable
	}
	if size > 1 && order == NotApplicable {
		return DType{}, fmt.Errorf("dtype %q: multi-byte type needs an explicit byte order", s)
	}

	return DType{Kind: kind, Size: size, Order: order}, nil
}

// MustParse is Parse for known-good literals in tests and defaults.
func MustParse(s string) DType {
	dt, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return dt
}

// String renders the canonical type string.
func (d DType) String() string {
	return fmt.Sprintf("%c%c%d", d.Order, d.Kind, d.Size)
}

// ItemSize returns the element width in bytes.
func (d DType) ItemSize() int { return d.Size }

// IsZero reports whether d is the zero descriptor.
func (d DType) IsZero() bool { return d.Kind == 0 }

// ByteOrder returns the binary.ByteOrder declared by the type string.
// Single-byte types default to little-endian.
func (d DType) ByteOrder() binary.ByteOrder {
	if d.Order == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// WordSize returns the width of the native words the element is made of:
// the element width itself, except complex elements which are two floats.
func (d DType) WordSize() int {
	if d.Kind == Complex {
		return d.Size / 2
	}
	return d.Size
}

// Uint reads one native-endian word of the element width from b.
// Not meaningful for complex kinds.
func (d DType) Uint(b []byte) uint64 {
	switch d.Size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.NativeEndian.Uint16(b))
	case 4:
		return uint64(binary.NativeEndian.Uint32(b))
	default:
		return binary.NativeEndian.Uint64(b)
	}
}

// PutUint writes one native-endian word of the element width into b.
func (d DType) PutUint(b []byte, u uint64) {
	switch d.Size {
	case 1:
		b[0] = byte(u)
	case 2:
		binary.NativeEndian.PutUint16(b, uint16(u))
	case 4:
		binary.NativeEndian.PutUint32(b, uint32(u))
	default:
		binary.NativeEndian.PutUint64(b, u)
	}
}

// EncodeFill converts a JSON-decoded fill value into one native-endian
// element. Accepted forms:
//
//   - nil (zero element)
//   - bool for b1
//   - json.Number or float64 for numeric kinds
//   - "NaN", "Infinity", "-Infinity" for float kinds
//   - "0x…" hex strings carrying an exact bit pattern of the element width
//   - [re, im] two-element arrays for complex kinds
func (d DType) EncodeFill(v any) ([]byte, error) {
	out := make([]byte, d.Size)
	if v == nil {
		return out, nil
	}

	switch d.Kind {
	case Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("fill value %v is not a bool", v)
		}
		if b {
			out[0] = 1
		}
		return out, nil

	case Int:
		n, err := fillInt(v, d)
		if err != nil {
			return nil, err
		}
		d.PutUint(out, uint64(n))
		return out, nil

	case Uint:
		n, err := fillUint(v, d)
		if err != nil {
			return nil, err
		}
		d.PutUint(out, n)
		return out, nil

	case Float:
		f, pattern, err := fillFloat(v, d)
		if err != nil {
			return nil, err
		}
		if pattern != nil {
			d.PutUint(out, *pattern)
			return out, nil
		}
		putFloat(out, f, d.Size)
		return out, nil

	case Complex:
		parts, ok := v.([]any)
		if !ok || len(parts) != 2 {
			return nil, fmt.Errorf("complex fill value must be a [real, imaginary] pair, got %v", v)
		}
		half := DType{Kind: Float, Size: d.Size / 2, Order: d.Order}
		for i, p := range parts {
			f, pattern, err := fillFloat(p, half)
			if err != nil {
				return nil, err
			}
			seg := out[i*half.Size : (i+1)*half.Size]
			if pattern != nil {
				half.PutUint(seg, *pattern)
			} else {
				putFloat(seg, f, half.Size)
			}
		}
		return out, nil
	}

	return nil, fmt.Errorf("fill value not supported for dtype %s", d)
}

func putFloat(b []byte, f float64, size int) {
	if size == 4 {
		binary.NativeEndian.PutUint32(b, math.Float32bits(float32(f)))
	} else {
		binary.NativeEndian.PutUint64(b, math.Float64bits(f))
	}
}

// hexPattern parses a "0x…" string into a word of the dtype's width.
func hexPattern(s string, d DType) (uint64, bool, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return 0, false, nil
	}
	u, err := strconv.ParseUint(s[2:], 16, d.WordSize()*8)
	if err != nil {
		return 0, false, fmt.Errorf("fill bit pattern %q does not fit %s: %w", s, d, err)
	}
	return u, true, nil
}

func fillInt(v any, d DType) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("fill value %v is not an integer: %w", v, err)
		}
		return i, checkIntRange(i, d)
	case float64:
		i := int64(n)
		if float64(i) != n {
			return 0, fmt.Errorf("fill value %v is not an integer", v)
		}
		return i, checkIntRange(i, d)
	case string:
		u, ok, err := hexPattern(n, d)
		if err != nil {
			return 0, err
		}
		if ok {
			return int64(u), nil
		}
	}
	return 0, fmt.Errorf("fill value %v is not valid for dtype %s", v, d)
}

func checkIntRange(i int64, d DType) error {
	bits := uint(d.Size * 8)
	min := int64(-1) << (bits - 1)
	max := int64(1)<<(bits-1) - 1
	if i < min || i > max {
		return fmt.Errorf("fill value %d out of range for dtype %s", i, d)
	}
	return nil
}

func fillUint(v any, d DType) (uint64, error) {
	switch n := v.(type) {
	case json.Number:
		u, err := strconv.ParseUint(n.String(), 10, d.Size*8)
		if err != nil {
			return 0, fmt.Errorf("fill value %v is not valid for dtype %s: %w", v, d, err)
		}
		return u, nil
	case float64:
		u := uint64(n)
		if float64(u) != n || n < 0 {
			return 0, fmt.Errorf("fill value %v is not an unsigned integer", v)
		}
		if d.Size < 8 && u >= uint64(1)<<(d.Size*8) {
			return 0, fmt.Errorf("fill value %d out of range for dtype %s", u, d)
		}
		return u, nil
	case string:
		u, ok, err := hexPattern(n, d)
		if err != nil {
			return 0, err
		}
		if ok {
			return u, nil
		}
	}
	return 0, fmt.Errorf("fill value %v is not valid for dtype %s", v, d)
}

// fillFloat returns either a float value or an exact bit pattern.
func fillFloat(v any, d DType) (float64, *uint64, error) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, nil, fmt.Errorf("fill value %v is not a number: %w", v, err)
		}
		return f, nil, nil
	case float64:
		return n, nil, nil
	case string:
		switch n {
		case "NaN":
			return math.NaN(), nil, nil
		case "Infinity":
			return math.Inf(1), nil, nil
		case "-Infinity":
			return math.Inf(-1), nil, nil
		}
		u, ok, err := hexPattern(n, d)
		if err != nil {
			return 0, nil, err
		}
		if ok {
			return 0, &u, nil
		}
	}
	return 0, nil, fmt.Errorf("fill value %v is not valid for dtype %s", v, d)
}
