package dtype

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in    string
		kind  Kind
		size  int
		order rune
	}{
		{"<f8", Float, 8, '<'},
		{">f4", Float, 4, '>'},
		{"<i2", Int, 2, '<'},
		{">i8", Int, 8, '>'},
		{"|u1", Uint, 1, '|'},
		{"<u4", Uint, 4, '<'},
		{"|b1", Bool, 1, '|'},
		{"<c16", Complex, 16, '<'},
		{">c8", Complex, 8, '>'},
		{"<i1", Int, 1, '|'}, // explicit order normalized away for 1-byte types
	}

	for _, tt := range tests {
		dt, err := Parse(tt.in)
		if err != nil {
			t.Errorf("Parse(%q): %v", tt.in, err)
			continue
		}
		if dt.Kind != tt.kind || dt.Size != tt.size || dt.Order != tt.order {
			t.Errorf("Parse(%q) = %+v, want kind=%c size=%d order=%c", tt.in, dt, tt.kind, tt.size, tt.order)
		}
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{"", "f8", "<x4", "<f3", "<f16", "|f8", "<i0", "~f8", "<ffoo"} {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q): expected error", in)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, s := range []string{"<f8", ">i4", "|u1", "<c16", "|b1"} {
		dt := MustParse(s)
		if dt.String() != s {
			t.Errorf("MustParse(%q).String() = %q", s, dt.String())
		}
	}
}

func TestEncodeFillNumeric(t *testing.T) {
	tests := []struct {
		dt   string
		fill any
		want []byte
	}{
		{"|u1", float64(255), []byte{0xff}},
		{"<i2", float64(-1), []byte{0xff, 0xff}},
		{"|b1", true, []byte{1}},
		{"|b1", false, []byte{0}},
		{"<u8", json.Number("18446744073709551615"), []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
	}

	for _, tt := range tests {
		dt := MustParse(tt.dt)
		got, err := dt.EncodeFill(tt.fill)
		if err != nil {
			t.Errorf("EncodeFill(%s, %v): %v", tt.dt, tt.fill, err)
			continue
		}
		// Tests run on little-endian hosts; compare via word read so the
		// assertion is endian-neutral.
		if dt.Size <= 8 && dt.Uint(got) != dt.Uint(tt.want) {
			t.Errorf("EncodeFill(%s, %v) = %x, want %x", tt.dt, tt.fill, got, tt.want)
		}
	}
}

func TestEncodeFillNaN(t *testing.T) {
	dt := MustParse("<f8")

	got, err := dt.EncodeFill("NaN")
	if err != nil {
		t.Fatalf("EncodeFill NaN: %v", err)
	}
	f := math.Float64frombits(binary.NativeEndian.Uint64(got))
	if !math.IsNaN(f) {
		t.Errorf("expected NaN, got %v", f)
	}

	got, err = dt.EncodeFill("-Infinity")
	if err != nil {
		t.Fatalf("EncodeFill -Infinity: %v", err)
	}
	f = math.Float64frombits(binary.NativeEndian.Uint64(got))
	if !math.IsInf(f, -1) {
		t.Errorf("expected -Inf, got %v", f)
	}
}

func TestEncodeFillBitPattern(t *testing.T) {
	dt := MustParse("<f8")

	// A NaN with a non-default payload must round-trip exactly.
	const pattern = uint64(0x7ff80000cafebabe)
	got, err := dt.EncodeFill("0x7ff80000cafebabe")
	if err != nil {
		t.Fatalf("EncodeFill: %v", err)
	}
	if bits := binary.NativeEndian.Uint64(got); bits != pattern {
		t.Errorf("bit pattern = %#x, want %#x", bits, pattern)
	}

	// Pattern wider than the dtype is rejected.
	f4 := MustParse("<f4")
	if _, err := f4.EncodeFill("0x7ff80000cafebabe"); err == nil {
		t.Error("expected error for oversized bit pattern")
	}
}

func TestEncodeFillComplex(t *testing.T) {
	dt := MustParse("<c16")
	got, err := dt.EncodeFill([]any{json.Number("1.5"), json.Number("-2.5")})
	if err != nil {
		t.Fatalf("EncodeFill complex: %v", err)
	}
	re := math.Float64frombits(binary.NativeEndian.Uint64(got[:8]))
	im := math.Float64frombits(binary.NativeEndian.Uint64(got[8:]))
	if re != 1.5 || im != -2.5 {
		t.Errorf("complex fill = (%v, %v), want (1.5, -2.5)", re, im)
	}
}

func TestEncodeFillNil(t *testing.T) {
	for _, s := range []string{"<f8", "|u1", "<c16", "|b1"} {
		dt := MustParse(s)
		got, err := dt.EncodeFill(nil)
		if err != nil {
			t.Fatalf("EncodeFill(%s, nil): %v", s, err)
		}
		for _, b := range got {
			if b != 0 {
				t.Errorf("EncodeFill(%s, nil) = %x, want zeros", s, got)
				break
			}
		}
	}
}

func TestEncodeFillRange(t *testing.T) {
	dt := MustParse("|u1")
	if _, err := dt.EncodeFill(float64(256)); err == nil {
		t.Error("expected range error for 256 in u1")
	}
	i1 := MustParse("<i1")
	if _, err := i1.EncodeFill(float64(128)); err == nil {
		t.Error("expected range error for 128 in i1")
	}
	if _, err := i1.EncodeFill(float64(-128)); err != nil {
		t.Errorf("-128 should fit i1: %v", err)
	}
}
