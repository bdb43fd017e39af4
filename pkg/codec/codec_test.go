// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package codec

import (
	"errors"
	"math"
	"testing"
)

// ============================================================
// Integer Reads
// ============================================================

func TestUint_ByteOrder(t *testing.T) {
	buf := []byte{0x12, 0x34, 0x56, 0x78}

	tests := []struct {
		name     string
		width    int
		order    ByteOrder
		expected uint64
	}{
		{"u8", 1, BigEndian, 0x12},
		{"u16 BE", 2, BigEndian, 0x1234},
		{"u16 LE", 2, LittleEndian, 0x3412},
		{"u24 BE", 3, BigEndian, 0x123456},
		{"u32 LE", 4, LittleEndian, 0x78563412},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Uint(buf, 0, tt.width, tt.order)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if v != tt.expected {
				t.Errorf("expected 0x%X, got 0x%X", tt.expected, v)
			}
		})
	}
}

func TestInt_TwosComplement(t *testing.T) {
	v, err := Int([]byte{0xFF, 0xFE}, 0, 2, BigEndian)
	if err != nil {
		t.Fatal(err)
	}
	if v != -2 {
		t.Errorf("expected -2, got %d", v)
	}

	v, _ = Int([]byte{0x18, 0xFC, 0xFF, 0xFF}, 0, 4, LittleEndian)
	if v != -1000 {
		t.Errorf("expected -1000, got %d", v)
	}
}

func TestUint_OutOfBounds(t *testing.T) {
	_, err := Uint([]byte{0x01, 0x02}, 1, 2, BigEndian)
	if err == nil {
		t.Fatal("expected error for read past end of buffer")
	}
	if !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode, got %v", err)
	}
	var de *DecodeError
	if !errors.As(err, &de) || de.Len != 2 {
		t.Errorf("expected DecodeError with Len=2, got %#v", err)
	}
}

// ============================================================
// Sign Conventions
// ============================================================

func TestField_SignBitInAdjacentByte(t *testing.T) {
	// magnitude 1500 LE at 0, status byte at 3 with bit 7 = discharge
	buf := []byte{0xDC, 0x05, 0x00, 0x80}
	f := Field{Name: "current", Offset: 0, Width: 2, Order: LittleEndian,
		Sign: SignBit, SignOffset: 3, SignMask: 0x80, Scales: []Scale{Milli}}

	v, err := f.Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(v+1.5) > 1e-9 {
		t.Errorf("expected -1.5, got %v", v)
	}

	buf[3] = 0x00
	v, _ = f.Decode(buf)
	if math.Abs(v-1.5) > 1e-9 {
		t.Errorf("expected 1.5 with flag clear, got %v", v)
	}
}

func TestField_SignBitInsideField(t *testing.T) {
	// bit 15 set, magnitude 0x0064 = 100 -> -10.0 A
	buf := []byte{0x80, 0x64}
	f := Field{Name: "current", Offset: 0, Width: 2, Order: BigEndian,
		Sign: SignBit, SignOffset: 0, SignMask: 0x80, MagnitudeMask: 0x3FFF, Scales: []Scale{Deci}}

	v, err := f.Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(v+10.0) > 1e-9 {
		t.Errorf("expected -10.0, got %v", v)
	}
}

func TestField_SignByte(t *testing.T) {
	buf := []byte{0x01, 0x03, 0xE8}
	f := Field{Name: "current", Offset: 1, Width: 2, Order: BigEndian,
		Sign: SignByte, SignOffset: 0, Scales: []Scale{Centi}}

	v, err := f.Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(v+10.0) > 1e-9 {
		t.Errorf("expected -10.0, got %v", v)
	}

	buf[0] = 0x00
	v, _ = f.Decode(buf)
	if math.Abs(v-10.0) > 1e-9 {
		t.Errorf("expected 10.0, got %v", v)
	}
}

func TestField_SignByteOutOfBounds(t *testing.T) {
	f := Field{Name: "current", Offset: 0, Width: 2, Sign: SignByte, SignOffset: 5}
	_, err := f.Decode([]byte{0x00, 0x01})
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if de.Field != "current" {
		t.Errorf("expected field name in error, got %q", de.Field)
	}
}

// ============================================================
// Scaling
// ============================================================

func TestField_MixedUnitScalesStayDistinct(t *testing.T) {
	// raw 740 x10 mAh then /1000 -> 7.4 Ah
	f := Field{Name: "capacity", Offset: 0, Width: 2, Order: LittleEndian,
		Scales: []Scale{Deca, Milli}}
	v, err := f.Decode([]byte{0xE4, 0x02})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(v-7.4) > 1e-9 {
		t.Errorf("expected 7.4, got %v", v)
	}
	if len(f.Scales) != 2 || f.Scales[0].Name != "x10" || f.Scales[1].Name != "milli" {
		t.Errorf("scales should remain separate steps: %+v", f.Scales)
	}
}

func TestField_Bias(t *testing.T) {
	// Daly current is offset by 30000 in deci-amps
	f := Field{Name: "current", Offset: 0, Width: 2, Order: BigEndian,
		Bias: -30000, Scales: []Scale{Deci}}
	v, err := f.Decode([]byte{0x75, 0x1C}) // 29980
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(v+2.0) > 1e-9 {
		t.Errorf("expected -2.0, got %v", v)
	}
}

// ============================================================
// Round Trip
// ============================================================

func TestField_EncodeDecodeRoundTrip(t *testing.T) {
	fields := []struct {
		field Field
		value float64
		size  int
	}{
		{Field{Name: "u16le", Offset: 0, Width: 2, Order: LittleEndian, Scales: []Scale{Centi}}, 13.00, 2},
		{Field{Name: "s32le", Offset: 0, Width: 4, Order: LittleEndian, Sign: TwosComplement, Scales: []Scale{Milli}}, -12.345, 4},
		{Field{Name: "s16be", Offset: 0, Width: 2, Order: BigEndian, Sign: TwosComplement, Scales: []Scale{Centi}}, -3.21, 2},
		{Field{Name: "signbit", Offset: 0, Width: 2, Order: LittleEndian, Sign: SignBit, SignOffset: 3, SignMask: 0x80, Scales: []Scale{Milli}}, -1.5, 4},
		{Field{Name: "signbit-inside", Offset: 0, Width: 2, Order: BigEndian, Sign: SignBit, SignOffset: 0, SignMask: 0x80, MagnitudeMask: 0x3FFF, Scales: []Scale{Deci}}, -42.7, 2},
		{Field{Name: "signbyte", Offset: 1, Width: 2, Order: BigEndian, Sign: SignByte, SignOffset: 0, Scales: []Scale{Centi}}, -99.99, 3},
		{Field{Name: "bias", Offset: 0, Width: 2, Order: BigEndian, Bias: -30000, Scales: []Scale{Deci}}, 12.3, 2},
		{Field{Name: "mixed", Offset: 0, Width: 2, Order: LittleEndian, Scales: []Scale{Deca, Milli}}, 7.4, 2},
	}

	for _, tt := range fields {
		t.Run(tt.field.Name, func(t *testing.T) {
			buf := make([]byte, tt.size)
			if err := tt.field.Encode(buf, tt.value); err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, err := tt.field.Decode(buf)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if math.Abs(got-tt.value) > 1e-6 {
				t.Errorf("round trip: expected %v, got %v (buf % X)", tt.value, got, buf)
			}
		})
	}
}

func TestField_EncodeNegativeUnsigned(t *testing.T) {
	f := Field{Name: "soc", Offset: 0, Width: 1}
	if err := f.Encode(make([]byte, 1), -1); err == nil {
		t.Error("expected error encoding negative value into unsigned field")
	}
}

func TestField_EncodeOverflow(t *testing.T) {
	tests := []struct {
		name  string
		field Field
		value float64
	}{
		{"u8", Field{Name: "soc", Width: 1}, 256},
		{"u16 scaled", Field{Name: "voltage", Width: 2, Scales: []Scale{Centi}}, 655.36},
		{"s8 high", Field{Name: "temp", Width: 1, Sign: TwosComplement}, 128},
		{"s8 low", Field{Name: "temp", Width: 1, Sign: TwosComplement}, -129},
		{"s16 masked", Field{Name: "flags", Width: 2, Sign: TwosComplement, MagnitudeMask: 0x0FFF}, -1},
		{"signbit masked", Field{Name: "current", Width: 2, Sign: SignBit, SignOffset: 0, SignMask: 0x80, MagnitudeMask: 0x3FFF}, -16384},
		{"signbyte", Field{Name: "temp", Offset: 1, Width: 1, Sign: SignByte, SignOffset: 0}, -256},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := []byte{0xA5, 0xA5, 0xA5}
			err := tt.field.Encode(buf, tt.value)
			if !errors.Is(err, ErrDecode) {
				t.Fatalf("expected ErrDecode, got %v", err)
			}
			if buf[0] != 0xA5 || buf[1] != 0xA5 || buf[2] != 0xA5 {
				t.Errorf("rejected value was written: % X", buf)
			}
		})
	}
}

func TestField_EncodeLimits(t *testing.T) {
	tests := []struct {
		field Field
		value float64
	}{
		{Field{Name: "u8", Width: 1}, 255},
		{Field{Name: "s8", Width: 1, Sign: TwosComplement}, -128},
		{Field{Name: "s8", Width: 1, Sign: TwosComplement}, 127},
		{Field{Name: "signbit", Width: 2, Sign: SignBit, SignOffset: 0, SignMask: 0x80, MagnitudeMask: 0x3FFF}, -16383},
	}

	for _, tt := range tests {
		buf := make([]byte, 2)
		if err := tt.field.Encode(buf, tt.value); err != nil {
			t.Fatalf("%s %v: %v", tt.field.Name, tt.value, err)
		}
		got, err := tt.field.Decode(buf)
		if err != nil || got != tt.value {
			t.Errorf("%s: expected %v, got %v (%v)", tt.field.Name, tt.value, got, err)
		}
	}
}

func TestField_TwosComplementMask(t *testing.T) {
	// the top nibble carries flags that are not part of the value
	f := Field{Name: "temp", Width: 2, Order: BigEndian, Sign: TwosComplement, MagnitudeMask: 0x0FFF}
	raw, err := f.Raw([]byte{0xF0, 0x05})
	if err != nil {
		t.Fatal(err)
	}
	if raw != 5 {
		t.Errorf("flag bits leaked into the value: %d", raw)
	}
}

// ============================================================
// ASCII Hex
// ============================================================

func TestHexField_LittleEndian(t *testing.T) {
	// "E8030000" is 1000 little-endian
	buf := []byte("^E8030000")
	f := Field{Name: "voltage", Offset: 0, Width: 4, Order: LittleEndian, Scales: []Scale{Milli}}
	v, err := HexField(buf, 1, f)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(v-1.0) > 1e-9 {
		t.Errorf("expected 1.0, got %v", v)
	}
}

func TestHexField_Invalid(t *testing.T) {
	_, err := HexField([]byte("^ZZ"), 1, Field{Name: "x", Width: 1})
	if !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode for non-hex digits, got %v", err)
	}
}

func TestPutHex(t *testing.T) {
	buf := make([]byte, 4)
	PutHex(buf, 0, []byte{0xAB, 0x01})
	if string(buf) != "AB01" {
		t.Errorf("expected AB01, got %s", buf)
	}
}
