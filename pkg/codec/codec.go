// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package codec decodes fixed-point and signed integers out of vendor frames.
//
// Every device profile describes its fields as Field values and calls Decode
// explicitly. The package holds no state.
package codec

import (
	"fmt"
	"math"
)

// ByteOrder selects how multi-byte fields are laid out
type ByteOrder int

const (
	BigEndian ByteOrder = iota
	LittleEndian
)

// Sign selects how a field carries its sign
type Sign int

const (
	// Unsigned fields are never negative
	Unsigned Sign = iota
	// TwosComplement fields are signed within their declared width
	TwosComplement
	// SignBit fields carry a magnitude plus one bit in a status byte.
	// The status byte may lie inside the field itself (TDT bit 15)
	// or next to it (Pro BMS).
	SignBit
	// SignByte fields carry a magnitude plus a dedicated byte that is
	// zero for positive values and nonzero for negative ones.
	SignByte
)

// Scale is one named multiply step. Vendors document unit conversions
// inconsistently, so steps are kept separate rather than folded into one
// constant.
type Scale struct {
	Name   string
	Factor float64
}

// Common scale steps
var (
	Centi    = Scale{Name: "centi", Factor: 0.01}
	Deci     = Scale{Name: "deci", Factor: 0.1}
	Milli    = Scale{Name: "milli", Factor: 0.001}
	Deca     = Scale{Name: "x10", Factor: 10}
	Minutes  = Scale{Name: "min->s", Factor: 60}
	Identity = Scale{Name: "identity", Factor: 1}
)

// Field describes where a value lives in a frame and how to read it
type Field struct {
	Name   string
	Offset int
	Width  int // 1, 2, 3 or 4 bytes
	Order  ByteOrder
	Sign   Sign

	// SignOffset is the absolute offset of the status byte (SignBit)
	// or the dedicated sign byte (SignByte).
	SignOffset int
	// SignMask selects the sign bit inside the status byte (SignBit only)
	SignMask byte
	// MagnitudeMask clears flag bits from the raw field before use,
	// before sign extension for TwosComplement. Zero keeps every bit.
	MagnitudeMask uint64

	// Bias is added to the raw integer before scaling (Daly current x-30000)
	Bias int64
	// Scales are applied in order after Bias
	Scales []Scale
}

// Uint reads an unsigned integer of width bytes at offset
func Uint(buf []byte, offset, width int, order ByteOrder) (uint64, error) {
	if width < 1 || width > 8 {
		return 0, &DecodeError{Offset: offset, Width: width, Len: len(buf), Reason: "unsupported width"}
	}
	if offset < 0 || offset+width > len(buf) {
		return 0, &DecodeError{Offset: offset, Width: width, Len: len(buf), Reason: "out of bounds"}
	}

	var v uint64
	if order == LittleEndian {
		for i := width - 1; i >= 0; i-- {
			v = v<<8 | uint64(buf[offset+i])
		}
	} else {
		for i := 0; i < width; i++ {
			v = v<<8 | uint64(buf[offset+i])
		}
	}
	return v, nil
}

// Int reads a two's complement integer of width bytes at offset
func Int(buf []byte, offset, width int, order ByteOrder) (int64, error) {
	u, err := Uint(buf, offset, width, order)
	if err != nil {
		return 0, err
	}
	shift := uint(64 - 8*width)
	return int64(u<<shift) >> shift, nil
}

// Raw returns the signed integer value of the field before bias and scaling
func (f Field) Raw(buf []byte) (int64, error) {
	u, err := Uint(buf, f.Offset, f.Width, f.Order)
	if err != nil {
		return 0, f.wrap(err)
	}

	switch f.Sign {
	case Unsigned:
		return int64(f.mask(u)), nil

	case TwosComplement:
		shift := uint(64 - 8*f.Width)
		return int64(f.mask(u)<<shift) >> shift, nil

	case SignBit:
		if f.SignOffset < 0 || f.SignOffset >= len(buf) {
			return 0, f.wrap(&DecodeError{Offset: f.SignOffset, Width: 1, Len: len(buf), Reason: "sign byte out of bounds"})
		}
		mag := int64(f.mask(u))
		if buf[f.SignOffset]&f.SignMask != 0 {
			return -mag, nil
		}
		return mag, nil

	case SignByte:
		if f.SignOffset < 0 || f.SignOffset >= len(buf) {
			return 0, f.wrap(&DecodeError{Offset: f.SignOffset, Width: 1, Len: len(buf), Reason: "sign byte out of bounds"})
		}
		mag := int64(f.mask(u))
		if buf[f.SignOffset] != 0 {
			return -mag, nil
		}
		return mag, nil
	}

	return 0, f.wrap(&DecodeError{Offset: f.Offset, Width: f.Width, Len: len(buf), Reason: fmt.Sprintf("unknown sign convention %d", f.Sign)})
}

// Decode returns the scaled value of the field
func (f Field) Decode(buf []byte) (float64, error) {
	raw, err := f.Raw(buf)
	if err != nil {
		return 0, err
	}
	v := float64(raw + f.Bias)
	for _, s := range f.Scales {
		v *= s.Factor
	}
	return v, nil
}

// Encode writes value into buf at the field's position. It is the inverse of
// Decode within the field's precision and exists for building synthetic
// frames.
func (f Field) Encode(buf []byte, value float64) error {
	for _, s := range f.Scales {
		value /= s.Factor
	}
	raw := int64(math.Round(value)) - f.Bias

	if f.Offset < 0 || f.Offset+f.Width > len(buf) {
		return f.wrap(&DecodeError{Offset: f.Offset, Width: f.Width, Len: len(buf), Reason: "out of bounds"})
	}

	overflow := func() error {
		return f.wrap(&DecodeError{Offset: f.Offset, Width: f.Width, Len: len(buf), Reason: fmt.Sprintf("value %d does not fit the field", raw)})
	}

	var u uint64
	switch f.Sign {
	case Unsigned:
		if raw < 0 {
			return f.wrap(&DecodeError{Offset: f.Offset, Width: f.Width, Len: len(buf), Reason: "negative value for unsigned field"})
		}
		u = uint64(raw)
		if u > f.limit() {
			return overflow()
		}

	case TwosComplement:
		bits := uint(8 * f.Width)
		if raw < -(1<<(bits-1)) || raw > 1<<(bits-1)-1 {
			return overflow()
		}
		u = uint64(raw) & (1<<bits - 1)
		if f.MagnitudeMask != 0 && u&^f.MagnitudeMask != 0 {
			return overflow()
		}

	case SignBit, SignByte:
		if f.SignOffset < 0 || f.SignOffset >= len(buf) {
			return f.wrap(&DecodeError{Offset: f.SignOffset, Width: 1, Len: len(buf), Reason: "sign byte out of bounds"})
		}
		neg := raw < 0
		if neg {
			raw = -raw
		}
		u = uint64(raw)
		if u > f.limit() {
			return overflow()
		}
		// Encode magnitude first; the sign byte may overlap the field
		defer func() {
			if f.Sign == SignBit {
				if neg {
					buf[f.SignOffset] |= f.SignMask
				} else {
					buf[f.SignOffset] &^= f.SignMask
				}
				return
			}
			if neg {
				buf[f.SignOffset] = 1
			} else {
				buf[f.SignOffset] = 0
			}
		}()
	}

	PutUint(buf, f.Offset, f.Width, f.Order, u)
	return nil
}

// limit is the largest magnitude the field can hold
func (f Field) limit() uint64 {
	top := uint64(1)<<uint(8*f.Width) - 1
	if f.MagnitudeMask != 0 {
		top &= f.MagnitudeMask
	}
	return top
}

// PutUint writes v as an unsigned integer of width bytes at offset.
// The caller guarantees bounds.
func PutUint(buf []byte, offset, width int, order ByteOrder, v uint64) {
	for i := 0; i < width; i++ {
		b := byte(v >> (8 * uint(i)))
		if order == LittleEndian {
			buf[offset+i] = b
		} else {
			buf[offset+width-1-i] = b
		}
	}
}

func (f Field) mask(u uint64) uint64 {
	if f.MagnitudeMask == 0 {
		return u
	}
	return u & f.MagnitudeMask
}

func (f Field) wrap(err error) error {
	if de, ok := err.(*DecodeError); ok && de.Field == "" {
		de.Field = f.Name
	}
	return err
}
