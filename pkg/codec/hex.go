// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package codec

import (
	"encoding/hex"
	"fmt"
)

// HexBytes converts chars ASCII hex digits at offset into raw bytes.
// Ective frames carry every value this way.
func HexBytes(buf []byte, offset, chars int) ([]byte, error) {
	if chars <= 0 || chars%2 != 0 {
		return nil, &DecodeError{Offset: offset, Width: chars, Len: len(buf), Reason: "odd hex width"}
	}
	if offset < 0 || offset+chars > len(buf) {
		return nil, &DecodeError{Offset: offset, Width: chars, Len: len(buf), Reason: "out of bounds"}
	}
	out := make([]byte, chars/2)
	if _, err := hex.Decode(out, buf[offset:offset+chars]); err != nil {
		return nil, &DecodeError{Offset: offset, Width: chars, Len: len(buf), Reason: fmt.Sprintf("invalid hex: %v", err)}
	}
	return out, nil
}

// HexField reads an ASCII hex field and decodes the resulting bytes with f.
// f.Offset and f.SignOffset are relative to the decoded bytes, f.Width is in
// bytes.
func HexField(buf []byte, offset int, f Field) (float64, error) {
	raw, err := HexBytes(buf, offset, f.Width*2)
	if err != nil {
		return 0, f.wrap(err)
	}
	return f.Decode(raw)
}

// PutHex writes src as upper-case ASCII hex at offset
func PutHex(buf []byte, offset int, src []byte) {
	const digits = "0123456789ABCDEF"
	for i, b := range src {
		buf[offset+2*i] = digits[b>>4]
		buf[offset+2*i+1] = digits[b&0x0F]
	}
}
