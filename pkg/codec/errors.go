// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package codec

import (
	"errors"
	"fmt"
)

// ErrDecode matches every DecodeError via errors.Is
var ErrDecode = errors.New("decode error")

// DecodeError reports a field that cannot be read from a buffer.
// Callers treat it as "frame incomplete", never as a crash.
type DecodeError struct {
	Field  string
	Offset int
	Width  int
	Len    int
	Reason string
}

// Error implements the error interface
func (e *DecodeError) Error() string {
	name := e.Field
	if name == "" {
		name = "field"
	}
	return fmt.Sprintf("decode %s: %s (offset=%d width=%d len=%d)", name, e.Reason, e.Offset, e.Width, e.Len)
}

// Is reports whether target is ErrDecode
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}
