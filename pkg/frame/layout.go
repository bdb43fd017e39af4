// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"fmt"

	"github.com/Thermoquad/cellwatch/pkg/codec"
)

// DefaultMaxLen caps any pending frame when a layout does not set MaxLen
const DefaultMaxLen = 512

// Encoding selects how a stored checksum is written in the frame
type Encoding int

const (
	Binary Encoding = iota
	ASCIIHex
)

// Checksum describes where a frame carries its checksum and what it covers
type Checksum struct {
	Algorithm Algorithm

	// Start and End bound the covered bytes. End <= 0 counts back from
	// the end of the frame.
	Start int
	End   int

	// Pos is the offset of the stored value; negative counts from the end
	Pos      int
	Width    int // bytes (Binary) or characters (ASCIIHex)
	Order    codec.ByteOrder
	Encoding Encoding

	// Reason documents a disabled checksum
	Reason string
}

// ChecksumDisabled opts a layout out of checksum validation. The reason is
// kept with the layout so the opt-out can be audited.
func ChecksumDisabled(reason string) Checksum {
	return Checksum{Algorithm: AlgoDisabled, Reason: reason}
}

// Enabled reports whether the checksum is validated
func (c Checksum) Enabled() bool {
	return c.Algorithm != AlgoDisabled && c.Algorithm != AlgoUnspecified
}

// Layout describes how a protocol delimits its frames
type Layout struct {
	Name string

	// Header starts every frame. AltHeaders lists equivalent headers of
	// the same length.
	Header     []byte
	AltHeaders [][]byte
	Tail       []byte

	// MinHeader is the number of leading bytes Length needs
	MinHeader int
	// Length returns the total frame length implied by the leading bytes
	Length func(head []byte) int
	// MaxLen is the hard safety cap for a pending frame
	MaxLen int

	// Kind extracts the discriminator; nil means every frame is kind 0
	Kind func(frame []byte) int

	Checksum Checksum

	// UniqueHeader marks layouts whose header bytes never occur inside a
	// frame, so a header seen mid-frame restarts assembly there
	UniqueHeader bool

	// Noise lists chunk prefixes emitted by radio modules that are
	// stripped before assembly
	Noise [][]byte
}

// FixedLength returns a Length function for fixed-size frames
func FixedLength(n int) func([]byte) int {
	return func([]byte) int { return n }
}

// LengthByte returns a Length function reading one byte at idx plus overhead
func LengthByte(idx, overhead int) func([]byte) int {
	return func(head []byte) int { return int(head[idx]) + overhead }
}

// LengthUint16 returns a Length function reading two bytes at idx plus overhead
func LengthUint16(idx, overhead int, order codec.ByteOrder) func([]byte) int {
	return func(head []byte) int {
		v, _ := codec.Uint(head, idx, 2, order)
		return int(v) + overhead
	}
}

// KindAt returns a Kind function reading the byte at idx
func KindAt(idx int) func([]byte) int {
	return func(f []byte) int {
		if idx >= len(f) {
			return -1
		}
		return int(f[idx])
	}
}

// Validate checks that the layout is complete
func (l *Layout) Validate() error {
	if len(l.Header) == 0 {
		return fmt.Errorf("layout %s: empty header", l.Name)
	}
	for _, h := range l.AltHeaders {
		if len(h) != len(l.Header) {
			return fmt.Errorf("layout %s: alternative header length %d != %d", l.Name, len(h), len(l.Header))
		}
	}
	if l.Length == nil {
		return fmt.Errorf("layout %s: no length function", l.Name)
	}
	if l.MinHeader < len(l.Header) {
		return fmt.Errorf("layout %s: MinHeader %d shorter than header", l.Name, l.MinHeader)
	}
	switch l.Checksum.Algorithm {
	case AlgoUnspecified:
		return fmt.Errorf("layout %s: checksum unspecified (use ChecksumDisabled to opt out)", l.Name)
	case AlgoDisabled:
		if l.Checksum.Reason == "" {
			return fmt.Errorf("layout %s: disabled checksum needs a reason", l.Name)
		}
	default:
		if l.Checksum.Width <= 0 {
			return fmt.Errorf("layout %s: checksum width must be positive", l.Name)
		}
	}
	return nil
}

func (l *Layout) maxLen() int {
	if l.MaxLen > 0 {
		return l.MaxLen
	}
	return DefaultMaxLen
}

func (l *Layout) headers() [][]byte {
	return append([][]byte{l.Header}, l.AltHeaders...)
}

func (l *Layout) kind(f []byte) int {
	if l.Kind == nil {
		return 0
	}
	return l.Kind(f)
}
