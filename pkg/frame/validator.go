// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/Thermoquad/cellwatch/pkg/codec"
)

// RejectReason classifies why a buffer was not accepted as a frame
type RejectReason int

const (
	ReasonBadHeader RejectReason = iota
	ReasonLengthMismatch
	ReasonChecksumMismatch
	ReasonBadTail
	ReasonOverflow
)

// String returns the reason name used in logs and metrics labels
func (r RejectReason) String() string {
	switch r {
	case ReasonBadHeader:
		return "bad_header"
	case ReasonLengthMismatch:
		return "length_mismatch"
	case ReasonChecksumMismatch:
		return "checksum_mismatch"
	case ReasonBadTail:
		return "bad_tail"
	case ReasonOverflow:
		return "overflow"
	default:
		return fmt.Sprintf("reason_%d", int(r))
	}
}

// ErrFrameRejected matches every RejectedError via errors.Is
var ErrFrameRejected = errors.New("frame rejected")

// RejectedError reports a buffer that failed validation
type RejectedError struct {
	Reason  RejectReason
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (e *RejectedError) Error() string {
	return fmt.Sprintf("frame rejected (%s): %s", e.Reason, e.Message)
}

// Is reports whether target is ErrFrameRejected
func (e *RejectedError) Is(target error) bool {
	return target == ErrFrameRejected
}

func reject(reason RejectReason, details map[string]interface{}, format string, args ...interface{}) *RejectedError {
	return &RejectedError{Reason: reason, Message: fmt.Sprintf(format, args...), Details: details}
}

// Validate checks header, declared length, tail and checksum of buf.
// On success it returns a Frame over a copy of buf.
func Validate(l *Layout, buf []byte) (*Frame, error) {
	if !hasHeader(l, buf) {
		return nil, reject(ReasonBadHeader, map[string]interface{}{"length": len(buf)},
			"header mismatch (% X)", head(buf, len(l.Header)))
	}

	if len(buf) < l.MinHeader {
		return nil, reject(ReasonLengthMismatch, map[string]interface{}{"received": len(buf), "expected": l.MinHeader},
			"frame shorter than header (%d < %d)", len(buf), l.MinHeader)
	}

	declared := l.Length(buf)
	if declared > l.maxLen() {
		return nil, reject(ReasonOverflow, map[string]interface{}{"declared": declared, "max": l.maxLen()},
			"declared length %d exceeds cap %d", declared, l.maxLen())
	}
	if declared != len(buf) {
		return nil, reject(ReasonLengthMismatch, map[string]interface{}{"received": len(buf), "expected": declared},
			"length mismatch (received=%d, expected=%d)", len(buf), declared)
	}

	if len(l.Tail) > 0 && !bytes.HasSuffix(buf, l.Tail) {
		return nil, reject(ReasonBadTail, map[string]interface{}{"tail": buf[len(buf)-len(l.Tail):]},
			"tail mismatch (% X != % X)", buf[len(buf)-len(l.Tail):], l.Tail)
	}

	if l.Checksum.Enabled() {
		if err := verifyChecksum(l.Checksum, buf); err != nil {
			return nil, err
		}
	}

	return NewFrame(buf, l.kind(buf), l.Name), nil
}

func verifyChecksum(c Checksum, buf []byte) error {
	start, end := c.Start, c.End
	if end <= 0 {
		end = len(buf) + end
	}
	pos := c.Pos
	if pos < 0 {
		pos = len(buf) + pos
	}
	if start < 0 || start > end || end > len(buf) || pos < 0 || pos+c.Width > len(buf) {
		return reject(ReasonLengthMismatch, map[string]interface{}{"received": len(buf)},
			"frame too short for checksum range [%d:%d] at %d", start, end, pos)
	}

	computed, err := c.Algorithm.Compute(buf[start:end])
	if err != nil {
		return reject(ReasonChecksumMismatch, nil, "%s over [%d:%d]: %v", c.Algorithm, start, end, err)
	}

	var stored uint64
	switch c.Encoding {
	case ASCIIHex:
		stored, err = strconv.ParseUint(string(buf[pos:pos+c.Width]), 16, 64)
		if err != nil {
			return reject(ReasonChecksumMismatch, nil, "stored checksum is not hex: %q", buf[pos:pos+c.Width])
		}
	default:
		stored, _ = codec.Uint(buf, pos, c.Width, c.Order)
	}

	if c.Width < 8 && c.Encoding == Binary {
		computed &= (uint64(1) << (8 * uint(c.Width))) - 1
	}
	if stored != computed {
		return reject(ReasonChecksumMismatch, map[string]interface{}{"stored": stored, "computed": computed, "algorithm": c.Algorithm.String()},
			"%s mismatch: stored 0x%X, computed 0x%X", c.Algorithm, stored, computed)
	}
	return nil
}

func hasHeader(l *Layout, buf []byte) bool {
	for _, h := range l.headers() {
		if bytes.HasPrefix(buf, h) {
			return true
		}
	}
	return false
}

func head(buf []byte, n int) []byte {
	if len(buf) < n {
		return buf
	}
	return buf[:n]
}

// Rejections returns every RejectedError carried by err, which may be a
// single rejection or a join of several
func Rejections(err error) []*RejectedError {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []*RejectedError
		for _, e := range joined.Unwrap() {
			out = append(out, Rejections(e)...)
		}
		return out
	}
	var re *RejectedError
	if errors.As(err, &re) {
		return []*RejectedError{re}
	}
	return nil
}
