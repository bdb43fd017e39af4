// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"bytes"
	"errors"
)

// Assembler rebuilds frames from notification chunks for one layout.
// It is owned by a single acquisition session and is not safe for
// concurrent use.
type Assembler struct {
	layout    *Layout
	pending   []byte
	discarded uint64
}

// NewAssembler creates an assembler for the layout
func NewAssembler(l *Layout) *Assembler {
	return &Assembler{layout: l}
}

// Reset drops any pending partial frame
func (a *Assembler) Reset() {
	a.pending = nil
}

// Pending returns the number of bytes waiting for the rest of a frame
func (a *Assembler) Pending() int {
	return len(a.pending)
}

// Discarded returns the number of bytes dropped while resynchronizing
func (a *Assembler) Discarded() uint64 {
	return a.discarded
}

// Feed consumes one chunk and returns every frame it completes.
//
// A chunk that on its own opens a frame (full header plus a plausible
// declared length) supersedes any incomplete pending frame. Rejections
// are joined into the returned error; valid frames are returned even
// when some candidates in the same chunk were rejected.
func (a *Assembler) Feed(chunk []byte) ([]*Frame, error) {
	chunk = a.stripNoise(chunk)
	if len(chunk) == 0 {
		return nil, nil
	}

	var errs []error
	if len(a.pending) > 0 && a.opensFrame(chunk) {
		errs = append(errs, reject(ReasonLengthMismatch,
			map[string]interface{}{"received": len(a.pending)},
			"incomplete frame superseded by new header (%d bytes dropped)", len(a.pending)))
		a.discarded += uint64(len(a.pending))
		a.pending = nil
	}

	a.pending = append(a.pending, chunk...)

	var frames []*Frame
	for {
		a.sync()
		if len(a.pending) < a.layout.MinHeader {
			break
		}

		total := a.layout.Length(a.pending)
		if total < a.layout.MinHeader || total > a.layout.maxLen() {
			errs = append(errs, reject(ReasonOverflow,
				map[string]interface{}{"declared": total, "max": a.layout.maxLen()},
				"implausible declared length %d", total))
			// Drop the header byte and look for the next frame start
			a.pending = a.pending[1:]
			a.discarded++
			continue
		}
		if a.layout.UniqueHeader {
			if idx := a.restart(total); idx > 0 {
				errs = append(errs, reject(ReasonLengthMismatch,
					map[string]interface{}{"received": idx, "expected": total},
					"frame restarted after %d bytes", idx))
				a.pending = a.pending[idx:]
				a.discarded += uint64(idx)
				continue
			}
		}
		if len(a.pending) < total {
			break
		}

		candidate := a.pending[:total]
		f, err := Validate(a.layout, candidate)
		a.pending = a.pending[total:]
		if err != nil {
			a.discarded += uint64(total)
			errs = append(errs, err)
			continue
		}
		frames = append(frames, f)
	}

	if len(a.pending) == 0 {
		a.pending = nil
	}
	return frames, errors.Join(errs...)
}

// opensFrame reports whether chunk starts a frame on its own
func (a *Assembler) opensFrame(chunk []byte) bool {
	if len(chunk) < a.layout.MinHeader || !hasHeader(a.layout, chunk) {
		return false
	}
	total := a.layout.Length(chunk)
	return total >= a.layout.MinHeader && total <= a.layout.maxLen()
}

// restart returns the offset of a header inside the first total pending
// bytes, or 0
func (a *Assembler) restart(total int) int {
	end := total
	if end > len(a.pending) {
		end = len(a.pending)
	}
	for _, h := range a.layout.headers() {
		if i := bytes.Index(a.pending[1:end], h); i >= 0 {
			return i + 1
		}
	}
	return 0
}

// sync drops leading bytes until pending starts with a header or with a
// prefix of one
func (a *Assembler) sync() {
	for len(a.pending) > 0 {
		for _, h := range a.layout.headers() {
			n := len(h)
			if len(a.pending) < n {
				n = len(a.pending)
			}
			if bytes.Equal(a.pending[:n], h[:n]) {
				return
			}
		}
		a.pending = a.pending[1:]
		a.discarded++
	}
}

func (a *Assembler) stripNoise(chunk []byte) []byte {
	for _, n := range a.layout.Noise {
		if bytes.HasPrefix(chunk, n) {
			chunk = chunk[len(n):]
		}
	}
	return chunk
}
