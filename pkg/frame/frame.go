// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package frame reassembles vendor frames from notification chunks and
// validates header, length, tail and checksum before anything decodes them.
package frame

import "time"

// Frame is one complete, validated protocol message
type Frame struct {
	raw       []byte
	kind      int
	layout    string
	timestamp time.Time
}

// NewFrame creates a frame over a private copy of raw
func NewFrame(raw []byte, kind int, layout string) *Frame {
	buf := make([]byte, len(raw))
	copy(buf, raw)
	return &Frame{
		raw:       buf,
		kind:      kind,
		layout:    layout,
		timestamp: time.Now(),
	}
}

// Bytes returns the full frame including header and checksum
func (f *Frame) Bytes() []byte {
	return f.raw
}

// Len returns the frame length in bytes
func (f *Frame) Len() int {
	return len(f.raw)
}

// Kind returns the frame discriminator
func (f *Frame) Kind() int {
	return f.kind
}

// Layout returns the name of the layout that produced the frame
func (f *Frame) Layout() string {
	return f.layout
}

// Timestamp returns when the frame was assembled
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}
