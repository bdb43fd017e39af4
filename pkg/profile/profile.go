// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package profile describes each supported BMS protocol: how to find the
// device, how to talk to it and how to turn its frames into a Sample.
package profile

import (
	"fmt"
	"time"

	"github.com/Thermoquad/cellwatch/pkg/codec"
	"github.com/Thermoquad/cellwatch/pkg/frame"
	"github.com/Thermoquad/cellwatch/pkg/sample"
)

// Profile is the contract every vendor protocol implements. Profiles are
// immutable and safe for concurrent use.
type Profile interface {
	Name() string
	Info() DeviceInfo
	Matchers() []Matcher
	Channels() Channels
	Layout() *frame.Layout

	// Handshake returns the commands sent once before the first request
	Handshake() []Command
	// Requests returns the commands of one update cycle, in order
	Requests() []Command
	Timing() Timing

	// Fields lists the scalar fields the decoder reads
	Fields() []FieldSpec
	// Accept reports why a validated frame cannot be decoded, or nil.
	// Callers drop refused frames and keep waiting for a usable one.
	Accept(f *frame.Frame) error
	// Decode builds a raw Sample from the frames collected in one cycle.
	// It performs no I/O.
	Decode(frames Frames) (*sample.Sample, error)
}

// DeviceInfo names the hardware a profile targets
type DeviceInfo struct {
	Manufacturer string
	Model        string
}

// Channels holds the 16-bit GATT identifiers of a profile
type Channels struct {
	Service uint16
	Notify  uint16
	// Write is 0 for devices that only stream
	Write uint16
}

// Command is one outbound message
type Command struct {
	Name  string
	Bytes []byte
	// Char overrides Channels.Write when nonzero
	Char uint16
	// Expect lists the frame kinds that answer the command. An empty list
	// means the device sends no reply.
	Expect []int
	// Delay is waited after a command that expects no reply
	Delay time.Duration
	// Optional commands may go unanswered without failing the cycle
	Optional bool
}

// Listen reports whether the command only waits for frames
func (c Command) Listen() bool {
	return len(c.Bytes) == 0
}

// Expects reports whether kind answers the command
func (c Command) Expects(kind int) bool {
	for _, k := range c.Expect {
		if k == kind {
			return true
		}
	}
	return false
}

// Timing bounds the waits of one cycle
type Timing struct {
	// Response is the base wait for a reply
	Response time.Duration
	// Settle is added to the first wait after a handshake
	Settle time.Duration
	// Attempts is the number of sends of each request
	Attempts int
	// MaxWrite splits longer command writes, 0 means unlimited
	MaxWrite int
}

// Default timing values
const (
	DefaultResponse = 2 * time.Second
	DefaultAttempts = 3
)

// FieldSpec maps one frame field to a sample key
type FieldSpec struct {
	Kind     int
	Key      sample.Key
	Field    codec.Field
	Encoding frame.Encoding
	// Untrusted fields are decoded but left for Derive to recompute
	Untrusted bool
	// Note records a known divergence between vendor documentation and
	// the decode
	Note string
}

// Decode reads the field from a frame
func (fs FieldSpec) Decode(buf []byte) (float64, error) {
	if fs.Encoding == frame.ASCIIHex {
		f := fs.Field
		f.Offset = 0
		f.SignOffset -= fs.Field.Offset
		return codec.HexField(buf, fs.Field.Offset, f)
	}
	return fs.Field.Decode(buf)
}

// Encode writes value into a frame
func (fs FieldSpec) Encode(buf []byte, value float64) error {
	if fs.Encoding != frame.ASCIIHex {
		return fs.Field.Encode(buf, value)
	}
	off := fs.Field.Offset
	if off < 0 || off+2*fs.Field.Width > len(buf) {
		return &codec.DecodeError{Field: fs.Field.Name, Offset: off, Width: 2 * fs.Field.Width, Len: len(buf), Reason: "out of bounds"}
	}
	f := fs.Field
	f.Offset = 0
	f.SignOffset -= off
	raw := make([]byte, f.Width)
	if err := f.Encode(raw, value); err != nil {
		return err
	}
	codec.PutHex(buf, off, raw)
	return nil
}

// Frames holds the validated frames of one cycle keyed by kind
type Frames map[int]*frame.Frame

// Get returns the bytes of the frame of kind
func (f Frames) Get(kind int) ([]byte, error) {
	fr, ok := f[kind]
	if !ok || fr == nil {
		return nil, &codec.DecodeError{Field: fmt.Sprintf("frame 0x%02X", kind), Reason: "missing"}
	}
	return fr.Bytes(), nil
}

// definition is the single Profile implementation; each vendor file
// fills one in
type definition struct {
	name      string
	info      DeviceInfo
	matchers  []Matcher
	channels  Channels
	layout    *frame.Layout
	handshake []Command
	requests  []Command
	timing    Timing
	fields    []FieldSpec

	// extra decodes what the field table cannot express (cell lists,
	// temperatures, cross-frame values)
	extra func(frames Frames, s *sample.Sample) error
	// accept refuses frames the decoder cannot use
	accept func(f *frame.Frame) error
}

func (d *definition) Name() string          { return d.name }
func (d *definition) Info() DeviceInfo      { return d.info }
func (d *definition) Matchers() []Matcher   { return d.matchers }
func (d *definition) Channels() Channels    { return d.channels }
func (d *definition) Layout() *frame.Layout { return d.layout }
func (d *definition) Handshake() []Command  { return d.handshake }
func (d *definition) Requests() []Command   { return d.requests }
func (d *definition) Fields() []FieldSpec   { return d.fields }

func (d *definition) Timing() Timing {
	t := d.timing
	if t.Response <= 0 {
		t.Response = DefaultResponse
	}
	if t.Attempts <= 0 {
		t.Attempts = DefaultAttempts
	}
	return t
}

func (d *definition) Accept(f *frame.Frame) error {
	if d.accept == nil {
		return nil
	}
	return d.accept(f)
}

func (d *definition) Decode(frames Frames) (*sample.Sample, error) {
	s := sample.New(d.name)
	for _, fs := range d.fields {
		buf, err := frames.Get(fs.Kind)
		if err != nil {
			return nil, err
		}
		v, err := fs.Decode(buf)
		if err != nil {
			return nil, err
		}
		if fs.Untrusted {
			s.MarkUntrusted(fs.Key, v)
			continue
		}
		s.Set(fs.Key, v)
	}
	if d.extra != nil {
		if err := d.extra(frames, s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Audit lists the profile's checksum opt-out and contested fields
func Audit(p Profile) []string {
	var out []string
	if c := p.Layout().Checksum; !c.Enabled() {
		out = append(out, fmt.Sprintf("checksum disabled: %s", c.Reason))
	}
	for _, fs := range p.Fields() {
		switch {
		case fs.Untrusted && fs.Note != "":
			out = append(out, fmt.Sprintf("%s untrusted: %s", fs.Key, fs.Note))
		case fs.Untrusted:
			out = append(out, fmt.Sprintf("%s untrusted", fs.Key))
		case fs.Note != "":
			out = append(out, fmt.Sprintf("%s: %s", fs.Key, fs.Note))
		}
	}
	return out
}

// decodeList reads count values of width bytes starting at offset,
// stride apart
func decodeList(buf []byte, f codec.Field, count, stride int) ([]float64, error) {
	out := make([]float64, 0, count)
	base := f.Offset
	for i := 0; i < count; i++ {
		f.Offset = base + i*stride
		v, err := f.Decode(buf)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// nonZero drops zero entries, which devices use for unpopulated slots
func nonZero(vs []float64) []float64 {
	out := vs[:0]
	for _, v := range vs {
		if v != 0 {
			out = append(out, v)
		}
	}
	return out
}
