// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"time"

	"github.com/Thermoquad/cellwatch/pkg/frame"
	"github.com/Thermoquad/cellwatch/pkg/profile"
	"github.com/Thermoquad/cellwatch/pkg/sample"
)

// Event is one replay step: a frame, a rejection or a decoded sample
type Event struct {
	Timestamp time.Time
	Frame     *frame.Frame
	// Sample is set when Frame completed the set of frames a cycle needs
	Sample *sample.Sample
	Err    error
}

// Replay feeds captured values through the profile's assembler. A
// sample is decoded whenever a frame answering the profile's last
// request arrives, and the next sample starts from an empty frame set.
func Replay(p profile.Profile, pdus []PDU, fn func(Event)) {
	asm := frame.NewAssembler(p.Layout())
	frames := profile.Frames{}
	requests := p.Requests()
	last := requests[len(requests)-1]

	for _, pdu := range pdus {
		fs, err := asm.Feed(pdu.Value)
		for _, re := range frame.Rejections(err) {
			fn(Event{Timestamp: pdu.Timestamp, Err: re})
		}
		for _, f := range fs {
			ev := Event{Timestamp: pdu.Timestamp, Frame: f}
			if ev.Err = p.Accept(f); ev.Err != nil {
				fn(ev)
				continue
			}
			frames[f.Kind()] = f
			if last.Expects(f.Kind()) {
				raw, derr := p.Decode(frames)
				if derr != nil {
					ev.Err = derr
				} else {
					ev.Sample = sample.Derive(raw)
				}
				frames = profile.Frames{}
			}
			fn(ev)
		}
	}
}
