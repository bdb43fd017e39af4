// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package acquire

import "fmt"

// State is a step of one acquisition cycle
type State int

const (
	Idle State = iota
	Handshaking
	AwaitingResponse
	Parsed
	Failed
)

// String returns the state name used in logs
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Handshaking:
		return "handshaking"
	case AwaitingResponse:
		return "awaiting_response"
	case Parsed:
		return "parsed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state_%d", int(s))
	}
}

// Terminal reports whether a cycle ends in s
func (s State) Terminal() bool {
	return s == Parsed || s == Failed
}
