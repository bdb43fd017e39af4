// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package acquire

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/cellwatch/pkg/codec"
	"github.com/Thermoquad/cellwatch/pkg/frame"
)

var (
	// ErrHandshakeTimeout is returned when a handshake step goes unanswered
	ErrHandshakeTimeout = errors.New("handshake timeout")
	// ErrResponseTimeout is returned when a request goes unanswered
	ErrResponseTimeout = errors.New("response timeout")
	// ErrSessionCancelled is returned when the transport drops or the
	// caller cancels mid-cycle
	ErrSessionCancelled = errors.New("session cancelled")
	// ErrSessionBusy is returned when a cycle is already running on the
	// connection
	ErrSessionBusy = errors.New("acquisition already in progress")
)

// CycleError is the single failure a cycle reports upward
type CycleError struct {
	State    State
	Step     string
	Attempts int
	// Err is the failure class (a sentinel above, a decode error or a
	// transport error)
	Err error
	// Cause is the last frame rejection seen during the cycle, if any
	Cause error
}

// Error implements the error interface
func (e *CycleError) Error() string {
	msg := fmt.Sprintf("cycle failed in %s (step %s, attempt %d): %v", e.State, e.Step, e.Attempts, e.Err)
	if e.Cause != nil {
		msg += fmt.Sprintf("; last rejection: %v", e.Cause)
	}
	return msg
}

// Unwrap exposes both the failure class and the rejection cause
func (e *CycleError) Unwrap() []error {
	out := []error{e.Err}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

// Failure reasons used for statistics and metric labels
const (
	ReasonOK               = "ok"
	ReasonCancelled        = "cancelled"
	ReasonHandshakeTimeout = "handshake_timeout"
	ReasonResponseTimeout  = "response_timeout"
	ReasonRejected         = "rejected"
	ReasonDecode           = "decode"
	ReasonBusy             = "busy"
	ReasonTransport        = "transport"
)

// Reason classifies a cycle error. A timeout whose cycle saw a rejected
// frame is reported as a rejection, the more specific of the two.
func Reason(err error) string {
	if err == nil {
		return ReasonOK
	}
	var ce *CycleError
	hasCause := errors.As(err, &ce) && ce.Cause != nil

	switch {
	case errors.Is(err, ErrSessionBusy):
		return ReasonBusy
	case errors.Is(err, ErrSessionCancelled):
		return ReasonCancelled
	case hasCause && (errors.Is(err, ErrHandshakeTimeout) || errors.Is(err, ErrResponseTimeout)):
		return ReasonRejected
	case errors.Is(err, ErrHandshakeTimeout):
		return ReasonHandshakeTimeout
	case errors.Is(err, ErrResponseTimeout):
		return ReasonResponseTimeout
	case errors.Is(err, codec.ErrDecode):
		return ReasonDecode
	case errors.Is(err, frame.ErrFrameRejected):
		return ReasonRejected
	default:
		return ReasonTransport
	}
}
