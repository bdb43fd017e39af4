// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package acquire drives command/response cycles against one device
// connection and turns the frames it collects into a derived Sample.
package acquire

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/cellwatch/pkg/frame"
	"github.com/Thermoquad/cellwatch/pkg/profile"
	"github.com/Thermoquad/cellwatch/pkg/sample"
)

// maxBackoff caps the per-attempt wait multiplier
const maxBackoff = 8

// Options configures an Acquirer
type Options struct {
	// Device names the connection in samples, logs and statistics
	Device string
	// Logger receives diagnostics; nil discards them
	Logger logrus.FieldLogger
	// TimeoutScale multiplies every profile wait; 0 means 1
	TimeoutScale float64
}

// Acquirer runs acquisition cycles for one connection. Cycles are
// serialized: a second concurrent Acquire fails with ErrSessionBusy.
type Acquirer struct {
	transport Transport
	profile   profile.Profile
	device    string
	log       logrus.FieldLogger
	scale     float64

	mu sync.Mutex
	// ready is set once the handshake succeeded on this connection
	ready bool
}

// New creates an Acquirer for a connected transport
func New(t Transport, p profile.Profile, opts Options) *Acquirer {
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	scale := opts.TimeoutScale
	if scale <= 0 {
		scale = 1
	}
	device := opts.Device
	if device == "" {
		device = p.Name()
	}
	return &Acquirer{
		transport: t,
		profile:   p,
		device:    device,
		log:       log.WithFields(logrus.Fields{"device": device, "profile": p.Name()}),
		scale:     scale,
	}
}

// Device returns the connection name
func (a *Acquirer) Device() string {
	return a.device
}

// Profile returns the protocol profile of the connection
func (a *Acquirer) Profile() profile.Profile {
	return a.profile
}

// Result describes one finished cycle
type Result struct {
	Device string
	// Sample is the derived sample, nil unless State is Parsed
	Sample *sample.Sample
	State  State
	// Attempts counts command sends including retries
	Attempts int
	// Ignored counts valid frames the cycle did not ask for or could not use
	Ignored int
	// Rejected lists the frame rejections seen during the cycle
	Rejected []frame.RejectReason
	Duration time.Duration
}

// Acquire runs one cycle: the handshake if the connection needs one,
// then every request in order, then decode and derive. The Result is
// returned even when the cycle fails, except for ErrSessionBusy.
func (a *Acquirer) Acquire(ctx context.Context) (*Result, error) {
	if !a.mu.TryLock() {
		return nil, ErrSessionBusy
	}
	defer a.mu.Unlock()

	s := &session{
		Acquirer: a,
		ctx:      ctx,
		asm:      frame.NewAssembler(a.profile.Layout()),
		frames:   profile.Frames{},
		wanted:   map[int]bool{},
		timing:   a.profile.Timing(),
		result:   &Result{Device: a.device, State: Idle},
	}
	for _, c := range append(append([]profile.Command{}, a.profile.Handshake()...), a.profile.Requests()...) {
		for _, k := range c.Expect {
			s.wanted[k] = true
		}
	}

	start := time.Now()
	err := s.run()
	s.result.Duration = time.Since(start)
	if err != nil {
		s.result.State = Failed
		a.ready = false
		a.log.WithError(err).WithField("state", s.state).Warn("acquisition cycle failed")
		return s.result, err
	}
	s.result.State = Parsed
	return s.result, nil
}

// session is the transient state of one cycle. Its assembler dies with
// it so partial frames never reach the next cycle.
type session struct {
	*Acquirer
	ctx    context.Context
	asm    *frame.Assembler
	frames profile.Frames
	wanted map[int]bool
	timing profile.Timing
	result *Result

	state      State
	step       string
	attempts   int
	lastReject error
}

func (s *session) run() error {
	if !s.drain() {
		return s.fail(fmt.Errorf("%w: transport closed", ErrSessionCancelled))
	}

	var settle time.Duration
	if !s.ready && len(s.profile.Handshake()) > 0 {
		s.enter(Handshaking)
		for _, cmd := range s.profile.Handshake() {
			if err := s.exchange(cmd, ErrHandshakeTimeout, 0); err != nil {
				return err
			}
		}
		settle = s.timing.Settle
	}
	s.ready = true

	s.enter(AwaitingResponse)
	for _, cmd := range s.profile.Requests() {
		err := s.exchange(cmd, ErrResponseTimeout, settle)
		settle = 0
		if err == nil {
			continue
		}
		var ce *CycleError
		if cmd.Optional && errors.As(err, &ce) && errors.Is(ce.Err, ErrResponseTimeout) {
			s.log.WithField("step", cmd.Name).Debug("optional request unanswered")
			continue
		}
		return err
	}

	if err := s.ctx.Err(); err != nil {
		return s.fail(fmt.Errorf("%w: %v", ErrSessionCancelled, err))
	}
	raw, err := s.profile.Decode(s.frames)
	if err != nil {
		return s.fail(err)
	}
	final := sample.Derive(raw)
	final.Device = s.device
	s.result.Sample = final
	s.enter(Parsed)
	return nil
}

func (s *session) enter(st State) {
	s.state = st
	s.log.WithField("state", st).Debug("state change")
}

func (s *session) fail(err error) error {
	return &CycleError{State: s.state, Step: s.step, Attempts: s.attempts, Err: err, Cause: s.lastReject}
}

// exchange sends cmd and waits for one of its expected kinds, retrying
// with a growing wait
func (s *session) exchange(cmd profile.Command, timeout error, settle time.Duration) error {
	s.step = cmd.Name
	s.attempts = 0

	if len(cmd.Expect) == 0 {
		if err := s.write(cmd); err != nil {
			return err
		}
		return s.pause(cmd.Delay)
	}

	for attempt := 0; attempt < s.timing.Attempts; attempt++ {
		s.attempts = attempt + 1
		if attempt > 0 {
			// a reply to the previous attempt may have queued after its wait
			ok, err := s.poll(cmd)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
		if !cmd.Listen() {
			if err := s.write(cmd); err != nil {
				return err
			}
		}

		wait := s.wait(attempt)
		if attempt == 0 {
			wait += s.scaled(settle)
		}
		ok, err := s.await(cmd, wait)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		s.log.WithFields(logrus.Fields{"step": cmd.Name, "attempt": s.attempts, "wait": wait}).Debug("no reply")
	}
	return s.fail(timeout)
}

// wait returns the reply window of an attempt: base x min(2^attempt, 8)
func (s *session) wait(attempt int) time.Duration {
	factor := 1 << uint(attempt)
	if factor > maxBackoff {
		factor = maxBackoff
	}
	return s.scaled(s.timing.Response * time.Duration(factor))
}

func (s *session) scaled(d time.Duration) time.Duration {
	return time.Duration(float64(d) * s.scale)
}

func (s *session) write(cmd profile.Command) error {
	char := cmd.Char
	if char == 0 {
		char = s.profile.Channels().Write
	}
	s.result.Attempts++
	s.log.WithFields(logrus.Fields{"step": cmd.Name, "char": fmt.Sprintf("%04X", char), "data": hex.EncodeToString(cmd.Bytes)}).Debug("write")

	data := cmd.Bytes
	limit := s.timing.MaxWrite
	for len(data) > 0 {
		n := len(data)
		if limit > 0 && n > limit {
			n = limit
		}
		if err := s.transport.Write(s.ctx, char, data[:n]); err != nil {
			if s.ctx.Err() != nil {
				return s.fail(fmt.Errorf("%w: %v", ErrSessionCancelled, s.ctx.Err()))
			}
			return s.fail(fmt.Errorf("write %s: %w", cmd.Name, err))
		}
		data = data[n:]
	}
	return nil
}

// pause waits d unless the session is cancelled first
func (s *session) pause(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(s.scaled(d))
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return s.fail(fmt.Errorf("%w: %v", ErrSessionCancelled, s.ctx.Err()))
	case <-timer.C:
		return nil
	}
}

// await feeds chunks to the assembler until a frame answering cmd
// arrives or wait elapses. Frames of other kinds never reset the wait.
func (s *session) await(cmd profile.Command, wait time.Duration) (bool, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	chunks := s.transport.Chunks()
	for {
		select {
		case <-s.ctx.Done():
			return false, s.fail(fmt.Errorf("%w: %v", ErrSessionCancelled, s.ctx.Err()))

		case chunk, ok := <-chunks:
			if !ok {
				return false, s.fail(fmt.Errorf("%w: transport closed", ErrSessionCancelled))
			}
			if s.feed(chunk, cmd) {
				return true, nil
			}

		case <-timer.C:
			return false, nil
		}
	}
}

// feed runs one chunk through the assembler and reports whether it
// completed a frame cmd expects
func (s *session) feed(chunk []byte, cmd profile.Command) bool {
	frames, err := s.asm.Feed(chunk)
	for _, re := range frame.Rejections(err) {
		s.result.Rejected = append(s.result.Rejected, re.Reason)
		s.lastReject = re
		s.log.WithField("reason", re.Reason).Debug(re.Message)
	}

	matched := false
	for _, f := range frames {
		fields := logrus.Fields{"kind": fmt.Sprintf("0x%02X", f.Kind()), "len": f.Len()}
		if !s.wanted[f.Kind()] {
			s.result.Ignored++
			s.log.WithFields(fields).Debug("ignoring frame")
			continue
		}
		if err := s.profile.Accept(f); err != nil {
			s.result.Ignored++
			s.log.WithFields(fields).WithError(err).Debug("dropping unusable frame")
			continue
		}
		s.frames[f.Kind()] = f
		s.log.WithFields(fields).Debug("frame")
		if cmd.Expects(f.Kind()) {
			matched = true
		}
	}
	return matched
}

// poll feeds chunks that are already queued and reports whether one
// completes a frame cmd expects
func (s *session) poll(cmd profile.Command) (bool, error) {
	chunks := s.transport.Chunks()
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return false, s.fail(fmt.Errorf("%w: transport closed", ErrSessionCancelled))
			}
			if s.feed(chunk, cmd) {
				return true, nil
			}
		default:
			return false, nil
		}
	}
}

// drain drops notifications queued between cycles. It reports false
// when the transport has already closed.
func (s *session) drain() bool {
	chunks := s.transport.Chunks()
	for {
		select {
		case _, ok := <-chunks:
			if !ok {
				return false
			}
		default:
			return true
		}
	}
}
