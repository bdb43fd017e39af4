// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package acquire

import (
	"context"
	"errors"
	"time"

	"github.com/Thermoquad/cellwatch/pkg/sample"
)

// Observer is told about every finished cycle. res is nil when the
// cycle could not start.
type Observer interface {
	Observe(device string, res *Result, err error)
}

// Sink receives every successful sample
type Sink interface {
	Publish(ctx context.Context, s *sample.Sample) error
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(device string, res *Result, err error)

// Observe calls f
func (f ObserverFunc) Observe(device string, res *Result, err error) {
	f(device, res, err)
}

// DefaultInterval is the polling interval used when Loop.Interval is 0
const DefaultInterval = 30 * time.Second

// Loop polls one Acquirer at a fixed interval. It owns no engine state;
// the acquirer and its transport stay with the caller.
type Loop struct {
	Acquirer  *Acquirer
	Interval  time.Duration
	Observers []Observer
	Sinks     []Sink
}

// Run cycles until ctx is done or the transport drops. The first cycle
// starts immediately. Run returns ctx.Err() on cancellation and the
// cycle error when the connection is lost.
func (l *Loop) Run(ctx context.Context) error {
	interval := l.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := l.cycle(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Loop) cycle(ctx context.Context) error {
	a := l.Acquirer
	res, err := a.Acquire(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	for _, o := range l.Observers {
		o.Observe(a.Device(), res, err)
	}

	if err != nil {
		if errors.Is(err, ErrSessionCancelled) {
			return err
		}
		return nil
	}

	for _, s := range l.Sinks {
		if perr := s.Publish(ctx, res.Sample); perr != nil {
			a.log.WithError(perr).Warn("publish failed")
		}
	}
	return nil
}
