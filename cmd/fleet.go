// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/cellwatch/internal/config"
	"github.com/Thermoquad/cellwatch/internal/metrics"
	"github.com/Thermoquad/cellwatch/internal/publish"
	"github.com/Thermoquad/cellwatch/pkg/acquire"
	"github.com/Thermoquad/cellwatch/pkg/linkq"
	"github.com/Thermoquad/cellwatch/pkg/profile"
)

// reconnectDelay is waited before reopening a dropped connection
var reconnectDelay = 5 * time.Second

// opener opens one device transport
type opener interface {
	Open(ctx context.Context, d config.DeviceConfig, p profile.Profile) (Connection, string, error)
}

// fleet runs one acquisition loop per configured device and wires the
// results into link statistics, metrics and the publisher
type fleet struct {
	cfg     *config.Config
	log     logrus.FieldLogger
	open    opener
	tracker *linkq.Tracker

	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	publisher *publish.Publisher

	// extra observers and sinks, e.g. the text printer or the dashboard
	observers []acquire.Observer
	sinks     []acquire.Sink
	// connected is told about each connection as it opens
	connected func(device, info string)
}

func newFleet(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, open opener) (*fleet, error) {
	if len(cfg.Devices) == 0 {
		return nil, errors.New("no devices configured (use --config or --address/--port/--url with --profile)")
	}
	f := &fleet{
		cfg:     cfg,
		log:     log,
		open:    open,
		tracker: linkq.New(),
	}
	if cfg.Metrics.Enabled {
		f.registry = prometheus.NewRegistry()
		f.metrics = metrics.New(f.registry, f.tracker)
	}
	if cfg.Redis.Enabled {
		p, err := publish.New(ctx, cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		f.publisher = p
	}
	return f, nil
}

// Run polls every device until ctx is done
func (f *fleet) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	if f.metrics != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := metrics.Handler(f.registry, f.tracker)
			if err := metrics.Serve(ctx, f.cfg.Metrics.Listen, h, f.log); err != nil {
				f.log.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	for _, d := range f.cfg.Devices {
		wg.Add(1)
		go func(d config.DeviceConfig) {
			defer wg.Done()
			f.runDevice(ctx, d)
		}(d)
	}

	wg.Wait()
	return nil
}

// runDevice keeps one device connected and polled, reconnecting after
// the transport drops
func (f *fleet) runDevice(ctx context.Context, d config.DeviceConfig) {
	log := f.log.WithField("device", d.Name)
	p, err := profile.Lookup(d.Profile)
	if err != nil {
		log.WithError(err).Error("device skipped")
		return
	}
	defer f.forget(d.Name)

	for {
		if err := f.session(ctx, d, p, log); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("connection lost")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (f *fleet) session(ctx context.Context, d config.DeviceConfig, p profile.Profile, log logrus.FieldLogger) error {
	conn, info, err := f.open.Open(ctx, d, p)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer conn.Close()
	log.WithField("connection", info).Info("connected")
	if f.connected != nil {
		f.connected(d.Name, info)
	}

	loop := &acquire.Loop{
		Acquirer: acquire.New(conn, p, acquire.Options{
			Device:       d.Name,
			Logger:       f.log,
			TimeoutScale: d.TimeoutScale,
		}),
		Interval:  d.Interval,
		Observers: f.observerChain(),
		Sinks:     f.sinkChain(),
	}
	return loop.Run(ctx)
}

// observerChain puts the tracker first; metrics read the ratio from it
func (f *fleet) observerChain() []acquire.Observer {
	obs := []acquire.Observer{f.tracker}
	if f.metrics != nil {
		obs = append(obs, f.metrics)
	}
	return append(obs, f.observers...)
}

func (f *fleet) sinkChain() []acquire.Sink {
	var sinks []acquire.Sink
	if f.metrics != nil {
		sinks = append(sinks, f.metrics)
	}
	if f.publisher != nil {
		sinks = append(sinks, f.publisher)
	}
	return append(sinks, f.sinks...)
}

// forget drops a device that stopped being polled
func (f *fleet) forget(device string) {
	f.tracker.Forget(device)
	if f.metrics != nil {
		f.metrics.Forget(device)
	}
}

// Close releases the publisher
func (f *fleet) Close() error {
	if f.publisher == nil {
		return nil
	}
	return f.publisher.Close()
}
