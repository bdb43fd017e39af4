// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exports acquisition outcomes and the latest sample
// values as Prometheus metrics.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Thermoquad/cellwatch/pkg/acquire"
	"github.com/Thermoquad/cellwatch/pkg/linkq"
	"github.com/Thermoquad/cellwatch/pkg/sample"
)

// Metrics holds the cellwatch collectors. It implements acquire.Observer
// and acquire.Sink.
type Metrics struct {
	tracker *linkq.Tracker

	LinkQuality    *prometheus.GaugeVec
	Cycles         *prometheus.CounterVec
	FramesRejected *prometheus.CounterVec
	CycleDuration  *prometheus.HistogramVec
	Voltage        *prometheus.GaugeVec
	Current        *prometheus.GaugeVec
	SoC            *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. The link
// quality gauge mirrors tracker, which must observe cycles before m.
func New(reg prometheus.Registerer, tracker *linkq.Tracker) *Metrics {
	m := &Metrics{
		tracker: tracker,
		LinkQuality: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cellwatch_link_quality_ratio",
			Help: "Share of successful cycles over the last 100",
		}, []string{"device"}),
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cellwatch_cycles_total",
			Help: "Acquisition cycles by outcome",
		}, []string{"device", "outcome"}),
		FramesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cellwatch_frames_rejected_total",
			Help: "Frames rejected by the validator",
		}, []string{"device", "reason"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cellwatch_cycle_duration_seconds",
			Help:    "Acquisition cycle duration",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40},
		}, []string{"device"}),
		Voltage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cellwatch_sample_voltage_volts",
			Help: "Pack voltage of the last sample",
		}, []string{"device"}),
		Current: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cellwatch_sample_current_amperes",
			Help: "Pack current of the last sample, positive while charging",
		}, []string{"device"}),
		SoC: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cellwatch_sample_soc_percent",
			Help: "State of charge of the last sample",
		}, []string{"device"}),
	}

	reg.MustRegister(
		m.LinkQuality,
		m.Cycles,
		m.FramesRejected,
		m.CycleDuration,
		m.Voltage,
		m.Current,
		m.SoC,
	)
	return m
}

// Observe records one finished cycle
func (m *Metrics) Observe(device string, res *acquire.Result, err error) {
	m.Cycles.WithLabelValues(device, acquire.Reason(err)).Inc()
	if res != nil {
		for _, r := range res.Rejected {
			m.FramesRejected.WithLabelValues(device, r.String()).Inc()
		}
		m.CycleDuration.WithLabelValues(device).Observe(res.Duration.Seconds())
	}
	if m.tracker != nil {
		if ratio, ok := m.tracker.Ratio(device); ok {
			m.LinkQuality.WithLabelValues(device).Set(ratio)
		}
	}
}

// Publish exports the headline values of a sample
func (m *Metrics) Publish(_ context.Context, s *sample.Sample) error {
	set := func(g *prometheus.GaugeVec, k sample.Key) {
		if v, ok := s.Get(k); ok {
			g.WithLabelValues(s.Device).Set(v)
		}
	}
	set(m.Voltage, sample.Voltage)
	set(m.Current, sample.Current)
	set(m.SoC, sample.BatteryLevel)
	return nil
}

// Forget removes the series of an unregistered device
func (m *Metrics) Forget(device string) {
	labels := prometheus.Labels{"device": device}
	for _, g := range []*prometheus.GaugeVec{m.LinkQuality, m.Voltage, m.Current, m.SoC} {
		g.Delete(labels)
	}
	m.Cycles.DeletePartialMatch(labels)
	m.FramesRejected.DeletePartialMatch(labels)
	m.CycleDuration.Delete(labels)
}
