// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"encoding/hex"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/cellwatch/internal/config"
	"github.com/Thermoquad/cellwatch/internal/logging"
	"github.com/Thermoquad/cellwatch/pkg/acquire"
	"github.com/Thermoquad/cellwatch/pkg/frame"
	"github.com/Thermoquad/cellwatch/pkg/linkq"
	"github.com/Thermoquad/cellwatch/pkg/profile"
)

// ============================================================
// Fakes
// ============================================================

// fakeConn answers known commands with canned notifications
type fakeConn struct {
	mu      sync.Mutex
	chunks  chan []byte
	replies map[string][]byte
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{chunks: make(chan []byte, 16), replies: map[string][]byte{}}
}

func jbdConn(t *testing.T) *fakeConn {
	c := newFakeConn()
	basic, _ := hex.DecodeString(jbdBasicHex)
	cells, _ := hex.DecodeString(jbdCellsHex)
	c.replies[hex.EncodeToString(profile.JBDCommand(profile.JBDKindBasic))] = basic
	c.replies[hex.EncodeToString(profile.JBDCommand(profile.JBDKindCells))] = cells
	return c
}

func (c *fakeConn) Write(_ context.Context, _ uint16, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	if r, ok := c.replies[hex.EncodeToString(data)]; ok {
		c.chunks <- r
	}
	return nil
}

func (c *fakeConn) Chunks() <-chan []byte {
	return c.chunks
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.chunks)
	}
	return nil
}

// fakeOpener hands out connections from newConn and counts opens
type fakeOpener struct {
	mu      sync.Mutex
	opens   int
	newConn func(n int) Connection
}

func (o *fakeOpener) Open(_ context.Context, d config.DeviceConfig, _ profile.Profile) (Connection, string, error) {
	o.mu.Lock()
	o.opens++
	n := o.opens
	o.mu.Unlock()
	return o.newConn(n), "fake: " + d.Name, nil
}

func (o *fakeOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

func testConfig(devices ...string) *config.Config {
	cfg := config.Default()
	for _, name := range devices {
		cfg.Devices = append(cfg.Devices, config.DeviceConfig{
			Name:         name,
			Profile:      "jbd",
			Address:      "AA:BB:CC:DD:EE:FF",
			Interval:     10 * time.Millisecond,
			TimeoutScale: 0.01,
		})
	}
	cfg.ApplyDefaults()
	return cfg
}

// cycleCounter cancels once every device finished n cycles
type cycleCounter struct {
	mu     sync.Mutex
	n      int
	seen   map[string]int
	errs   map[string][]error
	cancel context.CancelFunc
}

func (c *cycleCounter) Observe(device string, _ *acquire.Result, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[device]++
	if err != nil {
		c.errs[device] = append(c.errs[device], err)
	}
	for _, v := range c.seen {
		if v < c.n {
			return
		}
	}
	c.cancel()
}

// ============================================================
// Fleet Tests
// ============================================================

func TestFleet_PollsEveryDevice(t *testing.T) {
	cfg := testConfig("house", "starter")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	open := &fakeOpener{newConn: func(int) Connection { return jbdConn(t) }}
	f, err := newFleet(ctx, cfg, logging.Discard(), open)
	if err != nil {
		t.Fatalf("newFleet: %v", err)
	}

	counter := &cycleCounter{n: 3, seen: map[string]int{}, errs: map[string][]error{}, cancel: cancel}
	var snapshots sync.Map
	f.observers = append(f.observers, acquire.ObserverFunc(func(device string, _ *acquire.Result, _ error) {
		if snap, ok := f.tracker.Snapshot(device); ok {
			snapshots.Store(device, snap)
		}
	}), counter)

	if err := f.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ctx.Err() != context.Canceled {
		t.Fatal("fleet did not reach three cycles per device before the deadline")
	}

	for _, name := range []string{"house", "starter"} {
		if len(counter.errs[name]) != 0 {
			t.Errorf("%s: unexpected failures %v", name, counter.errs[name])
		}
		v, ok := snapshots.Load(name)
		if !ok {
			t.Fatalf("%s: never tracked", name)
		}
		if snap := v.(linkq.Snapshot); snap.Ratio != 1 {
			t.Errorf("%s: expected ratio 1, got %v", name, snap.Ratio)
		}
	}

	// stopped devices are dropped from link tracking
	if got := f.tracker.Devices(); len(got) != 0 {
		t.Errorf("expected no tracked devices after stop, got %v", got)
	}
}

func TestFleet_Reconnects(t *testing.T) {
	saved := reconnectDelay
	reconnectDelay = time.Millisecond
	defer func() { reconnectDelay = saved }()

	cfg := testConfig("house")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// the first connection drops before answering
	open := &fakeOpener{newConn: func(n int) Connection {
		c := jbdConn(t)
		if n == 1 {
			c.Close()
		}
		return c
	}}
	f, err := newFleet(ctx, cfg, logging.Discard(), open)
	if err != nil {
		t.Fatal(err)
	}
	var connected []string
	var mu sync.Mutex
	f.connected = func(device, info string) {
		mu.Lock()
		connected = append(connected, info)
		mu.Unlock()
	}
	f.observers = append(f.observers, acquire.ObserverFunc(func(_ string, _ *acquire.Result, err error) {
		if err == nil {
			cancel()
		}
	}))

	_ = f.Run(ctx)
	if open.count() < 2 {
		t.Errorf("expected a reconnect, got %d opens", open.count())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(connected) < 2 || connected[0] != "fake: house" {
		t.Errorf("unexpected connect notifications %v", connected)
	}
}

func TestFleet_NoDevices(t *testing.T) {
	if _, err := newFleet(context.Background(), config.Default(), logging.Discard(), &fakeOpener{}); err == nil {
		t.Error("expected an error without devices")
	}
}

func TestFleet_MetricsChain(t *testing.T) {
	cfg := testConfig("house")
	cfg.Metrics.Enabled = true
	f, err := newFleet(context.Background(), cfg, logging.Discard(), &fakeOpener{})
	if err != nil {
		t.Fatal(err)
	}
	obs := f.observerChain()
	if len(obs) != 2 || obs[0] != acquire.Observer(f.tracker) {
		t.Errorf("tracker must observe before metrics, got %v", obs)
	}
	if sinks := f.sinkChain(); len(sinks) != 1 {
		t.Errorf("expected the metrics sink only, got %d", len(sinks))
	}
}

// ============================================================
// Printer Tests
// ============================================================

func TestPrinter_Observe(t *testing.T) {
	var out bytes.Buffer
	p := &printer{w: &out}

	res := &acquire.Result{
		State:    acquire.Failed,
		Attempts: 3,
		Rejected: []frame.RejectReason{frame.ReasonChecksumMismatch},
	}
	err := &acquire.CycleError{State: acquire.AwaitingResponse, Step: "basic_info", Attempts: 3, Err: acquire.ErrResponseTimeout}
	p.Observe("house", res, err)

	text := out.String()
	for _, part := range []string{"house FAILED (response_timeout)", "rejected frames: [checksum_mismatch]"} {
		if !strings.Contains(text, part) {
			t.Errorf("missing %q:\n%s", part, text)
		}
	}
}

func TestPrinter_QuietHidesSamples(t *testing.T) {
	var out bytes.Buffer
	p := &printer{w: &out, quiet: true}
	p.Observe("house", &acquire.Result{}, nil)
	if out.Len() != 0 {
		t.Errorf("quiet printer wrote %q", out.String())
	}
}

func TestPrinter_Stats(t *testing.T) {
	var out bytes.Buffer
	p := &printer{w: &out}
	tr := linkq.New()
	tr.Record("house", true)
	tr.Record("house", false)
	p.stats(tr)
	if !strings.Contains(out.String(), "house: link quality 50% over 2 cycles") {
		t.Errorf("unexpected stats output:\n%s", out.String())
	}
}
