// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package linkq

import (
	"errors"
	"sort"
	"sync"

	"github.com/Thermoquad/cellwatch/pkg/acquire"
)

// Tracker keys a Window and Stats by device. Each device has its own
// lock, so devices updating concurrently never contend.
type Tracker struct {
	entries sync.Map // device -> *entry
}

type entry struct {
	mu     sync.Mutex
	window Window
	stats  *Stats
}

// Snapshot is a point-in-time copy of one device's link quality
type Snapshot struct {
	Device string
	Ratio  float64
	// Cycles is the number of outcomes in the window
	Cycles int
	Stats  *Stats
}

// New creates an empty Tracker
func New() *Tracker {
	return &Tracker{}
}

func (t *Tracker) entry(device string) *entry {
	if e, ok := t.entries.Load(device); ok {
		return e.(*entry)
	}
	e, _ := t.entries.LoadOrStore(device, &entry{stats: NewStatistics()})
	return e.(*entry)
}

// Observe records a finished cycle. It implements acquire.Observer.
// A cycle refused as busy never ran and is not recorded.
func (t *Tracker) Observe(device string, res *acquire.Result, err error) {
	if errors.Is(err, acquire.ErrSessionBusy) {
		return
	}
	e := t.entry(device)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.window.Add(err == nil)
	e.stats.Update(res, err)
}

// Record adds a bare outcome without cycle details
func (t *Tracker) Record(device string, ok bool) {
	e := t.entry(device)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.window.Add(ok)
}

// Ratio returns the success ratio of the device's window. ok is false
// when nothing was recorded for the device.
func (t *Tracker) Ratio(device string) (ratio float64, ok bool) {
	v, found := t.entries.Load(device)
	if !found {
		return 0, false
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.window.Len() == 0 {
		return 0, false
	}
	return e.window.Ratio(), true
}

// Snapshot copies the state of one device
func (t *Tracker) Snapshot(device string) (Snapshot, bool) {
	v, found := t.entries.Load(device)
	if !found {
		return Snapshot{}, false
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Device: device,
		Ratio:  e.window.Ratio(),
		Cycles: e.window.Len(),
		Stats:  e.stats.Clone(),
	}, true
}

// Devices returns the tracked device names, sorted
func (t *Tracker) Devices() []string {
	var names []string
	t.entries.Range(func(k, _ interface{}) bool {
		names = append(names, k.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// Reset clears the window and counters of one device
func (t *Tracker) Reset(device string) {
	v, found := t.entries.Load(device)
	if !found {
		return
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.window = Window{}
	e.stats.Reset()
}

// Forget drops a device when it is unregistered
func (t *Tracker) Forget(device string) {
	t.entries.Delete(device)
}
