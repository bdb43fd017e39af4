// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package linkq keeps a rolling record of acquisition outcomes per device
package linkq

// WindowSize is the number of cycles a Window remembers
const WindowSize = 100

// Window is a fixed ring of cycle outcomes. The zero value is empty and
// ready to use. It is not safe for concurrent use.
type Window struct {
	outcomes [WindowSize]bool
	next     int
	count    int
	success  int
}

// Add records one cycle outcome, evicting the oldest once full
func (w *Window) Add(ok bool) {
	if w.count == WindowSize {
		if w.outcomes[w.next] {
			w.success--
		}
	} else {
		w.count++
	}
	w.outcomes[w.next] = ok
	if ok {
		w.success++
	}
	w.next = (w.next + 1) % WindowSize
}

// Len returns the number of recorded cycles
func (w *Window) Len() int {
	return w.count
}

// Ratio returns the share of successful cycles, 0 for an empty window
func (w *Window) Ratio() float64 {
	if w.count == 0 {
		return 0
	}
	return float64(w.success) / float64(w.count)
}

// Outcomes returns the recorded outcomes, oldest first
func (w *Window) Outcomes() []bool {
	out := make([]bool, 0, w.count)
	start := w.next - w.count
	if start < 0 {
		start += WindowSize
	}
	for i := 0; i < w.count; i++ {
		out = append(out, w.outcomes[(start+i)%WindowSize])
	}
	return out
}
