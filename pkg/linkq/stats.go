// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package linkq

import (
	"fmt"
	"sort"
	"time"

	"github.com/Thermoquad/cellwatch/pkg/acquire"
)

// Stats tracks cycle counters and rates for one device
type Stats struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalCycles   uint64
	SuccessCycles uint64
	FailedCycles  uint64
	IgnoredFrames uint64

	// Failures counts failed cycles by acquire.Reason
	Failures   map[string]uint64
	// Rejections counts rejected frames by reject reason
	Rejections map[string]uint64

	// Averages over all cycles
	SendsPerCycle float64
	AverageCycle  time.Duration
	totalSends    uint64
	totalDuration time.Duration

	// Rates (calculated)
	CycleRate float64 // cycles/min
	ErrorRate float64 // failures/min
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Stats {
	now := time.Now()
	return &Stats{
		StartTime:      now,
		LastUpdateTime: now,
		Failures:       map[string]uint64{},
		Rejections:     map[string]uint64{},
	}
}

// Update counts one finished cycle
func (s *Stats) Update(res *acquire.Result, err error) {
	s.TotalCycles++
	if err != nil {
		s.FailedCycles++
		s.Failures[acquire.Reason(err)]++
	} else {
		s.SuccessCycles++
	}

	if res != nil {
		for _, r := range res.Rejected {
			s.Rejections[r.String()]++
		}
		s.IgnoredFrames += uint64(res.Ignored)
		s.totalSends += uint64(res.Attempts)
		s.totalDuration += res.Duration
		s.SendsPerCycle = float64(s.totalSends) / float64(s.TotalCycles)
		s.AverageCycle = s.totalDuration / time.Duration(s.TotalCycles)
	}

	s.LastUpdateTime = time.Now()
}

// CalculateRates calculates cycle and failure rates
func (s *Stats) CalculateRates() {
	elapsed := time.Since(s.StartTime).Minutes()
	if elapsed > 0 {
		s.CycleRate = float64(s.TotalCycles) / elapsed
		s.ErrorRate = float64(s.FailedCycles) / elapsed
	}
}

// Clone returns a deep copy
func (s *Stats) Clone() *Stats {
	c := *s
	c.Failures = make(map[string]uint64, len(s.Failures))
	for k, v := range s.Failures {
		c.Failures[k] = v
	}
	c.Rejections = make(map[string]uint64, len(s.Rejections))
	for k, v := range s.Rejections {
		c.Rejections[k] = v
	}
	return &c
}

// String returns a formatted statistics summary
func (s *Stats) String() string {
	s.CalculateRates()

	var successPercent, failedPercent float64
	if s.TotalCycles > 0 {
		successPercent = float64(s.SuccessCycles) * 100.0 / float64(s.TotalCycles)
		failedPercent = float64(s.FailedCycles) * 100.0 / float64(s.TotalCycles)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Link Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Cycles:    %8d\n", s.TotalCycles)
	result += fmt.Sprintf("Successful:      %8d (%.1f%%)\n", s.SuccessCycles, successPercent)

	if s.FailedCycles > 0 {
		result += fmt.Sprintf("Failed:          %8d (%.1f%%)\n", s.FailedCycles, failedPercent)
		for _, k := range sortedKeys(s.Failures) {
			result += fmt.Sprintf("  %-18s %5d\n", k+":", s.Failures[k])
		}
	}
	if len(s.Rejections) > 0 {
		result += "Rejected Frames:\n"
		for _, k := range sortedKeys(s.Rejections) {
			result += fmt.Sprintf("  %-18s %5d\n", k+":", s.Rejections[k])
		}
	}
	if s.IgnoredFrames > 0 {
		result += fmt.Sprintf("Ignored Frames:  %8d\n", s.IgnoredFrames)
	}

	result += fmt.Sprintf("Sends/Cycle:     %8.2f\n", s.SendsPerCycle)
	result += fmt.Sprintf("Avg Cycle:       %8s\n", s.AverageCycle.Round(time.Millisecond))
	result += fmt.Sprintf("Cycle Rate:      %8.1f cycles/min\n", s.CycleRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/min\n", s.ErrorRate)
	result += "=====================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Stats) Reset() {
	*s = *NewStatistics()
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
