// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sample holds one decoded measurement snapshot of a battery
// pack and the calculator that fills in values the device does not
// report itself.
package sample

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Key names a scalar measurement
type Key int

const (
	Voltage        Key = iota // V
	Current                   // A, positive while charging
	Power                     // W, positive while charging
	Temperature               // °C
	BatteryLevel              // %
	Cycles                    // count
	CycleCharge               // Ah
	CycleCapacity             // Wh
	DesignCapacity            // Ah
	DeltaVoltage              // V
	Runtime                   // s to empty
	TimeToFull                // s to full
	BalanceCurrent            // A
	CellCount                 // count
	TempSensors               // count

	keyCount
)

var keyNames = [keyCount]string{
	Voltage:        "voltage",
	Current:        "current",
	Power:          "power",
	Temperature:    "temperature",
	BatteryLevel:   "battery_level",
	Cycles:         "cycles",
	CycleCharge:    "cycle_charge",
	CycleCapacity:  "cycle_capacity",
	DesignCapacity: "design_capacity",
	DeltaVoltage:   "delta_voltage",
	Runtime:        "runtime",
	TimeToFull:     "time_to_full",
	BalanceCurrent: "balance_current",
	CellCount:      "cell_count",
	TempSensors:    "temp_sensors",
}

var keyUnits = [keyCount]string{
	Voltage:        "V",
	Current:        "A",
	Power:          "W",
	Temperature:    "°C",
	BatteryLevel:   "%",
	CycleCharge:    "Ah",
	CycleCapacity:  "Wh",
	DesignCapacity: "Ah",
	DeltaVoltage:   "V",
	Runtime:        "s",
	TimeToFull:     "s",
	BalanceCurrent: "A",
}

// String returns the snake_case key name
func (k Key) String() string {
	if k < 0 || k >= keyCount {
		return fmt.Sprintf("key_%d", int(k))
	}
	return keyNames[k]
}

// Unit returns the SI unit of the key, empty for counts
func (k Key) Unit() string {
	if k < 0 || k >= keyCount {
		return ""
	}
	return keyUnits[k]
}

// ParseKey looks a key up by name
func ParseKey(name string) (Key, bool) {
	for k, n := range keyNames {
		if n == name {
			return Key(k), true
		}
	}
	return 0, false
}

// Sample is one measurement snapshot. Decoders fill it through Set and
// the slice fields; once Derive has returned, a Sample is treated as
// read-only.
type Sample struct {
	Device    string
	Profile   string
	Timestamp time.Time

	Cells []float64 // V per cell
	Temps []float64 // °C per sensor

	// ProblemCode is the device warning/protection bitfield, 0 means none
	ProblemCode uint64

	Charging bool
	Problem  bool

	values    map[Key]float64
	untrusted map[Key]float64
}

// New creates an empty sample stamped with the current time
func New(profile string) *Sample {
	return &Sample{
		Profile:   profile,
		Timestamp: time.Now(),
		values:    make(map[Key]float64),
	}
}

// Set stores a value
func (s *Sample) Set(k Key, v float64) {
	if s.values == nil {
		s.values = make(map[Key]float64)
	}
	s.values[k] = v
}

// Get returns a value and whether it is present
func (s *Sample) Get(k Key) (float64, bool) {
	v, ok := s.values[k]
	return v, ok
}

// Value returns a value or 0
func (s *Sample) Value(k Key) float64 {
	return s.values[k]
}

// Has reports whether k is present
func (s *Sample) Has(k Key) bool {
	_, ok := s.values[k]
	return ok
}

// MarkUntrusted keeps a device-reported value aside instead of storing it.
// Derive recomputes the key from trusted inputs.
func (s *Sample) MarkUntrusted(k Key, reported float64) {
	if s.untrusted == nil {
		s.untrusted = make(map[Key]float64)
	}
	s.untrusted[k] = reported
	delete(s.values, k)
}

// Untrusted returns the reported value of a key marked untrusted
func (s *Sample) Untrusted(k Key) (float64, bool) {
	v, ok := s.untrusted[k]
	return v, ok
}

// Keys returns the present keys in declaration order
func (s *Sample) Keys() []Key {
	keys := make([]Key, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Clone returns a deep copy
func (s *Sample) Clone() *Sample {
	c := *s
	c.Cells = append([]float64(nil), s.Cells...)
	c.Temps = append([]float64(nil), s.Temps...)
	c.values = make(map[Key]float64, len(s.values))
	for k, v := range s.values {
		c.values[k] = v
	}
	if s.untrusted != nil {
		c.untrusted = make(map[Key]float64, len(s.untrusted))
		for k, v := range s.untrusted {
			c.untrusted[k] = v
		}
	}
	return &c
}

// String renders the sample on one line per group
func (s *Sample) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", s.Timestamp.Format("15:04:05.000"), s.Profile)
	if s.Device != "" {
		fmt.Fprintf(&sb, " (%s)", s.Device)
	}
	sb.WriteString("\n")

	for _, k := range s.Keys() {
		fmt.Fprintf(&sb, "  %-16s %g", k, s.values[k])
		if u := k.Unit(); u != "" {
			sb.WriteString(" " + u)
		}
		sb.WriteString("\n")
	}
	for k, v := range s.untrusted {
		fmt.Fprintf(&sb, "  %-16s %g (reported, untrusted)\n", k, v)
	}
	if len(s.Cells) > 0 {
		fmt.Fprintf(&sb, "  cells            %v\n", s.Cells)
	}
	if len(s.Temps) > 0 {
		fmt.Fprintf(&sb, "  temps            %v\n", s.Temps)
	}
	fmt.Fprintf(&sb, "  charging=%t problem=%t problem_code=0x%X", s.Charging, s.Problem, s.ProblemCode)
	return sb.String()
}
