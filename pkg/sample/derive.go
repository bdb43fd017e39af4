// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sample

import "math"

const (
	// NoiseCurrent is the |I| below which the pack is treated as idle
	NoiseCurrent = 0.01
	// MaxCellVoltage is the highest plausible cell potential
	MaxCellVoltage = 5.906

	secondsPerHour = 3600
)

// Derive returns a copy of s with every missing value that can be
// computed from the present ones, and with the plausibility flag set.
// Values the device reported are never overwritten; keys marked
// untrusted are recomputed.
func Derive(s *Sample) *Sample {
	d := s.Clone()

	if !d.Has(Voltage) && len(d.Cells) > 0 {
		sum := 0.0
		for _, c := range d.Cells {
			sum += c
		}
		d.Set(Voltage, round(sum, 3))
	}

	if !d.Has(DeltaVoltage) && len(d.Cells) > 0 {
		d.Set(DeltaVoltage, maxOf(d.Cells)-minOf(d.Cells))
	}

	if !d.Has(CellCount) && len(d.Cells) > 0 {
		d.Set(CellCount, float64(len(d.Cells)))
	}

	design, hasDesign := d.Get(DesignCapacity)
	if level, ok := d.Get(BatteryLevel); ok && hasDesign && !d.Has(CycleCharge) {
		d.Set(CycleCharge, design*level/100)
	}
	if charge, ok := d.Get(CycleCharge); ok && hasDesign && design > 0 && !d.Has(BatteryLevel) {
		d.Set(BatteryLevel, round(charge/design*100, 1))
	}

	voltage, hasVoltage := d.Get(Voltage)
	charge, hasCharge := d.Get(CycleCharge)
	current, hasCurrent := d.Get(Current)

	if hasVoltage && hasCharge && !d.Has(CycleCapacity) {
		d.Set(CycleCapacity, round(voltage*charge, 3))
	}

	if hasVoltage && hasCurrent && !d.Has(Power) {
		d.Set(Power, round(voltage*current, 3))
	}

	if hasCurrent {
		d.Charging = current > 0
	}

	if hasCurrent && hasCharge && !d.Has(Runtime) && current < -NoiseCurrent {
		d.Set(Runtime, math.Trunc(charge/math.Abs(current)*secondsPerHour))
	}

	if hasCurrent && hasCharge && hasDesign && !d.Has(TimeToFull) && current > NoiseCurrent {
		if deficit := design - charge; deficit >= 0 {
			d.Set(TimeToFull, math.Trunc(deficit/current*secondsPerHour))
		}
	}

	if !d.Has(Temperature) && len(d.Temps) > 0 {
		sum := 0.0
		for _, t := range d.Temps {
			sum += t
		}
		d.Set(Temperature, round(sum/float64(len(d.Temps)), 3))
	}

	if !d.Has(TempSensors) && len(d.Temps) > 0 {
		d.Set(TempSensors, float64(len(d.Temps)))
	}

	d.Problem = d.Problem || implausible(d)
	return d
}

// implausible reports values outside physically sane bounds or a
// nonzero device problem code
func implausible(s *Sample) bool {
	if s.ProblemCode != 0 {
		return true
	}
	if v, ok := s.Get(Voltage); ok && v <= 0 {
		return true
	}
	for _, c := range s.Cells {
		if c <= 0 || c > MaxCellVoltage {
			return true
		}
	}
	if v, ok := s.Get(DeltaVoltage); ok && v > MaxCellVoltage {
		return true
	}
	if v, ok := s.Get(CycleCharge); ok && v <= 0 {
		return true
	}
	if v, ok := s.Get(BatteryLevel); ok && (v < 0 || v > 100) {
		return true
	}
	return false
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func maxOf(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minOf(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
