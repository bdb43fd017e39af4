// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package profile

import (
	"github.com/Thermoquad/cellwatch/pkg/codec"
	"github.com/Thermoquad/cellwatch/pkg/frame"
	"github.com/Thermoquad/cellwatch/pkg/sample"
)

const (
	redodoMaxCells = 16
	redodoTemps    = 3
)

var redodoLayout = &frame.Layout{
	Name:      "redodo",
	Header:    []byte{0x00, 0x00},
	MinHeader: 3,
	Length:    frame.LengthByte(2, 4),
	MaxLen:    260,
	Checksum: frame.Checksum{
		Algorithm: frame.AlgoSum8, Start: 0, End: -1, Pos: -1, Width: 1,
	},
}

func init() {
	le := codec.LittleEndian
	register(&definition{
		name:     "redodo",
		info:     DeviceInfo{Manufacturer: "Redodo", Model: "Bluetooth battery"},
		matchers: []Matcher{{Service: 0xFFE0, Manufacturer: 0x585A}},
		channels: Channels{Service: 0xFFE0, Notify: 0xFFE1, Write: 0xFFE2},
		layout:   redodoLayout,
		requests: []Command{
			{Name: "status", Bytes: RedodoCommand(), Expect: []int{0}},
		},
		fields: []FieldSpec{
			{Key: sample.Voltage, Field: codec.Field{
				Name: "voltage", Offset: 12, Width: 2, Order: le, Scales: []codec.Scale{codec.Milli}}},
			{Key: sample.Current, Field: codec.Field{
				Name: "current", Offset: 48, Width: 4, Order: le, Sign: codec.TwosComplement,
				Scales: []codec.Scale{codec.Milli}}},
			{Key: sample.CycleCharge, Field: codec.Field{
				Name: "cycle_charge", Offset: 62, Width: 2, Order: le, Scales: []codec.Scale{codec.Centi}}},
			{Key: sample.BatteryLevel, Field: codec.Field{
				Name: "battery_level", Offset: 90, Width: 2, Order: le}},
			{Key: sample.Cycles, Field: codec.Field{
				Name: "cycles", Offset: 96, Width: 4, Order: le}},
		},
		extra: decodeRedodo,
	})
}

func decodeRedodo(frames Frames, s *sample.Sample) error {
	buf, err := frames.Get(0)
	if err != nil {
		return err
	}

	cell := codec.Field{Name: "cell_voltages", Offset: 16, Width: 2, Order: codec.LittleEndian,
		Scales: []codec.Scale{codec.Milli}}
	cells, err := decodeList(buf, cell, redodoMaxCells, 2)
	if err != nil {
		return err
	}
	s.Cells = nonZero(cells)

	temp := codec.Field{Name: "temp_values", Offset: 52, Width: 2, Order: codec.LittleEndian,
		Sign: codec.TwosComplement}
	s.Temps, err = decodeList(buf, temp, redodoTemps, 2)
	return err
}
