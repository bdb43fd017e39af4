// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package profile

import (
	"github.com/Thermoquad/cellwatch/pkg/codec"
	"github.com/Thermoquad/cellwatch/pkg/frame"
	"github.com/Thermoquad/cellwatch/pkg/sample"
)

// JBD register kinds
const (
	JBDKindBasic = 0x03
	JBDKindCells = 0x04
)

var jbdLayout = &frame.Layout{
	Name:      "jbd",
	Header:    []byte{0xDD},
	Tail:      []byte{0x77},
	MinHeader: 4,
	Length:    frame.LengthByte(3, 7),
	MaxLen:    256,
	Kind:      frame.KindAt(1),
	Checksum: frame.Checksum{
		Algorithm: frame.AlgoSumComplement16,
		Start:     2, End: -3, Pos: -3, Width: 2, Order: codec.BigEndian,
	},
}

// jbdNames are the advertised name patterns of JBD based packs
var jbdNames = []string{
	"JBD-*", "SP0?S*", "SP1?S*", "SP2?S*", "AP2?S*", "GJ-*", "SX1*",
	"DP04S*", "ECO-LFP*", "121?0*", "12200*", "12300*", "LT40AH",
	"PKT*", "gokwh*", "OGR-*",
}

func init() {
	be := codec.BigEndian
	matchers := make([]Matcher, len(jbdNames))
	for i, n := range jbdNames {
		matchers[i] = Matcher{LocalName: n, Service: 0xFF00}
	}

	register(&definition{
		name:     "jbd",
		info:     DeviceInfo{Manufacturer: "Jiabaida", Model: "Smart BMS"},
		matchers: matchers,
		channels: Channels{Service: 0xFF00, Notify: 0xFF01, Write: 0xFF02},
		layout:   jbdLayout,
		requests: []Command{
			{Name: "basic_info", Bytes: JBDCommand(JBDKindBasic), Expect: []int{JBDKindBasic}},
			{Name: "cell_info", Bytes: JBDCommand(JBDKindCells), Expect: []int{JBDKindCells}},
		},
		fields: []FieldSpec{
			{Kind: JBDKindBasic, Key: sample.Voltage, Field: codec.Field{
				Name: "voltage", Offset: 4, Width: 2, Order: be, Scales: []codec.Scale{codec.Centi}}},
			{Kind: JBDKindBasic, Key: sample.Current, Field: codec.Field{
				Name: "current", Offset: 6, Width: 2, Order: be, Sign: codec.TwosComplement,
				Scales: []codec.Scale{codec.Centi}}},
			{Kind: JBDKindBasic, Key: sample.CycleCharge, Field: codec.Field{
				Name: "cycle_charge", Offset: 8, Width: 2, Order: be, Scales: []codec.Scale{codec.Centi}}},
			{Kind: JBDKindBasic, Key: sample.Cycles, Field: codec.Field{
				Name: "cycles", Offset: 12, Width: 2, Order: be}},
			{Kind: JBDKindBasic, Key: sample.BatteryLevel, Field: codec.Field{
				Name: "battery_level", Offset: 23, Width: 1}},
			{Kind: JBDKindBasic, Key: sample.TempSensors, Field: codec.Field{
				Name: "temp_sensors", Offset: 26, Width: 1}},
		},
		extra: decodeJBD,
	})
}

func decodeJBD(frames Frames, s *sample.Sample) error {
	basic, err := frames.Get(JBDKindBasic)
	if err != nil {
		return err
	}
	code, err := codec.Uint(basic, 20, 2, codec.BigEndian)
	if err != nil {
		return err
	}
	s.ProblemCode = code

	// 0.1 K with the 273.1 offset the firmware uses
	temp := codec.Field{Name: "temp_values", Offset: 27, Width: 2, Order: codec.BigEndian,
		Bias: -2731, Scales: []codec.Scale{codec.Deci}}
	if s.Temps, err = decodeList(basic, temp, int(s.Value(sample.TempSensors)), 2); err != nil {
		return err
	}

	cells, err := frames.Get(JBDKindCells)
	if err != nil {
		return err
	}
	cell := codec.Field{Name: "cell_voltages", Offset: 4, Width: 2, Order: codec.BigEndian,
		Scales: []codec.Scale{codec.Milli}}
	s.Cells, err = decodeList(cells, cell, int(cells[3])/2, 2)
	return err
}
