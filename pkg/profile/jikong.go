// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package profile

import (
	"math/bits"

	"github.com/Thermoquad/cellwatch/pkg/codec"
	"github.com/Thermoquad/cellwatch/pkg/frame"
	"github.com/Thermoquad/cellwatch/pkg/sample"
)

// JiKong frame kinds
const (
	JikongKindSettings = 0x01
	JikongKindCells    = 0x02
	JikongKindInfo     = 0x03

	jikongFrameLen = 300
	jikongCellMask = 70
)

var jikongLayout = &frame.Layout{
	Name:      "jikong",
	Header:    []byte{0x55, 0xAA, 0xEB, 0x90},
	MinHeader: 5,
	Length:    frame.FixedLength(jikongFrameLen),
	MaxLen:    jikongFrameLen,
	Kind:      frame.KindAt(4),
	Checksum: frame.Checksum{
		Algorithm: frame.AlgoSum8, Start: 0, End: -1, Pos: -1, Width: 1,
	},
	Noise: [][]byte{[]byte("AT\r\n")},
}

// Offsets follow the JK02_32S layout; JK02_24S firmware puts every
// field after the cells 32 bytes earlier and is not supported.
func init() {
	le := codec.LittleEndian
	register(&definition{
		name:     "jikong",
		info:     DeviceInfo{Manufacturer: "Jikong", Model: "Smart BMS"},
		matchers: []Matcher{{Service: 0xFFE0, Manufacturer: 0x0B65}},
		channels: Channels{Service: 0xFFE0, Notify: 0xFFE1, Write: 0xFFE1},
		layout:   jikongLayout,
		handshake: []Command{
			{Name: "device_info", Bytes: JikongCommand(0x97), Expect: []int{JikongKindInfo}},
		},
		requests: []Command{
			{Name: "cell_info", Bytes: JikongCommand(0x96), Expect: []int{JikongKindCells}},
		},
		timing: Timing{MaxWrite: 20},
		fields: []FieldSpec{
			{Kind: JikongKindCells, Key: sample.DeltaVoltage, Field: codec.Field{
				Name: "delta_voltage", Offset: 76, Width: 2, Order: le, Scales: []codec.Scale{codec.Milli}}},
			{Kind: JikongKindCells, Key: sample.Temperature, Field: codec.Field{
				Name: "temperature", Offset: 144, Width: 2, Order: le, Sign: codec.TwosComplement,
				Scales: []codec.Scale{codec.Deci}}},
			{Kind: JikongKindCells, Key: sample.Voltage, Field: codec.Field{
				Name: "voltage", Offset: 150, Width: 4, Order: le, Scales: []codec.Scale{codec.Milli}}},
			{Kind: JikongKindCells, Key: sample.Current, Field: codec.Field{
				Name: "current", Offset: 158, Width: 4, Order: le, Sign: codec.TwosComplement,
				Scales: []codec.Scale{codec.Milli}}},
			{Kind: JikongKindCells, Key: sample.BatteryLevel, Field: codec.Field{
				Name: "battery_level", Offset: 173, Width: 1}},
			{Kind: JikongKindCells, Key: sample.CycleCharge, Field: codec.Field{
				Name: "cycle_charge", Offset: 174, Width: 4, Order: le, Scales: []codec.Scale{codec.Milli}}},
			{Kind: JikongKindCells, Key: sample.Cycles, Field: codec.Field{
				Name: "cycles", Offset: 182, Width: 4, Order: le}},
		},
		extra: decodeJikong,
	})
}

func decodeJikong(frames Frames, s *sample.Sample) error {
	buf, err := frames.Get(JikongKindCells)
	if err != nil {
		return err
	}
	mask, err := codec.Uint(buf, jikongCellMask, 4, codec.LittleEndian)
	if err != nil {
		return err
	}
	count := bits.OnesCount32(uint32(mask))
	s.Set(sample.CellCount, float64(count))

	cell := codec.Field{Name: "cell_voltages", Offset: 6, Width: 2, Order: codec.LittleEndian,
		Sign: codec.TwosComplement, Scales: []codec.Scale{codec.Milli}}
	s.Cells, err = decodeList(buf, cell, count, 2)
	return err
}
