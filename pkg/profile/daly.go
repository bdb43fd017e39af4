// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package profile

import (
	"github.com/Thermoquad/cellwatch/pkg/codec"
	"github.com/Thermoquad/cellwatch/pkg/frame"
	"github.com/Thermoquad/cellwatch/pkg/sample"
)

// Daly replies carry no command echo; the byte count tells them apart
const (
	DalyKindBatInfo = 0x7C
	DalyKindMOSInfo = 0x12

	dalyHead     = 3
	dalyMaxCells = 32
	dalyMaxTemps = 8
)

var dalyLayout = &frame.Layout{
	Name:      "daly",
	Header:    []byte{0xD2, 0x03},
	MinHeader: 3,
	Length:    frame.LengthByte(2, 5),
	MaxLen:    256,
	Kind:      frame.KindAt(2),
	Checksum: frame.Checksum{
		Algorithm: frame.AlgoModbus,
		Start:     0, End: -2, Pos: -2, Width: 2, Order: codec.LittleEndian,
	},
}

func dalyField(name string, offset int, scales ...codec.Scale) codec.Field {
	return codec.Field{Name: name, Offset: dalyHead + offset, Width: 2, Order: codec.BigEndian, Scales: scales}
}

func init() {
	current := dalyField("current", 82, codec.Deci)
	current.Bias = -30000

	register(&definition{
		name: "daly",
		info: DeviceInfo{Manufacturer: "Daly", Model: "Smart BMS"},
		matchers: []Matcher{
			{LocalName: "DL-*", Service: 0xFFF0},
			{LocalName: "DL-FB*", Manufacturer: 0x0303},
		},
		channels: Channels{Service: 0xFFF0, Notify: 0xFFF1, Write: 0xFFF2},
		layout:   dalyLayout,
		requests: []Command{
			// older firmware answers with nothing or an empty register block
			{Name: "mos_info", Bytes: DalyCommand(0x003E, 0x0009), Expect: []int{DalyKindMOSInfo}, Optional: true},
			{Name: "bat_info", Bytes: DalyCommand(0x0000, 0x003E), Expect: []int{DalyKindBatInfo}},
		},
		fields: []FieldSpec{
			{Kind: DalyKindBatInfo, Key: sample.Voltage, Field: dalyField("voltage", 80, codec.Deci)},
			{Kind: DalyKindBatInfo, Key: sample.Current, Field: current},
			{Kind: DalyKindBatInfo, Key: sample.BatteryLevel, Field: dalyField("battery_level", 84, codec.Deci)},
			{Kind: DalyKindBatInfo, Key: sample.CycleCharge, Field: dalyField("cycle_charge", 96, codec.Deci)},
			{Kind: DalyKindBatInfo, Key: sample.CellCount, Field: dalyField("cell_count", 98)},
			{Kind: DalyKindBatInfo, Key: sample.TempSensors, Field: dalyField("temp_sensors", 100)},
			{Kind: DalyKindBatInfo, Key: sample.Cycles, Field: dalyField("cycles", 102)},
			{Kind: DalyKindBatInfo, Key: sample.DeltaVoltage, Field: dalyField("delta_voltage", 112, codec.Milli)},
		},
		extra: decodeDaly,
	})
}

func decodeDaly(frames Frames, s *sample.Sample) error {
	buf, err := frames.Get(DalyKindBatInfo)
	if err != nil {
		return err
	}

	cells := int(s.Value(sample.CellCount))
	if cells > dalyMaxCells {
		cells = dalyMaxCells
		s.Set(sample.CellCount, dalyMaxCells)
	}
	temps := int(s.Value(sample.TempSensors))
	if temps > dalyMaxTemps {
		temps = dalyMaxTemps
		s.Set(sample.TempSensors, dalyMaxTemps)
	}

	// MOS temperature comes first when the device reports one
	if mos, err := frames.Get(DalyKindMOSInfo); err == nil {
		const pos = dalyHead + 8
		if len(mos) >= pos+2 && (mos[pos] != 0 || mos[pos+1] != 0) {
			v, err := codec.Int(mos, pos, 2, codec.BigEndian)
			if err != nil {
				return err
			}
			s.Temps = append(s.Temps, float64(v-40))
		}
	}

	temp := codec.Field{Name: "temp_values", Offset: dalyHead + 64, Width: 2, Order: codec.BigEndian,
		Sign: codec.TwosComplement, Bias: -40}
	values, err := decodeList(buf, temp, temps, 2)
	if err != nil {
		return err
	}
	s.Temps = append(s.Temps, values...)

	cell := codec.Field{Name: "cell_voltages", Offset: dalyHead, Width: 2, Order: codec.BigEndian,
		Sign: codec.TwosComplement, Scales: []codec.Scale{codec.Milli}}
	s.Cells, err = decodeList(buf, cell, cells, 2)
	return err
}
