// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package profile

import (
	"math"

	"github.com/Thermoquad/cellwatch/pkg/codec"
	"github.com/Thermoquad/cellwatch/pkg/frame"
	"github.com/Thermoquad/cellwatch/pkg/sample"
)

const (
	ectiveFrameLen = 113
	ectiveMaxCells = 16
)

// Ective packs stream ASCII hex frames; each value is little endian
// once its hex digits are decoded. Newer firmware starts frames with
// 0x83 instead of '^'.
var ectiveLayout = &frame.Layout{
	Name:         "ective",
	Header:       []byte("^"),
	AltHeaders:   [][]byte{{0x83}},
	MinHeader:    1,
	Length:       frame.FixedLength(ectiveFrameLen),
	MaxLen:       ectiveFrameLen,
	UniqueHeader: true,
	Checksum: frame.Checksum{
		Algorithm: frame.AlgoHexPairSum,
		Start:     1, End: -4, Pos: -4, Width: 4, Encoding: frame.ASCIIHex,
	},
}

func ectiveField(key sample.Key, name string, offset, width int, sign codec.Sign, scales ...codec.Scale) FieldSpec {
	return FieldSpec{
		Key:      key,
		Encoding: frame.ASCIIHex,
		Field: codec.Field{Name: name, Offset: offset, Width: width, Order: codec.LittleEndian,
			Sign: sign, Scales: scales},
	}
}

func init() {
	var matchers []Matcher
	for _, n := range []string{"$PFLAC*", "NWJ20*", "ZM20*"} {
		matchers = append(matchers, Matcher{LocalName: n, Service: 0xFFE0})
	}

	register(&definition{
		name:     "ective",
		info:     DeviceInfo{Manufacturer: "Ective", Model: "Smart BMS"},
		matchers: matchers,
		channels: Channels{Service: 0xFFE0, Notify: 0xFFE4},
		layout:   ectiveLayout,
		requests: []Command{
			{Name: "listen", Expect: []int{0}},
		},
		fields: []FieldSpec{
			ectiveField(sample.Voltage, "voltage", 1, 4, codec.Unsigned, codec.Milli),
			ectiveField(sample.Current, "current", 9, 4, codec.TwosComplement, codec.Milli),
			ectiveField(sample.CycleCharge, "cycle_charge", 17, 4, codec.Unsigned, codec.Milli),
			ectiveField(sample.Cycles, "cycles", 25, 2, codec.Unsigned),
			ectiveField(sample.BatteryLevel, "battery_level", 29, 2, codec.Unsigned),
		},
		extra: decodeEctive,
	})
}

func decodeEctive(frames Frames, s *sample.Sample) error {
	buf, err := frames.Get(0)
	if err != nil {
		return err
	}

	kelvin, err := ectiveField(sample.Temperature, "temperature", 33, 2, codec.Unsigned, codec.Deci).Decode(buf)
	if err != nil {
		return err
	}
	s.Set(sample.Temperature, math.Round((kelvin-273.15)*10)/10)

	code, err := ectiveField(0, "problem_code", 37, 1, codec.Unsigned).Decode(buf)
	if err != nil {
		return err
	}
	s.ProblemCode = uint64(code)

	for i := 0; i < ectiveMaxCells; i++ {
		v, err := ectiveField(0, "cell_voltages", 45+4*i, 2, codec.Unsigned, codec.Milli).Decode(buf)
		if err != nil {
			return err
		}
		if v != 0 {
			s.Cells = append(s.Cells, v)
		}
	}
	return nil
}
