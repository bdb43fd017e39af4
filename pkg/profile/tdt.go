// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package profile

import (
	"time"

	"github.com/Thermoquad/cellwatch/pkg/codec"
	"github.com/Thermoquad/cellwatch/pkg/frame"
	"github.com/Thermoquad/cellwatch/pkg/sample"
)

// TDT command kinds
const (
	TDTKindInfo   = 0x8C
	TDTKindStatus = 0x8D

	tdtHead    = 0x7E
	tdtAltHead = 0x1E
	tdtCellPos = 8
	tdtConfig  = 0xFFFA
)

var tdtLayout = &frame.Layout{
	Name:       "tdt",
	Header:     []byte{tdtHead},
	AltHeaders: [][]byte{{tdtAltHead}},
	Tail:       []byte{0x0D},
	MinHeader:  8,
	Length:     frame.LengthUint16(6, 11, codec.BigEndian),
	MaxLen:     512,
	Kind:       frame.KindAt(5),
	Checksum: frame.Checksum{
		Algorithm: frame.AlgoModbus,
		Start:     0, End: -3, Pos: -3, Width: 2, Order: codec.BigEndian,
	},
}

func init() {
	register(&definition{
		name:     "tdt",
		info:     DeviceInfo{Manufacturer: "TDT", Model: "Smart BMS"},
		matchers: []Matcher{{Manufacturer: 54976}},
		channels: Channels{Service: 0xFFF0, Notify: 0xFFF1, Write: 0xFFF2},
		layout:   tdtLayout,
		handshake: []Command{
			// unlocks the command channel; the device does not notify
			{Name: "unlock", Bytes: []byte("HiLink"), Char: tdtConfig, Delay: 100 * time.Millisecond},
		},
		requests: []Command{
			{Name: "info", Bytes: TDTCommand(tdtHead, TDTKindInfo), Expect: []int{TDTKindInfo}},
			{Name: "status", Bytes: TDTCommand(tdtHead, TDTKindStatus), Expect: []int{TDTKindStatus}},
		},
		extra: decodeTDT,
	})
}

func decodeTDT(frames Frames, s *sample.Sample) error {
	info, err := frames.Get(TDTKindInfo)
	if err != nil {
		return err
	}
	if err := tdtCheck(info); err != nil {
		return err
	}
	if len(info) <= tdtCellPos {
		return &codec.DecodeError{Field: "cell_count", Offset: tdtCellPos, Width: 1, Len: len(info), Reason: "out of bounds"}
	}

	cells := int(info[tdtCellPos])
	cell := codec.Field{Name: "cell_voltages", Offset: tdtCellPos + 1, Width: 2, Order: codec.BigEndian,
		Scales: []codec.Scale{codec.Milli}}
	if s.Cells, err = decodeList(info, cell, cells, 2); err != nil {
		return err
	}

	sensorPos := tdtCellPos + 1 + 2*cells
	if sensorPos >= len(info) {
		return &codec.DecodeError{Field: "temp_sensors", Offset: sensorPos, Width: 1, Len: len(info), Reason: "out of bounds"}
	}
	sensors := int(info[sensorPos])
	s.Set(sample.CellCount, float64(cells))
	s.Set(sample.TempSensors, float64(sensors))

	// 0.1 K; unpopulated sensors read 0
	temp := codec.Field{Name: "temp_values", Offset: sensorPos + 1, Width: 2, Order: codec.BigEndian,
		Scales: []codec.Scale{codec.Deci}}
	kelvin, err := decodeList(info, temp, sensors, 2)
	if err != nil {
		return err
	}
	for _, k := range nonZero(kelvin) {
		s.Temps = append(s.Temps, k-273.15)
	}

	offs := sensorPos + 1 + 2*sensors
	be := codec.BigEndian
	fields := []FieldSpec{
		// bit 15 is the discharge flag, bit 14 is reserved
		{Key: sample.Current, Field: codec.Field{Name: "current", Offset: offs, Width: 2, Order: be,
			Sign: codec.SignBit, SignOffset: offs, SignMask: 0x80, MagnitudeMask: 0x3FFF,
			Scales: []codec.Scale{codec.Deci}}},
		{Key: sample.Voltage, Field: codec.Field{Name: "voltage", Offset: offs + 2, Width: 2, Order: be,
			Scales: []codec.Scale{codec.Centi}}},
		{Key: sample.CycleCharge, Field: codec.Field{Name: "cycle_charge", Offset: offs + 4, Width: 2, Order: be,
			Scales: []codec.Scale{codec.Deci}}},
		{Key: sample.Cycles, Field: codec.Field{Name: "cycles", Offset: offs + 8, Width: 2, Order: be}},
		{Key: sample.BatteryLevel, Field: codec.Field{Name: "battery_level", Offset: offs + 13, Width: 1}},
	}
	for _, fs := range fields {
		v, err := fs.Decode(info)
		if err != nil {
			return err
		}
		s.Set(fs.Key, v)
	}

	status, err := frames.Get(TDTKindStatus)
	if err != nil {
		return err
	}
	if err := tdtCheck(status); err != nil {
		return err
	}
	// The status block offset counts cells and sensors once each, unlike
	// the two-byte entries of the info block
	code, err := codec.Uint(status, tdtCellPos+cells+sensors+6, 2, codec.BigEndian)
	if err != nil {
		return err
	}
	s.ProblemCode = code
	return nil
}

// tdtCheck rejects replies with an unknown version or a device error code
func tdtCheck(buf []byte) error {
	if len(buf) < 5 {
		return &codec.DecodeError{Field: "header", Len: len(buf), Width: 5, Reason: "out of bounds"}
	}
	if buf[1] != 0x00 {
		return &codec.DecodeError{Field: "version", Offset: 1, Width: 1, Len: len(buf), Reason: "unknown frame version"}
	}
	if buf[4] != 0x00 {
		return &codec.DecodeError{Field: "error_code", Offset: 4, Width: 1, Len: len(buf), Reason: "device reported an error"}
	}
	return nil
}
