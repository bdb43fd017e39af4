// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package profile

import (
	"github.com/Thermoquad/cellwatch/pkg/codec"
	"github.com/Thermoquad/cellwatch/pkg/frame"
	"github.com/Thermoquad/cellwatch/pkg/sample"
)

// RoyPow reply kinds
const (
	RoyPowKindCells  = 0x02
	RoyPowKindStatus = 0x03
	RoyPowKindInfo   = 0x04

	roypowNoRuntime = 0xFFFF
	roypowTempBias  = -40
)

var roypowLayout = &frame.Layout{
	Name:      "roypow",
	Header:    []byte{0xEA, 0xD1, 0x01},
	Tail:      []byte{0xF5},
	MinHeader: 4,
	Length:    frame.LengthByte(3, 4),
	MaxLen:    260,
	Kind:      frame.KindAt(5),
	Checksum: frame.Checksum{
		Algorithm: frame.AlgoXOR, Start: 3, End: -2, Pos: -2, Width: 1,
	},
	Noise: [][]byte{[]byte("AT+STAT\r\n")},
}

func init() {
	var matchers []Matcher
	for _, id := range []uint16{0x01A8, 0x0B31, 0x8AFB, 0xC0EA} {
		matchers = append(matchers, Matcher{Service: 0xFFE0, Manufacturer: id})
	}

	be := codec.BigEndian
	register(&definition{
		name:     "roypow",
		info:     DeviceInfo{Manufacturer: "RoyPow", Model: "SmartBMS"},
		matchers: matchers,
		channels: Channels{Service: 0xFFE0, Notify: 0xFFE1, Write: 0xFFE1},
		layout:   roypowLayout,
		requests: []Command{
			{Name: "cells", Bytes: RoyPowCommand(0xFF, RoyPowKindCells), Expect: []int{RoyPowKindCells}},
			{Name: "status", Bytes: RoyPowCommand(0xFF, RoyPowKindStatus), Expect: []int{RoyPowKindStatus}},
			{Name: "info", Bytes: RoyPowCommand(0xFF, RoyPowKindInfo), Expect: []int{RoyPowKindInfo}},
		},
		fields: []FieldSpec{
			{Kind: RoyPowKindInfo, Key: sample.BatteryLevel, Field: codec.Field{
				Name: "battery_level", Offset: 7, Width: 1}},
			{Kind: RoyPowKindInfo, Key: sample.Voltage, Field: codec.Field{
				Name: "voltage", Offset: 47, Width: 2, Order: be, Scales: []codec.Scale{codec.Centi}}},
			{Kind: RoyPowKindInfo, Key: sample.Cycles, Field: codec.Field{
				Name: "cycles", Offset: 9, Width: 2, Order: be}},
			// bit 0 of the byte ahead of the magnitude is the discharge flag
			{Kind: RoyPowKindStatus, Key: sample.Current, Field: codec.Field{
				Name: "current", Offset: 7, Width: 2, Order: be,
				Sign: codec.SignBit, SignOffset: 6, SignMask: 0x01,
				Scales: []codec.Scale{codec.Centi}}},
			{Kind: RoyPowKindStatus, Key: sample.TempSensors, Field: codec.Field{
				Name: "temp_sensors", Offset: 13, Width: 1}},
		},
		extra: decodeRoyPow,
	})
}

func decodeRoyPow(frames Frames, s *sample.Sample) error {
	info, err := frames.Get(RoyPowKindInfo)
	if err != nil {
		return err
	}

	// The low half of the charge counter is byte swapped on the wire
	raw, err := codec.Uint(info, 24, 4, codec.BigEndian)
	if err != nil {
		return err
	}
	charge := raw&0xFFFF0000 | (raw&0xFF00)>>8 | (raw&0xFF)<<8
	s.Set(sample.CycleCharge, float64(charge)/1000)

	// 0xFFFF while charging
	minutes, err := codec.Uint(info, 30, 2, codec.BigEndian)
	if err != nil {
		return err
	}
	if minutes != roypowNoRuntime {
		s.Set(sample.Runtime, float64(minutes*60))
	}

	status, err := frames.Get(RoyPowKindStatus)
	if err != nil {
		return err
	}
	if s.ProblemCode, err = codec.Uint(status, 9, 3, codec.BigEndian); err != nil {
		return err
	}
	temp := codec.Field{Name: "temp_values", Offset: 14, Width: 1, Bias: roypowTempBias}
	if s.Temps, err = decodeList(status, temp, int(s.Value(sample.TempSensors)), 1); err != nil {
		return err
	}

	cells, err := frames.Get(RoyPowKindCells)
	if err != nil {
		return err
	}
	count := (len(cells) - 11) / 2
	if count < 0 {
		count = 0
	}
	cell := codec.Field{Name: "cell_voltages", Offset: 9, Width: 2, Order: codec.BigEndian,
		Scales: []codec.Scale{codec.Milli}}
	values, err := decodeList(cells, cell, count, 2)
	if err != nil {
		return err
	}
	s.Cells = nonZero(values)
	return nil
}
