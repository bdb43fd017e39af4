// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package profile

import (
	"time"

	"github.com/Thermoquad/cellwatch/pkg/codec"
	"github.com/Thermoquad/cellwatch/pkg/frame"
	"github.com/Thermoquad/cellwatch/pkg/sample"
)

// Pro BMS Smart Shunt frame kinds
const (
	ProBMSKindInit     = 0x03
	ProBMSKindRealtime = 0x04

	proBMSRealtimeLen = 50
	proBMSStatus      = 15 // protection bits, bit 7 is the discharge flag
	proBMSTempSign    = 17
)

var proBMSLayout = &frame.Layout{
	Name:      "pro_bms",
	Header:    []byte{0x55, 0xAA},
	MinHeader: 4,
	Length:    frame.LengthByte(2, 5),
	MaxLen:    128,
	Kind:      frame.KindAt(3),
	Checksum:  frame.ChecksumDisabled("trailer algorithm undocumented and unverified against captures"),
}

func init() {
	le := codec.LittleEndian
	register(&definition{
		name: "pro_bms",
		info: DeviceInfo{Manufacturer: "Pro BMS", Model: "Smart Shunt"},
		matchers: []Matcher{
			{LocalName: "Pro BMS", Service: 0xFFF0},
			// nameless units advertise a company id only they use
			{Manufacturer: 0xA6D7, Service: 0xFFF0},
		},
		channels: Channels{Service: 0xFFF0, Notify: 0xFFF4, Write: 0xFFF3},
		layout:   proBMSLayout,
		handshake: []Command{
			{Name: "extended_info", Bytes: hexBytes("55aa070101558042000097"), Expect: []int{ProBMSKindInit}},
			{Name: "ack", Bytes: hexBytes("55aa070101558006000055"), Delay: 100 * time.Millisecond},
		},
		requests: []Command{
			{Name: "data_stream", Bytes: hexBytes("55aa0901015580430000120084"), Expect: []int{ProBMSKindRealtime}},
		},
		timing: Timing{Response: 2 * time.Second, Settle: 2 * time.Second},
		fields: []FieldSpec{
			{Kind: ProBMSKindRealtime, Key: sample.Voltage, Field: codec.Field{
				Name: "voltage", Offset: 8, Width: 2, Order: le, Scales: []codec.Scale{codec.Centi}}},
			{Kind: ProBMSKindRealtime, Key: sample.Current, Field: codec.Field{
				Name: "current", Offset: 12, Width: 2, Order: le,
				Sign: codec.SignBit, SignOffset: proBMSStatus, SignMask: 0x80,
				Scales: []codec.Scale{codec.Milli}}},
			{Kind: ProBMSKindRealtime, Key: sample.Temperature, Field: codec.Field{
				Name: "temperature", Offset: 16, Width: 1,
				Sign: codec.SignByte, SignOffset: proBMSTempSign, Scales: []codec.Scale{codec.Deci}},
				Note: "magnitude with a sign byte at 17; the vendor table lists the field as unsigned"},
			{Kind: ProBMSKindRealtime, Key: sample.CycleCharge, Field: codec.Field{
				Name: "cycle_charge", Offset: 20, Width: 2, Order: le,
				Scales: []codec.Scale{codec.Deca, codec.Milli}},
				Note: "documented as 10 mAh units; an earlier analysis read it as 0.01 Ah, same result"},
			{Kind: ProBMSKindRealtime, Key: sample.BatteryLevel, Field: codec.Field{
				Name: "battery_level", Offset: 24, Width: 1}},
			{Kind: ProBMSKindRealtime, Key: sample.Runtime, Field: codec.Field{
				Name: "runtime", Offset: 28, Width: 2, Order: le, Scales: []codec.Scale{codec.Minutes}},
				Untrusted: true,
				Note:      "firmware counts up while discharging; recomputed from charge and current"},
			{Kind: ProBMSKindRealtime, Key: sample.DesignCapacity, Field: codec.Field{
				Name: "design_capacity", Offset: 40, Width: 2, Order: le, Scales: []codec.Scale{codec.Centi}},
				Untrusted: true,
				Note:      "first read as design capacity, later analysis places a timestamp here"},
		},
		extra:  decodeProBMS,
		accept: acceptProBMS,
	})
}

// acceptProBMS refuses realtime frames of any size other than the one
// the decoder reads
func acceptProBMS(f *frame.Frame) error {
	if f.Kind() == ProBMSKindRealtime && f.Len() != proBMSRealtimeLen {
		return &codec.DecodeError{Field: "realtime", Len: f.Len(), Width: proBMSRealtimeLen, Reason: "unexpected frame length"}
	}
	return nil
}

func decodeProBMS(frames Frames, s *sample.Sample) error {
	buf, err := frames.Get(ProBMSKindRealtime)
	if err != nil {
		return err
	}
	if len(buf) != proBMSRealtimeLen {
		return &codec.DecodeError{Field: "realtime", Len: len(buf), Width: proBMSRealtimeLen, Reason: "unexpected frame length"}
	}
	s.ProblemCode = uint64(buf[proBMSStatus] & 0x7F)
	s.Temps = []float64{s.Value(sample.Temperature)}
	return nil
}
