// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"encoding/binary"
	"errors"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Link types of HCI captures written by btmon and Android btsnoop tools
const (
	LinkTypeH4         layers.LinkType = 187
	LinkTypeH4WithPhdr layers.LinkType = 201
)

// HCI packet indicator of ACL data
const hciACL = 0x02

// L2CAP channel carrying ATT
const cidATT = 0x0004

// ACL packet boundary flag of a continuation fragment
const aclContinuation = 0x01

// ATT opcodes
const (
	OpWriteRequest = 0x12
	OpNotification = 0x1B
	OpIndication   = 0x1D
	OpWriteCommand = 0x52
)

var (
	LayerTypeHCIH4 = gopacket.RegisterLayerType(2301, gopacket.LayerTypeMetadata{
		Name: "HCIH4", Decoder: gopacket.DecodeFunc(decodeHCIH4)})
	LayerTypeHCIACL = gopacket.RegisterLayerType(2302, gopacket.LayerTypeMetadata{
		Name: "HCIACL", Decoder: gopacket.DecodeFunc(decodeHCIACL)})
	LayerTypeATT = gopacket.RegisterLayerType(2303, gopacket.LayerTypeMetadata{
		Name: "ATT", Decoder: gopacket.DecodeFunc(decodeATT)})
)

var errTruncated = errors.New("truncated packet")

// HCIH4 is the one byte UART packet indicator
type HCIH4 struct {
	layers.BaseLayer
	Type uint8
}

func (h *HCIH4) LayerType() gopacket.LayerType { return LayerTypeHCIH4 }

func (h *HCIH4) CanDecode() gopacket.LayerClass { return LayerTypeHCIH4 }

func (h *HCIH4) NextLayerType() gopacket.LayerType {
	if h.Type == hciACL {
		return LayerTypeHCIACL
	}
	return gopacket.LayerTypePayload
}

func (h *HCIH4) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < 1 {
		df.SetTruncated()
		return errTruncated
	}
	h.Type = data[0]
	h.BaseLayer = layers.BaseLayer{Contents: data[:1], Payload: data[1:]}
	return nil
}

func decodeHCIH4(data []byte, p gopacket.PacketBuilder) error {
	h := &HCIH4{}
	if err := h.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(h)
	return p.NextDecoder(h.NextLayerType())
}

// HCIACL is an ACL data packet with its L2CAP basic header. Continuation
// fragments carry no L2CAP header and report CID 0.
type HCIACL struct {
	layers.BaseLayer
	Handle   uint16
	Boundary uint8
	Length   uint16
	CID      uint16
}

func (a *HCIACL) LayerType() gopacket.LayerType { return LayerTypeHCIACL }

func (a *HCIACL) CanDecode() gopacket.LayerClass { return LayerTypeHCIACL }

func (a *HCIACL) NextLayerType() gopacket.LayerType {
	if a.CID == cidATT {
		return LayerTypeATT
	}
	return gopacket.LayerTypePayload
}

func (a *HCIACL) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < 4 {
		df.SetTruncated()
		return errTruncated
	}
	hdr := binary.LittleEndian.Uint16(data[0:2])
	a.Handle = hdr & 0x0FFF
	a.Boundary = uint8(hdr>>12) & 0x03
	a.Length = binary.LittleEndian.Uint16(data[2:4])
	a.CID = 0

	if a.Boundary == aclContinuation {
		a.BaseLayer = layers.BaseLayer{Contents: data[:4], Payload: data[4:]}
		return nil
	}
	if len(data) < 8 {
		df.SetTruncated()
		return errTruncated
	}
	a.CID = binary.LittleEndian.Uint16(data[6:8])
	a.BaseLayer = layers.BaseLayer{Contents: data[:8], Payload: data[8:]}
	return nil
}

func decodeHCIACL(data []byte, p gopacket.PacketBuilder) error {
	a := &HCIACL{}
	if err := a.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(a)
	return p.NextDecoder(a.NextLayerType())
}

// ATT is one attribute protocol PDU. Handle and Value are set for
// handle-carrying opcodes only.
type ATT struct {
	layers.BaseLayer
	Opcode uint8
	Handle uint16
	Value  []byte
}

func (a *ATT) LayerType() gopacket.LayerType { return LayerTypeATT }

func (a *ATT) CanDecode() gopacket.LayerClass { return LayerTypeATT }

func (a *ATT) NextLayerType() gopacket.LayerType { return gopacket.LayerTypeZero }

// Notified reports whether the PDU carries a value pushed by the device
func (a *ATT) Notified() bool {
	return a.Opcode == OpNotification || a.Opcode == OpIndication
}

// Written reports whether the PDU carries a value written by the host
func (a *ATT) Written() bool {
	return a.Opcode == OpWriteCommand || a.Opcode == OpWriteRequest
}

func (a *ATT) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < 1 {
		df.SetTruncated()
		return errTruncated
	}
	a.Opcode = data[0]
	a.Handle = 0
	a.Value = nil
	if a.Notified() || a.Written() {
		if len(data) < 3 {
			df.SetTruncated()
			return errTruncated
		}
		a.Handle = binary.LittleEndian.Uint16(data[1:3])
		a.Value = data[3:]
	}
	a.BaseLayer = layers.BaseLayer{Contents: data}
	return nil
}

func decodeATT(data []byte, p gopacket.PacketBuilder) error {
	a := &ATT{}
	if err := a.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(a)
	return nil
}
