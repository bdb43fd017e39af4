// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture reads ATT traffic from HCI pcap captures so recorded
// sessions can be replayed through the frame assembler.
package capture

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
)

// ErrLinkType is returned for captures that do not hold HCI H4 traffic
var ErrLinkType = errors.New("unsupported capture link type")

// phdrLen is the direction header ahead of each H4 packet
const phdrLen = 4

// Direction of a captured PDU
const (
	Sent     = 0
	Received = 1
)

// PDU is one captured ATT value
type PDU struct {
	Timestamp time.Time
	Opcode    uint8
	Handle    uint16
	Value     []byte
	// Direction is known only for captures with a direction header
	Direction int
}

// Reader yields the ATT value PDUs of a pcap stream
type Reader struct {
	src  *pcapgo.Reader
	phdr bool
	// Skipped counts packets that carried no ATT value
	Skipped int
}

// NewReader reads the pcap file header from r
func NewReader(r io.Reader) (*Reader, error) {
	src, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open pcap: %w", err)
	}
	rd := &Reader{src: src}
	switch src.LinkType() {
	case LinkTypeH4:
	case LinkTypeH4WithPhdr:
		rd.phdr = true
	default:
		return nil, fmt.Errorf("%w: %d", ErrLinkType, src.LinkType())
	}
	return rd, nil
}

// Next returns the next ATT notification, indication or write. It
// returns io.EOF at the end of the capture.
func (r *Reader) Next() (PDU, error) {
	for {
		data, ci, err := r.src.ReadPacketData()
		if err != nil {
			return PDU{}, err
		}

		dir := -1
		if r.phdr {
			if len(data) < phdrLen {
				r.Skipped++
				continue
			}
			dir = int(data[3] & 0x01)
			data = data[phdrLen:]
		}

		pkt := gopacket.NewPacket(data, LayerTypeHCIH4, gopacket.DecodeOptions{NoCopy: true})
		att, ok := pkt.Layer(LayerTypeATT).(*ATT)
		if !ok || !(att.Notified() || att.Written()) {
			r.Skipped++
			continue
		}
		return PDU{
			Timestamp: ci.Timestamp,
			Opcode:    att.Opcode,
			Handle:    att.Handle,
			Value:     append([]byte(nil), att.Value...),
			Direction: dir,
		}, nil
	}
}

// Notifications reads every device-pushed value of the capture. A
// nonzero handle keeps only that attribute.
func Notifications(r io.Reader, handle uint16) ([]PDU, error) {
	rd, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	var out []PDU
	for {
		p, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if !(p.Opcode == OpNotification || p.Opcode == OpIndication) {
			continue
		}
		if handle != 0 && p.Handle != handle {
			continue
		}
		out = append(out, p)
	}
}
