// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/Thermoquad/cellwatch/pkg/frame"
	"github.com/Thermoquad/cellwatch/pkg/profile"
	"github.com/Thermoquad/cellwatch/pkg/sample"
)

const (
	jbdBasicHex = "dd03001d0618fee101f201f4002a2c7c00000000000080640304030b8b0b8a0b84f88477"
	jbdCellsHex = "dd0400080d660d610d680d59fe3c77"

	notifyHandle = 0x0011
	writeHandle  = 0x0015
)

// ============================================================
// Capture Builders
// ============================================================

// attPacket builds an H4 ACL packet carrying one ATT PDU
func attPacket(opcode uint8, handle uint16, value []byte) []byte {
	att := append([]byte{opcode, byte(handle), byte(handle >> 8)}, value...)
	return aclPacket(0x02, cidATT, att)
}

func aclPacket(boundary uint8, cid uint16, payload []byte) []byte {
	l2cap := make([]byte, 4, 4+len(payload))
	binary.LittleEndian.PutUint16(l2cap[0:2], uint16(len(payload)))
	binary.LittleEndian.PutUint16(l2cap[2:4], cid)
	l2cap = append(l2cap, payload...)

	pkt := make([]byte, 5, 5+len(l2cap))
	pkt[0] = hciACL
	binary.LittleEndian.PutUint16(pkt[1:3], 0x0040|uint16(boundary)<<12)
	binary.LittleEndian.PutUint16(pkt[3:5], uint16(len(l2cap)))
	return append(pkt, l2cap...)
}

// withPhdr prefixes the btsnoop direction header
func withPhdr(dir uint32, pkt []byte) []byte {
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, dir)
	return append(hdr, pkt...)
}

func writeCapture(t *testing.T, lt layers.LinkType, packets ...[]byte) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	if err := w.WriteFileHeader(65535, lt); err != nil {
		t.Fatalf("write pcap header: %v", err)
	}
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, p := range packets {
		ci := gopacket.CaptureInfo{
			Timestamp:     start.Add(time.Duration(i) * 50 * time.Millisecond),
			CaptureLength: len(p),
			Length:        len(p),
		}
		if err := w.WritePacket(ci, p); err != nil {
			t.Fatalf("write packet %d: %v", i, err)
		}
	}
	return &buf
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex: %v", err)
	}
	return b
}

// jbdSession is a JBD poll as a phone app records it: write, then the
// reply split over 20 byte notifications, with HCI noise in between
func jbdSession(t *testing.T) [][]byte {
	basic := mustHex(t, jbdBasicHex)
	cells := mustHex(t, jbdCellsHex)
	return [][]byte{
		withPhdr(0, attPacket(OpWriteCommand, writeHandle, profile.JBDCommand(profile.JBDKindBasic))),
		withPhdr(1, []byte{0x04, 0x13, 0x05, 0x01, 0x40, 0x00, 0x01, 0x00}),
		withPhdr(1, attPacket(OpNotification, notifyHandle, basic[:20])),
		withPhdr(1, attPacket(OpNotification, notifyHandle, basic[20:])),
		withPhdr(0, attPacket(OpWriteCommand, writeHandle, profile.JBDCommand(profile.JBDKindCells))),
		withPhdr(1, aclPacket(0x02, 0x0005, []byte{0x12, 0x01, 0x00, 0x00})),
		withPhdr(1, attPacket(OpNotification, notifyHandle, cells)),
		withPhdr(1, attPacket(OpNotification, 0x0021, []byte{0x01})),
	}
}

// ============================================================
// Layer Tests
// ============================================================

func TestLayers_Notification(t *testing.T) {
	pkt := gopacket.NewPacket(attPacket(OpNotification, notifyHandle, []byte{0xDD, 0x03}), LayerTypeHCIH4, gopacket.Default)

	acl, ok := pkt.Layer(LayerTypeHCIACL).(*HCIACL)
	if !ok {
		t.Fatalf("no ACL layer: %v", pkt)
	}
	if acl.Handle != 0x0040 || acl.CID != cidATT {
		t.Errorf("unexpected ACL header: %+v", acl)
	}
	att, ok := pkt.Layer(LayerTypeATT).(*ATT)
	if !ok {
		t.Fatalf("no ATT layer: %v", pkt)
	}
	if !att.Notified() || att.Handle != notifyHandle || !bytes.Equal(att.Value, []byte{0xDD, 0x03}) {
		t.Errorf("unexpected ATT: %+v", att)
	}
}

func TestLayers_NonATT(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"hci event", []byte{0x04, 0x0E, 0x04, 0x01, 0x03, 0x0C, 0x00}},
		{"l2cap signaling", aclPacket(0x02, 0x0005, []byte{0x12, 0x01})},
		{"continuation", aclPacket(0x01, cidATT, []byte{0x1B, 0x11, 0x00})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkt := gopacket.NewPacket(tt.data, LayerTypeHCIH4, gopacket.Default)
			if pkt.Layer(LayerTypeATT) != nil {
				t.Error("unexpected ATT layer")
			}
		})
	}
}

func TestLayers_Truncated(t *testing.T) {
	pkt := gopacket.NewPacket([]byte{hciACL, 0x40}, LayerTypeHCIH4, gopacket.Default)
	if pkt.ErrorLayer() == nil {
		t.Error("expected a decode failure")
	}
	if pkt.Layer(LayerTypeATT) != nil {
		t.Error("unexpected ATT layer")
	}
}

// ============================================================
// Reader Tests
// ============================================================

func TestReader_Next(t *testing.T) {
	rd, err := NewReader(writeCapture(t, LinkTypeH4WithPhdr, jbdSession(t)...))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	var pdus []PDU
	for {
		p, err := rd.Next()
		if err != nil {
			break
		}
		pdus = append(pdus, p)
	}
	if len(pdus) != 6 {
		t.Fatalf("expected 6 ATT values, got %d", len(pdus))
	}
	if rd.Skipped != 2 {
		t.Errorf("expected 2 skipped packets, got %d", rd.Skipped)
	}
	if pdus[0].Opcode != OpWriteCommand || pdus[0].Direction != Sent {
		t.Errorf("expected a sent write first, got %+v", pdus[0])
	}
	if pdus[1].Direction != Received || pdus[1].Handle != notifyHandle {
		t.Errorf("expected a received notification, got %+v", pdus[1])
	}
	if !pdus[1].Timestamp.Equal(time.Date(2025, 6, 1, 12, 0, 0, 100*int(time.Millisecond), time.UTC)) {
		t.Errorf("unexpected timestamp %v", pdus[1].Timestamp)
	}
}

func TestReader_NoPhdr(t *testing.T) {
	buf := writeCapture(t, LinkTypeH4, attPacket(OpNotification, notifyHandle, []byte{1, 2, 3}))
	pdus, err := Notifications(buf, 0)
	if err != nil {
		t.Fatalf("Notifications: %v", err)
	}
	if len(pdus) != 1 || pdus[0].Direction != -1 {
		t.Fatalf("unexpected PDUs: %+v", pdus)
	}
}

func TestReader_RejectsOtherLinkTypes(t *testing.T) {
	buf := writeCapture(t, layers.LinkTypeEthernet)
	if _, err := NewReader(buf); !errors.Is(err, ErrLinkType) {
		t.Errorf("expected ErrLinkType, got %v", err)
	}
}

func TestNotifications_FilterHandle(t *testing.T) {
	pdus, err := Notifications(writeCapture(t, LinkTypeH4WithPhdr, jbdSession(t)...), notifyHandle)
	if err != nil {
		t.Fatalf("Notifications: %v", err)
	}
	if len(pdus) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(pdus))
	}
	for _, p := range pdus {
		if p.Handle != notifyHandle || p.Opcode != OpNotification {
			t.Errorf("unexpected PDU %+v", p)
		}
	}
}

// ============================================================
// Replay Tests
// ============================================================

func TestReplay_JBD(t *testing.T) {
	p, err := profile.Lookup("jbd")
	if err != nil {
		t.Fatal(err)
	}
	pdus, err := Notifications(writeCapture(t, LinkTypeH4WithPhdr, jbdSession(t)...), notifyHandle)
	if err != nil {
		t.Fatalf("Notifications: %v", err)
	}

	var events []Event
	Replay(p, pdus, func(ev Event) { events = append(events, ev) })

	if len(events) != 2 {
		t.Fatalf("expected 2 frame events, got %d", len(events))
	}
	if events[0].Sample != nil || events[0].Frame.Kind() != profile.JBDKindBasic {
		t.Errorf("basic frame must not decode alone: %+v", events[0])
	}
	s := events[1].Sample
	if s == nil {
		t.Fatalf("expected a sample, got %v", events[1].Err)
	}
	if math.Abs(s.Value(sample.Voltage)-15.6) > 1e-3 || len(s.Cells) != 4 {
		t.Errorf("unexpected sample: %v V, cells %v", s.Value(sample.Voltage), s.Cells)
	}
}

func TestReplay_FramesDoNotCarryOver(t *testing.T) {
	p, err := profile.Lookup("jbd")
	if err != nil {
		t.Fatal(err)
	}
	basic := mustHex(t, jbdBasicHex)
	cells := mustHex(t, jbdCellsHex)

	var events []Event
	Replay(p, []PDU{{Value: basic}, {Value: cells}, {Value: cells}}, func(ev Event) { events = append(events, ev) })

	if len(events) != 3 {
		t.Fatalf("expected 3 frame events, got %d", len(events))
	}
	if events[1].Sample == nil {
		t.Fatalf("expected the first cycle to decode, got %v", events[1].Err)
	}
	// the second cells frame has no basic frame of its own
	if events[2].Sample != nil {
		t.Error("second sample reused the previous basic frame")
	}
	if events[2].Err == nil {
		t.Error("expected a missing frame error")
	}
}

func TestReplay_ReportsRejections(t *testing.T) {
	p, err := profile.Lookup("jbd")
	if err != nil {
		t.Fatal(err)
	}
	corrupt := mustHex(t, jbdBasicHex)
	corrupt[6] ^= 0x01

	var rejected []frame.RejectReason
	Replay(p, []PDU{{Value: corrupt}}, func(ev Event) {
		var re *frame.RejectedError
		if errors.As(ev.Err, &re) {
			rejected = append(rejected, re.Reason)
		}
		if ev.Sample != nil {
			t.Error("corrupt frame decoded")
		}
	})
	if len(rejected) != 1 || rejected[0] != frame.ReasonChecksumMismatch {
		t.Errorf("expected one checksum rejection, got %v", rejected)
	}
}
