// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package profile

// Command builders assemble vendor request frames. Each one computes the
// vendor checksum with the same routine the validator uses for replies.

import (
	"encoding/hex"
	"fmt"

	"github.com/Thermoquad/cellwatch/pkg/frame"
)

// hexBytes decodes a constant command; a bad literal is a programming error
func hexBytes(s string) []byte {
	b, err := hex.DecodeString(s)
	must(err)
	return b
}

// JBDCommand builds DD A5 <reg> 00 <sum16 BE> 77
func JBDCommand(register byte) []byte {
	body := []byte{register, 0x00}
	crc := frame.SumComplement16(body)
	return []byte{0xDD, 0xA5, register, 0x00, byte(crc >> 8), byte(crc), 0x77}
}

// DalyCommand builds a read of count registers starting at start, CRC LE
func DalyCommand(start, count uint16) []byte {
	cmd := []byte{0xD2, 0x03, byte(start >> 8), byte(start), byte(count >> 8), byte(count)}
	crc := frame.CRCModbus(cmd)
	return append(cmd, byte(crc), byte(crc>>8))
}

// JikongCommand builds AA 55 90 EB <cmd> <len> <value, zero padded to 13> <sum8>
func JikongCommand(cmd byte, value ...byte) []byte {
	if len(value) > 13 {
		panic(fmt.Sprintf("profile: jikong command value too long (%d)", len(value)))
	}
	out := []byte{0xAA, 0x55, 0x90, 0xEB, cmd, byte(len(value))}
	out = append(out, value...)
	out = append(out, make([]byte, 13-len(value))...)
	return append(out, frame.Sum8(out))
}

// TDTCommand builds <head> 00 01 03 00 <cmd> <len BE> <data> <crc BE> 0D
func TDTCommand(head, cmd byte, data ...byte) []byte {
	out := []byte{head, 0x00, 0x01, 0x03, 0x00, cmd, byte(len(data) >> 8), byte(len(data))}
	out = append(out, data...)
	crc := frame.CRCModbus(out)
	return append(out, byte(crc>>8), byte(crc), 0x0D)
}

// RoyPowCommand builds EA D1 01 <len> <cmd...> <xor> F5
func RoyPowCommand(cmd ...byte) []byte {
	body := append([]byte{byte(len(cmd) + 2)}, cmd...)
	out := append([]byte{0xEA, 0xD1, 0x01}, body...)
	return append(out, frame.XOR8(body), 0xF5)
}

// RedodoCommand returns the fixed status request
func RedodoCommand() []byte {
	return []byte{0x00, 0x00, 0x04, 0x01, 0x13, 0x55, 0xAA, 0x17}
}
