// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"encoding/hex"
	"fmt"
)

// Algorithm identifies a frame checksum
type Algorithm int

const (
	// AlgoUnspecified is the zero value and is rejected by Layout.Validate.
	// A profile either names an algorithm or opts out explicitly.
	AlgoUnspecified Algorithm = iota
	AlgoDisabled
	AlgoSum8
	AlgoSumComplement16
	AlgoModbus
	AlgoXModem
	AlgoCRC8Maxim
	AlgoLRC
	AlgoXOR
	AlgoSumInvert8
	AlgoHexPairSum
)

// String returns the algorithm name
func (a Algorithm) String() string {
	switch a {
	case AlgoUnspecified:
		return "UNSPECIFIED"
	case AlgoDisabled:
		return "DISABLED"
	case AlgoSum8:
		return "SUM8"
	case AlgoSumComplement16:
		return "SUM16_COMPLEMENT"
	case AlgoModbus:
		return "CRC16_MODBUS"
	case AlgoXModem:
		return "CRC16_XMODEM"
	case AlgoCRC8Maxim:
		return "CRC8_MAXIM"
	case AlgoLRC:
		return "LRC"
	case AlgoXOR:
		return "XOR8"
	case AlgoSumInvert8:
		return "SUM8_INVERT"
	case AlgoHexPairSum:
		return "HEX_PAIR_SUM"
	default:
		return fmt.Sprintf("ALGO_%d", int(a))
	}
}

// Compute returns the checksum of data
func (a Algorithm) Compute(data []byte) (uint64, error) {
	switch a {
	case AlgoSum8:
		return uint64(Sum8(data)), nil
	case AlgoSumComplement16:
		return uint64(SumComplement16(data)), nil
	case AlgoModbus:
		return uint64(CRCModbus(data)), nil
	case AlgoXModem:
		return uint64(CRCXModem(data)), nil
	case AlgoCRC8Maxim:
		return uint64(CRC8Maxim(data)), nil
	case AlgoLRC:
		return uint64(LRC(data)), nil
	case AlgoXOR:
		return uint64(XOR8(data)), nil
	case AlgoSumInvert8:
		return uint64(SumInvert8(data)), nil
	case AlgoHexPairSum:
		v, err := HexPairSum(data)
		return uint64(v), err
	}
	return 0, fmt.Errorf("checksum %s cannot be computed", a)
}

// Sum8 returns the low byte of the byte sum
func Sum8(data []byte) uint8 {
	var s uint8
	for _, b := range data {
		s += b
	}
	return s
}

// SumComplement16 returns 0x10000 minus the byte sum, as JBD frames carry it
func SumComplement16(data []byte) uint16 {
	var s uint32
	for _, b := range data {
		s += uint32(b)
	}
	return uint16((0x10000 - s) & 0xFFFF)
}

// CRCModbus computes CRC-16/MODBUS (reflected 0x8005, init 0xFFFF)
func CRCModbus(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// CRCXModem computes CRC-16/XMODEM (0x1021, init 0)
func CRCXModem(data []byte) uint16 {
	crc := uint16(0)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// CRC8Maxim computes CRC-8/MAXIM (reflected 0x31, init 0)
func CRC8Maxim(data []byte) uint8 {
	crc := uint8(0)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x01 != 0 {
				crc = (crc >> 1) ^ 0x8C
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// LRC returns the two's complement of the byte sum
func LRC(data []byte) uint8 {
	return -Sum8(data)
}

// XOR8 returns the XOR of all bytes
func XOR8(data []byte) uint8 {
	var x uint8
	for _, b := range data {
		x ^= b
	}
	return x
}

// SumInvert8 returns the inverted low byte of the byte sum (E&J)
func SumInvert8(data []byte) uint8 {
	return Sum8(data) ^ 0xFF
}

// HexPairSum interprets data as ASCII hex digit pairs and sums their values
func HexPairSum(data []byte) (uint16, error) {
	if len(data)%2 != 0 {
		return 0, fmt.Errorf("odd hex length %d", len(data))
	}
	raw := make([]byte, len(data)/2)
	if _, err := hex.Decode(raw, data); err != nil {
		return 0, err
	}
	var s uint16
	for _, b := range raw {
		s += uint16(b)
	}
	return s, nil
}
