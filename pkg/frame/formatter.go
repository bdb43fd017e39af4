// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"fmt"
	"strings"
)

// FormatFrame formats a frame into a human-readable string
func FormatFrame(f *Frame) string {
	timestamp := f.timestamp.Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s kind=0x%02X len=%d\n", timestamp, f.layout, f.kind, len(f.raw))
	result += HexDump(f.raw, "  ")
	return result
}

// HexDump renders data as rows of 16 bytes with offsets
func HexDump(data []byte, indent string) string {
	var sb strings.Builder
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		fmt.Fprintf(&sb, "%s%04X  % X\n", indent, off, data[off:end])
	}
	return sb.String()
}
