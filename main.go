// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Cellwatch - BMS Bluetooth Protocol Monitor
//
// A CLI tool for polling battery management systems over Bluetooth LE
// and decoding their replies into derived samples.

package main

import (
	"os"

	"github.com/Thermoquad/cellwatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
