// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cellwatch/pkg/acquire"
)

var packetTestTimeout int

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test a device by running one acquisition cycle",
	Long: `Connect to one device and run a single acquisition cycle with its
profile: handshake, every request, decode and derive.

Exit codes:
  0 - Sample decoded before timeout
  1 - Cycle failed or timed out
  2 - Connection error

Useful for testing connectivity to a BMS or a BLE-UART bridge.`,
	Args: cobra.NoArgs,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 30, "Timeout in seconds for connection and cycle")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, closer, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	d, p, err := singleDevice(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(packetTestTimeout)*time.Second)
	defer cancel()

	conns := newConnector(cfg, log)
	defer conns.Close()
	conn, connInfo, err := conns.Open(ctx, d, p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Cellwatch - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Profile: %s\n", p.Name())
	fmt.Printf("Timeout: %d seconds\n\n", packetTestTimeout)

	a := acquire.New(conn, p, acquire.Options{Device: d.Name, Logger: log, TimeoutScale: d.TimeoutScale})
	res, err := a.Acquire(ctx)
	if err != nil {
		if errors.Is(err, acquire.ErrSessionCancelled) {
			fmt.Fprintf(os.Stderr, "TIMEOUT: no sample within %d seconds\n", packetTestTimeout)
		} else {
			fmt.Fprintf(os.Stderr, "FAILED (%s): %v\n", acquire.Reason(err), err)
		}
		os.Exit(1)
	}

	fmt.Printf("SUCCESS: Decoded sample\n")
	printSample(os.Stdout, res)
	return nil
}
