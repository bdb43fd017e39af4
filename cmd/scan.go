// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cellwatch/pkg/profile"
)

var (
	scanTimeout time.Duration
	scanAll     bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find BMS devices over Bluetooth LE",
	Long: `Scan for advertisements and resolve each device to a protocol profile.

Each address is printed once, when first seen. Devices no profile claims
are hidden unless --all is given; ambiguous matches are always shown with
the competing profiles.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().DurationVarP(&scanTimeout, "timeout", "t", 0, "Scan duration (default ble.scan_timeout)")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "Show devices no profile matches")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, closer, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	timeout := scanTimeout
	if timeout <= 0 {
		timeout = cfg.BLE.ScanTimeout
	}

	conn := newConnector(cfg, log)
	defer conn.Close()
	adapter, err := conn.adapter()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fmt.Printf("Scanning for %v (Ctrl+C to stop)\n\n", timeout)

	seen := map[string]bool{}
	found := 0
	err = adapter.Scan(ctx, profile.Services(), func(adv profile.Advertisement) {
		if seen[adv.Address] {
			return
		}
		line, matched := describeAdvertisement(adv, profile.All())
		if !matched && !scanAll {
			return
		}
		seen[adv.Address] = true
		if matched {
			found++
		}
		fmt.Println(line)
	})
	if err != nil {
		return err
	}

	fmt.Printf("\n%d device(s) found\n", found)
	return nil
}

// describeAdvertisement renders one scan line and reports whether a
// profile claimed the device
func describeAdvertisement(adv profile.Advertisement, profiles []profile.Profile) (string, bool) {
	name := adv.LocalName
	if name == "" {
		name = "(unnamed)"
	}
	services := make([]string, len(adv.Services))
	for i, s := range adv.Services {
		services[i] = fmt.Sprintf("%04x", s)
	}
	head := fmt.Sprintf("%s %4d dBm  %-20s [%s]", adv.Address, adv.RSSI, name, strings.Join(services, " "))

	p, err := profile.Resolve(adv, profiles)
	switch {
	case err == nil:
		return fmt.Sprintf("%s -> %s", head, p.Name()), true
	case errors.Is(err, profile.ErrAmbiguousMatch):
		return fmt.Sprintf("%s -> %v", head, err), true
	default:
		return head, false
	}
}
