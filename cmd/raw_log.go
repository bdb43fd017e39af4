// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cellwatch/internal/config"
	"github.com/Thermoquad/cellwatch/pkg/acquire"
	"github.com/Thermoquad/cellwatch/pkg/frame"
	"github.com/Thermoquad/cellwatch/pkg/profile"
)

var rawLogPoll int

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw notifications and assembled frames",
	Long: `Show every notification chunk of one device as hex, followed by the
frames the assembler builds from them and any rejections.

With --poll N the profile's handshake is sent once and its requests
every N seconds; otherwise the connection is only listened to.

Useful for checking a new device or bridge before running monitor.`,
	Args: cobra.NoArgs,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().IntVar(&rawLogPoll, "poll", 0, "Send the request cycle every N seconds (0 only listens)")
}

// singleDevice picks the device a one-device command works on: the one
// named by --name, or the only configured device
func singleDevice(cfg *config.Config) (config.DeviceConfig, profile.Profile, error) {
	var d config.DeviceConfig
	switch {
	case deviceName != "":
		var ok bool
		if d, ok = cfg.Device(deviceName); !ok {
			return d, nil, fmt.Errorf("no device named %q", deviceName)
		}
	case len(cfg.Devices) == 1:
		d = cfg.Devices[0]
	case len(cfg.Devices) == 0:
		return d, nil, errors.New("no device given (use --address/--port/--url with --profile)")
	default:
		return d, nil, errors.New("several devices configured, select one with --name")
	}
	p, err := profile.Lookup(d.Profile)
	return d, p, err
}

func runRawLog(cmd *cobra.Command, args []string) error {
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	conns := newConnector(cfg, log)
	defer conns.Close()
	conn, connInfo, err := conns.Open(ctx, d, p)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Cellwatch - Raw Notification Log\n")
	fmt.Printf("Device: %s (%s)\n", d.Name, p.Name())
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if rawLogPoll > 0 {
		go pollRequests(ctx, conn, p, time.Duration(rawLogPoll)*time.Second, os.Stdout)
	}

	logChunks(ctx, conn.Chunks(), p, os.Stdout)
	return nil
}

// pollRequests writes the handshake once, then every request each
// interval, without waiting for replies
func pollRequests(ctx context.Context, t acquire.Transport, p profile.Profile, every time.Duration, w io.Writer) {
	send := func(cmds []profile.Command) {
		for _, c := range cmds {
			if c.Listen() {
				continue
			}
			char := c.Char
			if char == 0 {
				char = p.Channels().Write
			}
			fmt.Fprintf(w, "[%s] >> %s %04x % X\n", time.Now().Format("15:04:05.000"), c.Name, char, c.Bytes)
			if err := t.Write(ctx, char, c.Bytes); err != nil {
				fmt.Fprintf(w, "[ERROR] write %s: %v\n", c.Name, err)
			}
			time.Sleep(c.Delay)
		}
	}

	send(p.Handshake())
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		send(p.Requests())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// logChunks prints chunks and frames until the stream ends or ctx is
// done
func logChunks(ctx context.Context, chunks <-chan []byte, p profile.Profile, w io.Writer) {
	asm := frame.NewAssembler(p.Layout())
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				fmt.Fprintln(w, "Connection closed")
				return
			}
			fmt.Fprintf(w, "[%s] << %d bytes\n", time.Now().Format("15:04:05.000"), len(chunk))
			fmt.Fprint(w, frame.HexDump(chunk, "  "))

			frames, err := asm.Feed(chunk)
			for _, re := range frame.Rejections(err) {
				printRejection(w, re)
			}
			for _, f := range frames {
				fmt.Fprint(w, frame.FormatFrame(f))
			}
		}
	}
}
