// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cellwatch/pkg/acquire"
	"github.com/Thermoquad/cellwatch/pkg/linkq"
)

var (
	monitorStatsInterval int
	monitorQuiet         bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Poll devices and print every sample",
	Long: `Connect to every configured device and poll it at its interval.

Each sample is printed as it is decoded; failed cycles are printed with
their reason. Link statistics for every device are printed periodically
and once more on exit.

Prometheus metrics and Redis publishing are enabled from the
configuration file.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().IntVar(&monitorStatsInterval, "stats-interval", 300, "Statistics interval (seconds, 0 disables)")
	monitorCmd.Flags().BoolVarP(&monitorQuiet, "quiet", "q", false, "Only print failures and statistics")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, closer, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn := newConnector(cfg, log)
	defer conn.Close()

	f, err := newFleet(ctx, cfg, log, conn)
	if err != nil {
		return err
	}
	defer f.Close()

	out := &printer{w: os.Stdout, quiet: monitorQuiet}
	f.observers = append(f.observers, out)
	f.connected = out.connected

	fmt.Printf("Cellwatch Monitor\n")
	fmt.Printf("Devices: %d\n", len(cfg.Devices))
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if monitorStatsInterval > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(monitorStatsInterval) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					out.stats(f.tracker)
				}
			}
		}()
	}

	err = f.Run(ctx)
	fmt.Println()
	out.stats(f.tracker)
	return err
}

// printer writes cycle results as text. Loops of several devices share
// it, so output is serialized.
type printer struct {
	w     io.Writer
	quiet bool
	mu    sync.Mutex
}

func (p *printer) connected(device, info string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "[%s] %s connected (%s)\n", time.Now().Format("15:04:05.000"), device, info)
}

// Observe implements acquire.Observer
func (p *printer) Observe(device string, res *acquire.Result, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		printCycleError(p.w, device, res, err)
		return
	}
	if !p.quiet {
		printSample(p.w, res)
	}
}

func (p *printer) stats(tracker *linkq.Tracker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range tracker.Devices() {
		snap, ok := tracker.Snapshot(d)
		if !ok {
			continue
		}
		fmt.Fprintf(p.w, "%s: link quality %.0f%% over %d cycles\n", d, snap.Ratio*100, snap.Cycles)
		fmt.Fprintln(p.w, snap.Stats.String())
	}
}

func printSample(w io.Writer, res *acquire.Result) {
	fmt.Fprintln(w, res.Sample.String())
	if res.Sample.Problem {
		fmt.Fprintf(w, "  \033[1;33m>>> IMPLAUSIBLE OR PROTECTION ACTIVE <<<\033[0m\n")
	}
	fmt.Fprintf(w, "  (%d sends, %v)\n\n", res.Attempts, res.Duration.Round(time.Millisecond))
}

func printCycleError(w io.Writer, device string, res *acquire.Result, err error) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Fprintf(w, "[%s] \033[1;31m%s FAILED (%s):\033[0m %v\n", timestamp, device, acquire.Reason(err), err)
	if res != nil && len(res.Rejected) > 0 {
		fmt.Fprintf(w, "  rejected frames: %v\n", res.Rejected)
	}
	fmt.Fprintln(w)
}

var _ acquire.Observer = (*printer)(nil)
