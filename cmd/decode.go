// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/cellwatch/pkg/capture"
	"github.com/Thermoquad/cellwatch/pkg/frame"
	"github.com/Thermoquad/cellwatch/pkg/profile"
	"github.com/Thermoquad/cellwatch/pkg/sample"
)

var (
	decodeChunk int
	decodeCopy  bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode HEX...",
	Short: "Decode captured frames offline",
	Long: `Assemble and decode hex-encoded notification chunks with a protocol
profile, without a device.

Each argument is one notification. Spaces and colons inside an argument
are ignored. With --chunk N the concatenated input is re-split into N
byte notifications to check reassembly.

The profile is chosen interactively when --profile is not given.`,
	Example: `  cellwatch decode --profile jbd dd0400080d660d610d680d59fe3c77
  cellwatch decode --profile jbd --chunk 20 "dd 03 00 1d ..."`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().IntVar(&decodeChunk, "chunk", 0, "Re-split the input into chunks of N bytes")
	decodeCmd.Flags().BoolVar(&decodeCopy, "copy", false, "Copy the decoded sample to the clipboard")
}

func runDecode(cmd *cobra.Command, args []string) error {
	name := deviceProfile
	if name == "" {
		var err error
		name, err = pickProfile()
		if err != nil {
			return err
		}
	}
	p, err := profile.Lookup(name)
	if err != nil {
		return err
	}

	chunks, err := parseChunks(args, decodeChunk)
	if err != nil {
		return err
	}

	last := decodeChunks(os.Stdout, p, chunks)
	if last == nil {
		return fmt.Errorf("no complete %s cycle in input", p.Name())
	}
	if decodeCopy {
		if err := clipboard.WriteAll(last.String()); err != nil {
			return fmt.Errorf("copy to clipboard: %w", err)
		}
		fmt.Println("Sample copied to clipboard")
	}
	return nil
}

// pickProfile asks for a profile with a selection form
func pickProfile() (string, error) {
	var name string
	options := make([]huh.Option[string], 0)
	for _, p := range profile.All() {
		info := p.Info()
		options = append(options, huh.NewOption(fmt.Sprintf("%s (%s %s)", p.Name(), info.Manufacturer, info.Model), p.Name()))
	}
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Protocol profile").
			Options(options...).
			Value(&name),
	))
	if err := form.Run(); err != nil {
		return "", fmt.Errorf("profile selection: %w", err)
	}
	return name, nil
}

// parseChunks decodes hex arguments. A positive size re-splits the
// concatenated bytes.
func parseChunks(args []string, size int) ([][]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "\t", "", "\n", "")
	var chunks [][]byte
	for i, a := range args {
		b, err := hex.DecodeString(clean.Replace(a))
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		chunks = append(chunks, b)
	}
	if size <= 0 {
		return chunks, nil
	}

	var all []byte
	for _, c := range chunks {
		all = append(all, c...)
	}
	out := make([][]byte, 0, len(all)/size+1)
	for len(all) > size {
		out = append(out, all[:size])
		all = all[size:]
	}
	if len(all) > 0 {
		out = append(out, all)
	}
	return out, nil
}

// decodeChunks prints every frame, rejection and sample and returns the
// last sample
func decodeChunks(w io.Writer, p profile.Profile, chunks [][]byte) *sample.Sample {
	pdus := make([]capture.PDU, len(chunks))
	for i, c := range chunks {
		pdus[i] = capture.PDU{Value: c}
	}

	var last *sample.Sample
	capture.Replay(p, pdus, func(ev capture.Event) {
		if ev.Frame != nil {
			fmt.Fprint(w, frame.FormatFrame(ev.Frame))
		}
		switch {
		case ev.Sample != nil:
			fmt.Fprintln(w, ev.Sample.String())
			last = ev.Sample
		case ev.Err != nil:
			printRejection(w, ev.Err)
		}
	})
	return last
}

func printRejection(w io.Writer, err error) {
	fmt.Fprintf(w, "\033[1;31mREJECTED:\033[0m %v\n", err)
	var re *frame.RejectedError
	if !errors.As(err, &re) {
		return
	}
	keys := make([]string, 0, len(re.Details))
	for k := range re.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %v\n", k, re.Details[k])
	}
}
