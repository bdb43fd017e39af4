// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cellwatch/pkg/profile"
)

var profilesAudit bool

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List supported BMS protocols",
	Long: `List every registered protocol profile with the advertisements it
matches and the GATT characteristics it uses.

With --audit, also list checksum opt-outs and fields whose decode is
contested or recomputed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeProfiles(os.Stdout, profile.All(), profilesAudit)
	},
}

func init() {
	rootCmd.AddCommand(profilesCmd)
	profilesCmd.Flags().BoolVar(&profilesAudit, "audit", false, "Show checksum opt-outs and contested fields")
}

func writeProfiles(w io.Writer, profiles []profile.Profile, audit bool) error {
	for _, p := range profiles {
		info := p.Info()
		ch := p.Channels()
		fmt.Fprintf(w, "%s (%s %s)\n", p.Name(), info.Manufacturer, info.Model)

		for _, m := range p.Matchers() {
			fmt.Fprintf(w, "  match:    %s\n", m)
		}

		write := "none"
		if ch.Write != 0 {
			write = fmt.Sprintf("%04x", ch.Write)
		}
		fmt.Fprintf(w, "  service:  %04x  notify: %04x  write: %s\n", ch.Service, ch.Notify, write)

		steps := make([]string, 0, len(p.Handshake())+len(p.Requests()))
		for _, c := range p.Handshake() {
			steps = append(steps, "("+c.Name+")")
		}
		for _, c := range p.Requests() {
			steps = append(steps, c.Name)
		}
		fmt.Fprintf(w, "  cycle:    %s\n", strings.Join(steps, " -> "))

		c := p.Layout().Checksum
		if c.Enabled() {
			fmt.Fprintf(w, "  checksum: %s\n", c.Algorithm)
		} else {
			fmt.Fprintf(w, "  checksum: disabled\n")
		}

		if audit {
			notes := profile.Audit(p)
			if len(notes) == 0 {
				fmt.Fprintf(w, "  audit:    clean\n")
			}
			for _, n := range notes {
				fmt.Fprintf(w, "  audit:    %s\n", n)
			}
		}
		fmt.Fprintln(w)
	}
	return nil
}
