// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-certpin/pkg/pinsource"
	"github.com/jeremyhahn/go-certpin/pkg/pinstore"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Pin document operations",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a pin document",
	Long: `Parse and load a pin document exactly as the verification gate would
and print a summary. Exits 2 if any entry is malformed.`,
	RunE: runConfigValidate,
}

var configValidateFile string

func init() {
	configCmd.AddCommand(configValidateCmd)
	configValidateCmd.Flags().StringVar(&configValidateFile, "config", "", "pin document file (required)")
}

type configSummary struct {
	UnknownHost string      `json:"unknown_host"`
	Match       string      `json:"match"`
	RequirePKIX bool        `json:"require_pkix"`
	Hosts       []hostEntry `json:"hosts"`
}

type hostEntry struct {
	Pattern     string `json:"pattern"`
	Pins        int    `json:"pins"`
	Match       string `json:"match"`
	RequirePKIX bool   `json:"require_pkix"`
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if configValidateFile == "" {
		return fmt.Errorf("%w: --config is required", ErrInvalidInput)
	}
	src, err := pinsource.NewFileSource(configValidateFile)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	cfg, err := src.Fetch(context.Background())
	if err != nil {
		return err
	}
	ps, err := pinstore.LoadWithLogger(cfg, slog.Default())
	if err != nil {
		return err
	}

	policy := ps.Policy()
	summary := configSummary{
		UnknownHost: policy.UnknownHost.String(),
		Match:       policy.Match.String(),
		RequirePKIX: policy.RequirePKIX,
	}
	for _, e := range ps.Entries() {
		summary.Hosts = append(summary.Hosts, hostEntry{
			Pattern:     e.Pattern,
			Pins:        len(e.Pins),
			Match:       e.Match.String(),
			RequirePKIX: e.RequirePKIX,
		})
	}

	return writeResult(summary, func() string {
		var b strings.Builder
		fmt.Fprintf(&b, "Valid pin document: %s\n", configValidateFile)
		fmt.Fprintf(&b, "Policy: unknown_host=%s match=%s require_pkix=%t\n",
			summary.UnknownHost, summary.Match, summary.RequirePKIX)
		fmt.Fprintf(&b, "Hosts:  %d\n", len(summary.Hosts))
		for _, h := range summary.Hosts {
			note := ""
			if h.Pins == 0 {
				note = " (always rejected)"
			}
			fmt.Fprintf(&b, "  %-40s %d pin(s) match=%s require_pkix=%t%s\n", h.Pattern, h.Pins, h.Match, h.RequirePKIX, note)
		}
		return b.String()
	})
}
