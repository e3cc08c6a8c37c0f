// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-certpin/pkg/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect recorded verification decisions",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent decisions",
	RunE:  runAuditList,
}

var (
	auditListDB    string
	auditListLimit int
)

func init() {
	auditCmd.AddCommand(auditListCmd)
	auditListCmd.Flags().StringVar(&auditListDB, "audit-db", "", "SQLite audit database (required)")
	auditListCmd.Flags().IntVar(&auditListLimit, "limit", 20, "maximum number of decisions")
}

func runAuditList(cmd *cobra.Command, args []string) error {
	if auditListDB == "" {
		return fmt.Errorf("%w: --audit-db is required", ErrInvalidInput)
	}
	if auditListLimit <= 0 {
		return fmt.Errorf("%w: --limit must be positive", ErrInvalidInput)
	}

	st, err := audit.Open(auditListDB)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFileOperation, err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	records, err := st.Recent(ctx, auditListLimit)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFileOperation, err)
	}

	return writeResult(records, func() string {
		var b strings.Builder
		for _, r := range records {
			result := "reject"
			if r.Accepted {
				result = "accept"
			}
			fmt.Fprintf(&b, "%s  %-6s  %-40s  %-28s  v%d\n",
				r.Time.UTC().Format(time.RFC3339), result, r.Host, r.Reason, r.Version)
		}
		if len(records) == 0 {
			b.WriteString("no decisions recorded\n")
		}
		return b.String()
	})
}
