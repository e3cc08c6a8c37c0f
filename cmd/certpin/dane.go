// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-certpin/pkg/dane"
	"github.com/jeremyhahn/go-certpin/pkg/pinsource"
	"github.com/jeremyhahn/go-certpin/pkg/spkipin"
)

const defaultDANEResolveTimeout = 10 * time.Second

var daneCmd = &cobra.Command{
	Use:   "dane",
	Short: "DANE/TLSA operations",
	Long: `Derive pins from DNSSEC-validated TLSA records (RFC 6698) and generate
TLSA records for publishing pins in DNS.`,
}

var danePinsCmd = &cobra.Command{
	Use:   "pins",
	Short: "Print the pins published in a host's TLSA records",
	Long: `Query _<port>._tcp.<hostname> TLSA records and print the pins they
translate to. Answers without the DNSSEC Authenticated Data flag are
rejected. Only SHA-256 records and exact-match records have a pin
equivalent; other records are reported and skipped.`,
	RunE: runDANEPins,
}

var daneGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a TLSA record for DNS publishing",
	Long: `Generate a TLSA zone line from a certificate or from an existing pin.
The default "3 1 1" (DANE-EE, SPKI, SHA-256) publishes the same digest as an
SPKI pin of the leaf.`,
	RunE: runDANEGenerate,
}

var (
	danePinsHostname  string
	danePinsPort      int
	danePinsDNSServer string
	danePinsDNSTLS    bool

	daneGenCertFile string
	daneGenPin      string
	daneGenHostname string
	daneGenPort     int
	daneGenUsage    int
	daneGenSelector int
)

func init() {
	daneCmd.AddCommand(danePinsCmd)
	daneCmd.AddCommand(daneGenerateCmd)

	danePinsCmd.Flags().StringVar(&danePinsHostname, "hostname", "", "hostname to query (required)")
	danePinsCmd.Flags().IntVar(&danePinsPort, "port", int(pinsource.DefaultDANEPort), "service port")
	danePinsCmd.Flags().StringVar(&danePinsDNSServer, "dns-server", "", "DNS server address (e.g., 9.9.9.9:53)")
	danePinsCmd.Flags().BoolVar(&danePinsDNSTLS, "dns-over-tls", false, "use DNS-over-TLS")

	daneGenerateCmd.Flags().StringVar(&daneGenCertFile, "cert-file", "", "PEM certificate file (first certificate is used)")
	daneGenerateCmd.Flags().StringVar(&daneGenPin, "pin", "", "existing pin instead of a certificate")
	daneGenerateCmd.Flags().StringVar(&daneGenHostname, "hostname", "", "hostname for the record (required)")
	daneGenerateCmd.Flags().IntVar(&daneGenPort, "port", int(pinsource.DefaultDANEPort), "service port")
	daneGenerateCmd.Flags().IntVar(&daneGenUsage, "usage", int(dane.UsageDANEEE), "TLSA usage (0-3)")
	daneGenerateCmd.Flags().IntVar(&daneGenSelector, "selector", int(dane.SelectorSPKI), "TLSA selector (0=full cert, 1=SPKI)")
}

type danePinsResult struct {
	Name        string   `json:"name"`
	Records     []string `json:"records"`
	Pins        []string `json:"pins"`
	Match       string   `json:"match"`
	RequirePKIX bool     `json:"require_pkix"`
	Skipped     int      `json:"skipped"`
}

func runDANEPins(cmd *cobra.Command, args []string) error {
	if danePinsHostname == "" {
		return fmt.Errorf("%w: --hostname is required", ErrInvalidInput)
	}
	if danePinsPort <= 0 || danePinsPort > 65535 {
		return fmt.Errorf("%w: --port out of range", ErrInvalidInput)
	}

	resolver, err := dane.NewResolver(&dane.ResolverConfig{
		Server:    danePinsDNSServer,
		UseTLS:    danePinsDNSTLS,
		RequireAD: true,
		Logger:    slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("%w: resolver: %w", ErrLookupFailed, err)
	}

	sigCtx, sigStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer sigStop()
	ctx, cancel := context.WithTimeout(sigCtx, defaultDANEResolveTimeout)
	defer cancel()

	port := uint16(danePinsPort)
	records, err := resolver.LookupTLSA(ctx, danePinsHostname, port)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
	ps, err := dane.PinsFromRecords(records)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}

	result := danePinsResult{
		Name:        fmt.Sprintf("_%d._tcp.%s", port, danePinsHostname),
		Match:       ps.Match.String(),
		RequirePKIX: ps.RequirePKIX,
		Skipped:     ps.Skipped,
	}
	for _, rec := range records {
		result.Records = append(result.Records, fmt.Sprintf("%d %d %d %s",
			rec.Usage, rec.Selector, rec.MatchingType, hex.EncodeToString(rec.CertData)))
	}
	for _, p := range ps.Pins {
		result.Pins = append(result.Pins, p.String())
	}

	return writeResult(result, func() string {
		var b strings.Builder
		fmt.Fprintf(&b, "TLSA records for %s:\n", result.Name)
		for i, rec := range records {
			fmt.Fprintf(&b, "  [%d] %s (%s, %s, %s)\n", i+1, result.Records[i],
				tlsaUsageName(rec.Usage), tlsaSelectorName(rec.Selector), tlsaMatchingName(rec.MatchingType))
		}
		fmt.Fprintf(&b, "Pins (match=%s require_pkix=%t):\n", result.Match, result.RequirePKIX)
		for _, p := range result.Pins {
			fmt.Fprintf(&b, "  %s\n", p)
		}
		if result.Skipped > 0 {
			fmt.Fprintf(&b, "Skipped: %d record(s) without a pin equivalent\n", result.Skipped)
		}
		return b.String()
	})
}

func runDANEGenerate(cmd *cobra.Command, args []string) error {
	if daneGenHostname == "" {
		return fmt.Errorf("%w: --hostname is required", ErrInvalidInput)
	}
	if (daneGenCertFile == "") == (daneGenPin == "") {
		return fmt.Errorf("%w: exactly one of --cert-file and --pin is required", ErrInvalidInput)
	}
	if daneGenPort <= 0 || daneGenPort > 65535 {
		return fmt.Errorf("%w: --port out of range", ErrInvalidInput)
	}
	if daneGenUsage < 0 || daneGenUsage > int(dane.UsageDANEEE) {
		return fmt.Errorf("%w: --usage must be 0-3", ErrInvalidInput)
	}
	if daneGenSelector != int(dane.SelectorFullCert) && daneGenSelector != int(dane.SelectorSPKI) {
		return fmt.Errorf("%w: --selector must be 0 or 1", ErrInvalidInput)
	}

	var (
		rec *dane.TLSARecordString
		err error
	)
	if daneGenPin != "" {
		pin, perr := spkipin.ParsePin(daneGenPin)
		if perr != nil {
			return fmt.Errorf("%w: %w", ErrInvalidInput, perr)
		}
		rec, err = dane.GenerateFromPin(pin, daneGenHostname, uint16(daneGenPort), uint8(daneGenUsage))
	} else {
		certs, lerr := loadCertsFromPEMFile(daneGenCertFile)
		if lerr != nil {
			return lerr
		}
		rec, err = dane.GenerateTLSARecord(certs[0], daneGenHostname, uint16(daneGenPort),
			uint8(daneGenUsage), uint8(daneGenSelector))
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	return writeResult(rec, func() string { return rec.ZoneLine + "\n" })
}

var usageNames = map[uint8]string{
	dane.UsagePKIXTA: "PKIX-TA",
	dane.UsagePKIXEE: "PKIX-EE",
	dane.UsageDANETA: "DANE-TA",
	dane.UsageDANEEE: "DANE-EE",
}

var selectorNames = map[uint8]string{
	dane.SelectorFullCert: "Full Certificate",
	dane.SelectorSPKI:     "SubjectPublicKeyInfo",
}

var matchingNames = map[uint8]string{
	dane.MatchingExact:  "Exact Match",
	dane.MatchingSHA256: "SHA-256",
	dane.MatchingSHA512: "SHA-512",
}

func tlsaUsageName(usage uint8) string {
	if name, ok := usageNames[usage]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", usage)
}

func tlsaSelectorName(selector uint8) string {
	if name, ok := selectorNames[selector]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", selector)
}

func tlsaMatchingName(matchingType uint8) string {
	if name, ok := matchingNames[matchingType]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", matchingType)
}
