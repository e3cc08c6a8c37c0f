// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-certpin/pkg/audit"
	"github.com/jeremyhahn/go-certpin/pkg/gate"
	"github.com/jeremyhahn/go-certpin/pkg/pinstore"
	"github.com/jeremyhahn/go-certpin/pkg/spkipin"
)

const defaultCheckTimeout = 15 * time.Second

var pinCmd = &cobra.Command{
	Use:   "pin",
	Short: "Pin operations",
	Long: `Compute pins from certificates and check live TLS peers.

Subcommands:
  show  - print the pin of every certificate in a PEM file
  check - connect to a peer and report the pinning decision`,
}

var pinShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print pins of the certificates in a PEM file",
	Long: `Compute the SHA-256 pin of every certificate in a PEM file. SPKI pins
("sha256/<base64>") survive renewal with the same key; certificate pins
("cert-sha256/<base64>") change with every reissue.`,
	RunE: runPinShow,
}

var pinCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check a TLS peer against a pin document",
	Long: `Load a pin document, connect to the peer with the verification gate
installed in the TLS handshake and report the decision. Exits 1 when the
peer is rejected and 2 when the pin document is invalid.`,
	RunE: runPinCheck,
}

var (
	pinShowCertFile string
	pinShowKind     string

	checkSource  sourceFlags
	checkHost    string
	checkAddr    string
	checkCAFile  string
	checkTimeout time.Duration
	checkAuditDB string
)

func init() {
	pinCmd.AddCommand(pinShowCmd)
	pinCmd.AddCommand(pinCheckCmd)

	pinShowCmd.Flags().StringVar(&pinShowCertFile, "cert-file", "", "path to PEM certificate file (required)")
	pinShowCmd.Flags().StringVar(&pinShowKind, "kind", "spki", "pin kind (spki|cert)")

	checkSource.register(pinCheckCmd)
	pinCheckCmd.Flags().StringVar(&checkHost, "host", "", "hostname to verify (required)")
	pinCheckCmd.Flags().StringVar(&checkAddr, "addr", "", "address to dial (default: <host>:443)")
	pinCheckCmd.Flags().StringVar(&checkCAFile, "ca-file", "", "PEM roots for PKIX validation (default: system roots)")
	pinCheckCmd.Flags().DurationVar(&checkTimeout, "timeout", defaultCheckTimeout, "overall timeout")
	pinCheckCmd.Flags().StringVar(&checkAuditDB, "audit-db", "", "SQLite database that records the decision")
}

type pinInfo struct {
	Subject string `json:"subject"`
	Issuer  string `json:"issuer"`
	Kind    string `json:"kind"`
	Pin     string `json:"pin"`
	Hex     string `json:"hex"`
}

func runPinShow(cmd *cobra.Command, args []string) error {
	if pinShowCertFile == "" {
		return fmt.Errorf("%w: --cert-file is required", ErrInvalidInput)
	}
	kind, err := spkipin.ParseKind(pinShowKind)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	certs, err := loadCertsFromPEMFile(pinShowCertFile)
	if err != nil {
		return err
	}

	infos := make([]pinInfo, 0, len(certs))
	for _, c := range certs {
		pin := spkipin.ComputePin(c, kind)
		infos = append(infos, pinInfo{
			Subject: c.Subject.String(),
			Issuer:  c.Issuer.String(),
			Kind:    kind.String(),
			Pin:     pin.String(),
			Hex:     pin.Hex(),
		})
	}

	return writeResult(infos, func() string {
		var b strings.Builder
		for i, info := range infos {
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "Subject: %s\n", info.Subject)
			fmt.Fprintf(&b, "Issuer:  %s\n", info.Issuer)
			fmt.Fprintf(&b, "Pin:     %s\n", info.Pin)
			fmt.Fprintf(&b, "Hex:     %s\n", info.Hex)
		}
		return b.String()
	})
}

// decisionView is the printable form of a gate.Decision.
type decisionView struct {
	Host     string `json:"host"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason"`
	Message  string `json:"message"`
	Pattern  string `json:"pattern,omitempty"`
	Pin      string `json:"pin,omitempty"`
	Version  uint64 `json:"version"`
}

func newDecisionView(d gate.Decision) decisionView {
	v := decisionView{
		Host:     d.Host,
		Accepted: d.Accepted,
		Reason:   string(d.Reason),
		Message:  d.Reason.Message(),
		Pattern:  d.Pattern,
		Version:  d.Version,
	}
	if !d.MatchedPin.IsZero() {
		v.Pin = d.MatchedPin.String()
	}
	return v
}

func (v decisionView) text() string {
	result := "REJECTED"
	if v.Accepted {
		result = "ACCEPTED"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Host:    %s\n", v.Host)
	fmt.Fprintf(&b, "Result:  %s (%s)\n", result, v.Message)
	if v.Pattern != "" {
		fmt.Fprintf(&b, "Pattern: %s\n", v.Pattern)
	}
	if v.Pin != "" {
		fmt.Fprintf(&b, "Pin:     %s\n", v.Pin)
	}
	fmt.Fprintf(&b, "Version: %d\n", v.Version)
	return b.String()
}

// lastDecision keeps the most recent decision and forwards every decision
// to next.
type lastDecision struct {
	mu   sync.Mutex
	d    gate.Decision
	seen bool
	next gate.Recorder
}

func (r *lastDecision) Record(d gate.Decision) {
	r.mu.Lock()
	r.d, r.seen = d, true
	r.mu.Unlock()
	if r.next != nil {
		r.next.Record(d)
	}
}

func (r *lastDecision) get() (gate.Decision, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.d, r.seen
}

func runPinCheck(cmd *cobra.Command, args []string) error {
	if checkHost == "" {
		return fmt.Errorf("%w: --host is required", ErrInvalidInput)
	}
	addr := checkAddr
	if addr == "" {
		addr = net.JoinHostPort(checkHost, "443")
	}
	roots, err := loadCertPool(checkCAFile)
	if err != nil {
		return err
	}

	src, release, err := checkSource.build()
	defer release()
	if err != nil {
		return err
	}

	sigCtx, sigStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer sigStop()
	ctx, cancel := context.WithTimeout(sigCtx, checkTimeout)
	defer cancel()

	store := pinstore.NewStore(slog.Default())
	if _, err := store.Reload(ctx, src); err != nil {
		return err
	}

	recorder := &lastDecision{}
	if checkAuditDB != "" {
		auditLog, closeAudit, err := openAuditLog(checkAuditDB)
		if err != nil {
			return err
		}
		defer closeAudit()
		recorder.next = auditLog
	}

	g, err := gate.New(&gate.Config{Store: store, Recorder: recorder, Logger: slog.Default()})
	if err != nil {
		return err
	}

	conn, dialErr := g.DialTLSWithConfig(ctx, "tcp", addr, &tls.Config{ServerName: checkHost, RootCAs: roots})
	if dialErr == nil {
		conn.Close()
	}

	d, ok := recorder.get()
	if !ok {
		return fmt.Errorf("%w: %s: %w", ErrLookupFailed, addr, dialErr)
	}
	view := newDecisionView(d)
	if err := writeResult(view, view.text); err != nil {
		return err
	}
	if !d.Accepted {
		return fmt.Errorf("%w: %s: %s", ErrRejected, d.Host, d.Reason)
	}
	if dialErr != nil {
		var rejected *gate.RejectError
		if errors.As(dialErr, &rejected) {
			return fmt.Errorf("%w: %w", ErrRejected, dialErr)
		}
		return fmt.Errorf("%w: %s: %w", ErrLookupFailed, addr, dialErr)
	}
	return nil
}

// openAuditLog opens the SQLite audit store behind an asynchronous log.
// The returned function drains the log and closes the database.
func openAuditLog(path string) (*audit.Log, func(), error) {
	st, err := audit.Open(path)
	if err != nil {
		return nil, func() {}, fmt.Errorf("%w: %w", ErrFileOperation, err)
	}
	l, err := audit.NewLog(&audit.LogConfig{Store: st, Logger: slog.Default()})
	if err != nil {
		st.Close()
		return nil, func() {}, err
	}
	return l, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.Close(ctx); err != nil {
			slog.Warn("audit log close", "error", err)
		}
		st.Close()
	}, nil
}
