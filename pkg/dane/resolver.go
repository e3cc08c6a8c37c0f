// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package dane

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const (
	defaultTimeout = 5 * time.Second
	defaultDNSPort = "53"
	defaultDoTPort = "853"

	// resolvConf is read when no server is configured.
	resolvConf = "/etc/resolv.conf"
)

// Resolver looks up TLSA records over UDP or DNS-over-TLS.
type Resolver struct {
	client    *dns.Client
	server    string
	requireAD bool
	logger    *slog.Logger
}

// NewResolver creates a resolver from cfg.
func NewResolver(cfg *ResolverConfig) (*Resolver, error) {
	if cfg == nil {
		return nil, ErrResolverConfig
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := &dns.Client{Net: "udp", Timeout: timeout}
	port := defaultDNSPort
	if cfg.UseTLS {
		client.Net = "tcp-tls"
		client.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: cfg.TLSServerName,
		}
		port = defaultDoTPort
	}

	server := cfg.Server
	if server == "" {
		systemCfg, err := dns.ClientConfigFromFile(resolvConf)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrResolverConfig, err)
		}
		if len(systemCfg.Servers) == 0 {
			return nil, fmt.Errorf("%w: no nameservers in %s", ErrResolverConfig, resolvConf)
		}
		server = systemCfg.Servers[0]
		if systemCfg.Port != "" && !cfg.UseTLS {
			port = systemCfg.Port
		}
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(strings.Trim(server, "[]"), port)
	}

	return &Resolver{
		client:    client,
		server:    server,
		requireAD: cfg.RequireAD,
		logger:    logger.With("component", "dane_resolver"),
	}, nil
}

// Server returns the resolver address queries are sent to.
func (r *Resolver) Server() string {
	return r.server
}

// LookupTLSA queries "_<port>._tcp.<hostname>." for TLSA records. Answers
// without the AD flag are rejected when the resolver requires DNSSEC.
func (r *Resolver) LookupTLSA(ctx context.Context, hostname string, port uint16) ([]*TLSARecord, error) {
	if hostname == "" || len(hostname) > 253 || strings.ContainsAny(hostname, "\x00 ") {
		return nil, ErrInvalidHostname
	}
	if port == 0 {
		return nil, ErrInvalidPort
	}

	qname := formatTLSAName(hostname, port)
	msg := new(dns.Msg)
	msg.SetQuestion(qname, dns.TypeTLSA)
	msg.SetEdns0(4096, true)
	msg.RecursionDesired = true

	resp, rtt, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDNSLookupFailed, qname, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: %s: empty response", ErrDNSLookupFailed, qname)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("%w: %s: rcode %s", ErrDNSLookupFailed, qname, dns.RcodeToString[resp.Rcode])
	}
	if r.requireAD && !resp.AuthenticatedData {
		return nil, fmt.Errorf("%w: %s", ErrDNSSECRequired, qname)
	}

	records := make([]*TLSARecord, 0, len(resp.Answer))
	for _, rr := range resp.Answer {
		tlsa, ok := rr.(*dns.TLSA)
		if !ok {
			continue
		}
		data, err := hex.DecodeString(tlsa.Certificate)
		if err != nil {
			r.logger.Warn("skipping TLSA record with malformed data", "name", qname, "error", err)
			continue
		}
		records = append(records, &TLSARecord{
			Usage:        tlsa.Usage,
			Selector:     tlsa.Selector,
			MatchingType: tlsa.MatchingType,
			CertData:     data,
		})
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoTLSARecords, qname)
	}

	r.logger.Debug("TLSA lookup complete",
		"name", qname, "records", len(records), "authenticated", resp.AuthenticatedData, "rtt", rtt)
	return records, nil
}

// LookupPins resolves hostname's TLSA records and converts them to pins.
func (r *Resolver) LookupPins(ctx context.Context, hostname string, port uint16) (*PinSet, error) {
	records, err := r.LookupTLSA(ctx, hostname, port)
	if err != nil {
		return nil, err
	}
	ps, err := PinsFromRecords(records)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", formatTLSAName(hostname, port), err)
	}
	if ps.Skipped > 0 {
		r.logger.Info("ignored TLSA records without a pin equivalent",
			"hostname", hostname, "port", port, "skipped", ps.Skipped)
	}
	return ps, nil
}

// formatTLSAName builds the absolute owner name "_<port>._tcp.<hostname>.".
func formatTLSAName(hostname string, port uint16) string {
	return fmt.Sprintf("_%d._tcp.%s", port, dns.Fqdn(strings.ToLower(hostname)))
}
