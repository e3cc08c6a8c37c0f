// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package dane

import (
	"log/slog"
	"time"
)

// Certificate usages (RFC 6698 Section 2.1.1).
const (
	// UsagePKIXTA (0): a CA in the PKIX-validated chain.
	UsagePKIXTA uint8 = 0

	// UsagePKIXEE (1): the end-entity certificate, PKIX validation still required.
	UsagePKIXEE uint8 = 1

	// UsageDANETA (2): a trust anchor in the presented chain.
	UsageDANETA uint8 = 2

	// UsageDANEEE (3): the end-entity certificate, trusted on the record alone.
	UsageDANEEE uint8 = 3
)

// Selectors (RFC 6698 Section 2.1.2).
const (
	// SelectorFullCert selects the DER certificate.
	SelectorFullCert uint8 = 0

	// SelectorSPKI selects the DER SubjectPublicKeyInfo.
	SelectorSPKI uint8 = 1
)

// Matching types (RFC 6698 Section 2.1.3).
const (
	MatchingExact  uint8 = 0
	MatchingSHA256 uint8 = 1
	MatchingSHA512 uint8 = 2
)

// TLSARecord is a decoded TLSA resource record.
type TLSARecord struct {
	Usage        uint8
	Selector     uint8
	MatchingType uint8

	// CertData is the certificate association data: a digest, or the raw
	// selected bytes for MatchingExact.
	CertData []byte
}

// ResolverConfig configures the DNS resolver used for TLSA lookups.
type ResolverConfig struct {
	// Server is the resolver address (e.g., "9.9.9.9:53"). When empty the
	// first nameserver in /etc/resolv.conf is used.
	Server string

	// UseTLS enables DNS-over-TLS, defaulting the port to 853.
	UseTLS bool

	// TLSServerName is the SNI value for DNS-over-TLS.
	TLSServerName string

	// RequireAD requires the Authenticated Data flag on every answer.
	// Pins derived from unauthenticated DNS are worthless, so production
	// callers should always set it.
	RequireAD bool

	// Timeout bounds each query. Default: 5 seconds.
	Timeout time.Duration

	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger
}

// TLSARecordString is a TLSA record rendered for a DNS zone file.
type TLSARecordString struct {
	// Name is the owner name, e.g. "_443._tcp.api.example.com.".
	Name         string
	Usage        uint8
	Selector     uint8
	MatchingType uint8
	HexData      string

	// ZoneLine is the complete zone file line.
	ZoneLine string
}
