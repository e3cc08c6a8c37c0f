// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

// Package dane turns RFC 6698 TLSA records into pins. It looks records up
// over DNS with DNSSEC required, converts SHA-256 and exact-match records to
// spkipin.Pin values, and generates zone file lines for operators who want
// to publish their pins in DNS.
package dane

import "errors"

var (
	// ErrNoTLSARecords indicates no TLSA records were found for the queried name.
	ErrNoTLSARecords = errors.New("dane: no TLSA records found")

	// ErrDNSLookupFailed indicates the DNS query for TLSA records failed.
	ErrDNSLookupFailed = errors.New("dane: DNS lookup failed")

	// ErrDNSSECRequired indicates the Authenticated Data flag was missing
	// from a response that had to be DNSSEC validated.
	ErrDNSSECRequired = errors.New("dane: DNSSEC validation required but AD flag not set")
)

var (
	// ErrUnsupportedSelector indicates a TLSA selector other than 0 or 1.
	ErrUnsupportedSelector = errors.New("dane: unsupported TLSA selector")

	// ErrUnsupportedMatching indicates a matching type that cannot be expressed as a pin.
	ErrUnsupportedMatching = errors.New("dane: unsupported TLSA matching type")

	// ErrUnsupportedUsage indicates a certificate usage other than 0 to 3.
	ErrUnsupportedUsage = errors.New("dane: unsupported TLSA usage")

	// ErrNoUsableRecords indicates records were found but none converts to a pin.
	ErrNoUsableRecords = errors.New("dane: no TLSA record usable as a pin")
)

var (
	// ErrInvalidCertificate indicates a nil certificate.
	ErrInvalidCertificate = errors.New("dane: invalid certificate")

	// ErrInvalidHostname indicates an empty or malformed hostname.
	ErrInvalidHostname = errors.New("dane: invalid hostname")

	// ErrInvalidPort indicates port zero.
	ErrInvalidPort = errors.New("dane: invalid port")

	// ErrInvalidRecord indicates a nil TLSA record.
	ErrInvalidRecord = errors.New("dane: invalid TLSA record")

	// ErrResolverConfig indicates the resolver configuration is invalid.
	ErrResolverConfig = errors.New("dane: invalid resolver configuration")
)
