// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package gate

import (
	"time"

	"github.com/jeremyhahn/go-certpin/pkg/spkipin"
)

// Reason explains a Decision. Values are stable and safe to log or persist.
type Reason string

const (
	// ReasonNotConfigured: the store has no pin set.
	ReasonNotConfigured Reason = "not_configured"

	// ReasonInvalidHostname: the hostname is empty or malformed.
	ReasonInvalidHostname Reason = "invalid_hostname"

	// ReasonHostNotCovered: no pattern covers the host and the policy is deny.
	ReasonHostNotCovered Reason = "host_not_covered"

	// ReasonHostNotCoveredPermissive: no pattern covers the host and the policy is allow.
	ReasonHostNotCoveredPermissive Reason = "host_not_covered_permissive"

	// ReasonEmptyPinSet: the host is covered by an entry with no pins.
	ReasonEmptyPinSet Reason = "empty_pin_set"

	// ReasonNoCertificates: the peer presented no certificates.
	ReasonNoCertificates Reason = "no_certificates"

	// ReasonUntrustedChain: PKIX path validation failed.
	ReasonUntrustedChain Reason = "untrusted_chain"

	// ReasonPinMatched: a certificate digest matched a configured pin.
	ReasonPinMatched Reason = "pin_matched"

	// ReasonNoMatchingPin: no considered certificate matched any pin.
	ReasonNoMatchingPin Reason = "no_matching_pin"
)

// Message returns a short human-readable description.
func (r Reason) Message() string {
	switch r {
	case ReasonNotConfigured:
		return "pinning not configured"
	case ReasonInvalidHostname:
		return "invalid hostname"
	case ReasonHostNotCovered:
		return "host not covered"
	case ReasonHostNotCoveredPermissive:
		return "host not covered, allowed by policy"
	case ReasonEmptyPinSet:
		return "empty pin set"
	case ReasonNoCertificates:
		return "no certificates presented"
	case ReasonUntrustedChain:
		return "certificate chain not trusted"
	case ReasonPinMatched:
		return "pin matched"
	case ReasonNoMatchingPin:
		return "no matching pin"
	default:
		return string(r)
	}
}

// String returns the reason code.
func (r Reason) String() string {
	return string(r)
}

// Decision is the outcome of one verification.
type Decision struct {
	Accepted bool
	Reason   Reason

	// Host is the normalised hostname, or the raw input if it was invalid.
	Host string

	// Pattern is the entry that covered the host, empty if none did.
	Pattern string

	// MatchedPin is the pin that matched; zero unless Reason is ReasonPinMatched.
	MatchedPin spkipin.Pin

	// Version is the pin set version the decision was made against; zero
	// when no pin set was loaded.
	Version uint64

	Time time.Time
}

// Recorder receives every decision the gate makes. Record is called on the
// handshake path and must not block.
type Recorder interface {
	Record(Decision)
}
