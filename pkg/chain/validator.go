// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package chain

import (
	"crypto/x509"
	"fmt"
	"strings"

	"github.com/jeremyhahn/go-certpin/pkg/spkipin"
)

// MatchPolicy selects which certificates of a chain are compared against pins.
type MatchPolicy uint8

const (
	// MatchChain compares every certificate in the chain (leaf to root).
	MatchChain MatchPolicy = iota

	// MatchLeaf compares only the first (end-entity) certificate.
	MatchLeaf

	// MatchAnchor compares every certificate like MatchChain. The matching
	// certificate is then used as the sole trust anchor for the leaf.
	MatchAnchor
)

// String returns the configuration name of the policy.
func (p MatchPolicy) String() string {
	switch p {
	case MatchChain:
		return "chain"
	case MatchLeaf:
		return "leaf"
	case MatchAnchor:
		return "anchor"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// ParseMatchPolicy parses "chain", "leaf" or "anchor". The empty string
// selects MatchChain.
func ParseMatchPolicy(s string) (MatchPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "chain", "any":
		return MatchChain, nil
	case "leaf":
		return MatchLeaf, nil
	case "anchor":
		return MatchAnchor, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// Validator matches certificate chains against pins under a fixed policy.
// It holds no mutable state and is safe for concurrent use.
type Validator struct {
	policy MatchPolicy
}

// NewValidator returns a validator for the given policy.
func NewValidator(policy MatchPolicy) *Validator {
	return &Validator{policy: policy}
}

// Policy returns the validator's match policy.
func (v *Validator) Policy() MatchPolicy {
	return v.policy
}

// Match reports whether any considered certificate's digest is in pins.
func (v *Validator) Match(chain []*x509.Certificate, pins []spkipin.Pin) bool {
	_, ok := v.MatchPin(chain, pins)
	return ok
}

// MatchPin is Match but also returns the pin that matched. Digests are
// computed once per certificate and kind, and compared in constant time.
func (v *Validator) MatchPin(chain []*x509.Certificate, pins []spkipin.Pin) (spkipin.Pin, bool) {
	if len(chain) == 0 || len(pins) == 0 {
		return spkipin.Pin{}, false
	}

	considered := chain
	if v.policy == MatchLeaf {
		considered = chain[:1]
	}

	needSPKI, needCert := kindsOf(pins)
	for _, cert := range considered {
		if cert == nil {
			continue
		}
		var spki, full spkipin.Pin
		if needSPKI {
			spki = spkipin.ComputeSPKIPin(cert)
		}
		if needCert {
			full = spkipin.ComputeCertificatePin(cert)
		}
		for _, pin := range pins {
			computed := spki
			if pin.Kind() == spkipin.KindCertificate {
				computed = full
			}
			if computed.Equal(pin) {
				return pin, true
			}
		}
	}
	return spkipin.Pin{}, false
}

// kindsOf reports which digest kinds occur in pins.
func kindsOf(pins []spkipin.Pin) (spki, cert bool) {
	for _, p := range pins {
		switch p.Kind() {
		case spkipin.KindCertificate:
			cert = true
		default:
			spki = true
		}
	}
	return spki, cert
}
