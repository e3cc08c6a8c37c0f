// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

// Package chain matches presented certificate chains against a set of pins.
//
// The matching policy is explicit because it changes the security posture:
//
//   - MatchLeaf considers only the end-entity certificate. A pin survives
//     neither leaf key rotation nor CA changes, but it is sound even when the
//     chain was not PKIX-verified, since the TLS handshake proves possession
//     of the leaf private key.
//
//   - MatchChain considers every certificate in the chain, so a pin on an
//     intermediate or root survives leaf rotation. It is only sound over a
//     chain built by PKIX verification: a peer can append any public
//     certificate to the list it presents.
//
//   - MatchAnchor finds the pinned certificate in the presented list and
//     requires the leaf to chain to it, for the requested hostname, with no
//     other roots. This is the DANE-TA model: a private trust anchor that
//     system roots know nothing about. Matching alone proves nothing here;
//     callers must build the chain (the gate does).
package chain

import "errors"

var (
	// ErrUnknownPolicy is returned when a match policy name is not recognised.
	ErrUnknownPolicy = errors.New("chain: unknown match policy")
)
