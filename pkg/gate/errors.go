// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

// Package gate is the verification gate consulted on every TLS handshake.
//
// For a hostname and the peer's certificate chain the gate takes one
// snapshot of the pin store, looks up the host's pins and asks the chain
// validator for a match. The answer is an accept or reject Decision with a
// reason. The gate fails closed: no configuration, a malformed hostname, an
// uncovered host under the deny policy, an empty pin list and an empty
// chain all reject.
//
// TLSConfig installs the gate as a crypto/tls VerifyConnection hook, so a
// rejected peer never receives application data. No decision is retried.
package gate

import (
	"errors"
	"fmt"
)

var (
	// ErrRejected is wrapped by every RejectError.
	ErrRejected = errors.New("gate: connection rejected")

	// ErrNilStore indicates a Gate was configured without a pin store.
	ErrNilStore = errors.New("gate: pin store is required")
)

// RejectError is returned by Verify and by the TLS hook when the gate
// rejects a peer. It carries the full Decision.
type RejectError struct {
	Decision Decision

	// Cause is set when the rejection came from PKIX path validation.
	Cause error
}

// Error implements error.
func (e *RejectError) Error() string {
	msg := fmt.Sprintf("gate: rejected %s: %s", e.Decision.Host, e.Decision.Reason.Message())
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes ErrRejected and, when present, the PKIX cause.
func (e *RejectError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrRejected, e.Cause}
	}
	return []error{ErrRejected}
}
