// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

// Package spkipin provides the pin primitive used throughout certpin: a
// SHA-256 digest of either a certificate's SubjectPublicKeyInfo or of the
// whole DER certificate. It also provides a single-pin TLS client used to
// fetch pin documents from a distribution server before any pin set has been
// loaded.
package spkipin

import "errors"

var (
	// ErrSPKIPinMismatch is returned when no certificate in the chain matches the expected pin.
	ErrSPKIPinMismatch = errors.New("spkipin: pin mismatch")

	// ErrNoPinConfigured is returned when the pin is empty or not provided.
	ErrNoPinConfigured = errors.New("spkipin: no pin configured")

	// ErrNoCertificates is returned when no certificates are presented during TLS verification.
	ErrNoCertificates = errors.New("spkipin: no certificates presented")

	// ErrFetchFailed covers transport failures, unexpected statuses and a bad
	// server URL.
	ErrFetchFailed = errors.New("spkipin: pin document fetch failed")

	// ErrInvalidPinFormat is returned when a pin string cannot be decoded or
	// does not decode to a SHA-256 digest.
	ErrInvalidPinFormat = errors.New("spkipin: invalid pin format")

	// ErrEmptyResponse is returned for a 200 with no body.
	ErrEmptyResponse = errors.New("spkipin: empty response")

	// ErrResponseTooLarge is returned when a document exceeds MaxResponseSize.
	ErrResponseTooLarge = errors.New("spkipin: response too large")
)
