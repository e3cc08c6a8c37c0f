// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

// Package pinstore holds the pinning configuration: which hostname patterns
// are pinned, to which digests, and under what policy.
//
// A PinSet is built once by Load, validated as a whole, and never mutated
// afterwards. A Store publishes the current PinSet through an atomic
// pointer, so any number of concurrent verifications read a consistent
// snapshot without locking while a reload swaps in a complete replacement.
package pinstore

import "errors"

var (
	// ErrConfig indicates a malformed or missing pin configuration. Loading
	// fails as a whole; no partial pin set is ever produced.
	ErrConfig = errors.New("pinstore: invalid pin configuration")

	// ErrInvalidHostname indicates a hostname or pattern that is empty or malformed.
	ErrInvalidHostname = errors.New("pinstore: invalid hostname")

	// ErrNotLoaded indicates the store has no pin set yet.
	ErrNotLoaded = errors.New("pinstore: no pin set loaded")

	// ErrNilSource indicates Reload was called without a source.
	ErrNilSource = errors.New("pinstore: nil source")
)
