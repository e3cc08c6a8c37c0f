// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

// Package pinsource provides the places a pin document can come from: a
// file, a document compiled into the binary, a pin distribution server
// reached over single-pin TLS, DNSSEC-validated TLSA records, and an
// ordered fallback over any of these.
//
// Every source implements pinstore.Source. A source that cannot produce a
// document returns an error; no source ever degrades to "no pinning".
package pinsource

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidConfig indicates a source was constructed with missing or
	// invalid settings.
	ErrInvalidConfig = errors.New("pinsource: invalid configuration")

	// ErrFetchFailed indicates a source could not produce a document.
	ErrFetchFailed = errors.New("pinsource: fetch failed")

	// ErrAllSourcesFailed is wrapped by AggregateError.
	ErrAllSourcesFailed = errors.New("pinsource: all sources failed")

	// ErrNoSources indicates an AutoSource with nothing to try.
	ErrNoSources = errors.New("pinsource: no sources configured")
)

// AttemptError records one failed source in an AutoSource fetch.
type AttemptError struct {
	Source string
	Err    error
}

// Error implements error.
func (e *AttemptError) Error() string {
	return fmt.Sprintf("pinsource %s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying error.
func (e *AttemptError) Unwrap() error {
	return e.Err
}

// AggregateError is returned when every source of an AutoSource failed.
type AggregateError struct {
	Attempts []AttemptError
}

// Error lists every failed source.
func (e *AggregateError) Error() string {
	var b strings.Builder
	b.WriteString("pinsource: all sources failed: [")
	for i, a := range e.Attempts {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", a.Source, a.Err)
	}
	b.WriteString("]")
	return b.String()
}

// Unwrap returns ErrAllSourcesFailed for use with errors.Is.
func (e *AggregateError) Unwrap() error {
	return ErrAllSourcesFailed
}
