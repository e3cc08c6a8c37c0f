// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package main

import (
	"errors"

	"github.com/jeremyhahn/go-certpin/pkg/pinstore"
)

// Exit codes for the CLI.
const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess = 0

	// ExitRejected indicates a verification was rejected or an operation failed.
	ExitRejected = 1

	// ExitConfigError indicates an invalid pin configuration or invalid input.
	ExitConfigError = 2
)

var (
	// ErrInvalidInput is returned when required flags are missing or invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRejected is returned when the gate rejects a peer.
	ErrRejected = errors.New("verification rejected")

	// ErrLookupFailed is returned when a DNS or network lookup fails.
	ErrLookupFailed = errors.New("lookup failed")

	// ErrFileOperation is returned when a file read or write operation fails.
	ErrFileOperation = errors.New("file operation failed")

	// ErrServerStart is returned when a listener fails to start or stop.
	ErrServerStart = errors.New("server start failed")
)

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, pinstore.ErrConfig), errors.Is(err, ErrInvalidInput):
		return ExitConfigError
	default:
		return ExitRejected
	}
}
