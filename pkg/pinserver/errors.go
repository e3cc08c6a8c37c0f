// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

// Package pinserver publishes the active pin document over HTTPS so that
// clients can fetch it with pinsource.RemoteSource.
package pinserver

import "errors"

var (
	// ErrNilStore indicates the server was configured without a pin store.
	ErrNilStore = errors.New("pinserver: pin store is required")

	// ErrServerNotStarted indicates Stop was called before Start.
	ErrServerNotStarted = errors.New("pinserver: server not started")

	// ErrServerAlreadyStarted indicates Start was called twice.
	ErrServerAlreadyStarted = errors.New("pinserver: server already started")

	// ErrListen indicates the listener could not be bound.
	ErrListen = errors.New("pinserver: listen failed")
)
