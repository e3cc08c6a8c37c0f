// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

// Package audit persists verification decisions. Log implements
// gate.Recorder with a bounded queue drained by a background writer, so the
// handshake path never waits on storage. SQLiteStore keeps the records.
package audit

import "errors"

var (
	// ErrStoreRequired indicates a Log was created without a Store.
	ErrStoreRequired = errors.New("audit: store is required")

	// ErrClosed indicates the store or log has been closed.
	ErrClosed = errors.New("audit: closed")

	// ErrStorage wraps database failures.
	ErrStorage = errors.New("audit: storage failure")
)
