// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-certpin/pkg/gate"
)

// Record is one persisted decision.
type Record struct {
	ID       uuid.UUID `json:"id"`
	Time     time.Time `json:"time"`
	Host     string    `json:"host"`
	Accepted bool      `json:"accepted"`
	Reason   string    `json:"reason"`
	Pattern  string    `json:"pattern,omitempty"`
	Pin      string    `json:"pin,omitempty"`
	Version  uint64    `json:"version"`
}

// NewRecord converts a gate decision, assigning a fresh random ID.
func NewRecord(d gate.Decision) Record {
	rec := Record{
		ID:       uuid.New(),
		Time:     d.Time,
		Host:     d.Host,
		Accepted: d.Accepted,
		Reason:   d.Reason.String(),
		Pattern:  d.Pattern,
		Version:  d.Version,
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	if !d.MatchedPin.IsZero() {
		rec.Pin = d.MatchedPin.String()
	}
	return rec
}

// Store persists records.
type Store interface {
	Insert(ctx context.Context, rec Record) error

	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
}
