// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package pinstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Source produces pin documents: a file, a remote server, DNS, or a
// document compiled into the binary.
type Source interface {
	// Name identifies the source in logs and status output.
	Name() string

	// Fetch retrieves and decodes the current document.
	Fetch(ctx context.Context) (*Config, error)
}

// Store publishes the current PinSet. Readers take a snapshot with a single
// atomic load and never block; writers replace the whole snapshot.
type Store struct {
	current atomic.Pointer[PinSet]
	seq     atomic.Uint64

	// reloadMu serialises every publication that goes through validation,
	// so a slow Reload cannot overwrite a set loaded after its fetch began.
	reloadMu sync.Mutex
	logger   *slog.Logger
}

// NewStore creates an empty store. Until a pin set is published every
// verification against it fails closed.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{logger: logger.With("component", "pinstore")}
}

// Snapshot returns the current pin set, or nil if none has been published.
func (s *Store) Snapshot() *PinSet {
	return s.current.Load()
}

// Lookup resolves hostname against the current snapshot.
func (s *Store) Lookup(hostname string) (Entry, bool) {
	ps := s.current.Load()
	if ps == nil {
		return Entry{}, false
	}
	return ps.Lookup(hostname)
}

// Replace publishes ps as the current snapshot and returns the published
// copy, which carries the new version number. The caller's PinSet is not
// modified.
func (s *Store) Replace(ps *PinSet, source string) (*PinSet, error) {
	if ps == nil {
		return nil, fmt.Errorf("%w: nil pin set", ErrConfig)
	}
	next := *ps
	next.version = s.seq.Add(1)
	if source != "" {
		next.source = source
	}
	s.current.Store(&next)

	s.logger.Info("pin set published",
		"version", next.version,
		"source", next.source,
		"patterns", next.Len(),
		"unknown_host", next.policy.UnknownHost.String(),
		"match", next.policy.Match.String(),
		"require_pkix", next.policy.RequirePKIX)
	return &next, nil
}

// LoadConfig validates cfg and publishes it. On failure the current
// snapshot is left untouched.
func (s *Store) LoadConfig(cfg *Config, source string) (*PinSet, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	return s.loadConfigLocked(cfg, source)
}

func (s *Store) loadConfigLocked(cfg *Config, source string) (*PinSet, error) {
	ps, err := LoadWithLogger(cfg, s.logger)
	if err != nil {
		s.logger.Error("pin configuration rejected", "source", source, "error", err)
		return nil, err
	}
	return s.Replace(ps, source)
}

// Reload fetches a document from src, validates it and publishes it. On
// any failure the previous snapshot stays active and the error is returned.
func (s *Store) Reload(ctx context.Context, src Source) (*PinSet, error) {
	if src == nil {
		return nil, ErrNilSource
	}

	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	cfg, err := src.Fetch(ctx)
	if err != nil {
		s.logger.Error("pin source fetch failed", "source", src.Name(), "error", err)
		return nil, fmt.Errorf("%w: source %s: %w", ErrConfig, src.Name(), err)
	}
	return s.loadConfigLocked(cfg, src.Name())
}
