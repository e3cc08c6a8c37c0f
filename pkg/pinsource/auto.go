// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package pinsource

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jeremyhahn/go-certpin/pkg/pinstore"
)

// DefaultPerSourceTimeout bounds each source attempt.
const DefaultPerSourceTimeout = 15 * time.Second

// AutoConfig configures an AutoSource.
type AutoConfig struct {
	// Sources are tried in order. Nil entries are skipped.
	Sources []pinstore.Source

	// PerSourceTimeout bounds each attempt. Default: 15s.
	PerSourceTimeout time.Duration

	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger
}

// AutoSource tries its sources in order and returns the first document that
// also passes pinstore.Load validation. When every source fails it returns
// an *AggregateError naming each attempt.
type AutoSource struct {
	sources    []pinstore.Source
	perTimeout time.Duration
	logger     *slog.Logger
}

// NewAutoSource creates an ordered fallback source.
func NewAutoSource(cfg *AutoConfig) (*AutoSource, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	sources := make([]pinstore.Source, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		if s != nil {
			sources = append(sources, s)
		}
	}
	if len(sources) == 0 {
		return nil, ErrNoSources
	}
	perTimeout := cfg.PerSourceTimeout
	if perTimeout == 0 {
		perTimeout = DefaultPerSourceTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AutoSource{
		sources:    sources,
		perTimeout: perTimeout,
		logger:     logger.With("component", "auto_source"),
	}, nil
}

// Name implements pinstore.Source.
func (a *AutoSource) Name() string {
	return "auto"
}

// Fetch implements pinstore.Source.
func (a *AutoSource) Fetch(ctx context.Context) (*pinstore.Config, error) {
	attempts := make([]AttemptError, 0, len(a.sources))

	for _, src := range a.sources {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: context cancelled: %w", ErrAllSourcesFailed, err)
		}

		a.logger.Debug("attempting pin source", "source", src.Name())
		cfg, err := a.try(ctx, src)
		if err == nil {
			a.logger.Info("pin source succeeded", "source", src.Name())
			return cfg, nil
		}

		a.logger.Warn("pin source failed", "source", src.Name(), "error", err)
		attempts = append(attempts, AttemptError{Source: src.Name(), Err: err})
	}

	return nil, &AggregateError{Attempts: attempts}
}

func (a *AutoSource) try(ctx context.Context, src pinstore.Source) (*pinstore.Config, error) {
	srcCtx, cancel := context.WithTimeout(ctx, a.perTimeout)
	defer cancel()

	cfg, err := src.Fetch(srcCtx)
	if err != nil {
		return nil, err
	}
	if _, err := pinstore.LoadWithLogger(cfg, a.logger); err != nil {
		return nil, err
	}
	return cfg, nil
}
