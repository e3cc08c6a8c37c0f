// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package pinsource

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jeremyhahn/go-certpin/pkg/dane"
	"github.com/jeremyhahn/go-certpin/pkg/pinstore"
)

// DefaultDANEPort is used for hosts configured without a port.
const DefaultDANEPort uint16 = 443

// PinResolver resolves a host's TLSA RRset to pins. *dane.Resolver
// implements it.
type PinResolver interface {
	LookupPins(ctx context.Context, hostname string, port uint16) (*dane.PinSet, error)
}

// DANEHost names one pinned service.
type DANEHost struct {
	Hostname string
	Port     uint16
}

// DANEConfig configures a DANESource.
type DANEConfig struct {
	// Hosts are the services whose TLSA records become pins. Required.
	Hosts []DANEHost

	// Resolver overrides the resolver built from ResolverConfig.
	Resolver PinResolver

	// ResolverConfig is used when Resolver is nil. RequireAD is forced on.
	ResolverConfig dane.ResolverConfig

	// UnknownHost is written into the generated document's policy.
	UnknownHost string

	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger
}

// DANESource builds a pin document from DNSSEC-validated TLSA records.
// Each host becomes an exact pattern carrying the match policy and PKIX
// requirement its own RRset calls for, so a DANE-EE host and a PKIX-TA host
// can share one document.
type DANESource struct {
	hosts       []DANEHost
	resolver    PinResolver
	unknownHost string
	logger      *slog.Logger
}

// NewDANESource creates a DANE source.
func NewDANESource(cfg *DANEConfig) (*DANESource, error) {
	if cfg == nil || len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("%w: at least one DANE host required", ErrInvalidConfig)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hosts := make([]DANEHost, len(cfg.Hosts))
	for i, h := range cfg.Hosts {
		if strings.TrimSpace(h.Hostname) == "" {
			return nil, fmt.Errorf("%w: hosts[%d]: hostname required", ErrInvalidConfig, i)
		}
		if h.Port == 0 {
			h.Port = DefaultDANEPort
		}
		hosts[i] = h
	}

	resolver := cfg.Resolver
	if resolver == nil {
		rc := cfg.ResolverConfig
		rc.RequireAD = true
		if rc.Logger == nil {
			rc.Logger = logger
		}
		r, err := dane.NewResolver(&rc)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		resolver = r
	}

	return &DANESource{
		hosts:       hosts,
		resolver:    resolver,
		unknownHost: cfg.UnknownHost,
		logger:      logger.With("component", "dane_source"),
	}, nil
}

// Name implements pinstore.Source.
func (s *DANESource) Name() string {
	names := make([]string, len(s.hosts))
	for i, h := range s.hosts {
		names[i] = fmt.Sprintf("%s:%d", h.Hostname, h.Port)
	}
	return "dane:" + strings.Join(names, ",")
}

// Fetch implements pinstore.Source. A lookup failure for any host fails
// the whole fetch.
func (s *DANESource) Fetch(ctx context.Context) (*pinstore.Config, error) {
	cfg := &pinstore.Config{
		Version: pinstore.CurrentVersion,
		Policy:  pinstore.PolicyConfig{UnknownHost: s.unknownHost},
		Hosts:   make([]pinstore.HostConfig, 0, len(s.hosts)),
	}

	for _, h := range s.hosts {
		ps, err := s.resolver.LookupPins(ctx, h.Hostname, h.Port)
		if err != nil {
			return nil, fmt.Errorf("%w: %s:%d: %w", ErrFetchFailed, h.Hostname, h.Port, err)
		}
		pins := make([]string, 0, len(ps.Pins))
		for _, p := range ps.Pins {
			pins = append(pins, p.String())
		}
		requirePKIX := ps.RequirePKIX
		cfg.Hosts = append(cfg.Hosts, pinstore.HostConfig{
			Pattern:     h.Hostname,
			Pins:        pins,
			Match:       ps.Match.String(),
			RequirePKIX: &requirePKIX,
		})
		s.logger.Debug("pins derived from TLSA",
			"hostname", h.Hostname, "port", h.Port, "pins", len(pins), "match", ps.Match.String(), "require_pkix", requirePKIX)
	}
	return cfg, nil
}
