// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package pinstore

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jeremyhahn/go-certpin/pkg/chain"
	"github.com/jeremyhahn/go-certpin/pkg/spkipin"
)

// Load validates a pin document and builds an immutable PinSet. Any
// malformed entry fails the whole load with an error wrapping ErrConfig.
// Entries with an empty pin list are accepted: they mark a host as covered
// and always rejected.
func Load(cfg *Config) (*PinSet, error) {
	return load(cfg, slog.Default())
}

// LoadWithLogger is Load with an explicit logger for load-time warnings.
func LoadWithLogger(cfg *Config, logger *slog.Logger) (*PinSet, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return load(cfg, logger)
}

func load(cfg *Config, logger *slog.Logger) (*PinSet, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: missing configuration", ErrConfig)
	}
	if cfg.Version != 0 && cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrConfig, cfg.Version)
	}

	policy, err := buildPolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}
	if len(cfg.Hosts) == 0 && policy.UnknownHost != UnknownHostDeny {
		return nil, fmt.Errorf("%w: a document without hosts must use unknown_host: deny", ErrConfig)
	}

	ps := &PinSet{
		exact:     make(map[string]Entry),
		wildcards: make(map[string]Entry),
		ordered:   make([]Entry, 0, len(cfg.Hosts)),
		policy:    policy,
		loadedAt:  time.Now(),
	}

	for i, host := range cfg.Hosts {
		pattern, wildcard, err := normalizePattern(host.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: hosts[%d]: %w", ErrConfig, i, err)
		}

		pins := make([]spkipin.Pin, 0, len(host.Pins))
		seen := make(map[spkipin.Pin]struct{}, len(host.Pins))
		for j, raw := range host.Pins {
			pin, err := spkipin.ParsePin(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: hosts[%d] %s pins[%d]: %w", ErrConfig, i, pattern, j, err)
			}
			if _, dup := seen[pin]; dup {
				continue
			}
			seen[pin] = struct{}{}
			pins = append(pins, pin)
		}

		match, requirePKIX, err := hostPosture(host, policy)
		if err != nil {
			return nil, fmt.Errorf("%w: hosts[%d] %s: %w", ErrConfig, i, pattern, err)
		}

		entry := Entry{Pattern: pattern, Pins: pins, Match: match, RequirePKIX: requirePKIX}
		if wildcard {
			suffix := strings.TrimPrefix(pattern, wildcardPrefix)
			if _, dup := ps.wildcards[suffix]; dup {
				return nil, fmt.Errorf("%w: hosts[%d]: duplicate pattern %s", ErrConfig, i, pattern)
			}
			ps.wildcards[suffix] = entry
		} else {
			if _, dup := ps.exact[pattern]; dup {
				return nil, fmt.Errorf("%w: hosts[%d]: duplicate pattern %s", ErrConfig, i, pattern)
			}
			ps.exact[pattern] = entry
		}
		ps.ordered = append(ps.ordered, entry)

		if len(pins) == 0 {
			logger.Warn("pattern has no pins; all connections to it will be rejected", "pattern", pattern)
		}
	}

	return ps, nil
}

// buildPolicy parses and cross-checks the policy section.
func buildPolicy(pc PolicyConfig) (Policy, error) {
	unknown, err := ParseUnknownHostPolicy(pc.UnknownHost)
	if err != nil {
		return Policy{}, err
	}
	match, err := chain.ParseMatchPolicy(pc.Match)
	if err != nil {
		return Policy{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	requirePKIX := match != chain.MatchAnchor
	if pc.RequirePKIX != nil {
		requirePKIX = *pc.RequirePKIX
	}
	if err := checkPosture(match, requirePKIX); err != nil {
		return Policy{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return Policy{UnknownHost: unknown, Match: match, RequirePKIX: requirePKIX}, nil
}

// hostPosture resolves an entry's match policy and PKIX requirement,
// falling back to the document policy for whatever the entry leaves unset.
func hostPosture(hc HostConfig, policy Policy) (chain.MatchPolicy, bool, error) {
	match := policy.Match
	if hc.Match != "" {
		m, err := chain.ParseMatchPolicy(hc.Match)
		if err != nil {
			return 0, false, err
		}
		match = m
	}

	var requirePKIX bool
	switch {
	case hc.RequirePKIX != nil:
		requirePKIX = *hc.RequirePKIX
	case match == chain.MatchAnchor:
		requirePKIX = false
	case policy.Match == chain.MatchAnchor:
		requirePKIX = true
	default:
		requirePKIX = policy.RequirePKIX
	}
	return match, requirePKIX, checkPosture(match, requirePKIX)
}

// checkPosture refuses combinations that would accept a forged chain or
// that can never pass.
func checkPosture(match chain.MatchPolicy, requirePKIX bool) error {
	switch {
	case match == chain.MatchChain && !requirePKIX:
		return fmt.Errorf("match %q requires require_pkix; use match: leaf or anchor to pin without PKIX validation", match)
	case match == chain.MatchAnchor && requirePKIX:
		return fmt.Errorf("match %q validates against the pinned certificate and cannot be combined with require_pkix", match)
	}
	return nil
}
