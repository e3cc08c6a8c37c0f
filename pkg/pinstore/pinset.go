// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package pinstore

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jeremyhahn/go-certpin/pkg/chain"
	"github.com/jeremyhahn/go-certpin/pkg/spkipin"
)

// wildcardPrefix introduces a pattern that matches exactly one extra label.
const wildcardPrefix = "*."

// maxHostnameLength is the DNS limit on a presentation-format name.
const maxHostnameLength = 253

// UnknownHostPolicy decides the outcome for hosts no pattern covers.
type UnknownHostPolicy uint8

const (
	// UnknownHostDeny rejects hosts that are not covered (strict).
	UnknownHostDeny UnknownHostPolicy = iota

	// UnknownHostAllow lets uncovered hosts through without pin checks (permissive).
	UnknownHostAllow
)

// String returns the configuration name of the policy.
func (p UnknownHostPolicy) String() string {
	switch p {
	case UnknownHostDeny:
		return "deny"
	case UnknownHostAllow:
		return "allow"
	default:
		return fmt.Sprintf("unknown_host(%d)", uint8(p))
	}
}

// ParseUnknownHostPolicy parses "deny" or "allow". The empty string selects deny.
func ParseUnknownHostPolicy(s string) (UnknownHostPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "deny", "strict":
		return UnknownHostDeny, nil
	case "allow", "permissive":
		return UnknownHostAllow, nil
	default:
		return 0, fmt.Errorf("%w: unknown_host must be deny or allow, got %q", ErrConfig, s)
	}
}

// Policy is the verification policy carried by a PinSet, so that a reload
// replaces pins and policy together.
type Policy struct {
	// UnknownHost decides uncovered hosts.
	UnknownHost UnknownHostPolicy

	// Match selects leaf-only or any-in-chain matching.
	Match chain.MatchPolicy

	// RequirePKIX keeps standard certificate path validation in front of pin
	// matching.
	RequirePKIX bool
}

// Entry is the pin list of one hostname pattern.
type Entry struct {
	// Pattern is the normalised pattern the entry was configured under.
	Pattern string

	// Pins is never shared with the caller's configuration. Callers must not modify it.
	Pins []spkipin.Pin

	// Match and RequirePKIX are the entry's resolved posture.
	Match       chain.MatchPolicy
	RequirePKIX bool
}

// Wildcard reports whether the entry's pattern is a wildcard.
func (e Entry) Wildcard() bool {
	return strings.HasPrefix(e.Pattern, wildcardPrefix)
}

// PinSet is an immutable snapshot of the pinning configuration.
type PinSet struct {
	exact     map[string]Entry
	wildcards map[string]Entry
	ordered   []Entry
	policy    Policy
	version   uint64
	source    string
	loadedAt  time.Time
}

// Lookup returns the entry covering hostname. Exact patterns take
// precedence over wildcard patterns. The second result is false when no
// pattern covers the host, in which case the host has no pins.
func (ps *PinSet) Lookup(hostname string) (Entry, bool) {
	host, err := NormalizeHostname(hostname)
	if err != nil {
		return Entry{}, false
	}
	if e, ok := ps.exact[host]; ok {
		return e, true
	}
	if net.ParseIP(host) != nil {
		return Entry{}, false
	}
	if i := strings.IndexByte(host, '.'); i > 0 {
		if e, ok := ps.wildcards[host[i+1:]]; ok {
			return e, true
		}
	}
	return Entry{}, false
}

// Policy returns the snapshot's verification policy.
func (ps *PinSet) Policy() Policy {
	return ps.policy
}

// Version is assigned by the Store when the snapshot is published; it
// increases with every replacement. Zero means never published.
func (ps *PinSet) Version() uint64 {
	return ps.version
}

// Source names where the snapshot was loaded from.
func (ps *PinSet) Source() string {
	return ps.source
}

// LoadedAt is when Load built the snapshot.
func (ps *PinSet) LoadedAt() time.Time {
	return ps.loadedAt
}

// Len returns the number of configured patterns.
func (ps *PinSet) Len() int {
	return len(ps.ordered)
}

// Entries returns the configured entries in document order.
func (ps *PinSet) Entries() []Entry {
	out := make([]Entry, len(ps.ordered))
	copy(out, ps.ordered)
	return out
}

// Config renders the snapshot back into a canonical pin document.
func (ps *PinSet) Config() *Config {
	requirePKIX := ps.policy.RequirePKIX
	cfg := &Config{
		Version: CurrentVersion,
		Policy: PolicyConfig{
			UnknownHost: ps.policy.UnknownHost.String(),
			Match:       ps.policy.Match.String(),
			RequirePKIX: &requirePKIX,
		},
		Hosts: make([]HostConfig, 0, len(ps.ordered)),
	}
	for _, e := range ps.ordered {
		pins := make([]string, 0, len(e.Pins))
		for _, p := range e.Pins {
			pins = append(pins, p.String())
		}
		hc := HostConfig{Pattern: e.Pattern, Pins: pins}
		if e.Match != ps.policy.Match || e.RequirePKIX != ps.policy.RequirePKIX {
			requirePKIX := e.RequirePKIX
			hc.Match = e.Match.String()
			hc.RequirePKIX = &requirePKIX
		}
		cfg.Hosts = append(cfg.Hosts, hc)
	}
	return cfg
}

// NormalizeHostname lowercases a hostname and strips a trailing dot. It
// rejects empty names, wildcards, names over 253 characters and labels
// containing anything other than letters, digits, '-' and '_'. IP address
// literals are accepted unchanged.
func NormalizeHostname(hostname string) (string, error) {
	host := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(hostname), "."))
	if host == "" {
		return "", ErrInvalidHostname
	}
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		return ip.String(), nil
	}
	if len(host) > maxHostnameLength {
		return "", fmt.Errorf("%w: %d characters", ErrInvalidHostname, len(host))
	}
	for _, label := range strings.Split(host, ".") {
		if label == "" || len(label) > 63 {
			return "", fmt.Errorf("%w: %q", ErrInvalidHostname, hostname)
		}
		for _, r := range label {
			if !isLabelRune(r) {
				return "", fmt.Errorf("%w: %q", ErrInvalidHostname, hostname)
			}
		}
	}
	return host, nil
}

// normalizePattern validates a configured pattern and reports whether it is
// a wildcard. Wildcards must cover at least two labels, so "*.com" is
// refused, and must end in a non-numeric label so no IP address can match.
func normalizePattern(pattern string) (string, bool, error) {
	p := strings.TrimSpace(pattern)
	if !strings.HasPrefix(p, wildcardPrefix) {
		host, err := NormalizeHostname(p)
		return host, false, err
	}
	suffix, err := NormalizeHostname(strings.TrimPrefix(p, wildcardPrefix))
	if err != nil {
		return "", false, err
	}
	if net.ParseIP(suffix) != nil || !strings.Contains(suffix, ".") {
		return "", false, fmt.Errorf("%w: wildcard %q is too broad", ErrInvalidHostname, pattern)
	}
	if isNumeric(suffix[strings.LastIndexByte(suffix, '.')+1:]) {
		return "", false, fmt.Errorf("%w: wildcard %q ends in a numeric label", ErrInvalidHostname, pattern)
	}
	return wildcardPrefix + suffix, true, nil
}

func isNumeric(label string) bool {
	for _, r := range label {
		if r < '0' || r > '9' {
			return false
		}
	}
	return label != ""
}

func isLabelRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_'
}
