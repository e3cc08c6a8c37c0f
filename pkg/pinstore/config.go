// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package pinstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// CurrentVersion is the only pin document format version understood by Load.
const CurrentVersion = 1

// Config is the external pin document. It is decoded from YAML (JSON
// documents are valid YAML) and turned into a PinSet by Load.
type Config struct {
	// Version is the document format version. Zero is treated as CurrentVersion.
	Version int `yaml:"version,omitempty" json:"version,omitempty"`

	// Policy holds the global verification policy.
	Policy PolicyConfig `yaml:"policy,omitempty" json:"policy,omitempty"`

	// Hosts lists the pinned hostname patterns.
	Hosts []HostConfig `yaml:"hosts" json:"hosts"`
}

// PolicyConfig is the textual form of Policy.
type PolicyConfig struct {
	// UnknownHost is "deny" (default) or "allow".
	UnknownHost string `yaml:"unknown_host,omitempty" json:"unknown_host,omitempty"`

	// Match is "chain" (default), "leaf" or "anchor".
	Match string `yaml:"match,omitempty" json:"match,omitempty"`

	// RequirePKIX defaults to true, or false with match "anchor". It may be
	// false with "leaf" and must be false with "anchor".
	RequirePKIX *bool `yaml:"require_pkix,omitempty" json:"require_pkix,omitempty"`
}

// HostConfig pins one hostname pattern.
type HostConfig struct {
	// Pattern is an exact hostname or "*." followed by a hostname.
	Pattern string `yaml:"pattern" json:"pattern"`

	// Pins are digests in any form accepted by spkipin.ParsePin. An empty
	// list marks the host as covered but always rejected.
	Pins []string `yaml:"pins" json:"pins"`

	// Match overrides the policy's match for this pattern.
	Match string `yaml:"match,omitempty" json:"match,omitempty"`

	// RequirePKIX overrides the policy's require_pkix for this pattern.
	RequirePKIX *bool `yaml:"require_pkix,omitempty" json:"require_pkix,omitempty"`
}

// ParseConfig decodes a pin document. Unknown fields are rejected so that a
// misspelt policy key cannot silently fall back to a default.
func ParseConfig(data []byte) (*Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrConfig)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrConfig)
		}
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return &cfg, nil
}

// MarshalConfig encodes a pin document as YAML.
func MarshalConfig(cfg *Config) ([]byte, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil configuration", ErrConfig)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return buf.Bytes(), nil
}
