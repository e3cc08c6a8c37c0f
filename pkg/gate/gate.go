// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package gate

import (
	"crypto/x509"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jeremyhahn/go-certpin/pkg/chain"
	"github.com/jeremyhahn/go-certpin/pkg/pinstore"
	"github.com/jeremyhahn/go-certpin/pkg/spkipin"
)

// Config configures a Gate.
type Config struct {
	// Store supplies pin set snapshots. Required.
	Store *pinstore.Store

	// Recorder optionally receives every decision.
	Recorder Recorder

	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Stats counts decisions since the gate was created.
type Stats struct {
	Accepted uint64
	Rejected uint64
}

// Gate is safe for concurrent use.
type Gate struct {
	store    *pinstore.Store
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	leaf  *chain.Validator
	chain *chain.Validator

	accepted atomic.Uint64
	rejected atomic.Uint64
}

// New creates a gate over cfg.Store.
func New(cfg *Config) (*Gate, error) {
	if cfg == nil || cfg.Store == nil {
		return nil, ErrNilStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Gate{
		store:    cfg.Store,
		recorder: cfg.Recorder,
		logger:   logger.With("component", "gate"),
		now:      now,
		leaf:     chain.NewValidator(chain.MatchLeaf),
		chain:    chain.NewValidator(chain.MatchChain),
	}, nil
}

// Store returns the pin store the gate reads from.
func (g *Gate) Store() *pinstore.Store {
	return g.store
}

// Stats returns the decision counters.
func (g *Gate) Stats() Stats {
	return Stats{Accepted: g.accepted.Load(), Rejected: g.rejected.Load()}
}

// Check decides whether chain is acceptable for hostname. The chain is
// leaf first. Check performs no I/O and reads exactly one pin set snapshot.
func (g *Gate) Check(hostname string, certs []*x509.Certificate) Decision {
	return g.CheckChains(hostname, [][]*x509.Certificate{certs})
}

// CheckChains is Check over several candidate chains, typically the
// verified chains built by PKIX validation. It accepts if any chain is
// accepted and otherwise returns the first rejection.
func (g *Gate) CheckChains(hostname string, chains [][]*x509.Certificate) Decision {
	return g.finish(g.decide(g.store.Snapshot(), hostname, chains))
}

// Verify is Check returning nil on accept and a *RejectError otherwise.
func (g *Gate) Verify(hostname string, certs []*x509.Certificate) error {
	d := g.Check(hostname, certs)
	if d.Accepted {
		return nil
	}
	return &RejectError{Decision: d}
}

func (g *Gate) decide(ps *pinstore.PinSet, hostname string, chains [][]*x509.Certificate) Decision {
	d := Decision{Host: hostname, Time: g.now()}
	if ps == nil {
		d.Reason = ReasonNotConfigured
		return d
	}
	d.Version = ps.Version()

	host, err := pinstore.NormalizeHostname(hostname)
	if err != nil {
		d.Reason = ReasonInvalidHostname
		return d
	}
	d.Host = host

	entry, covered := ps.Lookup(host)
	if !covered {
		if ps.Policy().UnknownHost == pinstore.UnknownHostAllow {
			d.Accepted = true
			d.Reason = ReasonHostNotCoveredPermissive
		} else {
			d.Reason = ReasonHostNotCovered
		}
		return d
	}
	d.Pattern = entry.Pattern

	if len(entry.Pins) == 0 {
		d.Reason = ReasonEmptyPinSet
		return d
	}

	d.Reason = ReasonNoCertificates
	for _, certs := range chains {
		if len(certs) == 0 || certs[0] == nil {
			continue
		}
		pin, reason := g.match(host, entry, certs)
		if reason == ReasonPinMatched {
			d.Accepted = true
			d.Reason = reason
			d.MatchedPin = pin
			return d
		}
		if d.Reason == ReasonNoCertificates {
			d.Reason = reason
		}
	}
	return d
}

// match applies the entry's match policy to one chain.
func (g *Gate) match(host string, entry pinstore.Entry, certs []*x509.Certificate) (spkipin.Pin, Reason) {
	var (
		pin spkipin.Pin
		ok  bool
	)
	switch entry.Match {
	case chain.MatchAnchor:
		return g.matchAnchor(host, entry.Pins, certs)
	case chain.MatchLeaf:
		pin, ok = g.leaf.MatchPin(certs, entry.Pins)
	default:
		pin, ok = g.chain.MatchPin(certs, entry.Pins)
	}
	if !ok {
		return spkipin.Pin{}, ReasonNoMatchingPin
	}
	return pin, ReasonPinMatched
}

// matchAnchor accepts certs when one of the presented certificates carries
// a pin and the leaf chains to it for host. The pinned certificates are the
// only roots, so certificates appended by the peer cannot satisfy the pin.
func (g *Gate) matchAnchor(host string, pins []spkipin.Pin, certs []*x509.Certificate) (spkipin.Pin, Reason) {
	anchors := x509.NewCertPool()
	intermediates := x509.NewCertPool()
	var matched []spkipin.Pin
	for _, c := range certs {
		if c == nil {
			continue
		}
		if pin, ok := g.chain.MatchPin([]*x509.Certificate{c}, pins); ok {
			anchors.AddCert(c)
			matched = append(matched, pin)
			continue
		}
		intermediates.AddCert(c)
	}
	if len(matched) == 0 {
		return spkipin.Pin{}, ReasonNoMatchingPin
	}

	verified, err := certs[0].Verify(x509.VerifyOptions{
		DNSName:       host,
		Roots:         anchors,
		Intermediates: intermediates,
		CurrentTime:   g.now(),
	})
	if err != nil {
		g.logger.Debug("chain does not reach a pinned anchor", "host", host, "error", err)
		return spkipin.Pin{}, ReasonUntrustedChain
	}
	root := verified[0][len(verified[0])-1]
	if pin, ok := g.chain.MatchPin([]*x509.Certificate{root}, pins); ok {
		return pin, ReasonPinMatched
	}
	return matched[0], ReasonPinMatched
}

// finish logs, counts and records a decision.
func (g *Gate) finish(d Decision) Decision {
	if d.Accepted {
		g.accepted.Add(1)
		switch d.Reason {
		case ReasonHostNotCoveredPermissive:
			g.logger.Info("host not covered, allowed by policy", "host", d.Host, "version", d.Version)
		default:
			g.logger.Debug("pin verification accepted",
				"host", d.Host, "pattern", d.Pattern, "pin", d.MatchedPin.String(), "version", d.Version)
		}
	} else {
		g.rejected.Add(1)
		g.logger.Warn("pin verification rejected",
			"host", d.Host, "reason", d.Reason.String(), "pattern", d.Pattern, "version", d.Version)
	}
	if g.recorder != nil {
		g.recorder.Record(d)
	}
	return d
}
