// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package gate

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jeremyhahn/go-certpin/pkg/pinstore"
)

// DefaultHTTPTimeout is used by HTTPClient when timeout is zero.
const DefaultHTTPTimeout = 30 * time.Second

// TLSConfig returns a clone of base with the gate installed as its
// VerifyConnection hook. base may be nil.
//
// Standard verification is disabled in crypto/tls and redone inside the
// hook against base.RootCAs (system roots when nil), because whether PKIX
// is required is part of the pin set and may change on reload. When the
// entry covering the host requires PKIX, pins are checked against the
// verified chains; otherwise pins are checked against the presented chain
// under the entry's match policy. Hosts let through by an allow policy are
// always PKIX-verified for their name. A rejection aborts the handshake.
func (g *Gate) TLSConfig(base *tls.Config) *tls.Config {
	var cfg *tls.Config
	if base != nil {
		cfg = base.Clone()
	} else {
		cfg = &tls.Config{}
	}
	if cfg.MinVersion < tls.VersionTLS12 {
		cfg.MinVersion = tls.VersionTLS12
	}
	roots := cfg.RootCAs
	cfg.InsecureSkipVerify = true //nolint:gosec // verification is performed in VerifyConnection
	cfg.VerifyConnection = func(cs tls.ConnectionState) error {
		return g.verifyConnection(cs, roots)
	}
	return cfg
}

func (g *Gate) verifyConnection(cs tls.ConnectionState, roots *x509.CertPool) error {
	ps := g.store.Snapshot()
	host := cs.ServerName

	if ps == nil || len(cs.PeerCertificates) == 0 || !requiresPKIX(ps, host) {
		return g.result(g.finish(g.decide(ps, host, [][]*x509.Certificate{cs.PeerCertificates})))
	}

	opts := x509.VerifyOptions{
		DNSName:       host,
		Roots:         roots,
		Intermediates: x509.NewCertPool(),
		CurrentTime:   g.now(),
	}
	for _, c := range cs.PeerCertificates[1:] {
		opts.Intermediates.AddCert(c)
	}
	chains, err := cs.PeerCertificates[0].Verify(opts)
	if err != nil {
		d := Decision{Host: host, Reason: ReasonUntrustedChain, Version: ps.Version(), Time: g.now()}
		return &RejectError{Decision: g.finish(d), Cause: err}
	}
	return g.result(g.finish(g.decide(ps, host, chains)))
}

// requiresPKIX reports whether a handshake to host needs standard path
// validation. An uncovered host under a deny policy is rejected without it.
func requiresPKIX(ps *pinstore.PinSet, host string) bool {
	if entry, covered := ps.Lookup(host); covered {
		return entry.RequirePKIX
	}
	return ps.Policy().UnknownHost == pinstore.UnknownHostAllow
}

func (g *Gate) result(d Decision) error {
	if d.Accepted {
		return nil
	}
	return &RejectError{Decision: d}
}

// HTTPClient returns an HTTP client whose every TLS connection passes
// through the gate. A zero timeout selects DefaultHTTPTimeout.
func (g *Gate) HTTPClient(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = DefaultHTTPTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			TLSClientConfig:     g.TLSConfig(nil),
			TLSHandshakeTimeout: 10 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}
}

// DialTLS connects to addr and completes a handshake verified by the gate.
// The server name is taken from addr.
func (g *Gate) DialTLS(ctx context.Context, network, addr string) (*tls.Conn, error) {
	return g.DialTLSWithConfig(ctx, network, addr, nil)
}

// DialTLSWithConfig is DialTLS with a base configuration, for example to
// set RootCAs or ServerName.
func (g *Gate) DialTLSWithConfig(ctx context.Context, network, addr string, base *tls.Config) (*tls.Conn, error) {
	d := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: 10 * time.Second},
		Config:    g.TLSConfig(base),
	}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("gate: unexpected connection type %T", conn)
	}
	return tlsConn, nil
}
