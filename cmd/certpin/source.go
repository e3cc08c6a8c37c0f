// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-certpin/pkg/dane"
	"github.com/jeremyhahn/go-certpin/pkg/pinsource"
	"github.com/jeremyhahn/go-certpin/pkg/pinstore"
)

// sourceFlags selects where pin documents come from. When several are
// given they are tried in the order remote, DANE, file.
type sourceFlags struct {
	configFile string
	remoteURL  string
	remotePin  string
	daneHosts  []string
	dnsServer  string
	dnsTLS     bool
	unknown    string
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configFile, "config", "", "pin document file (YAML or JSON)")
	cmd.Flags().StringVar(&f.remoteURL, "remote-url", "", "pin distribution server URL")
	cmd.Flags().StringVar(&f.remotePin, "remote-pin", "", "pin of the distribution server's certificate")
	cmd.Flags().StringSliceVar(&f.daneHosts, "dane-host", nil, "host[:port] whose TLSA records supply pins (repeatable)")
	cmd.Flags().StringVar(&f.dnsServer, "dns-server", "", "DNS server for TLSA lookups (e.g., 9.9.9.9:53)")
	cmd.Flags().BoolVar(&f.dnsTLS, "dns-over-tls", false, "use DNS-over-TLS for TLSA lookups")
	cmd.Flags().StringVar(&f.unknown, "dane-unknown-host", "deny", "unknown-host policy of DANE-derived documents (deny|allow)")
}

// build returns the configured source and a function releasing it.
func (f *sourceFlags) build() (pinstore.Source, func(), error) {
	var (
		sources []pinstore.Source
		closers []func()
	)
	release := func() {
		for _, c := range closers {
			c()
		}
	}

	if f.remoteURL != "" {
		if f.remotePin == "" {
			return nil, release, fmt.Errorf("%w: --remote-pin is required with --remote-url", ErrInvalidInput)
		}
		remote, err := pinsource.NewRemoteSource(&pinsource.RemoteConfig{
			ServerURL: f.remoteURL,
			ServerPin: f.remotePin,
			Logger:    slog.Default(),
		})
		if err != nil {
			return nil, release, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		sources = append(sources, remote)
		closers = append(closers, func() { remote.Close() })
	}

	if len(f.daneHosts) > 0 {
		hosts := make([]pinsource.DANEHost, 0, len(f.daneHosts))
		for _, h := range f.daneHosts {
			host, err := parseDANEHost(h)
			if err != nil {
				return nil, release, err
			}
			hosts = append(hosts, host)
		}
		src, err := pinsource.NewDANESource(&pinsource.DANEConfig{
			Hosts:          hosts,
			ResolverConfig: dane.ResolverConfig{Server: f.dnsServer, UseTLS: f.dnsTLS},
			UnknownHost:    f.unknown,
			Logger:         slog.Default(),
		})
		if err != nil {
			return nil, release, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		sources = append(sources, src)
	}

	if f.configFile != "" {
		src, err := pinsource.NewFileSource(f.configFile)
		if err != nil {
			return nil, release, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		sources = append(sources, src)
	}

	switch len(sources) {
	case 0:
		return nil, release, fmt.Errorf("%w: one of --config, --remote-url or --dane-host is required", ErrInvalidInput)
	case 1:
		return sources[0], release, nil
	}

	auto, err := pinsource.NewAutoSource(&pinsource.AutoConfig{Sources: sources, Logger: slog.Default()})
	if err != nil {
		return nil, release, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return auto, release, nil
}

// parseDANEHost parses "host" or "host:port".
func parseDANEHost(s string) (pinsource.DANEHost, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, ":") {
		return pinsource.DANEHost{Hostname: s, Port: pinsource.DefaultDANEPort}, nil
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return pinsource.DANEHost{}, fmt.Errorf("%w: --dane-host %q: %w", ErrInvalidInput, s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return pinsource.DANEHost{}, fmt.Errorf("%w: --dane-host %q: invalid port", ErrInvalidInput, s)
	}
	return pinsource.DANEHost{Hostname: host, Port: uint16(port)}, nil
}
