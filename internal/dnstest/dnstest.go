// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

// Package dnstest runs in-process DNS servers answering TLSA queries.
package dnstest

import (
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/miekg/dns"
)

// Zone maps an owner name such as "_443._tcp.api.example.com." to the
// TLSA records served for it. Names are matched case-insensitively.
type Zone map[string][]*dns.TLSA

// Server is a running mock resolver.
type Server struct {
	Addr string

	mu    sync.Mutex
	zone  Zone
	ad    bool
	rcode int
}

// SetAD controls the Authenticated Data flag on responses.
func (s *Server) SetAD(ad bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ad = ad
}

// SetRcode forces every response to carry rcode.
func (s *Server) SetRcode(rcode int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rcode = rcode
}

// Set replaces the records served for name.
func (s *Server) Set(name string, records ...*dns.TLSA) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zone[strings.ToLower(dns.Fqdn(name))] = records
}

func (s *Server) serveDNS(w dns.ResponseWriter, r *dns.Msg) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true
	m.AuthenticatedData = s.ad
	m.Rcode = s.rcode

	for _, q := range r.Question {
		if q.Qtype != dns.TypeTLSA {
			continue
		}
		for _, rec := range s.zone[strings.ToLower(q.Name)] {
			rr := *rec
			rr.Hdr = dns.RR_Header{Name: q.Name, Rrtype: dns.TypeTLSA, Class: dns.ClassINET, Ttl: 300}
			m.Answer = append(m.Answer, &rr)
		}
	}
	_ = w.WriteMsg(m)
}

// Start serves zone over UDP on 127.0.0.1 until the test ends. The AD flag
// is set on responses.
func Start(t testing.TB, zone Zone) *Server {
	t.Helper()
	s := &Server{zone: Zone{}, ad: true}
	for name, records := range zone {
		s.Set(name, records...)
	}

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("dnstest: listen: %v", err)
	}
	srv := &dns.Server{PacketConn: pc, Handler: dns.HandlerFunc(s.serveDNS)}

	started := make(chan struct{})
	srv.NotifyStartedFunc = func() { close(started) }
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	s.Addr = pc.LocalAddr().String()
	return s
}
