// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

// Package testpki builds throwaway certificate hierarchies for tests.
package testpki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

var serial atomic.Int64

// Issued is a certificate together with its private key.
type Issued struct {
	Cert *x509.Certificate
	Key  crypto.Signer
}

// Hierarchy is a root CA, an intermediate CA and a leaf issued by the intermediate.
type Hierarchy struct {
	Root         Issued
	Intermediate Issued
	Leaf         Issued
}

// Chain returns the presented chain, leaf first.
func (h *Hierarchy) Chain() []*x509.Certificate {
	return []*x509.Certificate{h.Leaf.Cert, h.Intermediate.Cert, h.Root.Cert}
}

// RootPool returns a pool containing only the root.
func (h *Hierarchy) RootPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(h.Root.Cert)
	return pool
}

// TLSCertificate returns the leaf and intermediate as a server certificate.
func (h *Hierarchy) TLSCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{h.Leaf.Cert.Raw, h.Intermediate.Cert.Raw},
		PrivateKey:  h.Leaf.Key,
		Leaf:        h.Leaf.Cert,
	}
}

// NewHierarchy issues a fresh root, intermediate and leaf. The leaf is valid
// for the given DNS names and 127.0.0.1.
func NewHierarchy(t testing.TB, dnsNames ...string) *Hierarchy {
	t.Helper()
	root := newCA(t, "certpin test root", nil)
	inter := newCA(t, "certpin test intermediate", &root)
	leaf := NewLeaf(t, inter, dnsNames...)
	return &Hierarchy{Root: root, Intermediate: inter, Leaf: leaf}
}

// NewLeaf issues an end-entity certificate from issuer.
func NewLeaf(t testing.TB, issuer Issued, dnsNames ...string) Issued {
	t.Helper()
	key := newKey(t)
	cn := "leaf"
	if len(dnsNames) > 0 {
		cn = dnsNames[0]
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial.Add(1)),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     dnsNames,
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	return sign(t, tmpl, key, &issuer)
}

// NewSelfSigned issues a self-signed end-entity certificate.
func NewSelfSigned(t testing.TB, dnsNames ...string) Issued {
	t.Helper()
	key := newKey(t)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial.Add(1)),
		Subject:      pkix.Name{CommonName: "self-signed"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     dnsNames,
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	return sign(t, tmpl, key, nil)
}

// EncodePEM encodes certificates as a PEM bundle.
func EncodePEM(certs ...*x509.Certificate) []byte {
	var out []byte
	for _, c := range certs {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})...)
	}
	return out
}

// EncodeKeyPEM encodes a private key as PKCS #8 PEM.
func EncodeKeyPEM(t testing.TB, key crypto.Signer) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func newCA(t testing.TB, cn string, parent *Issued) Issued {
	t.Helper()
	key := newKey(t)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(serial.Add(1)),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	return sign(t, tmpl, key, parent)
}

func newKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func sign(t testing.TB, tmpl *x509.Certificate, key *ecdsa.PrivateKey, issuer *Issued) Issued {
	t.Helper()
	parent, signer := tmpl, crypto.Signer(key)
	if issuer != nil {
		parent, signer = issuer.Cert, issuer.Key
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &key.PublicKey, signer)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return Issued{Cert: cert, Key: key}
}
