// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package dane

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"fmt"

	"github.com/jeremyhahn/go-certpin/pkg/chain"
	"github.com/jeremyhahn/go-certpin/pkg/spkipin"
)

// selectorFuncs extracts the selected part of a certificate.
var selectorFuncs = map[uint8]func(*x509.Certificate) []byte{
	SelectorFullCert: func(c *x509.Certificate) []byte { return c.Raw },
	SelectorSPKI:     func(c *x509.Certificate) []byte { return c.RawSubjectPublicKeyInfo },
}

// matcherFuncs computes association data from the selected bytes.
var matcherFuncs = map[uint8]func([]byte) []byte{
	MatchingExact:  func(d []byte) []byte { return d },
	MatchingSHA256: func(d []byte) []byte { h := sha256.Sum256(d); return h[:] },
	MatchingSHA512: func(d []byte) []byte { h := sha512.Sum512(d); return h[:] },
}

// pinKinds maps a selector to the pin kind it corresponds to.
var pinKinds = map[uint8]spkipin.Kind{
	SelectorFullCert: spkipin.KindCertificate,
	SelectorSPKI:     spkipin.KindSPKI,
}

// ComputeTLSAData computes the association data cert would publish under
// the given selector and matching type.
func ComputeTLSAData(cert *x509.Certificate, selector, matchingType uint8) ([]byte, error) {
	if cert == nil {
		return nil, ErrInvalidCertificate
	}
	selectorFn, ok := selectorFuncs[selector]
	if !ok {
		return nil, ErrUnsupportedSelector
	}
	matcherFn, ok := matcherFuncs[matchingType]
	if !ok {
		return nil, ErrUnsupportedMatching
	}
	return matcherFn(selectorFn(cert)), nil
}

// PinFromRecord converts a TLSA record to the equivalent pin. SHA-256
// records map directly; exact-match records are hashed. SHA-512 records
// have no pin equivalent and return ErrUnsupportedMatching.
func PinFromRecord(rec *TLSARecord) (spkipin.Pin, error) {
	if rec == nil {
		return spkipin.Pin{}, ErrInvalidRecord
	}
	if rec.Usage > UsageDANEEE {
		return spkipin.Pin{}, fmt.Errorf("%w: %d", ErrUnsupportedUsage, rec.Usage)
	}
	kind, ok := pinKinds[rec.Selector]
	if !ok {
		return spkipin.Pin{}, fmt.Errorf("%w: %d", ErrUnsupportedSelector, rec.Selector)
	}

	switch rec.MatchingType {
	case MatchingSHA256:
		return spkipin.NewPin(kind, rec.CertData)
	case MatchingExact:
		if len(rec.CertData) == 0 {
			return spkipin.Pin{}, ErrInvalidRecord
		}
		digest := sha256.Sum256(rec.CertData)
		return spkipin.NewPin(kind, digest[:])
	default:
		return spkipin.Pin{}, fmt.Errorf("%w: %d", ErrUnsupportedMatching, rec.MatchingType)
	}
}

// PinSet is the result of converting a host's TLSA RRset.
type PinSet struct {
	Pins []spkipin.Pin

	// Match is MatchLeaf when every usable record is an end-entity record.
	// A trust anchor record selects MatchChain under PKIX and MatchAnchor
	// otherwise.
	Match chain.MatchPolicy

	// RequirePKIX is set when any usable record is PKIX-TA or PKIX-EE.
	// DANE-TA and DANE-EE are trusted without the system roots.
	RequirePKIX bool

	// Skipped counts records that could not be converted.
	Skipped int
}

// PinsFromRecords converts an RRset. Records that cannot be expressed as
// pins are skipped; if none remain ErrNoUsableRecords is returned.
func PinsFromRecords(records []*TLSARecord) (*PinSet, error) {
	if len(records) == 0 {
		return nil, ErrNoTLSARecords
	}

	out := &PinSet{Match: chain.MatchLeaf}
	seen := make(map[spkipin.Pin]struct{}, len(records))
	var trustAnchor bool
	for _, rec := range records {
		pin, err := PinFromRecord(rec)
		if err != nil {
			out.Skipped++
			continue
		}
		switch rec.Usage {
		case UsagePKIXTA:
			trustAnchor = true
			out.RequirePKIX = true
		case UsagePKIXEE:
			out.RequirePKIX = true
		case UsageDANETA:
			trustAnchor = true
		}
		if _, dup := seen[pin]; dup {
			continue
		}
		seen[pin] = struct{}{}
		out.Pins = append(out.Pins, pin)
	}
	if len(out.Pins) == 0 {
		return nil, fmt.Errorf("%w: %d records skipped", ErrNoUsableRecords, out.Skipped)
	}
	switch {
	case trustAnchor && out.RequirePKIX:
		out.Match = chain.MatchChain
	case trustAnchor:
		// The presented anchor stands in for the system roots.
		out.Match = chain.MatchAnchor
	}
	return out, nil
}
