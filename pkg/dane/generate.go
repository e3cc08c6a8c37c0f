// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package dane

import (
	"crypto/x509"
	"encoding/hex"
	"fmt"

	"github.com/jeremyhahn/go-certpin/pkg/spkipin"
)

// GenerateTLSARecord renders cert as a TLSA zone line with the given usage
// and selector and the SHA-256 matching type, the form PinsFromRecords
// reads back as a pin.
func GenerateTLSARecord(cert *x509.Certificate, hostname string, port uint16, usage, selector uint8) (*TLSARecordString, error) {
	if cert == nil {
		return nil, ErrInvalidCertificate
	}
	data, err := ComputeTLSAData(cert, selector, MatchingSHA256)
	if err != nil {
		return nil, err
	}
	return formatRecord(hostname, port, usage, selector, MatchingSHA256, data)
}

// GenerateFromPin renders an existing pin as a TLSA zone line. SPKI pins
// use selector 1 and certificate pins selector 0.
func GenerateFromPin(pin spkipin.Pin, hostname string, port uint16, usage uint8) (*TLSARecordString, error) {
	if pin.IsZero() {
		return nil, fmt.Errorf("%w: zero pin", ErrInvalidRecord)
	}
	selector := SelectorSPKI
	if pin.Kind() == spkipin.KindCertificate {
		selector = SelectorFullCert
	}
	return formatRecord(hostname, port, usage, selector, MatchingSHA256, pin.Digest())
}

func formatRecord(hostname string, port uint16, usage, selector, matchingType uint8, data []byte) (*TLSARecordString, error) {
	if hostname == "" {
		return nil, ErrInvalidHostname
	}
	if port == 0 {
		return nil, ErrInvalidPort
	}
	if usage > UsageDANEEE {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedUsage, usage)
	}

	name := formatTLSAName(hostname, port)
	hexData := hex.EncodeToString(data)
	return &TLSARecordString{
		Name:         name,
		Usage:        usage,
		Selector:     selector,
		MatchingType: matchingType,
		HexData:      hexData,
		ZoneLine:     fmt.Sprintf("%s IN TLSA %d %d %d %s", name, usage, selector, matchingType, hexData),
	}, nil
}
