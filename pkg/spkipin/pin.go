// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package spkipin

import (
	"crypto/sha256"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Size is the length in bytes of every pin digest.
const Size = sha256.Size

// Text prefixes accepted by ParsePin.
const (
	// PrefixSPKI introduces a base64 SHA-256 digest of the SubjectPublicKeyInfo.
	PrefixSPKI = "sha256/"

	// PrefixCertificate introduces a base64 or hex SHA-256 digest of the DER certificate.
	PrefixCertificate = "cert-sha256/"
)

// Kind identifies what part of a certificate a pin is computed over.
type Kind uint8

const (
	// KindSPKI pins the DER-encoded SubjectPublicKeyInfo. The pin survives
	// certificate renewal as long as the key is reused.
	KindSPKI Kind = iota

	// KindCertificate pins the full DER-encoded certificate.
	KindCertificate
)

// String returns the configuration name of the kind.
func (k Kind) String() string {
	switch k {
	case KindSPKI:
		return "spki"
	case KindCertificate:
		return "cert"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind parses "spki" or "cert".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "spki":
		return KindSPKI, nil
	case "cert", "certificate":
		return KindCertificate, nil
	default:
		return 0, fmt.Errorf("%w: unknown pin kind %q", ErrInvalidPinFormat, s)
	}
}

// Pin is an immutable SHA-256 digest over part of a certificate. Pins are
// comparable and can be used as map keys.
type Pin struct {
	kind   Kind
	digest [Size]byte
}

// NewPin builds a pin from a raw digest. The digest must be exactly Size bytes.
func NewPin(kind Kind, digest []byte) (Pin, error) {
	if len(digest) != Size {
		return Pin{}, fmt.Errorf("%w: digest must be %d bytes, got %d", ErrInvalidPinFormat, Size, len(digest))
	}
	if kind != KindSPKI && kind != KindCertificate {
		return Pin{}, fmt.Errorf("%w: unknown pin kind %d", ErrInvalidPinFormat, kind)
	}
	p := Pin{kind: kind}
	copy(p.digest[:], digest)
	return p, nil
}

// Kind returns what the pin is computed over.
func (p Pin) Kind() Kind {
	return p.kind
}

// Digest returns a copy of the raw digest bytes.
func (p Pin) Digest() []byte {
	d := make([]byte, Size)
	copy(d, p.digest[:])
	return d
}

// Hex returns the lowercase hex encoding of the digest.
func (p Pin) Hex() string {
	return hex.EncodeToString(p.digest[:])
}

// String returns the canonical text form: "sha256/<base64>" for SPKI pins
// and "cert-sha256/<base64>" for certificate pins.
func (p Pin) String() string {
	prefix := PrefixSPKI
	if p.kind == KindCertificate {
		prefix = PrefixCertificate
	}
	return prefix + base64.StdEncoding.EncodeToString(p.digest[:])
}

// IsZero reports whether the pin is the zero value.
func (p Pin) IsZero() bool {
	return p == Pin{}
}

// Equal compares two pins in constant time with respect to the digest.
func (p Pin) Equal(other Pin) bool {
	if p.kind != other.kind {
		return false
	}
	return subtle.ConstantTimeCompare(p.digest[:], other.digest[:]) == 1
}

// MarshalText implements encoding.TextMarshaler.
func (p Pin) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler using ParsePin.
func (p *Pin) UnmarshalText(text []byte) error {
	parsed, err := ParsePin(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePin parses the text forms accepted in pin documents:
//
//	sha256/<base64>            SPKI pin
//	<64 hex characters>        SPKI pin
//	cert-sha256/<base64|hex>   certificate pin
//
// Any other input, or a digest that is not exactly 32 bytes, returns an
// error wrapping ErrInvalidPinFormat.
func ParsePin(s string) (Pin, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Pin{}, ErrNoPinConfigured
	}

	switch {
	case strings.HasPrefix(s, PrefixCertificate):
		digest, err := decodeDigest(strings.TrimPrefix(s, PrefixCertificate))
		if err != nil {
			return Pin{}, fmt.Errorf("%w: %q: %w", ErrInvalidPinFormat, s, err)
		}
		return NewPin(KindCertificate, digest)
	case strings.HasPrefix(s, PrefixSPKI):
		digest, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, PrefixSPKI))
		if err != nil {
			return Pin{}, fmt.Errorf("%w: %q: %w", ErrInvalidPinFormat, s, err)
		}
		return NewPin(KindSPKI, digest)
	default:
		digest, err := hex.DecodeString(strings.ToLower(s))
		if err != nil || len(digest) != Size {
			return Pin{}, fmt.Errorf("%w: expected 64 hex chars or sha256/<base64>, got %q", ErrInvalidPinFormat, s)
		}
		return NewPin(KindSPKI, digest)
	}
}

// decodeDigest accepts either 64 hex characters or standard base64.
func decodeDigest(s string) ([]byte, error) {
	if len(s) == 2*Size {
		if d, err := hex.DecodeString(strings.ToLower(s)); err == nil {
			return d, nil
		}
	}
	return base64.StdEncoding.DecodeString(s)
}

// ComputePin computes the pin of the given kind for a certificate.
func ComputePin(cert *x509.Certificate, kind Kind) Pin {
	var p Pin
	p.kind = kind
	switch kind {
	case KindCertificate:
		p.digest = sha256.Sum256(cert.Raw)
	default:
		p.kind = KindSPKI
		p.digest = sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	}
	return p
}

// ComputeSPKIPin computes the SHA-256 hash of a certificate's SubjectPublicKeyInfo (SPKI).
func ComputeSPKIPin(cert *x509.Certificate) Pin {
	return ComputePin(cert, KindSPKI)
}

// ComputeCertificatePin computes the SHA-256 hash of the full DER certificate.
func ComputeCertificatePin(cert *x509.Certificate) Pin {
	return ComputePin(cert, KindCertificate)
}

// VerifySPKIPin verifies that at least one certificate in the chain matches
// the expected pin. Returns nil on match, ErrSPKIPinMismatch otherwise.
func VerifySPKIPin(certs []*x509.Certificate, expected Pin) error {
	if expected.IsZero() {
		return ErrNoPinConfigured
	}
	if len(certs) == 0 {
		return ErrNoCertificates
	}
	for _, cert := range certs {
		if cert == nil {
			continue
		}
		if ComputePin(cert, expected.Kind()).Equal(expected) {
			return nil
		}
	}
	return ErrSPKIPinMismatch
}

// NewPinnedTLSConfig creates a TLS configuration that verifies the server's
// certificate against a single pin instead of using the system certificate
// store.
//
// It exists for fetching the pin document itself: before a pin set is loaded
// there is nothing else to verify the distribution server with. The pin is
// distributed out-of-band, typically embedded in the application.
func NewPinnedTLSConfig(expectedPin string) (*tls.Config, error) {
	if strings.TrimSpace(expectedPin) == "" {
		return nil, ErrNoPinConfigured
	}
	pin, err := ParsePin(expectedPin)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true, //nolint:gosec // Skip CA verification - we verify via the pin
		VerifyConnection: func(cs tls.ConnectionState) error {
			if len(cs.PeerCertificates) == 0 {
				return ErrNoCertificates
			}
			// Only the leaf is considered: without PKIX verification the
			// handshake proves possession of the leaf key and nothing else.
			return VerifySPKIPin(cs.PeerCertificates[:1], pin)
		},
	}, nil
}
