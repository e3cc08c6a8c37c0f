// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package spkipin

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// generateTestCert creates a self-signed ECDSA P-256 certificate for testing.
func generateTestCert(t *testing.T) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(certDER)
	require.NoError(t, err)

	return cert, key
}

func TestComputeSPKIPin(t *testing.T) {
	cert, _ := generateTestCert(t)

	pin := ComputeSPKIPin(cert)

	expected := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	assert.Equal(t, expected[:], pin.Digest())
	assert.Equal(t, KindSPKI, pin.Kind())
	assert.Len(t, pin.Hex(), 64)
	assert.True(t, strings.HasPrefix(pin.String(), PrefixSPKI))
}

func TestComputeCertificatePin(t *testing.T) {
	cert, _ := generateTestCert(t)

	pin := ComputeCertificatePin(cert)

	expected := sha256.Sum256(cert.Raw)
	assert.Equal(t, expected[:], pin.Digest())
	assert.Equal(t, KindCertificate, pin.Kind())
	assert.True(t, strings.HasPrefix(pin.String(), PrefixCertificate))
}

func TestComputeSPKIPin_DifferentKeys(t *testing.T) {
	cert1, _ := generateTestCert(t)
	cert2, _ := generateTestCert(t)

	assert.NotEqual(t, ComputeSPKIPin(cert1), ComputeSPKIPin(cert2))
}

func TestComputeSPKIPin_SameKey(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template1 := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	template2 := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(2 * time.Hour),
	}

	certDER1, err := x509.CreateCertificate(rand.Reader, template1, template1, &key.PublicKey, key)
	require.NoError(t, err)
	cert1, err := x509.ParseCertificate(certDER1)
	require.NoError(t, err)

	certDER2, err := x509.CreateCertificate(rand.Reader, template2, template2, &key.PublicKey, key)
	require.NoError(t, err)
	cert2, err := x509.ParseCertificate(certDER2)
	require.NoError(t, err)

	// Same key in different certificates: same SPKI pin, different certificate pins.
	assert.Equal(t, ComputeSPKIPin(cert1), ComputeSPKIPin(cert2))
	assert.NotEqual(t, ComputeCertificatePin(cert1), ComputeCertificatePin(cert2))
}

func TestParsePin_RoundTripForms(t *testing.T) {
	cert, _ := generateTestCert(t)
	spki := ComputeSPKIPin(cert)
	certPin := ComputeCertificatePin(cert)

	fromBase64, err := ParsePin(spki.String())
	require.NoError(t, err)
	assert.Equal(t, spki, fromBase64)

	fromHex, err := ParsePin(strings.ToUpper(spki.Hex()))
	require.NoError(t, err)
	assert.Equal(t, spki, fromHex)

	fromCert, err := ParsePin(certPin.String())
	require.NoError(t, err)
	assert.Equal(t, certPin, fromCert)

	fromCertHex, err := ParsePin(PrefixCertificate + certPin.Hex())
	require.NoError(t, err)
	assert.Equal(t, certPin, fromCertHex)
}

func TestParsePin_Empty(t *testing.T) {
	_, err := ParsePin("  ")
	assert.ErrorIs(t, err, ErrNoPinConfigured)
}

func TestParsePin_Malformed(t *testing.T) {
	short := base64.StdEncoding.EncodeToString(make([]byte, 16))
	inputs := []string{
		"not-valid-hex-string-at-all-zzzz",
		"abcdef0123456789abcdef0123456789",
		"sha256/%%%",
		"sha256/" + short,
		"cert-sha256/" + short,
		"sha1/" + base64.StdEncoding.EncodeToString(make([]byte, 20)),
	}
	for _, in := range inputs {
		_, err := ParsePin(in)
		assert.ErrorIs(t, err, ErrInvalidPinFormat, "input %q", in)
	}
}

func TestNewPin_WrongLength(t *testing.T) {
	_, err := NewPin(KindSPKI, make([]byte, 20))
	assert.ErrorIs(t, err, ErrInvalidPinFormat)
}

func TestPin_Equal(t *testing.T) {
	digest := make([]byte, Size)
	spki, err := NewPin(KindSPKI, digest)
	require.NoError(t, err)
	certPin, err := NewPin(KindCertificate, digest)
	require.NoError(t, err)

	assert.True(t, spki.Equal(spki))
	assert.False(t, spki.Equal(certPin))
}

func TestPin_TextMarshaling(t *testing.T) {
	cert, _ := generateTestCert(t)
	pin := ComputeSPKIPin(cert)

	text, err := pin.MarshalText()
	require.NoError(t, err)

	var decoded Pin
	require.NoError(t, decoded.UnmarshalText(text))
	assert.Equal(t, pin, decoded)
	assert.Error(t, decoded.UnmarshalText([]byte("garbage")))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, KindSPKI, k)

	k, err = ParseKind("cert")
	require.NoError(t, err)
	assert.Equal(t, KindCertificate, k)

	_, err = ParseKind("sha1")
	assert.ErrorIs(t, err, ErrInvalidPinFormat)
}

func TestVerifySPKIPin_Match(t *testing.T) {
	cert, _ := generateTestCert(t)

	assert.NoError(t, VerifySPKIPin([]*x509.Certificate{cert}, ComputeSPKIPin(cert)))
}

func TestVerifySPKIPin_Mismatch(t *testing.T) {
	cert, _ := generateTestCert(t)
	wrong, err := NewPin(KindSPKI, make([]byte, Size))
	require.NoError(t, err)

	assert.ErrorIs(t, VerifySPKIPin([]*x509.Certificate{cert}, wrong), ErrSPKIPinMismatch)
}

func TestVerifySPKIPin_EmptyPin(t *testing.T) {
	cert, _ := generateTestCert(t)

	assert.ErrorIs(t, VerifySPKIPin([]*x509.Certificate{cert}, Pin{}), ErrNoPinConfigured)
}

func TestVerifySPKIPin_NoCerts(t *testing.T) {
	pin, err := ParsePin("abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789")
	require.NoError(t, err)

	assert.ErrorIs(t, VerifySPKIPin(nil, pin), ErrNoCertificates)
	assert.ErrorIs(t, VerifySPKIPin([]*x509.Certificate{}, pin), ErrNoCertificates)
}

func TestVerifySPKIPin_MultipleCerts(t *testing.T) {
	cert1, _ := generateTestCert(t)
	cert2, _ := generateTestCert(t)

	err := VerifySPKIPin([]*x509.Certificate{cert1, cert2}, ComputeSPKIPin(cert2))
	assert.NoError(t, err)
}

func TestNewPinnedTLSConfig_Valid(t *testing.T) {
	cert, _ := generateTestCert(t)

	tlsCfg, err := NewPinnedTLSConfig(ComputeSPKIPin(cert).String())
	require.NoError(t, err)
	assert.True(t, tlsCfg.InsecureSkipVerify)
	assert.NotNil(t, tlsCfg.VerifyConnection)
	assert.Equal(t, uint16(tls.VersionTLS12), tlsCfg.MinVersion)
}

func TestNewPinnedTLSConfig_EmptyPin(t *testing.T) {
	tlsCfg, err := NewPinnedTLSConfig("")
	assert.Nil(t, tlsCfg)
	assert.ErrorIs(t, err, ErrNoPinConfigured)
}

func TestNewPinnedTLSConfig_InvalidHex(t *testing.T) {
	tlsCfg, err := NewPinnedTLSConfig("not-valid-hex-string-at-all-zzzz")
	assert.Nil(t, tlsCfg)
	assert.ErrorIs(t, err, ErrInvalidPinFormat)
}

func TestNewPinnedTLSConfig_VerifyCallback_Match(t *testing.T) {
	cert, _ := generateTestCert(t)

	tlsCfg, err := NewPinnedTLSConfig(hex.EncodeToString(ComputeSPKIPin(cert).Digest()))
	require.NoError(t, err)

	err = tlsCfg.VerifyConnection(tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert}})
	assert.NoError(t, err)
}

func TestNewPinnedTLSConfig_VerifyCallback_Mismatch(t *testing.T) {
	cert1, _ := generateTestCert(t)
	cert2, _ := generateTestCert(t)

	tlsCfg, err := NewPinnedTLSConfig(ComputeSPKIPin(cert1).String())
	require.NoError(t, err)

	err = tlsCfg.VerifyConnection(tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert2}})
	assert.ErrorIs(t, err, ErrSPKIPinMismatch)
}

func TestNewPinnedTLSConfig_VerifyCallback_PinnedCertNotLeaf(t *testing.T) {
	leaf, _ := generateTestCert(t)
	pinned, _ := generateTestCert(t)

	tlsCfg, err := NewPinnedTLSConfig(ComputeSPKIPin(pinned).String())
	require.NoError(t, err)

	// Without CA verification an appended certificate proves nothing.
	err = tlsCfg.VerifyConnection(tls.ConnectionState{PeerCertificates: []*x509.Certificate{leaf, pinned}})
	assert.ErrorIs(t, err, ErrSPKIPinMismatch)
}

func TestNewPinnedTLSConfig_VerifyCallback_NoCerts(t *testing.T) {
	cert, _ := generateTestCert(t)

	tlsCfg, err := NewPinnedTLSConfig(ComputeSPKIPin(cert).String())
	require.NoError(t, err)

	err = tlsCfg.VerifyConnection(tls.ConnectionState{})
	assert.ErrorIs(t, err, ErrNoCertificates)
}
