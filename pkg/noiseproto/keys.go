// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package noiseproto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/flynn/noise"
	"golang.org/x/crypto/curve25519"
)

// keyFileMode keeps the daemon's private key readable by its owner only.
const keyFileMode = 0o600

// GenerateStaticKey generates a new Curve25519 static key pair.
func GenerateStaticKey() (*noise.DHKey, error) {
	key, err := noise.DH25519.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	return &key, nil
}

// LoadStaticKey creates a DHKey from raw private key bytes by deriving the
// corresponding Curve25519 public key via scalar base multiplication.
func LoadStaticKey(privateKey []byte) (*noise.DHKey, error) {
	if len(privateKey) != KeySize {
		return nil, ErrInvalidKeySize
	}

	priv := make([]byte, KeySize)
	copy(priv, privateKey)

	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKeySize, err)
	}

	return &noise.DHKey{
		Private: priv,
		Public:  pub,
	}, nil
}

// EncodeStaticKey hex-encodes the private half of a key for storage.
func EncodeStaticKey(key *noise.DHKey) string {
	return hex.EncodeToString(key.Private)
}

// DecodeStaticKey decodes a hex private key and derives the public half.
func DecodeStaticKey(encoded string) (*noise.DHKey, error) {
	privateKey, err := hex.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex encoding: %w", ErrInvalidKeySize, err)
	}
	defer WipeBytes(privateKey)
	return LoadStaticKey(privateKey)
}

// EncodePublicKey hex-encodes a public key for distribution to clients.
func EncodePublicKey(key *noise.DHKey) string {
	return hex.EncodeToString(key.Public)
}

// ParsePublicKey decodes a hex Curve25519 public key as given to clients.
func ParsePublicKey(encoded string) ([]byte, error) {
	pub, err := hex.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex encoding: %w", ErrInvalidKeySize, err)
	}
	if len(pub) != KeySize {
		return nil, ErrInvalidKeySize
	}
	return pub, nil
}

// LoadOrCreateKeyFile reads a hex private key from path, generating and
// writing a new one with mode 0600 when the file does not exist. The
// boolean reports whether a key was created.
func LoadOrCreateKeyFile(path string) (*noise.DHKey, bool, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		defer WipeBytes(data)
		key, err := DecodeStaticKey(string(data))
		if err != nil {
			return nil, false, fmt.Errorf("%w: %s: %w", ErrKeyFile, path, err)
		}
		return key, false, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, false, fmt.Errorf("%w: %w", ErrKeyFile, err)
	}

	key, err := GenerateStaticKey()
	if err != nil {
		return nil, false, err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, false, fmt.Errorf("%w: %w", ErrKeyFile, err)
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, keyFileMode)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrKeyFile, err)
	}
	if _, err := f.WriteString(EncodeStaticKey(key) + "\n"); err != nil {
		f.Close()
		return nil, false, fmt.Errorf("%w: %w", ErrKeyFile, err)
	}
	if err := f.Close(); err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrKeyFile, err)
	}
	return key, true, nil
}
