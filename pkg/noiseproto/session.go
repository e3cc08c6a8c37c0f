// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package noiseproto

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/flynn/noise"
)

const (
	// KeySize is the size of Curve25519 keys in bytes.
	KeySize = 32

	// MaxMessageSize is the maximum plaintext message size: the Noise
	// maximum (65535) minus the AEAD tag (16).
	MaxMessageSize = 65535 - 16
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// Session is one side of a two-message Noise_NK handshake followed by an
// encrypted transport:
//
//	-> e, es
//	<- e, ee
//
// The initiator calls HandshakeMessage(nil) to produce the first message and
// HandshakeMessage(reply) to finish. The responder calls
// HandshakeMessage(first) once and sends back the returned reply.
type Session struct {
	mu          sync.Mutex
	hs          *noise.HandshakeState
	send        *noise.CipherState
	recv        *noise.CipherState
	isInitiator bool
	sentFirst   bool
	done        atomic.Bool
}

// NewInitiator starts a client session pinned to the responder's static
// public key. The prologue must equal the responder's.
func NewInitiator(responderStatic, prologue []byte) (*Session, error) {
	if len(responderStatic) != KeySize {
		return nil, fmt.Errorf("%w: responder key is %d bytes", ErrInvalidKeySize, len(responderStatic))
	}
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: cipherSuite,
		Pattern:     noise.HandshakeNK,
		Initiator:   true,
		Prologue:    prologue,
		PeerStatic:  responderStatic,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: init: %w", ErrHandshakeFailed, err)
	}
	return &Session{hs: hs, isInitiator: true}, nil
}

// NewResponder starts a server session holding the static key clients pin.
func NewResponder(static *noise.DHKey, prologue []byte) (*Session, error) {
	if static == nil || len(static.Private) != KeySize || len(static.Public) != KeySize {
		return nil, ErrInvalidKeySize
	}
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeNK,
		Initiator:     false,
		Prologue:      prologue,
		StaticKeypair: *static,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: init: %w", ErrHandshakeFailed, err)
	}
	return &Session{hs: hs}, nil
}

// IsInitiator reports the session's role.
func (s *Session) IsInitiator() bool {
	return s.isInitiator
}

// IsHandshakeComplete reports whether Encrypt and Decrypt may be used.
func (s *Session) IsHandshakeComplete() bool {
	return s.done.Load()
}

// HandshakeMessage advances the handshake. It returns the message to send
// (nil when there is none) and whether the handshake is complete.
func (s *Session) HandshakeMessage(incoming []byte) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hs == nil {
		return nil, false, fmt.Errorf("%w: handshake already finished", ErrInvalidMessage)
	}

	if s.isInitiator {
		if !s.sentFirst {
			if incoming != nil {
				return nil, false, fmt.Errorf("%w: initiator speaks first", ErrInvalidMessage)
			}
			out, _, _, err := s.hs.WriteMessage(nil, nil)
			if err != nil {
				return nil, false, fmt.Errorf("%w: write e, es: %w", ErrHandshakeFailed, err)
			}
			s.sentFirst = true
			return out, false, nil
		}
		if incoming == nil {
			return nil, false, fmt.Errorf("%w: missing responder reply", ErrInvalidMessage)
		}
		_, c1, c2, err := s.hs.ReadMessage(nil, incoming)
		if err != nil {
			return nil, false, fmt.Errorf("%w: read e, ee (size=%d): %w", ErrHandshakeFailed, len(incoming), err)
		}
		if c1 == nil || c2 == nil {
			return nil, false, fmt.Errorf("%w: handshake did not complete", ErrHandshakeFailed)
		}
		s.finish(c1, c2)
		return nil, true, nil
	}

	if incoming == nil {
		return nil, false, fmt.Errorf("%w: responder requires incoming message", ErrInvalidMessage)
	}
	if _, _, _, err := s.hs.ReadMessage(nil, incoming); err != nil {
		return nil, false, fmt.Errorf("%w: read e, es: %w", ErrHandshakeFailed, err)
	}
	out, c1, c2, err := s.hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, false, fmt.Errorf("%w: write e, ee: %w", ErrHandshakeFailed, err)
	}
	if c1 == nil || c2 == nil {
		return nil, false, fmt.Errorf("%w: handshake did not complete", ErrHandshakeFailed)
	}
	// c1 always carries initiator-to-responder traffic.
	s.finish(c2, c1)
	return out, true, nil
}

// finish installs the transport ciphers and drops the handshake state.
func (s *Session) finish(send, recv *noise.CipherState) {
	s.send = send
	s.recv = recv
	s.hs = nil
	s.done.Store(true)
}

// Encrypt seals one transport message.
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	if !s.done.Load() {
		return nil, ErrSessionNotReady
	}
	if len(plaintext) > MaxMessageSize {
		return nil, fmt.Errorf("%w: message size %d exceeds maximum %d",
			ErrEncryptionFailed, len(plaintext), MaxMessageSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ciphertext, err := s.send.Encrypt(nil, nil, plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncryptionFailed, err)
	}
	return ciphertext, nil
}

// Decrypt opens one transport message. Messages must be decrypted in the
// order they were encrypted.
func (s *Session) Decrypt(ciphertext []byte) ([]byte, error) {
	if !s.done.Load() {
		return nil, ErrSessionNotReady
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	plaintext, err := s.recv.Decrypt(nil, nil, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}
