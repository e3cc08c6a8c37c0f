// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

// Package bridge exposes the pin store and verification gate to an
// application shell as a method channel: named methods carrying small JSON
// requests, served over length-prefixed Noise_NK frames on TCP.
package bridge

import (
	"errors"

	"github.com/jeremyhahn/go-certpin/pkg/pinstore"
)

var (
	// ErrServerNotStarted indicates an operation was attempted before the server was started.
	ErrServerNotStarted = errors.New("bridge: server not started")

	// ErrServerAlreadyStarted indicates Start was called on a running server.
	ErrServerAlreadyStarted = errors.New("bridge: server already started")

	// ErrInvalidRequest indicates a malformed request or argument.
	ErrInvalidRequest = errors.New("bridge: invalid request")

	// ErrNotImplemented is returned for methods the channel does not define.
	ErrNotImplemented = errors.New("bridge: method not implemented")

	// ErrNoSource indicates a reload was requested but no pin source is configured.
	ErrNoSource = errors.New("bridge: no pin source configured")

	// ErrConnectionFailed indicates a transport failure.
	ErrConnectionFailed = errors.New("bridge: connection failed")

	// ErrTimeout indicates an I/O operation exceeded its deadline.
	ErrTimeout = errors.New("bridge: operation timeout")

	// ErrFrameTooLarge indicates a frame exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("bridge: frame too large")

	// ErrHandshakeFailed indicates the Noise_NK handshake did not complete.
	ErrHandshakeFailed = errors.New("bridge: handshake failed")

	// ErrRateLimited indicates the peer exceeded its request rate.
	ErrRateLimited = errors.New("bridge: rate limited")

	// ErrInlineConfigDisabled indicates setupSSLPinning carried a document
	// but the handler only loads from its configured source.
	ErrInlineConfigDisabled = errors.New("bridge: inline pin configuration disabled")

	// ErrRemote is wrapped by every RemoteError.
	ErrRemote = errors.New("bridge: remote error")
)

// Error codes carried in Response.Error.
const (
	CodeNotImplemented = "notImplemented"
	CodeInvalidRequest = "invalidRequest"
	CodeConfigError    = "configError"
	CodeNoSource       = "noSource"
	CodeRateLimited    = "rateLimited"
	CodePermission     = "permissionDenied"
	CodeInternal       = "internalError"
)

// codeErrors maps wire codes back to sentinels on the client side.
var codeErrors = map[string]error{
	CodeNotImplemented: ErrNotImplemented,
	CodeInvalidRequest: ErrInvalidRequest,
	CodeConfigError:    pinstore.ErrConfig,
	CodeNoSource:       ErrNoSource,
	CodeRateLimited:    ErrRateLimited,
	CodePermission:     ErrInlineConfigDisabled,
}

// codeOrder fixes the precedence used by errorCode.
var codeOrder = []string{CodeNotImplemented, CodeInvalidRequest, CodeNoSource, CodeRateLimited, CodePermission, CodeConfigError}

// errorCode classifies a handler error for the wire.
func errorCode(err error) string {
	for _, code := range codeOrder {
		if errors.Is(err, codeErrors[code]) {
			return code
		}
	}
	return CodeInternal
}

// RemoteError is returned by Client.Call when the server answered with an
// error code.
type RemoteError struct {
	Method  string
	Code    string
	Message string
}

// Error implements error.
func (e *RemoteError) Error() string {
	return "bridge: " + e.Method + ": " + e.Code + ": " + e.Message
}

// Unwrap exposes ErrRemote and the sentinel matching Code, if any.
func (e *RemoteError) Unwrap() []error {
	if target, ok := codeErrors[e.Code]; ok {
		return []error{ErrRemote, target}
	}
	return []error{ErrRemote}
}
