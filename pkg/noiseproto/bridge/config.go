// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package bridge

import (
	"log/slog"
	"time"

	"github.com/flynn/noise"
)

const (
	// ChannelName is the method channel the shell registers. It is also the
	// Noise prologue, binding every session to this channel.
	ChannelName = "com.cashai.app/security"

	// DefaultListenAddr is the default TCP address the server binds to.
	DefaultListenAddr = "127.0.0.1:8445"

	// DefaultMaxConnections is the default maximum number of concurrent connections.
	DefaultMaxConnections = 100

	// MaxMaxConnections is the upper bound for MaxConnections.
	MaxMaxConnections = 10000

	// DefaultReadTimeout bounds the wait for each frame, including idle time
	// between requests.
	DefaultReadTimeout = 30 * time.Second

	// DefaultWriteTimeout bounds writing one frame.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultRequestTimeout bounds one method invocation on the server, which
	// may include a remote pin fetch.
	DefaultRequestTimeout = 30 * time.Second

	// MaxFrameSize matches the Noise maximum message size.
	MaxFrameSize = 65535

	// FrameHeaderSize is the length of the big-endian length prefix.
	FrameHeaderSize = 2

	// DefaultRateLimit is the per-IP token refill rate in requests per second.
	DefaultRateLimit = 10.0

	// DefaultRateBurst is the per-IP burst size.
	DefaultRateBurst = 20

	rateLimiterStaleAge = 10 * time.Minute
	rateLimiterInterval = time.Minute
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// ListenAddr is the TCP address to bind. Defaults to DefaultListenAddr.
	ListenAddr string

	// StaticKey is the server's Curve25519 key pair. Clients pin its public half.
	StaticKey *noise.DHKey

	// Handler serves the channel's methods. Required.
	Handler *Handler

	// MaxConnections limits simultaneous clients. Values <= 0 select
	// DefaultMaxConnections; values above MaxMaxConnections are clamped.
	MaxConnections int

	// ReadTimeout defaults to DefaultReadTimeout.
	ReadTimeout time.Duration

	// WriteTimeout defaults to DefaultWriteTimeout.
	WriteTimeout time.Duration

	// RequestTimeout defaults to DefaultRequestTimeout.
	RequestTimeout time.Duration

	// RateLimit is the per-IP request rate. Defaults to DefaultRateLimit.
	RateLimit float64

	// RateBurst defaults to DefaultRateBurst.
	RateBurst int

	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c *ServerConfig) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.MaxConnections > MaxMaxConnections {
		c.MaxConnections = MaxMaxConnections
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.RateLimit <= 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.RateBurst <= 0 {
		c.RateBurst = DefaultRateBurst
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// ServerAddr is the TCP address of the bridge server.
	ServerAddr string

	// ServerStaticKey is the server's 32-byte Curve25519 public key.
	ServerStaticKey []byte

	// ConnectTimeout bounds dialing and the handshake. Defaults to DefaultWriteTimeout.
	ConnectTimeout time.Duration

	// OperationTimeout bounds one call when the context has no deadline.
	// Defaults to DefaultRequestTimeout.
	OperationTimeout time.Duration

	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger
}
