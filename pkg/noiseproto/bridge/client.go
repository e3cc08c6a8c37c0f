// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package bridge

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/jeremyhahn/go-certpin/pkg/noiseproto"
)

// Client calls bridge methods over one Noise_NK session. Calls are
// serialised.
type Client struct {
	mu      sync.Mutex
	config  *ClientConfig
	conn    net.Conn
	session *noiseproto.Session
	logger  *slog.Logger
}

// NewClient validates cfg. Connect must be called before Call.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil || len(cfg.ServerStaticKey) != noiseproto.KeySize {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, noiseproto.ErrInvalidKeySize)
	}
	if cfg.ServerAddr == "" {
		return nil, fmt.Errorf("%w: server address is required", ErrConnectionFailed)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultWriteTimeout
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = DefaultRequestTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config: cfg,
		logger: logger.With("component", "bridge_client"),
	}, nil
}

// Connect dials the server and performs the handshake as initiator.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	dialer := &net.Dialer{Timeout: c.config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.config.ServerAddr)
	if err != nil {
		return fmt.Errorf("%w: dial: %w", ErrConnectionFailed, err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.ConnectTimeout)
	}
	session, err := c.handshake(conn, deadline)
	if err != nil {
		conn.Close()
		return err
	}

	c.conn = conn
	c.session = session
	c.logger.Debug("handshake complete", "server", c.config.ServerAddr)
	return nil
}

func (c *Client) handshake(conn net.Conn, deadline time.Time) (*noiseproto.Session, error) {
	session, err := noiseproto.NewInitiator(c.config.ServerStaticKey, []byte(ChannelName))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	msg1, _, err := session.HandshakeMessage(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	if err := writeFrame(conn, msg1, deadline); err != nil {
		return nil, fmt.Errorf("%w: send msg1: %w", ErrHandshakeFailed, err)
	}
	msg2, err := readFrame(conn, deadline)
	if err != nil {
		return nil, fmt.Errorf("%w: read msg2: %w", ErrHandshakeFailed, err)
	}
	if _, _, err := session.HandshakeMessage(msg2); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	return session, nil
}

// Call invokes one method. A response carrying an error code is returned
// together with a *RemoteError.
func (c *Client) Call(ctx context.Context, req *Request) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, fmt.Errorf("%w: not connected", ErrConnectionFailed)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %w", ErrInvalidRequest, err)
	}
	ciphertext, err := c.session.Encrypt(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.OperationTimeout)
	}
	if err := writeFrame(c.conn, ciphertext, deadline); err != nil {
		return nil, fmt.Errorf("bridge: write request: %w", err)
	}
	reply, err := readFrame(c.conn, deadline)
	if err != nil {
		return nil, fmt.Errorf("bridge: read response: %w", err)
	}
	plaintext, err := c.session.Decrypt(reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	var resp Response
	if err := json.Unmarshal(plaintext, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse response: %w", ErrInvalidRequest, err)
	}
	if resp.Error != "" {
		return &resp, &RemoteError{Method: req.Method, Code: resp.Error, Message: resp.Message}
	}
	return &resp, nil
}

// SetupSSLPinning installs doc, or loads the server's configured source
// when doc is empty.
func (c *Client) SetupSSLPinning(ctx context.Context, doc []byte) (*Response, error) {
	return c.Call(ctx, &Request{Method: MethodSetupSSLPinning, Config: string(doc)})
}

// CheckPeer asks the server to verify certs, leaf first, for host.
func (c *Client) CheckPeer(ctx context.Context, host string, certs []*x509.Certificate) (*Response, error) {
	return c.Call(ctx, &Request{Method: MethodCheckPeer, Host: host, Chain: EncodeChain(certs)})
}

// ReloadPins re-fetches the server's pin source.
func (c *Client) ReloadPins(ctx context.Context) (*Response, error) {
	return c.Call(ctx, &Request{Method: MethodReloadPins})
}

// PinStatus reports the active pin set.
func (c *Client) PinStatus(ctx context.Context) (*Response, error) {
	return c.Call(ctx, &Request{Method: MethodPinStatus})
}

// Close shuts down the connection. It is safe to call multiple times.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.session = nil
	return err
}
