// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package spkipin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultConnectTimeout bounds a single document request.
	DefaultConnectTimeout = 10 * time.Second

	// PinDocumentPath is where a distribution server publishes its document.
	PinDocumentPath = "/v1/pins"

	// MaxResponseSize caps the document size. Larger bodies are rejected
	// rather than truncated.
	MaxResponseSize = 1 << 20
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// ServerURL is the https base URL of the distribution server.
	ServerURL string

	// ServerPin is the pin of the server's leaf certificate, in any form
	// ParsePin accepts.
	ServerPin string

	// ConnectTimeout defaults to DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// DocumentPath defaults to PinDocumentPath.
	DocumentPath string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// FetchOptions shape a single document request.
type FetchOptions struct {
	// Accept is sent as the Accept header when set.
	Accept string

	// IfNoneMatch is an ETag from an earlier Document. When the server still
	// holds that representation the result has NotModified set and no body.
	IfNoneMatch string
}

// Document is one response from the distribution server.
type Document struct {
	Body        []byte
	ContentType string
	ETag        string
	NotModified bool
}

// Client fetches pin documents over a TLS connection whose only trust anchor
// is ServerPin. It is how a process obtains its first pin set.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient validates cfg and builds the pinned transport.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil || cfg.ServerPin == "" {
		return nil, ErrNoPinConfigured
	}
	endpoint, err := documentURL(cfg.ServerURL, cfg.DocumentPath)
	if err != nil {
		return nil, err
	}
	tlsConfig, err := NewPinnedTLSConfig(cfg.ServerPin)
	if err != nil {
		return nil, err
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig:     tlsConfig,
				TLSHandshakeTimeout: timeout,
				ForceAttemptHTTP2:   true,
			},
			// A redirect would hand the request to a host the pin says
			// nothing about.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger.With("component", "spkipin_client", "url", endpoint),
	}, nil
}

func documentURL(base, path string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("%w: server URL is required", ErrFetchFailed)
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: server URL: %w", ErrFetchFailed, err)
	}
	if u.Scheme != "https" || u.Host == "" {
		return "", fmt.Errorf("%w: server URL must be https://host[:port], got %q", ErrFetchFailed, base)
	}
	if path == "" {
		path = PinDocumentPath
	}
	return strings.TrimSuffix(u.String(), "/") + "/" + strings.TrimPrefix(path, "/"), nil
}

// Endpoint returns the full document URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Fetch performs one GET of the pin document.
func (c *Client) Fetch(ctx context.Context, opts FetchOptions) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	if opts.Accept != "" {
		req.Header.Set("Accept", opts.Accept)
	}
	if opts.IfNoneMatch != "" {
		req.Header.Set("If-None-Match", opts.IfNoneMatch)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	doc := &Document{
		ContentType: resp.Header.Get("Content-Type"),
		ETag:        resp.Header.Get("ETag"),
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		if opts.IfNoneMatch == "" {
			return nil, fmt.Errorf("%w: unsolicited 304", ErrFetchFailed)
		}
		doc.NotModified = true
		if doc.ETag == "" {
			doc.ETag = opts.IfNoneMatch
		}
		c.logger.Debug("pin document not modified", "etag", doc.ETag)
		return doc, nil
	default:
		return nil, fmt.Errorf("%w: server returned %s", ErrFetchFailed, resp.Status)
	}

	doc.Body, err = readLimited(resp.Body, MaxResponseSize)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("pin document fetched", "size", len(doc.Body), "etag", doc.ETag, "content_type", doc.ContentType)
	return doc, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	switch {
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	case int64(len(body)) > limit:
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrResponseTooLarge, limit)
	case len(body) == 0:
		return nil, ErrEmptyResponse
	}
	return body, nil
}

// Close drops idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
