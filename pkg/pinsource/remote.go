// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package pinsource

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jeremyhahn/go-certpin/pkg/pinstore"
	"github.com/jeremyhahn/go-certpin/pkg/spkipin"
)

// RemoteConfig configures a RemoteSource.
type RemoteConfig struct {
	// ServerURL is the base URL of the pin distribution server. Required.
	ServerURL string

	// ServerPin pins the distribution server's own leaf certificate. Required.
	ServerPin string

	// DocumentPath overrides spkipin.PinDocumentPath.
	DocumentPath string

	// ConnectTimeout bounds each request. Default: spkipin.DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger
}

// RemoteSource fetches the document from a pin distribution server. The
// server is trusted through ServerPin alone, which is how trust in the pin
// channel is bootstrapped before any pin set is loaded.
//
// The last document is kept with its ETag; a reload the server answers with
// 304 re-parses the cached bytes instead of transferring them again.
type RemoteSource struct {
	url    string
	client *spkipin.Client
	logger *slog.Logger

	mu   sync.Mutex
	etag string
	body []byte
}

// NewRemoteSource creates a remote source.
func NewRemoteSource(cfg *RemoteConfig) (*RemoteSource, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client, err := spkipin.NewClient(&spkipin.ClientConfig{
		ServerURL:      cfg.ServerURL,
		ServerPin:      cfg.ServerPin,
		DocumentPath:   cfg.DocumentPath,
		ConnectTimeout: cfg.ConnectTimeout,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return &RemoteSource{
		url:    cfg.ServerURL,
		client: client,
		logger: logger.With("component", "remote_source"),
	}, nil
}

// Name implements pinstore.Source.
func (s *RemoteSource) Name() string {
	return "remote:" + s.url
}

// Fetch implements pinstore.Source.
func (s *RemoteSource) Fetch(ctx context.Context) (*pinstore.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.client.Fetch(ctx, spkipin.FetchOptions{
		Accept:      "application/yaml",
		IfNoneMatch: s.etag,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	if doc.NotModified {
		s.logger.Debug("document unchanged", "etag", doc.ETag)
		return pinstore.ParseConfig(s.body)
	}

	cfg, err := pinstore.ParseConfig(doc.Body)
	if err != nil {
		return nil, err
	}
	s.etag, s.body = doc.ETag, doc.Body
	return cfg, nil
}

// Close releases idle connections.
func (s *RemoteSource) Close() error {
	return s.client.Close()
}
