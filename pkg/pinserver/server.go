// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package pinserver

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jeremyhahn/go-certpin/pkg/pinstore"
	"github.com/jeremyhahn/go-certpin/pkg/spkipin"
)

const (
	// DefaultListenAddr is the default HTTPS address.
	DefaultListenAddr = ":8443"

	// DefaultReadHeaderTimeout bounds reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second

	// HealthPath answers liveness probes.
	HealthPath = "/healthz"

	contentTypeYAML = "application/yaml"
	contentTypeJSON = "application/json"

	// versionHeader carries the snapshot version of the served document.
	versionHeader = "X-Pin-Version"
)

// Config configures a Server.
type Config struct {
	// Store supplies the document to serve. Required.
	Store *pinstore.Store

	// ListenAddr defaults to DefaultListenAddr.
	ListenAddr string

	// TLSConfig enables HTTPS. Clients pin the SPKI of its certificate.
	// When nil the server speaks plain HTTP, which is only suitable behind
	// a TLS-terminating proxy.
	TLSConfig *tls.Config

	// ReadHeaderTimeout defaults to DefaultReadHeaderTimeout.
	ReadHeaderTimeout time.Duration

	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger
}

// Server serves GET /v1/pins and GET /healthz.
type Server struct {
	config *Config
	router chi.Router
	logger *slog.Logger

	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
	done     chan struct{}
}

// New builds the router. The server does not listen until Start.
func New(cfg *Config) (*Server, error) {
	if cfg == nil || cfg.Store == nil {
		return nil, ErrNilStore
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		config: cfg,
		logger: cfg.Logger.With("component", "pinserver"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.GetHead)
	r.Get(HealthPath, s.handleHealth)
	r.Get(spkipin.PinDocumentPath, s.handlePins)
	s.router = r

	return s, nil
}

// Handler returns the HTTP handler, for mounting or testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpSrv != nil {
		return ErrServerAlreadyStarted
	}

	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrListen, s.config.ListenAddr, err)
	}
	if s.config.TLSConfig != nil {
		tlsCfg := s.config.TLSConfig.Clone()
		if tlsCfg.MinVersion < tls.VersionTLS12 {
			tlsCfg.MinVersion = tls.VersionTLS12
		}
		ln = tls.NewListener(ln, tlsCfg)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.httpSrv = srv
	s.listener = ln
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("pin server stopped", "error", err)
		}
	}(s.done)

	s.logger.Info("pin server listening", "addr", ln.Addr().String(), "tls", s.config.TLSConfig != nil)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the server down gracefully within ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.httpSrv, s.done
	s.httpSrv, s.listener = nil, nil
	s.mu.Unlock()

	if srv == nil {
		return ErrServerNotStarted
	}
	err := srv.Shutdown(ctx)
	select {
	case <-done:
	case <-ctx.Done():
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		s.logger.Debug("write error", "error", err)
	}
}

// handlePins serves the active snapshot as YAML, or JSON when the client
// asks for it.
func (s *Server) handlePins(w http.ResponseWriter, r *http.Request) {
	ps := s.config.Store.Snapshot()
	if ps == nil {
		http.Error(w, "no pin set loaded", http.StatusServiceUnavailable)
		return
	}

	var (
		body        []byte
		err         error
		contentType = contentTypeYAML
	)
	if strings.Contains(r.Header.Get("Accept"), contentTypeJSON) {
		contentType = contentTypeJSON
		body, err = json.MarshalIndent(ps.Config(), "", "  ")
	} else {
		body, err = pinstore.MarshalConfig(ps.Config())
	}
	if err != nil {
		s.logger.Error("encode pin document", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	etag := documentETag(ps.Version(), body)
	w.Header().Set("ETag", etag)
	w.Header().Set(versionHeader, strconv.FormatUint(ps.Version(), 10))
	w.Header().Set("Cache-Control", "no-cache")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Debug("write error", "error", err)
		return
	}
	s.logger.Debug("pin document served", "version", ps.Version(), "content_type", contentType, "remote", r.RemoteAddr)
}

// documentETag tags a representation with the snapshot version and a digest
// of its bytes. Versions restart at 1 with the process, so the digest keeps a
// client's cached tag from matching a different document after a restart.
func documentETag(version uint64, body []byte) string {
	sum := sha256.Sum256(body)
	return `"` + strconv.FormatUint(version, 10) + "-" + hex.EncodeToString(sum[:8]) + `"`
}
