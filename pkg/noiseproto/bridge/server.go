// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeremyhahn/go-certpin/pkg/noiseproto"
)

// Server accepts bridge clients, completes a Noise_NK handshake with each
// and serves method calls until the client disconnects or goes idle.
type Server struct {
	config  *ServerConfig
	limiter *ipLimiter
	logger  *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	active   atomic.Int64
}

// NewServer validates cfg and applies defaults. The server is not
// listening until Start is called.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil || cfg.Handler == nil {
		return nil, fmt.Errorf("%w: handler is required", ErrInvalidRequest)
	}
	if cfg.StaticKey == nil || len(cfg.StaticKey.Private) != noiseproto.KeySize {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, noiseproto.ErrInvalidKeySize)
	}
	cfg.applyDefaults()
	return &Server{
		config: cfg,
		logger: cfg.Logger.With("component", "bridge_server"),
	}, nil
}

// Start binds the listener and begins accepting connections.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return ErrServerAlreadyStarted
	}

	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("%w: listen %s: %w", ErrConnectionFailed, s.config.ListenAddr, err)
	}

	s.listener = ln
	s.conns = make(map[net.Conn]struct{})
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.limiter = newIPLimiter(s.config.RateLimit, s.config.RateBurst, rateLimiterStaleAge, rateLimiterInterval)

	s.wg.Add(1)
	go s.acceptLoop(ln)

	s.logger.Info("bridge listening", "addr", ln.Addr().String(), "channel", ChannelName)
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

// ActiveConnections returns the number of connections being served.
func (s *Server) ActiveConnections() int {
	return int(s.active.Load())
}

// Stop closes the listener and every open connection, then waits for the
// connection goroutines to exit or ctx to end.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.listener == nil {
		s.mu.Unlock()
		return ErrServerNotStarted
	}
	s.cancel()
	err := s.listener.Close()
	for conn := range s.conns {
		conn.Close()
	}
	s.listener = nil
	s.limiter.Stop()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("bridge stopped")
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		if int(s.active.Load()) >= s.config.MaxConnections {
			s.logger.Warn("connection refused", "remote", conn.RemoteAddr().String(), "reason", "max connections")
			conn.Close()
			continue
		}
		if !s.limiter.Allow(remoteIP(conn)) {
			s.logger.Warn("connection refused", "remote", conn.RemoteAddr().String(), "reason", "rate limited")
			conn.Close()
			continue
		}
		if !s.track(conn) {
			conn.Close()
			return
		}

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// track registers conn unless the server is stopping.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	s.active.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.active.Add(-1)
	conn.Close()
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)

	remote := conn.RemoteAddr().String()
	logger := s.logger.With("remote", remote)

	session, err := s.handshake(conn)
	if err != nil {
		logger.Warn("handshake failed", "error", err)
		return
	}
	logger.Debug("session established")

	ip := remoteIP(conn)
	for {
		ciphertext, err := readFrame(conn, time.Now().Add(s.config.ReadTimeout))
		if err != nil {
			if !errors.Is(err, ErrTimeout) {
				logger.Debug("connection closed", "error", err)
			}
			return
		}

		resp := s.dispatch(session, ciphertext, ip, logger)
		if resp == nil {
			return
		}

		payload, err := json.Marshal(resp)
		if err != nil {
			logger.Error("marshal response", "error", err)
			return
		}
		out, err := session.Encrypt(payload)
		if err != nil {
			logger.Error("encrypt response", "error", err)
			return
		}
		if err := writeFrame(conn, out, time.Now().Add(s.config.WriteTimeout)); err != nil {
			logger.Debug("write response", "error", err)
			return
		}
	}
}

// dispatch decrypts and serves one request. A nil response means the
// session is no longer usable.
func (s *Server) dispatch(session *noiseproto.Session, ciphertext []byte, ip string, logger *slog.Logger) *Response {
	plaintext, err := session.Decrypt(ciphertext)
	if err != nil {
		logger.Warn("decrypt request", "error", err)
		return nil
	}

	var req Request
	if err := json.Unmarshal(plaintext, &req); err != nil {
		return ErrorResponse(fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}
	if !s.limiter.Allow(ip) {
		logger.Warn("request rate limited", "method", req.Method)
		return ErrorResponse(ErrRateLimited)
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.config.RequestTimeout)
	defer cancel()

	resp, err := s.config.Handler.Handle(ctx, &req)
	if err != nil {
		logger.Info("method failed", "method", req.Method, "error", err)
		return ErrorResponse(err)
	}
	logger.Debug("method served", "method", req.Method, "success", resp.Success)
	return resp
}

// handshake runs the responder side of Noise_NK.
func (s *Server) handshake(conn net.Conn) (*noiseproto.Session, error) {
	session, err := noiseproto.NewResponder(s.config.StaticKey, []byte(ChannelName))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	msg1, err := readFrame(conn, time.Now().Add(s.config.ReadTimeout))
	if err != nil {
		return nil, fmt.Errorf("%w: read msg1: %w", ErrHandshakeFailed, err)
	}
	msg2, _, err := session.HandshakeMessage(msg1)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	if err := writeFrame(conn, msg2, time.Now().Add(s.config.WriteTimeout)); err != nil {
		return nil, fmt.Errorf("%w: write msg2: %w", ErrHandshakeFailed, err)
	}
	return session, nil
}

func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
