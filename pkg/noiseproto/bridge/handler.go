// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package bridge

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/jeremyhahn/go-certpin/pkg/gate"
	"github.com/jeremyhahn/go-certpin/pkg/pinstore"
)

// Method names served on ChannelName.
const (
	MethodSetupSSLPinning = "setupSSLPinning"
	MethodCheckPeer       = "checkPeer"
	MethodReloadPins      = "reloadPins"
	MethodPinStatus       = "pinStatus"
)

// inlineSourceName labels pin sets loaded from Request.Config.
const inlineSourceName = "inline"

// Request is one method invocation.
type Request struct {
	// Method names the operation.
	Method string `json:"method"`

	// Host is the hostname checkPeer verifies.
	Host string `json:"host,omitempty"`

	// Chain is the peer chain for checkPeer as base64 DER, leaf first.
	Chain []string `json:"chain,omitempty"`

	// Config is an optional inline pin document for setupSSLPinning.
	Config string `json:"config,omitempty"`
}

// Response is the result of one method invocation. Error carries one of the
// Code constants when the call failed.
type Response struct {
	Success  bool   `json:"success"`
	Reason   string `json:"reason,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
	Version  uint64 `json:"version,omitempty"`
	Hosts    int    `json:"hosts,omitempty"`
	Source   string `json:"source,omitempty"`
	Pattern  string `json:"pattern,omitempty"`
	LoadedAt string `json:"loaded_at,omitempty"`
	Accepted uint64 `json:"accepted,omitempty"`
	Rejected uint64 `json:"rejected,omitempty"`
}

// ErrorResponse converts a handler error to its wire form.
func ErrorResponse(err error) *Response {
	return &Response{Error: errorCode(err), Message: err.Error()}
}

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	// Store receives loaded pin sets. Defaults to Gate.Store().
	Store *pinstore.Store

	// Gate answers checkPeer. Defaults to a gate over Store.
	Gate *gate.Gate

	// Source is what setupSSLPinning and reloadPins fetch from. Optional.
	Source pinstore.Source

	// AllowInlineConfig lets setupSSLPinning replace the pin set with a
	// document carried in the request. The Noise_NK channel does not
	// authenticate the caller, so any peer that can reach the listener
	// could otherwise publish its own pins.
	AllowInlineConfig bool

	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger
}

type handlerFunc func(ctx context.Context, req *Request) (*Response, error)

// Handler dispatches method calls by name.
type Handler struct {
	store    *pinstore.Store
	gate     *gate.Gate
	source   pinstore.Source
	inline   bool
	handlers map[string]handlerFunc
	logger   *slog.Logger
}

// NewHandler creates a handler. At least one of Store and Gate is required.
func NewHandler(cfg *HandlerConfig) (*Handler, error) {
	if cfg == nil || (cfg.Store == nil && cfg.Gate == nil) {
		return nil, gate.ErrNilStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store := cfg.Store
	g := cfg.Gate
	switch {
	case store == nil:
		store = g.Store()
	case g == nil:
		var err error
		if g, err = gate.New(&gate.Config{Store: store, Logger: logger}); err != nil {
			return nil, err
		}
	case g.Store() != store:
		return nil, fmt.Errorf("%w: gate reads a different store", ErrInvalidRequest)
	}

	h := &Handler{
		store:  store,
		gate:   g,
		source: cfg.Source,
		inline: cfg.AllowInlineConfig,
		logger: logger.With("component", "bridge_handler"),
	}
	h.handlers = map[string]handlerFunc{
		MethodSetupSSLPinning: h.handleSetupSSLPinning,
		MethodCheckPeer:       h.handleCheckPeer,
		MethodReloadPins:      h.handleReloadPins,
		MethodPinStatus:       h.handlePinStatus,
	}
	return h, nil
}

// Handle dispatches req. Unknown methods return ErrNotImplemented.
func (h *Handler) Handle(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, ErrInvalidRequest
	}
	handler, ok := h.handlers[req.Method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotImplemented, req.Method)
	}
	return handler(ctx, req)
}

// handleSetupSSLPinning installs the inline document when one is given and
// otherwise loads the configured source. Success is reported only once a
// pin set has actually been published.
func (h *Handler) handleSetupSSLPinning(ctx context.Context, req *Request) (*Response, error) {
	if req.Config == "" {
		return h.reload(ctx)
	}
	if !h.inline {
		h.logger.Warn("inline pin configuration refused")
		return nil, ErrInlineConfigDisabled
	}

	cfg, err := pinstore.ParseConfig([]byte(req.Config))
	if err != nil {
		return nil, err
	}
	ps, err := h.store.LoadConfig(cfg, inlineSourceName)
	if err != nil {
		return nil, err
	}
	h.logger.Info("pinning configured", "source", inlineSourceName, "version", ps.Version(), "hosts", ps.Len())
	return statusResponse(ps), nil
}

func (h *Handler) handleReloadPins(ctx context.Context, _ *Request) (*Response, error) {
	return h.reload(ctx)
}

func (h *Handler) reload(ctx context.Context) (*Response, error) {
	if h.source == nil {
		return nil, ErrNoSource
	}
	ps, err := h.store.Reload(ctx, h.source)
	if err != nil {
		return nil, err
	}
	h.logger.Info("pinning configured", "source", ps.Source(), "version", ps.Version(), "hosts", ps.Len())
	return statusResponse(ps), nil
}

// handleCheckPeer runs the gate over a chain supplied by the shell. A
// rejection is a successful call with Success false.
func (h *Handler) handleCheckPeer(_ context.Context, req *Request) (*Response, error) {
	if req.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidRequest)
	}
	certs, err := decodeChain(req.Chain)
	if err != nil {
		return nil, err
	}

	d := h.gate.Check(req.Host, certs)
	return &Response{
		Success: d.Accepted,
		Reason:  string(d.Reason),
		Message: d.Reason.Message(),
		Version: d.Version,
		Pattern: d.Pattern,
	}, nil
}

func (h *Handler) handlePinStatus(_ context.Context, _ *Request) (*Response, error) {
	stats := h.gate.Stats()
	resp := &Response{Accepted: stats.Accepted, Rejected: stats.Rejected}
	if ps := h.store.Snapshot(); ps != nil {
		resp = statusResponse(ps)
		resp.Accepted, resp.Rejected = stats.Accepted, stats.Rejected
		return resp, nil
	}
	resp.Reason = string(gate.ReasonNotConfigured)
	resp.Message = gate.ReasonNotConfigured.Message()
	return resp, nil
}

func statusResponse(ps *pinstore.PinSet) *Response {
	return &Response{
		Success:  true,
		Version:  ps.Version(),
		Hosts:    ps.Len(),
		Source:   ps.Source(),
		LoadedAt: ps.LoadedAt().UTC().Format(time.RFC3339),
	}
}

// decodeChain parses base64 DER certificates. An empty chain is passed to
// the gate, which rejects it.
func decodeChain(encoded []string) ([]*x509.Certificate, error) {
	certs := make([]*x509.Certificate, 0, len(encoded))
	for i, s := range encoded {
		der, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: chain[%d]: %w", ErrInvalidRequest, i, err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("%w: chain[%d]: %w", ErrInvalidRequest, i, err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// EncodeChain is the inverse of the chain decoding used by checkPeer.
func EncodeChain(certs []*x509.Certificate) []string {
	out := make([]string, 0, len(certs))
	for _, c := range certs {
		out = append(out, base64.StdEncoding.EncodeToString(c.Raw))
	}
	return out
}
