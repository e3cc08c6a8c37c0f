// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-certpin/pkg/gate"
	"github.com/jeremyhahn/go-certpin/pkg/noiseproto"
	"github.com/jeremyhahn/go-certpin/pkg/noiseproto/bridge"
	"github.com/jeremyhahn/go-certpin/pkg/pinserver"
	"github.com/jeremyhahn/go-certpin/pkg/pinstore"
)

const (
	defaultKeyFile  = "certpin-noise.key"
	shutdownTimeout = 10 * time.Second
	reloadTimeout   = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the method-channel bridge",
	Long: `Load a pin document and serve the security method channel over an
encrypted Noise_NK session. Clients pin the server's Curve25519 public key,
which is logged at startup and generated on first run. The channel does not
authenticate clients, so setupSSLPinning only loads from the configured
source unless --allow-inline-config is given.

With --http-listen the loaded document is also published at GET /v1/pins
for remote pin sources. SIGHUP reloads the pin document; SIGINT and SIGTERM
shut down gracefully.`,
	RunE: runServe,
}

var (
	serveSource         sourceFlags
	serveListenAddr     string
	serveKeyFile        string
	serveMaxConnections int
	serveHTTPListen     string
	serveTLSCert        string
	serveTLSKey         string
	serveAuditDB        string
	serveAllowInline    bool
)

func init() {
	serveSource.register(serveCmd)
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", bridge.DefaultListenAddr, "bridge TCP listen address")
	serveCmd.Flags().StringVar(&serveKeyFile, "key-file", defaultKeyFile, "Noise static key file (hex, created when missing)")
	serveCmd.Flags().IntVar(&serveMaxConnections, "max-connections", bridge.DefaultMaxConnections, "maximum concurrent bridge connections")
	serveCmd.Flags().StringVar(&serveHTTPListen, "http-listen", "", "pin distribution listen address (disabled when empty)")
	serveCmd.Flags().StringVar(&serveTLSCert, "tls-cert", "", "PEM certificate for the pin distribution endpoint")
	serveCmd.Flags().StringVar(&serveTLSKey, "tls-key", "", "PEM private key for the pin distribution endpoint")
	serveCmd.Flags().StringVar(&serveAuditDB, "audit-db", "", "SQLite database that records checkPeer decisions")
	serveCmd.Flags().BoolVar(&serveAllowInline, "allow-inline-config", false,
		"let setupSSLPinning install a pin document sent by the bridge client")
}

// daemon owns everything serve starts.
type daemon struct {
	store   *pinstore.Store
	source  pinstore.Source
	bridge  *bridge.Server
	pins    *pinserver.Server
	cleanup []func()
}

func runServe(cmd *cobra.Command, args []string) error {
	d, err := startDaemon(context.Background())
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	for sig := range sigs {
		if sig == syscall.SIGHUP {
			d.reload()
			continue
		}
		slog.Info("shutdown signal received", "signal", sig.String())
		break
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.stop(ctx); err != nil {
		return err
	}
	slog.Info("server stopped")
	return nil
}

// startDaemon performs the initial load and starts the listeners. A failed
// initial load is a configuration error.
func startDaemon(ctx context.Context) (*daemon, error) {
	if (serveTLSCert == "") != (serveTLSKey == "") {
		return nil, fmt.Errorf("%w: --tls-cert and --tls-key must be given together", ErrInvalidInput)
	}

	src, release, err := serveSource.build()
	if err != nil {
		release()
		return nil, err
	}
	d := &daemon{source: src, cleanup: []func(){release}}

	d.store = pinstore.NewStore(slog.Default())
	loadCtx, cancel := context.WithTimeout(ctx, reloadTimeout)
	ps, err := d.store.Reload(loadCtx, src)
	cancel()
	if err != nil {
		d.close()
		return nil, err
	}
	slog.Info("pins loaded", "source", ps.Source(), "version", ps.Version(), "hosts", ps.Len())

	key, created, err := noiseproto.LoadOrCreateKeyFile(serveKeyFile)
	if err != nil {
		d.close()
		return nil, fmt.Errorf("%w: %w", ErrFileOperation, err)
	}
	if created {
		slog.Info("key written", "path", serveKeyFile)
	}
	slog.Info("bridge public key", "key", noiseproto.EncodePublicKey(key))

	gateCfg := &gate.Config{Store: d.store, Logger: slog.Default()}
	if serveAuditDB != "" {
		auditLog, closeAudit, err := openAuditLog(serveAuditDB)
		if err != nil {
			noiseproto.WipeDHKey(key)
			d.close()
			return nil, err
		}
		d.cleanup = append(d.cleanup, closeAudit)
		gateCfg.Recorder = auditLog
	}
	g, err := gate.New(gateCfg)
	if err != nil {
		noiseproto.WipeDHKey(key)
		d.close()
		return nil, err
	}

	handler, err := bridge.NewHandler(&bridge.HandlerConfig{
		Store:             d.store,
		Gate:              g,
		Source:            src,
		AllowInlineConfig: serveAllowInline,
		Logger:            slog.Default(),
	})
	if err != nil {
		noiseproto.WipeDHKey(key)
		d.close()
		return nil, err
	}

	d.bridge, err = bridge.NewServer(&bridge.ServerConfig{
		ListenAddr:     serveListenAddr,
		StaticKey:      key,
		Handler:        handler,
		MaxConnections: serveMaxConnections,
		Logger:         slog.Default(),
	})
	if err != nil {
		noiseproto.WipeDHKey(key)
		d.close()
		return nil, fmt.Errorf("%w: %w", ErrServerStart, err)
	}
	if err := d.bridge.Start(); err != nil {
		d.bridge = nil
		d.close()
		return nil, fmt.Errorf("%w: %w", ErrServerStart, err)
	}
	slog.Info("bridge listening", "addr", d.bridge.Addr().String(), "channel", bridge.ChannelName)
	if serveAllowInline {
		slog.Warn("bridge clients may replace the pin set with inline documents")
	}

	if serveHTTPListen != "" {
		if err := d.startPinServer(); err != nil {
			stopCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			d.stop(stopCtx)
			return nil, err
		}
	}
	return d, nil
}

func (d *daemon) startPinServer() error {
	cfg := &pinserver.Config{
		Store:      d.store,
		ListenAddr: serveHTTPListen,
		Logger:     slog.Default(),
	}
	if serveTLSCert != "" {
		cert, err := tls.LoadX509KeyPair(serveTLSCert, serveTLSKey)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrFileOperation, err)
		}
		cfg.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	} else {
		slog.Warn("pin distribution endpoint is serving plain HTTP")
	}

	srv, err := pinserver.New(cfg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrServerStart, err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("%w: %w", ErrServerStart, err)
	}
	d.pins = srv
	slog.Info("pin distribution listening", "addr", srv.Addr().String())
	return nil
}

// reload fetches a new document. A failed reload keeps the current snapshot.
func (d *daemon) reload() {
	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()
	ps, err := d.store.Reload(ctx, d.source)
	if err != nil {
		slog.Error("reload failed, keeping current pins", "error", err)
		return
	}
	slog.Info("pins reloaded", "source", ps.Source(), "version", ps.Version(), "hosts", ps.Len())
}

// stop shuts down the listeners, then releases the audit log and sources.
func (d *daemon) stop(ctx context.Context) error {
	var errs []error
	if d.pins != nil {
		if err := d.pins.Stop(ctx); err != nil && !errors.Is(err, pinserver.ErrServerNotStarted) {
			errs = append(errs, err)
		}
	}
	if d.bridge != nil {
		if err := d.bridge.Stop(ctx); err != nil && !errors.Is(err, bridge.ErrServerNotStarted) {
			errs = append(errs, err)
		}
	}
	d.close()
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrServerStart, err)
	}
	return nil
}

func (d *daemon) close() {
	for i := len(d.cleanup) - 1; i >= 0; i-- {
		d.cleanup[i]()
	}
	d.cleanup = nil
}
