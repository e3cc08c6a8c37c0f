// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-certpin/internal/testpki"
	"github.com/jeremyhahn/go-certpin/pkg/audit"
	"github.com/jeremyhahn/go-certpin/pkg/gate"
	"github.com/jeremyhahn/go-certpin/pkg/noiseproto"
	"github.com/jeremyhahn/go-certpin/pkg/noiseproto/bridge"
	"github.com/jeremyhahn/go-certpin/pkg/pinstore"
	"github.com/jeremyhahn/go-certpin/pkg/spkipin"
)

func resetServeFlags(t *testing.T) {
	t.Helper()
	serveListenAddr = "127.0.0.1:0"
	serveKeyFile = filepath.Join(t.TempDir(), "keys", "bridge.key")
	t.Cleanup(func() {
		serveSource = sourceFlags{unknown: "deny"}
		serveListenAddr = bridge.DefaultListenAddr
		serveKeyFile = defaultKeyFile
		serveMaxConnections = bridge.DefaultMaxConnections
		serveHTTPListen, serveTLSCert, serveTLSKey, serveAuditDB = "", "", "", ""
		serveAllowInline = false
	})
}

func stopDaemon(t *testing.T, d *daemon) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.stop(ctx))
}

// bridgeClient connects to the daemon using the public half of the key file.
func bridgeClient(t *testing.T, d *daemon) *bridge.Client {
	t.Helper()
	data, err := os.ReadFile(serveKeyFile)
	require.NoError(t, err)
	key, err := noiseproto.DecodeStaticKey(string(data))
	require.NoError(t, err)

	client, err := bridge.NewClient(&bridge.ClientConfig{
		ServerAddr:      d.bridge.Addr().String(),
		ServerStaticKey: key.Public,
		ConnectTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	t.Cleanup(func() { client.Close() })
	return client
}

func TestServe_BridgeAndReload(t *testing.T) {
	resetServeFlags(t)
	leaf := testpki.NewSelfSigned(t, testHost).Cert
	serveSource.configFile = writePinDoc(t, testHost, spkipin.ComputePin(leaf, spkipin.KindSPKI).String())
	serveAuditDB = filepath.Join(t.TempDir(), "audit.db")

	d, err := startDaemon(context.Background())
	require.NoError(t, err)

	info, err := os.Stat(serveKeyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	client := bridgeClient(t, d)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := client.PinStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.Success)
	assert.Equal(t, 1, status.Hosts)
	first := status.Version

	resp, err := client.CheckPeer(ctx, testHost, []*x509.Certificate{leaf})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, string(gate.ReasonPinMatched), resp.Reason)

	// An edited document is picked up on reload; a broken one is ignored.
	other := testpki.NewSelfSigned(t, "other.example.test").Cert
	doc, err := pinstore.MarshalConfig(&pinstore.Config{Hosts: []pinstore.HostConfig{
		{Pattern: testHost, Pins: []string{spkipin.ComputePin(leaf, spkipin.KindSPKI).String()}},
		{Pattern: "other.example.test", Pins: []string{spkipin.ComputePin(other, spkipin.KindSPKI).String()}},
	}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(serveSource.configFile, doc, 0600))
	d.reload()
	assert.Equal(t, 2, d.store.Snapshot().Len())
	assert.Greater(t, d.store.Snapshot().Version(), first)

	require.NoError(t, os.WriteFile(serveSource.configFile, []byte("hosts: [\n"), 0600))
	d.reload()
	assert.Equal(t, 2, d.store.Snapshot().Len())

	client.Close()
	stopDaemon(t, d)

	st, err := audit.Open(serveAuditDB)
	require.NoError(t, err)
	defer st.Close()
	n, err := st.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestServe_ReusesKeyFile(t *testing.T) {
	resetServeFlags(t)
	serveSource.configFile = writePinDoc(t, testHost)

	key, err := noiseproto.GenerateStaticKey()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(serveKeyFile), 0700))
	require.NoError(t, os.WriteFile(serveKeyFile, []byte(noiseproto.EncodeStaticKey(key)+"\n"), 0600))

	d, err := startDaemon(context.Background())
	require.NoError(t, err)
	defer stopDaemon(t, d)

	client, err := bridge.NewClient(&bridge.ClientConfig{
		ServerAddr:      d.bridge.Addr().String(),
		ServerStaticKey: key.Public,
		ConnectTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
}

func TestServe_PinDistribution(t *testing.T) {
	resetServeFlags(t)
	h := testpki.NewHierarchy(t, testHost)
	serveSource.configFile = writePinDoc(t, testHost, spkipin.ComputePin(h.Leaf.Cert, spkipin.KindSPKI).String())
	serveHTTPListen = "127.0.0.1:0"
	serveTLSCert = writeFile(t, "tls.pem", testpki.EncodePEM(h.Leaf.Cert, h.Intermediate.Cert))
	serveTLSKey = writeFile(t, "tls.key", testpki.EncodeKeyPEM(t, h.Leaf.Key))

	d, err := startDaemon(context.Background())
	require.NoError(t, err)
	defer stopDaemon(t, d)

	client := &http.Client{
		Timeout:   5 * time.Second,
		Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: h.RootPool()}},
	}
	resp, err := client.Get("https://" + d.pins.Addr().String() + spkipin.PinDocumentPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("ETag"))
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "application/yaml"))
}

func TestServe_InitialLoadFailure(t *testing.T) {
	resetServeFlags(t)
	serveSource.configFile = writeFile(t, "pins.yaml", []byte("hosts:\n  - pattern: \"*\"\n    pins: []\n"))

	_, err := startDaemon(context.Background())
	require.ErrorIs(t, err, pinstore.ErrConfig)
	assert.Equal(t, ExitConfigError, exitCode(err))
}

func TestServe_InputErrors(t *testing.T) {
	resetServeFlags(t)

	_, err := startDaemon(context.Background())
	assert.ErrorIs(t, err, ErrInvalidInput)

	serveSource.configFile = writePinDoc(t, testHost)
	serveTLSCert = "cert.pem"
	_, err = startDaemon(context.Background())
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestServe_ListenFailure(t *testing.T) {
	resetServeFlags(t)
	serveSource.configFile = writePinDoc(t, testHost)

	first, err := startDaemon(context.Background())
	require.NoError(t, err)
	defer stopDaemon(t, first)

	serveListenAddr = first.bridge.Addr().String()
	_, err = startDaemon(context.Background())
	assert.ErrorIs(t, err, ErrServerStart)
}
