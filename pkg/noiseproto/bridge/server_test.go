// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package bridge

import (
	"context"
	"crypto/x509"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/flynn/noise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-certpin/internal/testpki"
	"github.com/jeremyhahn/go-certpin/pkg/gate"
	"github.com/jeremyhahn/go-certpin/pkg/noiseproto"
	"github.com/jeremyhahn/go-certpin/pkg/pinstore"
	"github.com/jeremyhahn/go-certpin/pkg/spkipin"
)

func startTestServer(t *testing.T, mutate func(*ServerConfig)) (*Server, *noise.DHKey) {
	t.Helper()
	key, err := noiseproto.GenerateStaticKey()
	require.NoError(t, err)

	handler, _ := newTestHandler(t, nil)
	cfg := &ServerConfig{
		ListenAddr:   "127.0.0.1:0",
		StaticKey:    key,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})
	return srv, key
}

func connectClient(t *testing.T, srv *Server, serverPub []byte) *Client {
	t.Helper()
	client, err := NewClient(&ClientConfig{
		ServerAddr:      srv.Addr().String(),
		ServerStaticKey: serverPub,
		ConnectTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { client.Close() })
	return client
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	handler, _ := newTestHandler(t, nil)
	_, err = NewServer(&ServerConfig{Handler: handler})
	assert.ErrorIs(t, err, noiseproto.ErrInvalidKeySize)

	key, err := noiseproto.GenerateStaticKey()
	require.NoError(t, err)
	srv, err := NewServer(&ServerConfig{Handler: handler, StaticKey: key, MaxConnections: MaxMaxConnections + 1})
	require.NoError(t, err)
	assert.Equal(t, MaxMaxConnections, srv.config.MaxConnections)
	assert.Equal(t, DefaultListenAddr, srv.config.ListenAddr)
	assert.Nil(t, srv.Addr())
}

func TestServer_StartStop(t *testing.T) {
	srv, _ := startTestServer(t, nil)
	assert.ErrorIs(t, srv.Start(), ErrServerAlreadyStarted)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	assert.ErrorIs(t, srv.Stop(ctx), ErrServerNotStarted)
}

func TestServer_MethodChannelEndToEnd(t *testing.T) {
	srv, key := startTestServer(t, nil)
	client := connectClient(t, srv, key.Public)
	ctx := context.Background()
	pki := testpki.NewHierarchy(t, "api.example.com")

	resp, err := client.PinStatus(ctx)
	require.NoError(t, err)
	assert.False(t, resp.Success)

	resp, err = client.SetupSSLPinning(ctx, []byte(pinDocument("api.example.com", spkipin.ComputeSPKIPin(pki.Leaf.Cert))))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, uint64(1), resp.Version)

	resp, err = client.CheckPeer(ctx, "api.example.com", pki.Chain())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, string(gate.ReasonPinMatched), resp.Reason)

	other := testpki.NewSelfSigned(t, "api.example.com")
	resp, err = client.CheckPeer(ctx, "api.example.com", []*x509.Certificate{other.Cert})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, string(gate.ReasonNoMatchingPin), resp.Reason)
}

func TestServer_ErrorCodes(t *testing.T) {
	srv, key := startTestServer(t, nil)
	client := connectClient(t, srv, key.Public)
	ctx := context.Background()

	resp, err := client.Call(ctx, &Request{Method: "getPlatformVersion"})
	assert.ErrorIs(t, err, ErrNotImplemented)
	assert.ErrorIs(t, err, ErrRemote)
	require.NotNil(t, resp)
	assert.Equal(t, CodeNotImplemented, resp.Error)
	assert.False(t, resp.Success)

	_, err = client.ReloadPins(ctx)
	assert.ErrorIs(t, err, ErrNoSource)

	_, err = client.SetupSSLPinning(ctx, []byte("hosts: [oops"))
	assert.ErrorIs(t, err, pinstore.ErrConfig)

	// The session survives error responses.
	_, err = client.PinStatus(ctx)
	assert.NoError(t, err)
}

func TestServer_InlineConfigRefused(t *testing.T) {
	srv, key := startTestServer(t, func(c *ServerConfig) {
		h, err := NewHandler(&HandlerConfig{Store: pinstore.NewStore(nil)})
		require.NoError(t, err)
		c.Handler = h
	})
	client := connectClient(t, srv, key.Public)
	ctx := context.Background()

	resp, err := client.SetupSSLPinning(ctx, []byte(permissiveEmptyDocument))
	assert.ErrorIs(t, err, ErrInlineConfigDisabled)
	assert.ErrorIs(t, err, ErrRemote)
	require.NotNil(t, resp)
	assert.Equal(t, CodePermission, resp.Error)

	resp, err = client.PinStatus(ctx)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, string(gate.ReasonNotConfigured), resp.Reason)
}

func TestServer_WrongServerKeyRejected(t *testing.T) {
	srv, _ := startTestServer(t, nil)
	impostor, err := noiseproto.GenerateStaticKey()
	require.NoError(t, err)

	client, err := NewClient(&ClientConfig{
		ServerAddr:      srv.Addr().String(),
		ServerStaticKey: impostor.Public,
		ConnectTimeout:  2 * time.Second,
	})
	require.NoError(t, err)
	defer client.Close()

	assert.ErrorIs(t, client.Connect(context.Background()), ErrHandshakeFailed)
}

func TestServer_ConcurrentClients(t *testing.T) {
	srv, key := startTestServer(t, func(c *ServerConfig) { c.RateBurst = 100 })
	pki := testpki.NewHierarchy(t, "api.example.com")

	setup := connectClient(t, srv, key.Public)
	_, err := setup.SetupSSLPinning(context.Background(), []byte(pinDocument("api.example.com", spkipin.ComputeSPKIPin(pki.Root.Cert))))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client, err := NewClient(&ClientConfig{ServerAddr: srv.Addr().String(), ServerStaticKey: key.Public})
			if !assert.NoError(t, err) {
				return
			}
			defer client.Close()
			if !assert.NoError(t, client.Connect(context.Background())) {
				return
			}
			resp, err := client.CheckPeer(context.Background(), "api.example.com", pki.Chain())
			if assert.NoError(t, err) {
				assert.True(t, resp.Success)
			}
		}()
	}
	wg.Wait()
}

func TestServer_MaxConnections(t *testing.T) {
	srv, key := startTestServer(t, func(c *ServerConfig) { c.MaxConnections = 1 })
	first := connectClient(t, srv, key.Public)

	assert.Eventually(t, func() bool { return srv.ActiveConnections() == 1 }, 2*time.Second, 10*time.Millisecond)

	second, err := NewClient(&ClientConfig{
		ServerAddr:      srv.Addr().String(),
		ServerStaticKey: key.Public,
		ConnectTimeout:  2 * time.Second,
	})
	require.NoError(t, err)
	defer second.Close()
	assert.Error(t, second.Connect(context.Background()))

	_, err = first.PinStatus(context.Background())
	assert.NoError(t, err)
}

func TestServer_RateLimitedConnections(t *testing.T) {
	srv, key := startTestServer(t, func(c *ServerConfig) {
		c.RateLimit = 0.001
		c.RateBurst = 2
	})
	client := connectClient(t, srv, key.Public)

	// The connection took one token, this call takes the second.
	_, err := client.PinStatus(context.Background())
	require.NoError(t, err)

	_, err = client.PinStatus(context.Background())
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestServer_GarbageHandshakeDropsConnection(t *testing.T) {
	srv, _ := startTestServer(t, nil)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, writeFrame(conn, []byte("not a noise message"), time.Now().Add(time.Second)))
	_, err = readFrame(conn, time.Now().Add(2*time.Second))
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestClient_Validation(t *testing.T) {
	_, err := NewClient(nil)
	assert.ErrorIs(t, err, noiseproto.ErrInvalidKeySize)

	_, err = NewClient(&ClientConfig{ServerStaticKey: make([]byte, noiseproto.KeySize)})
	assert.ErrorIs(t, err, ErrConnectionFailed)

	client, err := NewClient(&ClientConfig{ServerAddr: "127.0.0.1:1", ServerStaticKey: make([]byte, noiseproto.KeySize)})
	require.NoError(t, err)
	_, err = client.PinStatus(context.Background())
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.NoError(t, client.Close())
}
