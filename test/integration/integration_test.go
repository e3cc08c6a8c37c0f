// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

//go:build integration

package integration

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-certpin/internal/dnstest"
	"github.com/jeremyhahn/go-certpin/internal/testpki"
	"github.com/jeremyhahn/go-certpin/pkg/dane"
	"github.com/jeremyhahn/go-certpin/pkg/noiseproto"
	"github.com/jeremyhahn/go-certpin/pkg/noiseproto/bridge"
	"github.com/jeremyhahn/go-certpin/pkg/pinstore"
	"github.com/jeremyhahn/go-certpin/pkg/spkipin"
)

const testHost = "api.example.test"

// Global state populated by TestMain.
var (
	projectRoot string
	cliBinary   string
)

// TestMain builds the CLI once into a temporary directory.
func TestMain(m *testing.M) {
	var err error

	projectRoot, err = findProjectRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}

	binDir, err := os.MkdirTemp("", "certpin-integration-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	cliBinary = filepath.Join(binDir, "certpin")

	fmt.Println("==> Building CLI binary...")
	build := exec.Command("go", "build", "-o", cliBinary, "./cmd/certpin")
	build.Dir = projectRoot
	build.Stdout = os.Stdout
	build.Stderr = os.Stderr
	if err := build.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: go build failed: %v\n", err)
		os.RemoveAll(binDir)
		os.Exit(1)
	}

	code := m.Run()
	os.RemoveAll(binDir)
	os.Exit(code)
}

// ---------------------------------------------------------------------------
// CLI: version
// ---------------------------------------------------------------------------

func TestVersion(t *testing.T) {
	stdout := runCLIMustSucceed(t, "version")
	assert.True(t, strings.HasPrefix(stdout, "certpin version "), stdout)
}

// ---------------------------------------------------------------------------
// CLI: pin show, config validate
// ---------------------------------------------------------------------------

func TestPinShowFeedsConfigValidate(t *testing.T) {
	dir := t.TempDir()
	leaf := testpki.NewSelfSigned(t, testHost).Cert
	certFile := writeFile(t, dir, "leaf.pem", testpki.EncodePEM(leaf))

	stdout := runCLIMustSucceed(t, "--format", "json", "pin", "show", "--cert-file", certFile)
	var infos []struct {
		Pin string `json:"pin"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, spkipin.ComputePin(leaf, spkipin.KindSPKI).String(), infos[0].Pin)

	doc := writePinDoc(t, dir, testHost, infos[0].Pin)
	stdout = runCLIMustSucceed(t, "config", "validate", "--config", doc)
	assert.Contains(t, stdout, "Valid pin document")
}

func TestConfigValidateExitCode(t *testing.T) {
	doc := writeFile(t, t.TempDir(), "bad.yaml", []byte("hosts:\n  - pattern: api.example.test\n    pins: [\"sha1/abc\"]\n"))
	_, _, err := runCLI(t, "config", "validate", "--config", doc)
	assert.Equal(t, 2, exitCode(t, err))
}

// ---------------------------------------------------------------------------
// CLI: pin check
// ---------------------------------------------------------------------------

func TestPinCheckExitCodes(t *testing.T) {
	dir := t.TempDir()
	h := testpki.NewHierarchy(t, testHost)
	addr := startTLSServer(t, h)
	roots := writeFile(t, dir, "roots.pem", testpki.EncodePEM(h.Root.Cert))

	good := writePinDoc(t, dir, testHost, spkipin.ComputePin(h.Intermediate.Cert, spkipin.KindSPKI).String())
	stdout := runCLIMustSucceed(t, "pin", "check", "--config", good, "--host", testHost, "--addr", addr, "--ca-file", roots)
	assert.Contains(t, stdout, "ACCEPTED")

	other := testpki.NewSelfSigned(t, testHost).Cert
	bad := writePinDoc(t, dir, testHost, spkipin.ComputePin(other, spkipin.KindSPKI).String())
	stdout, _, err := runCLI(t, "pin", "check", "--config", bad, "--host", testHost, "--addr", addr, "--ca-file", roots)
	assert.Equal(t, 1, exitCode(t, err))
	assert.Contains(t, stdout, "REJECTED")
}

// ---------------------------------------------------------------------------
// CLI: dane pins
// ---------------------------------------------------------------------------

func TestDANEPins(t *testing.T) {
	leaf := testpki.NewSelfSigned(t, testHost).Cert
	data, err := dane.ComputeTLSAData(leaf, dane.SelectorSPKI, dane.MatchingSHA256)
	require.NoError(t, err)

	srv := dnstest.Start(t, dnstest.Zone{
		"_443._tcp." + testHost + ".": {{
			Usage: dane.UsageDANEEE, Selector: dane.SelectorSPKI, MatchingType: dane.MatchingSHA256,
			Certificate: hex.EncodeToString(data),
		}},
	})

	stdout := runCLIMustSucceed(t, "dane", "pins", "--hostname", testHost, "--dns-server", srv.Addr)
	assert.Contains(t, stdout, spkipin.ComputePin(leaf, spkipin.KindSPKI).String())

	srv.SetRcode(dns.RcodeServerFailure)
	_, _, err = runCLI(t, "dane", "pins", "--hostname", testHost, "--dns-server", srv.Addr)
	assert.Equal(t, 1, exitCode(t, err))
}

// ---------------------------------------------------------------------------
// CLI: serve, remote pin source, bridge, SIGHUP reload
// ---------------------------------------------------------------------------

func TestServeRemoteSourceAndBridge(t *testing.T) {
	dir := t.TempDir()

	// The pin distribution endpoint and the checked peer use separate PKIs.
	dist := testpki.NewHierarchy(t, testHost)
	distCert := writeFile(t, dir, "dist.pem", testpki.EncodePEM(dist.Leaf.Cert, dist.Intermediate.Cert))
	distKey := writeFile(t, dir, "dist.key", testpki.EncodeKeyPEM(t, dist.Leaf.Key))

	peer := testpki.NewHierarchy(t, testHost)
	peerAddr := startTLSServer(t, peer)
	roots := writeFile(t, dir, "roots.pem", testpki.EncodePEM(peer.Root.Cert))

	doc := writePinDoc(t, dir, testHost, spkipin.ComputePin(peer.Leaf.Cert, spkipin.KindSPKI).String())
	srv := startServe(t, "--config", doc,
		"--key-file", filepath.Join(dir, "bridge.key"),
		"--http-listen", "127.0.0.1:0",
		"--tls-cert", distCert,
		"--tls-key", distKey,
	)

	distPin := spkipin.ComputePin(dist.Leaf.Cert, spkipin.KindSPKI).String()
	stdout := runCLIMustSucceed(t, "pin", "check",
		"--remote-url", "https://"+srv.httpAddr,
		"--remote-pin", distPin,
		"--host", testHost, "--addr", peerAddr, "--ca-file", roots)
	assert.Contains(t, stdout, "ACCEPTED")

	client := connectBridge(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := client.CheckPeer(ctx, testHost, []*x509.Certificate{peer.Leaf.Cert})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	status, err := client.PinStatus(ctx)
	require.NoError(t, err)
	first := status.Version

	// Empty the pin list and reload; the host becomes covered but rejected.
	writePinDoc(t, dir, testHost)
	require.NoError(t, srv.cmd.Process.Signal(syscall.SIGHUP))
	require.Eventually(t, func() bool {
		s, err := client.PinStatus(ctx)
		return err == nil && s.Version > first
	}, 10*time.Second, 100*time.Millisecond)

	resp, err = client.CheckPeer(ctx, testHost, []*x509.Certificate{peer.Leaf.Cert})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "empty_pin_set", resp.Reason)

	client.Close()
	require.NoError(t, srv.cmd.Process.Signal(syscall.SIGTERM))
	require.NoError(t, srv.wait(10*time.Second))
}

func TestServeInvalidDocumentExitCode(t *testing.T) {
	dir := t.TempDir()
	doc := writeFile(t, dir, "bad.yaml", []byte("policy:\n  unknown_host: maybe\nhosts: []\n"))
	_, _, err := runCLI(t, "serve", "--config", doc, "--listen", "127.0.0.1:0", "--key-file", filepath.Join(dir, "k"))
	assert.Equal(t, 2, exitCode(t, err))
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// runCLI executes the CLI binary with the given arguments and returns stdout,
// stderr, and any error.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Logf("CLI: %s %s", cliBinary, strings.Join(args, " "))

	cmd := exec.Command(cliBinary, args...)
	cmd.Dir = projectRoot

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	stderrStr := stderr.String()
	if stderrStr != "" {
		t.Logf("stderr:\n%s", stderrStr)
	}

	return stdout.String(), stderrStr, err
}

// runCLIMustSucceed executes the CLI and fails the test if it returns an error.
func runCLIMustSucceed(t *testing.T, args ...string) string {
	t.Helper()
	stdout, stderr, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("CLI command failed: %v\nstdout: %s\nstderr: %s", err, stdout, stderr)
	}
	return stdout
}

// exitCode returns the process exit status carried by err.
func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "unexpected error: %v", err)
	return exitErr.ExitCode()
}

// serveProcess is a running "certpin serve".
type serveProcess struct {
	cmd        *exec.Cmd
	publicKey  string
	bridgeAddr string
	httpAddr   string
	done       chan error
}

func (p *serveProcess) wait(timeout time.Duration) error {
	select {
	case err := <-p.done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("serve did not exit after %v", timeout)
	}
}

// startServe runs "certpin serve" on a loopback port and waits until every
// requested listener has logged its address.
func startServe(t *testing.T, args ...string) *serveProcess {
	t.Helper()

	args = append([]string{"serve", "--listen", "127.0.0.1:0"}, args...)
	cmd := exec.Command(cliBinary, args...)
	cmd.Dir = projectRoot

	stderrPipe, err := cmd.StderrPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())

	p := &serveProcess{cmd: cmd, done: make(chan error, 1)}
	wantHTTP := false
	for _, a := range args {
		if a == "--http-listen" {
			wantHTTP = true
		}
	}

	lines := make(chan string, 64)
	go func() {
		scanner := bufio.NewScanner(stderrPipe)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
		p.done <- cmd.Wait()
	}()
	t.Cleanup(func() {
		cmd.Process.Kill() //nolint:errcheck
	})

	// slog output: time=... level=INFO msg="bridge public key" key=<hex>
	//              time=... level=INFO msg="bridge listening" addr=<addr> ...
	deadline := time.After(15 * time.Second)
	for p.publicKey == "" || p.bridgeAddr == "" || (wantHTTP && p.httpAddr == "") {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for serve to be ready")
		case line, ok := <-lines:
			if !ok {
				t.Fatal("serve stderr ended unexpectedly")
			}
			t.Logf("serve stderr: %s", line)
			switch {
			case strings.Contains(line, `msg="bridge public key"`):
				p.publicKey = extractSlogValue(line, "key")
			case strings.Contains(line, `msg="bridge listening"`):
				p.bridgeAddr = extractSlogValue(line, "addr")
			case strings.Contains(line, `msg="pin distribution listening"`):
				p.httpAddr = extractSlogValue(line, "addr")
			}
		}
	}

	// Keep draining so the server never blocks on a full pipe.
	go func() {
		for range lines {
		}
	}()

	require.NoError(t, waitForPort(p.bridgeAddr, 5*time.Second))
	return p
}

func connectBridge(t *testing.T, p *serveProcess) *bridge.Client {
	t.Helper()
	pub, err := noiseproto.ParsePublicKey(p.publicKey)
	require.NoError(t, err)

	client, err := bridge.NewClient(&bridge.ClientConfig{
		ServerAddr:      p.bridgeAddr,
		ServerStaticKey: pub,
		ConnectTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	t.Cleanup(func() { client.Close() })
	return client
}

// startTLSServer serves the hierarchy's leaf and intermediate on loopback.
func startTLSServer(t *testing.T, h *testpki.Hierarchy) string {
	t.Helper()
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	srv.TLS = &tls.Config{Certificates: []tls.Certificate{h.TLSCertificate()}}
	srv.StartTLS()
	t.Cleanup(srv.Close)
	return srv.Listener.Addr().String()
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

// writePinDoc writes dir/pins.yaml pinning host and returns its path.
func writePinDoc(t *testing.T, dir, host string, pins ...string) string {
	t.Helper()
	data, err := pinstore.MarshalConfig(&pinstore.Config{
		Version: pinstore.CurrentVersion,
		Hosts:   []pinstore.HostConfig{{Pattern: host, Pins: pins}},
	})
	require.NoError(t, err)
	return writeFile(t, dir, "pins.yaml", data)
}

// waitForPort polls a TCP address until a connection is accepted or timeout.
func waitForPort(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("port %s not ready after %v", addr, timeout)
}

// extractSlogValue extracts the value for a given key from a slog text-format
// log line. Handles both quoted ("value with spaces") and unquoted values.
func extractSlogValue(line, key string) string {
	needle := " " + key + "="
	idx := strings.Index(line, needle)
	if idx < 0 {
		return ""
	}
	rest := line[idx+len(needle):]
	if len(rest) == 0 {
		return ""
	}
	if rest[0] == '"' {
		end := strings.Index(rest[1:], `"`)
		if end >= 0 {
			return rest[1 : end+1]
		}
		return strings.TrimSpace(rest[1:])
	}
	if sp := strings.IndexByte(rest, ' '); sp >= 0 {
		return rest[:sp]
	}
	return strings.TrimSpace(rest)
}

// findProjectRoot walks up from the current directory to find go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("could not find go.mod in any parent directory")
		}
		dir = parent
	}
}
