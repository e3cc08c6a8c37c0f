// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-certpin/pkg/pinstore"
)

// captureOutput redirects writeOutput to a temp file for the duration of
// the test and returns a function reading what was written.
func captureOutput(t *testing.T) func() string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out")
	outputFile = path
	t.Cleanup(func() { outputFile = "" })
	return func() string {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		return string(data)
	}
}

// useFormat sets --format for the duration of the test.
func useFormat(t *testing.T, f string) {
	t.Helper()
	format = f
	t.Cleanup(func() { format = "text" })
}

// writePinDoc writes a single-host pin document and returns its path.
func writePinDoc(t *testing.T, host string, pins ...string) string {
	t.Helper()
	data, err := pinstore.MarshalConfig(&pinstore.Config{
		Version: pinstore.CurrentVersion,
		Hosts:   []pinstore.HostConfig{{Pattern: host, Pins: pins}},
	})
	require.NoError(t, err)
	return writeFile(t, "pins.yaml", data)
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}
