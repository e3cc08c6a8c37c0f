// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-certpin/internal/testpki"
	"github.com/jeremyhahn/go-certpin/pkg/pinstore"
	"github.com/jeremyhahn/go-certpin/pkg/spkipin"
)

func TestConfigValidate_Valid(t *testing.T) {
	defer func() { configValidateFile = "" }()
	cert := testpki.NewSelfSigned(t, testHost).Cert
	doc := []byte(`version: 1
policy:
  unknown_host: allow
  match: leaf
  require_pkix: false
hosts:
  - pattern: "*.example.test"
    pins: ["` + spkipin.ComputePin(cert, spkipin.KindSPKI).String() + `"]
  - pattern: retired.example.test
    pins: []
  - pattern: ta.example.test
    pins: ["` + spkipin.ComputePin(cert, spkipin.KindSPKI).String() + `"]
    match: anchor
`)
	configValidateFile = writeFile(t, "pins.yaml", doc)

	read := captureOutput(t)
	useFormat(t, "json")
	require.NoError(t, runConfigValidate(configValidateCmd, nil))

	var summary configSummary
	require.NoError(t, json.Unmarshal([]byte(read()), &summary))
	assert.Equal(t, "allow", summary.UnknownHost)
	assert.Equal(t, "leaf", summary.Match)
	assert.False(t, summary.RequirePKIX)
	assert.ElementsMatch(t, []hostEntry{
		{Pattern: "*.example.test", Pins: 1, Match: "leaf"},
		{Pattern: "retired.example.test", Pins: 0, Match: "leaf"},
		{Pattern: "ta.example.test", Pins: 1, Match: "anchor"},
	}, summary.Hosts)
}

func TestConfigValidate_TextMarksEmptyPinSets(t *testing.T) {
	defer func() { configValidateFile = "" }()
	configValidateFile = writePinDoc(t, "retired.example.test")

	read := captureOutput(t)
	require.NoError(t, runConfigValidate(configValidateCmd, nil))
	assert.Contains(t, read(), "(always rejected)")
}

func TestConfigValidate_Invalid(t *testing.T) {
	defer func() { configValidateFile = "" }()

	tests := map[string]string{
		"unknown field":  "hosts: []\npolcy: {}\n",
		"bad pin":        "hosts:\n  - pattern: api.example.test\n    pins: [\"md5/abc\"]\n",
		"bad pattern":    "hosts:\n  - pattern: \"api.*.example.test\"\n    pins: []\n",
		"pkix off chain": "policy:\n  match: chain\n  require_pkix: false\nhosts: []\n",
		"empty document": "",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			configValidateFile = writeFile(t, "pins.yaml", []byte(doc))
			err := runConfigValidate(configValidateCmd, nil)
			require.ErrorIs(t, err, pinstore.ErrConfig)
			assert.Equal(t, ExitConfigError, exitCode(err))
		})
	}
}

func TestConfigValidate_InputErrors(t *testing.T) {
	defer func() { configValidateFile = "" }()

	configValidateFile = ""
	assert.ErrorIs(t, runConfigValidate(configValidateCmd, nil), ErrInvalidInput)

	configValidateFile = filepath.Join(t.TempDir(), "missing.yaml")
	assert.Error(t, runConfigValidate(configValidateCmd, nil))
}
