// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package pinsource

import (
	"context"
	"fmt"

	"github.com/jeremyhahn/go-certpin/pkg/pinstore"
)

// EmbeddedSource serves a document compiled into the binary, typically
// with go:embed. It is the usual last entry of an AutoSource so that an
// application shipped with pins keeps them when every network source is
// unreachable.
type EmbeddedSource struct {
	name string
	data []byte
}

// NewEmbeddedSource creates a source for document. name labels it in logs
// and defaults to "embedded".
func NewEmbeddedSource(name string, document []byte) (*EmbeddedSource, error) {
	if len(document) == 0 {
		return nil, fmt.Errorf("%w: empty embedded document", ErrInvalidConfig)
	}
	if name == "" {
		name = "embedded"
	}
	data := make([]byte, len(document))
	copy(data, document)
	return &EmbeddedSource{name: name, data: data}, nil
}

// Name implements pinstore.Source.
func (s *EmbeddedSource) Name() string {
	return s.name
}

// Fetch implements pinstore.Source.
func (s *EmbeddedSource) Fetch(context.Context) (*pinstore.Config, error) {
	return pinstore.ParseConfig(s.data)
}
