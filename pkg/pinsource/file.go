// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package pinsource

import (
	"context"
	"fmt"
	"os"

	"github.com/jeremyhahn/go-certpin/pkg/pinstore"
)

// FileSource reads a YAML or JSON pin document from disk on every fetch,
// so a reload picks up edits.
type FileSource struct {
	path string
}

// NewFileSource creates a source for path.
func NewFileSource(path string) (*FileSource, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: file path required", ErrInvalidConfig)
	}
	return &FileSource{path: path}, nil
}

// Name implements pinstore.Source.
func (s *FileSource) Name() string {
	return "file:" + s.path
}

// Path returns the document path.
func (s *FileSource) Path() string {
	return s.path
}

// Fetch implements pinstore.Source.
func (s *FileSource) Fetch(ctx context.Context) (*pinstore.Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	return pinstore.ParseConfig(data)
}
