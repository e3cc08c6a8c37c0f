// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package bridge

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jeremyhahn/go-certpin/pkg/pinstore"
)

func TestErrorCode(t *testing.T) {
	assert.Equal(t, CodeNotImplemented, errorCode(fmt.Errorf("%w: x", ErrNotImplemented)))
	assert.Equal(t, CodeInvalidRequest, errorCode(ErrInvalidRequest))
	assert.Equal(t, CodeNoSource, errorCode(ErrNoSource))
	assert.Equal(t, CodeRateLimited, errorCode(ErrRateLimited))
	assert.Equal(t, CodeConfigError, errorCode(fmt.Errorf("%w: bad", pinstore.ErrConfig)))
	assert.Equal(t, CodeInternal, errorCode(errors.New("boom")))
}

func TestRemoteError_Unwrap(t *testing.T) {
	err := error(&RemoteError{Method: "x", Code: CodeNotImplemented, Message: "no"})
	assert.ErrorIs(t, err, ErrRemote)
	assert.ErrorIs(t, err, ErrNotImplemented)
	assert.Contains(t, err.Error(), CodeNotImplemented)

	err = &RemoteError{Method: "x", Code: CodeInternal}
	assert.ErrorIs(t, err, ErrRemote)
	assert.NotErrorIs(t, err, ErrNotImplemented)
}
