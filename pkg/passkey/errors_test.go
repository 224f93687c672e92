// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package passkey

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorWrapping(t *testing.T) {
	err := NewError("consume challenge", ErrChallengeExpired)

	assert.ErrorIs(t, err, ErrChallengeExpired)
	assert.Contains(t, err.Error(), "consume challenge")

	var opErr *Error
	assert.True(t, errors.As(err, &opErr))
	assert.Equal(t, "consume challenge", opErr.Op)
}

func TestWrapErrorPreservesChain(t *testing.T) {
	inner := fmt.Errorf("row scan: %w", ErrCredentialNotFound)
	err := WrapError("find credential", inner)

	assert.ErrorIs(t, err, ErrCredentialNotFound)
	assert.Equal(t, inner, errors.Unwrap(err))
}

func TestErrorPredicates(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		predicate func(error) bool
	}{
		{"user not found", WrapError("x", ErrUserNotFound), IsUserNotFound},
		{"credential not found", WrapError("x", ErrCredentialNotFound), IsCredentialNotFound},
		{"challenge expired", WrapError("x", ErrChallengeExpired), IsChallengeExpired},
		{"replay detected", WrapError("x", ErrReplayDetected), IsReplayDetected},
		{"user conflict", WrapError("x", ErrUserAlreadyExists), IsConflict},
		{"credential conflict", WrapError("x", ErrCredentialAlreadyExists), IsConflict},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, tc.predicate(tc.err))
			assert.False(t, tc.predicate(errors.New("unrelated")))
			assert.False(t, tc.predicate(nil))
		})
	}
}

func TestPredicatesDistinguishSentinels(t *testing.T) {
	assert.False(t, IsUserNotFound(ErrCredentialNotFound))
	assert.False(t, IsCredentialNotFound(ErrUserNotFound))
	assert.False(t, IsConflict(ErrUserNotFound))
	assert.False(t, IsReplayDetected(ErrAssertionFailed))
}
