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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionEstablishResolveRoundtrip(t *testing.T) {
	mgr, err := NewJWTSessionManager([]byte("secret"), "test-issuer", time.Hour)
	require.NoError(t, err)

	user := &User{ID: 42, Email: "user@example.com"}
	loginAt := time.Now().UTC().Truncate(time.Second)

	session, err := mgr.Establish(context.Background(), user, loginAt)
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, int64(42), session.UserID)
	assert.Equal(t, "user@example.com", session.Email)
	assert.Equal(t, loginAt.Add(time.Hour), session.ExpiresAt)

	resolved, err := mgr.Resolve(context.Background(), session.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), resolved.UserID)
	assert.Equal(t, "user@example.com", resolved.Email)
	assert.Equal(t, loginAt.Unix(), resolved.LoginAt.Unix())
	assert.Equal(t, session.ExpiresAt.Unix(), resolved.ExpiresAt.Unix())
}

func TestSessionResolveExpired(t *testing.T) {
	mgr, err := NewJWTSessionManager([]byte("secret"), "test-issuer", time.Hour)
	require.NoError(t, err)

	user := &User{ID: 1, Email: "user@example.com"}
	session, err := mgr.Establish(context.Background(), user, time.Now())
	require.NoError(t, err)

	// Advance the verification clock past expiry
	mgr.clock = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err = mgr.Resolve(context.Background(), session.Token)
	assert.Error(t, err)
}

func TestSessionResolveWrongKey(t *testing.T) {
	minter, err := NewJWTSessionManager([]byte("key-a"), "test-issuer", time.Hour)
	require.NoError(t, err)
	verifier, err := NewJWTSessionManager([]byte("key-b"), "test-issuer", time.Hour)
	require.NoError(t, err)

	session, err := minter.Establish(context.Background(), &User{ID: 1, Email: "u@example.com"}, time.Now())
	require.NoError(t, err)

	_, err = verifier.Resolve(context.Background(), session.Token)
	assert.Error(t, err)
}

func TestSessionResolveWrongIssuer(t *testing.T) {
	minter, err := NewJWTSessionManager([]byte("secret"), "issuer-a", time.Hour)
	require.NoError(t, err)
	verifier, err := NewJWTSessionManager([]byte("secret"), "issuer-b", time.Hour)
	require.NoError(t, err)

	session, err := minter.Establish(context.Background(), &User{ID: 1, Email: "u@example.com"}, time.Now())
	require.NoError(t, err)

	_, err = verifier.Resolve(context.Background(), session.Token)
	assert.Error(t, err)
}

func TestSessionResolveGarbage(t *testing.T) {
	mgr, err := NewJWTSessionManager([]byte("secret"), "test-issuer", time.Hour)
	require.NoError(t, err)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := mgr.Resolve(context.Background(), token)
		assert.Error(t, err, "token %q", token)
	}
}

func TestSessionEphemeralKeyWhenUnconfigured(t *testing.T) {
	mgr, err := NewJWTSessionManager(nil, "", 0)
	require.NoError(t, err)

	session, err := mgr.Establish(context.Background(), &User{ID: 1, Email: "u@example.com"}, time.Now())
	require.NoError(t, err)

	// Defaults applied: issuer and TTL
	resolved, err := mgr.Resolve(context.Background(), session.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(1), resolved.UserID)

	// A second manager has a different ephemeral key
	other, err := NewJWTSessionManager(nil, "", 0)
	require.NoError(t, err)
	_, err = other.Resolve(context.Background(), session.Token)
	assert.Error(t, err)
}

func TestSessionEstablishRequiresUser(t *testing.T) {
	mgr, err := NewJWTSessionManager([]byte("secret"), "test-issuer", time.Hour)
	require.NoError(t, err)

	_, err = mgr.Establish(context.Background(), nil, time.Now())
	assert.Error(t, err)
}
