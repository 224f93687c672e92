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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryChallengeStoreIssueConsume(t *testing.T) {
	store := NewMemoryChallengeStore()
	ctx := context.Background()

	require.NoError(t, store.Issue(ctx, "attempt-1", "challenge-value", time.Minute))

	value, err := store.Consume(ctx, "attempt-1")
	require.NoError(t, err)
	assert.Equal(t, "challenge-value", value)

	// Second consume fails: the entry is gone
	_, err = store.Consume(ctx, "attempt-1")
	assert.ErrorIs(t, err, ErrChallengeExpired)
}

func TestMemoryChallengeStoreUnknownAttempt(t *testing.T) {
	store := NewMemoryChallengeStore()

	_, err := store.Consume(context.Background(), "never-issued")
	assert.ErrorIs(t, err, ErrChallengeExpired)
}

func TestMemoryChallengeStoreExpiry(t *testing.T) {
	store := NewMemoryChallengeStore()
	ctx := context.Background()

	now := time.Now()
	store.clock = func() time.Time { return now }

	require.NoError(t, store.Issue(ctx, "attempt-1", "value", time.Minute))

	// Advance past the TTL
	store.clock = func() time.Time { return now.Add(2 * time.Minute) }

	_, err := store.Consume(ctx, "attempt-1")
	assert.ErrorIs(t, err, ErrChallengeExpired)

	// The expired entry was deleted on consume, not left behind
	assert.Equal(t, 0, store.Count())
}

func TestMemoryChallengeStoreReissueOverwrites(t *testing.T) {
	store := NewMemoryChallengeStore()
	ctx := context.Background()

	require.NoError(t, store.Issue(ctx, "attempt-1", "first", time.Minute))
	require.NoError(t, store.Issue(ctx, "attempt-1", "second", time.Minute))

	value, err := store.Consume(ctx, "attempt-1")
	require.NoError(t, err)
	assert.Equal(t, "second", value)
	assert.Equal(t, 0, store.Count())
}

func TestMemoryChallengeStoreConcurrentConsume(t *testing.T) {
	store := NewMemoryChallengeStore()
	ctx := context.Background()

	require.NoError(t, store.Issue(ctx, "attempt-1", "value", time.Minute))

	const workers = 32
	var successes atomic.Int32
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, err := store.Consume(ctx, "attempt-1"); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load(), "exactly one consumer must win")
}

func TestMemoryChallengeStoreCleanup(t *testing.T) {
	store := NewMemoryChallengeStore()
	ctx := context.Background()

	now := time.Now()
	store.clock = func() time.Time { return now }

	require.NoError(t, store.Issue(ctx, "short", "v", time.Second))
	require.NoError(t, store.Issue(ctx, "long", "v", time.Hour))

	store.clock = func() time.Time { return now.Add(time.Minute) }

	assert.Equal(t, 1, store.Cleanup())
	assert.Equal(t, 1, store.Count())

	// The surviving entry is still consumable
	_, err := store.Consume(ctx, "long")
	assert.NoError(t, err)
}

func TestMemoryUserDirectoryCreateAndFind(t *testing.T) {
	dir := NewMemoryUserDirectory()
	ctx := context.Background()

	user, err := dir.Create(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.ID)
	assert.Equal(t, "user@example.com", user.Email)
	assert.False(t, user.CreatedAt.IsZero())

	byEmail, err := dir.FindByEmail(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	byID, err := dir.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", byID.Email)
}

func TestMemoryUserDirectoryDuplicateEmail(t *testing.T) {
	dir := NewMemoryUserDirectory()
	ctx := context.Background()

	_, err := dir.Create(ctx, "user@example.com")
	require.NoError(t, err)

	_, err = dir.Create(ctx, "user@example.com")
	assert.ErrorIs(t, err, ErrUserAlreadyExists)
	assert.Equal(t, 1, dir.Count())
}

func TestMemoryUserDirectoryNotFound(t *testing.T) {
	dir := NewMemoryUserDirectory()
	ctx := context.Background()

	_, err := dir.FindByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = dir.FindByID(ctx, 42)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMemoryUserDirectoryReturnsClones(t *testing.T) {
	dir := NewMemoryUserDirectory()
	ctx := context.Background()

	user, err := dir.Create(ctx, "user@example.com")
	require.NoError(t, err)

	user.Email = "mutated@example.com"

	stored, err := dir.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", stored.Email)
}

func TestMemoryCredentialRegistrySaveAndFind(t *testing.T) {
	reg := NewMemoryCredentialRegistry()
	ctx := context.Background()

	cred := &Credential{
		ID:         "cred-1",
		UserID:     1,
		PublicKey:  []byte("pk"),
		Counter:    5,
		Transports: []string{"usb"},
	}
	require.NoError(t, reg.Save(ctx, cred))

	found, err := reg.FindByID(ctx, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), found.UserID)
	assert.Equal(t, uint32(5), found.Counter)
}

func TestMemoryCredentialRegistryDuplicateID(t *testing.T) {
	reg := NewMemoryCredentialRegistry()
	ctx := context.Background()

	require.NoError(t, reg.Save(ctx, &Credential{ID: "cred-1", UserID: 1}))

	// Same ID under a different user still collides: IDs are globally unique
	err := reg.Save(ctx, &Credential{ID: "cred-1", UserID: 2})
	assert.ErrorIs(t, err, ErrCredentialAlreadyExists)
	assert.Equal(t, 1, reg.Count())
}

func TestMemoryCredentialRegistryFindAllByUserID(t *testing.T) {
	reg := NewMemoryCredentialRegistry()
	ctx := context.Background()

	require.NoError(t, reg.Save(ctx, &Credential{ID: "a", UserID: 1}))
	require.NoError(t, reg.Save(ctx, &Credential{ID: "b", UserID: 1}))
	require.NoError(t, reg.Save(ctx, &Credential{ID: "c", UserID: 2}))

	creds, err := reg.FindAllByUserID(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, creds, 2)

	creds, err = reg.FindAllByUserID(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, creds)
}

func TestMemoryCredentialRegistryUpdateCounter(t *testing.T) {
	reg := NewMemoryCredentialRegistry()
	ctx := context.Background()

	require.NoError(t, reg.Save(ctx, &Credential{ID: "cred-1", UserID: 1, Counter: 5}))
	require.NoError(t, reg.UpdateCounter(ctx, "cred-1", 6))

	cred, err := reg.FindByID(ctx, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, uint32(6), cred.Counter)

	err = reg.UpdateCounter(ctx, "missing", 1)
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestMemoryCredentialRegistryReturnsClones(t *testing.T) {
	reg := NewMemoryCredentialRegistry()
	ctx := context.Background()

	require.NoError(t, reg.Save(ctx, &Credential{ID: "cred-1", UserID: 1, Counter: 5}))

	cred, err := reg.FindByID(ctx, "cred-1")
	require.NoError(t, err)
	cred.Counter = 99

	stored, err := reg.FindByID(ctx, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, uint32(5), stored.Counter)
}
