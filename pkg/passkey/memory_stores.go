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
	"time"
)

// MemoryChallengeStore is an in-memory implementation of ChallengeStore.
// Suitable for single-process deployments and testing.
type MemoryChallengeStore struct {
	mu      sync.Mutex
	entries map[string]challengeEntry
	clock   func() time.Time
}

type challengeEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryChallengeStore creates a new in-memory challenge store.
func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{
		entries: make(map[string]challengeEntry),
		clock:   time.Now,
	}
}

// Issue stores value under attemptID, overwriting any prior entry.
func (s *MemoryChallengeStore) Issue(ctx context.Context, attemptID, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[attemptID] = challengeEntry{
		value:     value,
		expiresAt: s.clock().Add(ttl),
	}
	return nil
}

// Consume retrieves and deletes the entry for attemptID under one lock, so
// concurrent consumers of the same attempt ID observe at most one success.
func (s *MemoryChallengeStore) Consume(ctx context.Context, attemptID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[attemptID]
	if !ok {
		return "", ErrChallengeExpired
	}
	delete(s.entries, attemptID)
	if s.clock().After(entry.expiresAt) {
		return "", ErrChallengeExpired
	}
	return entry.value, nil
}

// Cleanup removes expired entries and returns how many were removed.
func (s *MemoryChallengeStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	removed := 0
	for id, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Count returns the number of live entries in the store.
func (s *MemoryChallengeStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// MemoryUserDirectory is an in-memory implementation of UserDirectory.
// Suitable for single-process deployments and testing.
type MemoryUserDirectory struct {
	mu      sync.RWMutex
	byID    map[int64]*User
	byEmail map[string]*User
	nextID  int64
	clock   func() time.Time
}

// NewMemoryUserDirectory creates a new in-memory user directory.
func NewMemoryUserDirectory() *MemoryUserDirectory {
	return &MemoryUserDirectory{
		byID:    make(map[int64]*User),
		byEmail: make(map[string]*User),
		nextID:  1,
		clock:   time.Now,
	}
}

// FindByEmail retrieves a user by email.
func (s *MemoryUserDirectory) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byEmail[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

// FindByID retrieves a user by numeric ID.
func (s *MemoryUserDirectory) FindByID(ctx context.Context, id int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

// Create creates a new user with the given email.
func (s *MemoryUserDirectory) Create(ctx context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[email]; ok {
		return nil, ErrUserAlreadyExists
	}

	user := &User{
		ID:        s.nextID,
		Email:     email,
		CreatedAt: s.clock().UTC(),
	}
	s.nextID++
	s.byID[user.ID] = user
	s.byEmail[email] = user

	clone := *user
	return &clone, nil
}

// Count returns the number of users in the directory.
func (s *MemoryUserDirectory) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// MemoryCredentialRegistry is an in-memory implementation of CredentialRegistry.
// Suitable for single-process deployments and testing.
type MemoryCredentialRegistry struct {
	mu       sync.RWMutex
	byID     map[string]*Credential
	byUserID map[int64][]string
}

// NewMemoryCredentialRegistry creates a new in-memory credential registry.
func NewMemoryCredentialRegistry() *MemoryCredentialRegistry {
	return &MemoryCredentialRegistry{
		byID:     make(map[string]*Credential),
		byUserID: make(map[int64][]string),
	}
}

// Save stores a new credential, enforcing global credential-ID uniqueness.
func (s *MemoryCredentialRegistry) Save(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[cred.ID]; ok {
		return ErrCredentialAlreadyExists
	}

	clone := *cred
	s.byID[cred.ID] = &clone
	s.byUserID[cred.UserID] = append(s.byUserID[cred.UserID], cred.ID)
	return nil
}

// FindByID retrieves a credential by its base64url ID.
func (s *MemoryCredentialRegistry) FindByID(ctx context.Context, credentialID string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.byID[credentialID]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	clone := *cred
	return &clone, nil
}

// FindAllByUserID retrieves all credentials for a user.
func (s *MemoryCredentialRegistry) FindAllByUserID(ctx context.Context, userID int64) ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byUserID[userID]
	creds := make([]*Credential, 0, len(ids))
	for _, id := range ids {
		clone := *s.byID[id]
		creds = append(creds, &clone)
	}
	return creds, nil
}

// UpdateCounter unconditionally sets the stored signature counter.
func (s *MemoryCredentialRegistry) UpdateCounter(ctx context.Context, credentialID string, counter uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.byID[credentialID]
	if !ok {
		return ErrCredentialNotFound
	}
	cred.Counter = counter
	return nil
}

// Count returns the total number of credentials in the registry.
func (s *MemoryCredentialRegistry) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
