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
	"encoding/json"
	"time"
)

// ChallengeStore persists server-side challenges keyed by an ephemeral attempt
// identifier. Challenges are single-use by construction: Consume retrieves and
// deletes in one logical step.
type ChallengeStore interface {
	// Issue stores value under attemptID, overwriting any prior entry for
	// that ID. Entries expire after ttl.
	Issue(ctx context.Context, attemptID, value string, ttl time.Duration) error

	// Consume retrieves and unconditionally deletes the entry for attemptID.
	// Returns ErrChallengeExpired if no live entry exists, which covers
	// "never issued", "already consumed", and "past TTL" alike. Two
	// concurrent consumers racing on the same attemptID cannot both succeed.
	Consume(ctx context.Context, attemptID string) (string, error)
}

// UserDirectory looks up and creates user identities keyed by unique email.
// No update or delete operations exist; email is immutable once created.
type UserDirectory interface {
	// FindByEmail retrieves a user by email.
	// Returns ErrUserNotFound if the user does not exist.
	FindByEmail(ctx context.Context, email string) (*User, error)

	// FindByID retrieves a user by numeric ID.
	// Returns ErrUserNotFound if the user does not exist.
	FindByID(ctx context.Context, id int64) (*User, error)

	// Create creates a new user with the given email.
	// Returns ErrUserAlreadyExists if the email is taken.
	Create(ctx context.Context, email string) (*User, error)
}

// CredentialRegistry persists WebAuthn credentials, each bound to exactly one
// user, enforcing global credential-ID uniqueness.
type CredentialRegistry interface {
	// Save stores a new credential.
	// Returns ErrCredentialAlreadyExists if the credential ID is taken.
	Save(ctx context.Context, cred *Credential) error

	// FindByID retrieves a credential by its base64url ID.
	// Returns ErrCredentialNotFound if the credential does not exist.
	FindByID(ctx context.Context, credentialID string) (*Credential, error)

	// FindAllByUserID retrieves all credentials for a user, in no particular
	// order. Returns an empty slice if the user has none.
	FindAllByUserID(ctx context.Context, userID int64) ([]*Credential, error)

	// UpdateCounter unconditionally sets the stored signature counter.
	// Monotonicity is the ceremony's responsibility, not the registry's,
	// because the registry has no knowledge of the zero-counter sentinel.
	UpdateCounter(ctx context.Context, credentialID string, counter uint32) error
}

// Verifier is the external attestation/assertion verification capability.
// The production implementation delegates to go-webauthn; the ceremonies only
// depend on this contract.
type Verifier interface {
	// RegistrationOptions produces browser creation options and the server
	// challenge bound to them. exclude lists credentials the authenticator
	// must not re-enroll.
	RegistrationOptions(ctx context.Context, identity string, exclude []*Credential) (json.RawMessage, string, error)

	// VerifyRegistration validates an attestation response against the
	// consumed challenge and returns the verified credential material.
	VerifyRegistration(ctx context.Context, challenge, identity string, attestation []byte) (*RegistrationResult, error)

	// AuthenticationOptions produces browser request options and the server
	// challenge bound to them. A nil user selects the discoverable
	// (client-side credential selection) flow.
	AuthenticationOptions(ctx context.Context, user *User, allow []*Credential) (json.RawMessage, string, error)

	// VerifyAuthentication validates an assertion response against the
	// consumed challenge, the candidate credential set, and the claimed
	// identity (empty for the discoverable flow). Returns the asserted
	// credential ID and the authenticator-reported counter.
	VerifyAuthentication(ctx context.Context, challenge, identity string, candidates []*Credential, assertion []byte) (*AssertionResult, error)
}

// SessionSink turns an authenticated user and login timestamp into an opaque
// session handle. How the handle is transported is outside this package.
type SessionSink interface {
	// Establish binds the user and login timestamp into a new session.
	Establish(ctx context.Context, user *User, loginAt time.Time) (*Session, error)
}
