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
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"time"
)

// User is an identity known to the relying party, keyed by unique email.
// Users are created by the registration ceremony on first passkey enrollment
// and are never deleted by this package.
type User struct {
	// ID is the numeric identifier assigned on creation, immutable.
	ID int64 `json:"id"`

	// Email is the case-sensitive identity key.
	Email string `json:"email"`

	// CreatedAt is when the user was created.
	CreatedAt time.Time `json:"created_at"`
}

// Handle returns the WebAuthn user handle for this user.
func (u *User) Handle() []byte {
	return HandleFromEmail(u.Email)
}

// HandleFromEmail derives a deterministic 8-byte WebAuthn user handle from an
// email address. Deriving the handle (instead of using the database ID) lets
// registration options be issued before any user row exists, keeping user
// creation behind attestation verification.
func HandleFromEmail(email string) []byte {
	// FNV-1a
	var h uint64 = 14695981039346656037
	for _, b := range []byte(email) {
		h ^= uint64(b)
		h *= 1099511628211
	}
	handle := make([]byte, 8)
	binary.BigEndian.PutUint64(handle, h)
	return handle
}

// Credential is a stored public-key record representing one passkey enrolled
// by one authenticator for one user. Credential IDs are globally unique; the
// signature counter is the only field mutated after creation.
type Credential struct {
	// ID is the base64url-encoded credential identifier assigned by the
	// authenticator, unique across all users.
	ID string `json:"id"`

	// UserID is the owning user.
	UserID int64 `json:"user_id"`

	// PublicKey is the credential's public key in COSE format, immutable.
	PublicKey []byte `json:"public_key"`

	// Counter is the monotonic signature counter reported by the authenticator.
	Counter uint32 `json:"counter"`

	// BackedUp indicates the authenticator reports the credential as synced.
	BackedUp bool `json:"backed_up"`

	// Transports lists the transports supported by the authenticator
	// (usb, nfc, ble, internal, hybrid).
	Transports []string `json:"transports,omitempty"`

	// CreatedAt is when the credential was registered.
	CreatedAt time.Time `json:"created_at"`
}

// Session is the result of a successful ceremony: an opaque token bound to a
// user and a login timestamp. Transport of the token (cookie, header) is the
// caller's concern.
type Session struct {
	// Token is the opaque session handle.
	Token string `json:"token"`

	// UserID is the authenticated user.
	UserID int64 `json:"user_id"`

	// Email is the authenticated user's email.
	Email string `json:"email"`

	// LoginAt is when the session was established.
	LoginAt time.Time `json:"login_at"`

	// ExpiresAt is when the session stops being valid.
	ExpiresAt time.Time `json:"expires_at"`
}

// CeremonyStart is returned by the begin operations: the options to hand to
// the browser plus the attempt identifier correlating the finish call with
// its server-side challenge.
type CeremonyStart struct {
	// AttemptID is the ephemeral correlation key for this ceremony attempt.
	AttemptID string `json:"attempt_id"`

	// Options is the WebAuthn creation/request options JSON for the browser.
	Options json.RawMessage `json:"options"`
}

// RegistrationInput carries a completed attestation response into the
// registration ceremony.
type RegistrationInput struct {
	// Identity is the claimed email address.
	Identity string

	// AttemptID correlates this finish call with its issued challenge.
	AttemptID string

	// Attestation is the raw authenticator attestation response JSON.
	Attestation []byte

	// ActiveSession is the caller's current session, if any. When present the
	// claimed identity must match it.
	ActiveSession *Session
}

// AuthenticationInput carries a completed assertion response into the
// authentication ceremony.
type AuthenticationInput struct {
	// Identity is the optional claimed email address. When set it narrows the
	// candidate credential set.
	Identity string

	// AttemptID correlates this finish call with its issued challenge.
	AttemptID string

	// CredentialID is the base64url credential ID embedded in the browser
	// response.
	CredentialID string

	// Assertion is the raw authenticator assertion response JSON.
	Assertion []byte
}

// RegistrationResult is what the external verifier reports for a valid
// attestation.
type RegistrationResult struct {
	// CredentialID is the base64url credential identifier.
	CredentialID string

	// PublicKey is the verified COSE public key.
	PublicKey []byte

	// Counter is the initial signature counter.
	Counter uint32

	// BackedUp indicates the authenticator reports the credential as synced.
	BackedUp bool

	// Transports lists the authenticator's transports.
	Transports []string
}

// AssertionResult is what the external verifier reports for a valid assertion.
type AssertionResult struct {
	// CredentialID is the base64url identifier of the asserted credential.
	CredentialID string

	// NewCounter is the signature counter reported by the authenticator.
	NewCounter uint32

	// BackedUp indicates the current backup state reported by the authenticator.
	BackedUp bool
}

// EncodeCredentialID encodes a raw credential ID as base64url without padding.
func EncodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCredentialID decodes a base64url credential ID back to raw bytes.
func DecodeCredentialID(id string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(id)
}
