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
)

// Sentinel errors for passkey ceremony operations.
var (
	// ErrInvalidIdentity is returned when the claimed identity is syntactically invalid.
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrIdentityConflict is returned when a registration claims an identity that
	// does not match the caller's active session.
	ErrIdentityConflict = errors.New("identity conflicts with active session")

	// ErrUserNotFound is returned when a user cannot be found. It also covers
	// users with zero registered credentials so the two cases are not
	// distinguishable from the outside.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists is returned when attempting to create a user whose
	// email is already taken.
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrCredentialNotFound is returned when a credential cannot be found.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrCredentialAlreadyExists is returned when attempting to register a
	// credential ID that is already stored, for any user.
	ErrCredentialAlreadyExists = errors.New("credential already exists")

	// ErrChallengeExpired is returned when a challenge is missing, already
	// consumed, or past its TTL. The three cases are intentionally one error.
	ErrChallengeExpired = errors.New("challenge expired")

	// ErrAttestationFailed is returned when the external verifier rejects a
	// registration ceremony. The sub-check that failed is not exposed.
	ErrAttestationFailed = errors.New("attestation verification failed")

	// ErrAssertionFailed is returned when the external verifier rejects an
	// authentication ceremony. The sub-check that failed is not exposed.
	ErrAssertionFailed = errors.New("assertion verification failed")

	// ErrReplayDetected is returned when an assertion reports a signature
	// counter that is not admissible against the stored counter.
	ErrReplayDetected = errors.New("signature counter replay detected")

	// ErrNotConfigured is returned when the service is missing a required
	// collaborator.
	ErrNotConfigured = errors.New("passkey service not configured")
)

// Error wraps a ceremony error with the operation that produced it.
type Error struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new Error with the given operation and error.
func NewError(op string, err error) error {
	return &Error{
		Op:  op,
		Err: err,
	}
}

// WrapError wraps an error with an operation name if it's not nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(op, err)
}

// IsUserNotFound returns true if the error indicates a user was not found.
func IsUserNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound)
}

// IsCredentialNotFound returns true if the error indicates a credential was not found.
func IsCredentialNotFound(err error) bool {
	return errors.Is(err, ErrCredentialNotFound)
}

// IsChallengeExpired returns true if the error indicates a missing or consumed challenge.
func IsChallengeExpired(err error) bool {
	return errors.Is(err, ErrChallengeExpired)
}

// IsReplayDetected returns true if the error indicates a counter replay.
func IsReplayDetected(err error) bool {
	return errors.Is(err, ErrReplayDetected)
}

// IsConflict returns true if the error indicates a duplicate email or credential ID.
func IsConflict(err error) bool {
	return errors.Is(err, ErrUserAlreadyExists) || errors.Is(err, ErrCredentialAlreadyExists)
}
