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

package http

import (
	"encoding/json"
	"time"
)

// HeaderAttemptID is the header carrying the ceremony attempt identifier.
// Begin responses set it; Finish requests must echo it back.
const HeaderAttemptID = "X-Attempt-Id"

// BeginRegistrationRequest is the request body for starting registration.
type BeginRegistrationRequest struct {
	// Email is the claimed identity (required).
	Email string `json:"email"`
}

// FinishRegistrationRequest is the request body for completing registration.
type FinishRegistrationRequest struct {
	// Email is the claimed identity (required).
	Email string `json:"email"`

	// Response is the raw PublicKeyCredential from
	// navigator.credentials.create, passed through verbatim.
	Response json.RawMessage `json:"response"`
}

// BeginLoginRequest is the request body for starting authentication.
type BeginLoginRequest struct {
	// Email is the claimed identity (optional). When empty the discoverable
	// credentials flow is used.
	Email string `json:"email,omitempty"`
}

// FinishLoginRequest is the request body for completing authentication.
type FinishLoginRequest struct {
	// Email is the claimed identity (optional, must match BeginLogin).
	Email string `json:"email,omitempty"`

	// Response is the raw PublicKeyCredential from
	// navigator.credentials.get, passed through verbatim.
	Response json.RawMessage `json:"response"`
}

// AuthResponse is the response after a successful ceremony.
type AuthResponse struct {
	// Token is the session token.
	Token string `json:"token"`

	// UserID is the numeric user identifier.
	UserID int64 `json:"user_id"`

	// Email is the authenticated identity.
	Email string `json:"email"`

	// ExpiresAt is when the session token expires.
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrorResponse is the response format for errors.
type ErrorResponse struct {
	// Error is the error code.
	Error string `json:"error"`

	// Message is a human-readable error message.
	Message string `json:"message"`
}

// Error codes returned in ErrorResponse.
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeChallengeExpired     = "challenge_expired"
	ErrorCodeRegistrationFailed   = "registration_failed"
	ErrorCodeAuthenticationFailed = "authentication_failed"
	ErrorCodeIdentityConflict     = "identity_conflict"
	ErrorCodeConflict             = "conflict"
	ErrorCodeInternalError        = "internal_error"
)
