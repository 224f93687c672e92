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
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

// SessionResolver turns a presented bearer token into a live session.
// Used to recognize an already-authenticated caller during registration.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*passkey.Session, error)
}

// Handler provides HTTP handlers for passkey ceremony operations.
// These handlers can be mounted on any HTTP router.
type Handler struct {
	service  *passkey.Service
	resolver SessionResolver
	logger   *slog.Logger
}

// NewHandler creates a new ceremony HTTP handler. resolver may be nil, in
// which case bearer tokens on registration requests are ignored.
func NewHandler(service *passkey.Service, resolver SessionResolver) *Handler {
	return &Handler{
		service:  service,
		resolver: resolver,
		logger:   slog.Default(),
	}
}

// WithLogger sets a custom logger for the handler.
func (h *Handler) WithLogger(logger *slog.Logger) *Handler {
	h.logger = logger
	return h
}

// BeginRegistration handles POST /registration/begin
//
// Request body:
//
//	{"email": "user@example.com"}
//
// Response: WebAuthn PublicKeyCredentialCreationOptions
// Header: X-Attempt-Id (attempt identifier for FinishRegistration)
func (h *Handler) BeginRegistration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	var req BeginRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "email is required")
		return
	}

	start, err := h.service.BeginRegistration(r.Context(), req.Email)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set(HeaderAttemptID, start.AttemptID)
	h.writeRawJSON(w, http.StatusOK, start.Options)
}

// FinishRegistration handles POST /registration/finish
//
// Header: X-Attempt-Id (from BeginRegistration)
// Header: Authorization: Bearer <token> (optional, pins the claimed email)
// Request body:
//
//	{"email": "user@example.com", "response": {...attestation...}}
//
// Response: AuthResponse with the established session
func (h *Handler) FinishRegistration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	attemptID := r.Header.Get(HeaderAttemptID)
	if attemptID == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "attempt ID header is required")
		return
	}

	var req FinishRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "email is required")
		return
	}
	if len(req.Response) == 0 {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "attestation response is required")
		return
	}

	session, err := h.service.FinishRegistration(r.Context(), passkey.RegistrationInput{
		Identity:      req.Email,
		AttemptID:     attemptID,
		Attestation:   req.Response,
		ActiveSession: h.activeSession(r),
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, authResponse(session))
}

// BeginLogin handles POST /login/begin
//
// Request body:
//
//	{"email": "user@example.com"} // optional
//
// An empty or absent email selects the discoverable credentials flow.
// Response: WebAuthn PublicKeyCredentialRequestOptions
// Header: X-Attempt-Id (attempt identifier for FinishLogin)
func (h *Handler) BeginLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	var req BeginLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Allow empty body for discoverable credentials
		req = BeginLoginRequest{}
	}

	start, err := h.service.BeginAuthentication(r.Context(), req.Email)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set(HeaderAttemptID, start.AttemptID)
	h.writeRawJSON(w, http.StatusOK, start.Options)
}

// FinishLogin handles POST /login/finish
//
// Header: X-Attempt-Id (from BeginLogin)
// Request body:
//
//	{"email": "user@example.com", "response": {...assertion...}}
//
// Response: AuthResponse with the established session
func (h *Handler) FinishLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	attemptID := r.Header.Get(HeaderAttemptID)
	if attemptID == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "attempt ID header is required")
		return
	}

	var req FinishLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return
	}
	if len(req.Response) == 0 {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "assertion response is required")
		return
	}

	credentialID, err := credentialIDFromResponse(req.Response)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid assertion response")
		return
	}

	session, err := h.service.FinishAuthentication(r.Context(), passkey.AuthenticationInput{
		Identity:     req.Email,
		AttemptID:    attemptID,
		CredentialID: credentialID,
		Assertion:    req.Response,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, authResponse(session))
}

// activeSession resolves an optional Authorization bearer token. Invalid
// tokens are treated as absent: the ceremony decides what an anonymous
// caller may do, not the transport.
func (h *Handler) activeSession(r *http.Request) *passkey.Session {
	if h.resolver == nil {
		return nil
	}
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return nil
	}
	session, err := h.resolver.Resolve(r.Context(), token)
	if err != nil {
		h.logger.Debug("ignoring unresolvable bearer token", "error", err)
		return nil
	}
	return session
}

// credentialIDFromResponse extracts the credential ID from a raw
// PublicKeyCredential JSON object. The ID is already base64url per the
// WebAuthn JSON serialization, so it is used as-is.
func credentialIDFromResponse(response []byte) (string, error) {
	var envelope struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(response, &envelope); err != nil {
		return "", err
	}
	if envelope.ID == "" {
		return "", errors.New("response has no credential id")
	}
	return envelope.ID, nil
}

func authResponse(session *passkey.Session) AuthResponse {
	return AuthResponse{
		Token:     session.Token,
		UserID:    session.UserID,
		Email:     session.Email,
		ExpiresAt: session.ExpiresAt,
	}
}

// handleServiceError maps ceremony errors to HTTP responses. All
// authentication-path failures collapse into one 401 so responses do not
// reveal whether an email or credential is enrolled.
func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, passkey.ErrInvalidIdentity):
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid email address")
	case errors.Is(err, passkey.ErrChallengeExpired):
		h.writeError(w, http.StatusBadRequest, ErrorCodeChallengeExpired, "challenge is missing, expired, or already used")
	case errors.Is(err, passkey.ErrAttestationFailed):
		h.writeError(w, http.StatusBadRequest, ErrorCodeRegistrationFailed, "attestation verification failed")
	case errors.Is(err, passkey.ErrIdentityConflict):
		h.writeError(w, http.StatusConflict, ErrorCodeIdentityConflict, "claimed identity does not match the active session")
	case errors.Is(err, passkey.ErrUserAlreadyExists),
		errors.Is(err, passkey.ErrCredentialAlreadyExists):
		h.writeError(w, http.StatusConflict, ErrorCodeConflict, "already registered")
	case errors.Is(err, passkey.ErrUserNotFound),
		errors.Is(err, passkey.ErrCredentialNotFound),
		errors.Is(err, passkey.ErrAssertionFailed),
		errors.Is(err, passkey.ErrReplayDetected):
		h.writeError(w, http.StatusUnauthorized, ErrorCodeAuthenticationFailed, "authentication failed")
	default:
		h.logger.Error("ceremony failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal server error")
	}
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Response headers already written, can only log the error
		h.logger.Error("failed to encode JSON response",
			"error", err,
			"status", status)
	}
}

// writeRawJSON writes pre-encoded JSON, used for verifier-produced options.
func (h *Handler) writeRawJSON(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		h.logger.Error("failed to write JSON response",
			"error", err,
			"status", status)
	}
}

// writeError writes an error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: message,
	})
}
