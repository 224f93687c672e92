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
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-passkey/pkg/metrics"
)

// Service orchestrates passkey registration and authentication ceremonies.
// All collaborators are injected at construction; the service holds no global
// state and performs no caching across requests.
type Service struct {
	config     *Config
	challenges ChallengeStore
	users      UserDirectory
	creds      CredentialRegistry
	verifier   Verifier
	sessions   SessionSink
	logger     *slog.Logger
	clock      func() time.Time
}

// ServiceParams contains dependencies for creating a ceremony service.
type ServiceParams struct {
	// Config is the relying-party configuration (required).
	Config *Config

	// ChallengeStore persists single-use challenges (required).
	ChallengeStore ChallengeStore

	// UserDirectory is the user persistence layer (required).
	UserDirectory UserDirectory

	// CredentialRegistry is the credential persistence layer (required).
	CredentialRegistry CredentialRegistry

	// Verifier performs attestation/assertion verification (required).
	Verifier Verifier

	// SessionSink establishes sessions after successful ceremonies (required).
	SessionSink SessionSink

	// Logger is used for ceremony logging. Defaults to slog.Default().
	Logger *slog.Logger

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// NewService creates a new ceremony service with the provided dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if params.ChallengeStore == nil {
		return nil, fmt.Errorf("challenge store is required")
	}
	if params.UserDirectory == nil {
		return nil, fmt.Errorf("user directory is required")
	}
	if params.CredentialRegistry == nil {
		return nil, fmt.Errorf("credential registry is required")
	}
	if params.Verifier == nil {
		return nil, fmt.Errorf("verifier is required")
	}
	if params.SessionSink == nil {
		return nil, fmt.Errorf("session sink is required")
	}

	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Service{
		config:     params.Config,
		challenges: params.ChallengeStore,
		users:      params.UserDirectory,
		creds:      params.CredentialRegistry,
		verifier:   params.Verifier,
		sessions:   params.SessionSink,
		logger:     logger,
		clock:      clock,
	}, nil
}

// Config returns the service configuration.
func (s *Service) Config() *Config {
	return s.config
}

// BeginRegistration starts a registration ceremony for the claimed identity.
// It has no persistence side effects beyond the issued challenge: the user is
// not created until attestation verification succeeds in FinishRegistration.
func (s *Service) BeginRegistration(ctx context.Context, identity string) (*CeremonyStart, error) {
	if err := validateIdentity(identity); err != nil {
		return nil, err
	}

	// Exclude already-enrolled credentials so the browser will not re-enroll
	// the same authenticator.
	var exclude []*Credential
	if user, err := s.users.FindByEmail(ctx, identity); err == nil {
		exclude, err = s.creds.FindAllByUserID(ctx, user.ID)
		if err != nil {
			return nil, WrapError("list credentials", err)
		}
	} else if !IsUserNotFound(err) {
		return nil, WrapError("find user", err)
	}

	options, challenge, err := s.verifier.RegistrationOptions(ctx, identity, exclude)
	if err != nil {
		return nil, WrapError("registration options", err)
	}

	attemptID := uuid.NewString()
	if err := s.challenges.Issue(ctx, attemptID, challenge, s.config.ChallengeTTL); err != nil {
		return nil, WrapError("issue challenge", err)
	}
	metrics.ChallengesIssuedTotal.Inc()

	return &CeremonyStart{AttemptID: attemptID, Options: options}, nil
}

// FinishRegistration completes a registration ceremony: identity guard,
// attestation verification against the consumed challenge, user resolution,
// credential persistence, and session establishment, strictly in that order.
// No persistence happens before verification succeeds.
func (s *Service) FinishRegistration(ctx context.Context, input RegistrationInput) (*Session, error) {
	start := s.clock()
	session, err := s.finishRegistration(ctx, input)
	metrics.RecordCeremony(metrics.CeremonyRegistration, s.clock().Sub(start), err)
	return session, err
}

func (s *Service) finishRegistration(ctx context.Context, input RegistrationInput) (*Session, error) {
	// Step 1: validate the identity claim. An active session pins the claimed
	// email; otherwise it only needs to be syntactically valid.
	if input.ActiveSession != nil {
		if input.ActiveSession.Email != input.Identity {
			s.logger.Warn("registration identity does not match active session",
				"claimed", input.Identity,
				"session_user_id", input.ActiveSession.UserID)
			return nil, NewError("validate identity", ErrIdentityConflict)
		}
	} else if err := validateIdentity(input.Identity); err != nil {
		return nil, err
	}

	// Step 2: consume the challenge and verify the attestation. The challenge
	// is deleted whether or not verification succeeds.
	challenge, err := s.consumeChallenge(ctx, input.AttemptID)
	if err != nil {
		return nil, err
	}
	result, err := s.verifier.VerifyRegistration(ctx, challenge, input.Identity, input.Attestation)
	if err != nil {
		s.logger.Info("attestation verification failed", "error", err)
		return nil, NewError("verify attestation", ErrAttestationFailed)
	}

	// Step 3: resolve or create the user. Registering a second passkey for an
	// existing email links to the same user.
	user, err := s.users.FindByEmail(ctx, input.Identity)
	if IsUserNotFound(err) {
		user, err = s.users.Create(ctx, input.Identity)
		if IsConflict(err) {
			// Lost a creation race; the row exists now.
			user, err = s.users.FindByEmail(ctx, input.Identity)
		}
	}
	if err != nil {
		return nil, WrapError("resolve user", err)
	}

	// Step 4: persist the credential.
	cred := &Credential{
		ID:         result.CredentialID,
		UserID:     user.ID,
		PublicKey:  result.PublicKey,
		Counter:    result.Counter,
		BackedUp:   result.BackedUp,
		Transports: result.Transports,
		CreatedAt:  s.clock().UTC(),
	}
	if err := s.creds.Save(ctx, cred); err != nil {
		return nil, WrapError("save credential", err)
	}

	// Step 5: establish the session.
	session, err := s.sessions.Establish(ctx, user, s.clock().UTC())
	if err != nil {
		return nil, WrapError("establish session", err)
	}
	metrics.SessionsEstablishedTotal.Inc()

	s.logger.Info("passkey registered",
		"user_id", user.ID,
		"credential_id", cred.ID,
		"backed_up", cred.BackedUp)
	return session, nil
}

// BeginAuthentication starts an authentication ceremony. When identity is
// non-empty it narrows the allowed credentials to that user's; an unknown
// email and an email with zero credentials are reported identically as
// ErrUserNotFound so callers cannot probe which emails are registered.
func (s *Service) BeginAuthentication(ctx context.Context, identity string) (*CeremonyStart, error) {
	var (
		user  *User
		allow []*Credential
	)
	if identity != "" {
		var err error
		user, allow, err = s.resolveAllowedCredentials(ctx, identity)
		if err != nil {
			return nil, err
		}
	}

	options, challenge, err := s.verifier.AuthenticationOptions(ctx, user, allow)
	if err != nil {
		return nil, WrapError("authentication options", err)
	}

	attemptID := uuid.NewString()
	if err := s.challenges.Issue(ctx, attemptID, challenge, s.config.ChallengeTTL); err != nil {
		return nil, WrapError("issue challenge", err)
	}
	metrics.ChallengesIssuedTotal.Inc()

	return &CeremonyStart{AttemptID: attemptID, Options: options}, nil
}

// FinishAuthentication completes an authentication ceremony: candidate
// resolution, assertion verification against the consumed challenge, replay
// protection via the signature counter, counter persistence, and session
// establishment, strictly in that order.
func (s *Service) FinishAuthentication(ctx context.Context, input AuthenticationInput) (*Session, error) {
	start := s.clock()
	session, err := s.finishAuthentication(ctx, input)
	metrics.RecordCeremony(metrics.CeremonyAuthentication, s.clock().Sub(start), err)
	return session, err
}

func (s *Service) finishAuthentication(ctx context.Context, input AuthenticationInput) (*Session, error) {
	// Step 1: resolve the allowed credentials when an identity was claimed.
	var (
		user       *User
		candidates []*Credential
	)
	if input.Identity != "" {
		var err error
		user, candidates, err = s.resolveAllowedCredentials(ctx, input.Identity)
		if err != nil {
			return nil, err
		}
	}

	// Step 2: resolve the asserted credential.
	cred, err := s.creds.FindByID(ctx, input.CredentialID)
	if err != nil {
		return nil, WrapError("find credential", err)
	}
	if user != nil && cred.UserID != user.ID {
		// The asserted credential does not belong to the claimed identity.
		// Reported as not-found so the response does not confirm the
		// credential exists under another account.
		return nil, NewError("find credential", ErrCredentialNotFound)
	}
	if len(candidates) == 0 {
		candidates = []*Credential{cred}
	}

	// Step 3: consume the challenge and verify the assertion.
	challenge, err := s.consumeChallenge(ctx, input.AttemptID)
	if err != nil {
		return nil, err
	}
	result, err := s.verifier.VerifyAuthentication(ctx, challenge, input.Identity, candidates, input.Assertion)
	if err != nil {
		s.logger.Info("assertion verification failed", "error", err)
		return nil, NewError("verify assertion", ErrAssertionFailed)
	}
	if result.CredentialID != cred.ID {
		return nil, NewError("verify assertion", ErrAssertionFailed)
	}

	// Step 4: enforce counter monotonicity, then persist the new counter.
	if !counterAdmissible(cred.Counter, result.NewCounter) {
		metrics.ReplaysDetectedTotal.Inc()
		s.logger.Warn("replay detected: signature counter did not advance",
			"credential_id", cred.ID,
			"stored_counter", cred.Counter,
			"reported_counter", result.NewCounter)
		return nil, NewError("enforce counter", ErrReplayDetected)
	}
	if err := s.creds.UpdateCounter(ctx, cred.ID, result.NewCounter); err != nil {
		return nil, WrapError("update counter", err)
	}

	// Step 5: resolve the owning user and establish the session.
	owner, err := s.users.FindByID(ctx, cred.UserID)
	if err != nil {
		// A credential without its owner means the backing stores disagree.
		return nil, WrapError("resolve credential owner", err)
	}
	session, err := s.sessions.Establish(ctx, owner, s.clock().UTC())
	if err != nil {
		return nil, WrapError("establish session", err)
	}
	metrics.SessionsEstablishedTotal.Inc()

	s.logger.Info("passkey authenticated",
		"user_id", owner.ID,
		"credential_id", cred.ID,
		"counter", result.NewCounter)
	return session, nil
}

// resolveAllowedCredentials returns the claimed user and their credentials.
// Unknown email and zero credentials collapse into ErrUserNotFound.
func (s *Service) resolveAllowedCredentials(ctx context.Context, identity string) (*User, []*Credential, error) {
	user, err := s.users.FindByEmail(ctx, identity)
	if err != nil {
		if IsUserNotFound(err) {
			return nil, nil, NewError("resolve identity", ErrUserNotFound)
		}
		return nil, nil, WrapError("find user", err)
	}
	allow, err := s.creds.FindAllByUserID(ctx, user.ID)
	if err != nil {
		return nil, nil, WrapError("list credentials", err)
	}
	if len(allow) == 0 {
		s.logger.Debug("identity has no credentials", "user_id", user.ID)
		return nil, nil, NewError("resolve identity", ErrUserNotFound)
	}
	return user, allow, nil
}

func (s *Service) consumeChallenge(ctx context.Context, attemptID string) (string, error) {
	challenge, err := s.challenges.Consume(ctx, attemptID)
	if err != nil {
		metrics.ChallengesConsumedTotal.WithLabelValues(metrics.StatusError).Inc()
		return "", WrapError("consume challenge", err)
	}
	metrics.ChallengesConsumedTotal.WithLabelValues(metrics.StatusSuccess).Inc()
	return challenge, nil
}

// counterAdmissible reports whether a verifier-reported signature counter is
// acceptable against the stored value. Zero on both sides is the designated
// "authenticator has no counter" sentinel and is admissible; anything else
// must strictly increase.
func counterAdmissible(stored, reported uint32) bool {
	if stored == 0 && reported == 0 {
		return true
	}
	return reported > stored
}

func validateIdentity(identity string) error {
	if identity == "" {
		return NewError("validate identity", ErrInvalidIdentity)
	}
	addr, err := mail.ParseAddress(identity)
	if err != nil || addr.Address != identity {
		return NewError("validate identity", ErrInvalidIdentity)
	}
	return nil
}
