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
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// WebAuthnVerifier implements Verifier on top of the go-webauthn library.
// It owns the protocol-level work (option generation, attestation and
// assertion validation); the ceremonies never touch protocol types.
type WebAuthnVerifier struct {
	webauthn *webauthn.WebAuthn
	config   *Config
}

// NewWebAuthnVerifier creates a verifier from the relying-party configuration.
func NewWebAuthnVerifier(config *Config) (*WebAuthnVerifier, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	wa, err := webauthn.New(config.ToWebAuthnConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create webauthn instance: %w", err)
	}

	return &WebAuthnVerifier{webauthn: wa, config: config}, nil
}

// ceremonyUser adapts ceremony state to the webauthn.User interface. The
// handle is derived from the email, so the same identity always maps to the
// same WebAuthn user across ceremonies.
type ceremonyUser struct {
	handle      []byte
	name        string
	credentials []webauthn.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return u.handle
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.name
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	return u.name
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

// RegistrationOptions produces creation options for the claimed identity.
func (v *WebAuthnVerifier) RegistrationOptions(ctx context.Context, identity string, exclude []*Credential) (json.RawMessage, string, error) {
	user := &ceremonyUser{
		handle: HandleFromEmail(identity),
		name:   identity,
	}

	var opts []webauthn.RegistrationOption
	if len(exclude) > 0 {
		descriptors := make([]protocol.CredentialDescriptor, 0, len(exclude))
		for _, cred := range exclude {
			raw, err := DecodeCredentialID(cred.ID)
			if err != nil {
				return nil, "", fmt.Errorf("decode credential id %s: %w", cred.ID, err)
			}
			descriptors = append(descriptors, protocol.CredentialDescriptor{
				Type:         protocol.PublicKeyCredentialType,
				CredentialID: raw,
				Transport:    transportsToProtocol(cred.Transports),
			})
		}
		opts = append(opts, webauthn.WithExclusions(descriptors))
	}

	creation, session, err := v.webauthn.BeginRegistration(user, opts...)
	if err != nil {
		return nil, "", err
	}
	options, err := json.Marshal(creation)
	if err != nil {
		return nil, "", err
	}
	return options, session.Challenge, nil
}

// VerifyRegistration validates an attestation response against the challenge
// and returns the verified credential material.
func (v *WebAuthnVerifier) VerifyRegistration(ctx context.Context, challenge, identity string, attestation []byte) (*RegistrationResult, error) {
	parsed, err := protocol.ParseCredentialCreationResponseBytes(attestation)
	if err != nil {
		return nil, err
	}

	user := &ceremonyUser{
		handle: HandleFromEmail(identity),
		name:   identity,
	}
	session := webauthn.SessionData{
		Challenge: challenge,
		UserID:    user.handle,
		Expires:   time.Now().Add(v.config.Timeout),
	}

	cred, err := v.webauthn.CreateCredential(user, session, parsed)
	if err != nil {
		return nil, err
	}

	return &RegistrationResult{
		CredentialID: EncodeCredentialID(cred.ID),
		PublicKey:    cred.PublicKey,
		Counter:      cred.Authenticator.SignCount,
		BackedUp:     cred.Flags.BackupState,
		Transports:   transportsToStrings(cred.Transport),
	}, nil
}

// AuthenticationOptions produces request options. A nil user selects the
// discoverable flow with an empty allow list.
func (v *WebAuthnVerifier) AuthenticationOptions(ctx context.Context, user *User, allow []*Credential) (json.RawMessage, string, error) {
	var (
		assertion *protocol.CredentialAssertion
		session   *webauthn.SessionData
		err       error
	)

	if user == nil {
		assertion, session, err = v.webauthn.BeginDiscoverableLogin()
	} else {
		creds, convErr := credentialsToWebAuthn(allow)
		if convErr != nil {
			return nil, "", convErr
		}
		cu := &ceremonyUser{
			handle:      user.Handle(),
			name:        user.Email,
			credentials: creds,
		}
		assertion, session, err = v.webauthn.BeginLogin(cu)
	}
	if err != nil {
		return nil, "", err
	}

	options, err := json.Marshal(assertion)
	if err != nil {
		return nil, "", err
	}
	return options, session.Challenge, nil
}

// VerifyAuthentication validates an assertion response against the challenge
// and the candidate credential set. For the discoverable flow (empty
// identity) the user handle must be present in the assertion.
func (v *WebAuthnVerifier) VerifyAuthentication(ctx context.Context, challenge, identity string, candidates []*Credential, assertion []byte) (*AssertionResult, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBytes(assertion)
	if err != nil {
		return nil, err
	}

	var handle []byte
	if identity != "" {
		handle = HandleFromEmail(identity)
	} else {
		handle = parsed.Response.UserHandle
		if len(handle) == 0 {
			return nil, fmt.Errorf("assertion is missing the user handle")
		}
	}

	creds, err := credentialsToWebAuthn(candidates)
	if err != nil {
		return nil, err
	}
	user := &ceremonyUser{
		handle:      handle,
		name:        identity,
		credentials: creds,
	}
	session := webauthn.SessionData{
		Challenge: challenge,
		UserID:    handle,
		Expires:   time.Now().Add(v.config.Timeout),
	}

	cred, err := v.webauthn.ValidateLogin(user, session, parsed)
	if err != nil {
		return nil, err
	}

	return &AssertionResult{
		CredentialID: EncodeCredentialID(cred.ID),
		// The raw authenticator-reported counter, not the library's merged
		// view, so the ceremony sees exactly what the authenticator said.
		NewCounter: parsed.Response.AuthenticatorData.Counter,
		BackedUp:   parsed.Response.AuthenticatorData.Flags.HasBackupState(),
	}, nil
}

func credentialsToWebAuthn(creds []*Credential) ([]webauthn.Credential, error) {
	out := make([]webauthn.Credential, 0, len(creds))
	for _, cred := range creds {
		raw, err := DecodeCredentialID(cred.ID)
		if err != nil {
			return nil, fmt.Errorf("decode credential id %s: %w", cred.ID, err)
		}
		out = append(out, webauthn.Credential{
			ID:        raw,
			PublicKey: cred.PublicKey,
			Transport: transportsToProtocol(cred.Transports),
			Flags: webauthn.CredentialFlags{
				BackupEligible: cred.BackedUp,
				BackupState:    cred.BackedUp,
			},
			Authenticator: webauthn.Authenticator{
				SignCount: cred.Counter,
			},
		})
	}
	return out, nil
}

func transportsToProtocol(transports []string) []protocol.AuthenticatorTransport {
	out := make([]protocol.AuthenticatorTransport, 0, len(transports))
	for _, t := range transports {
		out = append(out, protocol.AuthenticatorTransport(t))
	}
	return out
}

func transportsToStrings(transports []protocol.AuthenticatorTransport) []string {
	out := make([]string, 0, len(transports))
	for _, t := range transports {
		out = append(out, string(t))
	}
	return out
}
