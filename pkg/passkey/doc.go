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

// Package passkey orchestrates WebAuthn passkey ceremonies: registration of
// new credentials and authentication against enrolled ones.
//
// The Service is the entry point. It drives each ceremony as a begin/finish
// pair correlated by an attempt ID: Begin issues a single-use challenge and
// returns browser-ready options, Finish consumes the challenge atomically and
// verifies the authenticator's response. Challenges survive at most one
// consume, so a response can never be validated twice.
//
// Persistence and verification are injected through small interfaces
// (ChallengeStore, UserDirectory, CredentialRegistry, Verifier, SessionSink).
// In-memory implementations suitable for single-process deployments and tests
// ship with the package; a PostgreSQL backend lives in pkg/storage/postgres.
//
// Authentication enforces signature-counter monotonicity. A counter that
// fails to advance is treated as evidence of a cloned credential and the
// ceremony fails with ErrReplayDetected. Authenticators that never implement
// a counter report zero on both sides, which stays admissible.
//
// Failures on the authentication path (unknown email, no enrolled
// credentials, wrong credential owner, failed assertion, replay) are exposed
// to callers through sentinel errors that the HTTP layer collapses into a
// single response, so the API does not leak which emails are enrolled.
package passkey
