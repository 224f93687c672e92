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
	"crypto/rand"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSessionTTL is the session lifetime used when none is configured.
const DefaultSessionTTL = 24 * time.Hour

// SessionClaims are the JWT claims carried by a session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// JWTSessionManager implements SessionSink by minting HS256-signed JWTs.
// It also resolves presented tokens back into sessions, which the HTTP
// layer uses to recognize an already-authenticated caller.
type JWTSessionManager struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	clock      func() time.Time
}

// NewJWTSessionManager creates a session manager. If signingKey is empty an
// ephemeral random key is generated, which invalidates all sessions on
// restart.
func NewJWTSessionManager(signingKey []byte, issuer string, ttl time.Duration) (*JWTSessionManager, error) {
	if len(signingKey) == 0 {
		signingKey = make([]byte, 32)
		if _, err := rand.Read(signingKey); err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
	}
	if issuer == "" {
		issuer = "go-passkey"
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &JWTSessionManager{
		signingKey: signingKey,
		issuer:     issuer,
		ttl:        ttl,
		clock:      time.Now,
	}, nil
}

// Establish mints a session token for the authenticated user.
func (m *JWTSessionManager) Establish(ctx context.Context, user *User, loginAt time.Time) (*Session, error) {
	if user == nil {
		return nil, fmt.Errorf("user is required")
	}

	expiresAt := loginAt.Add(m.ttl)
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(loginAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email: user.Email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.signingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	return &Session{
		Token:     signed,
		UserID:    user.ID,
		Email:     user.Email,
		LoginAt:   loginAt,
		ExpiresAt: expiresAt,
	}, nil
}

// Resolve validates a presented token and reconstructs the session.
// Expired, malformed, or mis-signed tokens all return an error.
func (m *JWTSessionManager) Resolve(ctx context.Context, tokenString string) (*Session, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return m.signingKey, nil
		},
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.clock),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid session token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid session token")
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid session subject: %w", err)
	}

	session := &Session{
		Token:  tokenString,
		UserID: userID,
		Email:  claims.Email,
	}
	if claims.IssuedAt != nil {
		session.LoginAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}
