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

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

// ChallengeStore is a PostgreSQL-backed implementation of
// passkey.ChallengeStore. Consume uses DELETE ... RETURNING so two concurrent
// consumers of the same attempt ID cannot both succeed.
type ChallengeStore struct {
	db    *sql.DB
	clock func() time.Time
}

// NewChallengeStore creates a challenge store bound to the given database.
func NewChallengeStore(db *sql.DB) *ChallengeStore {
	return &ChallengeStore{db: db, clock: time.Now}
}

// Issue stores value under attemptID, overwriting any prior entry.
func (s *ChallengeStore) Issue(ctx context.Context, attemptID, value string, ttl time.Duration) error {
	query := `INSERT INTO challenges (attempt_id, value, expires_at)
	          VALUES ($1, $2, $3)
	          ON CONFLICT (attempt_id)
	          DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`

	_, err := s.db.ExecContext(ctx, query, attemptID, value, s.clock().Add(ttl))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Consume atomically retrieves and deletes the entry for attemptID. The row
// is removed even when it had already expired, so a stale attempt ID cannot
// be retried either.
func (s *ChallengeStore) Consume(ctx context.Context, attemptID string) (string, error) {
	query := `DELETE FROM challenges
	          WHERE attempt_id = $1
	          RETURNING value, expires_at`

	var (
		value     string
		expiresAt time.Time
	)
	err := s.db.QueryRowContext(ctx, query, attemptID).Scan(&value, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", passkey.ErrChallengeExpired
		}
		return "", fmt.Errorf("db error: %w", err)
	}
	if s.clock().After(expiresAt) {
		return "", passkey.ErrChallengeExpired
	}
	return value, nil
}

// PurgeExpired deletes expired challenge rows and returns how many were removed.
// Intended to be called periodically by the server.
func (s *ChallengeStore) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM challenges WHERE expires_at < $1`, s.clock())
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return affected, nil
}
