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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

// CredentialRegistry is a PostgreSQL-backed implementation of
// passkey.CredentialRegistry. Transports are stored as a JSONB array.
type CredentialRegistry struct {
	db *sql.DB
}

// NewCredentialRegistry creates a credential registry bound to the given database.
func NewCredentialRegistry(db *sql.DB) *CredentialRegistry {
	return &CredentialRegistry{db: db}
}

// Save stores a new credential.
func (r *CredentialRegistry) Save(ctx context.Context, cred *passkey.Credential) error {
	transports, err := json.Marshal(cred.Transports)
	if err != nil {
		return fmt.Errorf("failed to encode transports: %w", err)
	}

	query := `INSERT INTO credentials (id, user_id, public_key, counter, backed_up, transports, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = r.db.ExecContext(ctx, query,
		cred.ID, cred.UserID, cred.PublicKey, int64(cred.Counter),
		cred.BackedUp, transports, cred.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return passkey.ErrCredentialAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// FindByID retrieves a credential by its base64url ID.
func (r *CredentialRegistry) FindByID(ctx context.Context, credentialID string) (*passkey.Credential, error) {
	query := `SELECT id, user_id, public_key, counter, backed_up, transports, created_at
	          FROM credentials WHERE id = $1`

	cred, err := scanCredential(r.db.QueryRowContext(ctx, query, credentialID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, passkey.ErrCredentialNotFound
		}
		return nil, err
	}
	return cred, nil
}

// FindAllByUserID retrieves all credentials for a user.
func (r *CredentialRegistry) FindAllByUserID(ctx context.Context, userID int64) ([]*passkey.Credential, error) {
	query := `SELECT id, user_id, public_key, counter, backed_up, transports, created_at
	          FROM credentials WHERE user_id = $1`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	creds := make([]*passkey.Credential, 0)
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return creds, nil
}

// UpdateCounter unconditionally sets the stored signature counter.
func (r *CredentialRegistry) UpdateCounter(ctx context.Context, credentialID string, counter uint32) error {
	query := `UPDATE credentials SET counter = $2 WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, credentialID, int64(counter))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return passkey.ErrCredentialNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*passkey.Credential, error) {
	var (
		cred       passkey.Credential
		counter    int64
		transports []byte
	)
	err := row.Scan(&cred.ID, &cred.UserID, &cred.PublicKey, &counter,
		&cred.BackedUp, &transports, &cred.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	cred.Counter = uint32(counter)
	if err := json.Unmarshal(transports, &cred.Transports); err != nil {
		return nil, fmt.Errorf("failed to decode transports: %w", err)
	}
	return &cred, nil
}
