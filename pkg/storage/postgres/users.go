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

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

// pgUniqueViolation is the PostgreSQL error code for unique constraint violations.
const pgUniqueViolation = "23505"

// UserDirectory is a PostgreSQL-backed implementation of passkey.UserDirectory.
type UserDirectory struct {
	db *sql.DB
}

// NewUserDirectory creates a user directory bound to the given database.
func NewUserDirectory(db *sql.DB) *UserDirectory {
	return &UserDirectory{db: db}
}

// FindByEmail retrieves a user by email.
func (d *UserDirectory) FindByEmail(ctx context.Context, email string) (*passkey.User, error) {
	query := `SELECT id, email, created_at FROM users WHERE email = $1`

	user := &passkey.User{}
	err := d.db.QueryRowContext(ctx, query, email).Scan(&user.ID, &user.Email, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, passkey.ErrUserNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

// FindByID retrieves a user by numeric ID.
func (d *UserDirectory) FindByID(ctx context.Context, id int64) (*passkey.User, error) {
	query := `SELECT id, email, created_at FROM users WHERE id = $1`

	user := &passkey.User{}
	err := d.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.Email, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, passkey.ErrUserNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

// Create creates a new user with the given email.
func (d *UserDirectory) Create(ctx context.Context, email string) (*passkey.User, error) {
	query := `INSERT INTO users (email)
	          VALUES ($1)
	          RETURNING id, email, created_at`

	user := &passkey.User{}
	err := d.db.QueryRowContext(ctx, query, email).Scan(&user.ID, &user.Email, &user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, passkey.ErrUserAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
