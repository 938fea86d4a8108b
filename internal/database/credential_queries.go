package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/parsascontentcorner/discordliteclient/internal/models"
)

// SaveCredential stores a credential for its profile. The token must
// already be encrypted.
func (db *DB) SaveCredential(ctx context.Context, cred *models.Credential) error {
	query := `
		INSERT INTO credentials (profile, session_id, token, account_id, email, username)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (profile) DO UPDATE
		SET session_id = EXCLUDED.session_id,
		    token = EXCLUDED.token,
		    account_id = EXCLUDED.account_id,
		    email = EXCLUDED.email,
		    username = EXCLUDED.username,
		    updated_at = NOW()
		RETURNING created_at, updated_at
	`

	err := db.QueryRowContext(
		ctx,
		query,
		cred.Profile,
		cred.SessionID,
		cred.Token,
		cred.AccountID,
		cred.Email,
		cred.Username,
	).Scan(&cred.CreatedAt, &cred.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}

	return nil
}

// GetCredential retrieves the credential stored for profile
func (db *DB) GetCredential(ctx context.Context, profile string) (*models.Credential, error) {
	query := `
		SELECT profile, session_id, token, account_id, email, username, created_at, updated_at
		FROM credentials
		WHERE profile = $1
	`

	var cred models.Credential
	err := db.QueryRowContext(ctx, query, profile).Scan(
		&cred.Profile,
		&cred.SessionID,
		&cred.Token,
		&cred.AccountID,
		&cred.Email,
		&cred.Username,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("credential for profile %q: %w", profile, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	return &cred, nil
}

// DeleteCredential removes the credential for profile
func (db *DB) DeleteCredential(ctx context.Context, profile string) error {
	query := `DELETE FROM credentials WHERE profile = $1`

	if _, err := db.ExecContext(ctx, query, profile); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	return nil
}
