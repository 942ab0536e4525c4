package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/foxzi/pageforge/internal/auth"
	"github.com/foxzi/pageforge/internal/db"
	"github.com/foxzi/pageforge/internal/models"
)

const tokenColumns = `id, name, email, is_admin, prefix, token_hash, created_at, expires_at, last_used_at, revoked`

// TokenRepository stores API tokens by hash
type TokenRepository struct {
	db *db.DB
}

func NewTokenRepository(d *db.DB) *TokenRepository {
	return &TokenRepository{db: d}
}

var _ auth.TokenStore = (*TokenRepository)(nil)

func (r *TokenRepository) CreateToken(ctx context.Context, t *models.APIToken) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO api_tokens (`+tokenColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.Name, t.Email, t.IsAdmin, t.Prefix, t.Hash, t.CreatedAt, t.ExpiresAt, t.LastUsed, t.Revoked,
	)
	if err != nil {
		return fmt.Errorf("failed to create API token: %w", err)
	}
	return nil
}

// GetTokenByHash returns a token by its hash (for authentication)
func (r *TokenRepository) GetTokenByHash(ctx context.Context, hash string) (*models.APIToken, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT `+tokenColumns+` FROM api_tokens WHERE token_hash = ?`), hash)
	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrTokenNotFound
	}
	if err != nil {
		return nil, classify("get token", err)
	}
	return t, nil
}

// ListTokens returns all tokens, newest first
func (r *TokenRepository) ListTokens(ctx context.Context) ([]models.APIToken, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+tokenColumns+` FROM api_tokens ORDER BY created_at DESC`)
	if err != nil {
		return nil, classify("list tokens", err)
	}
	defer rows.Close()

	var tokens []models.APIToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, classify("scan token", err)
		}
		tokens = append(tokens, *t)
	}
	return tokens, rows.Err()
}

// RevokeToken marks a token as revoked
func (r *TokenRepository) RevokeToken(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE api_tokens SET revoked = ? WHERE id = ?`), true, id)
	if err != nil {
		return classify("revoke token", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return auth.ErrTokenNotFound
	}
	return nil
}

// TouchToken updates the last_used_at timestamp
func (r *TokenRepository) TouchToken(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE api_tokens SET last_used_at = ? WHERE id = ?`), at, id)
	return err
}

func scanToken(row rowScanner) (*models.APIToken, error) {
	t := &models.APIToken{}
	var expiresAt, lastUsedAt sql.NullTime

	err := row.Scan(&t.ID, &t.Name, &t.Email, &t.IsAdmin, &t.Prefix, &t.Hash,
		&t.CreatedAt, &expiresAt, &lastUsedAt, &t.Revoked)
	if err != nil {
		return nil, err
	}

	if expiresAt.Valid {
		t.ExpiresAt = &expiresAt.Time
	}
	if lastUsedAt.Valid {
		t.LastUsed = &lastUsedAt.Time
	}
	return t, nil
}
