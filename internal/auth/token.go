package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/pageforge/internal/models"
)

// TokenPrefix marks opaque pageforge API tokens
const TokenPrefix = "pf_"

// TokenStore persists API tokens by hash
type TokenStore interface {
	CreateToken(ctx context.Context, t *models.APIToken) error
	GetTokenByHash(ctx context.Context, hash string) (*models.APIToken, error)
	ListTokens(ctx context.Context) ([]models.APIToken, error)
	RevokeToken(ctx context.Context, id string) error
	TouchToken(ctx context.Context, id string, at time.Time) error
}

// GenerateToken returns a new random token value
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return TokenPrefix + hex.EncodeToString(b), nil
}

// HashToken computes the SHA256 hash under which a token is stored
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// IssueOptions describe a token to mint
type IssueOptions struct {
	Name    string
	Email   string
	IsAdmin bool
	TTL     time.Duration // zero means no expiry
}

// IssueToken mints and stores a token. The plain value is only returned here.
func IssueToken(ctx context.Context, store TokenStore, opts IssueOptions) (*models.APITokenCreateResult, error) {
	if strings.TrimSpace(opts.Email) == "" {
		return nil, errors.New("token email is required")
	}

	value, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	t := &models.APIToken{
		ID:        uuid.New().String(),
		Name:      opts.Name,
		Email:     opts.Email,
		IsAdmin:   opts.IsAdmin,
		Prefix:    value[:len(TokenPrefix)+8],
		Hash:      HashToken(value),
		CreatedAt: now,
	}
	if opts.TTL > 0 {
		exp := now.Add(opts.TTL)
		t.ExpiresAt = &exp
	}

	if err := store.CreateToken(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}

	return &models.APITokenCreateResult{Token: t, Value: value}, nil
}

// TokenVerifier checks opaque API tokens against a TokenStore
type TokenVerifier struct {
	store  TokenStore
	now    func() time.Time
	logger *slog.Logger
}

func NewTokenVerifier(store TokenStore, logger *slog.Logger) *TokenVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenVerifier{
		store:  store,
		now:    time.Now,
		logger: logger,
	}
}

func (v *TokenVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if !strings.HasPrefix(token, TokenPrefix) {
		return nil, ErrInvalidToken
	}

	t, err := v.store.GetTokenByHash(ctx, HashToken(token))
	if errors.Is(err, ErrTokenNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}

	now := v.now()
	if t.Revoked || t.Expired(now) {
		return nil, ErrInvalidToken
	}

	if err := v.store.TouchToken(ctx, t.ID, now.UTC()); err != nil {
		v.logger.Warn("failed to record token use", "token_id", t.ID, "error", err)
	}

	return &Identity{
		UserID:  "token:" + t.ID,
		Email:   t.Email,
		IsAdmin: t.IsAdmin,
	}, nil
}
