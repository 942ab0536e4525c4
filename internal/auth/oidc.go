package auth

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/foxzi/pageforge/internal/config"
)

// OIDCVerifier accepts ID tokens issued by the configured provider
type OIDCVerifier struct {
	config   *config.OIDCConfig
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the provider and builds a verifier.
// It returns nil when OIDC is disabled.
func NewOIDCVerifier(ctx context.Context, cfg *config.OIDCConfig) (*OIDCVerifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	return newOIDCVerifier(cfg, provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})), nil
}

func newOIDCVerifier(cfg *config.OIDCConfig, v *oidc.IDTokenVerifier) *OIDCVerifier {
	return &OIDCVerifier{config: cfg, verifier: v}
}

func (v *OIDCVerifier) Verify(ctx context.Context, raw string) (*Identity, error) {
	if strings.HasPrefix(raw, TokenPrefix) || strings.Count(raw, ".") != 2 {
		return nil, ErrInvalidToken
	}

	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var claims struct {
		Email         string   `json:"email"`
		EmailVerified *bool    `json:"email_verified"`
		Groups        []string `json:"groups"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse claims: %v", ErrInvalidToken, err)
	}
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		return nil, fmt.Errorf("%w: email not verified", ErrInvalidToken)
	}

	if len(v.config.AllowedGroups) > 0 && !anyGroup(claims.Groups, v.config.AllowedGroups) {
		return nil, fmt.Errorf("%w: user not in allowed groups", ErrInvalidToken)
	}

	admin := anyGroup(claims.Groups, v.config.AdminGroups)
	for _, e := range v.config.AdminEmails {
		if claims.Email != "" && strings.EqualFold(e, claims.Email) {
			admin = true
			break
		}
	}

	return &Identity{
		UserID:  "oidc:" + idToken.Subject,
		Email:   claims.Email,
		IsAdmin: admin,
	}, nil
}

func anyGroup(have, want []string) bool {
	for _, g := range want {
		if slices.Contains(have, g) {
			return true
		}
	}
	return false
}
