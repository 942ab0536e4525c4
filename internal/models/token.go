package models

import "time"

// APIToken is a bearer credential for the admin API. Only the hash is stored.
type APIToken struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	IsAdmin   bool       `json:"is_admin"`
	Prefix    string     `json:"prefix"`
	Hash      string     `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
	Revoked   bool       `json:"revoked"`
}

// Expired reports whether the token is past its expiry at now
func (t *APIToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// APITokenCreateResult holds a freshly minted token; the plain value is shown once
type APITokenCreateResult struct {
	Token *APIToken `json:"token"`
	Value string    `json:"value"`
}
