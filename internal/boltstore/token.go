package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/pageforge/internal/auth"
	"github.com/foxzi/pageforge/internal/models"
)

var _ auth.TokenStore = (*Store)(nil)

// tokenRecord keeps the hash, which APIToken hides from JSON
type tokenRecord struct {
	models.APIToken
	Hash string `json:"hash"`
}

func (s *Store) CreateToken(ctx context.Context, t *models.APIToken) error {
	return s.update(ctx, "create token", func(tx *bolt.Tx) error {
		hashes := tx.Bucket(bucketTokenHashes)
		if hashes.Get([]byte(t.Hash)) != nil {
			return fmt.Errorf("token hash already exists")
		}
		if err := putToken(tx, t); err != nil {
			return err
		}
		return hashes.Put([]byte(t.Hash), []byte(t.ID))
	})
}

func (s *Store) GetTokenByHash(ctx context.Context, hash string) (*models.APIToken, error) {
	var t *models.APIToken
	err := s.view(ctx, "get token", func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketTokenHashes).Get([]byte(hash))
		if id == nil {
			return auth.ErrTokenNotFound
		}
		var err error
		t, err = getToken(tx, string(id))
		return err
	})
	return t, err
}

func (s *Store) ListTokens(ctx context.Context) ([]models.APIToken, error) {
	var tokens []models.APIToken
	err := s.view(ctx, "list tokens", func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTokens).ForEach(func(k, v []byte) error {
			var rec tokenRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to decode token %s: %w", k, err)
			}
			rec.APIToken.Hash = rec.Hash
			tokens = append(tokens, rec.APIToken)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.After(tokens[j].CreatedAt)
	})
	return tokens, nil
}

func (s *Store) RevokeToken(ctx context.Context, id string) error {
	return s.update(ctx, "revoke token", func(tx *bolt.Tx) error {
		t, err := getToken(tx, id)
		if err != nil {
			return err
		}
		t.Revoked = true
		return putToken(tx, t)
	})
}

func (s *Store) TouchToken(ctx context.Context, id string, at time.Time) error {
	return s.update(ctx, "touch token", func(tx *bolt.Tx) error {
		t, err := getToken(tx, id)
		if err != nil {
			return err
		}
		t.LastUsed = &at
		return putToken(tx, t)
	})
}

func getToken(tx *bolt.Tx, id string) (*models.APIToken, error) {
	data := tx.Bucket(bucketTokens).Get([]byte(id))
	if data == nil {
		return nil, auth.ErrTokenNotFound
	}
	var rec tokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode token %s: %w", id, err)
	}
	rec.APIToken.Hash = rec.Hash
	return &rec.APIToken, nil
}

func putToken(tx *bolt.Tx, t *models.APIToken) error {
	data, err := json.Marshal(tokenRecord{APIToken: *t, Hash: t.Hash})
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	return tx.Bucket(bucketTokens).Put([]byte(t.ID), data)
}
