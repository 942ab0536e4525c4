package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/pageforge/internal/layout"
	"github.com/foxzi/pageforge/internal/models"
)

var (
	bucketLayouts     = []byte("layouts")
	bucketLayoutSlugs = []byte("layout_slugs")
	bucketVersions    = []byte("layout_versions")
	bucketTokens      = []byte("api_tokens")
	bucketTokenHashes = []byte("api_token_hashes")
)

var errAbandoned = errors.New("transaction abandoned by caller")

// Store is the embedded bbolt Content Store. Each layout's history lives in
// its own nested bucket keyed by big-endian sequence number.
type Store struct {
	db *bolt.DB
}

var _ layout.Store = (*Store)(nil)

// Open opens (or creates) the database file at path
func Open(path string, timeout time.Duration) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	if timeout <= 0 {
		timeout = time.Second
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: timeout})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, layout.Unavailable("open", err)
		}
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketLayouts, bucketLayoutSlugs, bucketVersions, bucketTokens, bucketTokenHashes} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// DB returns the underlying database
func (s *Store) DB() *bolt.DB {
	return s.db
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// view runs a read transaction. The caller stops waiting when ctx ends;
// an abandoned read has no effect.
func (s *Store) view(ctx context.Context, op string, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return layout.Unavailable(op, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.db.View(fn)
	}()

	select {
	case err := <-done:
		return wrap(op, err)
	case <-ctx.Done():
		return layout.Unavailable(op, ctx.Err())
	}
}

// update runs a write transaction. bbolt allows one writer at a time, so a
// call may queue behind another; when ctx ends while it is still queued
// the write is abandoned and rolls back once it gets the lock. A write
// that already holds the lock runs to completion and its result is
// returned.
func (s *Store) update(ctx context.Context, op string, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return layout.Unavailable(op, err)
	}

	var (
		mu        sync.Mutex
		started   bool
		abandoned bool
	)
	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(tx *bolt.Tx) error {
			mu.Lock()
			if abandoned {
				mu.Unlock()
				return errAbandoned
			}
			started = true
			mu.Unlock()
			return fn(tx)
		})
	}()

	select {
	case err := <-done:
		return wrap(op, err)
	case <-ctx.Done():
		mu.Lock()
		if !started {
			abandoned = true
			mu.Unlock()
			return layout.Unavailable(op, ctx.Err())
		}
		mu.Unlock()
		return wrap(op, <-done)
	}
}

// wrap leaves domain errors alone and marks a closed database unavailable
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, bolt.ErrDatabaseNotOpen) || errors.Is(err, bolt.ErrTimeout) {
		return layout.Unavailable(op, err)
	}
	return err
}

func (s *Store) CreateLayout(ctx context.Context, l *models.Layout, seed *models.Version) error {
	return s.update(ctx, "create", func(tx *bolt.Tx) error {
		slugs := tx.Bucket(bucketLayoutSlugs)
		if slugs.Get([]byte(l.Slug)) != nil {
			return fmt.Errorf("%w: %s", layout.ErrSlugConflict, l.Slug)
		}

		history, err := tx.Bucket(bucketVersions).CreateBucket([]byte(l.ID))
		if err != nil {
			return fmt.Errorf("failed to create version bucket: %w", err)
		}

		seq, err := history.NextSequence()
		if err != nil {
			return err
		}
		seed.Seq = int64(seq)
		seed.LayoutID = l.ID
		l.CurrentVersionID = seed.VersionID

		if err := putVersion(history, seed); err != nil {
			return err
		}
		if err := putLayout(tx, l); err != nil {
			return err
		}
		return slugs.Put([]byte(l.Slug), []byte(l.ID))
	})
}

func (s *Store) GetLayoutBySlug(ctx context.Context, slug string) (*models.Layout, error) {
	var l *models.Layout
	err := s.view(ctx, "get_by_slug", func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketLayoutSlugs).Get([]byte(slug))
		if id == nil {
			return layout.ErrLayoutNotFound
		}
		var err error
		l, err = getLayout(tx, string(id))
		return err
	})
	return l, err
}

func (s *Store) GetLayoutByID(ctx context.Context, id string, withVersions bool) (*models.Layout, error) {
	var l *models.Layout
	err := s.view(ctx, "get_by_id", func(tx *bolt.Tx) error {
		var err error
		if l, err = getLayout(tx, id); err != nil {
			return err
		}
		if withVersions {
			l.Versions, err = listVersions(tx, id)
		}
		return err
	})
	return l, err
}

func (s *Store) ListLayouts(ctx context.Context) ([]models.Layout, error) {
	layouts := []models.Layout{}
	err := s.view(ctx, "list", func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLayouts).ForEach(func(k, v []byte) error {
			var l models.Layout
			if err := json.Unmarshal(v, &l); err != nil {
				return fmt.Errorf("failed to decode layout %s: %w", k, err)
			}
			layouts = append(layouts, l)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(layouts, func(i, j int) bool {
		if !layouts[i].UpdatedAt.Equal(layouts[j].UpdatedAt) {
			return layouts[i].UpdatedAt.After(layouts[j].UpdatedAt)
		}
		return layouts[i].ID < layouts[j].ID
	})
	return layouts, nil
}

func (s *Store) UpdateLayout(ctx context.Context, id string, patch models.LayoutPatch, by string, at time.Time) (*models.Layout, error) {
	var l *models.Layout
	err := s.update(ctx, "update", func(tx *bolt.Tx) error {
		var err error
		if l, err = getLayout(tx, id); err != nil {
			return err
		}
		oldSlug := l.Slug

		patch.Apply(l)
		l.UpdatedAt = at
		l.UpdatedBy = by

		if l.Slug != oldSlug {
			slugs := tx.Bucket(bucketLayoutSlugs)
			if owner := slugs.Get([]byte(l.Slug)); owner != nil && string(owner) != id {
				return fmt.Errorf("%w: %s", layout.ErrSlugConflict, l.Slug)
			}
			if err := slugs.Delete([]byte(oldSlug)); err != nil {
				return err
			}
			if err := slugs.Put([]byte(l.Slug), []byte(id)); err != nil {
				return err
			}
		}

		if err := putLayout(tx, l); err != nil {
			return err
		}
		l.Versions, err = listVersions(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (s *Store) DeleteLayout(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := s.update(ctx, "delete", func(tx *bolt.Tx) error {
		l, err := getLayout(tx, id)
		if errors.Is(err, layout.ErrLayoutNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := tx.Bucket(bucketLayoutSlugs).Delete([]byte(l.Slug)); err != nil {
			return err
		}
		versions := tx.Bucket(bucketVersions)
		if versions.Bucket([]byte(id)) != nil {
			if err := versions.DeleteBucket([]byte(id)); err != nil {
				return err
			}
		}
		if err := tx.Bucket(bucketLayouts).Delete([]byte(id)); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

func (s *Store) AppendVersion(ctx context.Context, layoutID string, v *models.Version, expectedCurrent string) (*models.Layout, error) {
	var l *models.Layout
	err := s.update(ctx, "save_version", func(tx *bolt.Tx) error {
		var err error
		if l, err = getLayout(tx, layoutID); err != nil {
			return err
		}
		if expectedCurrent != "" && expectedCurrent != l.CurrentVersionID {
			return fmt.Errorf("%w: expected %s, found %s", layout.ErrVersionConflict, expectedCurrent, l.CurrentVersionID)
		}

		history, err := tx.Bucket(bucketVersions).CreateBucketIfNotExists([]byte(layoutID))
		if err != nil {
			return err
		}
		seq, err := history.NextSequence()
		if err != nil {
			return err
		}
		v.Seq = int64(seq)
		v.LayoutID = layoutID
		if err := putVersion(history, v); err != nil {
			return err
		}

		if !v.IsDraft {
			l.CurrentVersionID = v.VersionID
			l.Sections = v.Sections
		}
		l.UpdatedAt = v.CreatedAt
		l.UpdatedBy = v.CreatedBy

		if err := putLayout(tx, l); err != nil {
			return err
		}
		l.Versions, err = listVersions(tx, layoutID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (s *Store) SetCurrentVersion(ctx context.Context, layoutID, versionID, by, expectedCurrent string, at time.Time) (*models.Layout, error) {
	var l *models.Layout
	err := s.update(ctx, "revert", func(tx *bolt.Tx) error {
		var err error
		if l, err = getLayout(tx, layoutID); err != nil {
			return err
		}
		if expectedCurrent != "" && expectedCurrent != l.CurrentVersionID {
			return fmt.Errorf("%w: expected %s, found %s", layout.ErrVersionConflict, expectedCurrent, l.CurrentVersionID)
		}

		versions, err := listVersions(tx, layoutID)
		if err != nil {
			return err
		}
		var target *models.Version
		for i := range versions {
			if versions[i].VersionID == versionID {
				target = &versions[i]
				break
			}
		}
		if target == nil {
			return fmt.Errorf("%w: %s", layout.ErrVersionNotFound, versionID)
		}

		l.CurrentVersionID = target.VersionID
		l.Sections = target.Sections
		l.UpdatedAt = at
		l.UpdatedBy = by

		if err := putLayout(tx, l); err != nil {
			return err
		}
		l.Versions = versions
		return nil
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (s *Store) ListVersions(ctx context.Context, layoutID string) ([]models.Version, error) {
	var versions []models.Version
	err := s.view(ctx, "list_versions", func(tx *bolt.Tx) error {
		if tx.Bucket(bucketLayouts).Get([]byte(layoutID)) == nil {
			return layout.ErrLayoutNotFound
		}
		var err error
		versions, err = listVersions(tx, layoutID)
		return err
	})
	return versions, err
}

func (s *Store) Stats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{}
	err := s.view(ctx, "stats", func(tx *bolt.Tx) error {
		stats.Layouts = int64(tx.Bucket(bucketLayouts).Stats().KeyN)
		return tx.Bucket(bucketVersions).ForEachBucket(func(k []byte) error {
			stats.Versions += int64(tx.Bucket(bucketVersions).Bucket(k).Stats().KeyN)
			return nil
		})
	})
	return stats, err
}

func getLayout(tx *bolt.Tx, id string) (*models.Layout, error) {
	data := tx.Bucket(bucketLayouts).Get([]byte(id))
	if data == nil {
		return nil, layout.ErrLayoutNotFound
	}
	l := &models.Layout{}
	if err := json.Unmarshal(data, l); err != nil {
		return nil, fmt.Errorf("failed to decode layout %s: %w", id, err)
	}
	l.Versions = nil
	return l, nil
}

// putLayout stores the layout row; history lives in its own bucket
func putLayout(tx *bolt.Tx, l *models.Layout) error {
	row := *l
	row.Versions = nil
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to encode layout: %w", err)
	}
	return tx.Bucket(bucketLayouts).Put([]byte(l.ID), data)
}

func putVersion(history *bolt.Bucket, v *models.Version) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode version: %w", err)
	}
	return history.Put(seqKey(v.Seq), data)
}

func listVersions(tx *bolt.Tx, layoutID string) ([]models.Version, error) {
	versions := []models.Version{}
	history := tx.Bucket(bucketVersions).Bucket([]byte(layoutID))
	if history == nil {
		return versions, nil
	}

	// Big-endian keys iterate in sequence order
	c := history.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var ver models.Version
		if err := json.Unmarshal(v, &ver); err != nil {
			return nil, fmt.Errorf("failed to decode version %x of layout %s: %w", k, layoutID, err)
		}
		versions = append(versions, ver)
	}
	return versions, nil
}

func seqKey(seq int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(seq))
	return b
}
