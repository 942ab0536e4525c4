package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/foxzi/pageforge/internal/db"
	"github.com/foxzi/pageforge/internal/layout"
	"github.com/foxzi/pageforge/internal/models"
)

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const layoutColumns = `id, slug, name, title, sections, metadata, current_version_id, created_at, updated_at, updated_by`

const versionColumns = `id, layout_id, seq, sections, created_at, created_by, is_draft, notes`

// LayoutRepository is the SQL Content Store
type LayoutRepository struct {
	db *db.DB
}

func NewLayoutRepository(d *db.DB) *LayoutRepository {
	return &LayoutRepository{db: d}
}

var _ layout.Store = (*LayoutRepository)(nil)

// CreateLayout inserts the layout and its seed version in one transaction
func (r *LayoutRepository) CreateLayout(ctx context.Context, l *models.Layout, seed *models.Version) error {
	sections, err := marshalSections(l.Sections)
	if err != nil {
		return err
	}
	seedSections, err := marshalSections(seed.Sections)
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(l.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin create", err)
	}
	defer tx.Rollback()

	seed.Seq = 1
	seed.LayoutID = l.ID
	l.CurrentVersionID = seed.VersionID

	_, err = tx.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO layouts (`+layoutColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		l.ID, l.Slug, l.Name, l.Title, sections, string(metadata), l.CurrentVersionID,
		l.CreatedAt, l.UpdatedAt, l.UpdatedBy,
	)
	if err != nil {
		return classify("insert layout", err)
	}

	if err := r.insertVersion(ctx, tx, seed, seedSections); err != nil {
		return err
	}

	return classify("commit create", tx.Commit())
}

// GetLayoutBySlug returns a layout without its history
func (r *LayoutRepository) GetLayoutBySlug(ctx context.Context, slug string) (*models.Layout, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT `+layoutColumns+` FROM layouts WHERE slug = ?`), slug)
	l, err := scanLayout(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, layout.ErrLayoutNotFound
	}
	if err != nil {
		return nil, classify("get layout by slug", err)
	}
	return l, nil
}

// GetLayoutByID returns a layout, optionally with its full history. The
// layout row is read before the history; versions are append-only, so the
// history always contains the current version.
func (r *LayoutRepository) GetLayoutByID(ctx context.Context, id string, withVersions bool) (*models.Layout, error) {
	l, err := r.getLayout(ctx, r.db, id, false)
	if err != nil {
		return nil, err
	}
	if withVersions {
		if l.Versions, err = r.listVersions(ctx, r.db, id); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// ListLayouts returns every layout, most recently updated first
func (r *LayoutRepository) ListLayouts(ctx context.Context) ([]models.Layout, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+layoutColumns+` FROM layouts ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, classify("list layouts", err)
	}
	defer rows.Close()

	layouts := []models.Layout{}
	for rows.Next() {
		l, err := scanLayout(rows)
		if err != nil {
			return nil, classify("scan layout", err)
		}
		layouts = append(layouts, *l)
	}

	return layouts, classify("list layouts", rows.Err())
}

// UpdateLayout applies a shallow patch. A changed slug is checked against
// the unique index.
func (r *LayoutRepository) UpdateLayout(ctx context.Context, id string, patch models.LayoutPatch, by string, at time.Time) (*models.Layout, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("begin update", err)
	}
	defer tx.Rollback()

	l, err := r.getLayout(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}

	patch.Apply(l)
	l.UpdatedAt = at
	l.UpdatedBy = by

	metadata, err := json.Marshal(l.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, r.db.Rebind(`
		UPDATE layouts SET name = ?, title = ?, slug = ?, metadata = ?, updated_at = ?, updated_by = ?
		WHERE id = ?`),
		l.Name, l.Title, l.Slug, string(metadata), l.UpdatedAt, l.UpdatedBy, l.ID,
	)
	if err != nil {
		return nil, classify("update layout", err)
	}

	if l.Versions, err = r.listVersions(ctx, tx, id); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, classify("commit update", err)
	}
	return l, nil
}

// DeleteLayout removes a layout and all of its versions
func (r *LayoutRepository) DeleteLayout(ctx context.Context, id string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, classify("begin delete", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM layout_versions WHERE layout_id = ?`), id); err != nil {
		return false, classify("delete versions", err)
	}

	res, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM layouts WHERE id = ?`), id)
	if err != nil {
		return false, classify("delete layout", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, classify("delete layout", err)
	}

	if err := tx.Commit(); err != nil {
		return false, classify("commit delete", err)
	}
	return affected > 0, nil
}

// AppendVersion adds v to the history under the next sequence number. A
// published version becomes current in the same transaction.
func (r *LayoutRepository) AppendVersion(ctx context.Context, layoutID string, v *models.Version, expectedCurrent string) (*models.Layout, error) {
	sections, err := marshalSections(v.Sections)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("begin save version", err)
	}
	defer tx.Rollback()

	current, err := r.lockCurrent(ctx, tx, layoutID)
	if err != nil {
		return nil, err
	}
	if expectedCurrent != "" && expectedCurrent != current {
		return nil, fmt.Errorf("%w: expected %s, found %s", layout.ErrVersionConflict, expectedCurrent, current)
	}

	var seq int64
	err = tx.QueryRowContext(ctx, r.db.Rebind(`SELECT COALESCE(MAX(seq), 0) + 1 FROM layout_versions WHERE layout_id = ?`), layoutID).Scan(&seq)
	if err != nil {
		return nil, classify("next version seq", err)
	}
	v.Seq = seq
	v.LayoutID = layoutID

	if err := r.insertVersion(ctx, tx, v, sections); err != nil {
		return nil, err
	}

	if v.IsDraft {
		_, err = tx.ExecContext(ctx, r.db.Rebind(`UPDATE layouts SET updated_at = ?, updated_by = ? WHERE id = ?`),
			v.CreatedAt, v.CreatedBy, layoutID)
	} else {
		_, err = tx.ExecContext(ctx, r.db.Rebind(`
			UPDATE layouts SET sections = ?, current_version_id = ?, updated_at = ?, updated_by = ?
			WHERE id = ?`),
			sections, v.VersionID, v.CreatedAt, v.CreatedBy, layoutID)
	}
	if err != nil {
		return nil, classify("update layout pointer", err)
	}

	l, err := r.loadFull(ctx, tx, layoutID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, classify("commit save version", err)
	}
	return l, nil
}

// SetCurrentVersion moves the pointer to an existing version and mirrors
// its sections. History is left untouched.
func (r *LayoutRepository) SetCurrentVersion(ctx context.Context, layoutID, versionID, by, expectedCurrent string, at time.Time) (*models.Layout, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("begin revert", err)
	}
	defer tx.Rollback()

	current, err := r.lockCurrent(ctx, tx, layoutID)
	if err != nil {
		return nil, err
	}
	if expectedCurrent != "" && expectedCurrent != current {
		return nil, fmt.Errorf("%w: expected %s, found %s", layout.ErrVersionConflict, expectedCurrent, current)
	}

	var sections string
	err = tx.QueryRowContext(ctx, r.db.Rebind(`SELECT sections FROM layout_versions WHERE id = ? AND layout_id = ?`),
		versionID, layoutID).Scan(&sections)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", layout.ErrVersionNotFound, versionID)
	}
	if err != nil {
		return nil, classify("get version", err)
	}

	_, err = tx.ExecContext(ctx, r.db.Rebind(`
		UPDATE layouts SET sections = ?, current_version_id = ?, updated_at = ?, updated_by = ?
		WHERE id = ?`),
		sections, versionID, at, by, layoutID)
	if err != nil {
		return nil, classify("update layout pointer", err)
	}

	l, err := r.loadFull(ctx, tx, layoutID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, classify("commit revert", err)
	}
	return l, nil
}

// ListVersions returns the history oldest first
func (r *LayoutRepository) ListVersions(ctx context.Context, layoutID string) ([]models.Version, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT 1 FROM layouts WHERE id = ?`), layoutID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, layout.ErrLayoutNotFound
	}
	if err != nil {
		return nil, classify("check layout", err)
	}
	return r.listVersions(ctx, r.db, layoutID)
}

// Stats counts layouts and versions
func (r *LayoutRepository) Stats(ctx context.Context) (*models.Stats, error) {
	st := &models.Stats{}
	err := r.db.QueryRowContext(ctx, `SELECT (SELECT COUNT(*) FROM layouts), (SELECT COUNT(*) FROM layout_versions)`).
		Scan(&st.Layouts, &st.Versions)
	if err != nil {
		return nil, classify("stats", err)
	}
	return st, nil
}

// Close closes the underlying database
func (r *LayoutRepository) Close() error {
	return r.db.Close()
}

// lockCurrent reads the current pointer of a layout, locking its row
func (r *LayoutRepository) lockCurrent(ctx context.Context, q querier, layoutID string) (string, error) {
	var current sql.NullString
	err := q.QueryRowContext(ctx, r.db.Rebind(`SELECT current_version_id FROM layouts WHERE id = ?`+r.db.ForUpdate()), layoutID).
		Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return "", layout.ErrLayoutNotFound
	}
	if err != nil {
		return "", classify("lock layout", err)
	}
	return current.String, nil
}

func (r *LayoutRepository) getLayout(ctx context.Context, q querier, id string, lock bool) (*models.Layout, error) {
	query := `SELECT ` + layoutColumns + ` FROM layouts WHERE id = ?`
	if lock {
		query += r.db.ForUpdate()
	}
	l, err := scanLayout(q.QueryRowContext(ctx, r.db.Rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, layout.ErrLayoutNotFound
	}
	if err != nil {
		return nil, classify("get layout", err)
	}
	return l, nil
}

func (r *LayoutRepository) loadFull(ctx context.Context, q querier, id string) (*models.Layout, error) {
	l, err := r.getLayout(ctx, q, id, false)
	if err != nil {
		return nil, err
	}
	if l.Versions, err = r.listVersions(ctx, q, id); err != nil {
		return nil, err
	}
	return l, nil
}

func (r *LayoutRepository) insertVersion(ctx context.Context, q querier, v *models.Version, sections string) error {
	_, err := q.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO layout_versions (`+versionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		v.VersionID, v.LayoutID, v.Seq, sections, v.CreatedAt, v.CreatedBy, v.IsDraft, v.Notes,
	)
	if err != nil {
		return classify("insert version", err)
	}
	return nil
}

func (r *LayoutRepository) listVersions(ctx context.Context, q querier, layoutID string) ([]models.Version, error) {
	rows, err := q.QueryContext(ctx, r.db.Rebind(`SELECT `+versionColumns+` FROM layout_versions WHERE layout_id = ? ORDER BY seq ASC`), layoutID)
	if err != nil {
		return nil, classify("list versions", err)
	}
	defer rows.Close()

	versions := []models.Version{}
	for rows.Next() {
		var v models.Version
		var sections string
		if err := rows.Scan(&v.VersionID, &v.LayoutID, &v.Seq, &sections, &v.CreatedAt, &v.CreatedBy, &v.IsDraft, &v.Notes); err != nil {
			return nil, classify("scan version", err)
		}
		if v.Sections, err = unmarshalSections(sections); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}

	return versions, classify("list versions", rows.Err())
}

func scanLayout(row rowScanner) (*models.Layout, error) {
	l := &models.Layout{}
	var sections, metadata string
	var current sql.NullString

	err := row.Scan(&l.ID, &l.Slug, &l.Name, &l.Title, &sections, &metadata, &current,
		&l.CreatedAt, &l.UpdatedAt, &l.UpdatedBy)
	if err != nil {
		return nil, err
	}

	l.CurrentVersionID = current.String
	if l.Sections, err = unmarshalSections(sections); err != nil {
		return nil, err
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &l.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of layout %s: %w", l.ID, err)
		}
	}
	return l, nil
}

func marshalSections(s []models.Section) (string, error) {
	if s == nil {
		s = []models.Section{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode sections: %w", err)
	}
	return string(data), nil
}

func unmarshalSections(data string) ([]models.Section, error) {
	sections := []models.Section{}
	if data == "" {
		return sections, nil
	}
	if err := json.Unmarshal([]byte(data), &sections); err != nil {
		return nil, fmt.Errorf("failed to decode sections: %w", err)
	}
	return sections, nil
}
