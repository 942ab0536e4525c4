package layout

import (
	"context"
	"time"

	"github.com/foxzi/pageforge/internal/models"
)

// Store is the durable Content Store. Every write is atomic: it either
// succeeds entirely or leaves the prior state untouched.
//
// Implementations return ErrLayoutNotFound, ErrVersionNotFound,
// ErrSlugConflict and ErrVersionConflict for the corresponding conditions.
type Store interface {
	// CreateLayout persists l together with its seed version and points
	// the layout at it. seed.Seq is assigned by the store.
	CreateLayout(ctx context.Context, l *models.Layout, seed *models.Version) error

	// GetLayoutBySlug returns the layout without its version history.
	GetLayoutBySlug(ctx context.Context, slug string) (*models.Layout, error)

	GetLayoutByID(ctx context.Context, id string, withVersions bool) (*models.Layout, error)

	// ListLayouts returns every layout without version history.
	ListLayouts(ctx context.Context) ([]models.Layout, error)

	UpdateLayout(ctx context.Context, id string, patch models.LayoutPatch, by string, at time.Time) (*models.Layout, error)

	// DeleteLayout removes the layout and its history. It reports whether
	// anything was removed.
	DeleteLayout(ctx context.Context, id string) (bool, error)

	// AppendVersion adds v to the layout history. Non-draft versions become
	// current in the same transaction. A non-empty expectedCurrent must match
	// the stored pointer.
	AppendVersion(ctx context.Context, layoutID string, v *models.Version, expectedCurrent string) (*models.Layout, error)

	// SetCurrentVersion moves the current pointer to an existing version.
	SetCurrentVersion(ctx context.Context, layoutID, versionID, by, expectedCurrent string, at time.Time) (*models.Layout, error)

	// ListVersions returns the history oldest first.
	ListVersions(ctx context.Context, layoutID string) ([]models.Version, error)

	Stats(ctx context.Context) (*models.Stats, error)

	Close() error
}
