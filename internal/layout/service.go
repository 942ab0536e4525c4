package layout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/pageforge/internal/bus"
	"github.com/foxzi/pageforge/internal/metrics"
	"github.com/foxzi/pageforge/internal/models"
)

// Publisher receives an event after every successful write
type Publisher interface {
	Publish(e bus.Event) int
}

// ServiceConfig configures the layout service
type ServiceConfig struct {
	// Timeout bounds every store call
	Timeout time.Duration
	Now     func() time.Time
}

// CreateLayoutRequest holds the fields of a new layout
type CreateLayoutRequest struct {
	Name     string              `json:"name"`
	Title    string              `json:"title"`
	Slug     string              `json:"slug"`
	Sections []models.Section    `json:"sections"`
	Metadata models.PageMetadata `json:"metadata"`
}

// MetadataUpdate is the slug-changing metadata edit. Title and Slug are
// required; Keywords and OGImage are left alone when nil.
type MetadataUpdate struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Slug        string  `json:"slug"`
	Keywords    *string `json:"keywords,omitempty"`
	OGImage     *string `json:"og_image,omitempty"`
}

// SaveVersionRequest describes a new version of a layout
type SaveVersionRequest struct {
	Sections []models.Section `json:"sections"`
	IsDraft  bool             `json:"is_draft"`
	Notes    string           `json:"notes,omitempty"`
	// ExpectedCurrentVersionID guards the pointer swap when set
	ExpectedCurrentVersionID string `json:"expected_current_version_id,omitempty"`
}

// Service implements layout CRUD and the version control operations on
// top of a Store.
type Service struct {
	store   Store
	events  Publisher
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewService creates a layout service. events may be nil.
func NewService(store Store, events Publisher, logger *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		store:   store,
		events:  events,
		timeout: cfg.Timeout,
		now:     cfg.Now,
		logger:  logger.With("component", "layout"),
	}
}

// CreateLayout stores a new layout seeded with an initial published version
func (s *Service) CreateLayout(ctx context.Context, req CreateLayoutRequest, author string) (*models.Layout, error) {
	slug := NormalizeSlug(req.Slug)
	if slug == "" {
		return nil, fmt.Errorf("%w: slug is required", ErrValidation)
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = title
	}

	now := s.now().UTC()
	l := &models.Layout{
		ID:        uuid.New().String(),
		Slug:      slug,
		Name:      name,
		Title:     title,
		Sections:  cloneSections(req.Sections),
		Metadata:  req.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
		UpdatedBy: author,
	}
	seed := &models.Version{
		VersionID: uuid.New().String(),
		LayoutID:  l.ID,
		Sections:  cloneSections(req.Sections),
		CreatedAt: now,
		CreatedBy: author,
		IsDraft:   false,
		Notes:     "initial",
	}
	l.CurrentVersionID = seed.VersionID

	err := s.call(ctx, "create", func(ctx context.Context) error {
		return s.store.CreateLayout(ctx, l, seed)
	})
	s.recordWrite("create", err)
	if err != nil {
		return nil, err
	}
	l.Versions = []models.Version{*seed}

	s.logger.Info("layout created", "layout_id", l.ID, "slug", l.Slug, "version_id", seed.VersionID, "author", author)
	s.publish(ctx, l.ID, bus.KindCreated)
	return Normalize(l), nil
}

// GetLayoutBySlug resolves a public slug to its layout, without history
func (s *Service) GetLayoutBySlug(ctx context.Context, slug string) (*models.Layout, error) {
	slug = NormalizeSlug(slug)
	if slug == "" {
		return nil, ErrLayoutNotFound
	}

	var l *models.Layout
	err := s.call(ctx, "get_by_slug", func(ctx context.Context) (err error) {
		l, err = s.store.GetLayoutBySlug(ctx, slug)
		return err
	})
	if err != nil {
		return nil, err
	}
	return Normalize(l), nil
}

// GetLayoutByID returns the layout with its full version history
func (s *Service) GetLayoutByID(ctx context.Context, id string) (*models.Layout, error) {
	var l *models.Layout
	err := s.call(ctx, "get_by_id", func(ctx context.Context) (err error) {
		l, err = s.store.GetLayoutByID(ctx, id, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	return Normalize(l), nil
}

// GetLayouts returns the whole collection without histories
func (s *Service) GetLayouts(ctx context.Context) ([]models.Layout, error) {
	var list []models.Layout
	err := s.call(ctx, "list", func(ctx context.Context) (err error) {
		list, err = s.store.ListLayouts(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.Layout{}
	}
	for i := range list {
		Normalize(&list[i])
	}
	return list, nil
}

// UpdateLayout merges patch over the editable fields of a layout
func (s *Service) UpdateLayout(ctx context.Context, id string, patch models.LayoutPatch, author string) (*models.Layout, error) {
	if patch.Slug != nil {
		slug := NormalizeSlug(*patch.Slug)
		if slug == "" {
			return nil, fmt.Errorf("%w: slug must not be empty", ErrValidation)
		}
		patch.Slug = &slug
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, fmt.Errorf("%w: title must not be empty", ErrValidation)
	}

	if patch.Empty() {
		return s.GetLayoutByID(ctx, id)
	}

	l, err := s.update(ctx, "update", id, patch, author)
	if err != nil {
		return nil, err
	}

	s.logger.Info("layout updated", "layout_id", id, "author", author)
	s.publish(ctx, id, bus.KindUpdated)
	return l, nil
}

// UpdateLayoutMetadata sets the public title, description and slug of a layout
func (s *Service) UpdateLayoutMetadata(ctx context.Context, id string, upd MetadataUpdate, author string) (*models.Layout, error) {
	title := strings.TrimSpace(upd.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	slug := NormalizeSlug(upd.Slug)
	if slug == "" {
		return nil, fmt.Errorf("%w: slug is required", ErrValidation)
	}

	patch := models.LayoutPatch{
		Title: &title,
		Slug:  &slug,
		Metadata: &models.MetadataPatch{
			Title:       &title,
			Description: &upd.Description,
			Keywords:    upd.Keywords,
			OGImage:     upd.OGImage,
		},
	}

	l, err := s.update(ctx, "metadata", id, patch, author)
	if err != nil {
		return nil, err
	}

	s.logger.Info("layout metadata updated", "layout_id", id, "slug", slug, "author", author)
	s.publish(ctx, id, bus.KindMetadata)
	return l, nil
}

func (s *Service) update(ctx context.Context, op, id string, patch models.LayoutPatch, author string) (*models.Layout, error) {
	var l *models.Layout
	err := s.call(ctx, op, func(ctx context.Context) (err error) {
		l, err = s.store.UpdateLayout(ctx, id, patch, author, s.now().UTC())
		return err
	})
	s.recordWrite(op, err)
	if err != nil {
		return nil, err
	}
	return Normalize(l), nil
}

// DeleteLayout removes a layout and its history. Deleting a missing layout
// is not an error; the result reports whether anything was removed.
func (s *Service) DeleteLayout(ctx context.Context, id, author string) (bool, error) {
	var deleted bool
	err := s.call(ctx, "delete", func(ctx context.Context) (err error) {
		deleted, err = s.store.DeleteLayout(ctx, id)
		return err
	})
	s.recordWrite("delete", err)
	if err != nil {
		return false, err
	}

	if deleted {
		s.logger.Info("layout deleted", "layout_id", id, "author", author)
		s.publish(ctx, id, bus.KindDeleted)
	}
	return deleted, nil
}

// SaveLayoutVersion appends a snapshot to the layout history. A published
// version becomes current; a draft only joins the history.
func (s *Service) SaveLayoutVersion(ctx context.Context, layoutID string, req SaveVersionRequest, author string) (*models.Layout, error) {
	v := &models.Version{
		VersionID: uuid.New().String(),
		LayoutID:  layoutID,
		Sections:  cloneSections(req.Sections),
		CreatedAt: s.now().UTC(),
		CreatedBy: author,
		IsDraft:   req.IsDraft,
		Notes:     req.Notes,
	}

	var l *models.Layout
	err := s.call(ctx, "save_version", func(ctx context.Context) (err error) {
		l, err = s.store.AppendVersion(ctx, layoutID, v, req.ExpectedCurrentVersionID)
		return err
	})
	s.recordWrite("save_version", err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("layout version saved",
		"layout_id", layoutID,
		"version_id", v.VersionID,
		"draft", v.IsDraft,
		"author", author,
	)
	s.publish(ctx, layoutID, bus.KindVersionSaved)
	return Normalize(l), nil
}

// RevertToVersion points the layout at an existing version. Reverting to a
// draft promotes it. No version is removed or reordered.
func (s *Service) RevertToVersion(ctx context.Context, layoutID, versionID, author, expectedCurrent string) (*models.Layout, error) {
	var l *models.Layout
	err := s.call(ctx, "revert", func(ctx context.Context) (err error) {
		l, err = s.store.SetCurrentVersion(ctx, layoutID, versionID, author, expectedCurrent, s.now().UTC())
		return err
	})
	s.recordWrite("revert", err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("layout reverted", "layout_id", layoutID, "version_id", versionID, "author", author)
	s.publish(ctx, layoutID, bus.KindReverted)
	return Normalize(l), nil
}

// ListVersions returns the history of a layout oldest first
func (s *Service) ListVersions(ctx context.Context, layoutID string) ([]models.Version, error) {
	var versions []models.Version
	err := s.call(ctx, "list_versions", func(ctx context.Context) (err error) {
		versions, err = s.store.ListVersions(ctx, layoutID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if versions == nil {
		versions = []models.Version{}
	}
	for i := range versions {
		if versions[i].Sections == nil {
			versions[i].Sections = []models.Section{}
		}
	}
	return versions, nil
}

// Stats reports content counts
func (s *Service) Stats(ctx context.Context) (*models.Stats, error) {
	var st *models.Stats
	err := s.call(ctx, "stats", func(ctx context.Context) (err error) {
		st, err = s.store.Stats(ctx)
		return err
	})
	return st, err
}

// call runs fn against the store under the configured timeout
func (s *Service) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	metrics.ObserveStoreOperation(op, time.Since(start))

	if err != nil && IsTimeout(err) && !errors.Is(err, ErrUnavailable) {
		return Unavailable(op, err)
	}
	return err
}

func (s *Service) publish(ctx context.Context, layoutID string, kind bus.Kind) {
	if s.events == nil {
		return
	}
	s.events.Publish(bus.Event{
		Type:     bus.EventLayoutsChanged,
		LayoutID: layoutID,
		Kind:     kind,
		Origin:   bus.OriginFromContext(ctx),
	})
}

func (s *Service) recordWrite(op string, err error) {
	metrics.IncLayoutWrites(op, resultLabel(err))
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrLayoutNotFound), errors.Is(err, ErrVersionNotFound):
		return "not_found"
	case errors.Is(err, ErrSlugConflict), errors.Is(err, ErrVersionConflict):
		return "conflict"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
