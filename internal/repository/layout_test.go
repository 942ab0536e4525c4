package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/pageforge/internal/db"
	"github.com/foxzi/pageforge/internal/layout"
	"github.com/foxzi/pageforge/internal/models"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func section(id, typ, text string) models.Section {
	content, _ := json.Marshal(map[string]string{"text": text})
	return models.Section{ID: id, Type: typ, Content: content}
}

func newLayout(slug string, sections ...models.Section) (*models.Layout, *models.Version) {
	l := &models.Layout{
		ID:        uuid.New().String(),
		Slug:      slug,
		Name:      slug,
		Title:     "Title " + slug,
		Sections:  sections,
		Metadata:  models.PageMetadata{Title: "Title " + slug, Description: "desc"},
		CreatedAt: testTime,
		UpdatedAt: testTime,
		UpdatedBy: "admin@example.com",
	}
	seed := &models.Version{
		VersionID: uuid.New().String(),
		Sections:  sections,
		CreatedAt: testTime,
		CreatedBy: "admin@example.com",
		Notes:     "initial",
	}
	return l, seed
}

func sectionIDs(s []models.Section) []string {
	ids := make([]string, len(s))
	for i := range s {
		ids[i] = s[i].ID
	}
	return ids
}

func newVersion(draft bool, sections ...models.Section) *models.Version {
	return &models.Version{
		VersionID: uuid.New().String(),
		Sections:  sections,
		CreatedAt: testTime.Add(time.Minute),
		CreatedBy: "editor@example.com",
		IsDraft:   draft,
	}
}

func createLayout(t *testing.T, repo *LayoutRepository, slug string, sections ...models.Section) *models.Layout {
	t.Helper()
	l, seed := newLayout(slug, sections...)
	if err := repo.CreateLayout(context.Background(), l, seed); err != nil {
		t.Fatalf("CreateLayout() error = %v", err)
	}
	return l
}

func TestLayoutRepository_CreateAndGet(t *testing.T) {
	repo := NewLayoutRepository(setupTestDB(t))
	ctx := context.Background()

	hero := section("s1", "hero", "Welcome")
	l, seed := newLayout("home", hero)
	if err := repo.CreateLayout(ctx, l, seed); err != nil {
		t.Fatalf("CreateLayout() error = %v", err)
	}
	if seed.Seq != 1 {
		t.Errorf("seed Seq = %d, want 1", seed.Seq)
	}
	if l.CurrentVersionID != seed.VersionID {
		t.Errorf("CurrentVersionID = %q, want seed %q", l.CurrentVersionID, seed.VersionID)
	}

	bySlug, err := repo.GetLayoutBySlug(ctx, "home")
	if err != nil {
		t.Fatalf("GetLayoutBySlug() error = %v", err)
	}
	if bySlug.ID != l.ID || bySlug.Title != "Title home" {
		t.Errorf("GetLayoutBySlug() = %+v", bySlug)
	}
	if len(bySlug.Versions) != 0 {
		t.Errorf("GetLayoutBySlug() returned %d versions, want none", len(bySlug.Versions))
	}
	if !reflect.DeepEqual(bySlug.Sections, []models.Section{hero}) {
		t.Errorf("Sections = %+v, want [hero]", bySlug.Sections)
	}
	if bySlug.Metadata.Description != "desc" {
		t.Errorf("Metadata.Description = %q, want desc", bySlug.Metadata.Description)
	}
	if !bySlug.CreatedAt.Equal(testTime) {
		t.Errorf("CreatedAt = %v, want %v", bySlug.CreatedAt, testTime)
	}

	byID, err := repo.GetLayoutByID(ctx, l.ID, true)
	if err != nil {
		t.Fatalf("GetLayoutByID() error = %v", err)
	}
	if len(byID.Versions) != 1 {
		t.Fatalf("versions = %d, want 1", len(byID.Versions))
	}
	v := byID.Versions[0]
	if v.VersionID != seed.VersionID || v.IsDraft || v.Notes != "initial" {
		t.Errorf("seed version = %+v", v)
	}
}

func TestLayoutRepository_NotFound(t *testing.T) {
	repo := NewLayoutRepository(setupTestDB(t))
	ctx := context.Background()

	if _, err := repo.GetLayoutBySlug(ctx, "missing"); !errors.Is(err, layout.ErrLayoutNotFound) {
		t.Errorf("GetLayoutBySlug() error = %v, want ErrLayoutNotFound", err)
	}
	if _, err := repo.GetLayoutByID(ctx, "missing", true); !errors.Is(err, layout.ErrLayoutNotFound) {
		t.Errorf("GetLayoutByID() error = %v, want ErrLayoutNotFound", err)
	}
	if _, err := repo.ListVersions(ctx, "missing"); !errors.Is(err, layout.ErrLayoutNotFound) {
		t.Errorf("ListVersions() error = %v, want ErrLayoutNotFound", err)
	}
	if _, err := repo.AppendVersion(ctx, "missing", newVersion(false), ""); !errors.Is(err, layout.ErrLayoutNotFound) {
		t.Errorf("AppendVersion() error = %v, want ErrLayoutNotFound", err)
	}
}

func TestLayoutRepository_SlugConflict(t *testing.T) {
	repo := NewLayoutRepository(setupTestDB(t))
	ctx := context.Background()

	createLayout(t, repo, "home")
	about := createLayout(t, repo, "about")

	dup, seed := newLayout("home")
	if err := repo.CreateLayout(ctx, dup, seed); !errors.Is(err, layout.ErrSlugConflict) {
		t.Fatalf("CreateLayout() error = %v, want ErrSlugConflict", err)
	}

	list, err := repo.ListLayouts(ctx)
	if err != nil {
		t.Fatalf("ListLayouts() error = %v", err)
	}
	if len(list) != 2 {
		t.Errorf("ListLayouts() = %d layouts, want 2", len(list))
	}
	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Versions != 2 {
		t.Errorf("Stats().Versions = %d, want 2", stats.Versions)
	}

	slug := "home"
	_, err = repo.UpdateLayout(ctx, about.ID, models.LayoutPatch{Slug: &slug}, "editor@example.com", testTime)
	if !errors.Is(err, layout.ErrSlugConflict) {
		t.Fatalf("UpdateLayout() error = %v, want ErrSlugConflict", err)
	}

	got, err := repo.GetLayoutByID(ctx, about.ID, false)
	if err != nil {
		t.Fatalf("GetLayoutByID() error = %v", err)
	}
	if got.Slug != "about" {
		t.Errorf("Slug = %q after failed update, want about", got.Slug)
	}
}

func TestLayoutRepository_UpdateLayout(t *testing.T) {
	repo := NewLayoutRepository(setupTestDB(t))
	ctx := context.Background()
	l := createLayout(t, repo, "pricing")

	name := "Pricing page"
	desc := "Plans and prices"
	at := testTime.Add(time.Hour)
	got, err := repo.UpdateLayout(ctx, l.ID, models.LayoutPatch{
		Name:     &name,
		Metadata: &models.MetadataPatch{Description: &desc},
	}, "editor@example.com", at)
	if err != nil {
		t.Fatalf("UpdateLayout() error = %v", err)
	}

	if got.Name != name {
		t.Errorf("Name = %q, want %q", got.Name, name)
	}
	if got.Title != l.Title {
		t.Errorf("Title = %q, want unchanged %q", got.Title, l.Title)
	}
	if got.Metadata.Description != desc || got.Metadata.Title != l.Metadata.Title {
		t.Errorf("Metadata = %+v", got.Metadata)
	}
	if !got.UpdatedAt.Equal(at) || got.UpdatedBy != "editor@example.com" {
		t.Errorf("UpdatedAt/By = %v/%q", got.UpdatedAt, got.UpdatedBy)
	}
	if len(got.Versions) != 1 {
		t.Errorf("versions = %d, want 1", len(got.Versions))
	}

	if _, err := repo.UpdateLayout(ctx, "missing", models.LayoutPatch{Name: &name}, "x", at); !errors.Is(err, layout.ErrLayoutNotFound) {
		t.Errorf("UpdateLayout(missing) error = %v, want ErrLayoutNotFound", err)
	}
}

func TestLayoutRepository_AppendVersion(t *testing.T) {
	repo := NewLayoutRepository(setupTestDB(t))
	ctx := context.Background()
	l := createLayout(t, repo, "home")

	heroA := section("a", "hero", "A")
	published := newVersion(false, heroA)
	got, err := repo.AppendVersion(ctx, l.ID, published, "")
	if err != nil {
		t.Fatalf("AppendVersion(publish) error = %v", err)
	}
	if published.Seq != 2 {
		t.Errorf("Seq = %d, want 2", published.Seq)
	}
	if got.CurrentVersionID != published.VersionID {
		t.Errorf("CurrentVersionID = %q, want %q", got.CurrentVersionID, published.VersionID)
	}
	if !reflect.DeepEqual(got.Sections, []models.Section{heroA}) {
		t.Errorf("Sections = %+v, want [heroA]", got.Sections)
	}

	draft := newVersion(true, section("b", "hero", "B"))
	got, err = repo.AppendVersion(ctx, l.ID, draft, "")
	if err != nil {
		t.Fatalf("AppendVersion(draft) error = %v", err)
	}
	if got.CurrentVersionID != published.VersionID {
		t.Errorf("draft moved the pointer to %q", got.CurrentVersionID)
	}
	if !reflect.DeepEqual(got.Sections, []models.Section{heroA}) {
		t.Errorf("draft changed sections to %+v", got.Sections)
	}
	if !got.UpdatedAt.Equal(draft.CreatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, draft.CreatedAt)
	}

	versions, err := repo.ListVersions(ctx, l.ID)
	if err != nil {
		t.Fatalf("ListVersions() error = %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("versions = %d, want 3", len(versions))
	}
	for i, v := range versions {
		if v.Seq != int64(i+1) {
			t.Errorf("versions[%d].Seq = %d, want %d", i, v.Seq, i+1)
		}
	}
	if !versions[2].IsDraft {
		t.Error("last version should be the draft")
	}
}

func TestLayoutRepository_ExpectedCurrentConflict(t *testing.T) {
	repo := NewLayoutRepository(setupTestDB(t))
	ctx := context.Background()
	l := createLayout(t, repo, "home")
	seedID := l.CurrentVersionID

	first := newVersion(false, section("a", "hero", "A"))
	if _, err := repo.AppendVersion(ctx, l.ID, first, seedID); err != nil {
		t.Fatalf("AppendVersion() error = %v", err)
	}

	stale := newVersion(false, section("b", "hero", "B"))
	if _, err := repo.AppendVersion(ctx, l.ID, stale, seedID); !errors.Is(err, layout.ErrVersionConflict) {
		t.Fatalf("AppendVersion(stale) error = %v, want ErrVersionConflict", err)
	}
	if _, err := repo.SetCurrentVersion(ctx, l.ID, seedID, "x", seedID, testTime); !errors.Is(err, layout.ErrVersionConflict) {
		t.Fatalf("SetCurrentVersion(stale) error = %v, want ErrVersionConflict", err)
	}

	got, err := repo.GetLayoutByID(ctx, l.ID, true)
	if err != nil {
		t.Fatalf("GetLayoutByID() error = %v", err)
	}
	if got.CurrentVersionID != first.VersionID {
		t.Errorf("CurrentVersionID = %q, want %q", got.CurrentVersionID, first.VersionID)
	}
	if len(got.Versions) != 2 {
		t.Errorf("versions = %d, want 2 (conflicting write must not append)", len(got.Versions))
	}
}

func TestLayoutRepository_SetCurrentVersion(t *testing.T) {
	repo := NewLayoutRepository(setupTestDB(t))
	ctx := context.Background()
	l := createLayout(t, repo, "home")

	a := newVersion(false, section("a", "hero", "A"))
	b := newVersion(false, section("b", "hero", "B"))
	for _, v := range []*models.Version{a, b} {
		if _, err := repo.AppendVersion(ctx, l.ID, v, ""); err != nil {
			t.Fatalf("AppendVersion() error = %v", err)
		}
	}

	at := testTime.Add(2 * time.Hour)
	got, err := repo.SetCurrentVersion(ctx, l.ID, a.VersionID, "reverter@example.com", b.VersionID, at)
	if err != nil {
		t.Fatalf("SetCurrentVersion() error = %v", err)
	}
	if got.CurrentVersionID != a.VersionID {
		t.Errorf("CurrentVersionID = %q, want %q", got.CurrentVersionID, a.VersionID)
	}
	if !reflect.DeepEqual(got.Sections, a.Sections) {
		t.Errorf("Sections = %+v, want %+v", got.Sections, a.Sections)
	}
	if got.UpdatedBy != "reverter@example.com" || !got.UpdatedAt.Equal(at) {
		t.Errorf("UpdatedAt/By = %v/%q", got.UpdatedAt, got.UpdatedBy)
	}
	if len(got.Versions) != 3 {
		t.Errorf("versions = %d, want 3", len(got.Versions))
	}

	_, err = repo.SetCurrentVersion(ctx, l.ID, "missing", "x", "", at)
	if !errors.Is(err, layout.ErrVersionNotFound) {
		t.Errorf("SetCurrentVersion(missing version) error = %v, want ErrVersionNotFound", err)
	}
	_, err = repo.SetCurrentVersion(ctx, "missing", a.VersionID, "x", "", at)
	if !errors.Is(err, layout.ErrLayoutNotFound) {
		t.Errorf("SetCurrentVersion(missing layout) error = %v, want ErrLayoutNotFound", err)
	}

	other := createLayout(t, repo, "other")
	_, err = repo.SetCurrentVersion(ctx, other.ID, a.VersionID, "x", "", at)
	if !errors.Is(err, layout.ErrVersionNotFound) {
		t.Errorf("SetCurrentVersion(foreign version) error = %v, want ErrVersionNotFound", err)
	}
}

func TestLayoutRepository_Delete(t *testing.T) {
	repo := NewLayoutRepository(setupTestDB(t))
	ctx := context.Background()
	l := createLayout(t, repo, "home")
	if _, err := repo.AppendVersion(ctx, l.ID, newVersion(true), ""); err != nil {
		t.Fatalf("AppendVersion() error = %v", err)
	}

	deleted, err := repo.DeleteLayout(ctx, l.ID)
	if err != nil {
		t.Fatalf("DeleteLayout() error = %v", err)
	}
	if !deleted {
		t.Error("DeleteLayout() = false, want true")
	}

	deleted, err = repo.DeleteLayout(ctx, l.ID)
	if err != nil {
		t.Fatalf("second DeleteLayout() error = %v", err)
	}
	if deleted {
		t.Error("second DeleteLayout() = true, want false")
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Layouts != 0 || stats.Versions != 0 {
		t.Errorf("Stats() = %+v, want empty", stats)
	}

	// The slug is free again
	createLayout(t, repo, "home")
}

func TestLayoutRepository_ConcurrentAppendKeepsAllVersions(t *testing.T) {
	d, err := db.Open("sqlite3", filepath.Join(t.TempDir(), "pageforge.db"), db.Options{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	repo := NewLayoutRepository(d)
	l := createLayout(t, repo, "home", section("s0", "hero", "seed"))

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v := newVersion(i%3 == 0, section(fmt.Sprintf("s%d", i+1), "text", "body"))
			if _, err := repo.AppendVersion(context.Background(), l.ID, v, ""); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("AppendVersion() error = %v", err)
	}

	got, err := repo.GetLayoutByID(context.Background(), l.ID, true)
	if err != nil {
		t.Fatalf("GetLayoutByID() error = %v", err)
	}
	if len(got.Versions) != writers+1 {
		t.Errorf("len(Versions) = %d, want %d", len(got.Versions), writers+1)
	}

	seen := make(map[int64]bool)
	for _, v := range got.Versions {
		if seen[v.Seq] {
			t.Errorf("duplicate seq %d", v.Seq)
		}
		seen[v.Seq] = true
	}

	cur := got.CurrentVersion()
	if cur == nil {
		t.Fatal("current pointer does not name a stored version")
	}
	if cur.IsDraft {
		t.Error("current version is a draft")
	}
	if !reflect.DeepEqual(sectionIDs(got.Sections), sectionIDs(cur.Sections)) {
		t.Errorf("Sections = %v, want current version sections %v", sectionIDs(got.Sections), sectionIDs(cur.Sections))
	}
}
