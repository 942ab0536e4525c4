package models

import (
	"encoding/json"
	"time"
)

// Section is one content block of a page. Content is opaque to the store.
type Section struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
	Hidden  bool            `json:"hidden"`
	Order   int             `json:"order"`
}

type PageMetadata struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Keywords    string `json:"keywords"`
	OGImage     string `json:"og_image"`
}

// IsZero reports whether no metadata field is set
func (m PageMetadata) IsZero() bool {
	return m == PageMetadata{}
}

// Version is an immutable snapshot of a layout's section tree
type Version struct {
	VersionID string    `json:"version_id"`
	LayoutID  string    `json:"layout_id"`
	Seq       int64     `json:"seq"`
	Sections  []Section `json:"sections"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
	IsDraft   bool      `json:"is_draft"`
	Notes     string    `json:"notes,omitempty"`
}

type Layout struct {
	ID               string       `json:"id"`
	Slug             string       `json:"slug"`
	Name             string       `json:"name"`
	Title            string       `json:"title"`
	Sections         []Section    `json:"sections"`
	Metadata         PageMetadata `json:"metadata"`
	Versions         []Version    `json:"versions"`
	CurrentVersionID string       `json:"current_version_id"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
	UpdatedBy        string       `json:"updated_by,omitempty"`
}

// CurrentVersion returns the version the current pointer refers to, if loaded
func (l *Layout) CurrentVersion() *Version {
	for i := range l.Versions {
		if l.Versions[i].VersionID == l.CurrentVersionID {
			return &l.Versions[i]
		}
	}
	return nil
}

// LayoutPatch is a shallow merge over the editable layout fields.
// Sections and versions are not editable here.
type LayoutPatch struct {
	Name     *string        `json:"name,omitempty"`
	Title    *string        `json:"title,omitempty"`
	Slug     *string        `json:"slug,omitempty"`
	Metadata *MetadataPatch `json:"metadata,omitempty"`
}

type MetadataPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Keywords    *string `json:"keywords"`
	OGImage     *string `json:"og_image"`
}

// Empty reports whether the patch changes nothing
func (p LayoutPatch) Empty() bool {
	return p.Name == nil && p.Title == nil && p.Slug == nil && p.Metadata == nil
}

// Apply merges the patch into l
func (p LayoutPatch) Apply(l *Layout) {
	if p.Name != nil {
		l.Name = *p.Name
	}
	if p.Title != nil {
		l.Title = *p.Title
	}
	if p.Slug != nil {
		l.Slug = *p.Slug
	}
	if m := p.Metadata; m != nil {
		if m.Title != nil {
			l.Metadata.Title = *m.Title
		}
		if m.Description != nil {
			l.Metadata.Description = *m.Description
		}
		if m.Keywords != nil {
			l.Metadata.Keywords = *m.Keywords
		}
		if m.OGImage != nil {
			l.Metadata.OGImage = *m.OGImage
		}
	}
}

// Stats contains content store statistics
type Stats struct {
	Layouts  int64 `json:"layouts"`
	Versions int64 `json:"versions"`
}
