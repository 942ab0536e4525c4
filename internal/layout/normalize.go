package layout

import (
	"sort"

	"github.com/foxzi/pageforge/internal/models"
)

// Normalize fills defaults for missing fields in place. Every read path
// goes through it so the rendered page and its SEO tags agree.
func Normalize(l *models.Layout) *models.Layout {
	if l == nil {
		return nil
	}
	if l.Sections == nil {
		l.Sections = []models.Section{}
	}
	if l.Metadata.IsZero() {
		l.Metadata = models.PageMetadata{Title: l.Title}
	} else if l.Metadata.Title == "" {
		l.Metadata.Title = l.Title
	}
	if l.Versions == nil {
		l.Versions = []models.Version{}
	}
	for i := range l.Versions {
		if l.Versions[i].Sections == nil {
			l.Versions[i].Sections = []models.Section{}
		}
	}
	return l
}

// PublicView returns a normalised copy for anonymous readers: hidden
// sections are dropped, the rest ordered by rank, history omitted.
func PublicView(l *models.Layout) *models.Layout {
	if l == nil {
		return nil
	}
	out := *l
	out.Versions = []models.Version{}
	out.UpdatedBy = ""

	visible := make([]models.Section, 0, len(l.Sections))
	for _, s := range l.Sections {
		if !s.Hidden {
			visible = append(visible, s)
		}
	}
	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].Order < visible[j].Order
	})
	out.Sections = visible

	return Normalize(&out)
}

func cloneSections(in []models.Section) []models.Section {
	if in == nil {
		return []models.Section{}
	}
	out := make([]models.Section, len(in))
	copy(out, in)
	return out
}
