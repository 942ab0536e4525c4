package api

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/pageforge/internal/layout"
	"github.com/foxzi/pageforge/internal/models"
)

// PageResponse is the render-ready view of a published page
type PageResponse struct {
	ID        string              `json:"id"`
	Slug      string              `json:"slug"`
	Title     string              `json:"title"`
	Metadata  models.PageMetadata `json:"metadata"`
	Sections  []models.Section    `json:"sections"`
	VersionID string              `json:"version_id"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// handleGetLayoutBySlug handles GET /api/v1/layouts/by-slug/{slug}
func (s *Server) handleGetLayoutBySlug(w http.ResponseWriter, r *http.Request) {
	l, ok := s.resolvePage(w, r, "layout")
	if !ok {
		return
	}
	s.sendJSON(w, http.StatusOK, l)
}

// handleGetPage handles GET /api/v1/pages/{slug}
func (s *Server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	l, ok := s.resolvePage(w, r, "page")
	if !ok {
		return
	}
	s.sendJSON(w, http.StatusOK, PageResponse{
		ID:        l.ID,
		Slug:      l.Slug,
		Title:     l.Title,
		Metadata:  l.Metadata,
		Sections:  l.Sections,
		VersionID: l.CurrentVersionID,
		UpdatedAt: l.UpdatedAt,
	})
}

// handleGetPageHead handles GET /api/v1/pages/{slug}/head
func (s *Server) handleGetPageHead(w http.ResponseWriter, r *http.Request) {
	l, ok := s.resolvePage(w, r, "head")
	if !ok {
		return
	}

	head, err := s.seo.Render(l)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(head)))
	w.WriteHeader(http.StatusOK)
	w.Write(head)
}

// resolvePage loads the public view of a slug and handles conditional
// requests. It reports false when the response has already been written.
func (s *Server) resolvePage(w http.ResponseWriter, r *http.Request, representation string) (*models.Layout, bool) {
	l, err := s.layouts.GetLayoutBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	l = layout.PublicView(l)

	tag := etag(l, representation)
	w.Header().Set("Cache-Control", s.config.CacheControl.BySlug)
	w.Header().Set("ETag", tag)
	w.Header().Set("Last-Modified", l.UpdatedAt.UTC().Format(http.TimeFormat))

	if etagMatches(r.Header.Get("If-None-Match"), tag) {
		w.WriteHeader(http.StatusNotModified)
		return nil, false
	}
	return l, true
}

// etag identifies one representation of a layout state
func etag(l *models.Layout, representation string) string {
	h := sha256.New()
	h.Write([]byte(l.ID))
	h.Write([]byte{0})
	h.Write([]byte(l.CurrentVersionID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(l.UpdatedAt.UnixNano(), 10)))
	h.Write([]byte{0})
	h.Write([]byte(representation))
	return `"` + hex.EncodeToString(h.Sum(nil)[:16]) + `"`
}

func etagMatches(header, tag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == tag {
			return true
		}
	}
	return false
}
