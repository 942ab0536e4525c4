package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/pageforge/internal/auth"
	"github.com/foxzi/pageforge/internal/layout"
	"github.com/foxzi/pageforge/internal/models"
)

// handleListLayouts handles GET /api/v1/layouts. Admins get the stored
// rows; everyone else gets the public view of each layout.
func (s *Server) handleListLayouts(w http.ResponseWriter, r *http.Request) {
	admin := false
	if auth.BearerToken(r) != "" {
		id, err := s.authenticate(r, false)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		admin = id.IsAdmin
	}

	list, err := s.layouts.GetLayouts(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !admin {
		for i := range list {
			list[i] = *layout.PublicView(&list[i])
		}
	}

	w.Header().Set("Vary", "Authorization")
	s.sendJSON(w, http.StatusOK, LayoutListResponse{Layouts: list, Total: len(list)})
}

// handleGetLayout handles GET /api/v1/layouts/{id}
func (s *Server) handleGetLayout(w http.ResponseWriter, r *http.Request) {
	l, err := s.layouts.GetLayoutByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", s.config.CacheControl.ByID)
	s.sendJSON(w, http.StatusOK, l)
}

// handleCreateLayout handles POST /api/v1/layouts
func (s *Server) handleCreateLayout(w http.ResponseWriter, r *http.Request) {
	var req layout.CreateLayoutRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	l, err := s.layouts.CreateLayout(r.Context(), req, author(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/layouts/"+l.ID)
	s.sendJSON(w, http.StatusCreated, l)
}

// handleUpdateLayout handles PATCH /api/v1/layouts/{id}
func (s *Server) handleUpdateLayout(w http.ResponseWriter, r *http.Request) {
	var patch models.LayoutPatch
	if err := decodeJSON(r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}

	l, err := s.layouts.UpdateLayout(r.Context(), chi.URLParam(r, "id"), patch, author(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, l)
}

// handleUpdateMetadata handles PUT /api/v1/layouts/{id}/metadata
func (s *Server) handleUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	var upd layout.MetadataUpdate
	if err := decodeJSON(r, &upd); err != nil {
		s.writeError(w, r, err)
		return
	}

	l, err := s.layouts.UpdateLayoutMetadata(r.Context(), chi.URLParam(r, "id"), upd, author(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, l)
}

// handleDeleteLayout handles DELETE /api/v1/layouts/{id}. Deleting a
// missing layout succeeds as well.
func (s *Server) handleDeleteLayout(w http.ResponseWriter, r *http.Request) {
	if _, err := s.layouts.DeleteLayout(r.Context(), chi.URLParam(r, "id"), author(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListVersions handles GET /api/v1/layouts/{id}/versions
func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	versions, err := s.layouts.ListVersions(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, VersionListResponse{LayoutID: id, Versions: versions})
}

// handleSaveVersion handles POST /api/v1/layouts/{id}/versions
func (s *Server) handleSaveVersion(w http.ResponseWriter, r *http.Request) {
	var req layout.SaveVersionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	l, err := s.layouts.SaveLayoutVersion(r.Context(), chi.URLParam(r, "id"), req, author(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, l)
}

// handleRevert handles POST /api/v1/layouts/{id}/versions/{versionID}/revert
func (s *Server) handleRevert(w http.ResponseWriter, r *http.Request) {
	var req RevertRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	l, err := s.layouts.RevertToVersion(r.Context(),
		chi.URLParam(r, "id"),
		chi.URLParam(r, "versionID"),
		author(r),
		req.ExpectedCurrentVersionID,
	)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, l)
}
