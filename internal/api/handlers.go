package api

import (
	"net/http"
	"time"

	"github.com/foxzi/pageforge/internal/models"
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string        `json:"status"`
	Version string        `json:"version"`
	Uptime  string        `json:"uptime"`
	Store   *models.Stats `json:"store,omitempty"`
}

// LayoutListResponse is the response for GET /api/v1/layouts
type LayoutListResponse struct {
	Layouts []models.Layout `json:"layouts"`
	Total   int             `json:"total"`
}

// VersionListResponse is the response for GET /api/v1/layouts/{id}/versions
type VersionListResponse struct {
	LayoutID string           `json:"layout_id"`
	Versions []models.Version `json:"versions"`
}

// RevertRequest is the optional body of a revert
type RevertRequest struct {
	ExpectedCurrentVersionID string `json:"expected_current_version_id,omitempty"`
}

// UploadResponse is the response for POST /api/v1/uploads
type UploadResponse struct {
	URL string `json:"url"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	}

	stats, err := s.layouts.Stats(r.Context())
	if err != nil {
		s.logger.Warn("health check: store stats failed", "error", err)
		resp.Status = "unavailable"
		s.sendJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Store = stats

	s.sendJSON(w, http.StatusOK, resp)
}
