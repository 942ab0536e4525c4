package client

import (
	"time"

	"github.com/foxzi/pageforge/internal/models"
)

// HealthResponse mirrors GET /health
type HealthResponse struct {
	Status  string        `json:"status"`
	Version string        `json:"version"`
	Uptime  string        `json:"uptime"`
	Store   *models.Stats `json:"store,omitempty"`
}

type layoutList struct {
	Layouts []models.Layout `json:"layouts"`
	Total   int             `json:"total"`
}

type versionList struct {
	LayoutID string           `json:"layout_id"`
	Versions []models.Version `json:"versions"`
}

type revertRequest struct {
	ExpectedCurrentVersionID string `json:"expected_current_version_id,omitempty"`
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Page is the public view of a layout
type Page struct {
	ID        string              `json:"id"`
	Slug      string              `json:"slug"`
	Title     string              `json:"title"`
	Metadata  models.PageMetadata `json:"metadata"`
	Sections  []models.Section    `json:"sections"`
	VersionID string              `json:"version_id"`
	UpdatedAt time.Time           `json:"updated_at"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
