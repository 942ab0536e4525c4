// Package client talks to the pageforge HTTP API
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/foxzi/pageforge/internal/auth"
	"github.com/foxzi/pageforge/internal/cache"
	"github.com/foxzi/pageforge/internal/layout"
	"github.com/foxzi/pageforge/internal/models"
)

// APIError is a non-2xx response. It unwraps to the matching layout or
// auth error so callers can use errors.Is.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s (HTTP %d): %s", e.Code, e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case "LAYOUT_NOT_FOUND":
		return layout.ErrLayoutNotFound
	case "VERSION_NOT_FOUND":
		return layout.ErrVersionNotFound
	case "SLUG_CONFLICT":
		return layout.ErrSlugConflict
	case "VERSION_CONFLICT":
		return layout.ErrVersionConflict
	case "VALIDATION_ERROR":
		return layout.ErrValidation
	case "UNAVAILABLE":
		return layout.ErrUnavailable
	case "UNAUTHORIZED":
		return auth.ErrUnauthorized
	case "FORBIDDEN":
		return auth.ErrForbidden
	}
	return nil
}

// Client is a pageforge API client
type Client struct {
	baseURL    string
	token      string
	origin     string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithOrigin sets the Origin header, which scopes the invalidation
// events raised by this client's writes.
func WithOrigin(origin string) Option {
	return func(c *Client) { c.origin = origin }
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client. token may be empty for the anonymous read path.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.origin != "" {
		req.Header.Set("Origin", c.origin)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// request performs a JSON request and decodes the response into result
func (c *Client) request(ctx context.Context, method, path string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var errResp errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
			apiErr.Code = errResp.Code
			if errResp.Error != "" {
				apiErr.Message = errResp.Error
			}
		}
		return apiErr
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// Health checks server health
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.request(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListLayouts returns the whole layout collection
func (c *Client) ListLayouts(ctx context.Context) ([]models.Layout, error) {
	var resp layoutList
	if err := c.request(ctx, http.MethodGet, "/api/v1/layouts", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Layouts, nil
}

// Fetcher adapts ListLayouts for a cache
func (c *Client) Fetcher() cache.Fetcher {
	return c.ListLayouts
}

// GetLayoutBySlug returns the public view of the layout at slug
func (c *Client) GetLayoutBySlug(ctx context.Context, slug string) (*models.Layout, error) {
	var l models.Layout
	if err := c.request(ctx, http.MethodGet, "/api/v1/layouts/by-slug/"+url.PathEscape(slug), nil, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// GetPage returns the page document served to visitors
func (c *Client) GetPage(ctx context.Context, slug string) (*Page, error) {
	var p Page
	if err := c.request(ctx, http.MethodGet, "/api/v1/pages/"+url.PathEscape(slug), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetLayout returns a layout with its full version history
func (c *Client) GetLayout(ctx context.Context, id string) (*models.Layout, error) {
	var l models.Layout
	if err := c.request(ctx, http.MethodGet, "/api/v1/layouts/"+url.PathEscape(id), nil, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateLayout creates a layout
func (c *Client) CreateLayout(ctx context.Context, req layout.CreateLayoutRequest) (*models.Layout, error) {
	var l models.Layout
	if err := c.request(ctx, http.MethodPost, "/api/v1/layouts", req, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// UpdateLayout applies a partial update
func (c *Client) UpdateLayout(ctx context.Context, id string, patch models.LayoutPatch) (*models.Layout, error) {
	var l models.Layout
	if err := c.request(ctx, http.MethodPatch, "/api/v1/layouts/"+url.PathEscape(id), patch, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// UpdateMetadata replaces the page metadata and slug
func (c *Client) UpdateMetadata(ctx context.Context, id string, upd layout.MetadataUpdate) (*models.Layout, error) {
	var l models.Layout
	if err := c.request(ctx, http.MethodPut, "/api/v1/layouts/"+url.PathEscape(id)+"/metadata", upd, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// DeleteLayout deletes a layout. Deleting a missing layout succeeds.
func (c *Client) DeleteLayout(ctx context.Context, id string) error {
	return c.request(ctx, http.MethodDelete, "/api/v1/layouts/"+url.PathEscape(id), nil, nil)
}

// History returns the versions of a layout, oldest first
func (c *Client) History(ctx context.Context, id string) ([]models.Version, error) {
	var resp versionList
	if err := c.request(ctx, http.MethodGet, "/api/v1/layouts/"+url.PathEscape(id)+"/versions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Versions, nil
}

// SaveVersion appends a version
func (c *Client) SaveVersion(ctx context.Context, id string, req layout.SaveVersionRequest) (*models.Layout, error) {
	var l models.Layout
	if err := c.request(ctx, http.MethodPost, "/api/v1/layouts/"+url.PathEscape(id)+"/versions", req, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// Revert moves the current pointer of a layout to versionID.
// expectedCurrent may be empty.
func (c *Client) Revert(ctx context.Context, id, versionID, expectedCurrent string) (*models.Layout, error) {
	var body any
	if expectedCurrent != "" {
		body = revertRequest{ExpectedCurrentVersionID: expectedCurrent}
	}
	path := "/api/v1/layouts/" + url.PathEscape(id) + "/versions/" + url.PathEscape(versionID) + "/revert"

	var l models.Layout
	if err := c.request(ctx, http.MethodPost, path, body, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// Upload sends a file and returns the URL it is served from
func (c *Client) Upload(ctx context.Context, r io.Reader, filename, contentType string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("create form part: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("copy upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/uploads", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp uploadResponse
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}
