// Package blob stores uploaded files and hands back their public URL.
// Layouts only ever keep the URL.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/foxzi/pageforge/internal/config"
)

var (
	ErrTypeNotAllowed = errors.New("content type not allowed")
	ErrTooLarge       = errors.New("upload too large")
)

// Uploader accepts a payload and returns the URL it is served from
type Uploader interface {
	Upload(ctx context.Context, r io.Reader, filename, contentType string) (string, error)
}

// LocalStorage writes uploads to a directory served under BaseURL
type LocalStorage struct {
	dir      string
	baseURL  string
	maxBytes int64
	allowed  map[string]bool
	logger   *slog.Logger
}

var _ Uploader = (*LocalStorage)(nil)

// NewLocalStorage creates the upload directory if needed
func NewLocalStorage(cfg config.UploadsConfig, logger *slog.Logger) (*LocalStorage, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	allowed := make(map[string]bool, len(cfg.AllowedTypes))
	for _, t := range cfg.AllowedTypes {
		allowed[strings.ToLower(strings.TrimSpace(t))] = true
	}

	return &LocalStorage{
		dir:      cfg.Dir,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		maxBytes: cfg.MaxBytes,
		allowed:  allowed,
		logger:   logger.With("component", "blob"),
	}, nil
}

// Dir returns the directory uploads are written to
func (s *LocalStorage) Dir() string {
	return s.dir
}

// Upload stores r under a random name. The original file name only
// contributes its extension.
func (s *LocalStorage) Upload(ctx context.Context, r io.Reader, filename, contentType string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrTypeNotAllowed, contentType)
	}
	if len(s.allowed) > 0 && !s.allowed[mediaType] {
		return "", fmt.Errorf("%w: %s", ErrTypeNotAllowed, mediaType)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
			ext = exts[0]
		}
	}
	name := uuid.New().String() + ext
	path := filepath.Join(s.dir, name)

	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err == nil && s.maxBytes > 0 && n > s.maxBytes {
		err = fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, s.maxBytes)
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}

	s.logger.Info("file uploaded", "name", name, "content_type", mediaType, "size", n)
	return s.baseURL + "/" + name, nil
}
