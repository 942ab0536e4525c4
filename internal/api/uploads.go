package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/foxzi/pageforge/internal/layout"
)

// handleUpload handles POST /api/v1/uploads (multipart field "file")
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.config.Uploads.MaxBytes); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			s.writeError(w, r, err)
			return
		}
		s.writeError(w, r, errBadBody)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: file is required", layout.ErrValidation))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	url, err := s.uploads.Upload(r.Context(), file, header.Filename, contentType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("upload stored", "url", url, "author", author(r))
	s.sendJSON(w, http.StatusCreated, UploadResponse{URL: url})
}
