package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/foxzi/pageforge/internal/auth"
	"github.com/foxzi/pageforge/internal/blob"
	"github.com/foxzi/pageforge/internal/layout"
)

// Stable error codes returned to clients
const (
	CodeLayoutNotFound   = "LAYOUT_NOT_FOUND"
	CodeVersionNotFound  = "VERSION_NOT_FOUND"
	CodeSlugConflict     = "SLUG_CONFLICT"
	CodeVersionConflict  = "VERSION_CONFLICT"
	CodeValidation       = "VALIDATION_ERROR"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeUnavailable      = "UNAVAILABLE"
	CodeUnsupportedMedia = "UNSUPPORTED_MEDIA_TYPE"
	CodeTooLarge         = "PAYLOAD_TOO_LARGE"
	CodeInternal         = "INTERNAL_ERROR"
)

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errBadBody = errors.New("invalid request body")

// classifyError maps an error to status, code and a message safe to show.
// Store detail never reaches the client.
func classifyError(err error) (int, string, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, layout.ErrLayoutNotFound):
		return http.StatusNotFound, CodeLayoutNotFound, "layout not found"
	case errors.Is(err, layout.ErrVersionNotFound):
		return http.StatusNotFound, CodeVersionNotFound, "version not found in this layout"
	case errors.Is(err, layout.ErrSlugConflict):
		return http.StatusConflict, CodeSlugConflict, "slug already in use"
	case errors.Is(err, layout.ErrVersionConflict):
		return http.StatusConflict, CodeVersionConflict, "layout changed since it was loaded; reload and retry"
	case errors.Is(err, layout.ErrValidation):
		return http.StatusBadRequest, CodeValidation, err.Error()
	case errors.Is(err, errBadBody):
		return http.StatusBadRequest, CodeValidation, err.Error()
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, CodeUnauthorized, "authentication required"
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, CodeForbidden, "admin access required"
	case errors.Is(err, layout.ErrUnavailable):
		return http.StatusServiceUnavailable, CodeUnavailable, "content store unavailable"
	case errors.Is(err, blob.ErrTypeNotAllowed):
		return http.StatusUnsupportedMediaType, CodeUnsupportedMedia, err.Error()
	case errors.Is(err, blob.ErrTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, CodeTooLarge, "request body too large"
	default:
		return http.StatusInternalServerError, CodeInternal, "internal error"
	}
}

// writeError sends an error response and logs what the client does not see
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := classifyError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", code,
			"error", err,
		)
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="pageforge"`)
	}
	s.sendJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return errBadBody
	}
	return nil
}
