package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/pageforge/internal/auth"
	"github.com/foxzi/pageforge/internal/bus"
)

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"bytes", ww.BytesWritten(),
			"remote_addr", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// originMiddleware tags the request context with the browser origin so
// invalidation events stay within it
func (s *Server) originMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			r = r.WithContext(bus.WithOrigin(r.Context(), origin))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := s.config.Server.MaxBodyBytes
		if strings.HasSuffix(r.URL.Path, "/uploads") {
			limit = s.config.Uploads.MaxBytes + 1<<20 // multipart overhead
		}
		if limit > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}

// requireAdmin rejects requests without an admin identity
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.authenticate(r, false)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if !id.IsAdmin {
			s.logger.Warn("non-admin write attempt", "user_id", id.UserID, "path", r.URL.Path)
			s.writeError(w, r, auth.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

// requireIdentity accepts any valid identity. Browsers cannot set headers on
// websocket requests, so the token may also come from access_token.
func (s *Server) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.authenticate(r, true)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

func (s *Server) authenticate(r *http.Request, allowQuery bool) (*auth.Identity, error) {
	token := auth.BearerToken(r)
	if token == "" && allowQuery {
		token = r.URL.Query().Get("access_token")
	}
	if token == "" {
		return nil, auth.ErrUnauthorized
	}
	if s.verifier == nil {
		return nil, auth.ErrInvalidToken
	}

	id, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			s.logger.Warn("rejected token", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
		}
		return nil, err
	}
	return id, nil
}

// author names the identity in version history
func author(r *http.Request) string {
	id := auth.FromContext(r.Context())
	if id == nil {
		return ""
	}
	if id.Email != "" {
		return id.Email
	}
	return id.UserID
}
