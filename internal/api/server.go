package api

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/handlers"

	"github.com/foxzi/pageforge/internal/auth"
	"github.com/foxzi/pageforge/internal/blob"
	"github.com/foxzi/pageforge/internal/bus"
	"github.com/foxzi/pageforge/internal/config"
	"github.com/foxzi/pageforge/internal/layout"
	"github.com/foxzi/pageforge/internal/metrics"
	"github.com/foxzi/pageforge/internal/seo"
)

// Options holds the collaborators of the API server. Uploads and Events
// may be nil, which disables the corresponding routes.
type Options struct {
	Layouts  *layout.Service
	Verifier auth.Verifier
	Uploads  blob.Uploader
	Events   *bus.Hub
	SEO      *seo.Renderer
	Version  string
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	handler    http.Handler
	httpServer *http.Server
	layouts    *layout.Service
	verifier   auth.Verifier
	uploads    blob.Uploader
	events     *bus.Hub
	seo        *seo.Renderer
	config     *config.Config
	version    string
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SEO == nil {
		opts.SEO = seo.NewRenderer(cfg.Server.SiteName, cfg.Server.PublicURL)
	}

	s := &Server{
		router:    chi.NewRouter(),
		layouts:   opts.Layouts,
		verifier:  opts.Verifier,
		uploads:   opts.Uploads,
		events:    opts.Events,
		seo:       opts.SEO,
		config:    cfg,
		version:   opts.Version,
		logger:    logger.With("component", "api"),
		startTime: time.Now(),
	}

	s.setupRoutes()
	s.handler = s.withCORS(s.router)
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metrics.HTTPMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.originMiddleware)

	s.router.Get("/health", s.handleHealth)

	if prefix := s.uploadsPrefix(); prefix != "" {
		if dir, ok := s.uploads.(interface{ Dir() string }); ok {
			fs := http.StripPrefix(prefix, http.FileServer(http.Dir(dir.Dir())))
			s.router.Handle(prefix+"*", fs)
		}
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.maxBodyMiddleware)

		// Anonymous read path
		r.Get("/layouts", s.handleListLayouts)
		r.Get("/layouts/by-slug/{slug}", s.handleGetLayoutBySlug)
		r.Get("/pages/{slug}", s.handleGetPage)
		r.Get("/pages/{slug}/head", s.handleGetPageHead)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)

			r.Post("/layouts", s.handleCreateLayout)
			r.Get("/layouts/{id}", s.handleGetLayout)
			r.Patch("/layouts/{id}", s.handleUpdateLayout)
			r.Put("/layouts/{id}/metadata", s.handleUpdateMetadata)
			r.Delete("/layouts/{id}", s.handleDeleteLayout)

			r.Get("/layouts/{id}/versions", s.handleListVersions)
			r.Post("/layouts/{id}/versions", s.handleSaveVersion)
			r.Post("/layouts/{id}/versions/{versionID}/revert", s.handleRevert)

			if s.uploads != nil {
				r.Post("/uploads", s.handleUpload)
			}
		})

		if s.events != nil {
			r.With(s.requireIdentity).Get("/events", s.events.ServeWS)
		}
	})
}

// uploadsPrefix returns the local path uploads are served from, or "" when
// the base URL points elsewhere
func (s *Server) uploadsPrefix() string {
	if s.uploads == nil {
		return ""
	}
	base := s.config.Uploads.BaseURL
	if !strings.HasPrefix(base, "/") {
		return ""
	}
	return strings.TrimRight(base, "/") + "/"
}

func (s *Server) withCORS(h http.Handler) http.Handler {
	origins := s.config.Server.AllowedOrigins
	if len(origins) == 0 {
		return h
	}
	return handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "If-None-Match"}),
		handlers.ExposedHeaders([]string{"ETag", "Location"}),
		handlers.AllowCredentials(),
	)(h)
}

// Handler returns the root handler including CORS
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	cfg := s.config.Server
	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	s.logger.Info("starting HTTP API server", "addr", cfg.ListenAddr, "tls", s.config.HasTLS())
	if s.config.HasTLS() {
		s.httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		return s.httpServer.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
