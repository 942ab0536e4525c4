package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foxzi/pageforge/internal/api"
	"github.com/foxzi/pageforge/internal/auth"
	"github.com/foxzi/pageforge/internal/blob"
	"github.com/foxzi/pageforge/internal/boltstore"
	"github.com/foxzi/pageforge/internal/bus"
	"github.com/foxzi/pageforge/internal/config"
	"github.com/foxzi/pageforge/internal/db"
	"github.com/foxzi/pageforge/internal/layout"
	"github.com/foxzi/pageforge/internal/metrics"
	"github.com/foxzi/pageforge/internal/repository"
	"github.com/foxzi/pageforge/internal/seo"
)

// Stores holds the content store and the token store of one backend
type Stores struct {
	Layouts layout.Store
	Tokens  auth.TokenStore
}

// Close closes the backend
func (s *Stores) Close() error {
	return s.Layouts.Close()
}

// OpenStores opens the backend selected by store.driver. SQL backends are
// migrated on open.
func OpenStores(cfg config.StoreConfig) (*Stores, error) {
	switch cfg.Driver {
	case "bolt":
		st, err := boltstore.Open(cfg.Path, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt store: %w", err)
		}
		return &Stores{Layouts: st, Tokens: st}, nil

	case "sqlite", "postgres":
		dsn := cfg.Path
		if cfg.Driver == "postgres" {
			dsn = cfg.DSN
		}
		d, err := db.Open(cfg.Driver, dsn, db.Options{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxOpenConns / 2,
			ConnMaxLifetime: 30 * time.Minute,
		})
		if err != nil {
			return nil, err
		}
		if err := d.Migrate(); err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return &Stores{
			Layouts: repository.NewLayoutRepository(d),
			Tokens:  repository.NewTokenRepository(d),
		}, nil

	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}

// App is the main application
type App struct {
	config        *config.Config
	stores        *Stores
	bus           *bus.Bus
	layouts       *layout.Service
	apiServer     *api.Server
	metricsServer *metrics.Server
	collector     *metrics.Collector
	logger        *slog.Logger
}

// New creates a new application
func New(ctx context.Context, cfg *config.Config, version string) (*App, error) {
	logger := SetupLogger(cfg.Logging)

	stores, err := OpenStores(cfg.Store)
	if err != nil {
		return nil, err
	}

	// Metrics must be registered before anything records into them
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		metrics.SetGlobal(m)
	}

	eventBus := bus.New(logger)

	layouts := layout.NewService(stores.Layouts, eventBus, logger, layout.ServiceConfig{
		Timeout: cfg.Store.Timeout,
	})

	verifier := auth.Chain{auth.NewTokenVerifier(stores.Tokens, logger)}
	if cfg.Auth.OIDC.Enabled {
		oidcVerifier, err := auth.NewOIDCVerifier(ctx, &cfg.Auth.OIDC)
		if err != nil {
			stores.Close()
			return nil, fmt.Errorf("failed to create OIDC verifier: %w", err)
		}
		verifier = append(verifier, oidcVerifier)
		logger.Info("OIDC authentication enabled", "issuer", cfg.Auth.OIDC.IssuerURL)
	}

	uploads, err := blob.NewLocalStorage(cfg.Uploads, logger)
	if err != nil {
		stores.Close()
		return nil, err
	}

	var hub *bus.Hub
	if cfg.Events.Enabled {
		hub = bus.NewHub(eventBus, cfg.Server.AllowedOrigins, cfg.Events.Buffer, logger)
		logger.Info("invalidation events enabled", "origins", cfg.Server.AllowedOrigins)
	}

	apiServer := api.NewServer(cfg, api.Options{
		Layouts:  layouts,
		Verifier: verifier,
		Uploads:  uploads,
		Events:   hub,
		SEO:      seo.NewRenderer(cfg.Server.SiteName, cfg.Server.PublicURL),
		Version:  version,
	}, logger)

	a := &App{
		config:    cfg,
		stores:    stores,
		bus:       eventBus,
		layouts:   layouts,
		apiServer: apiServer,
		logger:    logger,
	}

	if m != nil {
		a.metricsServer = metrics.NewServer(m, metrics.ServerConfig{
			Addr:       cfg.Metrics.ListenAddr,
			Path:       cfg.Metrics.Path,
			AllowedIPs: cfg.Metrics.AllowedIPs,
			TrustProxy: cfg.Metrics.TrustProxy,
		}, logger.With("component", "metrics"))
		a.collector = metrics.NewCollector(m, layouts, cfg.Metrics.Interval, logger.With("component", "collector"))
	}

	return a, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting pageforge",
		"api_addr", a.config.Server.ListenAddr,
		"store", a.config.Store.Driver,
		"events", a.config.Events.Enabled,
		"metrics", a.config.Metrics.Enabled,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
		a.collector.Start(ctx)
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		a.collector.Stop()
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Closing the bus ends every event socket subscription
	a.bus.Close()

	if err := a.stores.Close(); err != nil {
		a.logger.Error("store close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// SetupLogger creates a logger based on configuration
func SetupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
