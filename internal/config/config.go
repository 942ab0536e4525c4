package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the pageforge configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Store        StoreConfig        `yaml:"store"`
	CacheControl CacheControlConfig `yaml:"cache_control"`
	Auth         AuthConfig         `yaml:"auth"`
	Uploads      UploadsConfig      `yaml:"uploads"`
	Events       EventsConfig       `yaml:"events"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	TLS            TLSConfig     `yaml:"tls"`
	AllowedOrigins []string      `yaml:"allowed_origins"` // CORS and event socket origins
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	SiteName       string        `yaml:"site_name"`  // og:site_name on public pages
	PublicURL      string        `yaml:"public_url"` // canonical link base
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// StoreConfig selects and tunes the content store
type StoreConfig struct {
	Driver       string        `yaml:"driver"` // sqlite, postgres, bolt
	Path         string        `yaml:"path"`   // sqlite and bolt file
	DSN          string        `yaml:"dsn"`    // postgres connection string
	Timeout      time.Duration `yaml:"timeout"`
	MaxOpenConns int           `yaml:"max_open_conns"`
}

// CacheControlConfig holds the Cache-Control directives of the read paths
type CacheControlConfig struct {
	BySlug string `yaml:"by_slug"`
	ByID   string `yaml:"by_id"`
}

type AuthConfig struct {
	OIDC OIDCConfig `yaml:"oidc"`
}

// OIDCConfig configures bearer ID-token verification
type OIDCConfig struct {
	Enabled       bool     `yaml:"enabled"`
	IssuerURL     string   `yaml:"issuer_url"`
	ClientID      string   `yaml:"client_id"`
	AllowedGroups []string `yaml:"allowed_groups"`
	AdminEmails   []string `yaml:"admin_emails"`
	AdminGroups   []string `yaml:"admin_groups"`
}

// UploadsConfig configures the local blob uploader
type UploadsConfig struct {
	Dir          string   `yaml:"dir"`
	BaseURL      string   `yaml:"base_url"`
	MaxBytes     int64    `yaml:"max_bytes"`
	AllowedTypes []string `yaml:"allowed_types"`
}

// EventsConfig configures the invalidation socket
type EventsConfig struct {
	Enabled bool `yaml:"enabled"`
	Buffer  int  `yaml:"buffer"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled    bool          `yaml:"enabled"`
	ListenAddr string        `yaml:"listen_addr"`
	Path       string        `yaml:"path"`
	Interval   time.Duration `yaml:"interval"`
	AllowedIPs []string      `yaml:"allowed_ips"`
	TrustProxy bool          `yaml:"trust_proxy"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load loads configuration from a YAML file. A .env file next to the
// working directory is loaded first unless APP_ENV is production, and
// ${VAR} references in the YAML are expanded from the environment.
func Load(path string) (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses YAML configuration, applying defaults and validation
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 5 << 20 // 5 MB
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Path == "" {
		switch c.Store.Driver {
		case "bolt":
			c.Store.Path = "/var/lib/pageforge/layouts.bolt"
		default:
			c.Store.Path = "/var/lib/pageforge/pageforge.db"
		}
	}
	if c.Store.Timeout == 0 {
		c.Store.Timeout = 5 * time.Second
	}
	if c.Store.MaxOpenConns == 0 {
		c.Store.MaxOpenConns = 10
	}

	if c.CacheControl.BySlug == "" {
		c.CacheControl.BySlug = "public, max-age=0, s-maxage=60, stale-while-revalidate=300"
	}
	if c.CacheControl.ByID == "" {
		c.CacheControl.ByID = "private, max-age=10, stale-while-revalidate=600"
	}

	if c.Uploads.Dir == "" {
		c.Uploads.Dir = "/var/lib/pageforge/uploads"
	}
	if c.Uploads.BaseURL == "" {
		c.Uploads.BaseURL = "/uploads"
	}
	if c.Uploads.MaxBytes == 0 {
		c.Uploads.MaxBytes = 10 << 20 // 10 MB
	}
	if len(c.Uploads.AllowedTypes) == 0 {
		c.Uploads.AllowedTypes = []string{"image/png", "image/jpeg", "image/gif", "image/webp", "image/svg+xml"}
	}

	if c.Events.Buffer == 0 {
		c.Events.Buffer = 16
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.Interval == 0 {
		c.Metrics.Interval = 15 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "bolt":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for driver %s", c.Store.Driver)
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver postgres")
		}
	default:
		return fmt.Errorf("invalid store.driver: %s (must be sqlite, postgres, or bolt)", c.Store.Driver)
	}

	if c.Store.Timeout < 0 {
		return fmt.Errorf("store.timeout must not be negative")
	}

	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls.cert_file and server.tls.key_file are required when TLS is enabled")
	}

	if c.Auth.OIDC.Enabled {
		if c.Auth.OIDC.IssuerURL == "" {
			return fmt.Errorf("auth.oidc.issuer_url is required when OIDC is enabled")
		}
		if c.Auth.OIDC.ClientID == "" {
			return fmt.Errorf("auth.oidc.client_id is required when OIDC is enabled")
		}
	}

	if c.Events.Buffer < 0 {
		return fmt.Errorf("events.buffer must not be negative")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}

// HasTLS returns true if the API should be served over TLS
func (c *Config) HasTLS() bool {
	return c.Server.TLS.Enabled && c.Server.TLS.CertFile != "" && c.Server.TLS.KeyFile != ""
}
