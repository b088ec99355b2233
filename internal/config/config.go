// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Cache (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Sessions (JWT)
	JWTSecret            string        `env:"JWT_SECRET,required"`
	JWTIssuer            string        `env:"JWT_ISSUER" envDefault:"labpod"`
	JWTAudience          string        `env:"JWT_AUDIENCE" envDefault:"labpod-api"`
	SessionTTL           time.Duration `env:"SESSION_TTL" envDefault:"8h"`
	SessionRefreshWindow time.Duration `env:"SESSION_REFRESH_WINDOW" envDefault:"1h"`

	// Cluster access. An empty kubeconfig path selects in-cluster config.
	Kubeconfig       string `env:"KUBECONFIG" envDefault:""`
	ClusterNamespace string `env:"CLUSTER_NAMESPACE" envDefault:"labpod-workspaces"`

	// WorkspaceDomain is the DNS zone under which environment URLs
	// are published (https://<service>.<domain>).
	WorkspaceDomain string `env:"WORKSPACE_DOMAIN" envDefault:"ws.labpod.dev"`

	// ApplicationCatalog is a comma-separated list of id=image pairs
	// defining the launchable application allow-list.
	ApplicationCatalog string `env:"APPLICATION_CATALOG" envDefault:"jupyter=ghcr.io/labpod/jupyter:latest,rstudio=ghcr.io/labpod/rstudio:latest,vscode=ghcr.io/labpod/code-server:latest"`

	// Lifecycle intervals and thresholds
	ReconcileInterval    time.Duration `env:"RECONCILE_INTERVAL" envDefault:"15s"`
	AutoShutdownInterval time.Duration `env:"AUTO_SHUTDOWN_INTERVAL" envDefault:"1m"`
	InactivityThreshold  time.Duration `env:"INACTIVITY_THRESHOLD" envDefault:"30m"`

	// ErrorGraceWindow is how long an errored environment keeps
	// counting toward its owner's quota.
	ErrorGraceWindow time.Duration `env:"ERROR_GRACE_WINDOW" envDefault:"5m"`

	// ClusterCallTimeout bounds each blocking cluster API call.
	ClusterCallTimeout time.Duration `env:"CLUSTER_CALL_TIMEOUT" envDefault:"30s"`

	// Rate limiting
	RateLimitAPIEnabled bool `env:"RATE_LIMIT_API_ENABLED" envDefault:"true"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://app.labpod.dev")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Applications parses the catalog string into an id → image map.
// Malformed entries are skipped.
func (c *Config) Applications() map[string]string {
	catalog := make(map[string]string)
	for _, entry := range strings.Split(c.ApplicationCatalog, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, image, ok := strings.Cut(entry, "=")
		if !ok || id == "" || image == "" {
			continue
		}
		catalog[strings.TrimSpace(id)] = strings.TrimSpace(image)
	}
	return catalog
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Load parses environment variables and returns a Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
