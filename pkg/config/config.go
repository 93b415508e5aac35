package config

import (
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/ekaya-inc/ekaya-dashboards/pkg/models"
)

// Config holds all configuration for ekaya-dashboards.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, signing keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"5050"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis caches query results; leave host empty to disable.
	Redis RedisConfig `yaml:"redis"`

	// Dashboard page behaviour
	Dashboard DashboardConfig `yaml:"dashboard"`

	// Public share links
	Sharing SharingConfig `yaml:"sharing"`

	// SessionSecret signs the dashboard session cookie.
	SessionSecret string `yaml:"-" env:"SESSION_SECRET"` // Secret - not in YAML
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_dashboards"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	// StatementTimeoutMs caps every statement on the pool; 0 leaves the server default.
	StatementTimeoutMs int `yaml:"statement_timeout_ms" env:"PGSTATEMENT_TIMEOUT_MS" env-default:"30000"`
}

// RedisConfig holds Redis connection settings for the query result cache.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	// ResultTTLSeconds bounds how long a cached result may live regardless of max age.
	ResultTTLSeconds int `yaml:"result_ttl_seconds" env:"REDIS_RESULT_TTL_SECONDS" env-default:"86400"`
}

// DashboardConfig holds settings of the dashboard page engine.
type DashboardConfig struct {
	// ReloadThrottleMs is the rolling window of the dashboard reload throttle.
	ReloadThrottleMs int `yaml:"reload_throttle_ms" env:"DASHBOARD_RELOAD_THROTTLE_MS" env-default:"1000"`
	// ReloadBackoff switches failed-load retries from a plain throttled loop
	// to capped exponential backoff.
	ReloadBackoff bool `yaml:"reload_backoff" env:"DASHBOARD_RELOAD_BACKOFF" env-default:"false"`
	// SessionIdleMinutes evicts dashboard sessions nobody touched for this long.
	SessionIdleMinutes int `yaml:"session_idle_minutes" env:"DASHBOARD_SESSION_IDLE_MINUTES" env-default:"30"`
	// PageSize of the dashboard list.
	PageSize int `yaml:"page_size" env:"DASHBOARD_PAGE_SIZE" env-default:"20"`
	// ShowPermissionsControl exposes the ACL editor URL in session views.
	ShowPermissionsControl bool `yaml:"show_permissions_control" env:"DASHBOARD_SHOW_PERMISSIONS_CONTROL" env-default:"false"`
	// RefreshRates offered on the page. Defaults to DefaultRefreshRates.
	RefreshRates []models.RefreshRate `yaml:"refresh_rates"`
}

// SharingConfig holds public share link settings.
type SharingConfig struct {
	// Secret signs share tokens. Sharing is disabled when empty.
	Secret string `yaml:"-" env:"SHARE_SIGNING_SECRET"` // Secret - not in YAML
	// PublicBaseURL prefixes public links. Defaults to BaseURL.
	PublicBaseURL string `yaml:"public_base_url" env:"SHARE_PUBLIC_BASE_URL" env-default:""`
}

// DefaultRefreshRates is the auto-refresh catalogue offered when none is configured.
func DefaultRefreshRates() []models.RefreshRate {
	return []models.RefreshRate{
		{Name: "10 seconds", Rate: 10},
		{Name: "30 seconds", Rate: 30},
		{Name: "1 minute", Rate: 60},
		{Name: "5 minutes", Rate: 60 * 5},
		{Name: "10 minutes", Rate: 60 * 10},
		{Name: "30 minutes", Rate: 60 * 30},
		{Name: "1 hour", Rate: 60 * 60},
	}
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}
	if cfg.Sharing.PublicBaseURL == "" {
		cfg.Sharing.PublicBaseURL = cfg.BaseURL
	}
	if len(cfg.Dashboard.RefreshRates) == 0 {
		cfg.Dashboard.RefreshRates = DefaultRefreshRates()
	}

	cfg.Database.Host = resolveHostForDocker(cfg.Database.Host)
	cfg.Redis.Host = resolveHostForDocker(cfg.Redis.Host)

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Dashboard.ReloadThrottleMs <= 0 {
		return fmt.Errorf("dashboard.reload_throttle_ms must be positive")
	}
	for _, r := range c.Dashboard.RefreshRates {
		if r.Rate <= 0 {
			return fmt.Errorf("refresh rate %q must be positive", r.Name)
		}
	}
	return nil
}

// ReloadThrottle returns the reload throttle window.
func (c *DashboardConfig) ReloadThrottle() time.Duration {
	return time.Duration(c.ReloadThrottleMs) * time.Millisecond
}

// SessionIdleTTL returns how long an untouched session is kept.
func (c *DashboardConfig) SessionIdleTTL() time.Duration {
	return time.Duration(c.SessionIdleMinutes) * time.Minute
}

// StatementTimeout returns the per-statement timeout.
func (c *DatabaseConfig) StatementTimeout() time.Duration {
	return time.Duration(c.StatementTimeoutMs) * time.Millisecond
}

// ConnectionString returns a PostgreSQL connection URL.
func (c *DatabaseConfig) ConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

// Addr returns host:port of the Redis server.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ResultTTL returns the hard cap on cached result lifetime.
func (c *RedisConfig) ResultTTL() time.Duration {
	return time.Duration(c.ResultTTLSeconds) * time.Second
}

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// resolveHostForDocker maps localhost to host.docker.internal when running in
// a container, so services on the host machine stay reachable.
func resolveHostForDocker(host string) string {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	if !isDockerResult {
		return host
	}
	if host == "localhost" || host == "127.0.0.1" {
		return "host.docker.internal"
	}
	return host
}
