package config

import (
	"fmt"
	"time"
)

// Store drivers.
const (
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Repository service kinds.
const (
	RepoServiceHTTP  = "http"
	RepoServiceLocal = "local"
)

// Config holds all application configuration settings.
type Config struct {
	Environment string `envconfig:"ENV" default:"development"`

	HTTPPort        int           `envconfig:"HTTP_PORT" default:"8080"`
	HTTPTimeout     time.Duration `envconfig:"HTTP_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	// OfflineDownloadEnabled is read once at startup.
	OfflineDownloadEnabled bool `envconfig:"OFFLINE_DOWNLOAD_ENABLED" default:"true"`

	StoreDriver string `envconfig:"STORE_DRIVER" default:"sqlite"`
	StoreDSN    string `envconfig:"STORE_DSN" default:"./data/tasks.db"`
	StateFile   string `envconfig:"STATE_FILE" default:"./data/state.json"`

	WorkerPoolSize  int           `envconfig:"WORKER_POOL_SIZE" default:"5"`
	PollInterval    time.Duration `envconfig:"POLL_INTERVAL" default:"2s"`
	LeaseDuration   time.Duration `envconfig:"LEASE_DURATION" default:"10m"`
	MaxAttempts     int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	FetchRetries    uint          `envconfig:"FETCH_RETRIES" default:"3"`
	DownloadTimeout time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"5m"`
	MaxFileSize     int64         `envconfig:"MAX_FILE_SIZE" default:"104857600"`

	BlockPrivateHosts     bool `envconfig:"DOWNLOAD_BLOCK_PRIVATE" default:"true"`
	MaxActiveTasksPerUser int  `envconfig:"MAX_ACTIVE_TASKS_PER_USER" default:"50"`
	AdminMaxPerPage       int  `envconfig:"ADMIN_MAX_PER_PAGE" default:"100"`

	RepoService      string        `envconfig:"REPO_SERVICE" default:"local"`
	RepoServiceURL   string        `envconfig:"REPO_SERVICE_URL"`
	RepoServiceToken string        `envconfig:"REPO_SERVICE_TOKEN"`
	RepoTimeout      time.Duration `envconfig:"REPO_SERVICE_TIMEOUT" default:"10s"`
	RepoRoot         string        `envconfig:"REPO_ROOT" default:"./data/repos"`
	RepoManifest     string        `envconfig:"REPO_MANIFEST" default:"./data/repos.yaml"`
	RepoCacheTTL     time.Duration `envconfig:"REPO_CACHE_TTL" default:"1m"`
	RepoCacheSize    int           `envconfig:"REPO_CACHE_SIZE" default:"1024"`
	EnrichParallel   int           `envconfig:"ENRICH_PARALLELISM" default:"8"`

	JWTSecret string `envconfig:"JWT_SECRET"`
	JWTIssuer string `envconfig:"JWT_ISSUER"`

	UserRateLimit float64 `envconfig:"USER_RATE_LIMIT" default:"5"`
	UserRateBurst int     `envconfig:"USER_RATE_BURST" default:"10"`

	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat     string `envconfig:"LOG_FORMAT" default:"json"`
	LogFile       string `envconfig:"LOG_FILE"`
	LogMaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"100"`
	LogMaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"5"`
	LogMaxAgeDays int    `envconfig:"LOG_MAX_AGE_DAYS" default:"28"`
}

// Validate checks the configuration for invalid or missing values.
// Returns an error describing the first invalid setting found.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	switch c.StoreDriver {
	case StoreFile:
		if c.StateFile == "" {
			return fmt.Errorf("state file cannot be empty")
		}
	case StoreSQLite, StorePostgres:
		if c.StoreDSN == "" {
			return fmt.Errorf("store DSN cannot be empty for driver %s", c.StoreDriver)
		}
	default:
		return fmt.Errorf("unknown store driver: %q", c.StoreDriver)
	}

	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("worker pool size must be positive: %d", c.WorkerPoolSize)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive: %s", c.PollInterval)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive: %d", c.MaxAttempts)
	}
	if c.DownloadTimeout <= 0 {
		return fmt.Errorf("download timeout must be positive: %s", c.DownloadTimeout)
	}
	if c.LeaseDuration <= c.DownloadTimeout {
		return fmt.Errorf("lease duration %s must exceed download timeout %s", c.LeaseDuration, c.DownloadTimeout)
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max file size must be positive: %d", c.MaxFileSize)
	}

	if c.MaxActiveTasksPerUser < 0 {
		return fmt.Errorf("max active tasks per user cannot be negative: %d", c.MaxActiveTasksPerUser)
	}
	if c.AdminMaxPerPage < 0 {
		return fmt.Errorf("admin max per page cannot be negative: %d", c.AdminMaxPerPage)
	}

	switch c.RepoService {
	case RepoServiceHTTP:
		if c.RepoServiceURL == "" {
			return fmt.Errorf("repo service URL cannot be empty")
		}
	case RepoServiceLocal:
		if c.RepoRoot == "" || c.RepoManifest == "" {
			return fmt.Errorf("repo root and manifest cannot be empty")
		}
	default:
		return fmt.Errorf("unknown repo service: %q", c.RepoService)
	}
	if c.RepoCacheTTL < 0 {
		return fmt.Errorf("repo cache TTL cannot be negative: %s", c.RepoCacheTTL)
	}
	if c.EnrichParallel <= 0 {
		return fmt.Errorf("enrich parallelism must be positive: %d", c.EnrichParallel)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT secret cannot be empty")
	}
	if c.UserRateLimit < 0 || c.UserRateBurst < 0 {
		return fmt.Errorf("user rate limit and burst cannot be negative")
	}

	return nil
}
