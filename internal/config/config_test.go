package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		HTTPPort:               8080,
		OfflineDownloadEnabled: true,
		StoreDriver:            StoreSQLite,
		StoreDSN:               "tasks.db",
		WorkerPoolSize:         2,
		PollInterval:           time.Second,
		LeaseDuration:          10 * time.Minute,
		MaxAttempts:            3,
		DownloadTimeout:        time.Minute,
		MaxFileSize:            1024,
		RepoService:            RepoServiceLocal,
		RepoRoot:               "repos",
		RepoManifest:           "repos.yaml",
		EnrichParallel:         4,
		JWTSecret:              "secret",
	}
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := map[string]func(c *Config){
		"bad port":            func(c *Config) { c.HTTPPort = 0 },
		"unknown driver":      func(c *Config) { c.StoreDriver = "mongo" },
		"empty dsn":           func(c *Config) { c.StoreDSN = "" },
		"file without state":  func(c *Config) { c.StoreDriver = StoreFile; c.StateFile = "" },
		"no workers":          func(c *Config) { c.WorkerPoolSize = 0 },
		"lease too short":     func(c *Config) { c.LeaseDuration = c.DownloadTimeout },
		"no attempts":         func(c *Config) { c.MaxAttempts = 0 },
		"negative quota":      func(c *Config) { c.MaxActiveTasksPerUser = -1 },
		"negative admin cap":  func(c *Config) { c.AdminMaxPerPage = -1 },
		"http repo no url":    func(c *Config) { c.RepoService = RepoServiceHTTP },
		"unknown repo kind":   func(c *Config) { c.RepoService = "ftp" },
		"missing jwt secret":  func(c *Config) { c.JWTSecret = "" },
		"negative rate limit": func(c *Config) { c.UserRateLimit = -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OD_JWT_SECRET", "secret")
	t.Setenv("OD_STORE_DSN", filepath.Join(dir, "db", "tasks.db"))
	t.Setenv("OD_REPO_ROOT", filepath.Join(dir, "repos"))
	t.Setenv("OD_REPO_MANIFEST", filepath.Join(dir, "repos.yaml"))
	t.Setenv("OD_MAX_ACTIVE_TASKS_PER_USER", "0")
	t.Setenv("OD_OFFLINE_DOWNLOAD_ENABLED", "false")

	cfg, err := Load(filepath.Join(dir, "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, StoreSQLite, cfg.StoreDriver)
	assert.False(t, cfg.OfflineDownloadEnabled)
	assert.Zero(t, cfg.MaxActiveTasksPerUser)
	assert.Equal(t, 100, cfg.AdminMaxPerPage)
	assert.Equal(t, 10*time.Minute, cfg.LeaseDuration)
	assert.DirExists(t, filepath.Join(dir, "db"))
	assert.DirExists(t, filepath.Join(dir, "repos"))
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	content := "OD_JWT_SECRET=from-file\n" +
		"OD_STORE_DRIVER=file\n" +
		"OD_STATE_FILE=" + filepath.Join(dir, "state.json") + "\n" +
		"OD_REPO_ROOT=" + filepath.Join(dir, "repos") + "\n" +
		"OD_REPO_MANIFEST=" + filepath.Join(dir, "repos.yaml") + "\n" +
		"OD_WORKER_POOL_SIZE=7\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o644))

	for _, key := range []string{"OD_JWT_SECRET", "OD_STORE_DRIVER", "OD_STATE_FILE", "OD_REPO_ROOT", "OD_REPO_MANIFEST", "OD_WORKER_POOL_SIZE"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, StoreFile, cfg.StoreDriver)
	assert.Equal(t, 7, cfg.WorkerPoolSize)
}

func TestLoad_InvalidConfig(t *testing.T) {
	t.Setenv("OD_JWT_SECRET", "")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
