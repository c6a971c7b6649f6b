package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.SessionAPI.BatchSize != 20 {
		t.Errorf("Expected session API batch size 20, got %d", config.SessionAPI.BatchSize)
	}
	if config.Scrape.MaxItems != 140 {
		t.Errorf("Expected scrape cap 140, got %d", config.Scrape.MaxItems)
	}
	if config.Download.ConcurrentDownloads != 4 {
		t.Errorf("Expected 4 concurrent downloads, got %d", config.Download.ConcurrentDownloads)
	}
	if config.Download.DownloadTimeout != 30*time.Second {
		t.Errorf("Expected 30s download timeout, got %v", config.Download.DownloadTimeout)
	}
	if config.Download.RetryAttempts != 3 {
		t.Errorf("Expected 3 download attempts, got %d", config.Download.RetryAttempts)
	}
	assert.Equal(t, []string{"pbs.twimg.com", "ton.twimg.com", "video.twimg.com"}, config.Download.AllowedHosts)
	assert.True(t, config.Resolve.PhotosOnly)
	require.NoError(t, config.Validate())
}

func TestDefaultAllowedHostsNotShared(t *testing.T) {
	a := DefaultConfig()
	a.Download.AllowedHosts[0] = "evil.example"
	assert.Equal(t, "pbs.twimg.com", DefaultConfig().Download.AllowedHosts[0])
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LIKEGRAB_AUTH_TOKEN", "auth-cookie")
	t.Setenv("LIKEGRAB_CSRF_TOKEN", "ct0-cookie")
	t.Setenv("LIKEGRAB_BEARER_TOKEN", "bearer")
	t.Setenv("LIKEGRAB_PAID_MAX_CALLS", "7")
	t.Setenv("LIKEGRAB_STAGING_DIR", "/tmp/stage")
	t.Setenv("LIKEGRAB_CONCURRENT_DOWNLOADS", "2")
	t.Setenv("LIKEGRAB_DOWNLOAD_TIMEOUT", "5s")
	t.Setenv("LIKEGRAB_LOG_LEVEL", "debug")

	config := DefaultConfig()
	require.NoError(t, config.LoadFromEnv())

	assert.Equal(t, "auth-cookie", config.Credentials.AuthToken)
	assert.Equal(t, "ct0-cookie", config.Credentials.CSRFToken)
	assert.Equal(t, "bearer", config.Credentials.BearerToken)
	assert.Equal(t, 7, config.PaidAPI.MaxCalls)
	assert.Equal(t, "/tmp/stage", config.Output.StagingDirectory)
	assert.Equal(t, 2, config.Download.ConcurrentDownloads)
	assert.Equal(t, 5*time.Second, config.Download.DownloadTimeout)
	assert.Equal(t, "debug", config.Logging.Level)
}

func TestLoadFromEnvInvalidNumber(t *testing.T) {
	t.Setenv("LIKEGRAB_RESOLVE_LIMIT", "lots")

	config := DefaultConfig()
	err := config.LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LIKEGRAB_RESOLVE_LIMIT")
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
session_api:
  enabled: false
  batch_size: 15
paid_api:
  max_calls: 3
  max_duration: 2m
download:
  concurrent_downloads: 2
  download_timeout: 10s
  allowed_hosts: [pbs.twimg.com]
output:
  manifest_path: /data/manifest.db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config := DefaultConfig()
	require.NoError(t, config.LoadFromFile(path))

	assert.False(t, config.SessionAPI.Enabled)
	assert.Equal(t, 15, config.SessionAPI.BatchSize)
	assert.Equal(t, 3, config.PaidAPI.MaxCalls)
	assert.Equal(t, 2*time.Minute, config.PaidAPI.MaxDuration)
	assert.Equal(t, 10*time.Second, config.Download.DownloadTimeout)
	assert.Equal(t, []string{"pbs.twimg.com"}, config.Download.AllowedHosts)
	assert.Equal(t, "/data/manifest.db", config.Output.ManifestPath)
	// Untouched sections keep their defaults.
	assert.Equal(t, 140, config.Scrape.MaxItems)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"zero batch", func(c *Config) { c.SessionAPI.BatchSize = 0 }, "session API batch size"},
		{"paid batch too large", func(c *Config) { c.PaidAPI.BatchSize = 101 }, "paid API batch size"},
		{"negative budget", func(c *Config) { c.PaidAPI.MaxCalls = -1 }, "max calls"},
		{"no workers", func(c *Config) { c.Download.ConcurrentDownloads = 0 }, "concurrent downloads must be positive"},
		{"too many workers", func(c *Config) { c.Download.ConcurrentDownloads = 64 }, "should not exceed"},
		{"no hosts", func(c *Config) { c.Download.AllowedHosts = nil }, "allowed download host"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "invalid log level"},
		{"no staging", func(c *Config) { c.Output.StagingDirectory = "" }, "staging directory"},
		{"negative likes pages", func(c *Config) { c.LikesAPI.MaxPages = -1 }, "likes API max pages"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	config := DefaultConfig()
	config.Download.ConcurrentDownloads = 0
	config.Logging.Level = "nope"

	err := config.Validate()
	require.Error(t, err)
	assert.Equal(t, 2, len(strings.Split(err.Error(), "\n")))
}

func TestMergeCommandLineFlags(t *testing.T) {
	config := DefaultConfig()
	config.MergeCommandLineFlags(map[string]interface{}{
		"manifest":         "out/m.json",
		"limit":            50,
		"concurrent":       8,
		"download-timeout": 12 * time.Second,
		"no-scrape":        true,
		"no-paid-api":      false,
		"retry-failed":     true,
	})

	assert.Equal(t, "out/m.json", config.Output.ManifestPath)
	assert.Equal(t, 50, config.Resolve.Limit)
	assert.Equal(t, 8, config.Download.ConcurrentDownloads)
	assert.Equal(t, 12*time.Second, config.Download.DownloadTimeout)
	assert.False(t, config.Scrape.Enabled)
	assert.True(t, config.PaidAPI.Enabled)
	assert.True(t, config.Resolve.RetryFailed)
}

func TestMergeLikesAPIFlags(t *testing.T) {
	config := DefaultConfig()
	assert.False(t, config.LikesAPI.Enabled)

	config.MergeCommandLineFlags(map[string]interface{}{"api": true, "api-max-pages": 3})
	assert.True(t, config.LikesAPI.Enabled)
	assert.Empty(t, config.LikesAPI.UserID)
	assert.Equal(t, 3, config.LikesAPI.MaxPages)

	config = DefaultConfig()
	config.MergeCommandLineFlags(map[string]interface{}{"api-user-id": "1234"})
	assert.True(t, config.LikesAPI.Enabled, "a user id selects the API source")
	assert.Equal(t, "1234", config.LikesAPI.UserID)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	config := DefaultConfig()
	config.PaidAPI.MaxCalls = 9

	require.NoError(t, config.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, 9, loaded.PaidAPI.MaxCalls)
	assert.Equal(t, config.SessionAPI.MinInterval, loaded.SessionAPI.MinInterval)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("download:\n  concurrent_downloads: 2\n"), 0644))
	t.Setenv("LIKEGRAB_CONCURRENT_DOWNLOADS", "3")

	config, err := Load(path, map[string]interface{}{"concurrent": 5})
	require.NoError(t, err)
	assert.Equal(t, 5, config.Download.ConcurrentDownloads)

	config, err = Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, config.Download.ConcurrentDownloads)
}
