package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultWebBearerToken is the public bearer token the x.com web client sends
// alongside session cookies.
const DefaultWebBearerToken = "AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs%3D1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA"

// DefaultAllowedHosts are the media CDNs downloads may be fetched from
var DefaultAllowedHosts = []string{"pbs.twimg.com", "ton.twimg.com", "video.twimg.com"}

// Config holds all configuration options for likegrab
type Config struct {
	Credentials CredentialsConfig `yaml:"credentials" json:"credentials"`
	SessionAPI  SessionAPIConfig  `yaml:"session_api" json:"session_api"`
	PaidAPI     PaidAPIConfig     `yaml:"paid_api" json:"paid_api"`
	Scrape      ScrapeConfig      `yaml:"scrape" json:"scrape"`
	LikesAPI    LikesAPIConfig    `yaml:"likes_api" json:"likes_api"`
	Resolve     ResolveConfig     `yaml:"resolve" json:"resolve"`
	Download    DownloadConfig    `yaml:"download" json:"download"`
	Retry       RetryConfig       `yaml:"retry" json:"retry"`
	Output      OutputConfig      `yaml:"output" json:"output"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics" json:"metrics"`
	Run         RunConfig         `yaml:"run" json:"run"`
}

// CredentialsConfig holds the secrets used by the resolution strategies.
// Account names a stored credential profile that fills empty fields.
type CredentialsConfig struct {
	Account     string `yaml:"account" json:"account"`
	AuthToken   string `yaml:"auth_token" json:"-"`
	CSRFToken   string `yaml:"csrf_token" json:"-"`
	BearerToken string `yaml:"bearer_token" json:"-"`
	UserAgent   string `yaml:"user_agent" json:"user_agent"`
}

// SessionAPIConfig configures the cookie-authenticated web API strategy
type SessionAPIConfig struct {
	Enabled                bool          `yaml:"enabled" json:"enabled"`
	BaseURL                string        `yaml:"base_url" json:"base_url"`
	QueryID                string        `yaml:"query_id" json:"query_id"`
	WebBearerToken         string        `yaml:"web_bearer_token" json:"-"`
	BatchSize              int           `yaml:"batch_size" json:"batch_size"`
	MaxAttempts            int           `yaml:"max_attempts" json:"max_attempts"`
	MinInterval            time.Duration `yaml:"min_interval" json:"min_interval"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures" json:"max_consecutive_failures"`
	Timeout                time.Duration `yaml:"timeout" json:"timeout"`
}

// PaidAPIConfig configures the bearer-token REST API strategy
type PaidAPIConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled"`
	BaseURL     string        `yaml:"base_url" json:"base_url"`
	BatchSize   int           `yaml:"batch_size" json:"batch_size"`
	MaxCalls    int           `yaml:"max_calls" json:"max_calls"`
	MaxDuration time.Duration `yaml:"max_duration" json:"max_duration"`
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
}

// ScrapeConfig configures the page scraping strategy
type ScrapeConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled"`
	BaseURL     string        `yaml:"base_url" json:"base_url"`
	MaxItems    int           `yaml:"max_items" json:"max_items"`
	MinInterval time.Duration `yaml:"min_interval" json:"min_interval"`
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
}

// LikesAPIConfig configures reading liked posts from the REST API instead of,
// or alongside, archive exports. It uses the paid API base URL and bearer token.
type LikesAPIConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	UserID  string `yaml:"user_id" json:"user_id"`
	// Account labels the ingested posts; the user id when empty
	Account     string        `yaml:"account" json:"account"`
	MaxPages    int           `yaml:"max_pages" json:"max_pages"`
	MinInterval time.Duration `yaml:"min_interval" json:"min_interval"`
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
}

// ResolveConfig holds orchestrator-wide settings
type ResolveConfig struct {
	// Limit caps how many unresolved posts one run attempts (0 = all)
	Limit       int  `yaml:"limit" json:"limit"`
	PhotosOnly  bool `yaml:"photos_only" json:"photos_only"`
	RetryFailed bool `yaml:"retry_failed" json:"retry_failed"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	Enabled             bool          `yaml:"enabled" json:"enabled"`
	ConcurrentDownloads int           `yaml:"concurrent_downloads" json:"concurrent_downloads"`
	DownloadTimeout     time.Duration `yaml:"download_timeout" json:"download_timeout"`
	RetryAttempts       int           `yaml:"retry_attempts" json:"retry_attempts"`
	AllowedHosts        []string      `yaml:"allowed_hosts" json:"allowed_hosts"`
	MaxFileSize         int64         `yaml:"max_file_size" json:"max_file_size"`
	MaxItems            int           `yaml:"max_items" json:"max_items"`
}

// RetryConfig holds the shared backoff parameters
type RetryConfig struct {
	BaseDelay    time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`
	JitterFactor float64       `yaml:"jitter_factor" json:"jitter_factor"`
}

// OutputConfig holds output locations
type OutputConfig struct {
	StagingDirectory string `yaml:"staging_directory" json:"staging_directory"`
	// ManifestPath ending in .db or .sqlite selects the SQLite store
	ManifestPath string `yaml:"manifest_path" json:"manifest_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// RunConfig holds whole-run limits
type RunConfig struct {
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Credentials: CredentialsConfig{
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		},
		SessionAPI: SessionAPIConfig{
			Enabled:                true,
			BaseURL:                "https://x.com",
			QueryID:                "Xl5pC_lBk_gcO2ItU39DQw",
			WebBearerToken:         DefaultWebBearerToken,
			BatchSize:              20,
			MaxAttempts:            3,
			MinInterval:            1 * time.Second,
			MaxConsecutiveFailures: 3,
			Timeout:                30 * time.Second,
		},
		PaidAPI: PaidAPIConfig{
			Enabled:     true,
			BaseURL:     "https://api.x.com",
			BatchSize:   10,
			MaxCalls:    100,
			MaxDuration: 15 * time.Minute,
			MaxAttempts: 3,
			Timeout:     30 * time.Second,
		},
		Scrape: ScrapeConfig{
			Enabled:     true,
			BaseURL:     "https://x.com",
			MaxItems:    140,
			MinInterval: 2 * time.Second,
			MaxAttempts: 2,
			Timeout:     30 * time.Second,
		},
		LikesAPI: LikesAPIConfig{
			MinInterval: 500 * time.Millisecond,
			MaxAttempts: 5,
			Timeout:     30 * time.Second,
		},
		Resolve: ResolveConfig{
			PhotosOnly: true,
		},
		Download: DownloadConfig{
			Enabled:             true,
			ConcurrentDownloads: 4,
			DownloadTimeout:     30 * time.Second,
			RetryAttempts:       3,
			AllowedHosts:        append([]string(nil), DefaultAllowedHosts...),
			MaxFileSize:         0, // 0 means no limit
		},
		Retry: RetryConfig{
			BaseDelay:    1 * time.Second,
			MaxDelay:     60 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		Output: OutputConfig{
			StagingDirectory: "./staging",
			ManifestPath:     "./staging/manifest.json",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from LIKEGRAB_* environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	setString("LIKEGRAB_ACCOUNT", &c.Credentials.Account)
	setString("LIKEGRAB_AUTH_TOKEN", &c.Credentials.AuthToken)
	setString("LIKEGRAB_CSRF_TOKEN", &c.Credentials.CSRFToken)
	setString("LIKEGRAB_BEARER_TOKEN", &c.Credentials.BearerToken)
	setString("LIKEGRAB_USER_AGENT", &c.Credentials.UserAgent)

	setInt("LIKEGRAB_RESOLVE_LIMIT", &c.Resolve.Limit)
	setInt("LIKEGRAB_PAID_MAX_CALLS", &c.PaidAPI.MaxCalls)
	setDuration("LIKEGRAB_PAID_MAX_DURATION", &c.PaidAPI.MaxDuration)
	setInt("LIKEGRAB_SCRAPE_MAX_ITEMS", &c.Scrape.MaxItems)
	setString("LIKEGRAB_API_USER_ID", &c.LikesAPI.UserID)

	setString("LIKEGRAB_STAGING_DIR", &c.Output.StagingDirectory)
	setString("LIKEGRAB_MANIFEST", &c.Output.ManifestPath)
	setInt("LIKEGRAB_CONCURRENT_DOWNLOADS", &c.Download.ConcurrentDownloads)
	setDuration("LIKEGRAB_DOWNLOAD_TIMEOUT", &c.Download.DownloadTimeout)

	setString("LIKEGRAB_LOG_LEVEL", &c.Logging.Level)
	setString("LIKEGRAB_LOG_FILE", &c.Logging.File)
	setString("LIKEGRAB_METRICS_ADDR", &c.Metrics.Addr)

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".likegrab.yaml",
		".likegrab.yml",
		filepath.Join(home, ".config", "likegrab", "config.yaml"),
		filepath.Join(home, ".config", "likegrab", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.SessionAPI.BatchSize <= 0 || c.SessionAPI.BatchSize > 100 {
		errs = append(errs, errors.New("session API batch size must be between 1 and 100"))
	}
	if c.SessionAPI.MaxAttempts <= 0 {
		errs = append(errs, errors.New("session API max attempts must be positive"))
	}
	if c.SessionAPI.Enabled && c.SessionAPI.QueryID == "" {
		errs = append(errs, errors.New("session API query id is required"))
	}

	if c.PaidAPI.BatchSize <= 0 || c.PaidAPI.BatchSize > 100 {
		errs = append(errs, errors.New("paid API batch size must be between 1 and 100"))
	}
	if c.PaidAPI.MaxCalls < 0 {
		errs = append(errs, errors.New("paid API max calls cannot be negative"))
	}
	if c.PaidAPI.MaxAttempts <= 0 {
		errs = append(errs, errors.New("paid API max attempts must be positive"))
	}

	if c.Scrape.MaxItems < 0 {
		errs = append(errs, errors.New("scrape max items cannot be negative"))
	}
	if c.Scrape.MaxAttempts <= 0 {
		errs = append(errs, errors.New("scrape max attempts must be positive"))
	}

	if c.LikesAPI.MaxPages < 0 {
		errs = append(errs, errors.New("likes API max pages cannot be negative"))
	}
	if c.LikesAPI.MaxAttempts <= 0 {
		errs = append(errs, errors.New("likes API max attempts must be positive"))
	}

	if c.Resolve.Limit < 0 {
		errs = append(errs, errors.New("resolve limit cannot be negative"))
	}

	if c.Download.ConcurrentDownloads <= 0 {
		errs = append(errs, errors.New("concurrent downloads must be positive"))
	}
	if c.Download.ConcurrentDownloads > 16 {
		errs = append(errs, errors.New("concurrent downloads should not exceed 16"))
	}
	if c.Download.DownloadTimeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}
	if c.Download.RetryAttempts <= 0 {
		errs = append(errs, errors.New("download retry attempts must be positive"))
	}
	if len(c.Download.AllowedHosts) == 0 {
		errs = append(errs, errors.New("at least one allowed download host is required"))
	}

	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		errs = append(errs, errors.New("retry delays must satisfy 0 <= base_delay <= max_delay"))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("retry multiplier must be at least 1"))
	}

	if c.Output.StagingDirectory == "" {
		errs = append(errs, errors.New("staging directory is required"))
	}
	if c.Output.ManifestPath == "" {
		errs = append(errs, errors.New("manifest path is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if c.Run.Timeout < 0 {
		errs = append(errs, errors.New("run timeout cannot be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Keys match the flag names registered by the CLI.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["account"].(string); ok && v != "" {
		c.Credentials.Account = v
	}
	if v, ok := flags["staging"].(string); ok && v != "" {
		c.Output.StagingDirectory = v
	}
	if v, ok := flags["manifest"].(string); ok && v != "" {
		c.Output.ManifestPath = v
	}
	if v, ok := flags["limit"].(int); ok && v > 0 {
		c.Resolve.Limit = v
	}
	if v, ok := flags["paid-max-calls"].(int); ok && v > 0 {
		c.PaidAPI.MaxCalls = v
	}
	if v, ok := flags["concurrent"].(int); ok && v > 0 {
		c.Download.ConcurrentDownloads = v
	}
	if v, ok := flags["download-timeout"].(time.Duration); ok && v > 0 {
		c.Download.DownloadTimeout = v
	}
	if v, ok := flags["timeout"].(time.Duration); ok && v > 0 {
		c.Run.Timeout = v
	}
	if v, ok := flags["no-session-api"].(bool); ok && v {
		c.SessionAPI.Enabled = false
	}
	if v, ok := flags["no-paid-api"].(bool); ok && v {
		c.PaidAPI.Enabled = false
	}
	if v, ok := flags["no-scrape"].(bool); ok && v {
		c.Scrape.Enabled = false
	}
	if v, ok := flags["no-download"].(bool); ok && v {
		c.Download.Enabled = false
	}
	if v, ok := flags["api"].(bool); ok && v {
		c.LikesAPI.Enabled = true
	}
	if v, ok := flags["api-user-id"].(string); ok && v != "" {
		c.LikesAPI.UserID = v
		c.LikesAPI.Enabled = true
	}
	if v, ok := flags["api-max-pages"].(int); ok && v > 0 {
		c.LikesAPI.MaxPages = v
	}
	if v, ok := flags["retry-failed"].(bool); ok && v {
		c.Resolve.RetryFailed = true
	}
	if v, ok := flags["metrics-addr"].(string); ok && v != "" {
		c.Metrics.Addr = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".likegrab.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
