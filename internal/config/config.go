// Package config provides configuration management for the build service.
//
// Configuration is environment-first. An optional INI file (given with
// --config, or demo2apk.conf in the working directory) seeds values before
// the environment is applied, so containers can ship a baseline file and
// still override per-deployment with env vars.
//
// INI format:
//
//	[server]
//	host = 0.0.0.0
//	port = 3000
//	redis_url = redis://localhost:6379
//	log_level = info
//
//	[limits]
//	max_file_size = 31457280
//	rate_limit_enabled = true
//	rate_limit_max = 5
//	rate_limit_max_auth = 20
//	rate_limit_window = 1h
//	api_tokens =
//
//	[worker]
//	concurrency = 2
//	file_retention_hours = 2
//
//	[build]
//	builds_dir = ./builds
//	uploads_dir =
//	mock_build = false
//	mock_apk =
//	gradle_version = 8.7
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/vibecoding/demo2apk/internal/pathutil"
)

// DefaultFileName is the config file picked up from the working directory
// when --config is not given.
const DefaultFileName = "demo2apk.conf"

// Defaults for every tunable. Each one can be overridden by the config
// file and then by the matching environment variable.
const (
	defaultHost          = "0.0.0.0"
	defaultPort          = 3000
	defaultRedisURL      = "redis://localhost:6379"
	defaultLogLevel      = "info"
	defaultMaxFileSize   = 31457280 // 30 MB
	defaultRateLimitMax  = 5
	defaultRateLimitAuth = 20
	defaultRateWindow    = time.Hour
	defaultConcurrency   = 2
	defaultRetention     = 2 * time.Hour
	defaultGradleVersion = "8.7"
)

// Config is the full service configuration shared by the serve and worker
// commands.
type Config struct {
	Server ServerConfig
	Limits LimitsConfig
	Worker WorkerConfig
	Build  BuildConfig
}

// ServerConfig contains the HTTP and queue connection settings.
type ServerConfig struct {
	// Host is the API bind address. Default: 0.0.0.0
	Host string `ini:"host"`

	// Port is the API listen port. Default: 3000
	Port int `ini:"port"`

	// RedisURL is the queue backend connection string.
	// Default: redis://localhost:6379
	RedisURL string `ini:"redis_url"`

	// LogLevel is one of debug/info/warn/error. Default: info
	LogLevel string `ini:"log_level"`
}

// LimitsConfig contains upload and rate-limit settings.
type LimitsConfig struct {
	// MaxFileSize is the upload cap in bytes. Default: 31457280 (30 MB)
	MaxFileSize int64 `ini:"max_file_size"`

	// RateLimitEnabled toggles the build-submission rate limiter.
	// Default: true
	RateLimitEnabled bool `ini:"rate_limit_enabled"`

	// RateLimitMax is the anonymous quota per window. Default: 5
	RateLimitMax int `ini:"rate_limit_max"`

	// RateLimitMaxAuth is the quota for recognized bearer tokens.
	// Default: 20
	RateLimitMaxAuth int `ini:"rate_limit_max_auth"`

	// RateLimitWindow is the counting window. Default: 1h
	RateLimitWindow time.Duration `ini:"-"`

	// APITokens are the recognized bearer tokens. Empty means every
	// client counts against the anonymous quota.
	APITokens []string `ini:"-"`
}

// WorkerConfig contains the build-slot and retention settings.
type WorkerConfig struct {
	// Concurrency is the number of parallel build slots. Default: 2
	Concurrency int `ini:"concurrency"`

	// FileRetention is how long artifacts and upload workspaces live on
	// disk before the sweeper reclaims them. Default: 2h
	FileRetention time.Duration `ini:"-"`
}

// BuildConfig contains the directory roots and pipeline toggles.
type BuildConfig struct {
	// BuildsDir is the artifact root. Resolved to an absolute path at
	// load time. Default: ./builds
	BuildsDir string `ini:"builds_dir"`

	// UploadsDir is the upload workspace root. Resolved to an absolute
	// path at load time. Default: <system temp>/demo2apk-uploads
	UploadsDir string `ini:"uploads_dir"`

	// MockBuild bypasses the pipeline and writes a placeholder artifact.
	// Test environments only. Default: false
	MockBuild bool `ini:"mock_build"`

	// MockAPK is an optional artifact copied by mock builds. When empty,
	// mock builds write a plain-text placeholder.
	MockAPK string `ini:"mock_apk"`

	// GradleVersion pins the Gradle distribution provisioned for shell
	// projects without a wrapper. Default: 8.7
	GradleVersion string `ini:"gradle_version"`
}

// Validation errors.
var (
	ErrInvalidPort        = errors.New("port must be between 1 and 65535")
	ErrInvalidConcurrency = errors.New("concurrency must be between 1 and 32")
	ErrInvalidMaxFileSize = errors.New("max_file_size must be positive")
	ErrInvalidRateWindow  = errors.New("rate_limit_window must be positive")
	ErrInvalidRetention   = errors.New("file_retention_hours must be positive")
	ErrMissingRedisURL    = errors.New("redis_url is required")
)

// New returns a Config with every default applied. Directory roots are
// not yet resolved; Load does that.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     defaultHost,
			Port:     defaultPort,
			RedisURL: defaultRedisURL,
			LogLevel: defaultLogLevel,
		},
		Limits: LimitsConfig{
			MaxFileSize:      defaultMaxFileSize,
			RateLimitEnabled: true,
			RateLimitMax:     defaultRateLimitMax,
			RateLimitMaxAuth: defaultRateLimitAuth,
			RateLimitWindow:  defaultRateWindow,
		},
		Worker: WorkerConfig{
			Concurrency:   defaultConcurrency,
			FileRetention: defaultRetention,
		},
		Build: BuildConfig{
			BuildsDir:     "./builds",
			UploadsDir:    filepath.Join(os.TempDir(), "demo2apk-uploads"),
			GradleVersion: defaultGradleVersion,
		},
	}
}

// Load builds the effective configuration: defaults, then the INI file if
// one exists, then environment variables. Directory roots come back
// absolute. The returned config is validated.
func Load(path string) (*Config, error) {
	cfg := New()

	if path == "" {
		if _, err := os.Stat(DefaultFileName); err == nil {
			path = DefaultFileName
		}
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.resolveDirs(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	f, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	server := f.Section("server")
	c.Server.Host = server.Key("host").MustString(c.Server.Host)
	c.Server.Port = server.Key("port").MustInt(c.Server.Port)
	c.Server.RedisURL = server.Key("redis_url").MustString(c.Server.RedisURL)
	c.Server.LogLevel = server.Key("log_level").MustString(c.Server.LogLevel)

	limits := f.Section("limits")
	c.Limits.MaxFileSize = limits.Key("max_file_size").MustInt64(c.Limits.MaxFileSize)
	c.Limits.RateLimitEnabled = limits.Key("rate_limit_enabled").MustBool(c.Limits.RateLimitEnabled)
	c.Limits.RateLimitMax = limits.Key("rate_limit_max").MustInt(c.Limits.RateLimitMax)
	c.Limits.RateLimitMaxAuth = limits.Key("rate_limit_max_auth").MustInt(c.Limits.RateLimitMaxAuth)
	if v := limits.Key("rate_limit_window").String(); v != "" {
		c.Limits.RateLimitWindow = parseWindow(v, c.Limits.RateLimitWindow)
	}
	if v := limits.Key("api_tokens").String(); v != "" {
		c.Limits.APITokens = splitTokens(v)
	}

	worker := f.Section("worker")
	c.Worker.Concurrency = worker.Key("concurrency").MustInt(c.Worker.Concurrency)
	if v := worker.Key("file_retention_hours").String(); v != "" {
		c.Worker.FileRetention = parseHours(v, c.Worker.FileRetention)
	}

	build := f.Section("build")
	c.Build.BuildsDir = build.Key("builds_dir").MustString(c.Build.BuildsDir)
	c.Build.UploadsDir = build.Key("uploads_dir").MustString(c.Build.UploadsDir)
	c.Build.MockBuild = build.Key("mock_build").MustBool(c.Build.MockBuild)
	c.Build.MockAPK = build.Key("mock_apk").MustString(c.Build.MockAPK)
	c.Build.GradleVersion = build.Key("gradle_version").MustString(c.Build.GradleVersion)
	return nil
}

func (c *Config) applyEnv() {
	envStr("HOST", &c.Server.Host)
	envInt("PORT", &c.Server.Port)
	envStr("REDIS_URL", &c.Server.RedisURL)
	envStr("LOG_LEVEL", &c.Server.LogLevel)

	envInt64("MAX_FILE_SIZE", &c.Limits.MaxFileSize)
	envBool("RATE_LIMIT_ENABLED", &c.Limits.RateLimitEnabled)
	envInt("RATE_LIMIT_MAX", &c.Limits.RateLimitMax)
	envInt("RATE_LIMIT_MAX_AUTH", &c.Limits.RateLimitMaxAuth)
	if v := os.Getenv("RATE_LIMIT_WINDOW"); v != "" {
		c.Limits.RateLimitWindow = parseWindow(v, c.Limits.RateLimitWindow)
	}
	if v := os.Getenv("API_TOKENS"); v != "" {
		c.Limits.APITokens = splitTokens(v)
	}

	envInt("WORKER_CONCURRENCY", &c.Worker.Concurrency)
	if v := os.Getenv("FILE_RETENTION_HOURS"); v != "" {
		c.Worker.FileRetention = parseHours(v, c.Worker.FileRetention)
	}

	envStr("BUILDS_DIR", &c.Build.BuildsDir)
	envStr("UPLOADS_DIR", &c.Build.UploadsDir)
	envBool("MOCK_BUILD", &c.Build.MockBuild)
	envStr("MOCK_APK", &c.Build.MockAPK)
	envStr("GRADLE_VERSION", &c.Build.GradleVersion)
}

// resolveDirs makes both directory roots absolute so the API and worker
// agree on paths regardless of their working directories or symlinked
// parents.
func (c *Config) resolveDirs() error {
	builds, err := pathutil.Resolve(c.Build.BuildsDir)
	if err != nil {
		return fmt.Errorf("failed to resolve builds dir: %w", err)
	}
	uploads, err := pathutil.Resolve(c.Build.UploadsDir)
	if err != nil {
		return fmt.Errorf("failed to resolve uploads dir: %w", err)
	}
	c.Build.BuildsDir = builds
	c.Build.UploadsDir = uploads
	return nil
}

// Validate checks limits and required fields.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return ErrInvalidPort
	}
	if c.Server.RedisURL == "" {
		return ErrMissingRedisURL
	}
	if c.Worker.Concurrency < 1 || c.Worker.Concurrency > 32 {
		return ErrInvalidConcurrency
	}
	if c.Limits.MaxFileSize <= 0 {
		return ErrInvalidMaxFileSize
	}
	if c.Limits.RateLimitWindow <= 0 {
		return ErrInvalidRateWindow
	}
	if c.Worker.FileRetention <= 0 {
		return ErrInvalidRetention
	}
	return nil
}

// Addr returns the API listen address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// RetentionHours returns the artifact retention window in hours, as
// reported by the status surface.
func (c *Config) RetentionHours() float64 {
	return c.Worker.FileRetention.Hours()
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// parseWindow accepts a Go duration ("1h", "90m") or a bare integer
// meaning seconds.
func parseWindow(v string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}

// parseHours accepts a decimal hour count ("2", "0.5").
func parseHours(v string, fallback time.Duration) time.Duration {
	if h, err := strconv.ParseFloat(v, 64); err == nil && h > 0 {
		return time.Duration(h * float64(time.Hour))
	}
	return fallback
}

func splitTokens(v string) []string {
	parts := strings.Split(v, ",")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}
