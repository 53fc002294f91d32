// Package config provides the immutable server configuration.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables with the MCP_ prefix (e.g. MCP_TRANSPORT)
//  2. Config file (config.yaml in the working directory)
//  3. Default values
//
// The loaded Config is the process's security policy: filesystem
// whitelist, SSRF policy, size and time limits, rate limits. It is
// resolved once at startup, validated fail-fast, and passed by
// reference into every component at construction time. There is no
// ambient/global lookup and no hot reload — changing the policy
// requires a restart, which avoids races between a policy update and
// in-flight security decisions.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Sentinel errors for Go-idiomatic checking with errors.Is().
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidServerName indicates a missing server name.
	ErrInvalidServerName = errors.New("invalid server name")

	// ErrInvalidEnvironment indicates an unknown deployment environment.
	ErrInvalidEnvironment = errors.New("invalid environment")

	// ErrInvalidTransport indicates an unknown transport mode.
	ErrInvalidTransport = errors.New("invalid transport")

	// ErrInvalidLogLevel indicates an unknown log level.
	ErrInvalidLogLevel = errors.New("invalid log level")

	// ErrInvalidHTTPPort indicates the HTTP port is out of range.
	ErrInvalidHTTPPort = errors.New("invalid HTTP port")

	// ErrInvalidRateLimit indicates malformed rate-limit parameters.
	ErrInvalidRateLimit = errors.New("invalid rate limit")

	// ErrInvalidRetry indicates malformed retry parameters.
	ErrInvalidRetry = errors.New("invalid retry configuration")

	// ErrInvalidFileRoot indicates an allowed root directory that does
	// not exist or is not a directory.
	ErrInvalidFileRoot = errors.New("invalid allowed file directory")

	// ErrInvalidFileLimit indicates a non-positive file size limit.
	ErrInvalidFileLimit = errors.New("invalid file size limit")

	// ErrInvalidFilePermissions indicates unparseable file permissions.
	ErrInvalidFilePermissions = errors.New("invalid file permissions")

	// ErrInvalidURLLimit indicates a non-positive fetch size or timeout.
	ErrInvalidURLLimit = errors.New("invalid URL fetch limit")

	// ErrInsecureHTTP indicates url_require_https=false in production.
	ErrInsecureHTTP = errors.New("insecure HTTP in production")
)

// Deployment environments.
const (
	EnvDev        = "dev"
	EnvStaging    = "staging"
	EnvProduction = "production"
)

// Transport modes. Stdio multiplexes protocol framing over the
// process's stdio; HTTP carries it out-of-band over the network.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config stores the server configuration. Treat as immutable after
// Load; components receive it by reference at construction.
type Config struct {
	// Server identity
	ServerName  string `mapstructure:"server_name"`
	Environment string `mapstructure:"environment"`

	// Transport and logging
	Transport          string `mapstructure:"transport"`
	LogLevel           string `mapstructure:"log_level"`
	LogFile            string `mapstructure:"log_file"`
	LogIncludePayloads bool   `mapstructure:"log_include_payloads"`

	// HTTP transport settings (used only when transport=http)
	HTTPHost string `mapstructure:"http_host"`
	HTTPPort int    `mapstructure:"http_port"`

	// Error handling
	MaskErrorDetails bool `mapstructure:"mask_error_details"`

	// Rate limiting
	RateLimitEnabled bool    `mapstructure:"rate_limit_enabled"`
	RateLimitRPS     float64 `mapstructure:"rate_limit_requests_per_second"`
	RateLimitBurst   int     `mapstructure:"rate_limit_burst_capacity"`

	// Retry
	RetryEnabled     bool `mapstructure:"retry_enabled"`
	RetryMaxAttempts int  `mapstructure:"retry_max_attempts"`

	// Observability (optional)
	EnableTracing bool   `mapstructure:"enable_tracing"`
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`

	// Security - file operations
	AllowedFileDirectories []string `mapstructure:"allowed_file_directories"`
	MaxFileSizeMB          int      `mapstructure:"max_file_size_mb"`
	FilePermissions        string   `mapstructure:"file_default_permissions"`

	// Security - URL fetching
	URLAllowPrivateIPs bool `mapstructure:"url_allow_private_ips"`
	URLRequireHTTPS    bool `mapstructure:"url_require_https"`
	URLMaxSizeMB       int  `mapstructure:"url_max_size_mb"`
	URLTimeoutSeconds  int  `mapstructure:"url_timeout_seconds"`
}

// Load loads and validates the configuration.
// Priority: environment variables > config file > defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; everything has a default.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if cfg.LogFile == "" && cfg.Transport == TransportStdio {
		cfg.LogFile = fmt.Sprintf("/tmp/mcp-%s.log", cfg.ServerName)
	}

	// Fail fast: serving under a partially-valid policy is worse than
	// not serving at all.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server_name", "mcp-server")
	v.SetDefault("environment", EnvProduction)

	v.SetDefault("transport", TransportStdio)
	v.SetDefault("log_level", "INFO")
	v.SetDefault("log_include_payloads", false)

	v.SetDefault("http_host", "0.0.0.0")
	v.SetDefault("http_port", 8000)

	v.SetDefault("mask_error_details", true)

	v.SetDefault("rate_limit_enabled", true)
	v.SetDefault("rate_limit_requests_per_second", 10.0)
	v.SetDefault("rate_limit_burst_capacity", 20)

	v.SetDefault("retry_enabled", true)
	v.SetDefault("retry_max_attempts", 3)

	v.SetDefault("enable_tracing", false)

	v.SetDefault("allowed_file_directories", []string{"/tmp", "./data"})
	v.SetDefault("max_file_size_mb", 100)
	v.SetDefault("file_default_permissions", "0600")

	v.SetDefault("url_allow_private_ips", false)
	v.SetDefault("url_require_https", true)
	v.SetDefault("url_max_size_mb", 10)
	v.SetDefault("url_timeout_seconds", 30)
}

// bindEnvVariables binds every setting to its MCP_-prefixed environment
// variable explicitly, so the full surface is greppable.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("server_name", "MCP_SERVER_NAME")
	mustBind("environment", "MCP_ENVIRONMENT")
	mustBind("transport", "MCP_TRANSPORT")
	mustBind("log_level", "MCP_LOG_LEVEL")
	mustBind("log_file", "MCP_LOG_FILE")
	mustBind("log_include_payloads", "MCP_LOG_INCLUDE_PAYLOADS")
	mustBind("http_host", "MCP_HTTP_HOST")
	mustBind("http_port", "MCP_HTTP_PORT")
	mustBind("mask_error_details", "MCP_MASK_ERROR_DETAILS")
	mustBind("rate_limit_enabled", "MCP_RATE_LIMIT_ENABLED")
	mustBind("rate_limit_requests_per_second", "MCP_RATE_LIMIT_REQUESTS_PER_SECOND")
	mustBind("rate_limit_burst_capacity", "MCP_RATE_LIMIT_BURST_CAPACITY")
	mustBind("retry_enabled", "MCP_RETRY_ENABLED")
	mustBind("retry_max_attempts", "MCP_RETRY_MAX_ATTEMPTS")
	mustBind("enable_tracing", "MCP_ENABLE_TRACING")
	mustBind("otlp_endpoint", "MCP_OTLP_ENDPOINT")
	mustBind("allowed_file_directories", "MCP_ALLOWED_FILE_DIRECTORIES")
	mustBind("max_file_size_mb", "MCP_MAX_FILE_SIZE_MB")
	mustBind("file_default_permissions", "MCP_FILE_DEFAULT_PERMISSIONS")
	mustBind("url_allow_private_ips", "MCP_URL_ALLOW_PRIVATE_IPS")
	mustBind("url_require_https", "MCP_URL_REQUIRE_HTTPS")
	mustBind("url_max_size_mb", "MCP_URL_MAX_SIZE_MB")
	mustBind("url_timeout_seconds", "MCP_URL_TIMEOUT_SECONDS")
}

// MaxFileSizeBytes returns the file size limit in bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}

// MaxResponseBytes returns the fetch response size limit in bytes.
func (c *Config) MaxResponseBytes() int64 {
	return int64(c.URLMaxSizeMB) * 1024 * 1024
}

// FetchTimeout returns the combined connect+read deadline for fetches.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.URLTimeoutSeconds) * time.Second
}

// FileMode returns the parsed default permission mask for written
// files. Validate guarantees the field parses.
func (c *Config) FileMode() os.FileMode {
	mode, err := ParseFileMode(c.FilePermissions)
	if err != nil {
		// Unreachable after Validate; a safe fallback beats a panic.
		return 0o600
	}
	return mode
}

// ParseFileMode parses a permission mask from octal notation.
// Accepts "0600", "600" and "0o600".
func ParseFileMode(s string) (os.FileMode, error) {
	if s == "" {
		return 0, fmt.Errorf("empty permission string")
	}
	trimmed := s
	if len(trimmed) > 2 && (trimmed[:2] == "0o" || trimmed[:2] == "0O") {
		trimmed = trimmed[2:]
	}
	n, err := strconv.ParseUint(trimmed, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("parsing %q as octal: %w", s, err)
	}
	if n > 0o777 {
		return 0, fmt.Errorf("permission %q out of range", s)
	}
	return os.FileMode(n), nil
}
