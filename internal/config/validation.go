package config

import (
	"fmt"
	"os"
	"strings"
)

// Validate checks the configuration for correctness. It fails fast on
// the first error so the server never starts under a policy that was
// only partially understood.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if strings.TrimSpace(c.ServerName) == "" {
		return fmt.Errorf("%w: server_name must not be empty", ErrInvalidServerName)
	}

	switch c.Environment {
	case EnvDev, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("%w: %q (expected dev, staging or production)",
			ErrInvalidEnvironment, c.Environment)
	}

	switch c.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("%w: %q (expected stdio or http)", ErrInvalidTransport, c.Transport)
	}

	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}

	if c.Transport == TransportStdio && c.LogFile == "" {
		return fmt.Errorf("%w: log_file is required for stdio transport", ErrInvalidTransport)
	}

	if c.Transport == TransportHTTP {
		if c.HTTPPort < 1 || c.HTTPPort > 65535 {
			return fmt.Errorf("%w: %d", ErrInvalidHTTPPort, c.HTTPPort)
		}
	}

	if c.RateLimitEnabled {
		if c.RateLimitRPS <= 0 {
			return fmt.Errorf("%w: requests_per_second must be positive, got %v",
				ErrInvalidRateLimit, c.RateLimitRPS)
		}
		if c.RateLimitBurst < 1 {
			return fmt.Errorf("%w: burst_capacity must be at least 1, got %d",
				ErrInvalidRateLimit, c.RateLimitBurst)
		}
	}

	if c.RetryEnabled && c.RetryMaxAttempts < 1 {
		return fmt.Errorf("%w: max_attempts must be at least 1, got %d",
			ErrInvalidRetry, c.RetryMaxAttempts)
	}

	if err := c.validateFileAccess(); err != nil {
		return err
	}

	return c.validateURLFetching()
}

// validateFileAccess checks the filesystem whitelist and limits. Every
// configured root must exist and be a directory at startup; a missing
// root is treated as an operator mistake, not an empty whitelist.
func (c *Config) validateFileAccess() error {
	for _, dir := range c.AllowedFileDirectories {
		if strings.TrimSpace(dir) == "" {
			return fmt.Errorf("%w: empty path in allowed_file_directories", ErrInvalidFileRoot)
		}
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidFileRoot, dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: %q is not a directory", ErrInvalidFileRoot, dir)
		}
	}

	if c.MaxFileSizeMB <= 0 {
		return fmt.Errorf("%w: max_file_size_mb must be positive, got %d",
			ErrInvalidFileLimit, c.MaxFileSizeMB)
	}

	if _, err := ParseFileMode(c.FilePermissions); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFilePermissions, err)
	}

	return nil
}

func (c *Config) validateURLFetching() error {
	if c.URLMaxSizeMB <= 0 {
		return fmt.Errorf("%w: url_max_size_mb must be positive, got %d",
			ErrInvalidURLLimit, c.URLMaxSizeMB)
	}
	if c.URLTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: url_timeout_seconds must be positive, got %d",
			ErrInvalidURLLimit, c.URLTimeoutSeconds)
	}

	// Plain HTTP upstreams are a dev-only convenience.
	if c.Environment == EnvProduction && !c.URLRequireHTTPS {
		return fmt.Errorf("%w: url_require_https must be true in production", ErrInsecureHTTP)
	}

	return nil
}
