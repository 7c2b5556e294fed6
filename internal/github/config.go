package github

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for PR metadata lookups
type Config struct {
	// BaseURL overrides the API endpoint (GitHub Enterprise).
	// Default: "" (api.github.com)
	BaseURL string

	// RequestsPerSecond is the sustained request rate shared by all tokens
	// Default: 5
	RequestsPerSecond float64

	// Burst is the number of requests allowed above the sustained rate
	// Default: 10
	Burst int

	// MaxConcurrent bounds in-flight requests
	// Default: 4
	MaxConcurrent int

	// RetryMax is the number of retries on 5xx, 429 and connection errors
	// Default: 3
	RetryMax int

	// RequestTimeout bounds one HTTP request including retries' individual attempts
	// Default: 15 seconds
	RequestTimeout time.Duration

	// CacheTTL is how long a PR's metadata is reused
	// Default: 1 minute
	CacheTTL time.Duration
}

// DefaultConfig returns the default PR metadata configuration
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 5,
		Burst:             10,
		MaxConcurrent:     4,
		RetryMax:          3,
		RequestTimeout:    15 * time.Second,
		CacheTTL:          time.Minute,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive (got %.2f)", c.RequestsPerSecond)
	}
	if c.Burst <= 0 {
		return fmt.Errorf("burst must be positive (got %d)", c.Burst)
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive (got %d)", c.MaxConcurrent)
	}
	if c.RetryMax < 0 || c.RetryMax > 10 {
		return fmt.Errorf("retry_max must be between 0 and 10 (got %d)", c.RetryMax)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive (got %v)", c.RequestTimeout)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl cannot be negative (got %v)", c.CacheTTL)
	}
	return nil
}

// ConfigFromEnv creates a Config from environment variables, falling back to defaults
//
// Environment variables:
//   - RUNBOT_GITHUB_BASE_URL: API endpoint for GitHub Enterprise
//   - RUNBOT_GITHUB_RPS: Sustained requests per second (default: 5)
//   - RUNBOT_GITHUB_BURST: Request burst (default: 10)
//   - RUNBOT_GITHUB_MAX_CONCURRENT: In-flight request limit (default: 4)
//   - RUNBOT_GITHUB_RETRY_MAX: Retries per request (default: 3)
//   - RUNBOT_GITHUB_TIMEOUT_SECS: Request timeout in seconds (default: 15)
//   - RUNBOT_GITHUB_CACHE_TTL_SECS: Metadata cache TTL in seconds (default: 60)
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = os.Getenv("RUNBOT_GITHUB_BASE_URL")

	if v := os.Getenv("RUNBOT_GITHUB_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid value for RUNBOT_GITHUB_RPS: %w", err)
		}
		cfg.RequestsPerSecond = f
	}
	for key, dest := range map[string]*int{
		"RUNBOT_GITHUB_BURST":          &cfg.Burst,
		"RUNBOT_GITHUB_MAX_CONCURRENT": &cfg.MaxConcurrent,
		"RUNBOT_GITHUB_RETRY_MAX":      &cfg.RetryMax,
	} {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return cfg, fmt.Errorf("invalid value for %s: %w", key, err)
			}
			*dest = n
		}
	}
	for key, dest := range map[string]*time.Duration{
		"RUNBOT_GITHUB_TIMEOUT_SECS":   &cfg.RequestTimeout,
		"RUNBOT_GITHUB_CACHE_TTL_SECS": &cfg.CacheTTL,
	} {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return cfg, fmt.Errorf("invalid value for %s: %w", key, err)
			}
			*dest = time.Duration(n) * time.Second
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return cfg, nil
}
