package deduplication

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for the deduplication engine
type Config struct {
	// Enabled turns duplicate detection on. When false, builds still get a
	// fingerprint but are never linked to another build.
	// Default: true
	Enabled bool

	// MaxCandidates is the maximum number of same-fingerprint builds scanned
	// per registration, most recent first
	// Default: 50
	MaxCandidates int

	// FailOpen determines behavior when the duplicate search fails
	// If true: register the build as a regular (non-duplicate) build
	// If false: return the error to the caller
	// Default: true (an extra build is cheaper than a missing one)
	FailOpen bool

	// LookupTimeout bounds the dependency resolution of one build: closest
	// branch lookups plus remote revision lookups. Lookups cut short degrade
	// to missing revisions.
	// Default: 30 seconds
	LookupTimeout time.Duration

	// LockStripes is the number of mutexes repository families are hashed onto
	// Default: 64
	LockStripes int
}

// DefaultConfig returns the default deduplication configuration
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		MaxCandidates: 50,
		FailOpen:      true,
		LookupTimeout: 30 * time.Second,
		LockStripes:   64,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.MaxCandidates <= 0 {
		return fmt.Errorf("max_candidates must be positive (got %d)", c.MaxCandidates)
	}
	if c.MaxCandidates > 1000 {
		return fmt.Errorf("max_candidates too large (got %d, max 1000)", c.MaxCandidates)
	}
	if c.LookupTimeout <= 0 {
		return fmt.Errorf("lookup_timeout must be positive (got %v)", c.LookupTimeout)
	}
	if c.LookupTimeout > 10*time.Minute {
		return fmt.Errorf("lookup_timeout too large (got %v, max 10 minutes)", c.LookupTimeout)
	}
	if c.LockStripes <= 0 {
		return fmt.Errorf("lock_stripes must be positive (got %d)", c.LockStripes)
	}
	if c.LockStripes > 4096 {
		return fmt.Errorf("lock_stripes too large (got %d, max 4096)", c.LockStripes)
	}
	return nil
}

// String returns a human-readable representation of the config
func (c Config) String() string {
	return fmt.Sprintf("Config{Enabled: %t, MaxCandidates: %d, FailOpen: %t, LookupTimeout: %v, LockStripes: %d}",
		c.Enabled, c.MaxCandidates, c.FailOpen, c.LookupTimeout, c.LockStripes)
}

// ConfigFromEnv creates a Config from environment variables, falling back to defaults
//
// Environment variables:
//   - RUNBOT_DEDUP_ENABLED: Enable duplicate detection (default: true)
//   - RUNBOT_DEDUP_MAX_CANDIDATES: Maximum number of builds scanned per registration (default: 50)
//   - RUNBOT_DEDUP_FAIL_OPEN: Register the build when the search fails (default: true)
//   - RUNBOT_DEDUP_LOOKUP_TIMEOUT_SECS: Dependency lookup timeout in seconds (default: 30)
//   - RUNBOT_DEDUP_LOCK_STRIPES: Number of family lock stripes (default: 64)
//
// Returns an error if any environment variable has an invalid value.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if err := parseEnvBool("RUNBOT_DEDUP_ENABLED", &cfg.Enabled); err != nil {
		return cfg, err
	}
	if err := parseEnvInt("RUNBOT_DEDUP_MAX_CANDIDATES", &cfg.MaxCandidates); err != nil {
		return cfg, err
	}
	if err := parseEnvBool("RUNBOT_DEDUP_FAIL_OPEN", &cfg.FailOpen); err != nil {
		return cfg, err
	}
	if err := parseEnvDuration("RUNBOT_DEDUP_LOOKUP_TIMEOUT_SECS", &cfg.LookupTimeout, time.Second); err != nil {
		return cfg, err
	}
	if err := parseEnvInt("RUNBOT_DEDUP_LOCK_STRIPES", &cfg.LockStripes); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration from environment: %w", err)
	}

	return cfg, nil
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvBool parses a bool from an environment variable
func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvDuration parses a duration from an environment variable
// The multiplier is used to convert the numeric value to a duration
// (e.g., for seconds: multiplier = time.Second)
func parseEnvDuration(key string, dest *time.Duration, multiplier time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = time.Duration(parsed) * multiplier
	return nil
}
