package config

import (
	"fmt"
	"time"
)

// ScanConfig holds configuration for the reconciliation loop
type ScanConfig struct {
	// IntervalSecs is the pause between two reconciliation passes (in seconds)
	// Default: 60, Range: 5-86400
	IntervalSecs int

	// Concurrency is how many repositories are listed in parallel
	// Default: 4, Range: 1-64
	Concurrency int

	// BuildPulls controls whether refs/pull/* revisions get builds
	// Default: true
	BuildPulls bool

	// TopologyPath is the repository topology file
	// Default: ".runbot/repos.yaml"
	TopologyPath string
}

// DefaultScanConfig returns the default reconciliation configuration
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		IntervalSecs: 60,
		Concurrency:  4,
		BuildPulls:   true,
		TopologyPath: DefaultTopologyPath,
	}
}

// Validate checks if the configuration has valid values
func (c ScanConfig) Validate() error {
	if c.IntervalSecs < 5 || c.IntervalSecs > 86400 {
		return fmt.Errorf("interval_secs must be between 5 and 86400 (got %d)", c.IntervalSecs)
	}
	if c.Concurrency < 1 || c.Concurrency > 64 {
		return fmt.Errorf("concurrency must be between 1 and 64 (got %d)", c.Concurrency)
	}
	if c.TopologyPath == "" {
		return fmt.Errorf("topology_path cannot be empty")
	}
	return nil
}

// String returns a human-readable representation of the config
func (c ScanConfig) String() string {
	return fmt.Sprintf(
		"ScanConfig{IntervalSecs: %d, Concurrency: %d, BuildPulls: %t, TopologyPath: %s}",
		c.IntervalSecs, c.Concurrency, c.BuildPulls, c.TopologyPath,
	)
}

// Interval returns the pause between passes as a time.Duration
func (c ScanConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSecs) * time.Second
}

// ScanConfigFromEnv creates a ScanConfig from environment variables,
// falling back to defaults
//
// Environment variables:
//   - RUNBOT_SCAN_INTERVAL_SECS: Pause between passes in seconds (default: 60)
//   - RUNBOT_SCAN_CONCURRENCY: Repositories listed in parallel (default: 4)
//   - RUNBOT_SCAN_BUILD_PULLS: Build pull request refs (default: true)
//   - RUNBOT_TOPOLOGY: Topology file path (default: .runbot/repos.yaml)
//
// Returns an error if any environment variable has an invalid value.
func ScanConfigFromEnv() (ScanConfig, error) {
	cfg := DefaultScanConfig()

	if err := parseEnvInt("RUNBOT_SCAN_INTERVAL_SECS", &cfg.IntervalSecs); err != nil {
		return cfg, err
	}
	if err := parseEnvInt("RUNBOT_SCAN_CONCURRENCY", &cfg.Concurrency); err != nil {
		return cfg, err
	}
	if err := parseEnvBool("RUNBOT_SCAN_BUILD_PULLS", &cfg.BuildPulls); err != nil {
		return cfg, err
	}
	if err := parseEnvString("RUNBOT_TOPOLOGY", &cfg.TopologyPath); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid scan configuration from environment: %w", err)
	}

	return cfg, nil
}
