package config

import (
	"fmt"

	"github.com/steveyegge/runbot/internal/git"
	"github.com/steveyegge/runbot/internal/github"
)

// RemoteConfig groups the settings of everything that talks to remotes:
// ref listings (liveness and revisions) and PR metadata
type RemoteConfig struct {
	Git    git.Config
	GitHub github.Config
}

// DefaultRemoteConfig returns the default remote configuration
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		Git:    git.DefaultConfig(),
		GitHub: github.DefaultConfig(),
	}
}

// Validate checks both halves of the configuration
func (c RemoteConfig) Validate() error {
	if err := c.Git.Validate(); err != nil {
		return fmt.Errorf("git: %w", err)
	}
	if err := c.GitHub.Validate(); err != nil {
		return fmt.Errorf("github: %w", err)
	}
	return nil
}

// String returns a human-readable representation of the config
func (c RemoteConfig) String() string {
	return fmt.Sprintf(
		"RemoteConfig{Backend: %s, CacheTTL: %v, Timeout: %v, GitHubRPS: %.1f, GitHubConcurrent: %d, GitHubRetries: %d}",
		c.Git.Backend, c.Git.CacheTTL, c.Git.Timeout,
		c.GitHub.RequestsPerSecond, c.GitHub.MaxConcurrent, c.GitHub.RetryMax,
	)
}

// RemoteConfigFromEnv reads RUNBOT_REMOTE_* and RUNBOT_GITHUB_* variables.
// See git.ConfigFromEnv and github.ConfigFromEnv for the variable list.
func RemoteConfigFromEnv() (RemoteConfig, error) {
	var cfg RemoteConfig
	var err error
	if cfg.Git, err = git.ConfigFromEnv(); err != nil {
		return cfg, err
	}
	if cfg.GitHub, err = github.ConfigFromEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
