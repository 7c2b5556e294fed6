package deduplication

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestConfigFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
		check   func(t *testing.T, cfg Config)
	}{
		{
			name:    "no environment variables uses defaults",
			envVars: map[string]string{},
			wantErr: false,
			check: func(t *testing.T, cfg Config) {
				if cfg != DefaultConfig() {
					t.Errorf("ConfigFromEnv() = %v, want %v", cfg, DefaultConfig())
				}
			},
		},
		{
			name: "valid custom configuration",
			envVars: map[string]string{
				"RUNBOT_DEDUP_ENABLED":             "false",
				"RUNBOT_DEDUP_MAX_CANDIDATES":      "100",
				"RUNBOT_DEDUP_FAIL_OPEN":           "false",
				"RUNBOT_DEDUP_LOOKUP_TIMEOUT_SECS": "5",
				"RUNBOT_DEDUP_LOCK_STRIPES":        "16",
			},
			wantErr: false,
			check: func(t *testing.T, cfg Config) {
				if cfg.Enabled {
					t.Errorf("Enabled = %v, want false", cfg.Enabled)
				}
				if cfg.MaxCandidates != 100 {
					t.Errorf("MaxCandidates = %v, want 100", cfg.MaxCandidates)
				}
				if cfg.FailOpen {
					t.Errorf("FailOpen = %v, want false", cfg.FailOpen)
				}
				if cfg.LookupTimeout != 5*time.Second {
					t.Errorf("LookupTimeout = %v, want %v", cfg.LookupTimeout, 5*time.Second)
				}
				if cfg.LockStripes != 16 {
					t.Errorf("LockStripes = %v, want 16", cfg.LockStripes)
				}
			},
		},
		{
			name: "invalid int value",
			envVars: map[string]string{
				"RUNBOT_DEDUP_MAX_CANDIDATES": "not-a-number",
			},
			wantErr: true,
		},
		{
			name: "invalid bool value",
			envVars: map[string]string{
				"RUNBOT_DEDUP_FAIL_OPEN": "maybe",
			},
			wantErr: true,
		},
		{
			name: "value out of range - zero stripes",
			envVars: map[string]string{
				"RUNBOT_DEDUP_LOCK_STRIPES": "0",
			},
			wantErr: true,
		},
		{
			name: "value out of range - timeout too large",
			envVars: map[string]string{
				"RUNBOT_DEDUP_LOOKUP_TIMEOUT_SECS": "3600",
			},
			wantErr: true,
		},
		{
			name: "partial configuration",
			envVars: map[string]string{
				"RUNBOT_DEDUP_MAX_CANDIDATES": "75",
			},
			wantErr: false,
			check: func(t *testing.T, cfg Config) {
				if cfg.MaxCandidates != 75 {
					t.Errorf("MaxCandidates = %v, want 75", cfg.MaxCandidates)
				}
				defaults := DefaultConfig()
				if cfg.LookupTimeout != defaults.LookupTimeout {
					t.Errorf("LookupTimeout = %v, want %v (default)", cfg.LookupTimeout, defaults.LookupTimeout)
				}
				if cfg.Enabled != defaults.Enabled {
					t.Errorf("Enabled = %v, want %v (default)", cfg.Enabled, defaults.Enabled)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv := []string{
				"RUNBOT_DEDUP_ENABLED",
				"RUNBOT_DEDUP_MAX_CANDIDATES",
				"RUNBOT_DEDUP_FAIL_OPEN",
				"RUNBOT_DEDUP_LOOKUP_TIMEOUT_SECS",
				"RUNBOT_DEDUP_LOCK_STRIPES",
			}
			for _, key := range clearEnv {
				_ = os.Unsetenv(key)
			}
			for key, value := range tt.envVars {
				_ = os.Setenv(key, value)
			}
			defer func() {
				for _, key := range clearEnv {
					_ = os.Unsetenv(key)
				}
			}()

			cfg, err := ConfigFromEnv()
			if (err != nil) != tt.wantErr {
				t.Errorf("ConfigFromEnv() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"no candidates", func(c *Config) { c.MaxCandidates = 0 }, "max_candidates must be positive"},
		{"too many candidates", func(c *Config) { c.MaxCandidates = 5000 }, "max_candidates too large"},
		{"zero timeout", func(c *Config) { c.LookupTimeout = 0 }, "lookup_timeout must be positive"},
		{"too many stripes", func(c *Config) { c.LockStripes = 10000 }, "lock_stripes too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
