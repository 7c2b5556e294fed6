package git

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/steveyegge/runbot/internal/types"
)

// Remote backends accepted by Config.Backend
const (
	BackendGoGit = "gogit"
	BackendCLI   = "cli"
)

// Config holds remote lookup configuration
type Config struct {
	// Backend selects how refs are listed: "gogit" (in process) or "cli" (git ls-remote)
	// Default: "gogit"
	Backend string

	// CacheTTL is how long a remote's ref listing is reused.
	// A short TTL keeps liveness answers fresh during one resolution burst.
	// Default: 30s
	CacheTTL time.Duration

	// Timeout bounds a single ref listing
	// Default: 20s
	Timeout time.Duration
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Backend:  BackendGoGit,
		CacheTTL: 30 * time.Second,
		Timeout:  20 * time.Second,
	}
}

// Validate checks that the configuration is valid
func (c Config) Validate() error {
	if c.Backend != BackendGoGit && c.Backend != BackendCLI {
		return fmt.Errorf("Backend must be %q or %q (got %q)", BackendGoGit, BackendCLI, c.Backend)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("CacheTTL must be non-negative (got %v)", c.CacheTTL)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("Timeout must be positive (got %v)", c.Timeout)
	}
	return nil
}

// ConfigFromEnv creates a Config from RUNBOT_REMOTE_* environment variables:
//   - RUNBOT_REMOTE_BACKEND: "gogit" or "cli"
//   - RUNBOT_REMOTE_CACHE_TTL: duration, e.g. "30s"
//   - RUNBOT_REMOTE_TIMEOUT: duration, e.g. "20s"
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if v := os.Getenv("RUNBOT_REMOTE_BACKEND"); v != "" {
		cfg.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("RUNBOT_REMOTE_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid RUNBOT_REMOTE_CACHE_TTL: %w", err)
		}
		cfg.CacheTTL = d
	}
	if v := os.Getenv("RUNBOT_REMOTE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid RUNBOT_REMOTE_TIMEOUT: %w", err)
		}
		cfg.Timeout = d
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid remote config: %w", err)
	}
	return cfg, nil
}

// NewRemoteOperations returns the backend selected by cfg
func NewRemoteOperations(ctx context.Context, cfg Config) (RemoteOperations, error) {
	switch cfg.Backend {
	case BackendCLI:
		return NewGit(ctx)
	case BackendGoGit, "":
		return NewGoGit(), nil
	default:
		return nil, fmt.Errorf("unknown remote backend %q", cfg.Backend)
	}
}

// Checker answers liveness and revision questions about refs. Listings are
// cached per remote and concurrent listings of one remote are coalesced.
type Checker struct {
	ops     RemoteOperations
	cache   *cache.Cache
	group   singleflight.Group
	ttl     time.Duration
	timeout time.Duration
}

// NewChecker wraps ops with a listing cache
func NewChecker(ops RemoteOperations, cfg Config) *Checker {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		// go-cache treats 0 as "use the default"; -1 disables expiry. Use a tiny TTL instead.
		ttl = time.Nanosecond
	}
	return &Checker{
		ops:     ops,
		cache:   cache.New(ttl, 2*ttl+time.Minute),
		ttl:     ttl,
		timeout: cfg.Timeout,
	}
}

// Refs returns the remote's ref listing, from cache when fresh
func (c *Checker) Refs(ctx context.Context, repo *types.Repository) (map[string]string, error) {
	if v, ok := c.cache.Get(repo.Name); ok {
		return v.(map[string]string), nil
	}

	v, err, _ := c.group.Do(repo.Name, func() (interface{}, error) {
		listCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			listCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		refs, err := c.ops.ListRefs(listCtx, repo)
		if err != nil {
			return nil, err
		}
		c.cache.Set(repo.Name, refs, c.ttl)
		return refs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]string), nil
}

// RefExists reports whether ref is currently advertised by the repository
func (c *Checker) RefExists(ctx context.Context, repo *types.Repository, ref string) (bool, error) {
	refs, err := c.Refs(ctx, repo)
	if err != nil {
		return false, err
	}
	_, ok := refs[wireRef(ref)]
	return ok, nil
}

// ResolveRevision returns the commit hash ref points at, or ErrRefNotFound
func (c *Checker) ResolveRevision(ctx context.Context, repo *types.Repository, ref string) (string, error) {
	refs, err := c.Refs(ctx, repo)
	if err != nil {
		return "", err
	}
	hash, ok := refs[wireRef(ref)]
	if !ok {
		return "", fmt.Errorf("%s in %s: %w", ref, repo.ShortName(), ErrRefNotFound)
	}
	return hash, nil
}

// Invalidate drops the cached listing of repo
func (c *Checker) Invalidate(repo *types.Repository) {
	c.cache.Delete(repo.Name)
}
