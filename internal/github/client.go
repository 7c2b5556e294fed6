// Package github fetches pull request metadata (head label, base branch,
// state) for repositories hosted on GitHub.
package github

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"

	gogithub "github.com/google/go-github/v45/github"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/steveyegge/runbot/internal/types"
)

var (
	// ErrNoToken is returned for repositories without an API token.
	// Callers treat it as "metadata unavailable", not as a failure.
	ErrNoToken = errors.New("repository has no API token")

	// ErrPullNotFound is returned when the pull request does not exist
	ErrPullNotFound = errors.New("pull request not found")
)

// PullInfoProvider fetches PR metadata
type PullInfoProvider interface {
	GetPullRequest(ctx context.Context, repo *types.Repository, number int) (*types.PullInfo, error)
}

// Client implements PullInfoProvider with the GitHub REST API. One API client
// is kept per token; rate limit and concurrency are shared by all of them.
type Client struct {
	cfg     Config
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	cache   *cache.Cache

	// base is the retrying transport under every per-token client
	base *retryablehttp.Client

	mu      sync.Mutex
	clients map[string]*gogithub.Client
}

// NewClient creates a PR metadata client
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid github config: %w", err)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil
	retryClient.HTTPClient = &http.Client{
		Transport: http.DefaultTransport,
		Timeout:   cfg.RequestTimeout,
	}
	retryClient.RetryMax = cfg.RetryMax

	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = cache.NoExpiration
	}

	return &Client{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		cache:   cache.New(ttl, 10*ttl),
		base:    retryClient,
		clients: make(map[string]*gogithub.Client),
	}, nil
}

// HTTPClient exposes the innermost HTTP client, e.g. for mocking in tests
func (c *Client) HTTPClient() *http.Client {
	return c.base.HTTPClient
}

// GetPullRequest returns metadata of PR number in repo
func (c *Client) GetPullRequest(ctx context.Context, repo *types.Repository, number int) (*types.PullInfo, error) {
	if !repo.HasToken() {
		return nil, ErrNoToken
	}
	owner, name := repo.Owner(), repo.RepoName()
	if owner == "" {
		return nil, fmt.Errorf("cannot derive owner from repository %s", repo.Name)
	}

	key := repo.Name + "#" + strconv.Itoa(number)
	if v, ok := c.cache.Get(key); ok {
		info := *v.(*types.PullInfo)
		return &info, nil
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire request slot: %w", err)
	}
	defer c.sem.Release(1)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	gh, err := c.clientFor(repo.Token)
	if err != nil {
		return nil, err
	}

	pr, resp, err := gh.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s#%d: %w", repo.ShortName(), number, ErrPullNotFound)
		}
		return nil, fmt.Errorf("failed to fetch %s#%d: %w", repo.ShortName(), number, err)
	}

	info := &types.PullInfo{
		Number:    pr.GetNumber(),
		HeadLabel: pr.GetHead().GetLabel(),
		BaseRef:   pr.GetBase().GetRef(),
		State:     pr.GetState(),
	}
	if info.Number == 0 {
		info.Number = number
	}
	log.Printf("[GITHUB] %s#%d: head=%s base=%s state=%s", repo.ShortName(), number, info.HeadLabel, info.BaseRef, info.State)

	c.cache.Set(key, info, cache.DefaultExpiration)
	copied := *info
	return &copied, nil
}

func (c *Client) clientFor(token string) (*gogithub.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gh, ok := c.clients[token]; ok {
		return gh, nil
	}

	httpClient := &http.Client{
		Transport: &tokenTransport{token: token, base: c.base.StandardClient().Transport},
	}
	gh := gogithub.NewClient(httpClient)
	if c.cfg.BaseURL != "" {
		base := c.cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		var err error
		gh, err = gogithub.NewEnterpriseClient(base, base, httpClient)
		if err != nil {
			return nil, fmt.Errorf("invalid github base url %q: %w", c.cfg.BaseURL, err)
		}
	}
	c.clients[token] = gh
	return gh, nil
}

// tokenTransport sets the Authorization header on every request
type tokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(clone)
}
