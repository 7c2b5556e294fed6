package storage

import (
	"context"
	"fmt"

	"github.com/steveyegge/runbot/internal/storage/memory"
	"github.com/steveyegge/runbot/internal/storage/postgres"
	"github.com/steveyegge/runbot/internal/storage/sqlite"
	"github.com/steveyegge/runbot/internal/types"
)

// ErrNotFound is returned when a repository, branch or build does not exist
var ErrNotFound = types.ErrNotFound

// Storage defines the interface for catalog storage backends.
// Find methods return rows ordered by id descending.
type Storage interface {
	// Repositories
	CreateRepository(ctx context.Context, repo *types.Repository) error
	GetRepository(ctx context.Context, id int64) (*types.Repository, error)
	GetRepositoryByName(ctx context.Context, name string) (*types.Repository, error)
	ListRepositories(ctx context.Context) ([]*types.Repository, error)
	UpdateRepository(ctx context.Context, repo *types.Repository) error

	// Branches
	CreateBranch(ctx context.Context, branch *types.Branch) error
	GetBranch(ctx context.Context, id int64) (*types.Branch, error)
	// GetOrCreateBranch returns the (repository, name) branch, creating it if missing.
	// created reports whether a new row was inserted.
	GetOrCreateBranch(ctx context.Context, repoID int64, name string) (branch *types.Branch, created bool, err error)
	UpdateBranch(ctx context.Context, branch *types.Branch) error
	FindBranches(ctx context.Context, filter types.BranchFilter) ([]*types.Branch, error)

	// Builds
	CreateBuild(ctx context.Context, build *types.Build) error
	GetBuild(ctx context.Context, id int64) (*types.Build, error)
	// UpdateBuilds writes all builds in a single transaction
	UpdateBuilds(ctx context.Context, builds ...*types.Build) error
	FindBuilds(ctx context.Context, filter types.BuildFilter) ([]*types.Build, error)

	// Lifecycle
	Close() error
}

// Backend names accepted by Config.Backend
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds database configuration
type Config struct {
	// Backend selects the storage implementation
	// Default: "sqlite"
	Backend string

	// Path is the SQLite database file path
	// Default: ".runbot/runbot.db"
	// Special value ":memory:" creates an in-memory SQLite database (useful for tests)
	Path string

	// Postgres is used when Backend is "postgres". nil means postgres.DefaultConfig().
	Postgres *postgres.Config
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendSQLite,
		Path:    DefaultPath,
	}
}

// NewStorage creates the storage backend selected by cfg
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	switch cfg.Backend {
	case "", BackendSQLite:
		path := cfg.Path
		if path == "" {
			path = DefaultPath
		}
		return sqlite.New(path)
	case BackendPostgres:
		return postgres.New(ctx, cfg.Postgres)
	case BackendMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q (expected sqlite, postgres or memory)", cfg.Backend)
	}
}
