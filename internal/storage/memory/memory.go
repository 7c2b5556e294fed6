// Package memory is a map-backed catalog store. It backs unit tests and
// one-shot CLI runs that do not need a database file.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/steveyegge/runbot/internal/types"
)

// Store implements storage.Storage in memory. Rows are copied on the way in
// and on the way out so callers never share state with the store.
type Store struct {
	mu sync.RWMutex

	repos    map[int64]*types.Repository
	branches map[int64]*types.Branch
	builds   map[int64]*types.Build
	nextID   int64
}

// New creates an empty store
func New() *Store {
	return &Store{
		repos:    make(map[int64]*types.Repository),
		branches: make(map[int64]*types.Branch),
		builds:   make(map[int64]*types.Build),
	}
}

func (s *Store) allocID() int64 {
	s.nextID++
	return s.nextID
}

// CreateRepository inserts repo and assigns its id
func (s *Store) CreateRepository(ctx context.Context, repo *types.Repository) error {
	if err := repo.Validate(); err != nil {
		return fmt.Errorf("invalid repository: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.repos {
		if r.Name == repo.Name {
			return fmt.Errorf("repository %s already exists (id %d)", repo.Name, r.ID)
		}
	}
	repo.ID = s.allocID()
	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = time.Now()
	}
	s.repos[repo.ID] = copyRepo(repo)
	return nil
}

// GetRepository returns the repository with the given id
func (s *Store) GetRepository(ctx context.Context, id int64) (*types.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.repos[id]
	if !ok {
		return nil, fmt.Errorf("repository %d: %w", id, types.ErrNotFound)
	}
	return copyRepo(r), nil
}

// GetRepositoryByName returns the repository with the given remote name
func (s *Store) GetRepositoryByName(ctx context.Context, name string) (*types.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.repos {
		if r.Name == name {
			return copyRepo(r), nil
		}
	}
	return nil, fmt.Errorf("repository %s: %w", name, types.ErrNotFound)
}

// ListRepositories returns all repositories ordered by id
func (s *Store) ListRepositories(ctx context.Context) ([]*types.Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*types.Repository, 0, len(s.repos))
	for _, r := range s.repos {
		result = append(result, copyRepo(r))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// UpdateRepository replaces the stored repository
func (s *Store) UpdateRepository(ctx context.Context, repo *types.Repository) error {
	if err := repo.Validate(); err != nil {
		return fmt.Errorf("invalid repository: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.repos[repo.ID]; !ok {
		return fmt.Errorf("repository %d: %w", repo.ID, types.ErrNotFound)
	}
	s.repos[repo.ID] = copyRepo(repo)
	return nil
}

// CreateBranch inserts branch and assigns its id
func (s *Store) CreateBranch(ctx context.Context, branch *types.Branch) error {
	if err := branch.Validate(); err != nil {
		return fmt.Errorf("invalid branch: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.repos[branch.RepositoryID]; !ok {
		return fmt.Errorf("repository %d: %w", branch.RepositoryID, types.ErrNotFound)
	}
	if existing := s.findBranchLocked(branch.RepositoryID, branch.Name); existing != nil {
		return fmt.Errorf("branch %s already exists in repository %d", branch.Name, branch.RepositoryID)
	}
	s.insertBranchLocked(branch)
	return nil
}

func (s *Store) insertBranchLocked(branch *types.Branch) {
	now := time.Now()
	branch.ID = s.allocID()
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = now
	}
	branch.UpdatedAt = now
	s.branches[branch.ID] = copyBranch(branch)
}

func (s *Store) findBranchLocked(repoID int64, name string) *types.Branch {
	for _, b := range s.branches {
		if b.RepositoryID == repoID && b.Name == name {
			return b
		}
	}
	return nil
}

// GetBranch returns the branch with the given id
func (s *Store) GetBranch(ctx context.Context, id int64) (*types.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.branches[id]
	if !ok {
		return nil, fmt.Errorf("branch %d: %w", id, types.ErrNotFound)
	}
	return copyBranch(b), nil
}

// GetOrCreateBranch returns the (repoID, name) branch, creating it if missing
func (s *Store) GetOrCreateBranch(ctx context.Context, repoID int64, name string) (*types.Branch, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.findBranchLocked(repoID, name); existing != nil {
		return copyBranch(existing), false, nil
	}
	if _, ok := s.repos[repoID]; !ok {
		return nil, false, fmt.Errorf("repository %d: %w", repoID, types.ErrNotFound)
	}
	branch := types.NewBranch(repoID, name)
	if err := branch.Validate(); err != nil {
		return nil, false, fmt.Errorf("invalid branch: %w", err)
	}
	s.insertBranchLocked(branch)
	return copyBranch(branch), true, nil
}

// UpdateBranch replaces the stored branch
func (s *Store) UpdateBranch(ctx context.Context, branch *types.Branch) error {
	if err := branch.Validate(); err != nil {
		return fmt.Errorf("invalid branch: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.branches[branch.ID]; !ok {
		return fmt.Errorf("branch %d: %w", branch.ID, types.ErrNotFound)
	}
	branch.UpdatedAt = time.Now()
	s.branches[branch.ID] = copyBranch(branch)
	return nil
}

// FindBranches returns branches matching filter, most recent first
func (s *Store) FindBranches(ctx context.Context, filter types.BranchFilter) ([]*types.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*types.Branch
	for _, b := range s.branches {
		if filter.Matches(b) {
			result = append(result, copyBranch(b))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// CreateBuild inserts build and assigns its id
func (s *Store) CreateBuild(ctx context.Context, build *types.Build) error {
	if err := build.Validate(); err != nil {
		return fmt.Errorf("invalid build: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	branch, ok := s.branches[build.BranchID]
	if !ok {
		return fmt.Errorf("branch %d: %w", build.BranchID, types.ErrNotFound)
	}
	now := time.Now()
	build.ID = s.allocID()
	build.RepositoryID = branch.RepositoryID
	if build.CreatedAt.IsZero() {
		build.CreatedAt = now
	}
	build.UpdatedAt = now
	s.builds[build.ID] = copyBuild(build)
	return nil
}

// GetBuild returns the build with the given id
func (s *Store) GetBuild(ctx context.Context, id int64) (*types.Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.builds[id]
	if !ok {
		return nil, fmt.Errorf("build %d: %w", id, types.ErrNotFound)
	}
	return copyBuild(b), nil
}

// UpdateBuilds replaces the stored builds. Either all of them are written or none.
func (s *Store) UpdateBuilds(ctx context.Context, builds ...*types.Build) error {
	for _, b := range builds {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("invalid build %d: %w", b.ID, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range builds {
		if _, ok := s.builds[b.ID]; !ok {
			return fmt.Errorf("build %d: %w", b.ID, types.ErrNotFound)
		}
	}
	now := time.Now()
	for _, b := range builds {
		b.UpdatedAt = now
		s.builds[b.ID] = copyBuild(b)
	}
	return nil
}

// FindBuilds returns builds matching filter, most recent first
func (s *Store) FindBuilds(ctx context.Context, filter types.BuildFilter) ([]*types.Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*types.Build
	for _, b := range s.builds {
		if filter.Matches(b) {
			result = append(result, copyBuild(b))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}

func copyRepo(r *types.Repository) *types.Repository {
	c := *r
	c.DependencyIDs = append([]int64(nil), r.DependencyIDs...)
	return &c
}

func copyBranch(b *types.Branch) *types.Branch {
	c := *b
	return &c
}

func copyBuild(b *types.Build) *types.Build {
	c := *b
	c.Dependencies = append([]types.BuildDependency(nil), b.Dependencies...)
	return &c
}
