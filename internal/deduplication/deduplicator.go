package deduplication

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash"

	"github.com/steveyegge/runbot/internal/resolver"
	"github.com/steveyegge/runbot/internal/storage"
	"github.com/steveyegge/runbot/internal/types"
)

// ClosestResolver finds the closest branch of a source branch in a target repository
type ClosestResolver interface {
	Resolve(ctx context.Context, source *types.Branch, targetRepoID int64) (types.ClosestBranch, error)
}

// RevisionResolver looks up the commit a remote ref points at
type RevisionResolver interface {
	ResolveRevision(ctx context.Context, repo *types.Repository, ref string) (string, error)
}

// Engine creates builds and links builds that would produce the same result.
//
// Two builds are equivalent when their fingerprints match: same revision of
// the built branch and same revision of every dependency's closest branch.
// Equivalent builds within one repository family share a single real build;
// the others are marked duplicate and point at it.
type Engine struct {
	store   storage.Storage
	closest ClosestResolver
	revs    RevisionResolver
	cfg     Config

	// "search, decide, mark" runs under the family's stripe
	locks []sync.Mutex
}

// NewEngine creates a deduplication engine
func NewEngine(store storage.Storage, closest ClosestResolver, revs RevisionResolver, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid deduplication config: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if closest == nil {
		return nil, fmt.Errorf("closest branch resolver cannot be nil")
	}
	return &Engine{
		store:   store,
		closest: closest,
		revs:    revs,
		cfg:     cfg,
		locks:   make([]sync.Mutex, cfg.LockStripes),
	}, nil
}

// Fingerprint joins a build revision and its dependency revisions, in
// dependency order. It is empty when any revision is unknown, and an empty
// fingerprint never matches another build.
func Fingerprint(revision string, deps []types.BuildDependency) string {
	if revision == "" {
		return ""
	}
	parts := make([]string, 0, len(deps)+1)
	parts = append(parts, revision)
	for _, dep := range deps {
		if dep.Revision == "" {
			return ""
		}
		parts = append(parts, dep.Revision)
	}
	return strings.Join(parts, ";")
}

// ComputeFingerprint resolves the closest branch and revision of every
// dependency of the build's repository, stores them in build.Dependencies and
// build.Fingerprint, and returns the fingerprint. Lookup failures are logged
// and leave the dependency revision empty.
func (e *Engine) ComputeFingerprint(ctx context.Context, build *types.Build) (string, error) {
	branch, err := e.store.GetBranch(ctx, build.BranchID)
	if err != nil {
		return "", fmt.Errorf("failed to get branch %d: %w", build.BranchID, err)
	}
	repo, err := e.store.GetRepository(ctx, branch.RepositoryID)
	if err != nil {
		return "", fmt.Errorf("failed to get repository %d: %w", branch.RepositoryID, err)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, e.cfg.LookupTimeout)
	defer cancel()

	deps := make([]types.BuildDependency, 0, len(repo.DependencyIDs))
	for _, depID := range repo.DependencyIDs {
		deps = append(deps, e.resolveDependency(lookupCtx, branch, depID))
	}

	build.Dependencies = deps
	build.Fingerprint = Fingerprint(build.Revision, deps)
	if build.Fingerprint == "" {
		log.Printf("[DEDUP] Build %d has an incomplete fingerprint; it will not be deduplicated", build.ID)
	}
	return build.Fingerprint, nil
}

func (e *Engine) resolveDependency(ctx context.Context, branch *types.Branch, depID int64) types.BuildDependency {
	dep := types.BuildDependency{RepositoryID: depID}

	closest, err := e.closest.Resolve(ctx, branch, depID)
	if err != nil {
		log.Printf("[DEDUP] Warning: closest branch of %s in repo %d degraded: %v", branch.Name, depID, err)
	}
	dep.Closest = closest

	if e.revs == nil {
		return dep
	}
	depRepo, err := e.store.GetRepository(ctx, closest.RepositoryID)
	if err != nil {
		log.Printf("[DEDUP] Warning: dependency repository %d: %v", closest.RepositoryID, err)
		return dep
	}
	rev, err := e.revs.ResolveRevision(ctx, depRepo, closest.RefName)
	if err != nil {
		log.Printf("[DEDUP] Warning: no revision for %s in %s: %v", closest.RefName, depRepo.ShortName(), err)
		return dep
	}
	dep.Revision = rev
	return dep
}

// CreateBuild creates a pending build of branch at revision and registers it.
// jobType overrides the branch's job type when set. It returns nil without
// error when the effective job type is "none".
func (e *Engine) CreateBuild(ctx context.Context, branch *types.Branch, revision string, jobType types.JobType) (*types.Build, error) {
	if jobType == "" {
		jobType = branch.JobType
	}
	if jobType == types.JobTypeNone {
		log.Printf("[DEDUP] Not building %s at %s: job type is none", branch.Name, shortRev(revision))
		return nil, nil
	}

	build := &types.Build{
		BranchID: branch.ID,
		Revision: revision,
		State:    types.BuildPending,
		JobType:  jobType,
	}
	if err := e.store.CreateBuild(ctx, build); err != nil {
		return nil, fmt.Errorf("failed to create build: %w", err)
	}

	if _, err := e.RegisterBuild(ctx, build); err != nil {
		return build, err
	}
	return build, nil
}

// RegisterBuild computes the build's fingerprint and links it to an
// equivalent active build of the same repository family. It returns the
// original when build was marked duplicate, or nil.
//
// When the match has a higher id and is still pending (it was registered
// first by a concurrent scan), the roles swap: the match becomes a duplicate
// of build, and the match's own duplicates are re-pointed at build.
func (e *Engine) RegisterBuild(ctx context.Context, build *types.Build) (*types.Build, error) {
	if build.ID == 0 {
		return nil, fmt.Errorf("build must be saved before registration")
	}
	if build.State.IsTerminal() {
		return nil, fmt.Errorf("build %d is already %s", build.ID, build.State)
	}

	// Remote lookups happen outside the family lock
	fingerprint, err := e.ComputeFingerprint(ctx, build)
	if err != nil {
		return nil, err
	}

	family, err := resolver.Family(ctx, e.store, build.RepositoryID)
	if err != nil {
		return nil, err
	}

	unlock := e.lockFamily(family)
	defer unlock()

	if !e.cfg.Enabled || fingerprint == "" {
		return nil, e.save(ctx, build)
	}

	match, err := e.findDuplicateLocked(ctx, build, family)
	if err != nil {
		if !e.cfg.FailOpen {
			return nil, err
		}
		log.Printf("[DEDUP] Warning: duplicate search for build %d failed, registering it as unique: %v", build.ID, err)
		return nil, e.save(ctx, build)
	}
	if match == nil {
		return nil, e.save(ctx, build)
	}

	if match.ID > build.ID && match.State == types.BuildPending {
		return nil, e.swapLocked(ctx, build, match)
	}

	build.State = types.BuildDuplicate
	build.DuplicateOf = match.ID
	if err := e.save(ctx, build); err != nil {
		// Keep the in-memory build consistent with what was stored
		build.State = types.BuildPending
		build.DuplicateOf = 0
		return nil, err
	}
	log.Printf("[DEDUP] Build %d is a duplicate of build %d", build.ID, match.ID)
	return match, nil
}

// FindDuplicate returns the most recent active, non-duplicate build of the
// build's repository family with the same fingerprint, or nil
func (e *Engine) FindDuplicate(ctx context.Context, build *types.Build) (*types.Build, error) {
	if build.Fingerprint == "" {
		return nil, nil
	}
	family, err := resolver.Family(ctx, e.store, build.RepositoryID)
	if err != nil {
		return nil, err
	}
	unlock := e.lockFamily(family)
	defer unlock()
	return e.findDuplicateLocked(ctx, build, family)
}

func (e *Engine) findDuplicateLocked(ctx context.Context, build *types.Build, family []int64) (*types.Build, error) {
	matches, err := e.store.FindBuilds(ctx, types.BuildFilter{
		RepositoryIDs:     family,
		Fingerprint:       build.Fingerprint,
		States:            types.ActiveBuildStates,
		ExcludeID:         build.ID,
		ExcludeDuplicates: true,
		Limit:             e.cfg.MaxCandidates,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search duplicates of build %d: %w", build.ID, err)
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[0], nil
}

// swapLocked makes match (higher id, pending) a duplicate of build
func (e *Engine) swapLocked(ctx context.Context, build, match *types.Build) error {
	children, err := e.store.FindBuilds(ctx, types.BuildFilter{DuplicateOf: match.ID})
	if err != nil {
		return fmt.Errorf("failed to list duplicates of build %d: %w", match.ID, err)
	}

	match.State = types.BuildDuplicate
	match.DuplicateOf = build.ID
	updates := []*types.Build{build, match}
	for _, child := range children {
		child.DuplicateOf = build.ID
		updates = append(updates, child)
	}

	if err := e.store.UpdateBuilds(ctx, updates...); err != nil {
		return fmt.Errorf("failed to swap build %d with build %d: %w", match.ID, build.ID, err)
	}
	log.Printf("[DEDUP] Build %d is now a duplicate of older build %d (%d duplicates re-pointed)",
		match.ID, build.ID, len(children))
	return nil
}

func (e *Engine) save(ctx context.Context, build *types.Build) error {
	if err := e.store.UpdateBuilds(ctx, build); err != nil {
		return fmt.Errorf("failed to save build %d: %w", build.ID, err)
	}
	return nil
}

// lockFamily locks the stripe of a repository family and returns the unlock func
func (e *Engine) lockFamily(family []int64) func() {
	mu := &e.locks[e.stripe(family)]
	mu.Lock()
	return mu.Unlock
}

func (e *Engine) stripe(family []int64) int {
	key := make([]string, len(family))
	for i, id := range family {
		key[i] = strconv.FormatInt(id, 10)
	}
	return int(xxhash.Sum64String(strings.Join(key, ",")) % uint64(len(e.locks)))
}

func shortRev(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}
