// Package resolver finds, for a branch of one repository, the corresponding
// branch of another repository (its "closest branch"). Builds use it to pick
// which ref of each dependency repository to build against.
//
// Resolution walks an ordered list of tiers and stops at the first match:
//
//	exact     same branch name, not a pull request
//	exact-pr  open pull request with the same head label
//	prefix    a branch whose name is a dashed prefix ("10.0" for "10.0-fix-x")
//	no-pr     the head branch of a pull request, found in the head's repository
//	default   the PR base branch, else master
//
// Resolve never fails to return a value. Remote and PR metadata failures
// degrade to later tiers.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/steveyegge/runbot/internal/catalog"
	"github.com/steveyegge/runbot/internal/types"
)

// ErrNoDefaultBranch is returned alongside the fallback answer when the
// target repository family has no refs/heads/master branch
var ErrNoDefaultBranch = errors.New("no default branch in target repository family")

// Liveness checks that a ref still exists on the remote
type Liveness interface {
	RefExists(ctx context.Context, repo *types.Repository, ref string) (bool, error)
}

// Resolver computes closest branches from the catalog
type Resolver struct {
	catalog *catalog.Catalog
	live    Liveness
}

// New creates a resolver. live may be nil, in which case every cataloged
// branch is assumed to exist on its remote.
func New(cat *catalog.Catalog, live Liveness) *Resolver {
	return &Resolver{catalog: cat, live: live}
}

// Resolve returns the closest branch of source in the target repository family.
//
// The returned value is always usable. A non-nil error means the answer is the
// last-resort default: either the catalog could not be queried or the family
// has no master branch (ErrNoDefaultBranch). Empty PR fields of source are
// refetched first and saved on source when the fetch succeeds.
func (r *Resolver) Resolve(ctx context.Context, source *types.Branch, targetRepoID int64) (types.ClosestBranch, error) {
	fallback := types.ClosestBranch{
		RepositoryID: targetRepoID,
		RefName:      types.HeadsPrefix + types.DefaultBranch,
		Kind:         types.MatchDefault,
	}

	s, err := r.newSearch(ctx, source, targetRepoID)
	if err != nil {
		log.Printf("[RESOLVE] Error: %v (falling back to %s)", err, fallback)
		return fallback, err
	}

	log.Printf("[RESOLVE] Search closest of %s (%s) in repos %v", s.name(), s.sourceRepoName(), s.targetIDs())

	for _, t := range tiers {
		if answer, ok := t(ctx, s); ok {
			log.Printf("[RESOLVE] %s in %s -> %s", source.Name, s.sourceRepoName(), answer)
			if s.err != nil {
				return *answer, s.err
			}
			return *answer, nil
		}
		if ctx.Err() != nil {
			// Cancelled mid-search: skip the remote checks of later tiers
			break
		}
	}

	// The default tier always answers; reaching here means the context was cancelled
	return fallback, ctx.Err()
}

func (r *Resolver) newSearch(ctx context.Context, source *types.Branch, targetRepoID int64) (*search, error) {
	store := r.catalog.Store()

	targets, err := TargetRepositories(ctx, store, targetRepoID)
	if err != nil {
		return nil, err
	}

	s := &search{
		r:       r,
		source:  source,
		targets: targets,
		rank:    make(map[int64]int, len(targets)),
	}
	for i, repo := range targets {
		s.rank[repo.ID] = i
	}

	repo, err := store.GetRepository(ctx, source.RepositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to get source repository %d: %w", source.RepositoryID, err)
	}
	s.sourceRepo = repo

	// PR fields are filled lazily; retry when a previous fetch left them empty
	if source.IsPull() && source.PullHeadName == "" && source.TargetBranchName == "" && repo.HasToken() {
		if _, err := r.catalog.RefreshPullInfo(ctx, repo, source); err != nil {
			log.Printf("[RESOLVE] Warning: %v", err)
		}
	}
	return s, nil
}
