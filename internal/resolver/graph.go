package resolver

import (
	"context"
	"fmt"
	"sort"

	"github.com/steveyegge/runbot/internal/storage"
	"github.com/steveyegge/runbot/internal/types"
)

// RepositoryGetter is the slice of the catalog needed to walk duplicate links
type RepositoryGetter interface {
	GetRepository(ctx context.Context, id int64) (*types.Repository, error)
}

// TargetRepositories returns the search space for a target: the target itself
// followed by its duplicate chain, nearest first. The walk stops at the first
// repository already visited, so non-mutual or cyclic links are fine.
func TargetRepositories(ctx context.Context, repos RepositoryGetter, targetID int64) ([]*types.Repository, error) {
	visited := make(map[int64]bool)
	var chain []*types.Repository

	for id := targetID; id != 0 && !visited[id]; {
		visited[id] = true
		repo, err := repos.GetRepository(ctx, id)
		if err != nil {
			if len(chain) == 0 {
				return nil, fmt.Errorf("failed to get target repository %d: %w", id, err)
			}
			// A dangling duplicate link ends the chain
			break
		}
		chain = append(chain, repo)
		id = repo.DuplicateID
	}
	return chain, nil
}

// Family returns the sorted ids of the repositories connected to repoID via
// duplicate links in either direction. Builds of one family share a
// duplicate-detection scope.
func Family(ctx context.Context, store storage.Storage, repoID int64) ([]int64, error) {
	all, err := store.ListRepositories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}

	adj := make(map[int64][]int64, len(all))
	for _, r := range all {
		if r.DuplicateID != 0 {
			adj[r.ID] = append(adj[r.ID], r.DuplicateID)
			adj[r.DuplicateID] = append(adj[r.DuplicateID], r.ID)
		}
	}

	seen := map[int64]bool{repoID: true}
	queue := []int64{repoID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adj[id] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}

	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
