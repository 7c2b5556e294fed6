package resolver

import (
	"sort"

	"github.com/steveyegge/runbot/internal/types"
)

// sortCandidates orders branches the same way at every tier: sticky first,
// then nearest repository, then longest branch name, then most recent.
func sortCandidates(branches []*types.Branch, rank map[int64]int) {
	sort.SliceStable(branches, func(i, j int) bool {
		a, b := branches[i], branches[j]
		if a.Sticky != b.Sticky {
			return a.Sticky
		}
		if ra, rb := rankOf(rank, a.RepositoryID), rankOf(rank, b.RepositoryID); ra != rb {
			return ra < rb
		}
		if la, lb := len(a.BranchName()), len(b.BranchName()); la != lb {
			return la > lb
		}
		return a.ID > b.ID
	})
}

func rankOf(rank map[int64]int, repoID int64) int {
	if r, ok := rank[repoID]; ok {
		return r
	}
	return len(rank)
}
