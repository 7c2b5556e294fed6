package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/runbot/internal/storage/memory"
	"github.com/steveyegge/runbot/internal/types"
)

func createRepos(t *testing.T, store *memory.Store, n int) []*types.Repository {
	t.Helper()
	repos := make([]*types.Repository, n)
	for i := range repos {
		repos[i] = &types.Repository{Name: "git@github.com:acme/r" + string(rune('a'+i))}
		require.NoError(t, store.CreateRepository(context.Background(), repos[i]))
	}
	return repos
}

func linkRepos(t *testing.T, store *memory.Store, from, to *types.Repository) {
	t.Helper()
	from.DuplicateID = to.ID
	require.NoError(t, store.UpdateRepository(context.Background(), from))
}

func repoIDs(repos []*types.Repository) []int64 {
	ids := make([]int64, len(repos))
	for i, r := range repos {
		ids[i] = r.ID
	}
	return ids
}

func TestTargetRepositoriesCycle(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := createRepos(t, store, 3)
	linkRepos(t, store, r[0], r[1])
	linkRepos(t, store, r[1], r[2])
	linkRepos(t, store, r[2], r[0])

	chain, err := TargetRepositories(ctx, store, r[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{r[0].ID, r[1].ID, r[2].ID}, repoIDs(chain))

	chain, err = TargetRepositories(ctx, store, r[2].ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{r[2].ID, r[0].ID, r[1].ID}, repoIDs(chain))
}

func TestTargetRepositoriesNonMutual(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := createRepos(t, store, 2)
	linkRepos(t, store, r[0], r[1])

	chain, err := TargetRepositories(ctx, store, r[1].ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{r[1].ID}, repoIDs(chain))

	chain, err = TargetRepositories(ctx, store, r[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{r[0].ID, r[1].ID}, repoIDs(chain))
}

func TestTargetRepositoriesDanglingLink(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := createRepos(t, store, 1)
	linkRepos(t, store, r[0], &types.Repository{ID: 4242})

	chain, err := TargetRepositories(ctx, store, r[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{r[0].ID}, repoIDs(chain))

	_, err = TargetRepositories(ctx, store, 4242)
	assert.Error(t, err)
}

func TestFamily(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := createRepos(t, store, 5)
	// r0 <-> r1, r2 -> r1 (one way), r3 alone, r4 -> r3
	linkRepos(t, store, r[0], r[1])
	linkRepos(t, store, r[1], r[0])
	linkRepos(t, store, r[2], r[1])
	linkRepos(t, store, r[4], r[3])

	fam, err := Family(ctx, store, r[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{r[0].ID, r[1].ID, r[2].ID}, fam)

	fam, err = Family(ctx, store, r[3].ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{r[3].ID, r[4].ID}, fam)
}

func TestSortCandidates(t *testing.T) {
	rank := map[int64]int{10: 0, 20: 1}
	branches := []*types.Branch{
		{ID: 1, RepositoryID: 20, Name: "refs/heads/10.0"},
		{ID: 2, RepositoryID: 10, Name: "refs/heads/10.0"},
		{ID: 3, RepositoryID: 10, Name: "refs/heads/10.0-fix"},
		{ID: 4, RepositoryID: 20, Name: "refs/heads/9.0", Sticky: true},
		{ID: 5, RepositoryID: 10, Name: "refs/heads/10.0"},
	}
	sortCandidates(branches, rank)

	var got []int64
	for _, b := range branches {
		got = append(got, b.ID)
	}
	assert.Equal(t, []int64{4, 3, 5, 2, 1}, got)
}
