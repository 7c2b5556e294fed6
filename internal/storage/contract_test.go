package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/runbot/internal/storage/memory"
	"github.com/steveyegge/runbot/internal/storage/postgres"
	"github.com/steveyegge/runbot/internal/storage/sqlite"
	"github.com/steveyegge/runbot/internal/types"
)

// backends returns a constructor per available backend. Postgres is only
// included when RUNBOT_TEST_PG_HOST points at a disposable database.
func backends(t *testing.T) map[string]func(t *testing.T) Storage {
	b := map[string]func(t *testing.T) Storage{
		"memory": func(t *testing.T) Storage { return memory.New() },
		"sqlite": func(t *testing.T) Storage {
			s, err := sqlite.New(filepath.Join(t.TempDir(), "runbot.db"))
			require.NoError(t, err)
			return s
		},
	}
	if host := os.Getenv("RUNBOT_TEST_PG_HOST"); host != "" {
		b["postgres"] = func(t *testing.T) Storage {
			cfg := postgres.DefaultConfig()
			cfg.Host = host
			if db := os.Getenv("RUNBOT_TEST_PG_DATABASE"); db != "" {
				cfg.Database = db
			}
			if user := os.Getenv("RUNBOT_TEST_PG_USER"); user != "" {
				cfg.User = user
			}
			cfg.Password = os.Getenv("RUNBOT_TEST_PG_PASSWORD")
			s, err := postgres.New(context.Background(), cfg)
			if err != nil {
				t.Skipf("Skipping PostgreSQL test (database not available): %v", err)
			}
			return s
		}
	}
	return b
}

// uniqueRemote keeps names distinct across runs against a shared postgres
func uniqueRemote(owner string) string {
	return "git@example.com:" + owner + "/odoo-" + uuid.NewString()[:8]
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Storage)) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s)
		})
	}
}

func TestContract_Repositories(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		name := uniqueRemote("odoo")

		base := &types.Repository{Name: name}
		require.NoError(t, s.CreateRepository(ctx, base))
		require.NotZero(t, base.ID)

		dep := &types.Repository{Name: name + "-enterprise", DependencyIDs: []int64{base.ID}}
		require.NoError(t, s.CreateRepository(ctx, dep))

		got, err := s.GetRepository(ctx, dep.ID)
		require.NoError(t, err)
		assert.Equal(t, dep.Name, got.Name)
		assert.Equal(t, []int64{base.ID}, got.DependencyIDs)

		byName, err := s.GetRepositoryByName(ctx, base.Name)
		require.NoError(t, err)
		assert.Equal(t, base.ID, byName.ID)

		byName.DuplicateID = dep.ID
		require.NoError(t, s.UpdateRepository(ctx, byName))
		got, err = s.GetRepository(ctx, base.ID)
		require.NoError(t, err)
		assert.Equal(t, dep.ID, got.DuplicateID)

		_, err = s.GetRepository(ctx, 987654)
		assert.True(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)

		assert.Error(t, s.CreateRepository(ctx, &types.Repository{Name: name}), "duplicate name must fail")

		repos, err := s.ListRepositories(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(repos), 2)
	})
}

func TestContract_Branches(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		repo := &types.Repository{Name: uniqueRemote("odoo-dev")}
		require.NoError(t, s.CreateRepository(ctx, repo))

		master, created, err := s.GetOrCreateBranch(ctx, repo.ID, "refs/heads/master")
		require.NoError(t, err)
		assert.True(t, created)

		again, created, err := s.GetOrCreateBranch(ctx, repo.ID, "refs/heads/master")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, master.ID, again.ID)

		pr := types.NewBranch(repo.ID, "refs/pull/12")
		pr.PullHeadName = "odoo-dev:master-fix"
		pr.TargetBranchName = "master"
		require.NoError(t, s.CreateBranch(ctx, pr))

		feature := types.NewBranch(repo.ID, "refs/heads/master-fix")
		require.NoError(t, s.CreateBranch(ctx, feature))

		heads, err := s.FindBranches(ctx, types.BranchFilter{RepositoryIDs: []int64{repo.ID}, OnlyHeads: true})
		require.NoError(t, err)
		require.Len(t, heads, 2)
		assert.Equal(t, feature.ID, heads[0].ID, "results are most recent first")

		prefixed, err := s.FindBranches(ctx, types.BranchFilter{NamePrefix: "refs/heads/master-", RepositoryIDs: []int64{repo.ID}})
		require.NoError(t, err)
		require.Len(t, prefixed, 1)
		assert.Equal(t, feature.ID, prefixed[0].ID)

		byHead, err := s.FindBranches(ctx, types.BranchFilter{PullHeadName: "odoo-dev:master-fix", RepositoryIDs: []int64{repo.ID}})
		require.NoError(t, err)
		require.Len(t, byHead, 1)
		assert.Equal(t, pr.ID, byHead[0].ID)

		byName, err := s.FindBranches(ctx, types.BranchFilter{BranchName: "master-fix", RepositoryIDs: []int64{repo.ID}})
		require.NoError(t, err)
		assert.Len(t, byName, 1)

		master.Sticky = true
		require.NoError(t, s.UpdateBranch(ctx, master))
		got, err := s.GetBranch(ctx, master.ID)
		require.NoError(t, err)
		assert.True(t, got.Sticky)
		assert.Equal(t, types.JobTypeAll, got.JobType)
	})
}

func TestContract_Builds(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		repo := &types.Repository{Name: uniqueRemote("odoo")}
		require.NoError(t, s.CreateRepository(ctx, repo))
		branch, _, err := s.GetOrCreateBranch(ctx, repo.ID, "refs/heads/master")
		require.NoError(t, err)

		first := &types.Build{BranchID: branch.ID, Revision: "aaa", State: types.BuildPending, JobType: types.JobTypeAll, Fingerprint: "fp"}
		require.NoError(t, s.CreateBuild(ctx, first))
		assert.Equal(t, repo.ID, first.RepositoryID)

		second := &types.Build{
			BranchID: branch.ID, Revision: "aaa", State: types.BuildPending, JobType: types.JobTypeAll, Fingerprint: "fp",
			Dependencies: []types.BuildDependency{{
				RepositoryID: repo.ID,
				Closest:      types.ClosestBranch{RepositoryID: repo.ID, RefName: "refs/heads/master", Kind: types.MatchExact},
				Revision:     "bbb",
			}},
		}
		require.NoError(t, s.CreateBuild(ctx, second))

		second.State = types.BuildDuplicate
		second.DuplicateOf = first.ID
		first.State = types.BuildTesting
		require.NoError(t, s.UpdateBuilds(ctx, first, second))

		got, err := s.GetBuild(ctx, second.ID)
		require.NoError(t, err)
		assert.Equal(t, types.BuildDuplicate, got.State)
		assert.Equal(t, first.ID, got.DuplicateOf)
		require.Len(t, got.Dependencies, 1)
		assert.Equal(t, "bbb", got.Dependencies[0].Revision)
		assert.Equal(t, types.MatchExact, got.Dependencies[0].Closest.Kind)

		active, err := s.FindBuilds(ctx, types.BuildFilter{
			RepositoryIDs:     []int64{repo.ID},
			Fingerprint:       "fp",
			States:            types.ActiveBuildStates,
			ExcludeDuplicates: true,
		})
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, first.ID, active[0].ID)

		dups, err := s.FindBuilds(ctx, types.BuildFilter{DuplicateOf: first.ID})
		require.NoError(t, err)
		require.Len(t, dups, 1)
		assert.Equal(t, second.ID, dups[0].ID)

		// A failed batch leaves every row untouched
		first.State = types.BuildDone
		missing := &types.Build{ID: 999999, BranchID: branch.ID, Revision: "x", State: types.BuildDone}
		assert.Error(t, s.UpdateBuilds(ctx, first, missing))
		got, err = s.GetBuild(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, types.BuildTesting, got.State)

		_, err = s.GetBuild(ctx, 999999)
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestContract_ConcurrentGetOrCreateBranch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		repo := &types.Repository{Name: uniqueRemote("odoo")}
		require.NoError(t, s.CreateRepository(ctx, repo))

		const workers = 8
		ids := make([]int64, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				b, _, err := s.GetOrCreateBranch(ctx, repo.ID, "refs/heads/13.0")
				if err != nil {
					t.Errorf("GetOrCreateBranch failed: %v", err)
					return
				}
				ids[i] = b.ID
			}(i)
		}
		wg.Wait()

		for _, id := range ids {
			assert.Equal(t, ids[0], id, "every caller must see the same branch row")
		}
	})
}
