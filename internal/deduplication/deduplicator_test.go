package deduplication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/runbot/internal/catalog"
	"github.com/steveyegge/runbot/internal/resolver"
	"github.com/steveyegge/runbot/internal/storage"
	"github.com/steveyegge/runbot/internal/storage/memory"
	"github.com/steveyegge/runbot/internal/types"
)

type fakePulls struct {
	info *types.PullInfo
}

func (f *fakePulls) GetPullRequest(ctx context.Context, repo *types.Repository, number int) (*types.PullInfo, error) {
	if f.info == nil {
		return nil, errors.New("no PR info")
	}
	info := *f.info
	info.Number = number
	return &info, nil
}

// fakeRevs answers "<repo id>:<ref>" unless the ref is marked missing
type fakeRevs struct {
	mu      sync.Mutex
	missing map[string]bool
}

func (f *fakeRevs) ResolveRevision(ctx context.Context, repo *types.Repository, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("%d:%s", repo.ID, ref)
	if f.missing[key] {
		return "", errors.New("ref not found")
	}
	return key, nil
}

// failingStore fails duplicate searches
type failingStore struct {
	*memory.Store
}

func (s *failingStore) FindBuilds(ctx context.Context, filter types.BuildFilter) ([]*types.Build, error) {
	if filter.Fingerprint != "" {
		return nil, errors.New("database is locked")
	}
	return s.Store.FindBuilds(ctx, filter)
}

type fixture struct {
	ctx    context.Context
	store  *memory.Store
	cat    *catalog.Catalog
	pulls  *fakePulls
	revs   *fakeRevs
	engine *Engine

	community, enterprise, communityDev, enterpriseDev *types.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		store: memory.New(),
		pulls: &fakePulls{},
		revs:  &fakeRevs{missing: make(map[string]bool)},
	}
	f.cat = catalog.New(f.store, f.pulls)

	f.community = f.repo(t, "bla@example.com:odoo/odoo")
	f.enterprise = f.repo(t, "bla@example.com:odoo/enterprise")
	f.communityDev = f.repo(t, "bla@example.com:odoo-dev/odoo")
	f.enterpriseDev = f.repo(t, "bla@example.com:odoo-dev/enterprise")

	f.update(t, f.community, f.communityDev.ID)
	f.update(t, f.communityDev, f.community.ID)
	f.update(t, f.enterprise, f.enterpriseDev.ID, f.community.ID)
	f.update(t, f.enterpriseDev, f.enterprise.ID, f.communityDev.ID)

	for _, repo := range []*types.Repository{f.community, f.enterprise} {
		for _, name := range []string{"master", "10.0", "11.0"} {
			f.branch(t, repo, "refs/heads/"+name)
		}
	}

	f.engine = f.newEngine(t, f.store, DefaultConfig())
	return f
}

func (f *fixture) newEngine(t *testing.T, store storage.Storage, cfg Config) *Engine {
	t.Helper()
	engine, err := NewEngine(store, resolver.New(f.cat, nil), f.revs, cfg)
	require.NoError(t, err)
	return engine
}

func (f *fixture) repo(t *testing.T, name string) *types.Repository {
	t.Helper()
	repo := &types.Repository{Name: name, Token: "1"}
	require.NoError(t, f.store.CreateRepository(f.ctx, repo))
	return repo
}

func (f *fixture) update(t *testing.T, repo *types.Repository, duplicateID int64, deps ...int64) {
	t.Helper()
	repo.DuplicateID = duplicateID
	repo.DependencyIDs = deps
	require.NoError(t, f.store.UpdateRepository(f.ctx, repo))
}

func (f *fixture) branch(t *testing.T, repo *types.Repository, ref string) *types.Branch {
	t.Helper()
	branch, _, err := f.cat.UpsertBranch(f.ctx, repo, ref)
	require.NoError(t, err)
	return branch
}

func (f *fixture) build(t *testing.T, branch *types.Branch, revision string) *types.Build {
	t.Helper()
	build, err := f.engine.CreateBuild(f.ctx, branch, revision, "")
	require.NoError(t, err)
	require.NotNil(t, build)
	return build
}

func (f *fixture) get(t *testing.T, id int64) *types.Build {
	t.Helper()
	build, err := f.store.GetBuild(f.ctx, id)
	require.NoError(t, err)
	return build
}

// assertDuplicate checks that builds of b1 and b2 at the same revision are
// linked whatever the creation order, and that killing the duplicate skips
// the pending original
func (f *fixture) assertDuplicate(t *testing.T, b1, b2 *types.Branch) {
	t.Helper()
	for _, pair := range [][2]*types.Branch{{b1, b2}, {b2, b1}} {
		first, second := pair[0], pair[1]
		hash := first.Name + second.Name

		build1 := f.build(t, first, hash)
		build2 := f.build(t, second, hash)

		build2 = f.get(t, build2.ID)
		assert.Equal(t, build1.ID, build2.DuplicateOf, "build on %s should duplicate build on %s", second.Name, first.Name)
		assert.Equal(t, types.BuildDuplicate, build2.State)
		assert.Equal(t, types.BuildPending, f.get(t, build1.ID).State)

		killed, err := f.engine.Kill(f.ctx, build2.ID)
		require.NoError(t, err)
		assert.Equal(t, build1.ID, killed.ID)

		build1 = f.get(t, build1.ID)
		assert.Equal(t, types.BuildDone, build1.State, "a killed pending duplicate marks the real build done")
		assert.Equal(t, types.ResultSkipped, build1.Result, "a killed pending duplicate marks the real build skipped")

		build2 = f.get(t, build2.ID)
		assert.Equal(t, types.BuildDuplicate, build2.State)
		assert.Equal(t, build1.ID, build2.DuplicateOf)
	}
}

func TestFingerprint(t *testing.T) {
	deps := []types.BuildDependency{{RepositoryID: 1, Revision: "aaa"}, {RepositoryID: 2, Revision: "bbb"}}
	assert.Equal(t, "rev;aaa;bbb", Fingerprint("rev", deps))
	assert.Equal(t, "rev", Fingerprint("rev", nil))
	assert.Empty(t, Fingerprint("", nil))
	assert.Empty(t, Fingerprint("rev", []types.BuildDependency{{RepositoryID: 1}}))
	assert.NotEqual(t, Fingerprint("rev", deps), Fingerprint("rev", []types.BuildDependency{deps[1], deps[0]}))
}

func TestPullRequestDuplicatesDevBranch(t *testing.T) {
	f := newFixture(t)
	f.pulls.info = &types.PullInfo{HeadLabel: "odoo-dev:10.0-fix-thing-moc", BaseRef: "10.0", State: "open"}

	devBranch := f.branch(t, f.communityDev, "refs/heads/10.0-fix-thing-moc")
	pr := f.branch(t, f.community, "refs/pull/12345")

	f.assertDuplicate(t, devBranch, pr)
}

func TestEnterprisePRDuplicatesDevBranch(t *testing.T) {
	f := newFixture(t)
	f.branch(t, f.communityDev, "refs/heads/saas-12.2-blabla")
	entDev := f.branch(t, f.enterpriseDev, "refs/heads/saas-12.2-blabla")

	f.pulls.info = &types.PullInfo{HeadLabel: "odoo-dev:saas-12.2-blabla", BaseRef: "saas-12.2", State: "open"}
	entPR := f.branch(t, f.enterprise, "refs/pull/3721")
	f.branch(t, f.community, "refs/pull/32156")

	f.assertDuplicate(t, entDev, entPR)

	build := f.build(t, entPR, "other")
	require.Len(t, build.Dependencies, 1)
	assert.Equal(t, f.communityDev.ID, build.Dependencies[0].Closest.RepositoryID)
	assert.Equal(t, types.MatchExactPR, build.Dependencies[0].Closest.Kind)
}

func TestEnterprisePRWithoutCommunityBranch(t *testing.T) {
	f := newFixture(t)
	entDev := f.branch(t, f.enterpriseDev, "refs/heads/saas-12.2-blabla")
	f.branch(t, f.community, "refs/heads/saas-12.2")

	f.pulls.info = &types.PullInfo{HeadLabel: "odoo-dev:saas-12.2-blabla", BaseRef: "saas-12.2", State: "open"}
	entPR := f.branch(t, f.enterprise, "refs/pull/3721")

	f.assertDuplicate(t, entPR, entDev)
}

func TestDifferentDependencyRevisionIsNotDuplicate(t *testing.T) {
	f := newFixture(t)
	b10 := f.branch(t, f.enterpriseDev, "refs/heads/10.0-fix")
	b11 := f.branch(t, f.enterpriseDev, "refs/heads/11.0-fix")

	first := f.build(t, b10, "same")
	second := f.build(t, b11, "same")

	assert.NotEqual(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, types.BuildPending, f.get(t, second.ID).State)
}

func TestOtherFamilyIsNotDuplicate(t *testing.T) {
	f := newFixture(t)
	community := f.branch(t, f.community, "refs/heads/feature")
	enterprise := f.branch(t, f.enterprise, "refs/heads/feature")
	f.update(t, f.enterprise, f.enterpriseDev.ID)

	f.build(t, community, "abc")
	second := f.build(t, enterprise, "abc")
	assert.Zero(t, f.get(t, second.ID).DuplicateOf)
}

func TestIncompleteFingerprintNeverMatches(t *testing.T) {
	f := newFixture(t)
	branch := f.branch(t, f.enterpriseDev, "refs/heads/10.0-fix")
	f.revs.missing[fmt.Sprintf("%d:%s", f.community.ID, "refs/heads/10.0")] = true

	first := f.build(t, branch, "abc")
	second := f.build(t, branch, "abc")

	assert.Empty(t, first.Fingerprint)
	require.Len(t, first.Dependencies, 1)
	assert.Empty(t, first.Dependencies[0].Revision)
	assert.Equal(t, types.BuildPending, f.get(t, second.ID).State)
}

func TestLowerIDWinsRetroactively(t *testing.T) {
	f := newFixture(t)
	branch := f.branch(t, f.community, "refs/heads/feature")
	other := f.branch(t, f.communityDev, "refs/heads/feature")

	newBuild := func(b *types.Branch) *types.Build {
		build := &types.Build{BranchID: b.ID, Revision: "abc", State: types.BuildPending, JobType: types.JobTypeAll}
		require.NoError(t, f.store.CreateBuild(f.ctx, build))
		return build
	}
	low, mid, high := newBuild(branch), newBuild(other), newBuild(branch)

	original, err := f.engine.RegisterBuild(f.ctx, mid)
	require.NoError(t, err)
	assert.Nil(t, original)

	original, err = f.engine.RegisterBuild(f.ctx, high)
	require.NoError(t, err)
	require.NotNil(t, original)
	assert.Equal(t, mid.ID, original.ID)

	original, err = f.engine.RegisterBuild(f.ctx, low)
	require.NoError(t, err)
	assert.Nil(t, original, "the lowest id stays the real build")

	assert.Equal(t, types.BuildPending, f.get(t, low.ID).State)
	for _, id := range []int64{mid.ID, high.ID} {
		b := f.get(t, id)
		assert.Equal(t, types.BuildDuplicate, b.State)
		assert.Equal(t, low.ID, b.DuplicateOf, "build %d must point at the real build, not a duplicate", id)
	}
}

func TestStartedHigherIDKeepsWinning(t *testing.T) {
	f := newFixture(t)
	branch := f.branch(t, f.community, "refs/heads/feature")

	low := &types.Build{BranchID: branch.ID, Revision: "abc", State: types.BuildPending, JobType: types.JobTypeAll}
	require.NoError(t, f.store.CreateBuild(f.ctx, low))
	high := f.build(t, branch, "abc")

	high.State = types.BuildTesting
	require.NoError(t, f.store.UpdateBuilds(f.ctx, high))

	original, err := f.engine.RegisterBuild(f.ctx, low)
	require.NoError(t, err)
	require.NotNil(t, original)
	assert.Equal(t, high.ID, original.ID)
	assert.Equal(t, types.BuildDuplicate, f.get(t, low.ID).State)
}

func TestConcurrentRegistrationHasOneWinner(t *testing.T) {
	f := newFixture(t)
	branches := []*types.Branch{
		f.branch(t, f.community, "refs/heads/feature"),
		f.branch(t, f.communityDev, "refs/heads/feature"),
	}

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := f.engine.CreateBuild(f.ctx, branches[i%2], "abc", ""); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("CreateBuild failed: %v", err)
	}

	builds, err := f.store.FindBuilds(f.ctx, types.BuildFilter{Fingerprint: "abc"})
	require.NoError(t, err)
	require.Len(t, builds, n)

	var winners []*types.Build
	lowest := builds[0].ID
	for _, b := range builds {
		if b.ID < lowest {
			lowest = b.ID
		}
		if b.State != types.BuildDuplicate {
			winners = append(winners, b)
		}
	}
	require.Len(t, winners, 1)
	assert.Equal(t, lowest, winners[0].ID)
	for _, b := range builds {
		if b.State == types.BuildDuplicate {
			assert.Equal(t, winners[0].ID, b.DuplicateOf)
		}
	}
}

func TestDisabledEngineNeverLinks(t *testing.T) {
	f := newFixture(t)
	cfg := DefaultConfig()
	cfg.Enabled = false
	f.engine = f.newEngine(t, f.store, cfg)
	branch := f.branch(t, f.community, "refs/heads/feature")

	f.build(t, branch, "abc")
	second := f.build(t, branch, "abc")
	assert.Equal(t, "abc", second.Fingerprint)
	assert.Equal(t, types.BuildPending, f.get(t, second.ID).State)
}

func TestFailOpen(t *testing.T) {
	f := newFixture(t)
	branch := f.branch(t, f.community, "refs/heads/feature")
	failing := &failingStore{Store: f.store}

	f.engine = f.newEngine(t, failing, DefaultConfig())
	build, err := f.engine.CreateBuild(f.ctx, branch, "abc", "")
	require.NoError(t, err)
	assert.Equal(t, types.BuildPending, f.get(t, build.ID).State)

	cfg := DefaultConfig()
	cfg.FailOpen = false
	f.engine = f.newEngine(t, failing, cfg)
	_, err = f.engine.CreateBuild(f.ctx, branch, "abc", "")
	assert.Error(t, err)
}

func TestJobTypeNone(t *testing.T) {
	f := newFixture(t)
	branch := f.branch(t, f.community, "refs/heads/feature")
	branch.JobType = types.JobTypeNone
	require.NoError(t, f.store.UpdateBranch(f.ctx, branch))

	build, err := f.engine.CreateBuild(f.ctx, branch, "abc", "")
	require.NoError(t, err)
	assert.Nil(t, build)

	build, err = f.engine.CreateBuild(f.ctx, branch, "abc", types.JobTypeTesting)
	require.NoError(t, err)
	require.NotNil(t, build)
	assert.Equal(t, types.JobTypeTesting, build.JobType)

	plain := f.branch(t, f.community, "refs/heads/other")
	build, err = f.engine.CreateBuild(f.ctx, plain, "abc", types.JobTypeNone)
	require.NoError(t, err)
	assert.Nil(t, build)
}

func TestRegisterBuildRejectsTerminal(t *testing.T) {
	f := newFixture(t)
	branch := f.branch(t, f.community, "refs/heads/feature")
	build := f.build(t, branch, "abc")
	require.NoError(t, f.engine.Skip(f.ctx, build, "test"))

	_, err := f.engine.RegisterBuild(f.ctx, build)
	assert.Error(t, err)
	_, err = f.engine.RegisterBuild(f.ctx, &types.Build{BranchID: branch.ID, Revision: "x", State: types.BuildPending})
	assert.Error(t, err)
}

func TestSkip(t *testing.T) {
	f := newFixture(t)
	branch := f.branch(t, f.community, "refs/heads/feature")
	build := f.build(t, branch, "abc")

	require.NoError(t, f.engine.Skip(f.ctx, build, "A good reason"))
	stored := f.get(t, build.ID)
	assert.Equal(t, types.BuildDone, stored.State)
	assert.Equal(t, types.ResultSkipped, stored.Result)
}
