package resolver

import (
	"context"
	"log"
	"strings"

	"github.com/steveyegge/runbot/internal/types"
)

// tier is one resolution strategy. It reports false when it has no answer.
type tier func(ctx context.Context, s *search) (*types.ClosestBranch, bool)

// tiers are evaluated in order; the last one always answers
var tiers = []tier{
	exactBranch,
	exactPull,
	dashedPrefix,
	pullWithoutCounterpart,
	defaultBranch,
}

// search carries the state of one Resolve call
type search struct {
	r          *Resolver
	source     *types.Branch
	sourceRepo *types.Repository
	targets    []*types.Repository // nearest first
	rank       map[int64]int

	// err accompanies a degraded answer
	err error
}

func (s *search) name() string {
	return s.source.EffectiveName()
}

func (s *search) sourceRepoName() string {
	if s.sourceRepo == nil {
		return "?"
	}
	return s.sourceRepo.ShortName()
}

func (s *search) targetIDs() []int64 {
	ids := make([]int64, len(s.targets))
	for i, repo := range s.targets {
		ids[i] = repo.ID
	}
	return ids
}

func (s *search) repo(id int64) *types.Repository {
	for _, repo := range s.targets {
		if repo.ID == id {
			return repo
		}
	}
	return nil
}

// repoByOwner returns the first target whose owner is the head label qualifier
func (s *search) repoByOwner(owner string) *types.Repository {
	for _, repo := range s.targets {
		if repo.Owner() == owner {
			return repo
		}
	}
	return nil
}

// candidates queries the catalog restricted to the target repositories and
// returns the rows in tier order
func (s *search) candidates(ctx context.Context, filter types.BranchFilter) []*types.Branch {
	filter.RepositoryIDs = s.targetIDs()
	branches, err := s.r.catalog.Store().FindBranches(ctx, filter)
	if err != nil {
		log.Printf("[RESOLVE] Warning: branch lookup failed for %s: %v", s.source.Name, err)
		return nil
	}
	sortCandidates(branches, s.rank)
	return branches
}

// live re-checks that a cataloged branch still exists on its remote.
// Lookup errors count as "not live".
func (s *search) live(ctx context.Context, b *types.Branch) bool {
	if s.r.live == nil {
		return true
	}
	repo := s.repo(b.RepositoryID)
	if repo == nil {
		return false
	}
	ok, err := s.r.live.RefExists(ctx, repo, b.Name)
	if err != nil {
		log.Printf("[RESOLVE] Warning: liveness check of %s in %s failed: %v", b.Name, repo.ShortName(), err)
		return false
	}
	return ok
}

func answer(b *types.Branch, kind types.MatchKind) *types.ClosestBranch {
	return &types.ClosestBranch{
		RepositoryID: b.RepositoryID,
		RefName:      b.Name,
		Kind:         kind,
		BranchID:     b.ID,
	}
}

// exactBranch matches a plain branch with the same name
func exactBranch(ctx context.Context, s *search) (*types.ClosestBranch, bool) {
	if s.source.IsPull() {
		return nil, false
	}
	cands := s.candidates(ctx, types.BranchFilter{
		BranchName: s.source.BranchName(),
		OnlyHeads:  true,
	})
	if len(cands) > 0 && s.live(ctx, cands[0]) {
		return answer(cands[0], types.MatchExact), true
	}
	return nil, false
}

// exactPull matches an open PR with the same head label. When the label names
// the owner of a target repository, the head branch itself is returned.
func exactPull(ctx context.Context, s *search) (*types.ClosestBranch, bool) {
	if s.source.PullHeadName == "" {
		return nil, false
	}
	pulls := s.r.catalog.Pulls()
	if pulls == nil {
		return nil, false
	}

	cands := s.candidates(ctx, types.BranchFilter{
		PullHeadName: s.source.PullHeadName,
		OnlyPulls:    true,
	})
	for _, pull := range cands {
		repo := s.repo(pull.RepositoryID)
		if repo == nil || !repo.HasToken() {
			continue
		}
		info, err := pulls.GetPullRequest(ctx, repo, pull.PullNumber())
		if err != nil {
			log.Printf("[RESOLVE] Warning: PR info of %s in %s unavailable: %v", pull.Name, repo.ShortName(), err)
			continue
		}
		if !info.IsOpen() {
			continue
		}

		owner, headBranch, qualified := types.SplitHeadLabel(s.source.PullHeadName)
		if qualified {
			if headRepo := s.repoByOwner(owner); headRepo != nil {
				ref := types.HeadsPrefix + headBranch
				branch, created, err := s.r.catalog.Store().GetOrCreateBranch(ctx, headRepo.ID, ref)
				if err == nil {
					if created {
						log.Printf("[RESOLVE] Warning: creating missing branch %s in %s", ref, headRepo.ShortName())
					}
					return answer(branch, types.MatchExactPR), true
				}
				log.Printf("[RESOLVE] Warning: failed to get branch %s in %s: %v", ref, headRepo.ShortName(), err)
			}
		}
		return answer(pull, types.MatchExactPR), true
	}
	return nil, false
}

// dashedPrefix matches a branch whose name followed by "-" starts the source
// name, e.g. "10.0" for "10.0-fix-thing"
func dashedPrefix(ctx context.Context, s *search) (*types.ClosestBranch, bool) {
	name := s.name()
	if !strings.Contains(name, "-") {
		return nil, false
	}
	root := name[:strings.Index(name, "-")]

	cands := s.candidates(ctx, types.BranchFilter{
		NamePrefix: types.HeadsPrefix + root,
	})
	for _, b := range cands {
		if strings.HasPrefix(name, b.BranchName()+"-") && s.live(ctx, b) {
			return answer(b, types.MatchPrefix), true
		}
	}
	return nil, false
}

// pullWithoutCounterpart matches the head branch of a PR in the repository
// named by the head label, when no PR exists there
func pullWithoutCounterpart(ctx context.Context, s *search) (*types.ClosestBranch, bool) {
	if s.source.PullHeadName == "" || !s.source.IsPull() {
		return nil, false
	}
	owner, headBranch, qualified := types.SplitHeadLabel(s.source.PullHeadName)
	if !qualified {
		return nil, false
	}
	headRepo := s.repoByOwner(owner)
	if headRepo == nil {
		return nil, false
	}

	branches, err := s.r.catalog.Store().FindBranches(ctx, types.BranchFilter{
		RepositoryIDs: []int64{headRepo.ID},
		BranchName:    headBranch,
		OnlyHeads:     true,
		NoPullHead:    true,
	})
	if err != nil {
		log.Printf("[RESOLVE] Warning: branch lookup failed for %s: %v", s.source.Name, err)
		return nil, false
	}
	sortCandidates(branches, s.rank)
	if len(branches) > 0 && s.live(ctx, branches[0]) {
		return answer(branches[0], types.MatchNoPR), true
	}
	return nil, false
}

// defaultBranch answers with the PR base branch when cataloged, else master.
// It always answers.
func defaultBranch(ctx context.Context, s *search) (*types.ClosestBranch, bool) {
	if s.source.TargetBranchName != "" {
		cands := s.candidates(ctx, types.BranchFilter{
			Name: types.HeadsPrefix + s.source.TargetBranchName,
		})
		if len(cands) > 0 {
			return answer(cands[0], types.MatchDefault), true
		}
	}

	master := types.HeadsPrefix + types.DefaultBranch
	cands := s.candidates(ctx, types.BranchFilter{Name: master})
	if len(cands) > 0 {
		return answer(cands[0], types.MatchDefault), true
	}

	log.Printf("[RESOLVE] Error: repository setup: no %s in repos %v", master, s.targetIDs())
	s.err = ErrNoDefaultBranch
	return &types.ClosestBranch{
		RepositoryID: s.targets[0].ID,
		RefName:      master,
		Kind:         types.MatchDefault,
	}, true
}
