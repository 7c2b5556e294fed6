// Package catalog keeps the branch catalog in sync with what runbot observes
// on remotes: it creates branch rows and fills the PR fields lazily from the
// PR metadata provider.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/steveyegge/runbot/internal/github"
	"github.com/steveyegge/runbot/internal/storage"
	"github.com/steveyegge/runbot/internal/types"
)

// Catalog wraps a storage backend with the branch lifecycle rules
type Catalog struct {
	store storage.Storage
	pulls github.PullInfoProvider
}

// New creates a catalog. pulls may be nil, in which case PR fields stay empty.
func New(store storage.Storage, pulls github.PullInfoProvider) *Catalog {
	return &Catalog{store: store, pulls: pulls}
}

// Store returns the underlying storage
func (c *Catalog) Store() storage.Storage {
	return c.store
}

// Pulls returns the PR metadata provider (may be nil)
func (c *Catalog) Pulls() github.PullInfoProvider {
	return c.pulls
}

// UpsertBranch returns the branch for ref in repo, creating it when missing.
// A newly created PR branch gets its PR fields from the provider; a failed
// metadata call leaves them empty and does not fail the upsert.
func (c *Catalog) UpsertBranch(ctx context.Context, repo *types.Repository, ref string) (*types.Branch, bool, error) {
	branch, created, err := c.store.GetOrCreateBranch(ctx, repo.ID, ref)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert branch %s in %s: %w", ref, repo.ShortName(), err)
	}
	if created {
		log.Printf("[CATALOG] New branch %s in %s (id=%d)", ref, repo.ShortName(), branch.ID)
		if branch.IsPull() {
			if _, err := c.RefreshPullInfo(ctx, repo, branch); err != nil {
				// The row exists; PR fields are retried on the next refresh
				log.Printf("[CATALOG] Warning: could not save PR fields of %s: %v", ref, err)
			}
		}
	}
	return branch, created, nil
}

// RefreshPullInfo fetches PR metadata for branch and saves the derived fields.
// It returns nil without error when the branch is not a PR, the repository has
// no token, or no provider is configured. Provider failures are logged and
// reported as nil info; only a failed save is returned as an error.
func (c *Catalog) RefreshPullInfo(ctx context.Context, repo *types.Repository, branch *types.Branch) (*types.PullInfo, error) {
	if !branch.IsPull() || !repo.HasToken() || c.pulls == nil {
		return nil, nil
	}

	info, err := c.pulls.GetPullRequest(ctx, repo, branch.PullNumber())
	if err != nil {
		if !errors.Is(err, github.ErrNoToken) {
			log.Printf("[CATALOG] Warning: failed to fetch PR info for %s in %s: %v", branch.Name, repo.ShortName(), err)
		}
		return nil, nil
	}
	if info == nil {
		return nil, nil
	}

	prevHead, prevTarget := branch.PullHeadName, branch.TargetBranchName
	branch.SetPullInfo(info)
	if branch.PullHeadName == prevHead && branch.TargetBranchName == prevTarget {
		return info, nil
	}
	if err := c.store.UpdateBranch(ctx, branch); err != nil {
		return info, fmt.Errorf("failed to save PR fields of branch %d: %w", branch.ID, err)
	}
	return info, nil
}

// MarkSticky sets the sticky flag of refs/heads/<branchName> in repoID,
// creating the branch row if needed
func (c *Catalog) MarkSticky(ctx context.Context, repoID int64, branchName string, sticky bool) (*types.Branch, error) {
	ref := types.HeadsPrefix + branchName
	branch, _, err := c.store.GetOrCreateBranch(ctx, repoID, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to get branch %s: %w", ref, err)
	}
	if branch.Sticky == sticky {
		return branch, nil
	}
	branch.Sticky = sticky
	if err := c.store.UpdateBranch(ctx, branch); err != nil {
		return nil, fmt.Errorf("failed to update branch %s: %w", ref, err)
	}
	return branch, nil
}
