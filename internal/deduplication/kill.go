package deduplication

import (
	"context"
	"fmt"
	"log"

	"github.com/steveyegge/runbot/internal/resolver"
	"github.com/steveyegge/runbot/internal/types"
)

// Skip marks build done/skipped. reason is only logged.
func (e *Engine) Skip(ctx context.Context, build *types.Build, reason string) error {
	family, err := resolver.Family(ctx, e.store, build.RepositoryID)
	if err != nil {
		return err
	}
	unlock := e.lockFamily(family)
	defer unlock()
	return e.skipLocked(ctx, build, reason)
}

func (e *Engine) skipLocked(ctx context.Context, build *types.Build, reason string) error {
	build.State = types.BuildDone
	build.Result = types.ResultSkipped
	if err := e.save(ctx, build); err != nil {
		return err
	}
	log.Printf("[DEDUP] %s skip %s", e.dest(ctx, build), reason)
	return nil
}

// Kill stops build. Killing a duplicate kills its original instead, unless the
// original belongs to a sticky branch: then only the duplicate is skipped and
// the original keeps running. A pending build is skipped, a testing or running
// build ends as done/killed. Duplicates keep their DuplicateOf link.
//
// It returns the build that was actually stopped.
func (e *Engine) Kill(ctx context.Context, buildID int64) (*types.Build, error) {
	build, err := e.store.GetBuild(ctx, buildID)
	if err != nil {
		return nil, fmt.Errorf("failed to get build %d: %w", buildID, err)
	}

	family, err := resolver.Family(ctx, e.store, build.RepositoryID)
	if err != nil {
		return nil, err
	}
	unlock := e.lockFamily(family)
	defer unlock()

	// Re-read under the lock: a concurrent registration may have swapped it
	build, err = e.store.GetBuild(ctx, buildID)
	if err != nil {
		return nil, fmt.Errorf("failed to get build %d: %w", buildID, err)
	}

	if build.IsDuplicate() {
		original, err := e.store.GetBuild(ctx, build.DuplicateOf)
		if err != nil {
			return nil, fmt.Errorf("failed to get original build %d: %w", build.DuplicateOf, err)
		}
		branch, err := e.store.GetBranch(ctx, original.BranchID)
		if err != nil {
			return nil, fmt.Errorf("failed to get branch %d: %w", original.BranchID, err)
		}
		if branch.Sticky {
			if err := e.skipLocked(ctx, build, "duplicate of sticky "+branch.Name); err != nil {
				return nil, err
			}
			return build, nil
		}
		build = original
	}

	switch build.State {
	case types.BuildPending:
		if err := e.skipLocked(ctx, build, "killed while pending"); err != nil {
			return nil, err
		}
	case types.BuildTesting, types.BuildRunning:
		build.State = types.BuildDone
		build.Result = types.ResultKilled
		if err := e.save(ctx, build); err != nil {
			return nil, err
		}
		log.Printf("[DEDUP] %s killed", e.dest(ctx, build))
	default:
		log.Printf("[DEDUP] Build %d is already %s, nothing to kill", build.ID, build.State)
	}
	return build, nil
}

// dest names a build in logs, falling back to its id when the branch is gone
func (e *Engine) dest(ctx context.Context, build *types.Build) string {
	branch, err := e.store.GetBranch(ctx, build.BranchID)
	if err != nil {
		return fmt.Sprintf("build %d", build.ID)
	}
	return build.Dest(branch)
}
