// Package reconcile keeps the catalog in step with the remotes: every pass
// lists the refs of each tracked repository, records new branches and
// creates a build for every revision that has none yet. Build creation goes
// through the deduplication engine so equivalent builds are linked as they
// appear.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/runbot/internal/catalog"
	"github.com/steveyegge/runbot/internal/config"
	"github.com/steveyegge/runbot/internal/types"
)

// RefLister lists the refs advertised by a remote. *git.Checker implements it.
type RefLister interface {
	Refs(ctx context.Context, repo *types.Repository) (map[string]string, error)
	Invalidate(repo *types.Repository)
}

// BuildCreator creates and registers builds. *deduplication.Engine implements it.
type BuildCreator interface {
	CreateBuild(ctx context.Context, branch *types.Branch, revision string, jobType types.JobType) (*types.Build, error)
}

// Stats summarizes one reconciliation pass
type Stats struct {
	RunID        string
	Repositories int
	Failed       int // Repositories whose refs could not be listed
	NewBranches  int
	Builds       int
	Duplicates   int
	Duration     time.Duration
}

func (s *Stats) add(o Stats) {
	s.Repositories += o.Repositories
	s.Failed += o.Failed
	s.NewBranches += o.NewBranches
	s.Builds += o.Builds
	s.Duplicates += o.Duplicates
}

// String returns a one-line summary
func (s Stats) String() string {
	return fmt.Sprintf("run=%s repos=%d failed=%d new_branches=%d builds=%d duplicates=%d took=%v",
		s.RunID, s.Repositories, s.Failed, s.NewBranches, s.Builds, s.Duplicates, s.Duration.Round(time.Millisecond))
}

// Scanner runs reconciliation passes
type Scanner struct {
	catalog *catalog.Catalog
	refs    RefLister
	builds  BuildCreator
	cfg     config.ScanConfig
}

// NewScanner creates a scanner
func NewScanner(cat *catalog.Catalog, refs RefLister, builds BuildCreator, cfg config.ScanConfig) (*Scanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scan config: %w", err)
	}
	if cat == nil || refs == nil || builds == nil {
		return nil, fmt.Errorf("catalog, ref lister and build creator are required")
	}
	return &Scanner{catalog: cat, refs: refs, builds: builds, cfg: cfg}, nil
}

// Scan runs one pass over every tracked repository. Repositories are listed
// concurrently, up to cfg.Concurrency at a time. A repository that cannot be
// listed is counted in Stats.Failed and does not stop the pass; storage
// errors do.
func (s *Scanner) Scan(ctx context.Context) (*Stats, error) {
	start := time.Now()
	stats := &Stats{RunID: uuid.New().String()}

	repos, err := s.catalog.Store().ListRepositories(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list repositories: %w", err)
	}
	log.Printf("[SCAN] Run %s: scanning %d repositories", stats.RunID, len(repos))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, repo := range repos {
		g.Go(func() error {
			repoStats, err := s.scanRepository(gctx, repo)
			mu.Lock()
			stats.add(repoStats)
			mu.Unlock()
			return err
		})
	}
	err = g.Wait()
	stats.Duration = time.Since(start)
	if err != nil {
		return stats, err
	}

	log.Printf("[SCAN] Run %s done: %s", stats.RunID, stats)
	return stats, nil
}

func (s *Scanner) scanRepository(ctx context.Context, repo *types.Repository) (Stats, error) {
	stats := Stats{Repositories: 1}

	s.refs.Invalidate(repo)
	refs, err := s.refs.Refs(ctx, repo)
	if err != nil {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		log.Printf("[SCAN] Warning: could not list %s: %v", repo.ShortName(), err)
		stats.Failed++
		return stats, nil
	}

	names := make([]string, 0, len(refs))
	for ref := range refs {
		names = append(names, ref)
	}
	sort.Strings(names)

	for _, wire := range names {
		name := s.catalogRef(wire)
		if name == "" {
			continue
		}
		revision := refs[wire]

		branch, created, err := s.catalog.UpsertBranch(ctx, repo, name)
		if err != nil {
			return stats, err
		}
		if created {
			stats.NewBranches++
		}

		existing, err := s.catalog.Store().FindBuilds(ctx, types.BuildFilter{
			BranchID: branch.ID,
			Revision: revision,
			Limit:    1,
		})
		if err != nil {
			return stats, fmt.Errorf("failed to look up builds of %s: %w", name, err)
		}
		if len(existing) > 0 {
			continue
		}

		build, err := s.builds.CreateBuild(ctx, branch, revision, "")
		if err != nil {
			if build == nil {
				return stats, err
			}
			// The build row exists; registration will not be retried for it
			log.Printf("[SCAN] Warning: build %d of %s registered without deduplication: %v", build.ID, name, err)
		}
		if build == nil {
			continue
		}
		stats.Builds++
		if build.IsDuplicate() {
			stats.Duplicates++
		}
	}
	return stats, nil
}

// catalogRef maps an advertised ref to the name it is cataloged under, or
// "" when the ref is not built. refs/pull/N/head is cataloged as refs/pull/N.
func (s *Scanner) catalogRef(wire string) string {
	switch {
	case strings.HasPrefix(wire, types.HeadsPrefix):
		return wire
	case strings.HasPrefix(wire, types.PullPrefix) && strings.HasSuffix(wire, "/head"):
		if !s.cfg.BuildPulls {
			return ""
		}
		number := strings.TrimSuffix(strings.TrimPrefix(wire, types.PullPrefix), "/head")
		if number == "" || strings.Contains(number, "/") {
			return ""
		}
		return types.PullPrefix + number
	default:
		return ""
	}
}

// Run scans immediately, then once per interval until ctx is cancelled. Pass
// errors are logged and the loop continues.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval())
	defer ticker.Stop()

	for {
		if _, err := s.Scan(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[SCAN] Error: %v", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
