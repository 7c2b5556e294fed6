package git

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/steveyegge/runbot/internal/types"
)

func TestParseLsRemote(t *testing.T) {
	output := "d0d0caca0000ffffffffffffffffffffffffffff\tHEAD\n" +
		"d0d0caca0000ffffffffffffffffffffffffffff\trefs/heads/master\n" +
		"1111111111111111111111111111111111111111\trefs/pull/12/head\n" +
		"2222222222222222222222222222222222222222\trefs/tags/v1\n" +
		"3333333333333333333333333333333333333333\trefs/tags/v1^{}\n"

	refs, err := parseLsRemote(output)
	if err != nil {
		t.Fatalf("parseLsRemote failed: %v", err)
	}
	if len(refs) != 4 {
		t.Errorf("expected 4 refs, got %d: %v", len(refs), refs)
	}
	if refs["refs/pull/12/head"] != "1111111111111111111111111111111111111111" {
		t.Errorf("unexpected PR hash %q", refs["refs/pull/12/head"])
	}
	if _, ok := refs["refs/tags/v1^{}"]; ok {
		t.Error("peeled tags must be skipped")
	}

	if _, err := parseLsRemote("garbage\n"); err == nil {
		t.Error("expected error for malformed line")
	}
}

func TestWireRef(t *testing.T) {
	tests := map[string]string{
		"refs/heads/10.0":      "refs/heads/10.0",
		"refs/pull/3721":       "refs/pull/3721/head",
		"refs/pull/3721/head":  "refs/pull/3721/head",
		"refs/heads/pull/fake": "refs/heads/pull/fake",
	}
	for in, want := range tests {
		if got := wireRef(in); got != want {
			t.Errorf("wireRef(%q) = %q, want %q", in, got, want)
		}
	}
}

type countingOps struct {
	calls atomic.Int32
	refs  map[string]string
	err   error
	delay time.Duration
}

func (c *countingOps) ListRefs(ctx context.Context, repo *types.Repository) (map[string]string, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.refs, c.err
}

func TestChecker_CachesListings(t *testing.T) {
	ctx := context.Background()
	ops := &countingOps{refs: map[string]string{
		"refs/heads/master": "abc",
		"refs/pull/7/head":  "def",
	}}
	checker := NewChecker(ops, Config{Backend: BackendGoGit, CacheTTL: time.Minute, Timeout: time.Second})
	repo := &types.Repository{Name: "git@example.com:odoo/odoo"}

	ok, err := checker.RefExists(ctx, repo, "refs/heads/master")
	if err != nil || !ok {
		t.Fatalf("expected master to exist, got %t, %v", ok, err)
	}
	ok, _ = checker.RefExists(ctx, repo, "refs/pull/7")
	if !ok {
		t.Error("expected PR ref to be found through its /head name")
	}
	ok, _ = checker.RefExists(ctx, repo, "refs/heads/gone")
	if ok {
		t.Error("expected missing branch to be reported absent")
	}

	hash, err := checker.ResolveRevision(ctx, repo, "refs/pull/7")
	if err != nil || hash != "def" {
		t.Errorf("ResolveRevision = %q, %v", hash, err)
	}
	if _, err := checker.ResolveRevision(ctx, repo, "refs/heads/gone"); !errors.Is(err, ErrRefNotFound) {
		t.Errorf("expected ErrRefNotFound, got %v", err)
	}

	if n := ops.calls.Load(); n != 1 {
		t.Errorf("expected 1 listing, got %d", n)
	}

	checker.Invalidate(repo)
	_, _ = checker.RefExists(ctx, repo, "refs/heads/master")
	if n := ops.calls.Load(); n != 2 {
		t.Errorf("expected a new listing after Invalidate, got %d calls", n)
	}
}

func TestChecker_CoalescesConcurrentListings(t *testing.T) {
	ops := &countingOps{refs: map[string]string{"refs/heads/master": "abc"}, delay: 50 * time.Millisecond}
	checker := NewChecker(ops, Config{Backend: BackendGoGit, CacheTTL: time.Minute, Timeout: time.Second})
	repo := &types.Repository{Name: "git@example.com:odoo/odoo"}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := checker.RefExists(context.Background(), repo, "refs/heads/master"); err != nil {
				t.Errorf("RefExists failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := ops.calls.Load(); n != 1 {
		t.Errorf("expected concurrent lookups to share one listing, got %d", n)
	}
}

func TestChecker_PropagatesErrors(t *testing.T) {
	ops := &countingOps{err: errors.New("connection refused")}
	checker := NewChecker(ops, DefaultConfig())
	repo := &types.Repository{Name: "git@example.com:odoo/odoo"}

	if _, err := checker.RefExists(context.Background(), repo, "refs/heads/master"); err == nil {
		t.Error("expected listing error to propagate")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("RUNBOT_REMOTE_BACKEND", "CLI")
	t.Setenv("RUNBOT_REMOTE_CACHE_TTL", "5s")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv failed: %v", err)
	}
	if cfg.Backend != BackendCLI || cfg.CacheTTL != 5*time.Second {
		t.Errorf("unexpected config %+v", cfg)
	}

	t.Setenv("RUNBOT_REMOTE_BACKEND", "svn")
	if _, err := ConfigFromEnv(); err == nil {
		t.Error("expected error for unknown backend")
	}
}

// newLocalRemote creates a repository with master, 10.0 and a PR head ref
func newLocalRemote(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("Failed to init repo: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Failed to get worktree: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README"), []byte("runbot\n"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := wt.Add("README"); err != nil {
		t.Fatalf("Failed to stage file: %v", err)
	}
	hash, err := wt.Commit("initial", &gogit.CommitOptions{
		Author: &object.Signature{Name: "Test User", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}
	for _, name := range []string{"refs/heads/master", "refs/heads/10.0", "refs/pull/5/head"} {
		if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.ReferenceName(name), hash)); err != nil {
			t.Fatalf("Failed to set %s: %v", name, err)
		}
	}
	return dir, hash.String()
}

func TestGoGit_ListRefs(t *testing.T) {
	dir, hash := newLocalRemote(t)
	refs, err := NewGoGit().ListRefs(context.Background(), &types.Repository{Name: dir})
	if err != nil {
		t.Fatalf("ListRefs failed: %v", err)
	}
	for _, name := range []string{"refs/heads/master", "refs/heads/10.0", "refs/pull/5/head"} {
		if refs[name] != hash {
			t.Errorf("expected %s at %s, got %q", name, hash, refs[name])
		}
	}
}

func TestGit_ListRefs(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir, hash := newLocalRemote(t)
	g, err := NewGit(context.Background())
	if err != nil {
		t.Fatalf("NewGit failed: %v", err)
	}
	refs, err := g.ListRefs(context.Background(), &types.Repository{Name: dir})
	if err != nil {
		t.Fatalf("ListRefs failed: %v", err)
	}
	if refs["refs/heads/10.0"] != hash {
		t.Errorf("expected refs/heads/10.0 at %s, got %q", hash, refs["refs/heads/10.0"])
	}
}
