package git

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/steveyegge/runbot/internal/types"
)

// Git implements RemoteOperations using the git CLI (git ls-remote).
// It relies on whatever credentials the local git is configured with.
type Git struct {
	// gitPath is the path to the git executable
	gitPath string
}

// NewGit creates a new Git instance.
// It verifies that git is available on the system.
func NewGit(ctx context.Context) (*Git, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("git not found in PATH: %w", err)
	}

	cmd := exec.CommandContext(ctx, gitPath, "version")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git command failed: %w", err)
	}

	return &Git{gitPath: gitPath}, nil
}

// ListRefs runs git ls-remote against the repository remote
func (g *Git) ListRefs(ctx context.Context, repo *types.Repository) (map[string]string, error) {
	cmd := exec.CommandContext(ctx, g.gitPath, "ls-remote", "--", repo.Name)
	// Never prompt for credentials from a background process
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("git ls-remote %s failed: %w: %s", repo.ShortName(), err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("git ls-remote %s failed: %w", repo.ShortName(), err)
	}

	return parseLsRemote(string(output))
}

// parseLsRemote parses "<hash>\t<ref>" lines. Peeled tag entries ("^{}")
// are skipped.
func parseLsRemote(output string) (map[string]string, error) {
	refs := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("unexpected ls-remote line: %q", line)
		}
		if strings.HasSuffix(fields[1], "^{}") {
			continue
		}
		refs[fields[1]] = fields[0]
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse ls-remote output: %w", err)
	}
	return refs, nil
}
