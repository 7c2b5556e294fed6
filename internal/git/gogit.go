package git

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/steveyegge/runbot/internal/types"
)

// GoGit implements RemoteOperations in process with go-git. No local clone
// is needed: the ref advertisement is fetched into a throwaway in-memory remote.
type GoGit struct{}

// NewGoGit creates a go-git backed remote lister
func NewGoGit() *GoGit {
	return &GoGit{}
}

// ListRefs fetches the remote's ref advertisement
func (g *GoGit) ListRefs(ctx context.Context, repo *types.Repository) (map[string]string, error) {
	remote := gogit.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "origin",
		URLs: []string{repo.Name},
	})

	refs, err := remote.ListContext(ctx, &gogit.ListOptions{Auth: authFor(repo)})
	if errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list refs of %s: %w", repo.ShortName(), err)
	}

	result := make(map[string]string, len(refs))
	for _, ref := range refs {
		if ref.Type() != plumbing.HashReference {
			continue
		}
		result[ref.Name().String()] = ref.Hash().String()
	}
	return result, nil
}

// authFor returns token auth for HTTP remotes. SSH remotes use the agent.
func authFor(repo *types.Repository) transport.AuthMethod {
	if !repo.HasToken() {
		return nil
	}
	if !strings.HasPrefix(repo.Name, "http://") && !strings.HasPrefix(repo.Name, "https://") {
		return nil
	}
	return &http.BasicAuth{Username: "x-access-token", Password: repo.Token}
}
