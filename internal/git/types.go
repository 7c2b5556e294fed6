package git

import (
	"context"
	"errors"
	"strings"

	"github.com/steveyegge/runbot/internal/types"
)

// ErrRefNotFound is returned when a ref does not exist on the remote
var ErrRefNotFound = errors.New("ref not found on remote")

// RemoteOperations lists the refs advertised by a remote repository.
// Implementations must be safe for concurrent use.
type RemoteOperations interface {
	// ListRefs returns every ref of the remote mapped to its commit hash.
	// An empty remote yields an empty map and no error.
	ListRefs(ctx context.Context, repo *types.Repository) (map[string]string, error)
}

// wireRef maps a catalog ref name to the name the remote advertises.
// Pull requests are cataloged as refs/pull/N but served as refs/pull/N/head.
func wireRef(ref string) string {
	if strings.HasPrefix(ref, types.PullPrefix) && strings.Count(ref, "/") == 2 {
		return ref + "/head"
	}
	return ref
}
