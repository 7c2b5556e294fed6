// Package config loads runbot configuration: the repository topology file
// and the environment-driven component settings.
package config

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/steveyegge/runbot/internal/catalog"
	"github.com/steveyegge/runbot/internal/storage"
	"github.com/steveyegge/runbot/internal/types"
)

// DefaultTopologyPath is where the CLI looks for the topology file
const DefaultTopologyPath = ".runbot/repos.yaml"

// Topology describes the tracked repositories and how they relate
//
//	repositories:
//	  - name: git@github.com:odoo/odoo
//	    duplicate: git@github.com:odoo-dev/odoo
//	    token_env: GITHUB_TOKEN
//	    sticky: [master, "16.0"]
//	  - name: git@github.com:odoo/enterprise
//	    duplicate: git@github.com:odoo-dev/enterprise
//	    dependencies: [git@github.com:odoo/odoo]
type Topology struct {
	Repositories []RepositoryConfig `yaml:"repositories"`
}

// RepositoryConfig is one entry of the topology file. Links refer to other
// entries by name.
type RepositoryConfig struct {
	Name         string   `yaml:"name"`
	Duplicate    string   `yaml:"duplicate,omitempty"`
	Dependencies []string `yaml:"dependencies,omitempty"`

	// Token is used as is; TokenEnv names an environment variable holding it.
	// Token wins when both are set.
	Token    string `yaml:"token,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty"`

	// Sticky lists branch names (without refs/heads/) to mark sticky
	Sticky []string `yaml:"sticky,omitempty"`
}

// ResolveToken returns the repository token, reading TokenEnv if needed
func (r RepositoryConfig) ResolveToken() string {
	if r.Token != "" {
		return r.Token
	}
	if r.TokenEnv != "" {
		return os.Getenv(r.TokenEnv)
	}
	return ""
}

// LoadTopology reads and validates a topology file
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology: %w", err)
	}
	topo, err := ParseTopology(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return topo, nil
}

// ParseTopology decodes and validates topology YAML
func ParseTopology(data []byte) (*Topology, error) {
	var topo Topology
	if err := yaml.Unmarshal(data, &topo); err != nil {
		return nil, fmt.Errorf("failed to parse topology: %w", err)
	}
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	return &topo, nil
}

// Validate checks names are unique and every link points at a listed repository
func (t *Topology) Validate() error {
	if len(t.Repositories) == 0 {
		return fmt.Errorf("topology lists no repositories")
	}
	names := make(map[string]bool, len(t.Repositories))
	for i, r := range t.Repositories {
		if r.Name == "" {
			return fmt.Errorf("repository #%d has no name", i+1)
		}
		if names[r.Name] {
			return fmt.Errorf("repository %s is listed twice", r.Name)
		}
		names[r.Name] = true
	}
	for _, r := range t.Repositories {
		if r.Duplicate != "" {
			if r.Duplicate == r.Name {
				return fmt.Errorf("repository %s cannot be its own duplicate", r.Name)
			}
			if !names[r.Duplicate] {
				return fmt.Errorf("repository %s: unknown duplicate %s", r.Name, r.Duplicate)
			}
		}
		seen := make(map[string]bool, len(r.Dependencies))
		for _, dep := range r.Dependencies {
			if dep == r.Name {
				return fmt.Errorf("repository %s cannot depend on itself", r.Name)
			}
			if !names[dep] {
				return fmt.Errorf("repository %s: unknown dependency %s", r.Name, dep)
			}
			if seen[dep] {
				return fmt.Errorf("repository %s: dependency %s listed twice", r.Name, dep)
			}
			seen[dep] = true
		}
	}
	return nil
}

// SyncResult summarizes what Sync changed
type SyncResult struct {
	Created int
	Updated int
	Sticky  int
}

// Sync creates or updates the topology's repositories in the store, then
// sets duplicate links, dependencies and sticky branches. Repositories in the
// store but absent from the topology are left untouched.
func (t *Topology) Sync(ctx context.Context, cat *catalog.Catalog) (*SyncResult, error) {
	store := cat.Store()
	result := &SyncResult{}
	repos := make(map[string]*types.Repository, len(t.Repositories))

	// First pass: make sure every repository exists so links can be resolved
	for _, rc := range t.Repositories {
		repo, err := store.GetRepositoryByName(ctx, rc.Name)
		switch {
		case err == nil:
		case errors.Is(err, storage.ErrNotFound):
			repo = &types.Repository{Name: rc.Name, Token: rc.ResolveToken()}
			if err := store.CreateRepository(ctx, repo); err != nil {
				return result, fmt.Errorf("failed to create repository %s: %w", rc.Name, err)
			}
			log.Printf("[CONFIG] Created repository %s (id=%d)", repo.ShortName(), repo.ID)
			result.Created++
		default:
			return result, fmt.Errorf("failed to get repository %s: %w", rc.Name, err)
		}
		repos[rc.Name] = repo
	}

	for _, rc := range t.Repositories {
		repo := repos[rc.Name]
		var duplicateID int64
		if rc.Duplicate != "" {
			duplicateID = repos[rc.Duplicate].ID
		}
		deps := make([]int64, 0, len(rc.Dependencies))
		for _, dep := range rc.Dependencies {
			deps = append(deps, repos[dep].ID)
		}
		token := rc.ResolveToken()

		if repo.DuplicateID != duplicateID || repo.Token != token || !sameIDs(repo.DependencyIDs, deps) {
			repo.DuplicateID = duplicateID
			repo.DependencyIDs = deps
			repo.Token = token
			if err := store.UpdateRepository(ctx, repo); err != nil {
				return result, fmt.Errorf("failed to update repository %s: %w", rc.Name, err)
			}
			result.Updated++
		}

		for _, name := range rc.Sticky {
			if _, err := cat.MarkSticky(ctx, repo.ID, name, true); err != nil {
				return result, err
			}
			result.Sticky++
		}
	}
	return result, nil
}

func sameIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
