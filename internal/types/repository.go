package types

import (
	"fmt"
	"strings"
	"time"
)

// Repository is a source repository tracked by runbot
type Repository struct {
	ID   int64  `json:"id"`
	Name string `json:"name"` // Remote URL, e.g. "git@github.com:odoo-dev/odoo"

	// DuplicateID links to the mirror of this repository (0 = none).
	// The link is expected to be mutual but nothing enforces it.
	DuplicateID int64 `json:"duplicate_id,omitempty"`

	// DependencyIDs lists the repositories whose closest branch must be resolved
	// to build this one, in resolution order.
	DependencyIDs []int64 `json:"dependency_ids,omitempty"`

	Token     string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// HasToken reports whether PR metadata can be fetched for this repository
func (r *Repository) HasToken() bool {
	return r.Token != ""
}

// Validate checks if the repository has valid field values
func (r *Repository) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if r.ID != 0 && r.DuplicateID == r.ID {
		return fmt.Errorf("repository %d cannot be its own duplicate", r.ID)
	}
	seen := make(map[int64]bool, len(r.DependencyIDs))
	for _, dep := range r.DependencyIDs {
		if dep == 0 {
			return fmt.Errorf("dependency id cannot be zero")
		}
		if r.ID != 0 && dep == r.ID {
			return fmt.Errorf("repository %d cannot depend on itself", r.ID)
		}
		if seen[dep] {
			return fmt.Errorf("duplicate dependency id %d", dep)
		}
		seen[dep] = true
	}
	return nil
}

// Base returns host/owner/repo without scheme, credentials or ".git" suffix.
//
//	"git@github.com:odoo/odoo.git"      → "github.com/odoo/odoo"
//	"https://github.com/odoo/odoo"      → "github.com/odoo/odoo"
//	"bla@example.com:odoo-dev/odoo"     → "example.com/odoo-dev/odoo"
func (r *Repository) Base() string {
	name := strings.TrimSuffix(strings.TrimSpace(r.Name), ".git")
	if i := strings.Index(name, "://"); i >= 0 {
		name = name[i+3:]
		if at := strings.Index(name, "@"); at >= 0 && at < strings.Index(name+"/", "/") {
			name = name[at+1:]
		}
		return name
	}
	if at := strings.Index(name, "@"); at >= 0 {
		name = name[at+1:]
	}
	return strings.Replace(name, ":", "/", 1)
}

// Owner returns the account part of the repository path, the qualifier used in
// PR head labels ("odoo-dev" in "odoo-dev:my-branch").
func (r *Repository) Owner() string {
	parts := strings.Split(r.Base(), "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[len(parts)-2]
}

// RepoName returns the last path segment of the repository ("odoo")
func (r *Repository) RepoName() string {
	parts := strings.Split(r.Base(), "/")
	return parts[len(parts)-1]
}

// ShortName returns "owner/repo", used in logs and CLI output
func (r *Repository) ShortName() string {
	if owner := r.Owner(); owner != "" {
		return owner + "/" + r.RepoName()
	}
	return r.RepoName()
}

// HasDependency reports whether id is one of the repository's dependencies
func (r *Repository) HasDependency(id int64) bool {
	for _, dep := range r.DependencyIDs {
		if dep == id {
			return true
		}
	}
	return false
}
