package types

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	HeadsPrefix = "refs/heads/"
	PullPrefix  = "refs/pull/"

	// DefaultBranch is assumed to exist in every repository family
	DefaultBranch = "master"
)

var (
	rePatchLabel = regexp.MustCompile(`.*patch-\d+$`)
	reCoverage   = regexp.MustCompile(`\bcoverage\b`)
	reNumeric    = regexp.MustCompile(`^[0-9]+$`)
)

// Branch is a ref observed in a repository: a plain branch or a pull request
type Branch struct {
	ID           int64   `json:"id"`
	RepositoryID int64   `json:"repository_id"`
	Name         string  `json:"name"` // Full ref name, e.g. "refs/heads/10.0" or "refs/pull/3721"
	Sticky       bool    `json:"sticky"`
	Coverage     bool    `json:"coverage"`
	Priority     bool    `json:"priority"`
	JobType      JobType `json:"job_type"`

	// PR-only fields, filled from PR metadata. Empty until a metadata call succeeds.
	PullHeadName     string `json:"pull_head_name,omitempty"`     // "owner:branch" head label
	TargetBranchName string `json:"target_branch_name,omitempty"` // PR base ref

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewBranch returns a branch for ref name in the given repository with the
// defaults applied at creation time.
func NewBranch(repoID int64, name string) *Branch {
	return &Branch{
		RepositoryID: repoID,
		Name:         name,
		Coverage:     reCoverage.MatchString(name),
		JobType:      JobTypeAll,
	}
}

// Validate checks if the branch has valid field values
func (b *Branch) Validate() error {
	if b.RepositoryID == 0 {
		return fmt.Errorf("repository_id is required")
	}
	if !strings.HasPrefix(b.Name, "refs/") {
		return fmt.Errorf("ref name must start with refs/ (got %q)", b.Name)
	}
	if b.BranchName() == "" {
		return fmt.Errorf("ref name %q has no branch component", b.Name)
	}
	if !b.JobType.IsValid() {
		return fmt.Errorf("invalid job type: %s", b.JobType)
	}
	return nil
}

// BranchName returns the last path segment of the ref name
func (b *Branch) BranchName() string {
	return BranchNameOf(b.Name)
}

// BranchNameOf returns the last path segment of a ref name
func BranchNameOf(ref string) string {
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}

// IsPull reports whether the branch is a pull request ref
func (b *Branch) IsPull() bool {
	return strings.HasPrefix(b.Name, PullPrefix)
}

// IsHead reports whether the branch is a plain refs/heads/ branch
func (b *Branch) IsHead() bool {
	return strings.HasPrefix(b.Name, HeadsPrefix)
}

// PullNumber returns the PR number, or 0 if the branch is not a pull request
func (b *Branch) PullNumber() int {
	if !b.IsPull() {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimPrefix(b.Name, PullPrefix))
	if err != nil {
		return 0
	}
	return n
}

// EffectiveName is the name used to correlate the branch across repositories:
// the PR head label when known, else the branch name.
func (b *Branch) EffectiveName() string {
	if b.PullHeadName != "" {
		return b.PullHeadName
	}
	return b.BranchName()
}

// SetPullInfo applies PR metadata to the branch. Throwaway "patch-N" head labels
// are not stored since they do not identify a branch across repositories.
func (b *Branch) SetPullInfo(pi *PullInfo) {
	if pi == nil {
		return
	}
	b.TargetBranchName = pi.BaseRef
	if !rePatchLabel.MatchString(pi.HeadLabel) {
		b.PullHeadName = pi.HeadLabel
	}
}

// URL returns the web URL of the branch or pull request
func (b *Branch) URL(repo *Repository) string {
	if reNumeric.MatchString(b.BranchName()) {
		return fmt.Sprintf("https://%s/pull/%s", repo.Base(), b.BranchName())
	}
	return fmt.Sprintf("https://%s/tree/%s", repo.Base(), b.BranchName())
}

// SplitHeadLabel splits an "owner:branch" head label. ok is false when the
// label carries no owner qualifier.
func SplitHeadLabel(label string) (owner, branch string, ok bool) {
	i := strings.Index(label, ":")
	if i < 0 {
		return "", label, false
	}
	return label[:i], label[i+1:], true
}

// JobType selects which jobs a branch's builds run
type JobType string

const (
	JobTypeTesting JobType = "testing"
	JobTypeRunning JobType = "running"
	JobTypeAll     JobType = "all"
	JobTypeNone    JobType = "none" // Do not create builds
)

// IsValid checks if the job type value is valid
func (j JobType) IsValid() bool {
	switch j {
	case JobTypeTesting, JobTypeRunning, JobTypeAll, JobTypeNone:
		return true
	}
	return false
}

// PullInfo is the subset of PR metadata runbot needs
type PullInfo struct {
	Number    int    `json:"number"`
	HeadLabel string `json:"head_label"` // "owner:branch"
	BaseRef   string `json:"base_ref"`
	State     string `json:"state"` // "open" or "closed"
}

// IsOpen reports whether the pull request is open
func (p *PullInfo) IsOpen() bool {
	return p != nil && p.State == "open"
}

// BranchFilter selects branches in catalog queries. Zero values do not filter.
// Results are always ordered by id descending.
type BranchFilter struct {
	RepositoryIDs []int64
	Name          string // Exact ref name
	NamePrefix    string // Ref name prefix, e.g. "refs/heads/10"
	BranchName    string // Last path segment
	PullHeadName  string
	OnlyHeads     bool // refs/heads/ only
	OnlyPulls     bool // refs/pull/ only
	NoPullHead    bool // PullHeadName must be empty
	Limit         int
}

// Matches reports whether b satisfies the filter. Stores without a query
// language (the in-memory store) use it directly.
func (f BranchFilter) Matches(b *Branch) bool {
	if len(f.RepositoryIDs) > 0 && !containsID(f.RepositoryIDs, b.RepositoryID) {
		return false
	}
	if f.Name != "" && b.Name != f.Name {
		return false
	}
	if f.NamePrefix != "" && !strings.HasPrefix(b.Name, f.NamePrefix) {
		return false
	}
	if f.BranchName != "" && b.BranchName() != f.BranchName {
		return false
	}
	if f.PullHeadName != "" && b.PullHeadName != f.PullHeadName {
		return false
	}
	if f.OnlyHeads && !b.IsHead() {
		return false
	}
	if f.OnlyPulls && !b.IsPull() {
		return false
	}
	if f.NoPullHead && b.PullHeadName != "" {
		return false
	}
	return true
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
