package types

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var reDestUnsafe = regexp.MustCompile(`[^a-zA-Z0-9\-_]`)

// Build is one build of a branch at a given revision
type Build struct {
	ID           int64  `json:"id"`
	BranchID     int64  `json:"branch_id"`
	RepositoryID int64  `json:"repository_id"` // Denormalized from the branch
	Revision     string `json:"revision"`      // Commit hash

	State   BuildState  `json:"state"`
	Result  BuildResult `json:"result,omitempty"`
	JobType JobType     `json:"job_type"`

	// Fingerprint is the composite key used for duplicate detection.
	// Empty until computed; never set when a dependency revision is unknown.
	Fingerprint string `json:"fingerprint,omitempty"`

	// Dependencies records the closest branch resolved for each dependency repository
	Dependencies []BuildDependency `json:"dependencies,omitempty"`

	// DuplicateOf is the id of the build this one duplicates (0 = none)
	DuplicateOf int64 `json:"duplicate_of,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks if the build has valid field values
func (b *Build) Validate() error {
	if b.BranchID == 0 {
		return fmt.Errorf("branch_id is required")
	}
	if strings.TrimSpace(b.Revision) == "" {
		return fmt.Errorf("revision is required")
	}
	if !b.State.IsValid() {
		return fmt.Errorf("invalid state: %s", b.State)
	}
	if !b.Result.IsValid() {
		return fmt.Errorf("invalid result: %s", b.Result)
	}
	if b.State == BuildDuplicate && b.DuplicateOf == 0 {
		return fmt.Errorf("duplicate_of must be set when state is duplicate")
	}
	if b.DuplicateOf != 0 && b.DuplicateOf == b.ID {
		return fmt.Errorf("build %d cannot be a duplicate of itself", b.ID)
	}
	return nil
}

// Sequence is the build's creation order
func (b *Build) Sequence() int64 {
	return b.ID
}

// Dest returns the build's working name: "<id>-<branch>-<revision prefix>"
func (b *Build) Dest(branch *Branch) string {
	name := reDestUnsafe.ReplaceAllString(branch.BranchName(), "-")
	if len(name) > 32 {
		name = name[:32]
	}
	rev := b.Revision
	if len(rev) > 6 {
		rev = rev[:6]
	}
	return fmt.Sprintf("%05d-%s-%s", b.ID, name, rev)
}

// IsDuplicate reports whether the build is a duplicate of another one
func (b *Build) IsDuplicate() bool {
	return b.State == BuildDuplicate
}

// BuildDependency is the closest branch and revision resolved for one dependency repository
type BuildDependency struct {
	RepositoryID int64         `json:"repository_id"` // Dependency repository
	Closest      ClosestBranch `json:"closest"`
	Revision     string        `json:"revision,omitempty"` // Empty when the lookup failed
}

// BuildState is the lifecycle state of a build
type BuildState string

const (
	BuildPending   BuildState = "pending"
	BuildTesting   BuildState = "testing"
	BuildRunning   BuildState = "running"
	BuildDone      BuildState = "done"
	BuildDuplicate BuildState = "duplicate" // Terminal, always paired with DuplicateOf
)

// IsValid checks if the build state value is valid
func (s BuildState) IsValid() bool {
	switch s {
	case BuildPending, BuildTesting, BuildRunning, BuildDone, BuildDuplicate:
		return true
	}
	return false
}

// IsTerminal reports whether the state can no longer change
func (s BuildState) IsTerminal() bool {
	return s == BuildDone || s == BuildDuplicate
}

// ActiveBuildStates are the states a duplicate can be linked to
var ActiveBuildStates = []BuildState{BuildPending, BuildTesting, BuildRunning}

// BuildResult is the outcome of a finished build
type BuildResult string

const (
	ResultNone    BuildResult = ""
	ResultOK      BuildResult = "ok"
	ResultKO      BuildResult = "ko"
	ResultWarn    BuildResult = "warn"
	ResultSkipped BuildResult = "skipped"
	ResultKilled  BuildResult = "killed"
)

// IsValid checks if the build result value is valid
func (r BuildResult) IsValid() bool {
	switch r {
	case ResultNone, ResultOK, ResultKO, ResultWarn, ResultSkipped, ResultKilled:
		return true
	}
	return false
}

// BuildFilter selects builds. Zero values do not filter.
// Results are always ordered by id descending (most recent first).
type BuildFilter struct {
	RepositoryIDs     []int64
	BranchID          int64
	Revision          string
	Fingerprint       string
	States            []BuildState
	DuplicateOf       int64
	ExcludeID         int64
	ExcludeDuplicates bool // DuplicateOf must be 0
	Limit             int
}

// Matches reports whether b satisfies the filter
func (f BuildFilter) Matches(b *Build) bool {
	if len(f.RepositoryIDs) > 0 && !containsID(f.RepositoryIDs, b.RepositoryID) {
		return false
	}
	if f.BranchID != 0 && b.BranchID != f.BranchID {
		return false
	}
	if f.Revision != "" && b.Revision != f.Revision {
		return false
	}
	if f.Fingerprint != "" && b.Fingerprint != f.Fingerprint {
		return false
	}
	if len(f.States) > 0 {
		found := false
		for _, s := range f.States {
			if s == b.State {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.DuplicateOf != 0 && b.DuplicateOf != f.DuplicateOf {
		return false
	}
	if f.ExcludeID != 0 && b.ID == f.ExcludeID {
		return false
	}
	if f.ExcludeDuplicates && b.DuplicateOf != 0 {
		return false
	}
	return true
}
