// Package types holds the domain model shared by the catalog, the closest-branch
// resolver and the build deduplication engine.
package types

import "fmt"

// MatchKind records which resolution tier produced a closest branch.
// It is reported for observability and tests; callers must not branch on it.
type MatchKind string

const (
	MatchExact   MatchKind = "exact"
	MatchExactPR MatchKind = "exact-pr"
	MatchPrefix  MatchKind = "prefix"
	MatchNoPR    MatchKind = "no-pr"
	MatchDefault MatchKind = "default"
)

// IsValid checks if the match kind value is valid
func (m MatchKind) IsValid() bool {
	switch m {
	case MatchExact, MatchExactPR, MatchPrefix, MatchNoPR, MatchDefault:
		return true
	}
	return false
}

// ClosestBranch is the resolver's answer: which ref of which repository
// corresponds to a source branch.
type ClosestBranch struct {
	RepositoryID int64     `json:"repository_id"`
	RefName      string    `json:"ref_name"`
	Kind         MatchKind `json:"match_kind"`

	// BranchID is the catalog row the answer came from (0 if it was not cataloged)
	BranchID int64 `json:"branch_id,omitempty"`
}

func (c ClosestBranch) String() string {
	return fmt.Sprintf("(%d, %s, %s)", c.RepositoryID, c.RefName, c.Kind)
}

// Equal compares the (repository, ref, kind) triple, ignoring the catalog row id
func (c ClosestBranch) Equal(o ClosestBranch) bool {
	return c.RepositoryID == o.RepositoryID && c.RefName == o.RefName && c.Kind == o.Kind
}
