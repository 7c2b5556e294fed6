package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/steveyegge/runbot/internal/types"
)

const buildColumns = `id, branch_id, repository_id, revision, state, result, job_type,
	fingerprint, dependencies, duplicate_of, created_at, updated_at`

// CreateBuild inserts build and assigns its id. RepositoryID is copied from the branch.
func (s *SQLiteStorage) CreateBuild(ctx context.Context, build *types.Build) error {
	if err := build.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	deps, err := json.Marshal(nonNilDeps(build.Dependencies))
	if err != nil {
		return fmt.Errorf("failed to encode dependencies: %w", err)
	}

	now := time.Now()
	if build.CreatedAt.IsZero() {
		build.CreatedAt = now
	}
	build.UpdatedAt = now

	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		var repoID int64
		err := conn.QueryRowContext(ctx, `SELECT repository_id FROM branches WHERE id = ?`, build.BranchID).Scan(&repoID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("branch %d: %w", build.BranchID, types.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to look up branch: %w", err)
		}
		build.RepositoryID = repoID

		res, err := conn.ExecContext(ctx, `
			INSERT INTO builds (
				branch_id, repository_id, revision, state, result, job_type,
				fingerprint, dependencies, duplicate_of, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			build.BranchID, build.RepositoryID, build.Revision, string(build.State),
			string(build.Result), string(build.JobType), build.Fingerprint, string(deps),
			build.DuplicateOf, formatTime(build.CreatedAt), formatTime(build.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert build: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get build id: %w", err)
		}
		build.ID = id
		return nil
	})
}

// GetBuild retrieves a build by id
func (s *SQLiteStorage) GetBuild(ctx context.Context, id int64) (*types.Build, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+buildColumns+` FROM builds WHERE id = ?`, id)
	build, err := scanBuild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("build %d: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get build: %w", err)
	}
	return build, nil
}

// UpdateBuilds writes every build in one IMMEDIATE transaction
func (s *SQLiteStorage) UpdateBuilds(ctx context.Context, builds ...*types.Build) error {
	for _, b := range builds {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("validation failed for build %d: %w", b.ID, err)
		}
	}
	now := time.Now()

	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		for _, b := range builds {
			deps, err := json.Marshal(nonNilDeps(b.Dependencies))
			if err != nil {
				return fmt.Errorf("failed to encode dependencies: %w", err)
			}
			res, err := conn.ExecContext(ctx, `
				UPDATE builds SET
					state = ?, result = ?, job_type = ?, fingerprint = ?,
					dependencies = ?, duplicate_of = ?, updated_at = ?
				WHERE id = ?
			`,
				string(b.State), string(b.Result), string(b.JobType), b.Fingerprint,
				string(deps), b.DuplicateOf, formatTime(now), b.ID,
			)
			if err != nil {
				return fmt.Errorf("failed to update build %d: %w", b.ID, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("build %d: %w", b.ID, types.ErrNotFound)
			}
		}
		for _, b := range builds {
			b.UpdatedAt = now
		}
		return nil
	})
}

// FindBuilds returns builds matching filter, most recent first
func (s *SQLiteStorage) FindBuilds(ctx context.Context, filter types.BuildFilter) ([]*types.Build, error) {
	var w where
	if len(filter.RepositoryIDs) > 0 {
		w.addIn("repository_id", int64sToAny(filter.RepositoryIDs))
	}
	if filter.BranchID != 0 {
		w.add("branch_id = ?", filter.BranchID)
	}
	if filter.Revision != "" {
		w.add("revision = ?", filter.Revision)
	}
	if filter.Fingerprint != "" {
		w.add("fingerprint = ?", filter.Fingerprint)
	}
	if len(filter.States) > 0 {
		states := make([]any, len(filter.States))
		for i, st := range filter.States {
			states[i] = string(st)
		}
		w.addIn("state", states)
	}
	if filter.DuplicateOf != 0 {
		w.add("duplicate_of = ?", filter.DuplicateOf)
	}
	if filter.ExcludeID != 0 {
		w.add("id != ?", filter.ExcludeID)
	}
	if filter.ExcludeDuplicates {
		w.add("duplicate_of = 0")
	}

	query := `SELECT ` + buildColumns + ` FROM builds` + w.String() + ` ORDER BY id DESC`
	args := w.args
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find builds: %w", err)
	}
	defer rows.Close()

	var builds []*types.Build
	for rows.Next() {
		build, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan build: %w", err)
		}
		builds = append(builds, build)
	}
	return builds, rows.Err()
}

func scanBuild(row scanner) (*types.Build, error) {
	var b types.Build
	var state, result, jobType, deps, createdAt, updatedAt string
	if err := row.Scan(
		&b.ID, &b.BranchID, &b.RepositoryID, &b.Revision, &state, &result, &jobType,
		&b.Fingerprint, &deps, &b.DuplicateOf, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	b.State = types.BuildState(state)
	b.Result = types.BuildResult(result)
	b.JobType = types.JobType(jobType)
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	if deps != "" && deps != "[]" {
		if err := json.Unmarshal([]byte(deps), &b.Dependencies); err != nil {
			return nil, fmt.Errorf("failed to decode dependencies of build %d: %w", b.ID, err)
		}
	}
	return &b, nil
}

func nonNilDeps(deps []types.BuildDependency) []types.BuildDependency {
	if deps == nil {
		return []types.BuildDependency{}
	}
	return deps
}
