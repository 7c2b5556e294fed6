package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/steveyegge/runbot/internal/types"
)

const buildColumns = `id, branch_id, repository_id, revision, state, result, job_type,
	fingerprint, dependencies, duplicate_of, created_at, updated_at`

// CreateBuild inserts build and assigns its id. RepositoryID is copied from the branch.
func (s *PostgresStorage) CreateBuild(ctx context.Context, build *types.Build) error {
	if err := build.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	deps, err := encodeDeps(build.Dependencies)
	if err != nil {
		return err
	}
	now := time.Now()
	if build.CreatedAt.IsZero() {
		build.CreatedAt = now
	}
	build.UpdatedAt = now

	err = s.pool.QueryRow(ctx, `
		INSERT INTO builds (
			branch_id, repository_id, revision, state, result, job_type,
			fingerprint, dependencies, duplicate_of, created_at, updated_at
		)
		SELECT $1, b.repository_id, $2, $3, $4, $5, $6, $7, $8, $9, $10
		FROM branches b WHERE b.id = $1
		RETURNING id, repository_id
	`,
		build.BranchID, build.Revision, string(build.State), string(build.Result),
		string(build.JobType), build.Fingerprint, deps, build.DuplicateOf,
		build.CreatedAt, build.UpdatedAt,
	).Scan(&build.ID, &build.RepositoryID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("branch %d: %w", build.BranchID, types.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to insert build: %w", err)
	}
	return nil
}

// GetBuild retrieves a build by id
func (s *PostgresStorage) GetBuild(ctx context.Context, id int64) (*types.Build, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+buildColumns+` FROM builds WHERE id = $1`, id)
	build, err := scanBuild(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("build %d: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get build: %w", err)
	}
	return build, nil
}

// UpdateBuilds writes every build in one transaction
func (s *PostgresStorage) UpdateBuilds(ctx context.Context, builds ...*types.Build) error {
	for _, b := range builds {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("validation failed for build %d: %w", b.ID, err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now()
	for _, b := range builds {
		deps, err := encodeDeps(b.Dependencies)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE builds SET
				state = $1, result = $2, job_type = $3, fingerprint = $4,
				dependencies = $5, duplicate_of = $6, updated_at = $7
			WHERE id = $8
		`,
			string(b.State), string(b.Result), string(b.JobType), b.Fingerprint,
			deps, b.DuplicateOf, now, b.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update build %d: %w", b.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("build %d: %w", b.ID, types.ErrNotFound)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	for _, b := range builds {
		b.UpdatedAt = now
	}
	return nil
}

// FindBuilds returns builds matching filter, most recent first
func (s *PostgresStorage) FindBuilds(ctx context.Context, filter types.BuildFilter) ([]*types.Build, error) {
	var w where
	if len(filter.RepositoryIDs) > 0 {
		w.add("repository_id = ANY(" + w.next(filter.RepositoryIDs) + ")")
	}
	if filter.BranchID != 0 {
		w.add("branch_id = " + w.next(filter.BranchID))
	}
	if filter.Revision != "" {
		w.add("revision = " + w.next(filter.Revision))
	}
	if filter.Fingerprint != "" {
		w.add("fingerprint = " + w.next(filter.Fingerprint))
	}
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, st := range filter.States {
			states[i] = string(st)
		}
		w.add("state = ANY(" + w.next(states) + ")")
	}
	if filter.DuplicateOf != 0 {
		w.add("duplicate_of = " + w.next(filter.DuplicateOf))
	}
	if filter.ExcludeID != 0 {
		w.add("id <> " + w.next(filter.ExcludeID))
	}
	if filter.ExcludeDuplicates {
		w.add("duplicate_of = 0")
	}

	query := `SELECT ` + buildColumns + ` FROM builds` + w.String() + ` ORDER BY id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + w.next(filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, w.args...)
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

func encodeDeps(deps []types.BuildDependency) (string, error) {
	if deps == nil {
		deps = []types.BuildDependency{}
	}
	data, err := json.Marshal(deps)
	if err != nil {
		return "", fmt.Errorf("failed to encode dependencies: %w", err)
	}
	return string(data), nil
}

func scanBuild(row pgx.Row) (*types.Build, error) {
	var b types.Build
	var state, result, jobType string
	var deps []byte
	if err := row.Scan(
		&b.ID, &b.BranchID, &b.RepositoryID, &b.Revision, &state, &result, &jobType,
		&b.Fingerprint, &deps, &b.DuplicateOf, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	b.State = types.BuildState(state)
	b.Result = types.BuildResult(result)
	b.JobType = types.JobType(jobType)
	if len(deps) > 0 && string(deps) != "[]" {
		if err := json.Unmarshal(deps, &b.Dependencies); err != nil {
			return nil, fmt.Errorf("failed to decode dependencies of build %d: %w", b.ID, err)
		}
	}
	return &b, nil
}
