package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/steveyegge/runbot/internal/types"
)

const branchColumns = `id, repository_id, name, sticky, coverage, priority, job_type,
	pull_head_name, target_branch_name, created_at, updated_at`

// CreateBranch inserts branch and assigns its id
func (s *PostgresStorage) CreateBranch(ctx context.Context, branch *types.Branch) error {
	if err := branch.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	now := time.Now()
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = now
	}
	branch.UpdatedAt = now

	err := s.pool.QueryRow(ctx, `
		INSERT INTO branches (
			repository_id, name, branch_name, sticky, coverage, priority, job_type,
			pull_head_name, target_branch_name, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`,
		branch.RepositoryID, branch.Name, branch.BranchName(), branch.Sticky, branch.Coverage,
		branch.Priority, string(branch.JobType), branch.PullHeadName, branch.TargetBranchName,
		branch.CreatedAt, branch.UpdatedAt,
	).Scan(&branch.ID)
	if err != nil {
		return fmt.Errorf("failed to insert branch: %w", err)
	}
	return nil
}

// GetBranch retrieves a branch by id
func (s *PostgresStorage) GetBranch(ctx context.Context, id int64) (*types.Branch, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+branchColumns+` FROM branches WHERE id = $1`, id)
	branch, err := scanBranch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("branch %d: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get branch: %w", err)
	}
	return branch, nil
}

// GetOrCreateBranch returns the (repoID, name) branch, creating it if missing.
// ON CONFLICT DO NOTHING lets concurrent callers race on the insert; the
// loser reads the winner's row.
func (s *PostgresStorage) GetOrCreateBranch(ctx context.Context, repoID int64, name string) (*types.Branch, bool, error) {
	branch := types.NewBranch(repoID, name)
	if err := branch.Validate(); err != nil {
		return nil, false, fmt.Errorf("validation failed: %w", err)
	}
	now := time.Now()

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO branches (
			repository_id, name, branch_name, coverage, job_type, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (repository_id, name) DO NOTHING
		RETURNING id
	`, repoID, name, branch.BranchName(), branch.Coverage, string(branch.JobType), now).Scan(&id)
	if err == nil {
		branch.ID = id
		branch.CreatedAt = now
		branch.UpdatedAt = now
		return branch, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert branch: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+branchColumns+` FROM branches WHERE repository_id = $1 AND name = $2`, repoID, name)
	existing, err := scanBranch(row)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read existing branch: %w", err)
	}
	return existing, false, nil
}

// UpdateBranch writes all mutable branch fields
func (s *PostgresStorage) UpdateBranch(ctx context.Context, branch *types.Branch) error {
	if err := branch.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	branch.UpdatedAt = time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE branches SET
			sticky = $1, coverage = $2, priority = $3, job_type = $4,
			pull_head_name = $5, target_branch_name = $6, updated_at = $7
		WHERE id = $8
	`,
		branch.Sticky, branch.Coverage, branch.Priority, string(branch.JobType),
		branch.PullHeadName, branch.TargetBranchName, branch.UpdatedAt, branch.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update branch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("branch %d: %w", branch.ID, types.ErrNotFound)
	}
	return nil
}

// FindBranches returns branches matching filter, most recent first
func (s *PostgresStorage) FindBranches(ctx context.Context, filter types.BranchFilter) ([]*types.Branch, error) {
	var w where
	if len(filter.RepositoryIDs) > 0 {
		w.add("repository_id = ANY(" + w.next(filter.RepositoryIDs) + ")")
	}
	if filter.Name != "" {
		w.add("name = " + w.next(filter.Name))
	}
	if filter.NamePrefix != "" {
		w.add("starts_with(name, " + w.next(filter.NamePrefix) + ")")
	}
	if filter.BranchName != "" {
		w.add("branch_name = " + w.next(filter.BranchName))
	}
	if filter.PullHeadName != "" {
		w.add("pull_head_name = " + w.next(filter.PullHeadName))
	}
	if filter.OnlyHeads {
		w.add("starts_with(name, " + w.next(types.HeadsPrefix) + ")")
	}
	if filter.OnlyPulls {
		w.add("starts_with(name, " + w.next(types.PullPrefix) + ")")
	}
	if filter.NoPullHead {
		w.add("pull_head_name = ''")
	}

	query := `SELECT ` + branchColumns + ` FROM branches` + w.String() + ` ORDER BY id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + w.next(filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find branches: %w", err)
	}
	defer rows.Close()

	var branches []*types.Branch
	for rows.Next() {
		branch, err := scanBranch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan branch: %w", err)
		}
		branches = append(branches, branch)
	}
	return branches, rows.Err()
}

func scanBranch(row pgx.Row) (*types.Branch, error) {
	var b types.Branch
	var jobType string
	if err := row.Scan(
		&b.ID, &b.RepositoryID, &b.Name, &b.Sticky, &b.Coverage, &b.Priority, &jobType,
		&b.PullHeadName, &b.TargetBranchName, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	b.JobType = types.JobType(jobType)
	return &b, nil
}
