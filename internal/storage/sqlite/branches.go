package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/steveyegge/runbot/internal/types"
)

const branchColumns = `id, repository_id, name, sticky, coverage, priority, job_type,
	pull_head_name, target_branch_name, created_at, updated_at`

// CreateBranch inserts branch and assigns its id
func (s *SQLiteStorage) CreateBranch(ctx context.Context, branch *types.Branch) error {
	if err := branch.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return insertBranch(ctx, s.db, branch)
}

func insertBranch(ctx context.Context, q querier, branch *types.Branch) error {
	now := time.Now()
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = now
	}
	branch.UpdatedAt = now

	res, err := q.ExecContext(ctx, `
		INSERT INTO branches (
			repository_id, name, branch_name, sticky, coverage, priority, job_type,
			pull_head_name, target_branch_name, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		branch.RepositoryID, branch.Name, branch.BranchName(),
		boolToInt(branch.Sticky), boolToInt(branch.Coverage), boolToInt(branch.Priority),
		string(branch.JobType), branch.PullHeadName, branch.TargetBranchName,
		formatTime(branch.CreatedAt), formatTime(branch.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert branch: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get branch id: %w", err)
	}
	branch.ID = id
	return nil
}

// GetBranch retrieves a branch by id
func (s *SQLiteStorage) GetBranch(ctx context.Context, id int64) (*types.Branch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+branchColumns+` FROM branches WHERE id = ?`, id)
	branch, err := scanBranch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("branch %d: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get branch: %w", err)
	}
	return branch, nil
}

// GetOrCreateBranch returns the (repoID, name) branch, creating it if missing.
// The lookup and insert share one IMMEDIATE transaction so concurrent
// callers agree on a single row.
func (s *SQLiteStorage) GetOrCreateBranch(ctx context.Context, repoID int64, name string) (*types.Branch, bool, error) {
	var branch *types.Branch
	created := false

	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx,
			`SELECT `+branchColumns+` FROM branches WHERE repository_id = ? AND name = ?`, repoID, name)
		existing, err := scanBranch(row)
		if err == nil {
			branch = existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to look up branch: %w", err)
		}

		branch = types.NewBranch(repoID, name)
		if err := branch.Validate(); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		if err := insertBranch(ctx, conn, branch); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return branch, created, nil
}

// UpdateBranch writes all mutable branch fields
func (s *SQLiteStorage) UpdateBranch(ctx context.Context, branch *types.Branch) error {
	if err := branch.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	branch.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE branches SET
			sticky = ?, coverage = ?, priority = ?, job_type = ?,
			pull_head_name = ?, target_branch_name = ?, updated_at = ?
		WHERE id = ?
	`,
		boolToInt(branch.Sticky), boolToInt(branch.Coverage), boolToInt(branch.Priority),
		string(branch.JobType), branch.PullHeadName, branch.TargetBranchName,
		formatTime(branch.UpdatedAt), branch.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update branch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("branch %d: %w", branch.ID, types.ErrNotFound)
	}
	return nil
}

// FindBranches returns branches matching filter, most recent first
func (s *SQLiteStorage) FindBranches(ctx context.Context, filter types.BranchFilter) ([]*types.Branch, error) {
	var w where
	if len(filter.RepositoryIDs) > 0 {
		w.addIn("repository_id", int64sToAny(filter.RepositoryIDs))
	}
	if filter.Name != "" {
		w.add("name = ?", filter.Name)
	}
	if filter.NamePrefix != "" {
		w.add("substr(name, 1, length(?)) = ?", filter.NamePrefix, filter.NamePrefix)
	}
	if filter.BranchName != "" {
		w.add("branch_name = ?", filter.BranchName)
	}
	if filter.PullHeadName != "" {
		w.add("pull_head_name = ?", filter.PullHeadName)
	}
	if filter.OnlyHeads {
		w.add("substr(name, 1, length(?)) = ?", types.HeadsPrefix, types.HeadsPrefix)
	}
	if filter.OnlyPulls {
		w.add("substr(name, 1, length(?)) = ?", types.PullPrefix, types.PullPrefix)
	}
	if filter.NoPullHead {
		w.add("pull_head_name = ''")
	}

	query := `SELECT ` + branchColumns + ` FROM branches` + w.String() + ` ORDER BY id DESC`
	args := w.args
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanBranch(row scanner) (*types.Branch, error) {
	var b types.Branch
	var sticky, coverage, priority int
	var jobType, createdAt, updatedAt string
	if err := row.Scan(
		&b.ID, &b.RepositoryID, &b.Name, &sticky, &coverage, &priority, &jobType,
		&b.PullHeadName, &b.TargetBranchName, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	b.Sticky = sticky != 0
	b.Coverage = coverage != 0
	b.Priority = priority != 0
	b.JobType = types.JobType(jobType)
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}
