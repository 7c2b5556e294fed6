package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/steveyegge/runbot/internal/types"
)

// CreateRepository inserts repo and its dependency list and assigns its id
func (s *SQLiteStorage) CreateRepository(ctx context.Context, repo *types.Repository) error {
	if err := repo.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = time.Now()
	}

	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `
			INSERT INTO repositories (name, duplicate_id, token, created_at)
			VALUES (?, ?, ?, ?)
		`, repo.Name, repo.DuplicateID, repo.Token, formatTime(repo.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert repository: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get repository id: %w", err)
		}
		repo.ID = id
		return writeDependencies(ctx, conn, repo)
	})
}

func writeDependencies(ctx context.Context, q querier, repo *types.Repository) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM repository_dependencies WHERE repository_id = ?`, repo.ID); err != nil {
		return fmt.Errorf("failed to clear dependencies: %w", err)
	}
	for pos, dep := range repo.DependencyIDs {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO repository_dependencies (repository_id, dependency_id, position)
			VALUES (?, ?, ?)
		`, repo.ID, dep, pos); err != nil {
			return fmt.Errorf("failed to insert dependency %d: %w", dep, err)
		}
	}
	return nil
}

// GetRepository retrieves a repository by id
func (s *SQLiteStorage) GetRepository(ctx context.Context, id int64) (*types.Repository, error) {
	return s.getRepository(ctx, `WHERE id = ?`, id)
}

// GetRepositoryByName retrieves a repository by remote name
func (s *SQLiteStorage) GetRepositoryByName(ctx context.Context, name string) (*types.Repository, error) {
	return s.getRepository(ctx, `WHERE name = ?`, name)
}

func (s *SQLiteStorage) getRepository(ctx context.Context, cond string, arg any) (*types.Repository, error) {
	var repo types.Repository
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, duplicate_id, token, created_at FROM repositories `+cond, arg,
	).Scan(&repo.ID, &repo.Name, &repo.DuplicateID, &repo.Token, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("repository %v: %w", arg, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	repo.CreatedAt = parseTime(createdAt)

	deps, err := s.loadDependencies(ctx, []int64{repo.ID})
	if err != nil {
		return nil, err
	}
	repo.DependencyIDs = deps[repo.ID]
	return &repo, nil
}

// ListRepositories returns all repositories ordered by id
func (s *SQLiteStorage) ListRepositories(ctx context.Context) ([]*types.Repository, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, duplicate_id, token, created_at FROM repositories ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer rows.Close()

	var repos []*types.Repository
	var ids []int64
	for rows.Next() {
		var repo types.Repository
		var createdAt string
		if err := rows.Scan(&repo.ID, &repo.Name, &repo.DuplicateID, &repo.Token, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan repository: %w", err)
		}
		repo.CreatedAt = parseTime(createdAt)
		repos = append(repos, &repo)
		ids = append(ids, repo.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate repositories: %w", err)
	}

	deps, err := s.loadDependencies(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, repo := range repos {
		repo.DependencyIDs = deps[repo.ID]
	}
	return repos, nil
}

func (s *SQLiteStorage) loadDependencies(ctx context.Context, repoIDs []int64) (map[int64][]int64, error) {
	result := make(map[int64][]int64, len(repoIDs))
	if len(repoIDs) == 0 {
		return result, nil
	}
	var w where
	w.addIn("repository_id", int64sToAny(repoIDs))
	rows, err := s.db.QueryContext(ctx,
		`SELECT repository_id, dependency_id FROM repository_dependencies`+w.String()+` ORDER BY repository_id, position`,
		w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load dependencies: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var repoID, depID int64
		if err := rows.Scan(&repoID, &depID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		result[repoID] = append(result[repoID], depID)
	}
	return result, rows.Err()
}

// UpdateRepository writes the repository's mutable fields and dependency list
func (s *SQLiteStorage) UpdateRepository(ctx context.Context, repo *types.Repository) error {
	if err := repo.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `
			UPDATE repositories SET name = ?, duplicate_id = ?, token = ? WHERE id = ?
		`, repo.Name, repo.DuplicateID, repo.Token, repo.ID)
		if err != nil {
			return fmt.Errorf("failed to update repository: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("repository %d: %w", repo.ID, types.ErrNotFound)
		}
		return writeDependencies(ctx, conn, repo)
	})
}
