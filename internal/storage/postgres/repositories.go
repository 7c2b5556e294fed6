package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/steveyegge/runbot/internal/types"
)

// CreateRepository inserts repo and its dependency list and assigns its id
func (s *PostgresStorage) CreateRepository(ctx context.Context, repo *types.Repository) error {
	if err := repo.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = time.Now()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO repositories (name, duplicate_id, token, created_at)
		VALUES ($1, $2, $3, $4) RETURNING id
	`, repo.Name, repo.DuplicateID, repo.Token, repo.CreatedAt).Scan(&repo.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("repository %s already exists", repo.Name)
		}
		return fmt.Errorf("failed to insert repository: %w", err)
	}

	if err := writeDependencies(ctx, tx, repo); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func writeDependencies(ctx context.Context, tx pgx.Tx, repo *types.Repository) error {
	if _, err := tx.Exec(ctx, `DELETE FROM repository_dependencies WHERE repository_id = $1`, repo.ID); err != nil {
		return fmt.Errorf("failed to clear dependencies: %w", err)
	}
	for pos, dep := range repo.DependencyIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO repository_dependencies (repository_id, dependency_id, position)
			VALUES ($1, $2, $3)
		`, repo.ID, dep, pos); err != nil {
			return fmt.Errorf("failed to insert dependency %d: %w", dep, err)
		}
	}
	return nil
}

// GetRepository retrieves a repository by id
func (s *PostgresStorage) GetRepository(ctx context.Context, id int64) (*types.Repository, error) {
	return s.getRepository(ctx, `WHERE id = $1`, id)
}

// GetRepositoryByName retrieves a repository by remote name
func (s *PostgresStorage) GetRepositoryByName(ctx context.Context, name string) (*types.Repository, error) {
	return s.getRepository(ctx, `WHERE name = $1`, name)
}

func (s *PostgresStorage) getRepository(ctx context.Context, cond string, arg any) (*types.Repository, error) {
	var repo types.Repository
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, duplicate_id, token, created_at FROM repositories `+cond, arg,
	).Scan(&repo.ID, &repo.Name, &repo.DuplicateID, &repo.Token, &repo.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("repository %v: %w", arg, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}

	deps, err := s.loadDependencies(ctx, []int64{repo.ID})
	if err != nil {
		return nil, err
	}
	repo.DependencyIDs = deps[repo.ID]
	return &repo, nil
}

// ListRepositories returns all repositories ordered by id
func (s *PostgresStorage) ListRepositories(ctx context.Context) ([]*types.Repository, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, duplicate_id, token, created_at FROM repositories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer rows.Close()

	var repos []*types.Repository
	var ids []int64
	for rows.Next() {
		var repo types.Repository
		if err := rows.Scan(&repo.ID, &repo.Name, &repo.DuplicateID, &repo.Token, &repo.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan repository: %w", err)
		}
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

func (s *PostgresStorage) loadDependencies(ctx context.Context, repoIDs []int64) (map[int64][]int64, error) {
	result := make(map[int64][]int64, len(repoIDs))
	if len(repoIDs) == 0 {
		return result, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT repository_id, dependency_id FROM repository_dependencies
		WHERE repository_id = ANY($1) ORDER BY repository_id, position
	`, repoIDs)
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
func (s *PostgresStorage) UpdateRepository(ctx context.Context, repo *types.Repository) error {
	if err := repo.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE repositories SET name = $1, duplicate_id = $2, token = $3 WHERE id = $4
	`, repo.Name, repo.DuplicateID, repo.Token, repo.ID)
	if err != nil {
		return fmt.Errorf("failed to update repository: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repository %d: %w", repo.ID, types.ErrNotFound)
	}
	if err := writeDependencies(ctx, tx, repo); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
