package sqlite

const schema = `
-- Repositories table
CREATE TABLE IF NOT EXISTS repositories (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    duplicate_id INTEGER NOT NULL DEFAULT 0,
    token TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);

-- Ordered dependency list of a repository
CREATE TABLE IF NOT EXISTS repository_dependencies (
    repository_id INTEGER NOT NULL,
    dependency_id INTEGER NOT NULL,
    position INTEGER NOT NULL,
    PRIMARY KEY (repository_id, dependency_id),
    FOREIGN KEY (repository_id) REFERENCES repositories(id) ON DELETE CASCADE,
    FOREIGN KEY (dependency_id) REFERENCES repositories(id) ON DELETE CASCADE
);

-- Branches table (plain branches and pull requests)
CREATE TABLE IF NOT EXISTS branches (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    repository_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    branch_name TEXT NOT NULL,
    sticky INTEGER NOT NULL DEFAULT 0,
    coverage INTEGER NOT NULL DEFAULT 0,
    priority INTEGER NOT NULL DEFAULT 0,
    job_type TEXT NOT NULL DEFAULT 'all',
    pull_head_name TEXT NOT NULL DEFAULT '',
    target_branch_name TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    UNIQUE (repository_id, name),
    FOREIGN KEY (repository_id) REFERENCES repositories(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_branches_branch_name ON branches(branch_name);

-- Builds table
CREATE TABLE IF NOT EXISTS builds (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    branch_id INTEGER NOT NULL,
    repository_id INTEGER NOT NULL,
    revision TEXT NOT NULL,
    state TEXT NOT NULL DEFAULT 'pending',
    result TEXT NOT NULL DEFAULT '',
    job_type TEXT NOT NULL DEFAULT 'all',
    fingerprint TEXT NOT NULL DEFAULT '',
    dependencies TEXT NOT NULL DEFAULT '[]',
    duplicate_of INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    FOREIGN KEY (branch_id) REFERENCES branches(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_builds_branch ON builds(branch_id);
CREATE INDEX IF NOT EXISTS idx_builds_repository_state ON builds(repository_id, state);
CREATE INDEX IF NOT EXISTS idx_builds_duplicate_of ON builds(duplicate_of);
`
