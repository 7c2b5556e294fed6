package postgres

const schema = `
CREATE TABLE IF NOT EXISTS repositories (
    id BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    duplicate_id BIGINT NOT NULL DEFAULT 0,
    token TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS repository_dependencies (
    repository_id BIGINT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
    dependency_id BIGINT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    PRIMARY KEY (repository_id, dependency_id)
);

CREATE TABLE IF NOT EXISTS branches (
    id BIGSERIAL PRIMARY KEY,
    repository_id BIGINT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    branch_name TEXT NOT NULL,
    sticky BOOLEAN NOT NULL DEFAULT FALSE,
    coverage BOOLEAN NOT NULL DEFAULT FALSE,
    priority BOOLEAN NOT NULL DEFAULT FALSE,
    job_type TEXT NOT NULL DEFAULT 'all',
    pull_head_name TEXT NOT NULL DEFAULT '',
    target_branch_name TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (repository_id, name)
);

CREATE INDEX IF NOT EXISTS idx_branches_branch_name ON branches(branch_name);
CREATE INDEX IF NOT EXISTS idx_branches_pull_head ON branches(pull_head_name);

CREATE TABLE IF NOT EXISTS builds (
    id BIGSERIAL PRIMARY KEY,
    branch_id BIGINT NOT NULL REFERENCES branches(id) ON DELETE CASCADE,
    repository_id BIGINT NOT NULL,
    revision TEXT NOT NULL,
    state TEXT NOT NULL DEFAULT 'pending',
    result TEXT NOT NULL DEFAULT '',
    job_type TEXT NOT NULL DEFAULT 'all',
    fingerprint TEXT NOT NULL DEFAULT '',
    dependencies JSONB NOT NULL DEFAULT '[]',
    duplicate_of BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_builds_branch ON builds(branch_id);
CREATE INDEX IF NOT EXISTS idx_builds_repository_state ON builds(repository_id, state);
CREATE INDEX IF NOT EXISTS idx_builds_fingerprint ON builds(fingerprint, state);
CREATE INDEX IF NOT EXISTS idx_builds_duplicate_of ON builds(duplicate_of);
`
