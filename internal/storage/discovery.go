package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDir is the per-project directory holding the catalog database
	DefaultDir = ".runbot"

	// DefaultPath is the catalog database path relative to the project root
	DefaultPath = DefaultDir + "/runbot.db"
)

// DiscoverDatabase returns the catalog database path.
//
// RUNBOT_DB_PATH wins when set, which keeps tests and scratch runs isolated.
// Otherwise the current directory's .runbot/runbot.db is used; it does not
// have to exist yet, sqlite.New creates it.
func DiscoverDatabase() (string, error) {
	if dbPath := os.Getenv("RUNBOT_DB_PATH"); dbPath != "" {
		// Allow special values like ":memory:" or explicit paths
		return dbPath, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return discoverDatabaseInDir(dir)
}

// discoverDatabaseInDir checks the given directory only and does not walk up
// the tree, so a nested checkout never picks up a parent project's catalog.
func discoverDatabaseInDir(dir string) (string, error) {
	runbotDir := filepath.Join(dir, DefaultDir)
	if info, err := os.Stat(runbotDir); err == nil && !info.IsDir() {
		return "", fmt.Errorf("%s exists but is not a directory", runbotDir)
	}

	absPath, err := filepath.Abs(filepath.Join(dir, DefaultPath))
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	return absPath, nil
}
