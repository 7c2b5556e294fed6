package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverDatabase_EnvOverride(t *testing.T) {
	t.Setenv("RUNBOT_DB_PATH", ":memory:")
	path, err := DiscoverDatabase()
	if err != nil {
		t.Fatalf("DiscoverDatabase with RUNBOT_DB_PATH=:memory: failed: %v", err)
	}
	if path != ":memory:" {
		t.Errorf("Expected :memory:, got %s", path)
	}

	t.Setenv("RUNBOT_DB_PATH", "/tmp/test.db")
	path, err = DiscoverDatabase()
	if err != nil {
		t.Fatalf("DiscoverDatabase with RUNBOT_DB_PATH=/tmp/test.db failed: %v", err)
	}
	if path != "/tmp/test.db" {
		t.Errorf("Expected /tmp/test.db, got %s", path)
	}
}

func TestDiscoverDatabaseInDir_CurrentDirOnly(t *testing.T) {
	tmpRoot := t.TempDir()
	childDir := filepath.Join(tmpRoot, "child")
	if err := os.MkdirAll(filepath.Join(tmpRoot, DefaultDir), 0755); err != nil {
		t.Fatalf("failed to create parent .runbot dir: %v", err)
	}
	if err := os.MkdirAll(childDir, 0755); err != nil {
		t.Fatalf("failed to create child dir: %v", err)
	}

	dbPath, err := discoverDatabaseInDir(childDir)
	if err != nil {
		t.Fatalf("discoverDatabaseInDir failed: %v", err)
	}
	if want := filepath.Join(childDir, DefaultPath); dbPath != want {
		t.Errorf("Expected %s, got %s", want, dbPath)
	}
}

func TestDiscoverDatabaseInDir_FileInTheWay(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, DefaultDir), []byte("x"), 0644); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	if _, err := discoverDatabaseInDir(dir); err == nil {
		t.Error("Expected error when .runbot is a regular file")
	}
}

func TestNewStorage_Backends(t *testing.T) {
	ctx := context.Background()

	store, err := NewStorage(ctx, &Config{Backend: BackendMemory})
	if err != nil {
		t.Fatalf("memory backend failed: %v", err)
	}
	_ = store.Close()

	store, err = NewStorage(ctx, &Config{Backend: BackendSQLite, Path: filepath.Join(t.TempDir(), "runbot.db")})
	if err != nil {
		t.Fatalf("sqlite backend failed: %v", err)
	}
	_ = store.Close()

	if _, err := NewStorage(ctx, &Config{Backend: "mongo"}); err == nil {
		t.Error("Expected error for unknown backend")
	}
}
