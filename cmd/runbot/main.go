package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/steveyegge/runbot/internal/catalog"
	"github.com/steveyegge/runbot/internal/config"
	"github.com/steveyegge/runbot/internal/deduplication"
	"github.com/steveyegge/runbot/internal/git"
	"github.com/steveyegge/runbot/internal/github"
	"github.com/steveyegge/runbot/internal/resolver"
	"github.com/steveyegge/runbot/internal/storage"
	"github.com/steveyegge/runbot/internal/storage/postgres"
)

var (
	envFile   string
	dbPath    string
	dbBackend string

	store storage.Storage
)

var rootCmd = &cobra.Command{
	Use:   "runbot",
	Short: "Branch resolution and build deduplication for multi-repository CI",
	Long: `runbot tracks the branches of a family of repositories (an official
repository, its development fork, and the repositories depending on them),
resolves which branch of each dependency a build should use, and links
builds that would produce the same result.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadEnvFile(envFile); err != nil {
			return err
		}
		s, err := openStorage(cmd.Context())
		if err != nil {
			return err
		}
		store = s
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			if err := store.Close(); err != nil {
				log.Printf("Warning: failed to close storage: %v", err)
			}
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before reading RUNBOT_* variables")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (default: RUNBOT_DB_PATH or .runbot/runbot.db)")
	rootCmd.PersistentFlags().StringVar(&dbBackend, "backend", "", "Storage backend: sqlite, postgres or memory (default: RUNBOT_STORAGE or sqlite)")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadEnvFile sets variables from path without overriding the environment.
// A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func openStorage(ctx context.Context) (storage.Storage, error) {
	cfg := storage.DefaultConfig()
	if v := os.Getenv("RUNBOT_STORAGE"); v != "" {
		cfg.Backend = v
	}
	if dbBackend != "" {
		cfg.Backend = dbBackend
	}

	switch cfg.Backend {
	case storage.BackendPostgres:
		pg, err := postgres.ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		cfg.Postgres = pg
	case storage.BackendSQLite:
		cfg.Path = dbPath
		if cfg.Path == "" {
			path, err := storage.DiscoverDatabase()
			if err != nil {
				return nil, fmt.Errorf("failed to discover database: %w", err)
			}
			cfg.Path = path
		}
	}

	s, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return s, nil
}

// services is everything a command needs beyond storage
type services struct {
	catalog  *catalog.Catalog
	checker  *git.Checker
	resolver *resolver.Resolver
	engine   *deduplication.Engine
}

func newServices(ctx context.Context) (*services, error) {
	remote, err := config.RemoteConfigFromEnv()
	if err != nil {
		return nil, err
	}
	dedupCfg, err := deduplication.ConfigFromEnv()
	if err != nil {
		return nil, err
	}

	ops, err := git.NewRemoteOperations(ctx, remote.Git)
	if err != nil {
		return nil, err
	}
	checker := git.NewChecker(ops, remote.Git)

	pulls, err := github.NewClient(remote.GitHub)
	if err != nil {
		return nil, err
	}

	cat := catalog.New(store, pulls)
	res := resolver.New(cat, checker)
	engine, err := deduplication.NewEngine(store, res, checker, dedupCfg)
	if err != nil {
		return nil, err
	}
	return &services{catalog: cat, checker: checker, resolver: res, engine: engine}, nil
}
