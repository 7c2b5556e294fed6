package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/runbot/internal/catalog"
	"github.com/steveyegge/runbot/internal/config"
	"github.com/steveyegge/runbot/internal/types"
)

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "List tracked repositories with their links",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		repos, err := store.ListRepositories(ctx)
		if err != nil {
			return fmt.Errorf("failed to list repositories: %w", err)
		}
		if len(repos) == 0 {
			fmt.Println("No repositories. Run 'runbot sync' to load the topology file.")
			return nil
		}

		byID := make(map[int64]*types.Repository, len(repos))
		for _, r := range repos {
			byID[r.ID] = r
		}
		name := func(id int64) string {
			if r, ok := byID[id]; ok {
				return r.ShortName()
			}
			return fmt.Sprintf("#%d", id)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()
		for _, r := range repos {
			fmt.Printf("%s %s\n", cyan(fmt.Sprintf("%3d", r.ID)), r.Name)
			if r.DuplicateID != 0 {
				fmt.Printf("      duplicate:    %s\n", name(r.DuplicateID))
			}
			if len(r.DependencyIDs) > 0 {
				deps := make([]string, 0, len(r.DependencyIDs))
				for _, id := range r.DependencyIDs {
					deps = append(deps, name(id))
				}
				fmt.Printf("      dependencies: %s\n", strings.Join(deps, ", "))
			}
			if !r.HasToken() {
				fmt.Printf("      %s\n", gray("no token: PR metadata unavailable"))
			}
		}
		return nil
	},
}

var syncTopologyPath string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Load the topology file into the catalog",
	Long: `Create or update the repositories listed in the topology file, their
duplicate and dependency links, and their sticky branches.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := syncTopologyPath
		if path == "" {
			scanCfg, err := config.ScanConfigFromEnv()
			if err != nil {
				return err
			}
			path = scanCfg.TopologyPath
		}
		topo, err := config.LoadTopology(path)
		if err != nil {
			return err
		}

		// Sync only touches the store; PR metadata is fetched later by scans
		result, err := topo.Sync(cmd.Context(), catalog.New(store, nil))
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Synced %s: %d created, %d updated, %d sticky branches\n",
			green("✓"), path, result.Created, result.Updated, result.Sticky)
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVarP(&syncTopologyPath, "file", "f", "", "Topology file (default: RUNBOT_TOPOLOGY or .runbot/repos.yaml)")
	rootCmd.AddCommand(reposCmd)
	rootCmd.AddCommand(syncCmd)
}

// lookupRepository accepts a full name, an owner/name short name or an id
func lookupRepository(cmd *cobra.Command, ref string) (*types.Repository, error) {
	ctx := cmd.Context()
	if r, err := store.GetRepositoryByName(ctx, ref); err == nil {
		return r, nil
	}
	repos, err := store.ListRepositories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	for _, r := range repos {
		if r.ShortName() == ref || fmt.Sprintf("%d", r.ID) == ref {
			return r, nil
		}
	}
	return nil, fmt.Errorf("unknown repository %q", ref)
}
