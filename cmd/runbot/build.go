package main

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/runbot/internal/types"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Create, inspect and kill builds",
}

var buildJobType string

var buildCreateCmd = &cobra.Command{
	Use:   "create <repo> <ref> <revision>",
	Short: "Create a build and link it to an equivalent build if one exists",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		jobType := types.JobType(buildJobType)
		if jobType != "" && !jobType.IsValid() {
			return fmt.Errorf("invalid job type %q", buildJobType)
		}
		repo, err := lookupRepository(cmd, args[0])
		if err != nil {
			return err
		}
		svc, err := newServices(ctx)
		if err != nil {
			return err
		}
		branch, _, err := svc.catalog.UpsertBranch(ctx, repo, args[1])
		if err != nil {
			return err
		}

		build, err := svc.engine.CreateBuild(ctx, branch, args[2], jobType)
		if err != nil && build == nil {
			return err
		}
		if build == nil {
			fmt.Printf("No build: %s has job type none\n", branch.Name)
			return nil
		}
		if err != nil {
			yellow := color.New(color.FgYellow).SprintFunc()
			fmt.Printf("%s registered without deduplication: %v\n", yellow("warning:"), err)
		}
		printBuild(cmd, build)
		return nil
	},
}

var buildShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a build, its fingerprint and its dependencies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid build id %q", args[0])
		}
		build, err := store.GetBuild(cmd.Context(), id)
		if err != nil {
			return err
		}
		printBuild(cmd, build)
		if build.Fingerprint != "" {
			fmt.Printf("    fingerprint: %s\n", build.Fingerprint)
		}
		for _, dep := range build.Dependencies {
			rev := dep.Revision
			if rev == "" {
				rev = "(unknown)"
			}
			fmt.Printf("    dependency:  repo %d %s [%s] %s\n", dep.RepositoryID, dep.Closest.RefName, dep.Closest.Kind, rev)
		}
		return nil
	},
}

var buildKillCmd = &cobra.Command{
	Use:   "kill <id>",
	Short: "Kill a build (a duplicate kills its original unless it is sticky)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid build id %q", args[0])
		}
		svc, err := newServices(ctx)
		if err != nil {
			return err
		}
		stopped, err := svc.engine.Kill(ctx, id)
		if err != nil {
			return err
		}
		if stopped.ID != id {
			fmt.Printf("Build %d is a duplicate; killed its original\n", id)
		}
		printBuild(cmd, stopped)
		return nil
	},
}

var (
	buildListRepo  string
	buildListLimit int
)

var buildListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent builds",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := types.BuildFilter{Limit: buildListLimit}
		if buildListRepo != "" {
			repo, err := lookupRepository(cmd, buildListRepo)
			if err != nil {
				return err
			}
			filter.RepositoryIDs = []int64{repo.ID}
		}
		builds, err := store.FindBuilds(cmd.Context(), filter)
		if err != nil {
			return fmt.Errorf("failed to list builds: %w", err)
		}
		if len(builds) == 0 {
			fmt.Println("No builds")
			return nil
		}
		for _, b := range builds {
			printBuild(cmd, b)
		}
		return nil
	},
}

func printBuild(cmd *cobra.Command, b *types.Build) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	state := string(b.State)
	if b.Result != types.ResultNone {
		state += "/" + string(b.Result)
	}
	switch {
	case b.IsDuplicate():
		state = gray(fmt.Sprintf("duplicate of %d", b.DuplicateOf))
	case b.Result == types.ResultOK:
		state = green(state)
	case b.Result == types.ResultKO || b.Result == types.ResultKilled:
		state = red(state)
	case !b.State.IsTerminal():
		state = yellow(state)
	}

	dest := fmt.Sprintf("build %d", b.ID)
	if branch, err := store.GetBranch(cmd.Context(), b.BranchID); err == nil {
		dest = b.Dest(branch)
	}
	rev := b.Revision
	if len(rev) > 12 {
		rev = rev[:12]
	}
	fmt.Printf("%6d  %-40s %s  %s\n", b.ID, dest, rev, state)
}

func init() {
	buildCreateCmd.Flags().StringVar(&buildJobType, "job-type", "", "Job type override: testing, running, all or none (default: the branch's)")
	buildListCmd.Flags().StringVarP(&buildListRepo, "repo", "r", "", "Only builds of this repository")
	buildListCmd.Flags().IntVarP(&buildListLimit, "limit", "n", 20, "Maximum number of builds")

	buildCmd.AddCommand(buildCreateCmd, buildShowCmd, buildKillCmd, buildListCmd)
	rootCmd.AddCommand(buildCmd)
}
