package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/runbot/internal/resolver"
	"github.com/steveyegge/runbot/internal/types"
)

var (
	resolveTarget string
	resolveJSON   bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <repo> <ref>",
	Short: "Show the closest branch of a branch in a target repository",
	Long: `Resolve which branch of the target repository a build of <ref> should
use. <ref> is a full ref such as refs/heads/master-fix-foo or refs/pull/42.
Without --target, the branch's own repository is the target.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		repo, err := lookupRepository(cmd, args[0])
		if err != nil {
			return err
		}
		target := repo
		if resolveTarget != "" {
			if target, err = lookupRepository(cmd, resolveTarget); err != nil {
				return err
			}
		}

		svc, err := newServices(ctx)
		if err != nil {
			return err
		}
		branch, _, err := svc.catalog.UpsertBranch(ctx, repo, args[1])
		if err != nil {
			return err
		}

		closest, resolveErr := svc.resolver.Resolve(ctx, branch, target.ID)
		if resolveErr != nil && !errors.Is(resolveErr, resolver.ErrNoDefaultBranch) {
			return resolveErr
		}

		if resolveJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(closest)
		}

		answerRepo := target
		if closest.RepositoryID != target.ID {
			if answerRepo, err = store.GetRepository(ctx, closest.RepositoryID); err != nil {
				return fmt.Errorf("failed to load repository %d: %w", closest.RepositoryID, err)
			}
		}

		kindColor := color.New(color.FgGreen).SprintFunc()
		if closest.Kind == types.MatchDefault {
			kindColor = color.New(color.FgYellow).SprintFunc()
		}
		fmt.Printf("%s %s -> %s %s [%s]\n",
			repo.ShortName(), branch.Name, answerRepo.ShortName(), closest.RefName, kindColor(string(closest.Kind)))
		if resolveErr != nil {
			red := color.New(color.FgRed).SprintFunc()
			fmt.Printf("  %s %v\n", red("!"), resolveErr)
		}
		return nil
	},
}

func init() {
	resolveCmd.Flags().StringVarP(&resolveTarget, "target", "t", "", "Target repository (default: the branch's repository)")
	resolveCmd.Flags().BoolVar(&resolveJSON, "json", false, "Print the answer as JSON")
	rootCmd.AddCommand(resolveCmd)
}
