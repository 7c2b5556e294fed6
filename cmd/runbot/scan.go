package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/runbot/internal/config"
	"github.com/steveyegge/runbot/internal/reconcile"
)

var scanLoop bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List remote refs, catalog new branches and create builds",
	Long: `Run one reconciliation pass over every tracked repository. With --loop,
keep scanning every RUNBOT_SCAN_INTERVAL_SECS seconds until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := config.ScanConfigFromEnv()
		if err != nil {
			return err
		}
		svc, err := newServices(ctx)
		if err != nil {
			return err
		}
		scanner, err := reconcile.NewScanner(svc.catalog, svc.checker, svc.engine, cfg)
		if err != nil {
			return err
		}

		if scanLoop {
			fmt.Printf("Scanning every %v. Press Ctrl+C to stop.\n", cfg.Interval())
			return scanner.Run(ctx)
		}

		stats, err := scanner.Scan(ctx)
		if err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("%s %d repositories, %d new branches, %d builds (%d duplicates) in %v\n",
			green("✓"), stats.Repositories, stats.NewBranches, stats.Builds, stats.Duplicates, stats.Duration)
		if stats.Failed > 0 {
			fmt.Printf("%s %d repositories could not be listed\n", yellow("!"), stats.Failed)
		}
		return nil
	},
}

func init() {
	scanCmd.Flags().BoolVar(&scanLoop, "loop", false, "Keep scanning until interrupted")
	rootCmd.AddCommand(scanCmd)
}
