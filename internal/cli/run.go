package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	enginepkg "github.com/dl-alexandre/odsync/internal/sync"
	"github.com/dl-alexandre/odsync/internal/utils"
	"github.com/spf13/cobra"
)

var runFlags struct {
	all      bool
	dryRun   bool
	watch    bool
	interval time.Duration
}

var runCmd = &cobra.Command{
	Use:   "run [mapping-id]",
	Short: "Run a sync pass",
	Long: `Run one sync pass for a mapping, or for every enabled mapping with
--all. With --watch the command keeps running, waking on local filesystem
changes and on the poll interval.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !runFlags.all {
			return utils.NewAppError(utils.NewSyncError(utils.ErrCodeInvalidArgument,
				"give a mapping ID or --all").Build())
		}
		if runFlags.watch && runFlags.dryRun {
			return utils.NewAppError(utils.NewSyncError(utils.ErrCodeInvalidArgument,
				"--watch and --dry-run do not combine").Build())
		}

		engine, cleanup, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		var ids []string
		if runFlags.all {
			mappings, err := engine.Store().ListMappings(cmd.Context())
			if err != nil {
				return err
			}
			for _, m := range mappings {
				if m.Enabled {
					ids = append(ids, m.ID)
				}
			}
			if len(ids) == 0 {
				fmt.Println("No enabled mappings")
				return nil
			}
		} else {
			ids = args
		}

		if runFlags.watch {
			return watchMappings(cmd.Context(), engine, ids)
		}

		var firstErr error
		for _, id := range ids {
			result, err := engine.RunPass(cmd.Context(), id, enginepkg.Options{DryRun: runFlags.dryRun})
			printResult(result)
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	},
}

func watchMappings(parent context.Context, engine *enginepkg.Engine, ids []string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, len(ids))
	for _, id := range ids {
		id := id
		go func() {
			errs <- engine.Watch(ctx, id, runFlags.interval, func(result enginepkg.Result, err error) {
				printResult(result)
				if err != nil {
					fmt.Fprintln(os.Stderr, "Error:", err)
				}
			})
		}()
	}

	<-ctx.Done()
	for range ids {
		<-errs
	}
	return nil
}

func printResult(r enginepkg.Result) {
	label := "Pass"
	if r.DryRun {
		label = "Plan"
	}
	fmt.Printf("%s %s: %d uploads, %d downloads, %d deletes, %d moves, %d mkdirs",
		label, r.MappingID,
		r.Summary.Uploads, r.Summary.Downloads, r.Summary.Deletes, r.Summary.Moves, r.Summary.Mkdirs)
	if len(r.Summary.Failed) > 0 {
		fmt.Printf(", %d failed", len(r.Summary.Failed))
	}
	if len(r.Unresolved) > 0 {
		fmt.Printf(", %d conflicts pending", len(r.Unresolved))
	}
	fmt.Println()

	for _, f := range r.Summary.Failed {
		fmt.Printf("  failed %s %s: %v\n", f.Action, f.Path, f.Err)
	}
	for _, c := range r.Unresolved {
		fmt.Printf("  conflict %s (%s), resolve with 'odsync conflicts resolve'\n", c.Path, c.Kind)
	}
	if r.GateTriggered {
		fmt.Printf("  %d deletions withheld by the mass-deletion gate; review with 'odsync deletes list %s'\n",
			r.PendingDeletes, r.MappingID)
	}
	if r.Degraded {
		fmt.Println("  mapping is degraded: repeated passes ended with failures")
	}
	if r.AuthRequired {
		fmt.Println("  authentication required: run 'odsync auth login'")
	}
}

func init() {
	runCmd.Flags().BoolVar(&runFlags.all, "all", false, "Run every enabled mapping")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "Plan only, change nothing")
	runCmd.Flags().BoolVar(&runFlags.watch, "watch", false, "Keep running, syncing on changes")
	runCmd.Flags().DurationVar(&runFlags.interval, "interval", 5*time.Minute, "Poll interval in watch mode")

	rootCmd.AddCommand(runCmd)
}
