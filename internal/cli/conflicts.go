package cli

import (
	"fmt"
	"time"

	"github.com/dl-alexandre/odsync/internal/sync/state"
	"github.com/dl-alexandre/odsync/internal/utils"
	"github.com/spf13/cobra"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Inspect and resolve pending conflicts",
}

var conflictsListCmd = &cobra.Command{
	Use:   "list <mapping-id>",
	Short: "List conflicts awaiting a decision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		conflicts, err := store.ListPendingConflicts(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		rows := make([][]string, 0, len(conflicts))
		for _, c := range conflicts {
			resolution := string(c.Resolution)
			if resolution == "" {
				resolution = "-"
			}
			rows = append(rows, []string{
				c.RelativePath,
				time.Unix(c.DetectedAt, 0).Format(time.RFC3339),
				resolution,
			})
		}
		return writeOut(conflicts, []string{"Path", "Detected", "Resolution"}, rows)
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <mapping-id> <path> <resolution>",
	Short: "Record the decision for a conflict",
	Long: `Record how a pending conflict should be settled. The decision is
applied by the next sync pass. Resolutions: prefer-local, prefer-remote,
keep-both.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		resolution := state.ConflictPolicy(args[2])
		switch resolution {
		case state.PolicyPreferLocal, state.PolicyPreferRemote, state.PolicyKeepBoth:
		default:
			return utils.NewAppError(utils.NewSyncError(utils.ErrCodeInvalidArgument,
				"resolution must be prefer-local, prefer-remote, or keep-both").Build())
		}

		if err := store.SetConflictResolution(cmd.Context(), args[0], args[1], resolution); err != nil {
			if err == state.ErrConflictNotFound {
				return utils.NewAppError(utils.NewSyncError(utils.ErrCodeItemNotFound,
					fmt.Sprintf("no pending conflict at %q", args[1])).Build())
			}
			return err
		}
		fmt.Printf("Conflict at %s will be resolved as %s on the next pass\n", args[1], resolution)
		return nil
	},
}

func init() {
	conflictsCmd.AddCommand(conflictsListCmd, conflictsResolveCmd)
	rootCmd.AddCommand(conflictsCmd)
}
