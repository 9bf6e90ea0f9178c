package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var deletesCmd = &cobra.Command{
	Use:   "deletes",
	Short: "Review deletions withheld by the mass-deletion gate",
}

var deletesListCmd = &cobra.Command{
	Use:   "list <mapping-id>",
	Short: "List withheld deletions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		deletes, err := store.ListPendingDeletes(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		rows := make([][]string, 0, len(deletes))
		for _, d := range deletes {
			rows = append(rows, []string{
				d.RelativePath,
				d.Side,
				strconv.FormatBool(d.IsDir),
				time.Unix(d.RequestedAt, 0).Format(time.RFC3339),
			})
		}
		return writeOut(deletes, []string{"Path", "Side", "Folder", "Requested"}, rows)
	},
}

var deletesConfirmCmd = &cobra.Command{
	Use:   "confirm <mapping-id>",
	Short: "Execute the withheld deletions",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, cleanup, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		result, err := engine.ConfirmPendingDeletes(cmd.Context(), args[0])
		printResult(result)
		return err
	},
	Args: cobra.ExactArgs(1),
}

var deletesDiscardCmd = &cobra.Command{
	Use:   "discard <mapping-id>",
	Short: "Drop the withheld deletions without executing them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.ClearPendingDeletes(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Withheld deletions discarded; divergent paths will be re-reconciled")
		return nil
	},
}

func init() {
	deletesCmd.AddCommand(deletesListCmd, deletesConfirmCmd, deletesDiscardCmd)
	rootCmd.AddCommand(deletesCmd)
}
