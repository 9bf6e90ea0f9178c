package cli

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dl-alexandre/odsync/internal/sync/state"
	"github.com/dl-alexandre/odsync/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var mappingCmd = &cobra.Command{
	Use:   "mapping",
	Short: "Manage folder mappings",
}

var mappingAddFlags struct {
	id         string
	localRoot  string
	remoteID   string
	remotePath string
	driveID    string
	direction  string
	policy     string
	exclude    []string
}

var mappingAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Pair a local folder with a remote folder",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		localRoot, err := filepath.Abs(mappingAddFlags.localRoot)
		if err != nil {
			return err
		}

		m := state.Mapping{
			ID:              mappingAddFlags.id,
			LocalRoot:       localRoot,
			RemoteID:        mappingAddFlags.remoteID,
			RemotePath:      mappingAddFlags.remotePath,
			DriveID:         mappingAddFlags.driveID,
			Direction:       state.Direction(mappingAddFlags.direction),
			ConflictPolicy:  state.ConflictPolicy(mappingAddFlags.policy),
			ExcludePatterns: mappingAddFlags.exclude,
			Enabled:         true,
		}
		if m.ID == "" {
			m.ID = uuid.New().String()[:8]
		}
		if err := validateMapping(m); err != nil {
			return err
		}

		if err := store.AddMapping(cmd.Context(), m); err != nil {
			if err == state.ErrOverlappingMapping {
				return utils.NewAppError(utils.NewSyncError(utils.ErrCodeInvalidArgument,
					"local root overlaps an existing mapping").
					WithContext("path", localRoot).
					Build())
			}
			return err
		}

		fmt.Printf("Mapping %s added: %s <-> %s\n", m.ID, m.LocalRoot, displayRemote(m))
		return nil
	},
}

var mappingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured mappings",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		mappings, err := store.ListMappings(cmd.Context())
		if err != nil {
			return err
		}

		rows := make([][]string, 0, len(mappings))
		for _, m := range mappings {
			lastSync := "never"
			if m.LastSyncTime > 0 {
				lastSync = time.Unix(m.LastSyncTime, 0).Format(time.RFC3339)
			}
			rows = append(rows, []string{
				m.ID,
				m.LocalRoot,
				displayRemote(m),
				string(m.Direction),
				string(m.ConflictPolicy),
				strconv.FormatBool(m.Enabled),
				lastSync,
			})
		}
		return writeOut(mappings,
			[]string{"ID", "Local", "Remote", "Direction", "Policy", "Enabled", "Last Sync"},
			rows)
	},
}

var mappingRemoveCmd = &cobra.Command{
	Use:   "remove <mapping-id>",
	Short: "Remove a mapping and its sync state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if _, err := store.GetMapping(cmd.Context(), args[0]); err != nil {
			return mappingNotFound(err, args[0])
		}
		if err := store.RemoveMapping(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Mapping %s removed\n", args[0])
		return nil
	},
}

var mappingEnableCmd = &cobra.Command{
	Use:   "enable <mapping-id>",
	Short: "Enable a mapping",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(cmd, args[0], true) },
}

var mappingDisableCmd = &cobra.Command{
	Use:   "disable <mapping-id>",
	Short: "Disable a mapping without removing its state",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(cmd, args[0], false) },
}

func setEnabled(cmd *cobra.Command, id string, enabled bool) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	m, err := store.GetMapping(cmd.Context(), id)
	if err != nil {
		return mappingNotFound(err, id)
	}
	m.Enabled = enabled
	if err := store.UpsertMapping(cmd.Context(), *m); err != nil {
		return err
	}
	verb := "disabled"
	if enabled {
		verb = "enabled"
	}
	fmt.Printf("Mapping %s %s\n", id, verb)
	return nil
}

func validateMapping(m state.Mapping) error {
	if m.LocalRoot == "" || m.RemoteID == "" {
		return utils.NewAppError(utils.NewSyncError(utils.ErrCodeInvalidArgument,
			"--local and --remote-id are required").Build())
	}
	switch m.Direction {
	case state.DirectionBoth, state.DirectionUpload, state.DirectionDownload:
	default:
		return utils.NewAppError(utils.NewSyncError(utils.ErrCodeInvalidArgument,
			"direction must be both, upload, or download").Build())
	}
	switch m.ConflictPolicy {
	case state.PolicyPreferLocal, state.PolicyPreferRemote, state.PolicyKeepBoth, state.PolicyAsk:
	default:
		return utils.NewAppError(utils.NewSyncError(utils.ErrCodeInvalidArgument,
			"conflict policy must be prefer-local, prefer-remote, keep-both, or ask").Build())
	}
	return nil
}

func displayRemote(m state.Mapping) string {
	if m.RemotePath != "" {
		return "/" + m.RemotePath
	}
	return m.RemoteID
}

func mappingNotFound(err error, id string) error {
	if err == state.ErrMappingNotFound {
		return utils.NewAppError(utils.NewSyncError(utils.ErrCodeItemNotFound,
			fmt.Sprintf("no mapping with ID %q", id)).Build())
	}
	return err
}

func init() {
	mappingAddCmd.Flags().StringVar(&mappingAddFlags.id, "id", "", "Mapping ID (generated if omitted)")
	mappingAddCmd.Flags().StringVar(&mappingAddFlags.localRoot, "local", "", "Local folder to sync")
	mappingAddCmd.Flags().StringVar(&mappingAddFlags.remoteID, "remote-id", "", "Remote folder item ID")
	mappingAddCmd.Flags().StringVar(&mappingAddFlags.remotePath, "remote-path", "", "Remote folder path relative to the drive root")
	mappingAddCmd.Flags().StringVar(&mappingAddFlags.driveID, "drive-id", "", "Drive ID (defaults to the signed-in user's drive)")
	mappingAddCmd.Flags().StringVar(&mappingAddFlags.direction, "direction", string(state.DirectionBoth), "Sync direction (both, upload, download)")
	mappingAddCmd.Flags().StringVar(&mappingAddFlags.policy, "policy", string(state.PolicyKeepBoth), "Conflict policy (prefer-local, prefer-remote, keep-both, ask)")
	mappingAddCmd.Flags().StringArrayVar(&mappingAddFlags.exclude, "exclude", nil, "Exclusion pattern (repeatable)")

	mappingCmd.AddCommand(mappingAddCmd, mappingListCmd, mappingRemoveCmd, mappingEnableCmd, mappingDisableCmd)
	rootCmd.AddCommand(mappingCmd)
}
