package cli

import (
	"fmt"

	"github.com/dl-alexandre/odsync/internal/auth"
	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage OneDrive sign-in",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with a device code",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := auth.NewManager(appConfig.DefaultProfile, logger)
		return mgr.Login(cmd.Context(), func(userCode, verificationURL string) {
			fmt.Printf("To sign in, open %s and enter the code %s\n", verificationURL, userCode)
		})
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the profile is signed in",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := auth.NewManager(appConfig.DefaultProfile, logger)
		if mgr.IsAuthenticated() {
			fmt.Printf("Profile %q is signed in\n", mgr.Profile())
		} else {
			fmt.Printf("Profile %q is not signed in, run 'odsync auth login'\n", mgr.Profile())
		}
		return nil
	},
}

var authResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := auth.NewManager(appConfig.DefaultProfile, logger)
		if err := mgr.Reset(); err != nil {
			return err
		}
		fmt.Printf("Credentials for profile %q cleared\n", mgr.Profile())
		return nil
	},
}

func init() {
	authCmd.AddCommand(authLoginCmd, authStatusCmd, authResetCmd)
	rootCmd.AddCommand(authCmd)
}
