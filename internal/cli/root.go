package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/dl-alexandre/odsync/internal/auth"
	"github.com/dl-alexandre/odsync/internal/config"
	"github.com/dl-alexandre/odsync/internal/graph"
	"github.com/dl-alexandre/odsync/internal/logging"
	enginepkg "github.com/dl-alexandre/odsync/internal/sync"
	"github.com/dl-alexandre/odsync/internal/sync/state"
	"github.com/dl-alexandre/odsync/internal/types"
	"github.com/dl-alexandre/odsync/internal/utils"
	"github.com/dl-alexandre/odsync/pkg/version"
	"github.com/spf13/cobra"
)

var (
	globalFlags types.GlobalFlags
	logger      logging.Logger
	appConfig   *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "odsync",
	Short: "Selective bidirectional folder sync for OneDrive",
	Long: `odsync keeps chosen local folders and OneDrive folders in sync,
incrementally and in both directions. Each mapping pairs one local folder
with one remote folder and carries its own direction, conflict policy,
and exclusion patterns.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := validateGlobalFlags(); err != nil {
			return err
		}

		var err error
		appConfig, err = config.Load()
		if err != nil {
			return err
		}
		if globalFlags.Profile != "" {
			appConfig.DefaultProfile = globalFlags.Profile
		}

		logConfig := logging.LogConfig{
			Level:           logging.ParseLevel(appConfig.LogLevel),
			OutputFile:      firstNonEmpty(globalFlags.LogFile, appConfig.LogFile),
			EnableConsole:   !globalFlags.Quiet,
			EnableDebug:     globalFlags.Debug,
			RedactSensitive: true,
			EnableColor:     appConfig.ColorOutput,
			EnableTimestamp: true,
		}
		if globalFlags.Verbose {
			logConfig.Level = logging.DEBUG
		}
		if globalFlags.OutputFormat == types.OutputFormatJSON && !globalFlags.Verbose && !globalFlags.Debug {
			logConfig.EnableConsole = false
		}

		logger, err = logging.NewLogger(logConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Get().String())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalFlags.Profile, "profile", "", "Authentication profile to use")
	rootCmd.PersistentFlags().StringVar((*string)(&globalFlags.OutputFormat), "output", "table", "Output format (json, table)")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.Debug, "debug", false, "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&globalFlags.LogFile, "log-file", "", "Path to JSON log file")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "Output in JSON format (alias for --output json)")

	rootCmd.AddCommand(versionCmd)
}

func validateGlobalFlags() error {
	if globalFlags.JSON {
		globalFlags.OutputFormat = types.OutputFormatJSON
	}
	if globalFlags.OutputFormat != types.OutputFormatJSON && globalFlags.OutputFormat != types.OutputFormatTable {
		return fmt.Errorf("invalid output format: %s", globalFlags.OutputFormat)
	}
	return nil
}

// Execute runs the root command, mapping classified errors to their
// stable exit codes.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(utils.GetExitCode(utils.ErrorCode(err)))
	}
}

// openStore opens the state database at the configured location
func openStore() (*state.Store, error) {
	path, err := appConfig.GetStatePath()
	if err != nil {
		return nil, err
	}
	store, err := state.Open(path)
	if err != nil {
		return nil, utils.NewAppError(utils.NewSyncError(utils.ErrCodeStoreUnavailable, err.Error()).
			WithContext("path", path).
			Build())
	}
	return store, nil
}

// newEngine builds the sync engine with a live Graph client. The token
// source is optional here; the engine surfaces AUTH_REQUIRED before any
// remote call when no credentials exist.
func newEngine(ctx context.Context) (*enginepkg.Engine, func(), error) {
	store, err := openStore()
	if err != nil {
		return nil, nil, err
	}

	authMgr := auth.NewManager(appConfig.DefaultProfile, logger)
	var client *graph.Client
	if ts, tsErr := authMgr.TokenSource(ctx); tsErr == nil {
		client = graph.NewClient(ts, appConfig.MaxRetries, appConfig.RetryBaseDelay, appConfig.RequestTimeout, logger)
	} else {
		client = graph.NewClient(nil, appConfig.MaxRetries, appConfig.RetryBaseDelay, appConfig.RequestTimeout, logger)
	}

	engine := enginepkg.NewEngine(store, client, authMgr, appConfig, logger)
	cleanup := func() {
		_ = store.Close()
		if logger != nil {
			_ = logger.Close()
		}
	}
	return engine, cleanup, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
