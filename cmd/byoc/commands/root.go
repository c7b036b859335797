package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "byoc",
		Short: "BYOC deployment lifecycle orchestrator",
		Long: `byoc provisions and tears down customer-owned cloud environments.

Each customer environment is driven through a remote infrastructure engine
as a single deployment job: pending, in progress, then succeeded or failed,
and later destroying and destroyed.

The serve command runs the HTTP API and the background workers. The other
commands operate on the same job store directly.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newServeCommand(version))
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newOnboardCommand(version))
	rootCmd.AddCommand(newUpdateCommand(version))
	rootCmd.AddCommand(newStatusCommand(version))
	rootCmd.AddCommand(newDestroyCommand(version))
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newEventsCommand())
	rootCmd.AddCommand(newReconcileCommand(version))
	rootCmd.AddCommand(newCustomersCommand())
	rootCmd.AddCommand(newPolicyCommand())

	return rootCmd
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
