// Package main is the entry point for the pulsesync CLI.
//
// PulseSync can be run either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	pulsesync serve -c config.yaml                # Start the dashboard
//	pulsesync validate -c config.yaml             # Validate configuration
//	pulsesync fetch -c config.yaml --panel Health # Fetch one panel once
//	pulsesync version                             # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "pulsesync",
	Short: "A change-aware polling dashboard for city data",
	Long: `PulseSync polls city data resources, keeps the last snapshot of each
and only pushes a panel update when the fields you care about change.

Quick start:
  1. Create a config file (pulsesync.yaml)
  2. Run: pulsesync serve -c pulsesync.yaml
  3. Open http://localhost:8080 in your browser

Example config:
  port: 8080
  base_url: http://localhost:8000
  panels:
    - name: Traffic
      preset: traffic
      params: {lat: "12.9716", lon: "77.5946"}
    - name: Health
      preset: health

Environment:
  A .env file in the working directory is loaded first (existing
  variables win). PULSESYNC_PORT, PULSESYNC_LOG_LEVEL, PULSESYNC_BASE_URL,
  PULSESYNC_HISTORY_PATH and PULSESYNC_TITLE override the file.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		return loadDotEnv(envFile)
	},
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this pulsesync binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pulsesync %s\n", version)
		fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", commit)
		fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before the config (ignored if missing)")

	// Register subcommands with root
	rootCmd.AddCommand(versionCmd)
}
