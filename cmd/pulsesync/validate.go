package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// validateCmd validates a config file without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a PulseSync configuration file without starting the server.

This command parses the YAML, expands environment variables, validates
all fields and builds every panel (including preset param checks such as
numeric coordinates). It's useful for CI/CD pipelines or pre-deployment
checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  pulsesync validate -c config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, panels, err := loadPanels(cmd)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	direct := len(cfg.Panels)
	fromGrids := len(panels) - direct

	history := "disabled"
	if cfg.History.Path != "" {
		history = cfg.History.Path
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Port:    %d\n", cfg.Port)
	fmt.Fprintf(out, "  History: %s\n", history)
	fmt.Fprintf(out, "  Panels:  %d direct + %d from grids = %d total\n",
		direct, fromGrids, len(panels))
	for _, p := range panels {
		fmt.Fprintf(out, "    - %s (every %s)\n", p.Name(), p.Config().Interval)
	}

	return nil
}
