package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// fetchCmd runs one fetch for a single panel and prints the snapshot.
var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch one panel once and print its snapshot",
	Long: `Fetch a single configured panel once and print the resulting snapshot
as JSON. No synchronizer is started; this is useful for checking URLs,
params and equality field paths against the live resource.

Example:
  pulsesync fetch -c config.yaml --panel Traffic`,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	fetchCmd.Flags().StringP("panel", "p", "", "panel name (required)")
	fetchCmd.Flags().Duration("timeout", 30*time.Second, "overall deadline for the fetch")
	_ = fetchCmd.MarkFlagRequired("config")
	_ = fetchCmd.MarkFlagRequired("panel")
}

func runFetch(cmd *cobra.Command, args []string) error {
	_, panels, err := loadPanels(cmd)
	if err != nil {
		return err
	}

	name, _ := cmd.Flags().GetString("panel")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	for _, p := range panels {
		if p.Name() != name {
			continue
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		snap, err := p.Fetcher().Fetch(ctx, p.Config().Params)
		if err != nil {
			return fmt.Errorf("fetch %q: %w", name, err)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	return fmt.Errorf("unknown panel %q", name)
}
