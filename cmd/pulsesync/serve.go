package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/pulsesync"
	"github.com/jpalmerr/pulsesync/config"
)

const (
	shutdownTimeout = 10 * time.Second
)

// newLogger creates a JSON logger for CLI use.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: lvl,
	}))
}

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	return config.LoadDotEnv(path)
}

// loadPanels loads the config file and builds its panels.
func loadPanels(cmd *cobra.Command) (*config.Config, []pulsesync.Panel, error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	panels, err := config.BuildPanels(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build panels: %w", err)
	}
	if len(panels) == 0 {
		return nil, nil, fmt.Errorf("no panels configured")
	}
	return cfg, panels, nil
}

// serveCmd starts the PulseSync dashboard server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard server",
	Long: `Start the PulseSync dashboard server.

The server will:
  - Load configuration from the specified YAML file
  - Start a synchronizer for every autostart panel
  - Serve the dashboard UI, REST API, SSE stream and /metrics

The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  pulsesync serve -c config.yaml
  pulsesync serve --config /etc/pulsesync/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, panels, err := loadPanels(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("config loaded",
		"panels", len(cfg.Panels),
		"grids", len(cfg.Grids),
		"total", len(panels),
	)

	opts := []pulsesync.HubOption{
		pulsesync.WithPanels(panels...),
		pulsesync.WithPort(cfg.Port),
		pulsesync.WithLogger(logger),
	}
	if cfg.Title != "" {
		opts = append(opts, pulsesync.WithTitle(cfg.Title))
	}
	if cfg.History.Path != "" {
		opts = append(opts,
			pulsesync.WithHistory(cfg.History.Path),
			pulsesync.WithHistoryRetention(cfg.History.Retention),
		)
	}

	hub, err := pulsesync.NewHub(opts...)
	if err != nil {
		return fmt.Errorf("failed to create hub: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting server", "port", cfg.Port)

	// run hub - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- hub.Run(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
