package pulsesync

import (
	"errors"
	"log/slog"
	"strings"
)

// hubConfig holds mutable state during Hub construction.
type hubConfig struct {
	title            string
	panels           []Panel
	port             int
	logger           *slog.Logger
	historyPath      string
	historyRetention int
	updateCallbacks  []func(string, Snapshot)
	errorCallbacks   []func(string, ErrorInfo)
}

// HubOption is a function that configures a [Hub] instance during construction.
//
// Options return an error if validation fails.
//
// Built-in options: [WithPanel], [WithPanels], [WithPort], [WithLogger],
// [WithTitle], [WithHistory], [WithHistoryRetention],
// [WithUpdateCallback], [WithErrorCallback].
type HubOption func(*hubConfig) error

// WithPanel adds a single [Panel] to the hub.
//
// Can be called multiple times to add multiple panels. At least one panel
// must be configured for [NewHub] to succeed.
//
// Example:
//
//	hub, err := pulsesync.NewHub(
//	    pulsesync.WithPanel(traffic),
//	    pulsesync.WithPanel(health),
//	)
func WithPanel(p Panel) HubOption {
	return func(cfg *hubConfig) error {
		cfg.panels = append(cfg.panels, p)
		return nil
	}
}

// WithPanels adds multiple [Panel] values, e.g. the output of [NewPanelGrid].
func WithPanels(panels ...Panel) HubOption {
	return func(cfg *hubConfig) error {
		cfg.panels = append(cfg.panels, panels...)
		return nil
	}
}

// WithPort sets the HTTP port for the dashboard server.
//
// The dashboard UI and API will be available at http://localhost:<port>.
// Defaults to 8080 if not specified.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) HubOption {
	return func(cfg *hubConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the hub and every panel's
// synchronizer. If not specified, [slog.Default] is used.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
//	hub, err := pulsesync.NewHub(
//	    pulsesync.WithPanel(p),
//	    pulsesync.WithLogger(logger),
//	)
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) HubOption {
	return func(cfg *hubConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithTitle sets the dashboard title displayed in the browser tab and header.
//
// If not specified, defaults to "PulseSync".
func WithTitle(title string) HubOption {
	return func(cfg *hubConfig) error {
		cfg.title = title
		return nil
	}
}

// WithHistory records every accepted snapshot in a SQLite database at path
// and serves it at /api/panels/{name}/history. The database is created if
// missing and opened when the hub runs.
func WithHistory(path string) HubOption {
	return func(cfg *hubConfig) error {
		if strings.TrimSpace(path) == "" {
			return errors.New("history path cannot be empty")
		}
		cfg.historyPath = path
		return nil
	}
}

// WithHistoryRetention keeps only the newest n snapshots per panel. Zero
// (the default) keeps everything.
func WithHistoryRetention(n int) HubOption {
	return func(cfg *hubConfig) error {
		if n < 0 {
			return errors.New("history retention cannot be negative")
		}
		cfg.historyRetention = n
		return nil
	}
}

// WithUpdateCallback registers a function called with the panel name and a
// private copy of every snapshot the panel accepts.
//
// Multiple callbacks may be registered; they execute in registration order
// on the panel's delivery goroutine, so they must not block. Panics are
// recovered and logged.
//
// Nil callbacks are silently ignored.
func WithUpdateCallback(cb func(panel string, snap Snapshot)) HubOption {
	return func(cfg *hubConfig) error {
		if cb == nil {
			return nil
		}
		cfg.updateCallbacks = append(cfg.updateCallbacks, cb)
		return nil
	}
}

// WithErrorCallback registers a function called on every failed cycle of
// any panel. The same rules as [WithUpdateCallback] apply.
//
// Nil callbacks are silently ignored.
func WithErrorCallback(cb func(panel string, info ErrorInfo)) HubOption {
	return func(cfg *hubConfig) error {
		if cb == nil {
			return nil
		}
		cfg.errorCallbacks = append(cfg.errorCallbacks, cb)
		return nil
	}
}
