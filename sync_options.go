package pulsesync

import (
	"errors"
	"log/slog"
	"time"
)

// Recorder receives cycle observations from a [Synchronizer].
//
// mode is "manual" or "auto"; outcome is "ok", "network" or "bad_response".
// Implementations must be safe for concurrent use and must not block.
type Recorder interface {
	ObserveCycle(name, mode, outcome string, d time.Duration)
	ObserveUpdate(name string)
	ObserveSkippedTick(name string)
}

// syncConfig holds mutable state during Synchronizer construction.
type syncConfig struct {
	name      string
	logger    *slog.Logger
	onUpdate  func(Snapshot)
	onError   func(ErrorInfo)
	onLoading func(bool)
	onHealth  func(Health)
	recorder  Recorder
}

// SyncOption configures a [Synchronizer] during construction.
//
// Built-in options: [WithName], [WithSyncLogger], [OnUpdate], [OnError],
// [OnLoadingChanged], [OnHealthChanged], [WithRecorder].
type SyncOption func(*syncConfig) error

// WithName sets the name used in logs and metrics. Defaults to "default".
func WithName(name string) SyncOption {
	return func(cfg *syncConfig) error {
		if name == "" {
			return errors.New("name cannot be empty")
		}
		cfg.name = name
		return nil
	}
}

// WithSyncLogger sets the logger. If not specified, [slog.Default] is used.
func WithSyncLogger(logger *slog.Logger) SyncOption {
	return func(cfg *syncConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// OnUpdate registers the update callback.
//
// The callback receives a private copy of the accepted snapshot. It is
// invoked for the first successful fetch after [Synchronizer.Start], for
// every successful manual fetch, and for automatic fetches whose snapshot
// differs from the baseline.
//
// Callbacks run synchronously on the cycle's goroutine and are serialized
// with every other callback of the same synchronizer. They may call back
// into the synchronizer (Stop, TriggerManual) but should not block.
func OnUpdate(cb func(Snapshot)) SyncOption {
	return func(cfg *syncConfig) error {
		cfg.onUpdate = cb
		return nil
	}
}

// OnError registers the error callback, invoked once per failed cycle.
func OnError(cb func(ErrorInfo)) SyncOption {
	return func(cfg *syncConfig) error {
		cfg.onError = cb
		return nil
	}
}

// OnLoadingChanged registers the loading callback. It receives true before
// a manual (or start) fetch begins and false once it has been delivered.
func OnLoadingChanged(cb func(bool)) SyncOption {
	return func(cfg *syncConfig) error {
		cfg.onLoading = cb
		return nil
	}
}

// OnHealthChanged registers a callback invoked when [Health] changes value,
// e.g. when a failing resource recovers.
func OnHealthChanged(cb func(Health)) SyncOption {
	return func(cfg *syncConfig) error {
		cfg.onHealth = cb
		return nil
	}
}

// WithRecorder attaches a metrics [Recorder].
func WithRecorder(r Recorder) SyncOption {
	return func(cfg *syncConfig) error {
		if r == nil {
			return errors.New("recorder cannot be nil")
		}
		cfg.recorder = r
		return nil
	}
}
