package pulsesync

import (
	"errors"
	"strings"
)

// Panel is one independently polled dashboard resource: a name, the
// [Fetcher] that reads it and the [SyncConfig] that drives its
// synchronizer.
//
// Panel is immutable after creation via [NewPanel]. Getters return copies
// of mutable data.
type Panel struct {
	name      string
	fetcher   Fetcher
	config    SyncConfig
	labels    map[string]string
	autostart bool
}

// PanelOption configures a [Panel] during construction.
type PanelOption func(*panelConfig) error

type panelConfig struct {
	labels    map[string]string
	autostart bool
}

// WithLabels adds metadata labels shown next to the panel in the dashboard.
//
// Accepts variadic key-value pairs. The number of arguments must be even.
func WithLabels(keyValues ...string) PanelOption {
	return func(cfg *panelConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithLabels requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.labels[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithAutostart controls whether the [Hub] starts the panel's synchronizer
// when it runs. Defaults to true; a panel created with false stays idle
// until started through the API.
func WithAutostart(on bool) PanelOption {
	return func(cfg *panelConfig) error {
		cfg.autostart = on
		return nil
	}
}

// NewPanel creates a [Panel].
//
// Returns an error if the name is empty, the fetcher is nil or the config
// fails validation (see [SyncConfig]). Params are checked against the
// fetcher when the hub configures the synchronizer.
func NewPanel(name string, fetcher Fetcher, cfg SyncConfig, opts ...PanelOption) (Panel, error) {
	if strings.TrimSpace(name) == "" {
		return Panel{}, errors.New("panel name cannot be empty")
	}
	if strings.Contains(name, "/") {
		return Panel{}, errors.New("panel name cannot contain '/'")
	}
	if fetcher == nil {
		return Panel{}, errors.New("fetcher cannot be nil")
	}
	if err := cfg.validate(); err != nil {
		return Panel{}, err
	}

	pc := &panelConfig{
		labels:    make(map[string]string),
		autostart: true,
	}
	for _, opt := range opts {
		if err := opt(pc); err != nil {
			return Panel{}, err
		}
	}

	return Panel{
		name:      name,
		fetcher:   fetcher,
		config:    cfg.clone(),
		labels:    pc.labels,
		autostart: pc.autostart,
	}, nil
}

// Name returns the panel's unique name.
func (p Panel) Name() string {
	return p.name
}

// Fetcher returns the panel's fetcher.
func (p Panel) Fetcher() Fetcher {
	return p.fetcher
}

// Config returns a copy of the panel's synchronizer configuration.
func (p Panel) Config() SyncConfig {
	return p.config.clone()
}

// Labels returns a copy of the panel's labels.
func (p Panel) Labels() map[string]string {
	return copyMap(p.labels)
}

// Autostart reports whether the hub starts this panel on Run.
func (p Panel) Autostart() bool {
	return p.autostart
}
