package pulsesync

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// gridConfig holds configuration during panel grid construction.
type gridConfig struct {
	urlTemplate    string
	dimensions     map[string][]string
	staticLabels   map[string]string
	fetcherOpts    []FetcherOption
	interval       time.Duration
	equalityFields []string
	quietManual    bool
	retainBaseline bool
	autostart      bool
}

// GridOption configures panel grid generation for [NewPanelGrid].
type GridOption func(*gridConfig) error

// WithURLTemplate sets the URL template for the generated fetchers.
//
// Example:
//
//	WithURLTemplate("http://localhost:8000/api/zones/{{.zone}}/")
func WithURLTemplate(tmpl string) GridOption {
	return func(cfg *gridConfig) error {
		if tmpl == "" {
			return errors.New("URL template required")
		}
		cfg.urlTemplate = tmpl
		return nil
	}
}

// WithDimensions sets the dimension values for cartesian product expansion.
// Each key becomes a fetch param (and a template variable).
//
// Returns an error if the map is empty, any dimension has no values,
// or any value is an empty string.
func WithDimensions(dims map[string][]string) GridOption {
	return func(cfg *gridConfig) error {
		if len(dims) == 0 {
			return errors.New("at least one dimension required")
		}
		for k, vals := range dims {
			if len(vals) == 0 {
				return fmt.Errorf("dimension '%s' has no values", k)
			}
			for i, v := range vals {
				if v == "" {
					return fmt.Errorf("dimension '%s' contains empty value at index %d", k, i)
				}
			}
		}
		cfg.dimensions = dims
		return nil
	}
}

// WithGridLabels adds static labels to all generated panels. On collision,
// static labels take precedence over dimension labels.
func WithGridLabels(keyValues ...string) GridOption {
	return func(cfg *gridConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithGridLabels requires an even number of arguments (key-value pairs)")
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.staticLabels[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithGridFetcherOptions applies fetcher options (headers, timeout,
// envelope, param validation) to every generated fetcher.
func WithGridFetcherOptions(opts ...FetcherOption) GridOption {
	return func(cfg *gridConfig) error {
		cfg.fetcherOpts = append(cfg.fetcherOpts, opts...)
		return nil
	}
}

// WithGridInterval sets the polling interval for all generated panels.
// Defaults to 10 seconds.
func WithGridInterval(d time.Duration) GridOption {
	return func(cfg *gridConfig) error {
		if d <= 0 {
			return errors.New("interval must be positive")
		}
		cfg.interval = d
		return nil
	}
}

// WithGridEqualityFields sets the equality fields for all generated panels.
func WithGridEqualityFields(fields ...string) GridOption {
	return func(cfg *gridConfig) error {
		for i, f := range fields {
			if strings.TrimSpace(f) == "" {
				return fmt.Errorf("equality field %d is empty", i)
			}
		}
		cfg.equalityFields = append([]string(nil), fields...)
		return nil
	}
}

// WithGridQuietManualFetch makes manual refreshes of generated panels
// follow the change rule, see [SyncConfig.QuietManualFetch].
func WithGridQuietManualFetch(quiet bool) GridOption {
	return func(cfg *gridConfig) error {
		cfg.quietManual = quiet
		return nil
	}
}

// WithGridRetainBaseline keeps each panel's baseline across stop and start,
// see [SyncConfig.RetainBaselineOnStop].
func WithGridRetainBaseline(retain bool) GridOption {
	return func(cfg *gridConfig) error {
		cfg.retainBaseline = retain
		return nil
	}
}

// WithGridAutostart controls whether generated panels start with the hub.
func WithGridAutostart(on bool) GridOption {
	return func(cfg *gridConfig) error {
		cfg.autostart = on
		return nil
	}
}
