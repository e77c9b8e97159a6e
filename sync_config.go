package pulsesync

import (
	"context"
	"strings"
	"time"
)

// Fetcher retrieves one snapshot of remote state.
//
// Fetch is the only blocking step of a cycle. Implementations own their
// timeout policy; any error they return is reported through the error
// callback. Errors should wrap [ErrNetwork] or [ErrBadResponse]; other
// errors are treated as network failures.
type Fetcher interface {
	Fetch(ctx context.Context, params Params) (Snapshot, error)
}

// FetcherFunc adapts a plain function to the [Fetcher] interface.
type FetcherFunc func(ctx context.Context, params Params) (Snapshot, error)

// Fetch calls f(ctx, params).
func (f FetcherFunc) Fetch(ctx context.Context, params Params) (Snapshot, error) {
	return f(ctx, params)
}

// ParamsValidator is implemented by fetchers that can reject malformed
// parameters up front. [Synchronizer.Configure] calls it and wraps any
// error in [ErrInvalidConfig].
type ParamsValidator interface {
	ValidateParams(params Params) error
}

// SyncConfig is the configuration captured by [Synchronizer.Configure].
//
// The zero value is not usable: Interval must be positive and either
// EqualityFields or Equal must be set.
type SyncConfig struct {
	// Interval is the time between automatic cycles.
	Interval time.Duration

	// Params are passed unchanged to the fetcher on every cycle.
	Params Params

	// EqualityFields lists the dot-path fields that decide whether an
	// automatic poll produced a meaningful change. See [FieldsEqual].
	EqualityFields []string

	// Equal overrides EqualityFields with a custom predicate.
	Equal EqualFunc

	// QuietManualFetch makes manual triggers follow the same change rule as
	// automatic polls. By default (false) every successful manual fetch
	// notifies the consumer.
	QuietManualFetch bool

	// RetainBaselineOnStop keeps the last accepted snapshot across Stop and
	// Start. By default the baseline is cleared on Stop.
	RetainBaselineOnStop bool
}

// validate checks the parts of the config that do not depend on the fetcher.
func (c SyncConfig) validate() error {
	if c.Interval <= 0 {
		return invalidConfig("interval must be positive, got %s", c.Interval)
	}
	if c.Equal == nil && len(c.EqualityFields) == 0 {
		return invalidConfig("at least one equality field or a custom Equal predicate is required")
	}
	for i, f := range c.EqualityFields {
		if strings.TrimSpace(f) == "" {
			return invalidConfig("equality field %d is empty", i)
		}
	}
	return nil
}

// clone returns a copy that shares no mutable state with c.
func (c SyncConfig) clone() SyncConfig {
	c.Params = copyParams(c.Params)
	c.EqualityFields = append([]string(nil), c.EqualityFields...)
	return c
}

// equalFunc returns the predicate the config resolves to.
func (c SyncConfig) equalFunc() EqualFunc {
	if c.Equal != nil {
		return c.Equal
	}
	return FieldsEqual(c.EqualityFields...)
}
