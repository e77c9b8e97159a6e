package pulsesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
)

// CombinedFetcher fetches several resources concurrently and merges them
// into one snapshot keyed by part name, e.g.
// {"hospitals": {...}, "deserts": {...}}.
//
// The combined fetch fails if any part fails. A failing part cancels the
// others; the reported error is the first real failure in part-name order.
// A part that panics fails with [ErrBadResponse].
type CombinedFetcher struct {
	names     []string
	parts     map[string]Fetcher
	transform Transform
	logger    *slog.Logger
}

// CombineOption configures a [CombinedFetcher].
type CombineOption func(*CombinedFetcher) error

// WithCombineLogger sets the logger used to report part panics.
// Defaults to slog.Default().
func WithCombineLogger(logger *slog.Logger) CombineOption {
	return func(c *CombinedFetcher) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithCombineTransform sets a step applied to the merged snapshot, for
// values derived from more than one part.
func WithCombineTransform(t Transform) CombineOption {
	return func(c *CombinedFetcher) error {
		if t == nil {
			return errors.New("transform cannot be nil")
		}
		c.transform = t
		return nil
	}
}

// Combine returns a [CombinedFetcher] over parts. Parts share the params
// passed to Fetch.
func Combine(parts map[string]Fetcher, opts ...CombineOption) (*CombinedFetcher, error) {
	if len(parts) == 0 {
		return nil, errors.New("at least one part is required")
	}
	names := make([]string, 0, len(parts))
	cp := make(map[string]Fetcher, len(parts))
	for name, f := range parts {
		if name == "" {
			return nil, errors.New("part name cannot be empty")
		}
		if f == nil {
			return nil, fmt.Errorf("part %q has a nil fetcher", name)
		}
		names = append(names, name)
		cp[name] = f
	}
	sort.Strings(names)

	c := &CombinedFetcher{names: names, parts: cp, logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ValidateParams implements [ParamsValidator] by asking every part that
// can validate.
func (c *CombinedFetcher) ValidateParams(params Params) error {
	for _, name := range c.names {
		if v, ok := c.parts[name].(ParamsValidator); ok {
			if err := v.ValidateParams(params); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	return nil
}

// Fetch implements [Fetcher].
func (c *CombinedFetcher) Fetch(ctx context.Context, params Params) (Snapshot, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	snaps := make([]Snapshot, len(c.names))
	errs := make([]error, len(c.names))

	var wg sync.WaitGroup
	for i, name := range c.names {
		wg.Add(1)
		go func(i int, name string, f Fetcher) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					correlationID := CorrelationID(ctx)
					c.logger.Error("fetcher panic",
						"part", name,
						"correlation_id", correlationID,
						"panic", fmt.Sprintf("%v", r),
						"stack", string(debug.Stack()),
					)
					snaps[i] = nil
					errs[i] = fmt.Errorf("%w: part panic (correlation_id: %s)", ErrBadResponse, correlationID)
				}
				if errs[i] != nil {
					// no point finishing the others
					cancel()
				}
			}()
			snaps[i], errs[i] = f.Fetch(ctx, copyParams(params))
		}(i, name, c.parts[name])
	}
	wg.Wait()

	// prefer a part's own error over the cancellation it caused in others
	for i, err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%s: %w", c.names[i], err)
		}
	}
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.names[i], err)
		}
	}

	out := make(Snapshot, len(c.names))
	for i, name := range c.names {
		if snaps[i] == nil {
			return nil, fmt.Errorf("%w: %s: empty snapshot", ErrBadResponse, name)
		}
		out[name] = map[string]any(snaps[i])
	}

	if c.transform != nil {
		merged, err := c.transform(out)
		if err != nil {
			return nil, fmt.Errorf("%w: transform: %w", ErrBadResponse, err)
		}
		if merged == nil {
			return nil, fmt.Errorf("%w: transform returned nil snapshot", ErrBadResponse)
		}
		out = merged
	}
	return out, nil
}
