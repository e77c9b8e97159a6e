package pulsesync

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"text/template"
)

// NewPanelGrid creates one panel per combination of dimension values,
// using cartesian product expansion.
//
// Every combination is passed to its panel's fetcher as params. The URL
// template uses Go's text/template syntax and may reference dimension keys
// too; values are URL-encoded before interpolation and missing keys are an
// error.
//
// Each panel is named "Base Name (val1, val2)" with values ordered by
// sorted key, and labelled with its dimension values. Static labels from
// [WithGridLabels] take precedence on collision.
//
// Example, sampling traffic on a 2x2 grid of road points:
//
//	panels, err := NewPanelGrid("Traffic",
//	    WithURLTemplate("http://localhost:8000/api/traffic/"),
//	    WithDimensions(map[string][]string{
//	        "lat": {"28.61", "28.63"},
//	        "lon": {"77.20", "77.22"},
//	    }),
//	    WithGridEqualityFields(TrafficFields...),
//	    WithGridFetcherOptions(WithEnvelope("status", "success", "message")),
//	)
func NewPanelGrid(baseName string, opts ...GridOption) ([]Panel, error) {
	if strings.TrimSpace(baseName) == "" {
		return nil, errors.New("base name cannot be empty")
	}

	cfg := &gridConfig{
		staticLabels: make(map[string]string),
		interval:     TrafficInterval,
		autostart:    true,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.urlTemplate == "" {
		return nil, errors.New("URL template required")
	}
	if len(cfg.dimensions) == 0 {
		return nil, errors.New("at least one dimension required")
	}
	if len(cfg.equalityFields) == 0 {
		return nil, errors.New("at least one equality field required")
	}

	tmpl, err := template.New("url").Option("missingkey=error").Parse(cfg.urlTemplate)
	if err != nil {
		return nil, fmt.Errorf("invalid URL template: %w", err)
	}

	combinations := cartesianProduct(cfg.dimensions)
	if len(combinations) == 0 {
		return nil, nil
	}

	panels := make([]Panel, 0, len(combinations))
	for _, combo := range combinations {
		urlStr, err := executeTemplate(tmpl, urlEncodeMap(combo))
		if err != nil {
			return nil, fmt.Errorf("template execution failed: %w", err)
		}

		name := formatPanelName(baseName, combo)

		f, err := NewHTTPFetcher(urlStr, cfg.fetcherOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create fetcher for panel '%s': %w", name, err)
		}

		labels := mergeMaps(combo, cfg.staticLabels)
		p, err := NewPanel(name, f, SyncConfig{
			Interval:             cfg.interval,
			Params:               Params(copyMap(combo)),
			EqualityFields:       cfg.equalityFields,
			QuietManualFetch:     cfg.quietManual,
			RetainBaselineOnStop: cfg.retainBaseline,
		},
			WithLabels(flattenMap(labels)...),
			WithAutostart(cfg.autostart),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create panel '%s': %w", name, err)
		}
		panels = append(panels, p)
	}

	return panels, nil
}

// cartesianProduct generates all combinations of dimension values.
// Keys are sorted alphabetically for deterministic output.
// Values maintain their original slice order.
//
// Example:
//
//	Input:  {"x": ["a","b"], "y": ["1","2"]}
//	Output: [{"x":"a","y":"1"}, {"x":"a","y":"2"}, {"x":"b","y":"1"}, {"x":"b","y":"2"}]
func cartesianProduct(dims map[string][]string) []map[string]string {
	if len(dims) == 0 {
		return nil
	}

	keys := make([]string, 0, len(dims))
	for k := range dims {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	total := 1
	for _, k := range keys {
		if len(dims[k]) == 0 {
			return nil
		}
		total *= len(dims[k])
	}

	result := make([]map[string]string, 0, total)
	indices := make([]int, len(keys))
	for {
		combo := make(map[string]string, len(keys))
		for i, k := range keys {
			combo[k] = dims[k][indices[i]]
		}
		result = append(result, combo)

		// odometer increment, rightmost key fastest
		for i := len(keys) - 1; i >= 0; i-- {
			indices[i]++
			if indices[i] < len(dims[keys[i]]) {
				break
			}
			indices[i] = 0
			if i == 0 {
				return result
			}
		}
	}
}

func urlEncodeMap(m map[string]string) map[string]string {
	result := make(map[string]string, len(m))
	for k, v := range m {
		result[k] = url.QueryEscape(v)
	}
	return result
}

func executeTemplate(tmpl *template.Template, data map[string]string) (string, error) {
	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// formatPanelName creates a name in the format "Base (v1, v2)".
// Values are ordered by sorted keys for consistent naming.
func formatPanelName(baseName string, combo map[string]string) string {
	keys := make([]string, 0, len(combo))
	for k := range combo {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = combo[k]
	}
	return fmt.Sprintf("%s (%s)", baseName, strings.Join(parts, ", "))
}

// mergeMaps merges multiple maps, with later maps taking precedence.
func mergeMaps(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// flattenMap converts a map to sorted key-value pairs for variadic options.
func flattenMap(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make([]string, 0, len(m)*2)
	for _, k := range keys {
		result = append(result, k, m[k])
	}
	return result
}
