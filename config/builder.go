package config

import (
	"fmt"
	"sort"

	"github.com/jpalmerr/pulsesync"
)

// BuildPanels converts parsed configuration into SDK Panel objects.
//
// It processes both direct panels and grids, returning a combined slice.
// Grid dimensions are expanded via cartesian product.
func BuildPanels(cfg *Config) ([]pulsesync.Panel, error) {
	var panels []pulsesync.Panel

	for i, pc := range cfg.Panels {
		p, err := buildPanel(pc)
		if err != nil {
			return nil, fmt.Errorf("panels[%d] (%s): %w", i, pc.Name, err)
		}
		panels = append(panels, p)
	}

	for i, gc := range cfg.Grids {
		gridPanels, err := buildGridPanels(gc)
		if err != nil {
			return nil, fmt.Errorf("grids[%d] (%s): %w", i, gc.Name, err)
		}
		panels = append(panels, gridPanels...)
	}

	return panels, nil
}

// buildPanel converts a single PanelConfig to an SDK Panel.
func buildPanel(pc PanelConfig) (pulsesync.Panel, error) {
	fetchOpts := fetcherOptions(pc.SyncFields)

	if pc.Preset != "" {
		return buildPreset(pc, fetchOpts)
	}

	f, err := pulsesync.NewHTTPFetcher(pc.URL, fetchOpts...)
	if err != nil {
		return pulsesync.Panel{}, err
	}

	sc := pulsesync.SyncConfig{
		Interval: defaultInterval,
		Params:   pulsesync.Params(pc.Params),
	}
	applySyncFields(&sc, pc.SyncFields)

	return pulsesync.NewPanel(pc.Name, f, sc, panelOptions(nil, pc.SyncFields)...)
}

// buildPreset builds the preset panel, then rebuilds it with any interval,
// equality, baseline or label overrides from the config.
func buildPreset(pc PanelConfig, fetchOpts []pulsesync.FetcherOption) (pulsesync.Panel, error) {
	var (
		p   pulsesync.Panel
		err error
	)
	switch pc.Preset {
	case PresetTraffic:
		p, err = pulsesync.TrafficPanel(pc.Name, pc.BaseURL, pc.Params["lat"], pc.Params["lon"], fetchOpts...)
	case PresetHealth:
		p, err = pulsesync.HealthPanel(pc.Name, pc.BaseURL, fetchOpts...)
	case PresetStations:
		p, err = pulsesync.StationsPanel(pc.Name, pc.BaseURL, fetchOpts...)
	case PresetCitizen:
		p, err = pulsesync.CitizenPanel(pc.Name, pc.BaseURL, fetchOpts...)
	case PresetFarm:
		p, err = pulsesync.FarmPanel(pc.Name, pc.BaseURL, fetchOpts...)
	default:
		return pulsesync.Panel{}, fmt.Errorf("unknown preset %q", pc.Preset)
	}
	if err != nil {
		return pulsesync.Panel{}, err
	}

	sc := p.Config()
	if pc.Preset != PresetTraffic && len(pc.Params) > 0 {
		sc.Params = pulsesync.Params(pc.Params)
	}
	applySyncFields(&sc, pc.SyncFields)

	return pulsesync.NewPanel(p.Name(), p.Fetcher(), sc, panelOptions(p.Labels(), pc.SyncFields)...)
}

// buildGridPanels expands a GridConfig into multiple panels via cartesian product.
func buildGridPanels(gc GridConfig) ([]pulsesync.Panel, error) {
	opts := []pulsesync.GridOption{
		pulsesync.WithURLTemplate(gc.URLTemplate),
		pulsesync.WithDimensions(gc.Dimensions),
		pulsesync.WithGridEqualityFields(gc.EqualityFields...),
		pulsesync.WithGridRetainBaseline(gc.RetainBaselineOnStop),
	}

	if gc.Interval != 0 {
		opts = append(opts, pulsesync.WithGridInterval(gc.Interval.Duration()))
	}
	if gc.NotifyOnEveryManualFetch != nil {
		opts = append(opts, pulsesync.WithGridQuietManualFetch(!*gc.NotifyOnEveryManualFetch))
	}
	if gc.Autostart != nil {
		opts = append(opts, pulsesync.WithGridAutostart(*gc.Autostart))
	}
	if len(gc.Labels) > 0 {
		opts = append(opts, pulsesync.WithGridLabels(mapToKeyValuePairs(gc.Labels)...))
	}
	if fetchOpts := fetcherOptions(gc.SyncFields); len(fetchOpts) > 0 {
		opts = append(opts, pulsesync.WithGridFetcherOptions(fetchOpts...))
	}

	return pulsesync.NewPanelGrid(gc.Name, opts...)
}

// fetcherOptions converts the fetch settings to SDK fetcher options.
func fetcherOptions(s SyncFields) []pulsesync.FetcherOption {
	var opts []pulsesync.FetcherOption

	if s.Method != "" {
		opts = append(opts, pulsesync.WithMethod(s.Method))
	}
	if s.Timeout != 0 {
		opts = append(opts, pulsesync.WithTimeout(s.Timeout.Duration()))
	}
	if len(s.Headers) > 0 {
		opts = append(opts, pulsesync.WithHeaders(mapToKeyValuePairs(s.Headers)...))
	}
	if s.Envelope != nil {
		opts = append(opts, pulsesync.WithEnvelope(s.Envelope.StatusField, s.Envelope.SuccessValue, s.Envelope.MessageField))
	}
	if s.DataPath != "" {
		opts = append(opts, pulsesync.WithDataPath(s.DataPath))
	}
	if len(s.RequiredParams) > 0 {
		opts = append(opts, pulsesync.WithRequiredParams(s.RequiredParams...))
	}
	if len(s.NumericParams) > 0 {
		opts = append(opts, pulsesync.WithNumericParams(s.NumericParams...))
	}
	return opts
}

// applySyncFields overlays explicit settings onto sc.
func applySyncFields(sc *pulsesync.SyncConfig, s SyncFields) {
	if s.Interval != 0 {
		sc.Interval = s.Interval.Duration()
	}
	if len(s.EqualityFields) > 0 {
		sc.EqualityFields = append([]string(nil), s.EqualityFields...)
	}
	if s.NotifyOnEveryManualFetch != nil {
		sc.QuietManualFetch = !*s.NotifyOnEveryManualFetch
	}
	if s.RetainBaselineOnStop {
		sc.RetainBaselineOnStop = true
	}
}

// panelOptions merges base labels with configured labels (configured wins)
// and carries the autostart flag.
func panelOptions(base map[string]string, s SyncFields) []pulsesync.PanelOption {
	labels := make(map[string]string, len(base)+len(s.Labels))
	for k, v := range base {
		labels[k] = v
	}
	for k, v := range s.Labels {
		labels[k] = v
	}

	var opts []pulsesync.PanelOption
	if len(labels) > 0 {
		opts = append(opts, pulsesync.WithLabels(mapToKeyValuePairs(labels)...))
	}
	if s.Autostart != nil {
		opts = append(opts, pulsesync.WithAutostart(*s.Autostart))
	}
	return opts
}

// mapToKeyValuePairs converts a map to a sorted slice of key-value pairs.
func mapToKeyValuePairs(m map[string]string) []string {
	// sort keys for deterministic ordering
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}
