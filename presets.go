package pulsesync

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Intervals used by the city dashboard panels.
const (
	TrafficInterval  = 10 * time.Second
	HealthInterval   = 3 * time.Second
	StationsInterval = 30 * time.Second
	CitizenInterval  = 30 * time.Second
	FarmInterval     = 30 * time.Second
)

// TrafficFields are the traffic fields whose change refreshes the panel.
// Confidence, coordinates and road class are intentionally ignored.
var TrafficFields = []string{
	"traffic.currentSpeed",
	"traffic.freeFlowSpeed",
	"traffic.currentTravelTime",
	"traffic.congestionScore",
	"traffic.roadClosure",
}

// HealthFields are the derived hospital totals and alert counts whose
// change refreshes the health panel.
var HealthFields = []string{
	"hospitals.totals.icu_occupied",
	"hospitals.totals.icu_total",
	"hospitals.totals.general_occupied",
	"hospitals.totals.general_total",
	"hospitals.totals.oxygen_avg",
	"deserts.count",
	"hotspots",
}

// FarmFields are the crop batch counts whose change refreshes the farm panel.
var FarmFields = []string{"count", "risk_count"}

const (
	// hotspotLimit is how many AQI stations the hotspot list keeps.
	hotspotLimit = 5

	// spoilageThreshold is the spoilage_risk_score above which a crop
	// batch counts as at risk.
	spoilageThreshold = 50
)

// TrafficPanel returns a panel polling baseURL + "/api/traffic/" for the
// flow segment at lat, lon every 10 seconds.
//
// The resource answers {"status": "success", "traffic": {...}} or
// {"status": "error", "message": "..."}; both lat and lon are required and
// must be numeric.
func TrafficPanel(name, baseURL, lat, lon string, opts ...FetcherOption) (Panel, error) {
	fetchOpts := append([]FetcherOption{
		WithEnvelope("status", "success", "message"),
		WithRequiredParams("lat", "lon"),
		WithNumericParams("lat", "lon"),
	}, opts...)

	f, err := NewHTTPFetcher(joinURL(baseURL, "/api/traffic/"), fetchOpts...)
	if err != nil {
		return Panel{}, err
	}
	params := Params{"lat": lat, "lon": lon}
	if err := f.ValidateParams(params); err != nil {
		return Panel{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return NewPanel(name, f, SyncConfig{
		Interval:       TrafficInterval,
		Params:         params,
		EqualityFields: TrafficFields,
	}, WithLabels("kind", "traffic", "lat", lat, "lon", lon))
}

// HealthPanel returns a panel that combines the hospital, epidemiology,
// health desert and AQI station resources under baseURL and refreshes every
// 3 seconds when the hospital totals, desert count or AQI hotspots change.
// The hotspot list comes from the stations, or from epidemiology when no
// station reports; see [HealthHotspots].
func HealthPanel(name, baseURL string, opts ...FetcherOption) (Panel, error) {
	hospitals, err := NewHTTPFetcher(joinURL(baseURL, "/api/health/"),
		append([]FetcherOption{WithTransform(HospitalTotals)}, opts...)...)
	if err != nil {
		return Panel{}, err
	}
	epidemiology, err := NewHTTPFetcher(joinURL(baseURL, "/api/health/epidemiology/"), opts...)
	if err != nil {
		return Panel{}, err
	}
	deserts, err := NewHTTPFetcher(joinURL(baseURL, "/api/health/health_deserts/"), opts...)
	if err != nil {
		return Panel{}, err
	}
	stations, err := NewHTTPFetcher(joinURL(baseURL, "/api/get_stations"), opts...)
	if err != nil {
		return Panel{}, err
	}

	combined, err := Combine(map[string]Fetcher{
		"hospitals":    hospitals,
		"epidemiology": epidemiology,
		"deserts":      deserts,
		"stations":     stations,
	}, WithCombineTransform(HealthHotspots))
	if err != nil {
		return Panel{}, err
	}

	return NewPanel(name, combined, SyncConfig{
		Interval:       HealthInterval,
		EqualityFields: HealthFields,
	}, WithLabels("kind", "health"))
}

// StationsPanel returns a panel listing the five worst AQI stations from
// baseURL + "/api/get_stations", refreshed when that list changes.
func StationsPanel(name, baseURL string, opts ...FetcherOption) (Panel, error) {
	f, err := NewHTTPFetcher(joinURL(baseURL, "/api/get_stations"),
		append([]FetcherOption{WithTransform(AQIHotspots)}, opts...)...)
	if err != nil {
		return Panel{}, err
	}
	return NewPanel(name, f, SyncConfig{
		Interval:       StationsInterval,
		EqualityFields: []string{"top"},
	}, WithLabels("kind", "stations"))
}

// CitizenPanel returns a panel over the citizen reports at
// baseURL + "/api/citizen/", refreshed when the report list changes.
func CitizenPanel(name, baseURL string, opts ...FetcherOption) (Panel, error) {
	f, err := NewHTTPFetcher(joinURL(baseURL, "/api/citizen/"), opts...)
	if err != nil {
		return Panel{}, err
	}
	return NewPanel(name, f, SyncConfig{
		Interval:       CitizenInterval,
		EqualityFields: []string{"count", "items"},
	}, WithLabels("kind", "citizen"))
}

// FarmPanel returns a panel over the crop batches at
// baseURL + "/api/farmer/", refreshed when the batch count or the number of
// batches at spoilage risk changes.
func FarmPanel(name, baseURL string, opts ...FetcherOption) (Panel, error) {
	f, err := NewHTTPFetcher(joinURL(baseURL, "/api/farmer/"),
		append([]FetcherOption{WithTransform(SpoilageRisk)}, opts...)...)
	if err != nil {
		return Panel{}, err
	}
	return NewPanel(name, f, SyncConfig{
		Interval:       FarmInterval,
		EqualityFields: FarmFields,
	}, WithLabels("kind", "farm"))
}

// HospitalTotals is a [Transform] for hospital lists. It adds a "totals"
// object summing ICU and general beds and averaging oxygen supply, with
// garbled numbers read as 0.
func HospitalTotals(s Snapshot) (Snapshot, error) {
	items, ok := s["items"].([]any)
	if !ok {
		return nil, errors.New("hospital list expected")
	}

	var icu, icuTotal, general, generalTotal, oxygen float64
	for _, item := range items {
		h, ok := asObject(item)
		if !ok {
			continue
		}
		icu += numberOrZero(h["occupied_beds_icu"])
		icuTotal += numberOrZero(h["total_beds_icu"])
		general += numberOrZero(h["occupied_beds_general"])
		generalTotal += numberOrZero(h["total_beds_general"])
		oxygen += numberOrZero(h["oxygen_supply_level"])
	}

	avg := 0.0
	if len(items) > 0 {
		avg = math.Round(oxygen / float64(len(items)))
	}

	out := s.Clone()
	out["totals"] = map[string]any{
		"icu_occupied":     icu,
		"icu_total":        icuTotal,
		"general_occupied": general,
		"general_total":    generalTotal,
		"oxygen_avg":       avg,
	}
	return out, nil
}

// AQIHotspots is a [Transform] for AQI station lists. It adds a "top" list
// of the five stations with the highest AQI, considering only stations that
// report an AQI or a CO2 estimate. Unparseable AQI values rank as 0.
func AQIHotspots(s Snapshot) (Snapshot, error) {
	items, ok := s["items"].([]any)
	if !ok {
		return nil, errors.New("station list expected")
	}

	out := s.Clone()
	out["top"] = rankByAQI(items, true)
	return out, nil
}

// HealthHotspots is a [Transform] for the combined health snapshot. It adds
// a "hotspots" list of the five highest AQI entries from "stations", or
// from "epidemiology" when the station list is empty. Entries are not
// filtered by reading; a missing AQI ranks as 0.
func HealthHotspots(s Snapshot) (Snapshot, error) {
	list := partItems(s, "stations")
	if len(list) == 0 {
		list = partItems(s, "epidemiology")
	}

	out := s.Clone()
	out["hotspots"] = rankByAQI(list, false)
	return out, nil
}

// SpoilageRisk is a [Transform] for crop batch lists. It adds "risk_count",
// the number of batches whose spoilage_risk_score is above 50.
func SpoilageRisk(s Snapshot) (Snapshot, error) {
	items, ok := s["items"].([]any)
	if !ok {
		return nil, errors.New("crop batch list expected")
	}

	risk := 0
	for _, item := range items {
		batch, ok := asObject(item)
		if !ok {
			continue
		}
		if numberOrZero(batch["spoilage_risk_score"]) > spoilageThreshold {
			risk++
		}
	}

	out := s.Clone()
	out["risk_count"] = float64(risk)
	return out, nil
}

// partItems returns the decoded list of a combined part, or nil.
func partItems(s Snapshot, part string) []any {
	obj, ok := asObject(s[part])
	if !ok {
		return nil
	}
	items, _ := obj["items"].([]any)
	return items
}

// rankByAQI returns up to five {name, aqi} entries ordered by AQI, highest
// first. With requireReading set, entries reporting neither an AQI nor a
// CO2 estimate are skipped. Names fall back to zone_name.
func rankByAQI(items []any, requireReading bool) []any {
	type station struct {
		name string
		aqi  float64
	}
	var ranked []station
	for _, item := range items {
		st, ok := asObject(item)
		if !ok {
			continue
		}
		if requireReading && !truthy(st["aqi"]) && !truthy(st["co2_estimated"]) {
			continue
		}
		name, _ := st["name"].(string)
		if name == "" {
			name, _ = st["zone_name"].(string)
		}
		ranked = append(ranked, station{name: name, aqi: numberOrZero(st["aqi"])})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].aqi > ranked[j].aqi
	})
	if len(ranked) > hotspotLimit {
		ranked = ranked[:hotspotLimit]
	}

	top := make([]any, len(ranked))
	for i, st := range ranked {
		top[i] = map[string]any{"name": st.name, "aqi": st.aqi}
	}
	return top
}

// truthy reports whether a JSON value would count as present in a
// dashboard filter: non-null, non-zero, non-empty.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0 && !math.IsNaN(t)
	default:
		return true
	}
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
