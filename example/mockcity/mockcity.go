// Package mockcity serves a small fake city data API for demos and tests.
//
// Values drift on a fixed period so dashboards see real changes: traffic
// speed moves every few seconds, hospital occupancy, AQI and crop spoilage
// less often.
package mockcity

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// City is the mutable state behind the fake API.
type City struct {
	mu      sync.Mutex
	rng     *rand.Rand
	speed   float64
	closure bool
	icu     []int
	aqi     []int
	zoneAQI []int
	spoil   []int
	reports []map[string]any
	tick    time.Duration
	last    time.Time

	// stationsDown empties the station list
	stationsDown bool
}

// New returns a City whose values drift every tick. A zero tick never
// drifts, which keeps responses stable for tests.
func New(tick time.Duration) *City {
	return &City{
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		speed:   32,
		icu:     []int{18, 40, 7},
		aqi:     []int{142, 88, 201, 65, 173, 119, 54},
		zoneAQI: []int{156, 97, 233},
		spoil:   []int{72, 18, 55, 9},
		reports: []map[string]any{
			{"id": 1, "category": "pothole", "ward": "Indiranagar"},
		},
		tick:    tick,
		last:    time.Now(),
	}
}

// Handler returns the API routes.
func (c *City) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/traffic/", c.traffic)
	mux.HandleFunc("GET /api/health/", c.hospitals)
	mux.HandleFunc("GET /api/health/epidemiology/", c.epidemiology)
	mux.HandleFunc("GET /api/health/health_deserts/", c.deserts)
	mux.HandleFunc("GET /api/get_stations", c.stations)
	mux.HandleFunc("GET /api/farmer/", c.farmer)
	mux.HandleFunc("GET /api/citizen/", c.citizen)
	mux.HandleFunc("POST /api/citizen/", c.report)
	return mux
}

// SetStationsDown makes the station list come back empty, as when the AQI
// feed has no live stations.
func (c *City) SetStationsDown(down bool) {
	c.mu.Lock()
	c.stationsDown = down
	c.mu.Unlock()
}

// drift advances the simulation by however many ticks have passed.
func (c *City) drift() {
	if c.tick <= 0 {
		return
	}
	for time.Since(c.last) >= c.tick {
		c.last = c.last.Add(c.tick)
		c.speed = clamp(c.speed+float64(c.rng.Intn(9)-4), 5, 60)
		c.closure = c.rng.Intn(40) == 0
		i := c.rng.Intn(len(c.icu))
		c.icu[i] = clampInt(c.icu[i]+c.rng.Intn(3)-1, 0, 50)
		j := c.rng.Intn(len(c.aqi))
		c.aqi[j] = clampInt(c.aqi[j]+c.rng.Intn(21)-10, 20, 400)
		k := c.rng.Intn(len(c.spoil))
		c.spoil[k] = clampInt(c.spoil[k]+c.rng.Intn(11)-5, 0, 100)
	}
}

func (c *City) traffic(w http.ResponseWriter, r *http.Request) {
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if errLat != nil || errLon != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"status":  "error",
			"message": "lat and lon must be numeric",
		})
		return
	}

	c.mu.Lock()
	c.drift()
	speed := c.speed
	closure := c.closure
	c.mu.Unlock()

	freeFlow := 45.0
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"traffic": map[string]any{
			"currentSpeed":      speed,
			"freeFlowSpeed":     freeFlow,
			"currentTravelTime": int(600 * freeFlow / speed),
			"congestionScore":   int(100 * (1 - speed/freeFlow)),
			"roadClosure":       closure,
			"confidence":        0.9 + c.jitter(),
			"coordinates":       map[string]any{"lat": lat, "lon": lon},
			"frc":               "FRC2",
		},
	})
}

func (c *City) hospitals(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.drift()
	icu := append([]int(nil), c.icu...)
	c.mu.Unlock()

	names := []string{"Victoria", "St. John's", "Bowring"}
	out := make([]map[string]any, len(icu))
	for i, occupied := range icu {
		out[i] = map[string]any{
			"name":                  names[i%len(names)],
			"occupied_beds_icu":     occupied,
			"total_beds_icu":        50,
			"occupied_beds_general": 120 + occupied,
			"total_beds_general":    200,
			"oxygen_supply_level":   80 + i*5,
		}
	}
	// one hospital reports a garbled value, read as 0
	out[len(out)-1]["total_beds_general"] = "n/a"
	writeJSON(w, http.StatusOK, out)
}

// epidemiology reports an AQI per zone, used when no station is live.
func (c *City) epidemiology(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.drift()
	aqi := append([]int(nil), c.zoneAQI...)
	c.mu.Unlock()

	zones := []string{"Whitefield", "Koramangala", "Peenya"}
	out := make([]map[string]any, len(aqi))
	for i, v := range aqi {
		out[i] = map[string]any{"zone_name": zones[i%len(zones)], "aqi": v}
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *City) deserts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"count": 2,
		"wards": []string{"Yelahanka", "Bommanahalli"},
	})
}

func (c *City) stations(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.drift()
	aqi := append([]int(nil), c.aqi...)
	down := c.stationsDown
	c.mu.Unlock()

	if down {
		writeJSON(w, http.StatusOK, []map[string]any{})
		return
	}

	out := make([]map[string]any, 0, len(aqi)+1)
	for i, v := range aqi {
		out = append(out, map[string]any{
			"name": "Station " + strconv.Itoa(i+1),
			"aqi":  v,
		})
	}
	// no readings, filtered out of the hotspot list
	out = append(out, map[string]any{"zone_name": "Hebbal", "aqi": nil, "co2_estimated": nil})
	writeJSON(w, http.StatusOK, out)
}

func (c *City) farmer(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.drift()
	spoil := append([]int(nil), c.spoil...)
	c.mu.Unlock()

	crops := []string{"Tomato", "Wheat", "Onion", "Rice"}
	farmers := []string{"Ram Singh", "Harjeet Singh", "Green Haryana Co"}
	out := make([]map[string]any, len(spoil))
	for i, score := range spoil {
		out[i] = map[string]any{
			"crop_type":           crops[i%len(crops)],
			"farmer_name":         farmers[i%len(farmers)],
			"origin_zone_name":    "Kolar",
			"quantity_kg":         500 + 250*i,
			"spoilage_risk_score": score,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *City) citizen(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	reports := append([]map[string]any(nil), c.reports...)
	c.mu.Unlock()
	writeJSON(w, http.StatusOK, reports)
}

// report appends a citizen report from a JSON body.
func (c *City) report(w http.ResponseWriter, r *http.Request) {
	var in map[string]any
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": err.Error()})
		return
	}

	c.mu.Lock()
	in["id"] = len(c.reports) + 1
	c.reports = append(c.reports, in)
	c.mu.Unlock()

	writeJSON(w, http.StatusCreated, in)
}

func (c *City) jitter() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(c.rng.Intn(10)) / 100
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("mockcity: encode failed", "error", err)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
