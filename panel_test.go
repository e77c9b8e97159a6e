package pulsesync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewPanel(t *testing.T) {
	f := &scriptedFetcher{}
	cfg := scoreConfig()
	cfg.Params = Params{"zone": "north"}

	p, err := NewPanel("north", f, cfg, WithLabels("kind", "zone"))
	if err != nil {
		t.Fatalf("NewPanel() error = %v", err)
	}
	if p.Name() != "north" || !p.Autostart() {
		t.Errorf("Name()=%q Autostart()=%v", p.Name(), p.Autostart())
	}

	// panel holds its own copy
	cfg.Params["zone"] = "south"
	if p.Config().Params["zone"] != "north" {
		t.Error("NewPanel() kept a reference to the caller's params")
	}
	labels := p.Labels()
	labels["kind"] = "changed"
	if p.Labels()["kind"] != "zone" {
		t.Error("Labels() returned the internal map")
	}
}

func TestNewPanel_Errors(t *testing.T) {
	tests := []struct {
		name    string
		panel   string
		fetcher Fetcher
		cfg     SyncConfig
		opts    []PanelOption
	}{
		{"empty name", "", &scriptedFetcher{}, scoreConfig(), nil},
		{"slash in name", "a/b", &scriptedFetcher{}, scoreConfig(), nil},
		{"nil fetcher", "p", nil, scoreConfig(), nil},
		{"invalid config", "p", &scriptedFetcher{}, SyncConfig{}, nil},
		{"odd labels", "p", &scriptedFetcher{}, scoreConfig(), []PanelOption{WithLabels("k")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPanel(tt.panel, tt.fetcher, tt.cfg, tt.opts...); err == nil {
				t.Error("NewPanel() expected error, got nil")
			}
		})
	}
}

func TestTrafficPanel(t *testing.T) {
	p, err := TrafficPanel("cp", "http://localhost:8000/", "28.6139", "77.2090")
	if err != nil {
		t.Fatalf("TrafficPanel() error = %v", err)
	}

	f := p.Fetcher().(*HTTPFetcher)
	if f.URL() != "http://localhost:8000/api/traffic/" {
		t.Errorf("URL() = %q", f.URL())
	}
	cfg := p.Config()
	if cfg.Interval != 10*time.Second {
		t.Errorf("Interval = %v, want 10s", cfg.Interval)
	}
	if len(cfg.EqualityFields) != len(TrafficFields) {
		t.Errorf("EqualityFields = %v, want %v", cfg.EqualityFields, TrafficFields)
	}

	if _, err := TrafficPanel("cp", "http://localhost:8000", "north", "77.2"); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("TrafficPanel() with garbled lat error = %v, want ErrInvalidConfig", err)
	}
}

// TestTrafficPanel_EndToEnd polls a fake traffic resource whose speed moves
// 40, 40, 20 while its timestamp changes every time.
func TestTrafficPanel_EndToEnd(t *testing.T) {
	speeds := []int{40, 40, 20}
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		if n >= len(speeds) {
			n = len(speeds) - 1
		}
		fmt.Fprintf(w, `{"status":"success","ts":%d,"traffic":{"currentSpeed":%d,"freeFlowSpeed":55,"currentTravelTime":100,"congestionScore":10,"roadClosure":false}}`,
			time.Now().UnixNano(), speeds[n])
	}))
	defer server.Close()

	p, err := TrafficPanel("cp", server.URL, "28.6139", "77.2090")
	if err != nil {
		t.Fatalf("TrafficPanel() error = %v", err)
	}

	ev := &events{}
	s, err := New(p.Fetcher(), append(ev.options(), WithSyncLogger(testLogger()))...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ft := newFakeTicker()
	s.newTicker = func(time.Duration) ticker { return ft }
	if err := s.Configure(p.Config()); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	for i := 1; i <= 3; i++ {
		if i > 1 {
			ft.ch <- time.Now()
		}
		n := uint64(i)
		waitFor(t, fmt.Sprintf("cycle %d", i), func() bool { return s.Stats().Cycles >= n })
		settle(s)
	}

	updates := ev.Updates()
	if len(updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(updates))
	}
	if updates[1].Number("traffic.currentSpeed") != 20 {
		t.Errorf("second update speed = %v, want 20", updates[1].Number("traffic.currentSpeed"))
	}
}

func TestHospitalTotals(t *testing.T) {
	in := Snapshot{
		"items": []any{
			map[string]any{"occupied_beds_icu": 8.0, "total_beds_icu": 10.0, "occupied_beds_general": 50.0, "total_beds_general": 100.0, "oxygen_supply_level": 80.0},
			map[string]any{"occupied_beds_icu": "2", "total_beds_icu": 10.0, "occupied_beds_general": "n/a", "total_beds_general": 50.0, "oxygen_supply_level": 91.0},
		},
		"count": 2.0,
	}

	out, err := HospitalTotals(in)
	if err != nil {
		t.Fatalf("HospitalTotals() error = %v", err)
	}

	checks := map[string]float64{
		"totals.icu_occupied":     10,
		"totals.icu_total":        20,
		"totals.general_occupied": 50,
		"totals.general_total":    150,
		"totals.oxygen_avg":       86, // round(85.5)
	}
	for path, want := range checks {
		if got := out.Number(path); got != want {
			t.Errorf("%s = %v, want %v", path, got, want)
		}
	}
	if _, ok := in["totals"]; ok {
		t.Error("HospitalTotals() mutated its input")
	}

	if _, err := HospitalTotals(Snapshot{"name": "x"}); err == nil {
		t.Error("HospitalTotals() on non-list expected error")
	}
}

func TestAQIHotspots(t *testing.T) {
	in := Snapshot{"items": []any{
		map[string]any{"name": "Anand Vihar", "aqi": "412"},
		map[string]any{"name": "RK Puram", "aqi": 180.0},
		map[string]any{"name": "Lodhi Road", "aqi": "-", "co2_estimated": 410.0},
		map[string]any{"name": "Silent", "aqi": ""},
		map[string]any{"zone_name": "Dwarka", "aqi": 220.0},
		map[string]any{"name": "Okhla", "aqi": 300.0},
		map[string]any{"name": "Pusa", "aqi": 90.0},
		map[string]any{"name": "ITO", "aqi": 250.0},
	}}

	out, err := AQIHotspots(in)
	if err != nil {
		t.Fatalf("AQIHotspots() error = %v", err)
	}
	top, ok := out["top"].([]any)
	if !ok || len(top) != 5 {
		t.Fatalf("top = %#v, want 5 stations", out["top"])
	}

	wantNames := []string{"Anand Vihar", "Okhla", "ITO", "Dwarka", "RK Puram"}
	for i, want := range wantNames {
		got := top[i].(map[string]any)["name"]
		if got != want {
			t.Errorf("top[%d] = %v, want %s", i, got, want)
		}
	}
	if top[0].(map[string]any)["aqi"] != 412.0 {
		t.Errorf("top[0].aqi = %v, want 412", top[0].(map[string]any)["aqi"])
	}
}

func TestHealthHotspots(t *testing.T) {
	epidemiology := map[string]any{"items": []any{
		map[string]any{"zone_name": "Zone 3", "aqi": 140.0},
		map[string]any{"zone_name": "Zone 1", "aqi": "310"},
		map[string]any{"zone_name": "Zone 9"},
	}}

	t.Run("stations preferred", func(t *testing.T) {
		in := Snapshot{
			"stations": map[string]any{"items": []any{
				map[string]any{"name": "ITO", "aqi": 250.0},
			}},
			"epidemiology": epidemiology,
		}
		out, err := HealthHotspots(in)
		if err != nil {
			t.Fatalf("HealthHotspots() error = %v", err)
		}
		hotspots := out["hotspots"].([]any)
		if len(hotspots) != 1 || hotspots[0].(map[string]any)["name"] != "ITO" {
			t.Errorf("hotspots = %v, want only ITO", hotspots)
		}
	})

	t.Run("epidemiology fallback", func(t *testing.T) {
		in := Snapshot{
			"stations":     map[string]any{"items": []any{}, "count": 0.0},
			"epidemiology": epidemiology,
		}
		out, err := HealthHotspots(in)
		if err != nil {
			t.Fatalf("HealthHotspots() error = %v", err)
		}
		hotspots := out["hotspots"].([]any)
		wantNames := []string{"Zone 1", "Zone 3", "Zone 9"}
		if len(hotspots) != len(wantNames) {
			t.Fatalf("hotspots = %v, want %d zones", hotspots, len(wantNames))
		}
		for i, want := range wantNames {
			if got := hotspots[i].(map[string]any)["name"]; got != want {
				t.Errorf("hotspots[%d] = %v, want %s", i, got, want)
			}
		}
		if hotspots[2].(map[string]any)["aqi"] != 0.0 {
			t.Errorf("missing aqi ranked as %v, want 0", hotspots[2].(map[string]any)["aqi"])
		}
	})

	t.Run("nothing reported", func(t *testing.T) {
		out, err := HealthHotspots(Snapshot{"hospitals": map[string]any{}})
		if err != nil {
			t.Fatalf("HealthHotspots() error = %v", err)
		}
		if hotspots := out["hotspots"].([]any); len(hotspots) != 0 {
			t.Errorf("hotspots = %v, want empty", hotspots)
		}
	})
}

func TestSpoilageRisk(t *testing.T) {
	in := Snapshot{"count": 4.0, "items": []any{
		map[string]any{"crop_type": "Tomato", "spoilage_risk_score": 72.0},
		map[string]any{"crop_type": "Wheat", "spoilage_risk_score": 50.0},
		map[string]any{"crop_type": "Onion", "spoilage_risk_score": "61"},
		map[string]any{"crop_type": "Rice"},
	}}

	out, err := SpoilageRisk(in)
	if err != nil {
		t.Fatalf("SpoilageRisk() error = %v", err)
	}
	if out.Number("risk_count") != 2 {
		t.Errorf("risk_count = %v, want 2", out["risk_count"])
	}
	if _, ok := in["risk_count"]; ok {
		t.Error("SpoilageRisk() modified its input")
	}

	if _, err := SpoilageRisk(Snapshot{"crop": "Tomato"}); err == nil {
		t.Error("SpoilageRisk() expected error for a non-list response")
	}
}

func TestCombine(t *testing.T) {
	a := FetcherFunc(func(ctx context.Context, p Params) (Snapshot, error) {
		return Snapshot{"v": 1.0, "zone": p["zone"]}, nil
	})
	b := FetcherFunc(func(ctx context.Context, p Params) (Snapshot, error) {
		return Snapshot{"v": 2.0}, nil
	})

	c, err := Combine(map[string]Fetcher{"a": a, "b": b})
	if err != nil {
		t.Fatalf("Combine() error = %v", err)
	}
	snap, err := c.Fetch(context.Background(), Params{"zone": "north"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if snap.Number("a.v") != 1 || snap.Number("b.v") != 2 || snap.String("a.zone") != "north" {
		t.Errorf("combined snapshot = %v", snap)
	}
}

func TestCombine_PartFailure(t *testing.T) {
	ok := FetcherFunc(func(ctx context.Context, p Params) (Snapshot, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %w", ErrNetwork, ctx.Err())
	})
	bad := FetcherFunc(func(ctx context.Context, p Params) (Snapshot, error) {
		return nil, fmt.Errorf("%w: status 500", ErrBadResponse)
	})

	c, err := Combine(map[string]Fetcher{"a-slow": ok, "b-bad": bad})
	if err != nil {
		t.Fatalf("Combine() error = %v", err)
	}
	_, err = c.Fetch(context.Background(), nil)
	if !errors.Is(err, ErrBadResponse) {
		t.Fatalf("Fetch() error = %v, want the failing part's ErrBadResponse", err)
	}
	if !strings.HasPrefix(err.Error(), "b-bad:") {
		t.Errorf("Fetch() error = %q, want it prefixed with the part name", err)
	}
}

func TestCombine_ValidateParams(t *testing.T) {
	strict, err := NewHTTPFetcher("http://localhost/", WithRequiredParams("zone"))
	if err != nil {
		t.Fatalf("NewHTTPFetcher() error = %v", err)
	}
	c, err := Combine(map[string]Fetcher{"strict": strict, "loose": &scriptedFetcher{}})
	if err != nil {
		t.Fatalf("Combine() error = %v", err)
	}
	if err := c.ValidateParams(Params{}); err == nil {
		t.Error("ValidateParams() expected error for missing zone")
	}
	if err := c.ValidateParams(Params{"zone": "north"}); err != nil {
		t.Errorf("ValidateParams() error = %v", err)
	}
}

func TestCombine_PartPanic(t *testing.T) {
	good := FetcherFunc(func(ctx context.Context, p Params) (Snapshot, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %w", ErrNetwork, ctx.Err())
	})
	bad := FetcherFunc(func(ctx context.Context, p Params) (Snapshot, error) {
		panic("decoder exploded")
	})

	c, err := Combine(map[string]Fetcher{"a-slow": good, "b-panics": bad}, WithCombineLogger(testLogger()))
	if err != nil {
		t.Fatalf("Combine() error = %v", err)
	}
	ctx := WithCorrelationID(context.Background(), "req-7")
	_, err = c.Fetch(ctx, nil)
	if !errors.Is(err, ErrBadResponse) {
		t.Fatalf("Fetch() error = %v, want ErrBadResponse", err)
	}
	if !strings.HasPrefix(err.Error(), "b-panics:") || !strings.Contains(err.Error(), "part panic") {
		t.Errorf("Fetch() error = %q, want the panicking part named", err)
	}
	if !strings.Contains(err.Error(), "req-7") {
		t.Errorf("Fetch() error = %q, want the correlation id", err)
	}
}

// TestCombine_PartPanicInSynchronizer verifies that a panicking part is
// reported through OnError instead of taking down the process.
func TestCombine_PartPanicInSynchronizer(t *testing.T) {
	bad := FetcherFunc(func(ctx context.Context, p Params) (Snapshot, error) {
		panic("nil map in part")
	})
	c, err := Combine(map[string]Fetcher{"bad": bad, "ok": &scriptedFetcher{}}, WithCombineLogger(testLogger()))
	if err != nil {
		t.Fatalf("Combine() error = %v", err)
	}

	errCh := make(chan ErrorInfo, 1)
	s, err := New(c,
		WithSyncLogger(testLogger()),
		OnError(func(e ErrorInfo) { errCh <- e }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Configure(SyncConfig{Interval: time.Hour, EqualityFields: []string{"x"}}); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	select {
	case e := <-errCh:
		if e.Kind != KindBadResponse {
			t.Errorf("Kind = %v, want bad response", e.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error callback")
	}
}

func TestCombine_Transform(t *testing.T) {
	a := FetcherFunc(func(ctx context.Context, p Params) (Snapshot, error) {
		return Snapshot{"v": 1.0}, nil
	})
	b := FetcherFunc(func(ctx context.Context, p Params) (Snapshot, error) {
		return Snapshot{"v": 2.0}, nil
	})
	sum := func(s Snapshot) (Snapshot, error) {
		out := s.Clone()
		out["sum"] = s.Number("a.v") + s.Number("b.v")
		return out, nil
	}

	c, err := Combine(map[string]Fetcher{"a": a, "b": b}, WithCombineTransform(sum))
	if err != nil {
		t.Fatalf("Combine() error = %v", err)
	}
	snap, err := c.Fetch(context.Background(), nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if snap.Number("sum") != 3 {
		t.Errorf("sum = %v, want 3", snap["sum"])
	}

	failing, err := Combine(map[string]Fetcher{"a": a}, WithCombineTransform(func(Snapshot) (Snapshot, error) {
		return nil, errors.New("shape changed")
	}))
	if err != nil {
		t.Fatalf("Combine() error = %v", err)
	}
	if _, err := failing.Fetch(context.Background(), nil); !errors.Is(err, ErrBadResponse) {
		t.Errorf("Fetch() error = %v, want ErrBadResponse", err)
	}
}

func TestCombine_Errors(t *testing.T) {
	if _, err := Combine(nil); err == nil {
		t.Error("Combine(nil) expected error")
	}
	if _, err := Combine(map[string]Fetcher{"": &scriptedFetcher{}}); err == nil {
		t.Error("Combine() with empty part name expected error")
	}
	if _, err := Combine(map[string]Fetcher{"a": nil}); err == nil {
		t.Error("Combine() with nil part expected error")
	}
	if _, err := Combine(map[string]Fetcher{"a": &scriptedFetcher{}}, WithCombineLogger(nil)); err == nil {
		t.Error("Combine() with nil logger expected error")
	}
	if _, err := Combine(map[string]Fetcher{"a": &scriptedFetcher{}}, WithCombineTransform(nil)); err == nil {
		t.Error("Combine() with nil transform expected error")
	}
}

func TestHealthPanel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"name":"AIIMS","occupied_beds_icu":9,"total_beds_icu":10,"occupied_beds_general":80,"total_beds_general":100,"oxygen_supply_level":70}]`)
	})
	mux.HandleFunc("/api/health/epidemiology/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	mux.HandleFunc("/api/health/health_deserts/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"name":"Zone 7"}]`)
	})
	mux.HandleFunc("/api/get_stations", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"name":"ITO","aqi":"250"}]`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p, err := HealthPanel("health", server.URL)
	if err != nil {
		t.Fatalf("HealthPanel() error = %v", err)
	}
	if p.Config().Interval != 3*time.Second {
		t.Errorf("Interval = %v, want 3s", p.Config().Interval)
	}

	snap, err := p.Fetcher().Fetch(context.Background(), nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if snap.Number("hospitals.totals.icu_occupied") != 9 {
		t.Errorf("icu_occupied = %v, want 9", snap.Number("hospitals.totals.icu_occupied"))
	}
	if snap.Number("deserts.count") != 1 {
		t.Errorf("deserts.count = %v, want 1", snap.Number("deserts.count"))
	}
	hotspots, ok := snap["hotspots"].([]any)
	if !ok || len(hotspots) != 1 {
		t.Fatalf("hotspots = %#v, want the one station", snap["hotspots"])
	}
	if got := hotspots[0].(map[string]any)["name"]; got != "ITO" {
		t.Errorf("hotspots[0].name = %v, want ITO", got)
	}

	// identical second fetch must compare equal under the panel's rule
	again, err := p.Fetcher().Fetch(context.Background(), nil)
	if err != nil {
		t.Fatalf("second Fetch() error = %v", err)
	}
	if !FieldsEqual(p.Config().EqualityFields...)(snap, again) {
		t.Error("identical health fetches compared unequal")
	}
}

func TestFarmPanel(t *testing.T) {
	var risky atomic.Int32
	risky.Store(72)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/farmer/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[{"crop_type":"Tomato","spoilage_risk_score":%d},{"crop_type":"Wheat","spoilage_risk_score":10}]`, risky.Load())
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p, err := FarmPanel("farm", server.URL)
	if err != nil {
		t.Fatalf("FarmPanel() error = %v", err)
	}
	if p.Config().Interval != FarmInterval {
		t.Errorf("Interval = %v, want %v", p.Config().Interval, FarmInterval)
	}
	if p.Labels()["kind"] != "farm" {
		t.Errorf("kind label = %q, want farm", p.Labels()["kind"])
	}

	before, err := p.Fetcher().Fetch(context.Background(), nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if before.Number("count") != 2 || before.Number("risk_count") != 1 {
		t.Errorf("count=%v risk_count=%v, want 2 and 1", before["count"], before["risk_count"])
	}

	// a batch dropping under the threshold changes the panel
	risky.Store(40)
	after, err := p.Fetcher().Fetch(context.Background(), nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if FieldsEqual(p.Config().EqualityFields...)(before, after) {
		t.Error("risk change compared equal")
	}
}

func TestStationsAndCitizenPanels(t *testing.T) {
	sp, err := StationsPanel("aqi", "http://localhost:8000")
	if err != nil {
		t.Fatalf("StationsPanel() error = %v", err)
	}
	if got := sp.Fetcher().(*HTTPFetcher).URL(); got != "http://localhost:8000/api/get_stations" {
		t.Errorf("stations URL = %q", got)
	}

	cp, err := CitizenPanel("citizen", "http://localhost:8000/")
	if err != nil {
		t.Fatalf("CitizenPanel() error = %v", err)
	}
	if got := cp.Fetcher().(*HTTPFetcher).URL(); got != "http://localhost:8000/api/citizen/" {
		t.Errorf("citizen URL = %q", got)
	}

	if _, err := CitizenPanel("citizen", "localhost:8000"); err == nil {
		t.Error("CitizenPanel() with schemeless base expected error")
	}
}
