package mockcity_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpalmerr/pulsesync"
	"github.com/jpalmerr/pulsesync/example/mockcity"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(mockcity.New(0).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func fetch(t *testing.T, p pulsesync.Panel) pulsesync.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := p.Fetcher().Fetch(ctx, p.Config().Params)
	require.NoError(t, err)
	return snap
}

func TestTrafficPreset(t *testing.T) {
	srv := newServer(t)

	p, err := pulsesync.TrafficPanel("Traffic", srv.URL, "12.97", "77.59")
	require.NoError(t, err)

	snap := fetch(t, p)
	speed, ok := snap.Lookup("traffic.currentSpeed")
	require.True(t, ok)
	assert.Equal(t, float64(32), speed)
	assert.Equal(t, "success", snap.String("status"))
}

func TestTrafficRejectsBadCoordinates(t *testing.T) {
	srv := newServer(t)

	resp, err := http.Get(srv.URL + "/api/traffic/?lat=x&lon=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthPreset(t *testing.T) {
	srv := newServer(t)

	p, err := pulsesync.HealthPanel("Health", srv.URL)
	require.NoError(t, err)

	snap := fetch(t, p)

	icu, ok := snap.Lookup("hospitals.totals.icu_occupied")
	require.True(t, ok)
	assert.Equal(t, float64(18+40+7), icu)

	// the garbled total counts as 0
	general, _ := snap.Lookup("hospitals.totals.general_total")
	assert.Equal(t, float64(400), general)

	deserts, _ := snap.Lookup("deserts.count")
	assert.Equal(t, float64(2), deserts)

	hotspots, _ := snap.Lookup("hotspots")
	require.Len(t, hotspots, 5)
	first := hotspots.([]any)[0].(map[string]any)
	assert.Equal(t, float64(201), first["aqi"])
}

func TestHealthPresetFallsBackToEpidemiology(t *testing.T) {
	city := mockcity.New(0)
	srv := httptest.NewServer(city.Handler())
	t.Cleanup(srv.Close)

	p, err := pulsesync.HealthPanel("Health", srv.URL)
	require.NoError(t, err)
	before := fetch(t, p)

	city.SetStationsDown(true)
	after := fetch(t, p)

	hotspots, ok := after.Lookup("hotspots")
	require.True(t, ok)
	require.Len(t, hotspots, 3)
	first := hotspots.([]any)[0].(map[string]any)
	assert.Equal(t, "Peenya", first["name"])
	assert.Equal(t, float64(233), first["aqi"])
	assert.False(t, pulsesync.FieldsEqual(p.Config().EqualityFields...)(before, after))
}

func TestFarmPreset(t *testing.T) {
	srv := newServer(t)

	p, err := pulsesync.FarmPanel("Farm", srv.URL)
	require.NoError(t, err)

	snap := fetch(t, p)
	assert.Equal(t, float64(4), snap["count"])
	assert.Equal(t, float64(2), snap["risk_count"])
}

func TestStationsPresetSkipsEmptyStations(t *testing.T) {
	srv := newServer(t)

	p, err := pulsesync.StationsPanel("Stations", srv.URL)
	require.NoError(t, err)

	snap := fetch(t, p)
	assert.Equal(t, float64(8), snap["count"])
	for _, s := range snap["top"].([]any) {
		assert.NotEqual(t, "Hebbal", s.(map[string]any)["name"])
	}
}

func TestCitizenReports(t *testing.T) {
	srv := newServer(t)

	p, err := pulsesync.CitizenPanel("Citizen", srv.URL)
	require.NoError(t, err)
	before := fetch(t, p)
	assert.Equal(t, float64(1), before["count"])

	resp, err := http.Post(srv.URL+"/api/citizen/", "application/json",
		strings.NewReader(`{"category": "streetlight", "ward": "Jayanagar"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	after := fetch(t, p)
	assert.Equal(t, float64(2), after["count"])
	assert.False(t, pulsesync.FieldsEqual("count", "items")(before, after))
}
