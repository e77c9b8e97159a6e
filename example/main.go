package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/pulsesync"
	"github.com/jpalmerr/pulsesync/example/mockcity"
)

const cityAPI = "http://localhost:8000"

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// fake city API, values drift every 2 seconds
	api := &http.Server{
		Addr:              ":8000",
		Handler:           mockcity.New(2 * time.Second).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("mock city API failed", "error", err)
			os.Exit(1)
		}
	}()
	time.Sleep(100 * time.Millisecond)

	traffic, err := pulsesync.TrafficPanel("MG Road", cityAPI, "12.9756", "77.6066")
	if err != nil {
		fail(logger, "traffic panel", err)
	}
	health, err := pulsesync.HealthPanel("Health", cityAPI)
	if err != nil {
		fail(logger, "health panel", err)
	}
	stations, err := pulsesync.StationsPanel("Air Quality", cityAPI)
	if err != nil {
		fail(logger, "stations panel", err)
	}
	citizen, err := pulsesync.CitizenPanel("Citizen Reports", cityAPI, pulsesync.WithTimeout(5*time.Second))
	if err != nil {
		fail(logger, "citizen panel", err)
	}
	farm, err := pulsesync.FarmPanel("Crop Batches", cityAPI)
	if err != nil {
		fail(logger, "farm panel", err)
	}

	// grid: 2 junctions sampled from one declaration, started from the dashboard
	junctions, err := pulsesync.NewPanelGrid("Junction",
		pulsesync.WithURLTemplate(cityAPI+"/api/traffic/"),
		pulsesync.WithDimensions(map[string][]string{
			"lat": {"12.9172"},
			"lon": {"77.6228", "77.6101"},
		}),
		pulsesync.WithGridEqualityFields("traffic.currentSpeed", "traffic.roadClosure"),
		pulsesync.WithGridFetcherOptions(pulsesync.WithEnvelope("status", "success", "message")),
		pulsesync.WithGridAutostart(false),
	)
	if err != nil {
		fail(logger, "junction grid", err)
	}

	hub, err := pulsesync.NewHub(
		pulsesync.WithPanels(append([]pulsesync.Panel{traffic, health, stations, citizen, farm}, junctions...)...),
		pulsesync.WithPort(8080),
		pulsesync.WithTitle("Bengaluru Pulse"),
		pulsesync.WithLogger(logger),
		pulsesync.WithHistory("data/example-history.db"),
		pulsesync.WithHistoryRetention(200),
		pulsesync.WithUpdateCallback(func(panel string, snap pulsesync.Snapshot) {
			logger.Info("panel updated", "panel", panel)
		}),
	)
	if err != nil {
		fail(logger, "hub", err)
	}

	fmt.Println()
	fmt.Println("  PulseSync demo")
	fmt.Println()
	fmt.Println("  Dashboard:  http://localhost:8080")
	fmt.Println("  Metrics:    http://localhost:8080/metrics")
	fmt.Println("  City API:   http://localhost:8000/api/traffic/?lat=12.97&lon=77.59")
	fmt.Println()
	fmt.Println("  Add a citizen report to see that panel change:")
	fmt.Println(`    curl -X POST localhost:8000/api/citizen/ -d '{"category":"pothole"}'`)
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = hub.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = api.Shutdown(shutdownCtx)

	if err != nil {
		fail(logger, "hub run", err)
	}
}

func fail(logger *slog.Logger, what string, err error) {
	logger.Error("pulsesync example failed", "step", what, "error", err)
	os.Exit(1)
}
