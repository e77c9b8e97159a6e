// Package pulsesync keeps live dashboard panels in step with remote JSON
// resources: poll, diff, notify.
//
// A [Synchronizer] fetches a resource on a fixed interval, compares each
// fresh [Snapshot] with the last accepted one on a chosen set of fields and
// calls its update callback only when something relevant changed. Manual
// refreshes always notify, a refresh or tick never overlaps a fetch already
// in flight, and results that arrive after [Synchronizer.Stop] are dropped.
// Failures are reported through the error callback and never stop the
// schedule.
//
// # Quick Start
//
// Build panels and serve them on a live dashboard with graceful shutdown:
//
//	traffic, _ := pulsesync.TrafficPanel("Traffic", "http://localhost:8000", "12.9716", "77.5946")
//	health, _ := pulsesync.HealthPanel("Health", "http://localhost:8000")
//	hub, _ := pulsesync.NewHub(pulsesync.WithPanels(traffic, health))
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	hub.Run(ctx) // blocks until context is cancelled
//
// # Using a Synchronizer directly
//
// Any [Fetcher] works; [HTTPFetcher] covers JSON over HTTP:
//
//	f, _ := pulsesync.NewHTTPFetcher("https://api.example.com/score")
//	s, _ := pulsesync.New(f,
//	    pulsesync.OnUpdate(func(snap pulsesync.Snapshot) { fmt.Println(snap.Number("score")) }),
//	    pulsesync.OnError(func(e pulsesync.ErrorInfo) { log.Println(e.Kind, e.Err) }),
//	)
//	_ = s.Configure(pulsesync.SyncConfig{
//	    Interval:       10 * time.Second,
//	    EqualityFields: []string{"score"},
//	})
//	_ = s.Start(ctx)
//	defer s.Stop()
//
// # Panels
//
// A [Panel] pairs a fetcher with its [SyncConfig]. Presets cover the city
// dashboard resources ([TrafficPanel], [HealthPanel], [StationsPanel],
// [CitizenPanel], [FarmPanel]); [Combine] merges several resources into one
// snapshot and [NewPanelGrid] expands a URL template over parameter
// dimensions.
//
// # Architecture
//
// The hub is backed by several internal packages (under internal/):
//
//   - internal/transport: pooled HTTP client with body limits and timeouts
//   - internal/store: in-memory panel state with pub/sub for real-time updates
//   - internal/server: HTTP server with REST API and Server-Sent Events
//   - internal/metrics: Prometheus collectors for cycles and updates
//   - internal/history: SQLite log of accepted snapshots
//   - dashboard: embedded web UI assets
//
// The internal packages are not part of the public API and may change
// without notice.
package pulsesync
