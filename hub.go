package pulsesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jpalmerr/pulsesync/dashboard"
	"github.com/jpalmerr/pulsesync/internal/history"
	"github.com/jpalmerr/pulsesync/internal/metrics"
	"github.com/jpalmerr/pulsesync/internal/server"
	"github.com/jpalmerr/pulsesync/internal/store"
)

const (
	defaultPort = 8080

	// historyWriteTimeout bounds one history insert from an update callback.
	historyWriteTimeout = 2 * time.Second
)

// Hub runs one [Synchronizer] per [Panel] and serves their state to a
// live dashboard.
//
// Accepted snapshots, errors, loading phases and health changes flow into an
// in-memory store that feeds the REST API and the Server-Sent Events
// stream. Every cycle is recorded as Prometheus metrics, and accepted
// snapshots are optionally appended to a SQLite history.
//
// The typical lifecycle is:
//
//	traffic, _ := pulsesync.TrafficPanel("Traffic", "http://localhost:8000", "12.97", "77.59")
//	hub, err := pulsesync.NewHub(pulsesync.WithPanel(traffic))
//	if err != nil {
//	    slog.Error("failed to create hub", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	hub.Run(ctx) // blocks until context cancelled
//
// Panels are independent: one panel's failures, stops or manual refreshes
// never affect another.
type Hub struct {
	title            string
	panels           []Panel
	port             int
	logger           *slog.Logger
	historyPath      string
	historyRetention int
	updateCallbacks  []func(string, Snapshot)
	errorCallbacks   []func(string, ErrorInfo)

	store     *store.MemoryStore
	collector *metrics.Collector
	syncs     map[string]*Synchronizer

	// ctrlMu serializes StartPanel and StopPanel.
	ctrlMu sync.Mutex

	mu      sync.Mutex
	runCtx  context.Context
	history *history.Store
}

// NewHub creates a [Hub] with the given options.
//
// At least one panel must be configured via [WithPanel] or [WithPanels].
// Each panel's synchronizer is created and configured here, so invalid
// params (e.g. a non-numeric latitude) fail fast.
//
// Returns an error if no panels are configured, two panels share a name,
// or any option or panel configuration is invalid.
func NewHub(opts ...HubOption) (*Hub, error) {
	cfg := &hubConfig{
		port: defaultPort,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if len(cfg.panels) == 0 {
		return nil, errors.New("at least one panel is required")
	}

	seen := make(map[string]bool, len(cfg.panels))
	for _, p := range cfg.panels {
		if p.name == "" || p.fetcher == nil {
			return nil, errors.New("panels must be created with NewPanel")
		}
		if seen[p.name] {
			return nil, fmt.Errorf("duplicate panel name: %q", p.name)
		}
		seen[p.name] = true
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Hub{
		title:            cfg.title,
		panels:           cfg.panels,
		port:             cfg.port,
		logger:           logger,
		historyPath:      cfg.historyPath,
		historyRetention: cfg.historyRetention,
		updateCallbacks:  cfg.updateCallbacks,
		errorCallbacks:   cfg.errorCallbacks,
		store:            store.NewMemoryStore(),
		collector:        metrics.NewCollector(),
		syncs:            make(map[string]*Synchronizer, len(cfg.panels)),
	}

	for _, p := range h.panels {
		s, err := h.newSynchronizer(p)
		if err != nil {
			return nil, fmt.Errorf("panel %q: %w", p.name, err)
		}
		h.syncs[p.name] = s

		labels := p.Labels()
		h.store.Apply(p.name, store.EventState, func(st *store.PanelState) {
			st.Labels = labels
		})
	}

	return h, nil
}

// newSynchronizer wires a panel's synchronizer to the store, the metrics
// collector, the history and the registered callbacks.
func (h *Hub) newSynchronizer(p Panel) (*Synchronizer, error) {
	name := p.name

	s, err := New(p.fetcher,
		WithName(name),
		WithSyncLogger(h.logger),
		WithRecorder(h.collector),
		OnUpdate(func(snap Snapshot) { h.handleUpdate(name, snap) }),
		OnError(func(info ErrorInfo) { h.handleError(name, info) }),
		OnLoadingChanged(func(loading bool) {
			h.store.Apply(name, store.EventLoading, func(st *store.PanelState) {
				st.Loading = loading
			})
		}),
		OnHealthChanged(func(health Health) {
			h.store.Apply(name, store.EventHealth, func(st *store.PanelState) {
				st.Health = health.String()
				if health == HealthOK {
					st.Error = nil
					st.ErrorKind = ""
					st.ErrorAt = nil
				}
			})
		}),
	)
	if err != nil {
		return nil, err
	}
	if err := s.Configure(p.config); err != nil {
		return nil, err
	}
	return s, nil
}

func (h *Hub) handleUpdate(name string, snap Snapshot) {
	now := time.Now()
	h.store.Apply(name, store.EventUpdate, func(st *store.PanelState) {
		st.Data = snap
		st.UpdatedAt = &now
	})

	h.mu.Lock()
	hist := h.history
	h.mu.Unlock()
	if hist != nil {
		h.appendHistory(hist, name, now, snap)
	}

	for _, cb := range h.updateCallbacks {
		cp := snap.Clone()
		invokeSafe(h.logger, "hub update", func() { cb(name, cp) })
	}
}

func (h *Hub) appendHistory(hist *history.Store, name string, at time.Time, snap Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()

	if err := hist.Append(ctx, name, at, snap); err != nil {
		h.logger.Warn("failed to record history", "panel", name, "error", err)
		return
	}
	if h.historyRetention > 0 {
		if _, err := hist.Prune(ctx, name, h.historyRetention); err != nil {
			h.logger.Warn("failed to prune history", "panel", name, "error", err)
		}
	}
}

func (h *Hub) handleError(name string, info ErrorInfo) {
	msg := info.Error()
	at := info.At
	h.store.Apply(name, store.EventError, func(st *store.PanelState) {
		st.Error = &msg
		st.ErrorKind = info.Kind.String()
		st.ErrorAt = &at
	})

	for _, cb := range h.errorCallbacks {
		invokeSafe(h.logger, "hub error", func() { cb(name, info) })
	}
}

// Run starts the autostart panels and serves the dashboard.
//
// Run is a blocking call that runs until the provided context is cancelled.
// During execution:
//
//   - Every autostart panel fetches immediately, then at its own interval
//   - The HTTP server serves the dashboard, API, SSE stream and metrics
//   - Panels can be refreshed, started and stopped through the API
//
// Returns nil on graceful shutdown. Returns an error if the history
// database cannot be opened or the HTTP server fails to start.
func (h *Hub) Run(ctx context.Context) error {
	h.logger.Info("pulsesync starting", "panel_count", len(h.panels))
	h.logger.Info("dashboard available", "url", fmt.Sprintf("http://localhost:%d", h.port))

	if ctx.Err() != nil {
		return nil
	}

	opts := []server.Option{
		server.WithController(hubController{h}),
		server.WithMetrics(h.collector.Handler()),
	}

	var hist *history.Store
	if h.historyPath != "" {
		var err error
		hist, err = history.Open(h.historyPath)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		opts = append(opts, server.WithHistory(hist))
		h.logger.Info("history enabled", "path", h.historyPath)
	}

	h.mu.Lock()
	h.runCtx = ctx
	h.history = hist
	h.mu.Unlock()

	httpServer := server.NewServer(h.store, h.port, dashboard.Assets, h.title, h.logger, opts...)
	if err := httpServer.Start(ctx); err != nil {
		h.shutdown()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	for _, p := range h.panels {
		if !p.autostart {
			continue
		}
		if err := h.StartPanel(p.name); err != nil {
			h.logger.Error("failed to start panel", "panel", p.name, "error", err)
		}
	}

	<-ctx.Done()
	h.shutdown()
	h.logger.Info("pulsesync stopped")
	return nil
}

// shutdown stops every panel and closes the history.
func (h *Hub) shutdown() {
	for _, p := range h.panels {
		_ = h.StopPanel(p.name)
	}

	h.mu.Lock()
	hist := h.history
	h.history = nil
	h.runCtx = nil
	h.mu.Unlock()

	if hist != nil {
		if err := hist.Close(); err != nil {
			h.logger.Error("failed to close history", "error", err)
		}
	}
}

// StartPanel starts the named panel's synchronizer. Starting a running
// panel is a no-op.
//
// Returns [ErrUnknownPanel] for an unknown name and an error wrapping
// [ErrIllegalState] if the hub is not running.
func (h *Hub) StartPanel(name string) error {
	s, ok := h.syncs[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPanel, name)
	}

	h.ctrlMu.Lock()
	defer h.ctrlMu.Unlock()

	h.mu.Lock()
	ctx := h.runCtx
	h.mu.Unlock()
	if ctx == nil {
		return illegalState("hub is not running")
	}

	if s.Running() {
		return nil
	}
	if err := s.Start(ctx); err != nil {
		return err
	}
	h.collector.PanelsRunning.Inc()
	h.store.Apply(name, store.EventState, func(st *store.PanelState) {
		st.Running = true
		st.Health = HealthUnknown.String()
	})
	return nil
}

// StopPanel stops the named panel's synchronizer. Any in-flight result is
// discarded. Stopping a stopped panel is a no-op.
//
// Returns [ErrUnknownPanel] for an unknown name.
func (h *Hub) StopPanel(name string) error {
	s, ok := h.syncs[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPanel, name)
	}

	h.ctrlMu.Lock()
	defer h.ctrlMu.Unlock()

	if !s.Running() {
		return nil
	}

	s.Stop()
	h.collector.PanelsRunning.Dec()
	h.store.Apply(name, store.EventState, func(st *store.PanelState) {
		st.Running = false
		st.Loading = false
		st.Health = HealthUnknown.String()
		st.Error = nil
		st.ErrorKind = ""
		st.ErrorAt = nil
	})
	return nil
}

// Refresh triggers a manual fetch of the named panel.
//
// Returns [ErrUnknownPanel] for an unknown name and an error wrapping
// [ErrIllegalState] if the panel is stopped or already refreshing.
func (h *Hub) Refresh(name string) error {
	s, ok := h.syncs[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPanel, name)
	}
	return s.TriggerManual()
}

// Synchronizer returns the named panel's synchronizer.
func (h *Hub) Synchronizer(name string) (*Synchronizer, bool) {
	s, ok := h.syncs[name]
	return s, ok
}

// Panels returns a copy of the configured panels.
func (h *Hub) Panels() []Panel {
	cp := make([]Panel, len(h.panels))
	copy(cp, h.panels)
	return cp
}

// Port returns the configured HTTP port for the dashboard server.
func (h *Hub) Port() int {
	return h.port
}

// hubController maps hub errors onto the server's status errors.
type hubController struct {
	h *Hub
}

func (c hubController) Refresh(name string) error    { return serverError(c.h.Refresh(name)) }
func (c hubController) StartPanel(name string) error { return serverError(c.h.StartPanel(name)) }
func (c hubController) StopPanel(name string) error  { return serverError(c.h.StopPanel(name)) }

func serverError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnknownPanel):
		return fmt.Errorf("%w: %w", server.ErrNotFound, err)
	case errors.Is(err, ErrIllegalState):
		return fmt.Errorf("%w: %w", server.ErrConflict, err)
	default:
		return err
	}
}
