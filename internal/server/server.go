package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jpalmerr/pulsesync/internal/history"
	"github.com/jpalmerr/pulsesync/internal/store"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
	// Must be <= shutdown timeout to ensure clean shutdown.
	sseWriteTimeout = 5 * time.Second

	// defaultTitle is used when no custom title is configured.
	defaultTitle = "PulseSync"

	// titlePlaceholder is the marker in HTML that gets replaced with the actual title.
	titlePlaceholder = "{{.Title}}"
)

// Errors a [Controller] returns to select the response status.
var (
	// ErrNotFound maps to 404.
	ErrNotFound = errors.New("panel not found")

	// ErrConflict maps to 409, e.g. a manual refresh of a stopped panel.
	ErrConflict = errors.New("conflict")
)

// Controller drives panel synchronizers on behalf of API clients.
type Controller interface {
	// Refresh triggers a manual fetch of the named panel.
	Refresh(name string) error

	// StartPanel starts the named panel's synchronizer.
	StartPanel(name string) error

	// StopPanel stops the named panel's synchronizer.
	StopPanel(name string) error
}

// HistoryReader lists recorded snapshots.
type HistoryReader interface {
	List(ctx context.Context, panel string, limit int) ([]history.Entry, error)
}

// Server handles HTTP requests for the dashboard and API.
//
// Routes:
//   - GET /: the embedded dashboard HTML
//   - GET /api/panels: every panel's state as JSON
//   - GET /api/panels/{name}: one panel's state
//   - POST /api/panels/{name}/refresh|start|stop: panel control (needs a [Controller])
//   - GET /api/panels/{name}/history: recorded snapshots (needs a [HistoryReader])
//   - GET /api/sse: Server-Sent Events stream of store events
//   - GET /metrics: Prometheus metrics (needs a metrics handler)
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	store      store.Store
	port       int
	httpServer *http.Server
	assets     fs.FS
	title      string
	logger     *slog.Logger

	controller Controller
	history    HistoryReader
	metrics    http.Handler
}

// Option configures optional [Server] collaborators.
type Option func(*Server)

// WithController enables the panel control routes.
func WithController(c Controller) Option {
	return func(s *Server) { s.controller = c }
}

// WithHistory enables the history route.
func WithHistory(h HistoryReader) Option {
	return func(s *Server) { s.history = h }
}

// WithMetrics serves h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// NewServer creates a new HTTP [Server].
//
// Parameters:
//   - st: Store implementation for panel state
//   - port: TCP port to listen on
//   - assets: Embedded filesystem containing dashboard assets (may be nil)
//   - title: Dashboard title (defaults to "PulseSync" if empty)
//   - logger: Logger for server events
//
// The server is not started until [Server.Start] is called.
func NewServer(st store.Store, port int, assets fs.FS, title string, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		store:  st,
		port:   port,
		assets: assets,
		title:  title,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/panels", s.handlePanels)
	mux.HandleFunc("GET /api/panels/{name}", s.handlePanel)
	mux.HandleFunc("POST /api/panels/{name}/refresh", s.handleControl(func(c Controller, name string) error {
		return c.Refresh(name)
	}))
	mux.HandleFunc("POST /api/panels/{name}/start", s.handleControl(func(c Controller, name string) error {
		return c.StartPanel(name)
	}))
	mux.HandleFunc("POST /api/panels/{name}/stop", s.handleControl(func(c Controller, name string) error {
		return c.StopPanel(name)
	}))
	mux.HandleFunc("GET /api/panels/{name}/history", s.handleHistory)
	mux.HandleFunc("GET /api/sse", s.handleSSE)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	if s.assets != nil {
		mux.HandleFunc("GET /", s.handleDashboard)
	}
	return mux
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown with a 5-second
// timeout.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// request contexts end with ctx, which unblocks SSE handlers on shutdown
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}

// handleDashboard serves the main dashboard page.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if s.assets == nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	content, err := fs.ReadFile(s.assets, "assets/index.html")
	if err != nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	// escape to prevent XSS via the configured title
	title := s.title
	if title == "" {
		title = defaultTitle
	}
	rendered := strings.ReplaceAll(string(content), titlePlaceholder, html.EscapeString(title))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err = w.Write([]byte(rendered)); err != nil {
		s.logger.Error("failed to write dashboard response", "error", err)
	}
}

// handlePanels returns every panel's state as JSON.
func (s *Server) handlePanels(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.GetAll())
}

// handlePanel returns one panel's state as JSON.
func (s *Server) handlePanel(w http.ResponseWriter, r *http.Request) {
	state, ok := s.store.Get(r.PathValue("name"))
	if !ok {
		s.writeError(w, http.StatusNotFound, ErrNotFound.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

// handleControl adapts a controller action to an HTTP handler. Success is
// 202 since the fetch or stop completes asynchronously.
func (s *Server) handleControl(action func(Controller, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.controller == nil {
			s.writeError(w, http.StatusNotImplemented, "panel control is not enabled")
			return
		}
		name := r.PathValue("name")
		err := action(s.controller, name)
		switch {
		case err == nil:
			s.writeJSON(w, http.StatusAccepted, map[string]string{"panel": name, "status": "accepted"})
		case errors.Is(err, ErrNotFound):
			s.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, ErrConflict):
			s.writeError(w, http.StatusConflict, err.Error())
		default:
			s.logger.Error("panel control failed", "panel", name, "path", r.URL.Path, "error", err)
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
	}
}

// handleHistory returns the panel's recorded snapshots, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotImplemented, "history is not enabled")
		return
	}
	name := r.PathValue("name")
	if _, ok := s.store.Get(name); !ok {
		s.writeError(w, http.StatusNotFound, ErrNotFound.Error())
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.history.List(r.Context(), name, limit)
	if err != nil {
		s.logger.Error("failed to list history", "panel", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// handleSSE streams store events via Server-Sent Events.
//
// Each connection first receives a "sync" event per panel, then every
// event published by the store. Writes carry a deadline so slow or
// disconnected clients cannot pin the handler goroutine.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)

	// may not be supported by some ResponseWriter impls
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// subscribe before replaying so no event falls between the two
	ch := s.store.Subscribe()
	defer s.store.Unsubscribe(ch)

	for _, state := range s.store.GetAll() {
		data, err := json.Marshal(store.Event{Type: store.EventSync, Panel: state})
		if err != nil {
			continue
		}
		if err := writeAndFlush(data); err != nil {
			return
		}
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}

		case <-r.Context().Done():
			// fires on client disconnect and on server shutdown (BaseContext)
			return
		}
	}
}
