package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records synchronizer cycles. It satisfies pulsesync.Recorder.
type Collector struct {
	registry *prometheus.Registry

	// CyclesTotal counts completed fetch cycles by panel, mode and outcome.
	CyclesTotal *prometheus.CounterVec

	// FetchDurationSeconds measures fetch latency by panel and mode.
	FetchDurationSeconds *prometheus.HistogramVec

	// UpdatesTotal counts snapshots delivered to the update callback.
	UpdatesTotal *prometheus.CounterVec

	// SkippedTicksTotal counts ticks dropped because a fetch was in flight.
	SkippedTicksTotal *prometheus.CounterVec

	// PanelsRunning tracks how many panels are currently polling.
	PanelsRunning prometheus.Gauge
}

// NewCollector creates a [Collector] with a fresh registry that also
// carries the Go runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		CyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsesync_cycles_total",
				Help: "Total number of completed fetch cycles",
			},
			[]string{"panel", "mode", "outcome"},
		),
		FetchDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulsesync_fetch_duration_seconds",
				Help:    "Latency of panel fetches",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"panel", "mode"},
		),
		UpdatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsesync_updates_total",
				Help: "Total number of snapshots delivered to subscribers",
			},
			[]string{"panel"},
		),
		SkippedTicksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsesync_skipped_ticks_total",
				Help: "Total number of ticks skipped while a fetch was in flight",
			},
			[]string{"panel"},
		),
		PanelsRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pulsesync_panels_running",
				Help: "Number of panels currently polling",
			},
		),
	}
}

// ObserveCycle records one completed cycle.
func (c *Collector) ObserveCycle(name, mode, outcome string, d time.Duration) {
	c.CyclesTotal.WithLabelValues(name, mode, outcome).Inc()
	c.FetchDurationSeconds.WithLabelValues(name, mode).Observe(d.Seconds())
}

// ObserveUpdate records one delivered snapshot.
func (c *Collector) ObserveUpdate(name string) {
	c.UpdatesTotal.WithLabelValues(name).Inc()
}

// ObserveSkippedTick records one skipped tick.
func (c *Collector) ObserveSkippedTick(name string) {
	c.SkippedTicksTotal.WithLabelValues(name).Inc()
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
