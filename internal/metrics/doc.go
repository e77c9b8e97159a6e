// Package metrics exposes Prometheus instruments for panel synchronizers.
//
// A [Collector] owns its own registry, so several hubs (or tests) in one
// process never collide on metric registration.
package metrics
