// Package server provides the HTTP server for the PulseSync dashboard and API.
//
// It handles every HTTP concern of a hub:
//
//   - Dashboard serving: the embedded HTML dashboard at "/"
//   - REST API: panel state under "/api/panels", plus refresh, start, stop
//     and history routes per panel
//   - Server-Sent Events: real-time store events at "/api/sse"
//   - Metrics: Prometheus exposition at "/metrics"
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
//
// Users of the pulsesync library should not need to interact with this
// package directly. The server is started by [pulsesync.Hub.Run].
package server
