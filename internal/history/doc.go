// Package history persists accepted panel snapshots in SQLite so the
// dashboard can show how a panel changed over time.
//
// It uses the pure-Go modernc.org/sqlite driver; no CGO is required.
package history
