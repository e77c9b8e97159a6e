// Package transport provides the pooled HTTP client used by pulsesync
// fetchers.
//
// Requests carry their own timeout through the context, so one client can
// serve panels with different timeout policies. Response bodies are capped
// at 1MB; larger bodies are reported as [ErrBodyTooLarge] rather than
// silently truncated.
//
// Users of the pulsesync library should not need to interact with this
// package directly. It is used by [pulsesync.HTTPFetcher].
package transport
