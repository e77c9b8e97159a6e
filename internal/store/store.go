package store

import "time"

// Event types published to subscribers.
const (
	EventUpdate  = "update"  // a new snapshot was accepted
	EventError   = "error"   // a fetch failed
	EventLoading = "loading" // a manual fetch started or finished
	EventHealth  = "health"  // fetch health changed
	EventState   = "state"   // the panel was started or stopped
	EventSync    = "sync"    // current state replayed to a new subscriber
)

// PanelState is the storage representation of one dashboard panel,
// shaped for JSON (REST API and SSE).
type PanelState struct {
	// Name is the panel's unique name.
	Name string `json:"name"`

	// Labels contains key-value metadata for grouping and filtering.
	Labels map[string]string `json:"labels"`

	// Running reports whether the panel's synchronizer is polling.
	Running bool `json:"running"`

	// Loading is true while a manual fetch is in flight.
	Loading bool `json:"loading"`

	// Health is "unknown", "ok" or "failing".
	Health string `json:"health"`

	// Data is the last accepted snapshot. Treat it as read-only.
	Data map[string]any `json:"data,omitempty"`

	// UpdatedAt is when Data was last replaced.
	UpdatedAt *time.Time `json:"updated_at,omitempty"`

	// Error is the latest failure message, cleared by the next success.
	Error *string `json:"error"`

	// ErrorKind is "network" or "bad_response" when Error is set.
	ErrorKind string `json:"error_kind,omitempty"`

	// ErrorAt is when Error was observed.
	ErrorAt *time.Time `json:"error_at,omitempty"`
}

// Event is one change published to subscribers.
type Event struct {
	// Type is one of the Event* constants.
	Type string `json:"type"`

	// Panel is the panel state after the change.
	Panel PanelState `json:"panel"`
}

// Store defines storage and subscription for panel state.
//
// Store implementations must be safe for concurrent access. The pub/sub
// mechanism allows real-time updates to be pushed to connected clients
// (e.g., via Server-Sent Events).
type Store interface {
	// Apply mutates the named panel's state under the store lock and
	// publishes the result as an event of type typ. A panel that does not
	// exist yet is created with the given name. Events for a panel are
	// published in the order their applies took effect.
	Apply(name, typ string, mutate func(*PanelState))

	// Get returns the named panel's state.
	Get(name string) (PanelState, bool)

	// GetAll returns every panel's state, sorted by name.
	GetAll() []PanelState

	// Subscribe returns a channel that receives events.
	// The returned channel has a buffer; slow consumers may miss events.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan Event

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan Event)
}
