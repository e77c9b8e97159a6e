package store

import (
	"sort"
	"sync"
)

// subscriberBuffer is the per-subscriber channel capacity.
const subscriberBuffer = 100

// MemoryStore is an in-memory implementation of [Store].
//
// Panel state is keyed by panel name. Subscribers receive events via
// buffered channels; if a subscriber's buffer is full, the event is dropped
// for that subscriber rather than blocking the synchronizer callbacks that
// feed the store.
type MemoryStore struct {
	mu          sync.RWMutex
	panels      map[string]PanelState
	subscribers map[chan Event]struct{}
	subMu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory [Store] implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		panels:      make(map[string]PanelState),
		subscribers: make(map[chan Event]struct{}),
	}
}

// Apply implements [Store].
func (m *MemoryStore) Apply(name, typ string, mutate func(*PanelState)) {
	m.mu.Lock()
	state, ok := m.panels[name]
	if !ok {
		state = PanelState{Name: name, Health: "unknown"}
	}
	state.Labels = copyLabels(state.Labels)
	if mutate != nil {
		mutate(&state)
	}
	state.Name = name
	m.panels[name] = state

	// publish under mu so subscribers see a panel's events in apply order
	m.notifySubscribers(Event{Type: typ, Panel: state})
	m.mu.Unlock()
}

// Get implements [Store].
func (m *MemoryStore) Get(name string) (PanelState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.panels[name]
	return state, ok
}

// GetAll implements [Store].
func (m *MemoryStore) GetAll() []PanelState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]PanelState, 0, len(m.panels))
	for _, state := range m.panels {
		results = append(results, state)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}

// Subscribe implements [Store]. The returned channel has a buffer of 100.
func (m *MemoryStore) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()
	return ch
}

// Unsubscribe implements [Store].
func (m *MemoryStore) Unsubscribe(ch <-chan Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// notifySubscribers sends the event to all subscribers without blocking.
func (m *MemoryStore) notifySubscribers(ev Event) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
			// subscriber is slow, drop the event
		}
	}
}

// copyLabels gives every stored state its own label map so published
// events never alias the live entry.
func copyLabels(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
