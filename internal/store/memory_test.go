package store

import (
	"sync"
	"testing"
	"time"
)

func TestNewMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	if store == nil {
		t.Fatal("NewMemoryStore() = nil")
	}
	if len(store.GetAll()) != 0 {
		t.Errorf("GetAll() = %v items, want 0", len(store.GetAll()))
	}
}

func TestMemoryStore_ApplyCreates(t *testing.T) {
	store := NewMemoryStore()

	store.Apply("traffic", EventState, func(s *PanelState) {
		s.Labels = map[string]string{"kind": "traffic"}
		s.Running = true
	})

	got, ok := store.Get("traffic")
	if !ok {
		t.Fatal("Get() missing panel after Apply")
	}
	if got.Name != "traffic" || !got.Running {
		t.Errorf("Get() = %+v, want running traffic panel", got)
	}
	if got.Health != "unknown" {
		t.Errorf("Health = %q, want unknown for a new panel", got.Health)
	}
	if got.Labels["kind"] != "traffic" {
		t.Errorf("Labels = %v", got.Labels)
	}
}

func TestMemoryStore_ApplyKeepsOtherFields(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()

	store.Apply("traffic", EventUpdate, func(s *PanelState) {
		s.Data = map[string]any{"speed": 40.0}
		s.UpdatedAt = &now
	})
	store.Apply("traffic", EventLoading, func(s *PanelState) {
		s.Loading = true
	})

	got, _ := store.Get("traffic")
	if !got.Loading {
		t.Error("Loading = false, want true")
	}
	if got.Data["speed"] != 40.0 {
		t.Errorf("Data = %v, want speed kept across partial updates", got.Data)
	}
}

func TestMemoryStore_ApplyCannotRename(t *testing.T) {
	store := NewMemoryStore()
	store.Apply("a", EventState, func(s *PanelState) { s.Name = "b" })

	if _, ok := store.Get("b"); ok {
		t.Error("mutate renamed the panel")
	}
	if _, ok := store.Get("a"); !ok {
		t.Error("panel a missing")
	}
}

func TestMemoryStore_GetAllSorted(t *testing.T) {
	store := NewMemoryStore()
	for _, name := range []string{"traffic", "citizen", "health"} {
		store.Apply(name, EventState, nil)
	}

	all := store.GetAll()
	want := []string{"citizen", "health", "traffic"}
	if len(all) != len(want) {
		t.Fatalf("GetAll() = %d items, want %d", len(all), len(want))
	}
	for i, name := range want {
		if all[i].Name != name {
			t.Errorf("GetAll()[%d].Name = %q, want %q", i, all[i].Name, name)
		}
	}
}

func TestMemoryStore_Subscribe(t *testing.T) {
	store := NewMemoryStore()
	ch := store.Subscribe()

	go store.Apply("traffic", EventUpdate, func(s *PanelState) {
		s.Data = map[string]any{"speed": 20.0}
	})

	select {
	case ev := <-ch:
		if ev.Type != EventUpdate || ev.Panel.Name != "traffic" {
			t.Errorf("event = %+v, want update for traffic", ev)
		}
		if ev.Panel.Data["speed"] != 20.0 {
			t.Errorf("event data = %v", ev.Panel.Data)
		}
	case <-time.After(time.Second):
		t.Error("Subscribe() channel did not receive event")
	}
}

func TestMemoryStore_EventLabelsAreSnapshots(t *testing.T) {
	store := NewMemoryStore()
	ch := store.Subscribe()

	store.Apply("p", EventState, func(s *PanelState) {
		s.Labels = map[string]string{"zone": "north"}
	})
	first := <-ch

	store.Apply("p", EventState, func(s *PanelState) {
		s.Labels["zone"] = "south"
	})
	<-ch

	if first.Panel.Labels["zone"] != "north" {
		t.Errorf("earlier event labels changed to %q", first.Panel.Labels["zone"])
	}
}

func TestMemoryStore_Unsubscribe(t *testing.T) {
	store := NewMemoryStore()
	ch := store.Subscribe()
	store.Unsubscribe(ch)

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("Unsubscribe() channel should be closed")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("Unsubscribe() channel should be closed immediately")
	}

	// second call is a no-op
	store.Unsubscribe(ch)
}

func TestMemoryStore_SlowSubscriberDoesNotBlock(t *testing.T) {
	store := NewMemoryStore()

	_ = store.Subscribe()
	ch2 := store.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 2*subscriberBuffer; i++ {
			store.Apply("p", EventUpdate, nil)
		}
		close(done)
	}()

	go func() {
		for range ch2 {
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Apply() blocked on slow subscriber")
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()

	var wg sync.WaitGroup
	const workers, ops = 10, 100

	for i := 0; i < workers; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			for j := 0; j < ops; j++ {
				store.Apply("p", EventLoading, func(s *PanelState) { s.Loading = !s.Loading })
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < ops; j++ {
				_ = store.GetAll()
			}
		}()
		go func() {
			defer wg.Done()
			ch := store.Subscribe()
			time.Sleep(10 * time.Millisecond)
			store.Unsubscribe(ch)
		}()
	}

	wg.Wait()
}

// TestMemoryStore_EventsInApplyOrder verifies that concurrent applies to one
// panel reach a subscriber in the order they were applied. Drops are
// allowed, reordering is not.
func TestMemoryStore_EventsInApplyOrder(t *testing.T) {
	store := NewMemoryStore()
	ch := store.Subscribe()

	received := make(chan []float64)
	go func() {
		var seen []float64
		for ev := range ch {
			seen = append(seen, ev.Panel.Data["n"].(float64))
		}
		received <- seen
	}()

	var wg sync.WaitGroup
	const workers, ops = 8, 50
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < ops; j++ {
				store.Apply("p", EventUpdate, func(s *PanelState) {
					prev, _ := s.Data["n"].(float64)
					s.Data = map[string]any{"n": prev + 1}
				})
			}
		}()
	}
	wg.Wait()
	store.Unsubscribe(ch)

	seen := <-received
	if len(seen) == 0 {
		t.Fatal("subscriber received no events")
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("event %d has n=%v after n=%v, want increasing", i, seen[i], seen[i-1])
		}
	}
	if got, _ := store.Get("p"); got.Data["n"] != float64(workers*ops) {
		t.Errorf("final n = %v, want %d", got.Data["n"], workers*ops)
	}
}
