package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/kalambet/aide/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockStore struct {
	mu      sync.Mutex
	events  []storage.TelemetryEvent
	batches int
	err     error
}

func (m *mockStore) SaveTelemetry(ctx context.Context, events []storage.TelemetryEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, events...)
	return nil
}

func (m *mockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func TestRecord_NeverBlocksWhenFull(t *testing.T) {
	s := NewSink(&mockStore{}, 2, 0)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			s.Record(KindTurn, nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked with no drain running")
	}
	if got := s.Dropped(); got != 8 {
		t.Errorf("Dropped = %d, want 8", got)
	}
}

func TestRun_FlushesOnTickAndShutdown(t *testing.T) {
	store := &mockStore{}
	s := NewSink(store, 16, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()

	s.Record(KindTurn, map[string]any{"category": "greeting", "outcome": "ok"})
	deadline := time.Now().Add(time.Second)
	for store.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if store.count() != 1 {
		t.Fatalf("events after tick = %d, want 1", store.count())
	}

	cancel()
	<-stopped

	var attrs map[string]string
	if err := json.Unmarshal([]byte(store.events[0].AttrsJSON), &attrs); err != nil {
		t.Fatalf("attrs not JSON: %v", err)
	}
	if attrs["category"] != "greeting" || store.events[0].Kind != KindTurn || store.events[0].ID == "" {
		t.Errorf("event = %+v", store.events[0])
	}
}

func TestRun_FinalFlushOnCancel(t *testing.T) {
	store := &mockStore{}
	s := NewSink(store, 16, time.Hour)
	for i := 0; i < 5; i++ {
		s.Record(KindAction, nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Run(ctx)

	if store.count() != 5 {
		t.Errorf("events = %d, want 5", store.count())
	}
}

func TestRun_StoreErrorDoesNotStop(t *testing.T) {
	store := &mockStore{err: errors.New("disk full")}
	s := NewSink(store, 16, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()
	s.Record(KindTurn, nil)
	time.Sleep(30 * time.Millisecond)
	cancel()
	<-stopped

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.batches == 0 {
		t.Error("store never called")
	}
}

func TestNilSink(t *testing.T) {
	var s *Sink
	s.Record(KindTurn, nil)
	if s.Dropped() != 0 {
		t.Error("nil sink dropped events")
	}
}

func TestSink_SQLite(t *testing.T) {
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	s := NewSink(st, 8, time.Hour)
	s.Record(KindTierUnlocked, map[string]any{"from": "novice", "to": "analytical"})
	s.Record(KindTurn, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Run(ctx)

	if n, err := st.CountTelemetry(""); err != nil || n != 2 {
		t.Errorf("CountTelemetry = %d, %v; want 2", n, err)
	}
	if n, _ := st.CountTelemetry(KindTierUnlocked); n != 1 {
		t.Errorf("tier_unlocked count = %d, want 1", n)
	}
}
