// Package telemetry records fire-and-forget behavior events.
package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/aide/internal/storage"
)

// Event kinds.
const (
	KindTurn         = "turn"
	KindAction       = "action"
	KindTierUnlocked = "tier_unlocked"
	KindVoice        = "voice_state"
)

// EventStore persists event batches. Implemented by storage.Store.
type EventStore interface {
	SaveTelemetry(ctx context.Context, events []storage.TelemetryEvent) error
}

const (
	DefaultQueueSize = 256
	maxBatch         = 64
)

// Sink queues events in a bounded channel drained by Run. Record never
// blocks: when the queue is full the event is dropped and counted.
type Sink struct {
	store   EventStore
	queue   chan storage.TelemetryEvent
	flush   time.Duration
	dropped atomic.Int64
	logger  *slog.Logger
}

// NewSink creates a Sink. If queueSize is <= 0 it defaults to 256; if
// flushInterval is <= 0 it defaults to 500ms.
func NewSink(store EventStore, queueSize int, flushInterval time.Duration) *Sink {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	return &Sink{
		store:  store,
		queue:  make(chan storage.TelemetryEvent, queueSize),
		flush:  flushInterval,
		logger: slog.Default(),
	}
}

// Record enqueues one event. A nil Sink discards everything.
func (s *Sink) Record(kind string, attrs map[string]any) {
	if s == nil {
		return
	}
	ev := storage.TelemetryEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
	if len(attrs) > 0 {
		b, err := json.Marshal(attrs)
		if err != nil {
			s.logger.Debug("telemetry attrs not serializable", "kind", kind, "error", err)
		} else {
			ev.AttrsJSON = string(b)
		}
	}
	select {
	case s.queue <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Sink) Dropped() int64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}

// Run drains the queue into the store until ctx is cancelled, then flushes
// what is already queued.
func (s *Sink) Run(ctx context.Context) {
	ticker := time.NewTicker(s.flush)
	defer ticker.Stop()

	batch := make([]storage.TelemetryEvent, 0, maxBatch)
	for {
		select {
		case <-ctx.Done():
			batch = s.drainQueued(batch)
			s.write(context.Background(), batch)
			return
		case ev := <-s.queue:
			batch = append(batch, ev)
			if len(batch) >= maxBatch {
				batch = s.write(ctx, batch)
			}
		case <-ticker.C:
			batch = s.write(ctx, batch)
		}
	}
}

func (s *Sink) drainQueued(batch []storage.TelemetryEvent) []storage.TelemetryEvent {
	for {
		select {
		case ev := <-s.queue:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
}

// write persists batch and returns it emptied. Failed batches are logged
// and discarded.
func (s *Sink) write(ctx context.Context, batch []storage.TelemetryEvent) []storage.TelemetryEvent {
	if len(batch) == 0 {
		return batch
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.store.SaveTelemetry(wctx, batch); err != nil {
		s.logger.Warn("telemetry write failed", "events", len(batch), "error", err)
	}
	return batch[:0]
}
