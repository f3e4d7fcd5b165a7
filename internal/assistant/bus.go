package assistant

import (
	"log/slog"
	"sync"
	"time"
)

type EventType string

const (
	EventTurnCompleted EventType = "turn_completed"
	EventStateChanged  EventType = "state_changed"
	EventTierUnlocked  EventType = "tier_unlocked"
	EventInterim       EventType = "interim"
)

// Event is one notification for UI consumers.
type Event struct {
	Type EventType `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

// Bus fans events out to subscribers. Publish never blocks; a subscriber
// that falls behind loses events.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	logger *slog.Logger
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event), logger: slog.Default()}
}

// Subscribe returns a channel of events and a func that unsubscribes and
// closes it.
func (b *Bus) Subscribe(buf int) (<-chan Event, func()) {
	if buf < 1 {
		buf = 32
	}
	ch := make(chan Event, buf)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Bus) Publish(t EventType, data any) {
	if b == nil {
		return
	}
	ev := Event{Type: t, At: time.Now().UTC(), Data: data}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("event subscriber behind, dropping", "subscriber", id, "type", t)
		}
	}
}
