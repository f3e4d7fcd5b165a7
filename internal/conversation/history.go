// Package conversation holds the rolling window of dialogue turns.
package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance in the conversation. Category is the classification
// of the user turn it belongs to; assistant turns carry their request's category.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Category  string    `json:"category,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn stamps a turn with a fresh ID and the current time.
func NewTurn(role Role, text, category string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Category:  category,
		Timestamp: time.Now().UTC(),
	}
}

// DefaultSize is the number of turns kept when no size is configured.
const DefaultSize = 20

// History keeps the most recent turns in insertion order. Older turns are
// dropped silently once the window is full.
type History struct {
	mu    sync.RWMutex
	size  int
	turns []Turn
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultSize
	}
	return &History{size: size}
}

// Append adds turns in order, evicting from the front as needed.
func (h *History) Append(turns ...Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.turns = append(h.turns, turns...)
	if over := len(h.turns) - h.size; over > 0 {
		kept := make([]Turn, h.size)
		copy(kept, h.turns[over:])
		h.turns = kept
	}
}

// Recent returns up to n of the newest turns, oldest first.
func (h *History) Recent(n int) []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > len(h.turns) {
		n = len(h.turns)
	}
	out := make([]Turn, n)
	copy(out, h.turns[len(h.turns)-n:])
	return out
}

// Snapshot returns every turn in the window, oldest first.
func (h *History) Snapshot() []Turn {
	return h.Recent(0)
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

func (h *History) Size() int { return h.size }
