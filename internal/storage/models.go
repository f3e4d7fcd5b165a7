package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Turn is one persisted conversation turn.
type Turn struct {
	ID        string
	Role      string // "user" or "assistant"
	Text      string
	Category  string
	CreatedAt time.Time
}

// TelemetryEvent is a fire-and-forget behavior record.
type TelemetryEvent struct {
	ID        string
	Kind      string
	AttrsJSON string // JSON object stored as text
	CreatedAt time.Time
}
