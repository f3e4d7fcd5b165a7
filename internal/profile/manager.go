package profile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// PreferenceStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type PreferenceStore interface {
	SetPreference(key, value string) error
	DeletePreference(key string) error
	GetAllPreferences() (map[string]string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager provides cached, structured access to the user preferences stored in SQLite.
type Manager struct {
	store PreferenceStore
	clock Clock
	ttl   time.Duration

	mu       sync.RWMutex
	cached   *Preferences
	cachedAt time.Time
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store PreferenceStore) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store PreferenceStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		clock: clock,
		ttl:   ttl,
	}
}

// Get returns the current preferences, served from cache while fresh.
// Returns zero-value Preferences on an empty store.
func (m *Manager) Get() (Preferences, error) {
	m.mu.RLock()
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		p := copyPreferences(m.cached)
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		return copyPreferences(m.cached), nil
	}

	keys, err := m.store.GetAllPreferences()
	if err != nil {
		return Preferences{}, fmt.Errorf("loading preferences: %w", err)
	}

	p := buildPreferences(keys)
	m.cached = &p
	m.cachedAt = m.clock.Now()
	return copyPreferences(&p), nil
}

// Set persists one preference and invalidates the cache. An empty value
// removes the preference.
func (m *Manager) Set(key, value string) error {
	if !validKeys[key] {
		return fmt.Errorf("unknown preference %q", key)
	}
	value = strings.TrimSpace(value)
	if key == KeyInterests && value != "" {
		normalized, err := normalizeList(value)
		if err != nil {
			return err
		}
		value = normalized
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if value == "" {
		err = m.store.DeletePreference(key)
	} else {
		err = m.store.SetPreference(key, value)
	}
	if err != nil {
		return fmt.Errorf("setting preference %q: %w", key, err)
	}

	m.cached = nil
	return nil
}

// Summary returns a compact description of the preferences suitable for
// injection into a system prompt.
func (m *Manager) Summary() (string, error) {
	p, err := m.Get()
	if err != nil {
		return "", fmt.Errorf("getting preferences for summary: %w", err)
	}
	return summarize(p), nil
}

// maxSummaryChars caps the summary to roughly 150 tokens.
const maxSummaryChars = 600

func summarize(p Preferences) string {
	var parts []string

	if p.Name != "" {
		parts = append(parts, fmt.Sprintf("The user's name is %s.", p.Name))
	}
	if p.Locale != "" {
		parts = append(parts, fmt.Sprintf("Locale: %s.", p.Locale))
	}
	if p.Units != "" {
		parts = append(parts, fmt.Sprintf("Use %s units.", p.Units))
	}

	var style []string
	if p.Tone != "" {
		style = append(style, p.Tone+" tone")
	}
	if p.Verbosity != "" {
		style = append(style, p.Verbosity)
	}
	if len(style) > 0 {
		parts = append(parts, fmt.Sprintf("Prefers: %s.", strings.Join(style, ", ")))
	}

	if len(p.Interests) > 0 {
		parts = append(parts, fmt.Sprintf("Interests: %s.", strings.Join(p.Interests, ", ")))
	}

	if len(parts) == 0 {
		return ""
	}

	summary := strings.Join(parts, " ")
	if len(summary) > maxSummaryChars {
		end := maxSummaryChars
		for end > 0 && !utf8.RuneStart(summary[end]) {
			end--
		}
		if idx := strings.LastIndex(summary[:end], " "); idx > 0 {
			summary = summary[:idx]
		} else {
			summary = summary[:end]
		}
	}
	return summary
}

func copyPreferences(p *Preferences) Preferences {
	if p == nil {
		return Preferences{}
	}
	cp := *p
	if p.Interests != nil {
		cp.Interests = make([]string, len(p.Interests))
		copy(cp.Interests, p.Interests)
	}
	return cp
}

// buildPreferences assembles Preferences from flat key-value pairs.
func buildPreferences(keys map[string]string) Preferences {
	p := Preferences{
		Name:      keys[KeyName],
		Locale:    keys[KeyLocale],
		Units:     keys[KeyUnits],
		Tone:      keys[KeyTone],
		Verbosity: keys[KeyVerbosity],
	}
	if v, ok := keys[KeyInterests]; ok {
		if err := json.Unmarshal([]byte(v), &p.Interests); err != nil {
			slog.Warn("malformed preference, skipping", "key", KeyInterests, "error", err)
		}
	}
	return p
}

// normalizeList accepts a JSON array or a comma-separated list and returns
// the JSON array encoding.
func normalizeList(value string) (string, error) {
	var items []string
	if strings.HasPrefix(value, "[") {
		if err := json.Unmarshal([]byte(value), &items); err != nil {
			return "", fmt.Errorf("parsing interests list: %w", err)
		}
	} else {
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
