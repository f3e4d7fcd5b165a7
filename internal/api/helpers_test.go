package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/aide/internal/assistant"
	"github.com/kalambet/aide/internal/conversation"
	"github.com/kalambet/aide/internal/dispatch"
	"github.com/kalambet/aide/internal/gather"
	"github.com/kalambet/aide/internal/persona"
	"github.com/kalambet/aide/internal/profile"
	"github.com/kalambet/aide/internal/storage"
)

const testToken = "test-token-12345"

// --- mocks ---

type mockAssistant struct {
	mu      sync.Mutex
	turns   []conversation.Turn
	sources []string
	trust   float64
	err     error
}

func (m *mockAssistant) HandleTurn(ctx context.Context, text, source string, onInterim func(string)) (assistant.TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return assistant.TurnResult{}, assistant.ErrEmptyInput
	}
	if m.err != nil {
		return assistant.TurnResult{}, m.err
	}
	user := conversation.NewTurn(conversation.RoleUser, text, "general_chat")
	reply := conversation.NewTurn(conversation.RoleAssistant, "echo: "+text, "general_chat")

	m.mu.Lock()
	m.turns = append(m.turns, user, reply)
	m.sources = append(m.sources, source)
	m.mu.Unlock()
	return assistant.TurnResult{User: user, Reply: reply, Suggestions: []string{"Tell me more"}}, nil
}

func (m *mockAssistant) History() []conversation.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]conversation.Turn(nil), m.turns...)
}

func (m *mockAssistant) Trust() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trust
}

func (m *mockAssistant) SetTrust(v float64) (float64, error) {
	v = dispatch.ClampTrust(v)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trust = v
	return v, nil
}

func (m *mockAssistant) lastSource() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sources) == 0 {
		return ""
	}
	return m.sources[len(m.sources)-1]
}

// partialFetcher answers health and calendar; every other domain fails.
type partialFetcher struct{}

func (partialFetcher) FetchLatest(ctx context.Context, d gather.Domain) (json.RawMessage, error) {
	switch d {
	case gather.Health:
		return json.RawMessage(`{"steps":8000}`), nil
	case gather.Calendar:
		return json.RawMessage(`{"events":[]}`), nil
	}
	return nil, errors.New("unavailable")
}

// --- helpers ---

type testEnv struct {
	deps      Deps
	assistant *mockAssistant
	persona   *persona.Manager
	store     *storage.Store
	bus       *assistant.Bus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	bus := assistant.NewBus()
	pm := persona.NewManager(store, assistant.Announcer(bus, nil))
	t.Cleanup(func() {
		pm.Close()
		store.Close()
	})

	a := &mockAssistant{trust: 50}
	return &testEnv{
		deps: Deps{
			Assistant:   a,
			Persona:     pm,
			Preferences: profile.NewManager(store),
			Context:     gather.New(partialFetcher{}),
			Bus:         bus,
			Token:       testToken,
		},
		assistant: a,
		persona:   pm,
		store:     store,
		bus:       bus,
	}
}
