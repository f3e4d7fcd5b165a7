package generate

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/aide/internal/classify"
	"github.com/kalambet/aide/internal/conversation"
	"github.com/kalambet/aide/internal/gather"
	"github.com/kalambet/aide/internal/llm"
	"github.com/kalambet/aide/internal/persona"
)

type mockChatter struct {
	response string
	err      error
	model    string
	messages []llm.Message
	schema   *llm.Schema
}

func (m *mockChatter) Chat(ctx context.Context, model string, messages []llm.Message, schema *llm.Schema) (string, error) {
	m.model = model
	m.messages = messages
	m.schema = schema
	return m.response, m.err
}

type mapFetcher map[gather.Domain]string

func (f mapFetcher) FetchLatest(ctx context.Context, d gather.Domain) (json.RawMessage, error) {
	p, ok := f[d]
	if !ok {
		return nil, errors.New("unavailable")
	}
	return json.RawMessage(p), nil
}

func snapshot(f mapFetcher, domains []gather.Domain) *gather.Snapshot {
	s := gather.New(f).Gather(context.Background(), domains)
	return &s
}

func TestGenerate_StructuredReply(t *testing.T) {
	mock := &mockChatter{response: `{"reply":"You walked 9,000 steps.","suggested_actions":["Set a goal"," ","Compare to last week","Show sleep","Extra"]}`}
	g := NewLLMGenerator(mock, "mistral-nemo", nil)

	reply, err := g.Generate(context.Background(), Request{
		Category: classify.DataQuery,
		Text:     "How many steps today?",
		Persona:  persona.StateFor(persona.Analytical, 40),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply.Text != "You walked 9,000 steps." {
		t.Errorf("Text = %q", reply.Text)
	}
	if len(reply.Suggestions) != 3 || reply.Suggestions[1] != "Compare to last week" {
		t.Errorf("Suggestions = %v", reply.Suggestions)
	}
	if mock.model != "mistral-nemo" {
		t.Errorf("model = %q", mock.model)
	}
	if mock.schema == nil || mock.schema.Properties["suggested_actions"].Items == nil {
		t.Error("reply schema not sent")
	}
}

func TestGenerate_PlainTextFallback(t *testing.T) {
	g := NewLLMGenerator(&mockChatter{response: "  Hello there!  "}, "m", nil)
	reply, err := g.Generate(context.Background(), Request{Text: "hi"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if reply.Text != "Hello there!" {
		t.Errorf("Text = %q", reply.Text)
	}
}

func TestGenerate_Errors(t *testing.T) {
	cases := map[string]*mockChatter{
		"chat error":  {err: errors.New("connection refused")},
		"empty":       {response: "   "},
		"empty reply": {response: `{"reply":"","suggested_actions":[]}`},
		"broken json": {response: `{"reply": "cut o`},
	}
	for name, mock := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewLLMGenerator(mock, "m", nil).Generate(context.Background(), Request{Text: "x"}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCompose_Layout(t *testing.T) {
	snap := snapshot(mapFetcher{gather.Health: `{"steps":9000}`}, []gather.Domain{gather.Health, gather.Finance})
	req := Request{
		Category:    classify.EmotionalSupport,
		Text:        "I'm stressed about my spending",
		Persona:     persona.StateFor(persona.Proactive, 70),
		Preferences: "The user's name is Sam.",
		Context:     snap,
		History: []conversation.Turn{
			{Role: conversation.RoleUser, Text: "hi"},
			{Role: conversation.RoleAssistant, Text: "hello"},
		},
	}

	msgs := NewComposer(0).Compose(req)
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	sys := msgs[0].Content
	for _, want := range []string{
		"Lead with empathy",
		"[Persona: proactive]",
		"proactivity=8",
		"The user's name is Sam.",
		`health: {"steps":9000}`,
		"Unavailable right now: finance",
	} {
		if !strings.Contains(sys, want) {
			t.Errorf("system prompt missing %q:\n%s", want, sys)
		}
	}
	if msgs[1].Role != "user" || msgs[2].Role != "assistant" {
		t.Errorf("history roles = %s, %s", msgs[1].Role, msgs[2].Role)
	}
	if msgs[3].Content != req.Text {
		t.Errorf("last message = %q", msgs[3].Content)
	}
}

func TestCompose_NoContextSection(t *testing.T) {
	msgs := NewComposer(0).Compose(Request{Category: classify.Greeting, Text: "hello"})
	if strings.Contains(msgs[0].Content, "[Context]") {
		t.Error("context section present without a snapshot")
	}
}

func TestCompose_ContextBudget(t *testing.T) {
	big := `{"notes":"` + strings.Repeat("x", 4000) + `"}`
	snap := snapshot(mapFetcher{gather.Goals: big, gather.Calendar: `{"next":"dentist"}`}, []gather.Domain{gather.Goals, gather.Calendar})

	msgs := NewComposer(200).Compose(Request{Text: "plan my week", Context: snap})
	sys := msgs[0].Content
	if strings.Contains(sys, strings.Repeat("x", 100)) {
		t.Error("oversized domain was not dropped")
	}
	if !strings.Contains(sys, `calendar: {"next":"dentist"}`) {
		t.Error("small domain should still fit")
	}
	if !strings.Contains(sys, "Omitted for length: goals") {
		t.Errorf("omitted domain not listed:\n%s", sys)
	}
}
