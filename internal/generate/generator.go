// Package generate produces assistant replies from a local language model.
package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/aide/internal/classify"
	"github.com/kalambet/aide/internal/conversation"
	"github.com/kalambet/aide/internal/gather"
	"github.com/kalambet/aide/internal/llm"
	"github.com/kalambet/aide/internal/persona"
)

// Request carries everything one reply is generated from.
type Request struct {
	Category    classify.Category
	Text        string
	History     []conversation.Turn
	Persona     persona.State
	Preferences string
	Context     *gather.Snapshot // nil when the category needs no context
}

// Reply is the generated answer plus optional follow-up suggestions.
type Reply struct {
	Text        string   `json:"text"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Generator produces a Reply. Implementations must honor ctx.
type Generator interface {
	Generate(ctx context.Context, req Request) (Reply, error)
}

// Chatter is the chat-completion surface of llm.Client.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []llm.Message, schema *llm.Schema) (string, error)
}

// ErrEmptyReply is returned when the model produced no usable text.
var ErrEmptyReply = errors.New("model returned an empty reply")

const maxSuggestions = 3

// LLMGenerator asks the chat model for structured output.
type LLMGenerator struct {
	client   Chatter
	model    string
	composer *Composer
}

func NewLLMGenerator(client Chatter, model string, composer *Composer) *LLMGenerator {
	if composer == nil {
		composer = NewComposer(0)
	}
	return &LLMGenerator{client: client, model: model, composer: composer}
}

type structuredReply struct {
	Reply            string   `json:"reply"`
	SuggestedActions []string `json:"suggested_actions"`
}

func (g *LLMGenerator) Generate(ctx context.Context, req Request) (Reply, error) {
	raw, err := g.client.Chat(ctx, g.model, g.composer.Compose(req), replySchema)
	if err != nil {
		return Reply{}, fmt.Errorf("generating reply: %w", err)
	}
	return parseReply(raw)
}

// parseReply accepts the structured object and falls back to treating
// non-JSON output as the reply text itself.
func parseReply(raw string) (Reply, error) {
	raw = strings.TrimSpace(raw)
	var sr structuredReply
	if err := json.Unmarshal([]byte(raw), &sr); err != nil {
		if raw == "" || strings.HasPrefix(raw, "{") {
			return Reply{}, ErrEmptyReply
		}
		return Reply{Text: raw}, nil
	}

	text := strings.TrimSpace(sr.Reply)
	if text == "" {
		return Reply{}, ErrEmptyReply
	}
	var suggestions []string
	for _, s := range sr.SuggestedActions {
		if s = strings.TrimSpace(s); s != "" && len(suggestions) < maxSuggestions {
			suggestions = append(suggestions, s)
		}
	}
	return Reply{Text: text, Suggestions: suggestions}, nil
}

var replySchema = &llm.Schema{
	Type: "object",
	Properties: map[string]llm.SchemaProperty{
		"reply":             {Type: "string", Description: "What the assistant says to the user"},
		"suggested_actions": {Type: "array", Items: &llm.SchemaProperty{Type: "string"}, Description: "Up to three short follow-ups"},
	},
	Required: []string{"reply", "suggested_actions"},
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (Reply, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (Reply, error) { return f(ctx, req) }
