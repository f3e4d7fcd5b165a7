package intent

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/kalambet/aide/internal/llm"
)

const extractionTimeout = 3 * time.Second

// Chatter is the chat-completion surface of the local LLM client.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []llm.Message, schema *llm.Schema) (string, error)
}

// LLMExtractor asks a fast local model for a structured action request.
type LLMExtractor struct {
	client Chatter
	model  string
}

func NewLLMExtractor(client Chatter, model string) *LLMExtractor {
	return &LLMExtractor{client: client, model: model}
}

type extraction struct {
	Action     string            `json:"action"`
	Parameters map[string]string `json:"parameters"`
}

// Extract returns the zero intent on any failure (timeout, malformed JSON,
// unknown action, LLM error). Parameters the action does not accept are dropped.
func (e *LLMExtractor) Extract(ctx context.Context, text string) ActionIntent {
	if text == "" {
		return ActionIntent{}
	}

	ctx, cancel := context.WithTimeout(ctx, extractionTimeout)
	defer cancel()

	raw, err := e.client.Chat(ctx, e.model, BuildPrompt(text), extractionSchema())
	if err != nil {
		slog.Warn("action extraction chat failed", "error", err)
		return ActionIntent{}
	}

	var out extraction
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		slog.Warn("failed to unmarshal action from LLM response", "error", err, "response", raw)
		return ActionIntent{}
	}

	action := Action(out.Action)
	if !action.Valid() {
		return ActionIntent{}
	}
	params := make(map[string]string)
	for _, name := range Parameters[action] {
		if v := out.Parameters[name]; v != "" {
			params[name] = v
		}
	}
	return newIntent(action, params)
}

func extractionSchema() *llm.Schema {
	actions := make([]string, 0, len(Parameters)+1)
	for a := range Parameters {
		actions = append(actions, string(a))
	}
	sort.Strings(actions)
	actions = append(actions, "none")

	return &llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProperty{
			"action":     {Type: "string", Enum: actions, Description: "The requested action, or none"},
			"parameters": {Type: "object", Description: "Action parameters as string values"},
		},
		Required: []string{"action", "parameters"},
	}
}
