package intent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/aide/internal/llm"
)

const systemPrompt = `You turn a user's request into a structured action. Your output must be ONLY a single JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Supported actions and their parameters:
%s
Rules:
- Use "none" when the request is not one of the supported actions.
- Copy parameter values from the user's words; never invent them.
- Omit parameters the user did not mention.`

// BuildPrompt constructs the chat messages for action extraction.
func BuildPrompt(text string) []llm.Message {
	actions := make([]string, 0, len(Parameters))
	for a := range Parameters {
		actions = append(actions, string(a))
	}
	sort.Strings(actions)

	var sb strings.Builder
	for _, a := range actions {
		fmt.Fprintf(&sb, "- %s(%s)\n", a, strings.Join(Parameters[Action(a)], ", "))
	}

	return []llm.Message{
		{Role: "system", Content: fmt.Sprintf(systemPrompt, sb.String())},
		{Role: "user", Content: text},
	}
}
