package generate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/aide/internal/classify"
	"github.com/kalambet/aide/internal/conversation"
	"github.com/kalambet/aide/internal/gather"
	"github.com/kalambet/aide/internal/llm"
)

const defaultMaxContextTokens = 3000

const basePrompt = `You are a personal assistant speaking with one user. Replies are read aloud, so write the way you would speak: no markdown, no lists longer than three items.
Respond ONLY with a JSON object {"reply": string, "suggested_actions": [string]}. suggested_actions holds at most three short follow-ups the user could say next and may be empty.`

var categoryGuidance = map[classify.Category]string{
	classify.DataQuery:        "The user is asking about their own data. Answer from the context below. If the relevant domain is missing, say you could not reach it right now instead of guessing.",
	classify.ActionRequest:    "The user wants something done. Confirm what you understood in one sentence.",
	classify.LifeAdvice:       "The user wants advice about their life. Draw on their goals, habits and data to give specific, practical guidance.",
	classify.EmotionalSupport: "The user is going through something difficult. Lead with empathy and acknowledge the feeling before offering anything practical. Do not lecture.",
	classify.ComplexDecision:  "The user faces a decision. Lay out the main trade-offs using their context, then give an honest recommendation.",
	classify.Greeting:         "The user is greeting you. Greet them back briefly and warmly.",
	classify.GeneralChat:      "Keep the conversation natural and brief.",
}

// Composer assembles chat messages for a reply, keeping the injected
// context snapshot under a token budget.
type Composer struct {
	MaxContextTokens int
}

// NewComposer uses the default budget when maxContextTokens <= 0.
func NewComposer(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Compose returns the system message followed by history and the user text.
func (c *Composer) Compose(req Request) []llm.Message {
	var sb strings.Builder
	sb.WriteString(basePrompt)

	if g, ok := categoryGuidance[req.Category]; ok {
		fmt.Fprintf(&sb, "\n\n[Situation]\n%s", g)
	}

	fmt.Fprintf(&sb, "\n\n[Persona: %s]\n%s", req.Persona.Tier, req.Persona.Tier.Style())
	if len(req.Persona.Traits) > 0 {
		sb.WriteString("\nTrait intensities (0-10): ")
		sb.WriteString(formatTraits(req.Persona.Traits))
	}

	if req.Preferences != "" {
		fmt.Fprintf(&sb, "\n\n[User Preferences]\n%s", req.Preferences)
	}

	if req.Context != nil && req.Context.Len() > 0 {
		sb.WriteString(c.contextSection(*req.Context))
	}

	msgs := []llm.Message{{Role: "system", Content: sb.String()}}
	msgs = append(msgs, HistoryMessages(req.History)...)
	return append(msgs, llm.Message{Role: "user", Content: req.Text})
}

// contextSection lists present domains in request order, skipping any entry
// that would exceed the remaining budget, then names the absent ones.
func (c *Composer) contextSection(snap gather.Snapshot) string {
	const header = "\n\n[Context]\n"
	remaining := c.MaxContextTokens - EstimateTokens(header)

	var sb strings.Builder
	sb.WriteString(header)
	var skipped []string
	for _, d := range snap.Present() {
		payload, _ := snap.Get(d)
		entry := fmt.Sprintf("%s: %s\n", d, payload)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			skipped = append(skipped, string(d))
			continue
		}
		sb.WriteString(entry)
		remaining -= tokens
	}

	var unavailable []string
	for _, d := range snap.Absent() {
		unavailable = append(unavailable, string(d))
	}
	if len(unavailable) > 0 {
		fmt.Fprintf(&sb, "Unavailable right now: %s\n", strings.Join(unavailable, ", "))
	}
	if len(skipped) > 0 {
		fmt.Fprintf(&sb, "Omitted for length: %s\n", strings.Join(skipped, ", "))
	}
	return sb.String()
}

func formatTraits(traits map[string]int) string {
	names := make([]string, 0, len(traits))
	for k := range traits {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s=%d", n, traits[n])
	}
	return strings.Join(parts, ", ")
}

// EstimateTokens is a rough 4-characters-per-token count.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// HistoryMessages converts turns to chat messages, oldest first.
func HistoryMessages(turns []conversation.Turn) []llm.Message {
	out := make([]llm.Message, len(turns))
	for i, t := range turns {
		out[i] = llm.Message{Role: string(t.Role), Content: t.Text}
	}
	return out
}
