package respond

import (
	"context"

	"github.com/kalambet/aide/internal/classify"
	"github.com/kalambet/aide/internal/gather"
	"github.com/kalambet/aide/internal/generate"
)

// Deps are the collaborators of the default handlers.
type Deps struct {
	Aggregator *gather.Aggregator
	Generator  generate.Generator
	// Preferences returns the prompt summary of the user's preferences.
	// Errors are treated as "no preferences".
	Preferences func() (string, error)
}

func (d Deps) preferences() string {
	if d.Preferences == nil {
		return ""
	}
	s, err := d.Preferences()
	if err != nil {
		return ""
	}
	return s
}

// ContextHandler gathers a fresh snapshot over domains and generates a
// reply from it.
func ContextHandler(d Deps, domains []gather.Domain) Handler {
	return func(ctx context.Context, req Request) (generate.Reply, error) {
		snap := d.Aggregator.Gather(ctx, domains)
		return d.Generator.Generate(ctx, generateRequest(d, req, &snap))
	}
}

func generateRequest(d Deps, req Request, snap *gather.Snapshot) generate.Request {
	return generate.Request{
		Category:    req.Classification.Category,
		Text:        req.Text,
		History:     req.History,
		Persona:     req.Persona,
		Preferences: d.preferences(),
		Context:     snap,
	}
}

// DefaultHandlers gives every category the full-snapshot handler; the
// prompt differs by category, not the data read.
func DefaultHandlers(d Deps) (map[classify.Category]Handler, Handler) {
	full := ContextHandler(d, gather.Full)
	handlers := make(map[classify.Category]Handler, len(classify.Categories))
	for _, c := range classify.Categories {
		handlers[c] = full
	}
	return handlers, full
}
