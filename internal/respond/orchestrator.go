// Package respond runs the per-category reply handler under an interim
// notice and a hard latency ceiling.
package respond

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/kalambet/aide/internal/classify"
	"github.com/kalambet/aide/internal/conversation"
	"github.com/kalambet/aide/internal/generate"
	"github.com/kalambet/aide/internal/persona"
)

// Request is one classified user message.
type Request struct {
	Text           string
	Classification classify.Result
	History        []conversation.Turn
	Persona        persona.State

	// OnInterim, if set, receives the placeholder utterance when the handler
	// is slow. It is called at most once, from the Respond goroutine.
	OnInterim func(text string)
}

// Handler produces the reply for one category.
type Handler func(ctx context.Context, req Request) (generate.Reply, error)

type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeTimeout Outcome = "timeout"
	OutcomeFailed  Outcome = "failed"
)

// Result is the reply to record and speak. Outcome is diagnostic only:
// fallback and apology replies are recorded exactly like real ones.
type Result struct {
	Reply       string
	Suggestions []string
	Outcome     Outcome
	Interim     bool
	Duration    time.Duration
}

type Options struct {
	InterimDelay   time.Duration
	InterimText    string
	DefaultCeiling time.Duration
	Ceilings       map[classify.Category]time.Duration
	TimeoutText    string
	ApologyText    string

	// AbandonGrace bounds how long an abandoned handler may keep running
	// after its ceiling passed.
	AbandonGrace time.Duration
}

func DefaultOptions() Options {
	return Options{
		InterimDelay:   1500 * time.Millisecond,
		InterimText:    "Give me a moment...",
		DefaultCeiling: 10 * time.Second,
		TimeoutText:    "I'm sorry, that's taking longer than expected. Please try again in a moment.",
		ApologyText:    "Sorry, something went wrong on my end. Could you try that again?",
		AbandonGrace:   30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.InterimDelay <= 0 {
		o.InterimDelay = d.InterimDelay
	}
	if o.InterimText == "" {
		o.InterimText = d.InterimText
	}
	if o.DefaultCeiling <= 0 {
		o.DefaultCeiling = d.DefaultCeiling
	}
	if o.TimeoutText == "" {
		o.TimeoutText = d.TimeoutText
	}
	if o.ApologyText == "" {
		o.ApologyText = d.ApologyText
	}
	if o.AbandonGrace <= 0 {
		o.AbandonGrace = d.AbandonGrace
	}
	return o
}

// Orchestrator dispatches a classified request to its category handler.
type Orchestrator struct {
	opts     Options
	handlers map[classify.Category]Handler
	fallback Handler
	logger   *slog.Logger
}

// New creates an Orchestrator. fallback serves categories with no handler.
func New(opts Options, handlers map[classify.Category]Handler, fallback Handler) *Orchestrator {
	hs := make(map[classify.Category]Handler, len(handlers))
	for k, v := range handlers {
		hs[k] = v
	}
	return &Orchestrator{
		opts:     opts.withDefaults(),
		handlers: hs,
		fallback: fallback,
		logger:   slog.Default(),
	}
}

// Ceiling returns the hard deadline applied to category c.
func (o *Orchestrator) Ceiling(c classify.Category) time.Duration {
	if d, ok := o.opts.Ceilings[c]; ok && d > 0 {
		return d
	}
	return o.opts.DefaultCeiling
}

type settled struct {
	reply generate.Reply
	err   error
}

// Respond never fails. The first of {handler, ceiling} to settle decides the
// reply; the loser is dropped without being awaited. The handler runs
// detached from ctx so a caller hanging up abandons it rather than
// cancelling it, and its late result lands in a buffer nobody reads.
func (o *Orchestrator) Respond(ctx context.Context, req Request) Result {
	start := time.Now()
	cat := req.Classification.Category
	h := o.handlers[cat]
	if h == nil {
		h = o.fallback
	}
	if h == nil {
		o.logger.Error("no handler for category", "category", cat)
		return Result{Reply: o.opts.ApologyText, Outcome: OutcomeFailed, Duration: time.Since(start)}
	}

	ceiling := o.Ceiling(cat)
	done := make(chan settled, 1)

	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ceiling+o.opts.AbandonGrace)
	go func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("reply handler panicked", "category", cat, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
				done <- settled{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		reply, err := h(hctx, req)
		done <- settled{reply: reply, err: err}
	}()

	interim := time.NewTimer(o.opts.InterimDelay)
	defer interim.Stop()
	deadline := time.NewTimer(ceiling)
	defer deadline.Stop()

	var res Result
	interimC := interim.C
	for {
		select {
		case s := <-done:
			res.Duration = time.Since(start)
			text := strings.TrimSpace(s.reply.Text)
			if s.err != nil || text == "" {
				err := s.err
				if err == nil {
					err = fmt.Errorf("handler returned an empty reply")
				}
				o.logger.Warn("reply handler failed", "category", cat, "error", err, "duration_ms", res.Duration.Milliseconds())
				res.Reply, res.Outcome = o.opts.ApologyText, OutcomeFailed
				return res
			}
			res.Reply, res.Suggestions, res.Outcome = text, s.reply.Suggestions, OutcomeOK
			return res

		case <-interimC:
			interimC = nil
			res.Interim = true
			if req.OnInterim != nil {
				req.OnInterim(o.opts.InterimText)
			}

		case <-deadline.C:
			res.Duration = time.Since(start)
			o.logger.Warn("reply exceeded ceiling, abandoning handler", "category", cat, "ceiling", ceiling)
			res.Reply, res.Outcome = o.opts.TimeoutText, OutcomeTimeout
			return res

		case <-ctx.Done():
			res.Duration = time.Since(start)
			o.logger.Info("caller gave up waiting for reply", "category", cat, "error", ctx.Err())
			res.Reply, res.Outcome = o.opts.TimeoutText, OutcomeTimeout
			return res
		}
	}
}

// ParseCeilings parses "category=duration" pairs separated by commas, e.g.
// "action_request=5s,life_advice=30s".
func ParseCeilings(s string) (map[classify.Category]time.Duration, error) {
	out := make(map[classify.Category]time.Duration)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("ceiling %q: want category=duration", part)
		}
		cat := classify.Category(strings.TrimSpace(name))
		if !cat.Valid() {
			return nil, fmt.Errorf("ceiling %q: unknown category", part)
		}
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("ceiling %q: %w", part, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("ceiling %q: must be positive", part)
		}
		out[cat] = d
	}
	return out, nil
}
