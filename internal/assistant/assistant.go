// Package assistant runs conversational turns: one at a time, through
// classification, action dispatch or the response orchestrator, into the
// rolling history.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/aide/internal/classify"
	"github.com/kalambet/aide/internal/conversation"
	"github.com/kalambet/aide/internal/dispatch"
	"github.com/kalambet/aide/internal/intent"
	"github.com/kalambet/aide/internal/persona"
	"github.com/kalambet/aide/internal/respond"
	"github.com/kalambet/aide/internal/storage"
	"github.com/kalambet/aide/internal/telemetry"
)

// ErrEmptyInput is returned for blank utterances.
var ErrEmptyInput = errors.New("empty input")

// KeyTrust is the settings key holding the autonomy trust level (0-100).
const KeyTrust = "trust.level"

// Store is the persistence the assistant needs. Implemented by storage.Store.
type Store interface {
	SaveTurn(t storage.Turn) error
	RecentTurns(limit int) ([]storage.Turn, error)
	PruneTurns(keep int) (int64, error)
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
}

type Classifier interface {
	Classify(text string) classify.Result
}

type Parser interface {
	Parse(ctx context.Context, text string) intent.ActionIntent
}

type Dispatcher interface {
	Execute(ctx context.Context, ai intent.ActionIntent, auth dispatch.Authorization) dispatch.Outcome
}

type Responder interface {
	Respond(ctx context.Context, req respond.Request) respond.Result
	Ceiling(c classify.Category) time.Duration
}

type PersonaSource interface {
	Current() persona.State
}

type Deps struct {
	Store      Store
	Classifier Classifier
	Parser     Parser
	Dispatcher Dispatcher
	Responder  Responder
	Persona    PersonaSource
	Bus        *Bus
	Telemetry  *telemetry.Sink
}

type Options struct {
	// HistorySize bounds the rolling window and the persisted turns.
	HistorySize int
	// DefaultTrust applies until a trust level is stored.
	DefaultTrust float64
}

// TurnResult is the outcome of one user utterance.
type TurnResult struct {
	User        conversation.Turn `json:"user"`
	Reply       conversation.Turn `json:"reply"`
	Suggestions []string          `json:"suggestions,omitempty"`
	Action      *dispatch.Outcome `json:"action,omitempty"`
}

type Assistant struct {
	deps    Deps
	opts    Options
	history *conversation.History
	logger  *slog.Logger

	// turn is a one-slot semaphore serializing HandleTurn.
	turn chan struct{}

	pendingMu sync.Mutex
	pending   *intent.ActionIntent

	trustMu sync.Mutex
}

// New creates an Assistant and restores the persisted history window.
func New(deps Deps, opts Options) (*Assistant, error) {
	if opts.HistorySize <= 0 {
		opts.HistorySize = conversation.DefaultSize
	}
	a := &Assistant{
		deps:    deps,
		opts:    opts,
		history: conversation.NewHistory(opts.HistorySize),
		logger:  slog.Default(),
		turn:    make(chan struct{}, 1),
	}

	stored, err := deps.Store.RecentTurns(opts.HistorySize)
	if err != nil {
		return nil, fmt.Errorf("restoring history: %w", err)
	}
	for _, t := range stored {
		a.history.Append(fromStorage(t))
	}
	return a, nil
}

// HandleTurn processes one utterance. Turns queue behind each other; ctx
// bounds the wait. source ("text", "voice", "mcp") is recorded in telemetry.
// onInterim, if set, receives the placeholder utterance for slow replies.
func (a *Assistant) HandleTurn(ctx context.Context, text, source string, onInterim func(string)) (TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return TurnResult{}, ErrEmptyInput
	}

	select {
	case a.turn <- struct{}{}:
	case <-ctx.Done():
		return TurnResult{}, ctx.Err()
	}
	defer func() { <-a.turn }()

	start := time.Now()
	attrs := map[string]any{"source": source}

	cat, reply, suggestions, action := a.resolve(ctx, text, onInterim, attrs)

	user := conversation.NewTurn(conversation.RoleUser, text, string(cat))
	answer := conversation.NewTurn(conversation.RoleAssistant, reply, string(cat))
	a.history.Append(user, answer)
	a.persist(user, answer)

	res := TurnResult{User: user, Reply: answer, Suggestions: suggestions, Action: action}
	a.deps.Bus.Publish(EventTurnCompleted, res)

	attrs["category"] = string(cat)
	attrs["duration_ms"] = time.Since(start).Milliseconds()
	a.deps.Telemetry.Record(telemetry.KindTurn, attrs)
	return res, nil
}

func (a *Assistant) resolve(ctx context.Context, text string, onInterim func(string), attrs map[string]any) (classify.Category, string, []string, *dispatch.Outcome) {
	if pending, ok := a.takePending(); ok {
		switch dispatch.ParseAnswer(text) {
		case dispatch.Affirm:
			out := a.dispatch(ctx, pending, true)
			attrs["outcome"] = string(out.Status)
			return classify.ActionRequest, out.Message, nil, &out
		case dispatch.Deny:
			attrs["outcome"] = "declined"
			out := dispatch.Outcome{Status: dispatch.StatusRejected, Action: pending.Action, Message: dispatch.CancelledText(pending)}
			return classify.ActionRequest, out.Message, nil, &out
		}
		// Anything else drops the pending action and is handled as new input.
	}

	c := a.deps.Classifier.Classify(text)

	if c.Category == classify.ActionRequest && a.deps.Parser != nil {
		if ai := a.deps.Parser.Parse(ctx, text); ai.Executable {
			out := a.dispatch(ctx, ai, false)
			if out.Status == dispatch.StatusNeedsConfirmation {
				a.setPending(ai)
			}
			attrs["outcome"] = string(out.Status)
			return c.Category, out.Message, nil, &out
		}
	}

	res := a.deps.Responder.Respond(ctx, respond.Request{
		Text:           text,
		Classification: c,
		History:        a.history.Snapshot(),
		Persona:        a.deps.Persona.Current(),
		OnInterim: func(s string) {
			a.deps.Bus.Publish(EventInterim, map[string]string{"text": s})
			if onInterim != nil {
				onInterim(s)
			}
		},
	})
	attrs["outcome"] = string(res.Outcome)
	attrs["interim"] = res.Interim
	return c.Category, res.Reply, res.Suggestions, nil
}

func (a *Assistant) dispatch(ctx context.Context, ai intent.ActionIntent, confirmed bool) dispatch.Outcome {
	ctx, cancel := context.WithTimeout(ctx, a.deps.Responder.Ceiling(classify.ActionRequest))
	defer cancel()

	out := a.deps.Dispatcher.Execute(ctx, ai, dispatch.Authorization{Trust: a.Trust(), Confirmed: confirmed})
	a.deps.Telemetry.Record(telemetry.KindAction, map[string]any{
		"action":    string(ai.Action),
		"status":    string(out.Status),
		"confirmed": confirmed,
	})
	return out
}

func (a *Assistant) persist(turns ...conversation.Turn) {
	for _, t := range turns {
		if err := a.deps.Store.SaveTurn(toStorage(t)); err != nil {
			a.logger.Warn("failed to persist turn", "id", t.ID, "error", err)
		}
	}
	if _, err := a.deps.Store.PruneTurns(a.opts.HistorySize); err != nil {
		a.logger.Warn("failed to prune turns", "error", err)
	}
}

// History returns the rolling window, oldest first.
func (a *Assistant) History() []conversation.Turn {
	return a.history.Snapshot()
}

// PendingConfirmation returns the action awaiting a yes or no, if any.
func (a *Assistant) PendingConfirmation() (intent.ActionIntent, bool) {
	a.pendingMu.Lock()
	defer a.pendingMu.Unlock()
	if a.pending == nil {
		return intent.ActionIntent{}, false
	}
	return *a.pending, true
}

func (a *Assistant) takePending() (intent.ActionIntent, bool) {
	a.pendingMu.Lock()
	defer a.pendingMu.Unlock()
	if a.pending == nil {
		return intent.ActionIntent{}, false
	}
	p := *a.pending
	a.pending = nil
	return p, true
}

func (a *Assistant) setPending(ai intent.ActionIntent) {
	a.pendingMu.Lock()
	a.pending = &ai
	a.pendingMu.Unlock()
}

// Trust returns the stored trust level, or the default when unset or
// unreadable.
func (a *Assistant) Trust() float64 {
	a.trustMu.Lock()
	defer a.trustMu.Unlock()

	v, err := a.deps.Store.GetSetting(KeyTrust)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			a.logger.Warn("reading trust level", "error", err)
		}
		return dispatch.ClampTrust(a.opts.DefaultTrust)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		a.logger.Warn("invalid stored trust level", "value", v)
		return dispatch.ClampTrust(a.opts.DefaultTrust)
	}
	return dispatch.ClampTrust(f)
}

// SetTrust stores a new trust level clamped to [0, 100].
func (a *Assistant) SetTrust(v float64) (float64, error) {
	a.trustMu.Lock()
	defer a.trustMu.Unlock()

	v = dispatch.ClampTrust(v)
	if err := a.deps.Store.SetSetting(KeyTrust, strconv.FormatFloat(v, 'f', -1, 64)); err != nil {
		return 0, fmt.Errorf("saving trust level: %w", err)
	}
	return v, nil
}

// Announcer returns the persona announce hook: each tier change is
// published once on bus and recorded in telemetry.
func Announcer(bus *Bus, sink *telemetry.Sink) func(persona.Transition) {
	return func(tr persona.Transition) {
		bus.Publish(EventTierUnlocked, tr)
		sink.Record(telemetry.KindTierUnlocked, map[string]any{
			"from":   tr.From.String(),
			"to":     tr.To.String(),
			"source": tr.Source,
		})
	}
}

func toStorage(t conversation.Turn) storage.Turn {
	return storage.Turn{ID: t.ID, Role: string(t.Role), Text: t.Text, Category: t.Category, CreatedAt: t.Timestamp}
}

func fromStorage(t storage.Turn) conversation.Turn {
	return conversation.Turn{ID: t.ID, Role: conversation.Role(t.Role), Text: t.Text, Category: t.Category, Timestamp: t.CreatedAt}
}
