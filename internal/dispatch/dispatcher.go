// Package dispatch executes action intents behind a per-action trust gate.
package dispatch

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"strings"

	"github.com/kalambet/aide/internal/intent"
)

// Thresholds is the minimum trust each action needs to run without asking.
// Trust must be strictly greater than the threshold.
var Thresholds = map[intent.Action]float64{
	intent.BookRide:    70,
	intent.OrderFood:   70,
	intent.CreateEvent: 70,
	intent.SetReminder: 50,
	intent.SendMessage: 90,
	intent.SendEmail:   90,
}

// Authorization carries the user's trust level and whether they explicitly
// confirmed this intent.
type Authorization struct {
	Trust     float64
	Confirmed bool
}

type Status string

const (
	StatusExecuted          Status = "executed"
	StatusFailed            Status = "failed"
	StatusNeedsConfirmation Status = "needs_confirmation"
	StatusRejected          Status = "rejected"
)

// Outcome is the spoken result of one dispatch.
type Outcome struct {
	Status  Status        `json:"status"`
	Action  intent.Action `json:"action,omitempty"`
	Message string        `json:"message"`
}

// Executor performs one external action call.
type Executor interface {
	Execute(ctx context.Context, action intent.Action, params map[string]string) (message string, err error)
}

const (
	apologyText  = "Sorry, I couldn't complete that right now."
	unclearText  = "I'm not sure what you'd like me to do. Could you rephrase that?"
	executedText = "All set, that's done."
)

type Dispatcher struct {
	exec   Executor
	logger *slog.Logger
}

func New(exec Executor) *Dispatcher {
	return &Dispatcher{exec: exec, logger: slog.Default()}
}

// Threshold returns the trust needed for a, or 100 for unknown actions so
// they always need confirmation.
func Threshold(a intent.Action) float64 {
	if t, ok := Thresholds[a]; ok {
		return t
	}
	return 100
}

// Autonomous reports whether trust allows a to run without confirmation.
func Autonomous(a intent.Action, trust float64) bool {
	return ClampTrust(trust) > Threshold(a)
}

// ClampTrust maps trust into [0, 100]; NaN becomes 0.
func ClampTrust(t float64) float64 {
	switch {
	case math.IsNaN(t) || t < 0:
		return 0
	case t > 100:
		return 100
	}
	return t
}

// Execute makes at most one external call. Non-executable intents are
// rejected, and intents the trust level does not cover are returned as
// needs_confirmation without calling out.
func (d *Dispatcher) Execute(ctx context.Context, ai intent.ActionIntent, auth Authorization) Outcome {
	if !ai.Executable || !ai.Action.Valid() {
		return Outcome{Status: StatusRejected, Message: unclearText}
	}
	if !auth.Confirmed && !Autonomous(ai.Action, auth.Trust) {
		return Outcome{Status: StatusNeedsConfirmation, Action: ai.Action, Message: ConfirmationPrompt(ai)}
	}

	msg, err := d.exec.Execute(ctx, ai.Action, ai.Parameters)
	if err != nil {
		d.logger.Warn("action failed", "action", ai.Action, "error", err)
		return Outcome{Status: StatusFailed, Action: ai.Action, Message: apologyText}
	}
	if strings.TrimSpace(msg) == "" {
		msg = executedText
	}
	return Outcome{Status: StatusExecuted, Action: ai.Action, Message: msg}
}

// ConfirmationPrompt is the question asked before running ai.
func ConfirmationPrompt(ai intent.ActionIntent) string {
	return "Should I " + describe(ai) + "?"
}

// CancelledText is spoken when the user declines a pending action.
func CancelledText(ai intent.ActionIntent) string {
	return "Okay, I won't " + describe(ai) + "."
}

func describe(ai intent.ActionIntent) string {
	p := func(k string) string { return strings.TrimSpace(ai.Parameters[k]) }
	var b strings.Builder
	add := func(prefix, v string) {
		if v != "" {
			b.WriteString(prefix)
			b.WriteString(v)
		}
	}
	switch ai.Action {
	case intent.BookRide:
		b.WriteString("book a ride")
		add(" to ", p("destination"))
	case intent.OrderFood:
		b.WriteString("order ")
		if item := p("item"); item != "" {
			b.WriteString(item)
		} else {
			b.WriteString("food")
		}
		add(" from ", p("restaurant"))
	case intent.SendEmail:
		b.WriteString("send an email")
		add(" to ", p("recipient"))
		add(" about ", p("subject"))
	case intent.SendMessage:
		b.WriteString("send a message")
		add(" to ", p("recipient"))
		if body := p("body"); body != "" {
			b.WriteString(` saying "` + body + `"`)
		}
	case intent.SetReminder:
		b.WriteString("set a reminder")
		add(" to ", p("task"))
		add(" ", p("when"))
	case intent.CreateEvent:
		b.WriteString("add ")
		if title := p("title"); title != "" {
			b.WriteString(title)
		} else {
			b.WriteString("an event")
		}
		b.WriteString(" to your calendar")
		add(" ", p("when"))
	default:
		b.WriteString("do that")
	}
	return b.String()
}

// Answer is how a follow-up utterance resolves a pending confirmation.
type Answer int

const (
	Unclear Answer = iota
	Affirm
	Deny
)

var (
	affirmRe = regexp.MustCompile(`^(yes|yeah|yep|yup|sure|ok|okay|please do|do it|go ahead|confirm|absolutely|of course|sounds good)\b`)
	denyRe   = regexp.MustCompile(`^(no|nope|nah|cancel|don't|do not|stop|never ?mind|not now)\b`)
)

// ParseAnswer classifies a reply to a confirmation question.
func ParseAnswer(text string) Answer {
	t := strings.ToLower(strings.TrimSpace(text))
	switch {
	case denyRe.MatchString(t):
		return Deny
	case affirmRe.MatchString(t):
		return Affirm
	}
	return Unclear
}
