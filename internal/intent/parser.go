package intent

import (
	"context"
	"regexp"
	"strings"
)

type rule struct {
	action Action
	re     *regexp.Regexp
}

// rules are tried in order. Reminders come first so "remind me to text mom"
// is a reminder, not a message.
var rules = []rule{
	{SetReminder, regexp.MustCompile(`(?i)\bremind me (?:to )?(?P<task>.+?)(?: (?P<when>(?:at|on|in|by|tomorrow|tonight|today|next|this)\b.*?))?[.!?]*$`)},
	{SetReminder, regexp.MustCompile(`(?i)\bset (?:a |an |up a )?reminder (?:to |for |about )?(?P<task>.+?)(?: (?P<when>(?:at|on|in|by|tomorrow|tonight|today|next|this)\b.*?))?[.!?]*$`)},
	{BookRide, regexp.MustCompile(`(?i)\b(?:book|get|call|order|need)(?: me)?(?: a| an)? (?:ride|cab|taxi|uber|lyft|car)(?: (?:to|for) (?P<destination>.+?))?[.!?]*$`)},
	{OrderFood, regexp.MustCompile(`(?i)\border(?: me)?(?: a| an| some)? (?P<item>.+?)(?: from (?P<restaurant>.+?))?[.!?]*$`)},
	{SendEmail, regexp.MustCompile(`(?i)\b(?:(?:send|write)(?: an?)? (?:email|e-mail)(?: to)?|email) (?P<recipient>[\w.@+'-]+)(?: (?:about|regarding|re:?) (?P<subject>.+?))?[.!?]*$`)},
	{SendMessage, regexp.MustCompile(`(?i)\b(?:(?:send|write)(?: a)? (?:message|text)(?: to)?|text|message) (?P<recipient>[\w.@+'-]+)(?:,? (?:saying|that|to say)[:,]? (?P<body>.+?))?[.!?]*$`)},
	{CreateEvent, regexp.MustCompile(`(?i)\b(?:add|put) (?P<title>.+?) (?:to|on|in) my calendar(?: (?P<when>.+?))?[.!?]*$`)},
	{CreateEvent, regexp.MustCompile(`(?i)\b(?:schedule|create|set up)(?: an?| the)? (?:event|meeting|appointment)?\s*(?:(?:for|called|titled|with) )?(?P<title>.+?)(?: (?P<when>(?:at|on|tomorrow|today|tonight|next|this)\b.*?))?[.!?]*$`)},
}

// Extractor is a fallback for text the rule table does not recognize.
type Extractor interface {
	Extract(ctx context.Context, text string) ActionIntent
}

// Parser turns free text into an ActionIntent.
type Parser struct {
	fallback Extractor
}

// NewParser returns a rule-based parser. fallback may be nil.
func NewParser(fallback Extractor) *Parser {
	return &Parser{fallback: fallback}
}

// Parse never fails: unrecognized text yields the non-executable zero intent.
func (p *Parser) Parse(ctx context.Context, text string) ActionIntent {
	text = strings.TrimSpace(text)
	if text == "" {
		return ActionIntent{}
	}
	if in, ok := matchRules(text); ok {
		return in
	}
	if p.fallback != nil {
		return p.fallback.Extract(ctx, text)
	}
	return ActionIntent{}
}

func matchRules(text string) (ActionIntent, bool) {
	for _, r := range rules {
		m := r.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		params := make(map[string]string)
		for i, name := range r.re.SubexpNames() {
			if name == "" || i >= len(m) {
				continue
			}
			if v := strings.TrimSpace(m[i]); v != "" {
				params[name] = v
			}
		}
		return newIntent(r.action, params), true
	}
	return ActionIntent{}, false
}
