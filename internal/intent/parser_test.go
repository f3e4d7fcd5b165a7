package intent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse_Rules(t *testing.T) {
	p := NewParser(nil)

	cases := []struct {
		text   string
		action Action
		params map[string]string
	}{
		{"I want to book a ride to the airport", BookRide, map[string]string{"destination": "the airport"}},
		{"call me a cab", BookRide, map[string]string{}},
		{"Order a pizza from Luigi's.", OrderFood, map[string]string{"item": "pizza", "restaurant": "Luigi's"}},
		{"order pad thai", OrderFood, map[string]string{"item": "pad thai"}},
		{"Send an email to Ana about the budget", SendEmail, map[string]string{"recipient": "Ana", "subject": "the budget"}},
		{"email bob@example.com", SendEmail, map[string]string{"recipient": "bob@example.com"}},
		{"Text mom saying I'll be late", SendMessage, map[string]string{"recipient": "mom", "body": "I'll be late"}},
		{"send a message to Sam", SendMessage, map[string]string{"recipient": "Sam"}},
		{"Remind me to call the dentist tomorrow", SetReminder, map[string]string{"task": "call the dentist", "when": "tomorrow"}},
		{"remind me to text mom", SetReminder, map[string]string{"task": "text mom"}},
		{"set a reminder to stretch at 5pm", SetReminder, map[string]string{"task": "stretch", "when": "at 5pm"}},
		{"Add lunch with Ana to my calendar tomorrow", CreateEvent, map[string]string{"title": "lunch with Ana", "when": "tomorrow"}},
		{"Schedule a meeting with Ana tomorrow at 3pm", CreateEvent, map[string]string{"title": "Ana", "when": "tomorrow at 3pm"}},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			got := p.Parse(context.Background(), tc.text)
			assert.True(t, got.Executable)
			assert.Equal(t, tc.action, got.Action)
			assert.Equal(t, tc.params, got.Parameters)
		})
	}
}

func TestParse_Unrecognized(t *testing.T) {
	p := NewParser(nil)
	for _, text := range []string{"", "   ", "what's the weather like", "tell me a joke"} {
		got := p.Parse(context.Background(), text)
		assert.False(t, got.Executable, text)
		assert.Empty(t, got.Action, text)
	}
}

type stubExtractor struct {
	calls  int
	result ActionIntent
}

func (s *stubExtractor) Extract(ctx context.Context, text string) ActionIntent {
	s.calls++
	return s.result
}

func TestParse_FallbackOnlyWhenNoRuleMatches(t *testing.T) {
	fb := &stubExtractor{result: newIntent(SendEmail, map[string]string{"recipient": "Ana"})}
	p := NewParser(fb)

	got := p.Parse(context.Background(), "book a ride to work")
	assert.Equal(t, BookRide, got.Action)
	assert.Equal(t, 0, fb.calls)

	got = p.Parse(context.Background(), "could you shoot Ana a note")
	assert.Equal(t, SendEmail, got.Action)
	assert.Equal(t, 1, fb.calls)
}

func TestNewIntent_UnknownActionIsZero(t *testing.T) {
	got := newIntent(Action("launch_rocket"), map[string]string{"x": "y"})
	assert.Equal(t, ActionIntent{}, got)
}
