package classify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_DefaultTable(t *testing.T) {
	c := Default()

	cases := []struct {
		text string
		want Category
	}{
		{"I'm stressed about my spending", EmotionalSupport},
		{"I feel down today", EmotionalSupport},
		{"Any advice on building a morning routine?", LifeAdvice},
		{"How can I improve my sleep?", LifeAdvice},
		{"Should I take the new job or stay?", ComplexDecision},
		{"What are the pros and cons of renting?", ComplexDecision},
		{"How many steps did I take yesterday?", DataQuery},
		{"What's on my calendar tomorrow?", DataQuery},
		{"Show me my spending this month", DataQuery},
		{"I want to book a ride to the airport", ActionRequest},
		{"Remind me to call the dentist tomorrow", ActionRequest},
		{"Add lunch with Ana to my calendar", ActionRequest},
		{"Hello!", Greeting},
		{"good morning", Greeting},
		{"Tell me a joke", GeneralChat},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			got := c.Classify(tc.text)
			assert.Equal(t, tc.want, got.Category)
			assert.Equal(t, tc.text, got.SourceText)
		})
	}
}

func TestClassify_Confidence(t *testing.T) {
	c := Default()
	assert.Equal(t, MatchConfidence, c.Classify("hello").Confidence)
	assert.Equal(t, DefaultConfidence, c.Classify("tell me a story").Confidence)
}

func TestClassify_EmptyIsGeneralChat(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t"} {
		got := Default().Classify(text)
		assert.Equal(t, GeneralChat, got.Category)
		assert.Equal(t, DefaultConfidence, got.Confidence)
	}
}

func TestClassify_CaseInsensitive(t *testing.T) {
	assert.Equal(t, EmotionalSupport, Default().Classify("I AM SO STRESSED").Category)
}

// Emotional cues must outrank metrics and actions wherever they appear.
func TestClassify_EmotionalPrecedence(t *testing.T) {
	c := Default()
	for _, text := range []string{
		"how much did I spend? I'm so anxious",
		"book a ride, I'm overwhelmed",
		"hello, I feel lost",
	} {
		assert.Equal(t, EmotionalSupport, c.Classify(text).Category, text)
	}
}

func TestDefaultTable_Order(t *testing.T) {
	want := []Category{EmotionalSupport, LifeAdvice, ComplexDecision, DataQuery, ActionRequest, Greeting}
	rules := Default().Rules()
	require.Len(t, rules, len(want))
	for i, r := range rules {
		assert.Equal(t, want[i], r.Category, "rule %d", i)
	}
}

func TestLoadRules_Custom(t *testing.T) {
	rules, err := LoadRules(strings.NewReader(`
rules:
  - category: greeting
    patterns: ['^ahoy\b']
  - category: data_query
    patterns: ['\bsteps\b']
`))
	require.NoError(t, err)

	c := New(rules)
	assert.Equal(t, Greeting, c.Classify("Ahoy there, steps?").Category)
	assert.Equal(t, DataQuery, c.Classify("my steps").Category)
	assert.Equal(t, GeneralChat, c.Classify("hello").Category)
}

func TestLoadRules_Errors(t *testing.T) {
	cases := map[string]string{
		"unknown category": "rules:\n  - category: gossip\n    patterns: ['x']\n",
		"bad regexp":       "rules:\n  - category: greeting\n    patterns: ['(unclosed']\n",
		"no patterns":      "rules:\n  - category: greeting\n    patterns: []\n",
		"empty table":      "rules: []\n",
		"not yaml":         "rules: [\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadRules(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}
