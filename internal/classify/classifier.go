// Package classify maps user text to a conversation category using an
// ordered, data-driven rule table.
package classify

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

type Category string

const (
	DataQuery        Category = "data_query"
	ActionRequest    Category = "action_request"
	LifeAdvice       Category = "life_advice"
	EmotionalSupport Category = "emotional_support"
	ComplexDecision  Category = "complex_decision"
	GeneralChat      Category = "general_chat"
	Greeting         Category = "greeting"
)

// Categories lists every category a Result can carry.
var Categories = []Category{
	DataQuery, ActionRequest, LifeAdvice, EmotionalSupport,
	ComplexDecision, GeneralChat, Greeting,
}

func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

const (
	MatchConfidence   = 0.8
	DefaultConfidence = 0.5
)

// Result is the classification of one input.
type Result struct {
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
	SourceText string   `json:"source_text"`
}

// Rule is one row of the table: a category and the patterns that select it.
type Rule struct {
	Category Category
	Patterns []*regexp.Regexp
}

// Matches reports whether any pattern occurs in text.
func (r Rule) Matches(text string) bool {
	for _, p := range r.Patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// Classifier evaluates rules in order; the first match wins.
type Classifier struct {
	rules []Rule
}

func New(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Classify never fails: text matching no rule, including empty text, is
// general_chat.
func (c *Classifier) Classify(text string) Result {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized != "" {
		for _, r := range c.rules {
			if r.Matches(normalized) {
				return Result{Category: r.Category, Confidence: MatchConfidence, SourceText: text}
			}
		}
	}
	return Result{Category: GeneralChat, Confidence: DefaultConfidence, SourceText: text}
}

// Rules returns the table in evaluation order.
func (c *Classifier) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

//go:embed patterns.yaml
var defaultPatterns []byte

var (
	defaultOnce       sync.Once
	defaultClassifier *Classifier
)

// Default returns the classifier built from the embedded rule table.
func Default() *Classifier {
	defaultOnce.Do(func() {
		rules, err := LoadRules(bytes.NewReader(defaultPatterns))
		if err != nil {
			panic(fmt.Sprintf("classify: embedded patterns invalid: %v", err))
		}
		defaultClassifier = New(rules)
	})
	return defaultClassifier
}

type ruleFile struct {
	Rules []struct {
		Category string   `yaml:"category"`
		Patterns []string `yaml:"patterns"`
	} `yaml:"rules"`
}

// LoadRules parses a YAML rule table. Unknown categories, empty pattern
// lists and invalid expressions are rejected here so Classify cannot fail.
func LoadRules(r io.Reader) ([]Rule, error) {
	var f ruleFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding rules: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("rule table is empty")
	}

	rules := make([]Rule, 0, len(f.Rules))
	for i, raw := range f.Rules {
		cat := Category(raw.Category)
		if !cat.Valid() {
			return nil, fmt.Errorf("rule %d: unknown category %q", i, raw.Category)
		}
		if len(raw.Patterns) == 0 {
			return nil, fmt.Errorf("rule %d (%s): no patterns", i, cat)
		}
		rule := Rule{Category: cat}
		for _, p := range raw.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("rule %d (%s): compiling %q: %w", i, cat, p, err)
			}
			rule.Patterns = append(rule.Patterns, re)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
