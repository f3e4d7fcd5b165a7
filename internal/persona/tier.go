// Package persona derives the assistant's behavioral tier from the user's
// proficiency score.
package persona

import (
	"encoding/json"
	"fmt"
	"math"
)

// Tier is a rung on the persona ladder. Higher tiers act more on their own.
type Tier int

const (
	Novice Tier = iota
	Analytical
	Proactive
	Optimized
)

var tierNames = [...]string{"novice", "analytical", "proactive", "fully_optimized"}

func (t Tier) String() string {
	if t < Novice || t > Optimized {
		return fmt.Sprintf("tier(%d)", int(t))
	}
	return tierNames[t]
}

func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Tier) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTier(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func ParseTier(s string) (Tier, error) {
	for i, n := range tierNames {
		if n == s {
			return Tier(i), nil
		}
	}
	return Novice, fmt.Errorf("unknown tier %q", s)
}

// Derive maps a proficiency score in [0, 100] to a tier. Scores outside the
// range are clamped and NaN is treated as 0.
func Derive(score float64) Tier {
	score = Clamp(score)
	switch {
	case score >= 100:
		return Optimized
	case score >= 67:
		return Proactive
	case score >= 34:
		return Analytical
	default:
		return Novice
	}
}

func Clamp(score float64) float64 {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// profile is the fixed behavior attached to a tier.
type profile struct {
	traits   map[string]int
	voice    string
	style    string
	announce string
}

var profiles = map[Tier]profile{
	Novice: {
		traits:   map[string]int{"warmth": 8, "directness": 4, "proactivity": 2, "detail": 3, "humor": 5},
		voice:    "guide-soft",
		style:    "Keep replies short and encouraging. Explain any numbers in plain words and ask before assuming what the user wants.",
		announce: "We're just getting started. I'll keep things simple while I learn how you like to work.",
	},
	Analytical: {
		traits:   map[string]int{"warmth": 6, "directness": 6, "proactivity": 4, "detail": 8, "humor": 3},
		voice:    "analyst-clear",
		style:    "Ground every answer in the user's own data. Cite specific figures and trends from the context when they help.",
		announce: "I can now dig into your data in more depth and point out the patterns behind your numbers.",
	},
	Proactive: {
		traits:   map[string]int{"warmth": 6, "directness": 7, "proactivity": 8, "detail": 6, "humor": 4},
		voice:    "coach-bright",
		style:    "Anticipate the next step. Suggest concrete follow-up actions the user can take right away.",
		announce: "I've learned enough to start suggesting next steps before you ask.",
	},
	Optimized: {
		traits:   map[string]int{"warmth": 7, "directness": 9, "proactivity": 10, "detail": 7, "humor": 5},
		voice:    "partner-warm",
		style:    "Act as a trusted partner. Be direct, connect insights across domains and recommend a plan, not just options.",
		announce: "We're fully in sync now. I'll connect everything across your life and act as your partner.",
	},
}

// Style is the system-prompt guidance for t.
func (t Tier) Style() string { return profiles[t].style }

// Voice is the default voice identity for t.
func (t Tier) Voice() string { return profiles[t].voice }

// Announcement is the utterance spoken when t becomes active.
func (t Tier) Announcement() string { return profiles[t].announce }

// Traits returns a copy of the trait intensities (0-10) for t.
func (t Tier) Traits() map[string]int {
	src := profiles[t].traits
	out := make(map[string]int, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
