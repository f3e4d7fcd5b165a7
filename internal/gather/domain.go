package gather

import (
	"fmt"
	"strings"
)

// Domain names one backend data source.
type Domain string

const (
	Health             Domain = "health"
	Fitness            Domain = "fitness"
	Calendar           Domain = "calendar"
	Goals              Domain = "goals"
	Finance            Domain = "finance"
	LegacyVision       Domain = "legacy-vision"
	BehavioralPatterns Domain = "behavioral-patterns"
	Predictions        Domain = "predictions"
)

// Full is every known domain, used for advice and chat replies.
var Full = []Domain{Health, Fitness, Calendar, Goals, Finance, LegacyVision, BehavioralPatterns, Predictions}

// RecentActivity covers only what the user has been doing lately.
var RecentActivity = []Domain{Health, Fitness, Calendar}

func (d Domain) Valid() bool {
	for _, k := range Full {
		if d == k {
			return true
		}
	}
	return false
}

// Profile resolves a named domain set: "full" (or empty) and "recent".
func Profile(name string) ([]Domain, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "full":
		return Full, nil
	case "recent", "recent_activity":
		return RecentActivity, nil
	default:
		return nil, fmt.Errorf("unknown context profile %q", name)
	}
}

// ParseDomains parses a comma-separated domain list.
func ParseDomains(s string) ([]Domain, error) {
	var out []Domain
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d := Domain(part)
		if !d.Valid() {
			return nil, fmt.Errorf("unknown domain %q", part)
		}
		out = append(out, d)
	}
	return out, nil
}
