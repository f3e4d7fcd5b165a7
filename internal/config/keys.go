package config

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration // stored as a string, must parse as a positive time.Duration
)

// keySpec binds a dotted config key to a field of Config. The environment
// variable is derived: "respond.ceiling" is AIDE_RESPOND_CEILING.
type keySpec struct {
	key    string
	typ    keyType
	secret bool
	str    func(*Config) *string
	num    func(*Config) *int
}

func stringKey(key string, f func(*Config) *string) keySpec {
	return keySpec{key: key, typ: kString, str: f}
}

func durationKey(key string, f func(*Config) *string) keySpec {
	return keySpec{key: key, typ: kDuration, str: f}
}

func intKey(key string, f func(*Config) *int) keySpec {
	return keySpec{key: key, typ: kInt, num: f}
}

// secretKey is read from the environment or the secrets file only.
func secretKey(key string, f func(*Config) *string) keySpec {
	return keySpec{key: key, typ: kString, secret: true, str: f}
}

var specs = []keySpec{
	intKey("server.port", func(c *Config) *int { return &c.Server.Port }),
	intKey("server.max_connections", func(c *Config) *int { return &c.Server.MaxConnections }),

	stringKey("ollama.base_url", func(c *Config) *string { return &c.Ollama.BaseURL }),
	stringKey("ollama.chat_model", func(c *Config) *string { return &c.Ollama.ChatModel }),
	stringKey("ollama.fast_model", func(c *Config) *string { return &c.Ollama.FastModel }),

	stringKey("domains.base_url", func(c *Config) *string { return &c.Domains.BaseURL }),
	secretKey("domains.api_token", func(c *Config) *string { return &c.Domains.APIToken }),
	durationKey("domains.timeout", func(c *Config) *string { return &c.Domains.Timeout }),

	stringKey("actions.base_url", func(c *Config) *string { return &c.Actions.BaseURL }),
	secretKey("actions.api_token", func(c *Config) *string { return &c.Actions.APIToken }),

	stringKey("speech.tts_url", func(c *Config) *string { return &c.Speech.TTSURL }),
	stringKey("speech.locale", func(c *Config) *string { return &c.Speech.Locale }),

	stringKey("storage.data_dir", func(c *Config) *string { return &c.Storage.DataDir }),
	stringKey("log.level", func(c *Config) *string { return &c.Log.Level }),
	intKey("conversation.history_size", func(c *Config) *int { return &c.Conversation.HistorySize }),

	durationKey("respond.interim_delay", func(c *Config) *string { return &c.Respond.InterimDelay }),
	durationKey("respond.ceiling", func(c *Config) *string { return &c.Respond.Ceiling }),
	stringKey("respond.ceilings", func(c *Config) *string { return &c.Respond.Ceilings }),

	intKey("trust.default", func(c *Config) *int { return &c.Trust.Default }),
	intKey("telemetry.queue_size", func(c *Config) *int { return &c.Telemetry.QueueSize }),
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

func (s keySpec) envName() string {
	return "AIDE_" + strings.ToUpper(strings.ReplaceAll(s.key, ".", "_"))
}

// parse coerces a raw value from the file (JSON scalar) or the
// environment (string) to the key's type.
func (s keySpec) parse(raw any) (any, error) {
	switch s.typ {
	case kInt:
		switch v := raw.(type) {
		case float64:
			if v != math.Trunc(v) || v < math.MinInt32 || v > math.MaxInt32 {
				return nil, fmt.Errorf("%s: %v is not an integer", s.key, v)
			}
			return int(v), nil
		case int:
			return v, nil
		case string:
			i, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("%s: invalid integer %q", s.key, v)
			}
			return i, nil
		}
		return nil, fmt.Errorf("%s: want an integer, got %T", s.key, raw)

	case kDuration:
		v, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%s: want a duration string such as \"5s\", got %T", s.key, raw)
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%s: invalid duration %q", s.key, v)
		}
		return strings.TrimSpace(v), nil

	default:
		if v, ok := raw.(string); ok {
			return v, nil
		}
		return fmt.Sprint(raw), nil
	}
}

func (s keySpec) set(cfg *Config, v any) {
	if s.typ == kInt {
		*s.num(cfg) = v.(int)
		return
	}
	*s.str(cfg) = v.(string)
}

func (s keySpec) display(cfg Config) string {
	if s.typ == kInt {
		return strconv.Itoa(*s.num(&cfg))
	}
	return *s.str(&cfg)
}

// applyBackend overlays file values. A malformed value is an error: the
// file is written by `aide config set`, which validates, so a bad value
// means hand editing gone wrong.
func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok := b.Lookup(s.key)
		if !ok {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			return fmt.Errorf("config file: %w", err)
		}
		s.set(cfg, v)
	}
	return nil
}

// applyEnvOverrides overlays AIDE_* variables; malformed ones are logged
// and skipped.
func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.envName())
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			slog.Warn("ignoring malformed environment override", "env", s.envName(), "error", err)
			continue
		}
		s.set(cfg, v)
	}
}
