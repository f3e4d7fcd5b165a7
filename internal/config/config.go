package config

import (
	"strings"
	"time"
)

type Config struct {
	Server       ServerConfig
	Ollama       OllamaConfig
	Domains      DomainsConfig
	Actions      ActionsConfig
	Speech       SpeechConfig
	Storage      StorageConfig
	Log          LogConfig
	Conversation ConversationConfig
	Respond      RespondConfig
	Trust        TrustConfig
	Telemetry    TelemetryConfig
}

type ServerConfig struct {
	Port           int
	MaxConnections int
}

type OllamaConfig struct {
	BaseURL   string
	ChatModel string
	FastModel string
}

// DomainsConfig locates the per-domain "latest snapshot" backends.
type DomainsConfig struct {
	BaseURL  string
	APIToken string
	Timeout  string
}

type ActionsConfig struct {
	BaseURL  string
	APIToken string
}

type SpeechConfig struct {
	TTSURL string
	Locale string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type ConversationConfig struct {
	HistorySize int
}

// RespondConfig holds reply timing. Ceilings is a comma-separated list of
// category=duration overrides, e.g. "action_request=5s,life_advice=30s".
type RespondConfig struct {
	InterimDelay string
	Ceiling      string
	Ceilings     string
}

type TrustConfig struct {
	Default int
}

type TelemetryConfig struct {
	QueueSize int
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           4100,
			MaxConnections: 64,
		},
		Ollama: OllamaConfig{
			BaseURL:   "http://localhost:11434",
			ChatModel: "mistral-nemo",
			FastModel: "phi3.5",
		},
		Domains: DomainsConfig{
			BaseURL: "http://localhost:8080/api",
			Timeout: "4s",
		},
		Speech: SpeechConfig{
			Locale: "en-US",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Conversation: ConversationConfig{
			HistorySize: 20,
		},
		Respond: RespondConfig{
			InterimDelay: "1.5s",
			Ceiling:      "10s",
		},
		Trust: TrustConfig{
			Default: 50,
		},
		Telemetry: TelemetryConfig{
			QueueSize: 256,
		},
	}
}

// Load reads configuration from the JSON config file, environment variables
// and the secrets file.
//
// The config file lives at $XDG_CONFIG_HOME/aide/config.json. Environment
// variables (AIDE_*) override file values. Secrets are never read from the
// config file: they come from the environment or the 0600 secrets file.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), NewSecretStore())
}

func loadWith(b ConfigBackend, secrets SecretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Secrets missing from the environment come from the secrets file,
	// named with underscores: "domains.api_token" is "domains_api_token".
	if secrets != nil {
		for _, s := range specs {
			if !s.secret || *s.str(&cfg) != "" {
				continue
			}
			if v, err := secrets.Get(strings.ReplaceAll(s.key, ".", "_")); err == nil && v != "" {
				*s.str(&cfg) = v
			}
		}
	}

	return cfg, nil
}

// Duration parses s and falls back to def when s is empty or malformed.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
