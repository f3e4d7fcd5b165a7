package config

import (
	"fmt"
	"os"
)

// KeyInfo describes a config key for display purposes. Source is where the
// effective value came from: "default", "file" or "env".
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
	Source string
}

// ShowAll returns every non-secret key of cfg with its origin.
func ShowAll(cfg Config) []KeyInfo {
	return describe(cfg, newFileBackend(configFilePath()))
}

func describe(cfg Config, b ConfigBackend) []KeyInfo {
	out := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		if s.secret {
			continue
		}
		src := "default"
		if _, ok := b.Lookup(s.key); ok {
			src = "file"
		}
		if os.Getenv(s.envName()) != "" {
			src = "env"
		}
		out = append(out, KeyInfo{Key: s.key, EnvVar: s.envName(), Value: s.display(cfg), Source: src})
	}
	return out
}

// SetKey validates value for key and writes it to the config file. An
// empty value removes the key so the default applies again.
func SetKey(key, value string) error {
	return setKeyIn(newFileBackend(configFilePath()), key, value)
}

func setKeyIn(b ConfigBackend, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key %q", key)
	}
	if s.secret {
		return fmt.Errorf("%s is a secret; set it with the %s environment variable", key, s.envName())
	}
	if value == "" {
		return b.Delete(key)
	}
	v, err := s.parse(value)
	if err != nil {
		return err
	}
	return b.Store(key, v)
}

// ValidKeys returns the non-secret key names in declaration order.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
