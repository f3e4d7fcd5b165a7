package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ConfigBackend is the persistent layer under the environment. Values are
// raw JSON-compatible scalars; keys.go coerces them to the key's type.
type ConfigBackend interface {
	Lookup(key string) (v any, ok bool)
	Store(key string, v any) error
	Delete(key string) error
}

func xdgDir(env, fallback string) (string, bool) {
	if dir := os.Getenv(env); dir != "" {
		return dir, true
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	return filepath.Join(home, fallback), true
}

func defaultDataDir() string {
	dir, ok := xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
	if !ok {
		return "aide-data"
	}
	return filepath.Join(dir, "aide")
}

func configFilePath() string {
	dir, ok := xdgDir("XDG_CONFIG_HOME", ".config")
	if !ok {
		dir = "."
	}
	return filepath.Join(dir, "aide", "config.json")
}

// jsonFile keeps the config as one flat object keyed by dotted names,
// e.g. {"server.port": 4100, "respond.ceiling": "10s"}. An unreadable or
// corrupt file behaves as empty so the server still starts on defaults.
type jsonFile struct {
	path   string
	values map[string]any
}

func newFileBackend(path string) *jsonFile {
	f := &jsonFile{path: path, values: map[string]any{}}
	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		slog.Warn("config file unreadable, using defaults", "path", path, "error", err)
	default:
		if err := json.Unmarshal(raw, &f.values); err != nil {
			slog.Warn("config file is not valid JSON, using defaults", "path", path, "error", err)
			f.values = map[string]any{}
		}
	}
	return f
}

func (f *jsonFile) Lookup(key string) (any, bool) {
	v, ok := f.values[key]
	return v, ok
}

func (f *jsonFile) Store(key string, v any) error {
	f.values[key] = v
	return f.flush()
}

func (f *jsonFile) Delete(key string) error {
	if _, ok := f.values[key]; !ok {
		return nil
	}
	delete(f.values, key)
	return f.flush()
}

func (f *jsonFile) flush() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	out, err := json.MarshalIndent(f.values, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, append(out, '\n'), 0o600)
}
