package confloader

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the environment variable prefix.
const DefaultEnvPrefix = "KSEFBRIDGE_"

// sectionSeparator separates config sections in environment keys.
const sectionSeparator = "__"

// Loader loads configuration from defaults, a file and the environment.
type Loader struct {
	mu        sync.RWMutex
	k         *koanf.Koanf
	envPrefix string
	filePath  string
	defaults  map[string]any
	loaded    bool
}

// Option configures the Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithConfigFile sets the configuration file path.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

// WithDefaults sets flattened ("a.b.c") default values.
func WithDefaults(defaults map[string]any) Option {
	return func(l *Loader) {
		l.defaults = defaults
	}
}

// NewLoader creates a configuration loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FilePath returns the configured file path, possibly empty.
func (l *Loader) FilePath() string {
	return l.filePath
}

// Load reads all sources and unmarshals the result into target.
func (l *Loader) Load(target any) error {
	k := koanf.New(".")
	if err := l.loadInto(k); err != nil {
		return err
	}
	if err := k.Unmarshal("", target); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	l.mu.Lock()
	l.k = k
	l.loaded = true
	l.mu.Unlock()
	return nil
}

// Reload is Load into a fresh target. The previous values stay in place
// when any source fails.
func (l *Loader) Reload(target any) error {
	if !l.IsLoaded() {
		return errors.New("confloader: reload before load")
	}
	return l.Load(target)
}

func (l *Loader) loadInto(k *koanf.Koanf) error {
	if len(l.defaults) > 0 {
		if err := k.Load(mapProvider(l.defaults), nil); err != nil {
			return fmt.Errorf("load defaults: %w", err)
		}
	}
	if l.filePath != "" {
		if err := k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return fmt.Errorf("load file %s: %w", l.filePath, err)
		}
	}
	if err := k.Load(env.Provider(l.envPrefix, ".", l.envKey), nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// envKey maps KSEFBRIDGE_SERVER__HTTP__ADDRESS to server.http.address.
func (l *Loader) envKey(s string) string {
	s = strings.TrimPrefix(s, l.envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, sectionSeparator, ".")
}

// IsLoaded reports whether Load succeeded at least once.
func (l *Loader) IsLoaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loaded
}

// String returns a loaded value by key.
func (l *Loader) String(key string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.k.String(key)
}

// Duration returns a loaded duration by key.
func (l *Loader) Duration(key string) time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.k.Duration(key)
}

// Keys returns all loaded keys.
func (l *Loader) Keys() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.k.Keys()
}

// mapProvider feeds a flattened map to koanf.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("confloader: map provider does not support ReadBytes")
}

func (m mapProvider) Read() (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return unflatten(out), nil
}

// unflatten turns {"a.b": 1} into {"a": {"b": 1}}.
func unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		parts := strings.Split(key, ".")
		cur := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := cur[p].(map[string]any)
			if !ok {
				next = make(map[string]any)
				cur[p] = next
			}
			cur = next
		}
		cur[parts[len(parts)-1]] = v
	}
	return out
}
