package config

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"time"

	"github.com/wippyai/edgecache/errors"
	"github.com/wippyai/edgecache/store/dictionary"
	"github.com/wippyai/edgecache/store/kv"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Defaults applied to fields left empty.
const (
	DefaultListen   = ":7676"
	DefaultLogLevel = "info"
	DefaultTTL      = time.Minute
)

// Duration is a time.Duration written as "90s" or "5m" in YAML.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// CacheConfig tunes the in-process cache.
type CacheConfig struct {
	// DefaultTTL applies when a backend response carries no max-age.
	DefaultTTL Duration `yaml:"default_ttl"`
	// StaleIfError keeps expired objects usable when their refresh fails.
	StaleIfError Duration `yaml:"stale_if_error"`
	// MaxWriteChunk caps the bytes one body write accepts. Zero means no cap.
	MaxWriteChunk int `yaml:"max_write_chunk"`
}

// Config is the edged configuration file.
type Config struct {
	Listen   string            `yaml:"listen"`
	LogLevel string            `yaml:"log_level"`
	Backend  string            `yaml:"backend"`
	Backends map[string]string `yaml:"backends"`
	Cache    CacheConfig       `yaml:"cache"`
	// KVLatency delays kv results to exercise two-phase callers.
	KVLatency    Duration                     `yaml:"kv_latency"`
	Dictionaries map[string]map[string]string `yaml:"dictionaries"`
	SecretStores map[string]map[string]string `yaml:"secret_stores"`
	KVStores     map[string]map[string]string `yaml:"kv_stores"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = Duration(DefaultTTL)
	}
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates YAML configuration.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse yaml")
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func invalid(field, detail string, args ...any) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Path(field).Detail(detail, args...).Build()
}

// Validate checks field values and cross references.
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return invalid("log_level", "unknown level %q", c.LogLevel)
	}
	for name, raw := range c.Backends {
		if name == "" {
			return invalid("backends", "backend name is empty")
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalid("backends."+name, "%q is not an http(s) URL", raw)
		}
	}
	if c.Backend != "" {
		if _, ok := c.Backends[c.Backend]; !ok {
			return invalid("backend", "backend %q is not defined", c.Backend)
		}
	}
	if c.Cache.DefaultTTL < 0 || c.Cache.StaleIfError < 0 || c.KVLatency < 0 {
		return invalid("cache", "durations must not be negative")
	}
	if c.Cache.MaxWriteChunk < 0 {
		return invalid("cache.max_write_chunk", "must not be negative")
	}
	for name := range c.Dictionaries {
		if err := dictionary.ValidateName(name); err != nil {
			return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "dictionaries."+name)
		}
	}
	for name, items := range c.KVStores {
		if name == "" {
			return invalid("kv_stores", "store name is empty")
		}
		for key := range items {
			if err := kv.ValidateKey(key); err != nil {
				return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "kv_stores."+name)
			}
		}
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// BackendURL returns the URL of the default backend, or "".
func (c *Config) BackendURL() string {
	return c.Backends[c.Backend]
}

// Target receives the configured resources.
type Target interface {
	kv.Host
	AddBackend(name, baseURL string)
	SetDictionary(name string, items map[string]string)
	AddSecretStore(name string, secrets map[string][]byte)
	AddKVStore(name string)
}

// Apply registers backends, dictionaries, secret stores and kv stores with
// t, seeding kv stores with their configured values.
func (c *Config) Apply(t Target) error {
	for name, u := range c.Backends {
		t.AddBackend(name, u)
	}
	c.ApplyDictionaries(t)
	for name, items := range c.SecretStores {
		secrets := make(map[string][]byte, len(items))
		for k, v := range items {
			secrets[k] = []byte(v)
		}
		t.AddSecretStore(name, secrets)
	}
	for _, name := range sortedKeys(c.KVStores) {
		t.AddKVStore(name)
		items := c.KVStores[name]
		if len(items) == 0 {
			continue
		}
		st, err := kv.Open(t, name)
		if err != nil {
			return fmt.Errorf("open kv store %s: %w", name, err)
		}
		for _, key := range sortedKeys(items) {
			if err := st.Put(key, []byte(items[key]), kv.InsertOptions{}); err != nil {
				return fmt.Errorf("seed kv %s/%s: %w", name, key, err)
			}
		}
	}
	Logger().Debug("configuration applied")
	return nil
}

// DictionarySink receives dictionary contents.
type DictionarySink interface {
	SetDictionary(name string, items map[string]string)
}

// ApplyDictionaries installs every dictionary, replacing existing contents.
func (c *Config) ApplyDictionaries(s DictionarySink) {
	for name, items := range c.Dictionaries {
		s.SetDictionary(name, items)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
