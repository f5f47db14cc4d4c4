package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "go.yaml.in/yaml/v3"
)

var (
	// ErrMissing is returned when a required environment variable is unset.
	ErrMissing = errors.New("missing required configuration")
	// ErrInvalid is returned for malformed settings.
	ErrInvalid = errors.New("invalid configuration")
)

// Environment variable names. The first four are required.
const (
	EnvSIEMURL   = "SIEM_URL"
	EnvSIEMKey   = "SIEM_KEY"
	EnvBotToken  = "BOT_TOKEN"
	EnvBotChatID = "BOT_CHAT_ID"

	EnvCacheFile = "CACHE_FILE"
	EnvLogLevel  = "LOG_LEVEL"
	EnvSchedule  = "SCHEDULE"
)

// Options controls where configuration is read from.
type Options struct {
	// EnvFiles are loaded with godotenv before reading the environment.
	// Missing files are ignored; variables already set are not overridden.
	EnvFiles []string
	// Path is an optional JSON or YAML config file.
	Path string
	// Lookup reads an environment variable. Defaults to os.LookupEnv.
	Lookup func(key string) (string, bool)
}

// Load assembles and validates the configuration.
func Load(opts Options) (*Config, error) {
	for _, f := range opts.EnvFiles {
		if strings.TrimSpace(f) == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: env file %s: %v", ErrInvalid, f, err)
		}
	}

	cfg := &Config{}
	if strings.TrimSpace(opts.Path) != "" {
		parsed, err := ParseFile(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, opts.Path, err)
		}
		cfg = parsed
	}

	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseFile decodes a JSON or YAML config file strictly: unknown keys and
// trailing data are rejected.
func ParseFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jb, err := toJSON(path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.New("trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

// toJSON converts YAML to JSON so both formats share the strict decoder.
func toJSON(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, nil
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	if v == nil {
		return []byte("{}"), nil
	}
	j, err := json.Marshal(stringKeys(v))
	if err != nil {
		return nil, fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, nil
}

// stringKeys makes every map key a string so the value can be JSON-marshaled.
func stringKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringKeys(x[i])
		}
		return x
	default:
		return in
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(k string) string {
		v, _ := lookup(k)
		return strings.TrimSpace(v)
	}

	c.Source.URL = get(EnvSIEMURL)
	c.Source.Key = get(EnvSIEMKey)
	c.Telegram.Token = get(EnvBotToken)
	c.Telegram.ChatID = get(EnvBotChatID)

	var missing []string
	for _, kv := range [][2]string{
		{EnvSIEMURL, c.Source.URL},
		{EnvSIEMKey, c.Source.Key},
		{EnvBotToken, c.Telegram.Token},
		{EnvBotChatID, c.Telegram.ChatID},
	} {
		if kv[1] == "" {
			missing = append(missing, kv[0])
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: environment variables %s must be set (e.g. in .env)", ErrMissing, strings.Join(missing, ", "))
	}

	if v := get(EnvCacheFile); v != "" {
		c.Cache.Path = v
	}
	if v := get(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := get(EnvSchedule); v != "" {
		c.Schedule.Spec = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Source.ConsoleURL == "" {
		c.Source.ConsoleURL = c.Source.URL
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Metrics.Job == "" {
		c.Metrics.Job = "offensebot"
	}
}

// Validate checks URLs, durations and time zones so a bad setting fails at
// startup instead of in the middle of a run.
func (c *Config) Validate() error {
	var errs []error

	if err := requireHTTPS(EnvSIEMURL, c.Source.URL); err != nil {
		errs = append(errs, err)
	}
	if c.Source.ConsoleURL != c.Source.URL {
		if _, err := url.Parse(c.Source.ConsoleURL); err != nil {
			errs = append(errs, fmt.Errorf("source.console_url: %w", err))
		}
	}
	if c.Source.MaxItems < 0 {
		errs = append(errs, errors.New("source.max_items must be >= 0"))
	}
	if c.Telegram.RatePerSec < 0 {
		errs = append(errs, errors.New("telegram.rate_per_sec must be >= 0"))
	}
	if c.Telegram.APIURL != "" {
		if _, err := url.Parse(c.Telegram.APIURL); err != nil {
			errs = append(errs, fmt.Errorf("telegram.api_url: %w", err))
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Cache.Driver)) {
	case "", "file", "json", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("cache.driver: unknown driver %q", c.Cache.Driver))
	}

	for path, raw := range map[string]string{
		"source.timeout":         c.Source.Timeout,
		"telegram.timeout":       c.Telegram.Timeout,
		"cache.lock_stale_after": c.Cache.LockStaleAfter,
		"cache.busy_timeout":     c.Cache.BusyTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	for path, tz := range map[string]string{
		"format.timezone":   c.Format.Timezone,
		"schedule.timezone": c.Schedule.Timezone,
	} {
		if _, err := LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func requireHTTPS(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if !strings.EqualFold(u.Scheme, "https") || u.Host == "" {
		return fmt.Errorf("%s: must be an https:// URL, got %q", name, raw)
	}
	return nil
}

// LoadLocation resolves an IANA zone name. Empty means time.Local.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

// ParseDurationField parses a Go duration string. Empty means 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback for zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
