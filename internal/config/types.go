package config

// Config is built once at process start and handed to each component.
//
// The four secrets (SIEM URL/key, bot token, chat id) come from the
// environment only and are never read from, or written to, the config file.
// Everything else has a working default and may be set in an optional
// JSON or YAML file.
type Config struct {
	Source   SourceConfig   `json:"source"`
	Telegram TelegramConfig `json:"telegram"`
	Cache    CacheConfig    `json:"cache"`
	Format   FormatConfig   `json:"format"`
	Logging  LoggingConfig  `json:"logging"`
	Schedule ScheduleConfig `json:"schedule"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type SourceConfig struct {
	URL string `json:"-"` // SIEM_URL
	Key string `json:"-"` // SIEM_KEY

	// ConsoleURL is used for deep links; defaults to URL.
	ConsoleURL string `json:"console_url,omitempty"`
	APIVersion string `json:"api_version,omitempty"` // default: "8.1"
	// Timeout is a Go duration string (e.g. "30s").
	Timeout  string `json:"timeout,omitempty"`
	MaxItems int    `json:"max_items,omitempty"`
	// CAFile is a PEM bundle trusted in addition to the system roots.
	CAFile string `json:"ca_file,omitempty"`
}

type TelegramConfig struct {
	Token  string `json:"-"` // BOT_TOKEN
	ChatID string `json:"-"` // BOT_CHAT_ID

	APIURL string `json:"api_url,omitempty"` // default: https://api.telegram.org
	// Timeout is a Go duration string (e.g. "15s").
	Timeout     string  `json:"timeout,omitempty"`
	RatePerSec  float64 `json:"rate_per_sec,omitempty"`
	LinkPreview bool    `json:"link_preview,omitempty"`
}

// CacheConfig controls the notification cache.
//
// Example:
//
//	"cache": { "driver": "file", "path": "./cache1.json" }
type CacheConfig struct {
	Driver string `json:"driver,omitempty"` // "file" (default) | "sqlite"
	Path   string `json:"path,omitempty"`   // default: ./cache1.json
	// LockStaleAfter is a Go duration string; default "1h".
	LockStaleAfter string `json:"lock_stale_after,omitempty"`
	// DisableLock skips the run lock (only safe when the scheduler serializes runs).
	DisableLock bool   `json:"disable_lock,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type FormatConfig struct {
	// Timezone is an IANA name used to render offense start times.
	// Empty means the host's local time.
	Timezone string `json:"timezone,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console bool        `json:"console,omitempty"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// ScheduleConfig is only used by "serve" mode. One-shot runs ignore it.
type ScheduleConfig struct {
	// Spec accepts cron ("*/5 * * * *", "@every 5m"), a Go duration ("5m")
	// or HH:MM ("00:05").
	Spec     string `json:"spec,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

type MetricsConfig struct {
	PushgatewayURL string `json:"pushgateway_url,omitempty"`
	Job            string `json:"job,omitempty"` // default: offensebot
}
