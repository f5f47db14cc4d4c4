package config

import (
	"strings"

	logx "offensebot/pkg/logx"
)

// Summary returns safe structured attrs describing cfg for the startup log.
// Secrets (SIEM key, bot token) are never included.
func Summary(cfg *Config) []logx.Field {
	if cfg == nil {
		return nil
	}
	driver := strings.TrimSpace(cfg.Cache.Driver)
	if driver == "" {
		driver = "file"
	}
	return []logx.Field{
		logx.String("source.url", cfg.Source.URL),
		logx.Bool("source.ca_file_set", strings.TrimSpace(cfg.Source.CAFile) != ""),
		logx.Int("source.max_items", cfg.Source.MaxItems),
		logx.Bool("telegram.chat_set", cfg.Telegram.ChatID != ""),
		logx.String("cache.driver", driver),
		logx.String("cache.path", cfg.Cache.Path),
		logx.Bool("cache.lock", !cfg.Cache.DisableLock),
		logx.String("schedule", cfg.Schedule.Spec),
		logx.Bool("metrics.push", cfg.Metrics.PushgatewayURL != ""),
	}
}
