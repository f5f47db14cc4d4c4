package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"offensebot/internal/app"
	"offensebot/internal/config"
	"offensebot/internal/runner"
	"offensebot/internal/storage"
	logx "offensebot/pkg/logx"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitConfig      = 2
	exitCacheLoad   = 3
	exitCacheSave   = 4
	exitCacheLocked = 5
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		envFile  string
		cfgPath  string
		serve    bool
		schedule string
	)
	flag.StringVar(&envFile, "env", ".env", "dotenv file with SIEM_URL, SIEM_KEY, BOT_TOKEN, BOT_CHAT_ID")
	flag.StringVar(&cfgPath, "config", "", "optional JSON/YAML config file")
	flag.BoolVar(&serve, "serve", false, "keep running and poll on the configured schedule")
	flag.StringVar(&schedule, "schedule", "", "schedule for -serve (e.g. \"5m\", \"*/5 * * * *\")")
	flag.Parse()

	boot := logx.NewConsole("INFO")

	opts := config.Options{EnvFiles: []string{envFile}, Path: cfgPath}
	cfg, err := config.Load(opts)
	if err != nil {
		boot.Error("configuration error", logx.Err(err))
		return exitCode(err)
	}
	if schedule != "" {
		cfg.Schedule.Spec = schedule
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer logs.Close()
	log.Info("starting", config.Summary(cfg)...)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfg, log, app.Overrides{})
	if err != nil {
		log.Error("init failed", logx.Err(err))
		return exitCode(err)
	}
	defer a.Close()

	if serve {
		if cfg.Schedule.Spec == "" {
			log.Error("-serve needs a schedule (-schedule, SCHEDULE or schedule.spec)")
			return exitConfig
		}
		a.EnableReload(app.Reload{Options: opts, Logs: logs, Schedule: schedule})
		if err := a.Serve(ctx); err != nil {
			log.Error("serve stopped", logx.Err(err))
			return exitCode(err)
		}
		return exitOK
	}

	if _, err := a.RunOnce(ctx); err != nil {
		log.Error("run failed", logx.Err(err))
		return exitCode(err)
	}
	return exitOK
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, config.ErrMissing), errors.Is(err, config.ErrInvalid):
		return exitConfig
	case errors.Is(err, storage.ErrLocked):
		return exitCacheLocked
	case errors.Is(err, runner.ErrCache), errors.Is(err, storage.ErrCorrupt):
		return exitCacheLoad
	case errors.Is(err, runner.ErrCacheSave):
		return exitCacheSave
	default:
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return exitFailure
	}
}
