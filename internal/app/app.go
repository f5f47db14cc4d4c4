// Package app wires configuration into the notifier components and runs them
// either once (the default, for external schedulers) or on an internal cron
// schedule.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"offensebot/internal/config"
	"offensebot/internal/format"
	"offensebot/internal/metrics"
	"offensebot/internal/runner"
	"offensebot/internal/sink/telegram"
	"offensebot/internal/source/qradar"
	"offensebot/internal/storage"
	logx "offensebot/pkg/logx"
)

type App struct {
	cfg *config.Config
	log logx.Logger

	store   storage.Store
	runner  *runner.Runner
	metrics *metrics.Collector

	lockStale time.Duration
	reload    *Reload
}

// Overrides lets callers (tests, embedding programs) replace the network
// components while keeping the rest of the wiring.
type Overrides struct {
	Source runner.Source
	Sink   runner.Sink
}

func New(cfg *config.Config, log logx.Logger, ov Overrides) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	srcTimeout, err := config.ParseDurationOrDefault("source.timeout", cfg.Source.Timeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	tgTimeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 15*time.Second)
	if err != nil {
		return nil, err
	}
	lockStale, err := config.ParseDurationOrDefault("cache.lock_stale_after", cfg.Cache.LockStaleAfter, storage.DefaultLockStaleAfter)
	if err != nil {
		return nil, err
	}
	busy, err := config.ParseDurationField("cache.busy_timeout", cfg.Cache.BusyTimeout)
	if err != nil {
		return nil, err
	}
	loc, err := config.LoadLocation(cfg.Format.Timezone)
	if err != nil {
		return nil, fmt.Errorf("format.timezone: %w", err)
	}

	src := ov.Source
	if src == nil {
		src, err = qradar.New(qradar.Config{
			BaseURL:    cfg.Source.URL,
			Token:      cfg.Source.Key,
			APIVersion: cfg.Source.APIVersion,
			Timeout:    srcTimeout,
			MaxItems:   cfg.Source.MaxItems,
			CAFile:     cfg.Source.CAFile,
		}, log.With(logx.String("comp", "qradar")))
		if err != nil {
			return nil, err
		}
	}

	sink := ov.Sink
	if sink == nil {
		sink, err = telegram.New(telegram.Config{
			Token:          cfg.Telegram.Token,
			ChatID:         cfg.Telegram.ChatID,
			APIURL:         cfg.Telegram.APIURL,
			Timeout:        tgTimeout,
			RatePerSec:     cfg.Telegram.RatePerSec,
			DisablePreview: !cfg.Telegram.LinkPreview,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
	}

	store, err := storage.Open(storage.Config{
		Driver:      cfg.Cache.Driver,
		Path:        cfg.Cache.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	r, err := runner.New(runner.Deps{
		Store:     store,
		Source:    src,
		Sink:      sink,
		Formatter: format.New(cfg.Source.ConsoleURL, loc),
		Metrics:   m,
		Log:       log.With(logx.String("comp", "runner")),
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		runner:    r,
		metrics:   m,
		lockStale: lockStale,
	}, nil
}

// RunOnce performs one guarded pass: take the cache lock, run, push metrics.
func (a *App) RunOnce(ctx context.Context) (runner.Report, error) {
	if !a.cfg.Cache.DisableLock {
		lock, err := storage.AcquireLock(a.cachePath(), a.lockStale)
		if err != nil {
			return runner.Report{}, err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				a.log.Warn("release cache lock failed", logx.Err(err), logx.String("path", lock.Path()))
			}
		}()
	}

	rep, err := a.runner.Run(ctx)
	a.pushMetrics(ctx)
	return rep, err
}

func (a *App) pushMetrics(ctx context.Context) {
	url := a.cfg.Metrics.PushgatewayURL
	if url == "" {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.metrics.Push(pctx, url, a.cfg.Metrics.Job); err != nil {
		a.log.Warn("metrics push failed", logx.Err(err))
	}
}

func (a *App) cachePath() string {
	if a.cfg.Cache.Path == "" {
		return storage.DefaultPath
	}
	return a.cfg.Cache.Path
}

// Metrics exposes the run metrics collector.
func (a *App) Metrics() *metrics.Collector { return a.metrics }

func (a *App) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}
