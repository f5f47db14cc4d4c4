package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"offensebot/internal/config"
	"offensebot/internal/runner"
	"offensebot/internal/schedule"
	"offensebot/internal/storage"
	logx "offensebot/pkg/logx"
)

// Reload enables hot-applying of non-secret settings while serving: the
// log level and outputs, and the schedule. Other settings need a restart.
type Reload struct {
	// Options is how the configuration was loaded; Options.Path is watched.
	Options config.Options
	// Logs receives the reloaded logging settings. Nil leaves logging alone.
	Logs *logx.Service
	// Schedule pins the schedule (e.g. from a command-line flag) over
	// whatever the reloaded file says.
	Schedule string
}

// EnableReload makes Serve watch r.Options.Path for changes.
func (a *App) EnableReload(r Reload) { a.reload = &r }

// Serve runs RunOnce on cfg.Schedule until ctx is cancelled. Runs never
// overlap: a tick that fires while the previous run is still going is
// skipped. Fatal run errors (corrupt cache, save failure) stop the loop.
func (a *App) Serve(ctx context.Context) error {
	spec, err := schedule.Parse(a.cfg.Schedule.Spec)
	if err != nil {
		return fmt.Errorf("%w: schedule: %v", config.ErrInvalid, err)
	}
	loc, err := config.LoadLocation(a.cfg.Schedule.Timezone)
	if err != nil {
		return fmt.Errorf("%w: schedule.timezone: %v", config.ErrInvalid, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fatal := make(chan error, 1)
	clog := cronLogger{log: a.log.With(logx.String("comp", "cron"))}
	c := cron.New(cron.WithParser(schedule.Parser), cron.WithLocation(loc), cron.WithLogger(clog))
	job := cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := a.RunOnce(ctx); err != nil {
			if errors.Is(err, storage.ErrLocked) {
				a.log.Warn("run skipped; cache locked by another process", logx.Err(err))
				return
			}
			if errors.Is(err, runner.ErrCache) || errors.Is(err, runner.ErrCacheSave) {
				a.log.Error("fatal run error; stopping", logx.Err(err))
				select {
				case fatal <- err:
				default:
				}
				cancel()
				return
			}
			a.log.Error("run failed", logx.Err(err))
		}
	})
	// Wrapped here rather than via cron.WithChain so a rescheduled entry
	// keeps the same overlap guard.
	wrapped := cron.NewChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)).Then(job)
	cur := &scheduled{
		id:      c.Schedule(spec.Schedule, wrapped),
		spec:    a.cfg.Schedule.Spec,
		tz:      a.cfg.Schedule.Timezone,
		logging: a.cfg.Logging,
	}

	a.log.Info("scheduler started", logx.String("schedule", spec.Expr), logx.String("tz", loc.String()))
	c.Start()
	notifySystemd(a.log, daemon.SdNotifyReady)

	var watchers sync.WaitGroup
	if a.reload != nil && strings.TrimSpace(a.reload.Options.Path) != "" {
		watchers.Add(1)
		go func() {
			defer watchers.Done()
			wlog := a.log.With(logx.String("comp", "config"))
			err := config.Watch(ctx, a.reload.Options, wlog, func(cfg *config.Config) {
				a.applyReload(c, wrapped, cur, cfg)
			})
			if err != nil {
				wlog.Warn("config watch unavailable; hot reload disabled", logx.Err(err))
			}
		}()
	}

	<-ctx.Done()
	notifySystemd(a.log, daemon.SdNotifyStopping)
	<-c.Stop().Done()
	watchers.Wait()
	a.log.Info("scheduler stopped")
	select {
	case err := <-fatal:
		return err
	default:
		return nil
	}
}

// scheduled tracks what the running cron entry was built from.
type scheduled struct {
	mu      sync.Mutex
	id      cron.EntryID
	spec    string
	tz      string
	logging config.LoggingConfig
}

func (a *App) applyReload(c *cron.Cron, job cron.Job, cur *scheduled, cfg *config.Config) {
	cur.mu.Lock()
	defer cur.mu.Unlock()

	if a.reload.Schedule != "" {
		cfg.Schedule.Spec = a.reload.Schedule
	}

	if a.reload.Logs != nil && cfg.Logging != cur.logging {
		a.reload.Logs.Apply(logx.Config{
			Level:   cfg.Logging.Level,
			Console: cfg.Logging.Console,
			File: logx.FileConfig{
				Enabled: cfg.Logging.File.Enabled,
				Path:    cfg.Logging.File.Path,
			},
		})
		cur.logging = cfg.Logging
		a.log.Info("logging settings applied", logx.String("level", cfg.Logging.Level))
	}

	if cfg.Schedule.Spec != cur.spec {
		spec, err := schedule.Parse(cfg.Schedule.Spec)
		if err != nil {
			a.log.Warn("reloaded schedule rejected; keeping current one", logx.Err(err), logx.String("schedule", cfg.Schedule.Spec))
		} else {
			c.Remove(cur.id)
			cur.id = c.Schedule(spec.Schedule, job)
			cur.spec = cfg.Schedule.Spec
			a.log.Info("schedule applied", logx.String("schedule", spec.Expr))
		}
	}

	if cfg.Schedule.Timezone != cur.tz {
		a.log.Warn("schedule.timezone changed; restart to apply", logx.String("timezone", cfg.Schedule.Timezone))
	}
}

func notifySystemd(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Debug("sd_notify failed", logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify", logx.String("state", state))
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
