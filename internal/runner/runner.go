// Package runner implements one notification pass: load the cache, fetch open
// offenses, deliver each unseen one, and persist the cache.
//
// Delivery policy: every processed offense is marked as notified whether or
// not the send succeeded. A persistently failing chat therefore loses alerts
// instead of being spammed with the same backlog on every run.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"offensebot/internal/metrics"
	"offensebot/internal/offense"
	"offensebot/internal/storage"
	logx "offensebot/pkg/logx"
)

var (
	// ErrCache wraps failures to load the notification cache. Fatal.
	ErrCache = errors.New("load notification cache")
	// ErrCacheSave wraps failures to persist the notification cache.
	ErrCacheSave = errors.New("save notification cache")
)

// Source lists the currently open offenses.
type Source interface {
	Fetch(ctx context.Context) ([]offense.Offense, error)
}

// Sink delivers one formatted message.
type Sink interface {
	Send(ctx context.Context, text string) error
}

// Formatter renders an offense as a message.
type Formatter interface {
	Format(o offense.Offense) string
}

type Deps struct {
	Store     storage.Store
	Source    Source
	Sink      Sink
	Formatter Formatter
	Metrics   *metrics.Collector
	Log       logx.Logger
}

type Runner struct {
	store     storage.Store
	source    Source
	sink      Sink
	formatter Formatter
	metrics   *metrics.Collector
	log       logx.Logger
}

func New(d Deps) (*Runner, error) {
	if d.Store == nil || d.Source == nil || d.Sink == nil || d.Formatter == nil {
		return nil, errors.New("runner: store, source, sink and formatter are required")
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &Runner{
		store:     d.Store,
		source:    d.Source,
		sink:      d.Sink,
		formatter: d.Formatter,
		metrics:   d.Metrics,
		log:       d.Log,
	}, nil
}

// Report summarizes one run.
type Report struct {
	RunID     string
	Fetched   int
	Skipped   int
	Delivered int
	Failed    int
	// SourceErr is set when the offense list could not be fetched.
	SourceErr error
	CacheSize int
	Duration  time.Duration
}

// Run performs a single pass. Only cache load/save failures are returned as
// errors; source and delivery failures are logged and reflected in Report.
func (r *Runner) Run(ctx context.Context) (rep Report, err error) {
	start := time.Now()
	rep.RunID = uuid.NewString()
	log := r.log.With(logx.String("run_id", rep.RunID))

	defer func() {
		rep.Duration = time.Since(start)
		r.metrics.Observe(metrics.Run{
			Fetched:        rep.Fetched,
			Skipped:        rep.Skipped,
			Delivered:      rep.Delivered,
			Failed:         rep.Failed,
			SourceFailed:   rep.SourceErr != nil,
			CacheSize:      rep.CacheSize,
			Duration:       rep.Duration,
			CachePersisted: err == nil,
		})
	}()

	seen, err := r.store.Load(ctx)
	if err != nil {
		return rep, fmt.Errorf("%w: %w", ErrCache, err)
	}
	log.Info("cache loaded", logx.Int("ids", seen.Len()))

	offenses, ferr := r.source.Fetch(ctx)
	if ferr != nil {
		rep.SourceErr = ferr
		offenses = nil
		log.Warn("fetch offenses failed; nothing to notify this run", logx.Err(ferr))
	}
	rep.Fetched = len(offenses)

	for _, o := range offenses {
		if ctx.Err() != nil {
			log.Warn("run cancelled; remaining offenses left for the next run", logx.Err(ctx.Err()))
			break
		}
		if o.ID == "" {
			log.Warn("offense without id skipped", logx.String("description", o.Description))
			continue
		}
		if seen.Has(o.ID) {
			rep.Skipped++
			continue
		}
		derr := r.deliver(ctx, log, o)
		if derr != nil && ctx.Err() != nil {
			// Send gave up because of the cancellation; leave it for the next run.
			log.Warn("run cancelled before delivery; offense left for the next run",
				logx.String("offense_id", o.ID.String()), logx.Err(derr))
			break
		}
		if derr != nil {
			rep.Failed++
		} else {
			rep.Delivered++
		}
		seen.Add(o.ID)
	}

	rep.CacheSize = seen.Len()
	// Persist even if ctx was cancelled mid-loop; deliveries already happened.
	if err := r.store.Save(context.WithoutCancel(ctx), seen); err != nil {
		return rep, fmt.Errorf("%w: %w", ErrCacheSave, err)
	}

	log.Info("run finished",
		logx.Int("fetched", rep.Fetched),
		logx.Int("skipped", rep.Skipped),
		logx.Int("delivered", rep.Delivered),
		logx.Int("failed", rep.Failed),
		logx.Int("cache_ids", rep.CacheSize),
		logx.Duration("took", time.Since(start)),
	)
	return rep, nil
}

// deliver formats and sends one offense. A panic inside is turned into an
// error so one bad record cannot abort the rest of the run.
func (r *Runner) deliver(ctx context.Context, log logx.Logger, o offense.Offense) (err error) {
	log = log.With(logx.String("offense_id", o.ID.String()), logx.Int("severity", o.Severity))
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			log.Error("offense handling panicked", logx.Any("panic", rec), logx.Stack(logx.StackTrace(3, 16)))
		}
	}()

	log.Info("posting offense")
	if err := r.sink.Send(ctx, r.formatter.Format(o)); err != nil {
		log.Warn("delivery failed; marking as notified anyway", logx.Err(err))
		return err
	}
	return nil
}
