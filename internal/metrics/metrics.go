// Package metrics exposes per-run counters for the notifier.
//
// A run is a short-lived batch job, so metrics live in a private registry and
// are pushed to a Prometheus Pushgateway at the end of the run instead of being
// scraped.
package metrics

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "offensebot"

type Collector struct {
	reg *prometheus.Registry

	fetched        prometheus.Counter
	skipped        prometheus.Counter
	delivered      prometheus.Counter
	deliveryFailed prometheus.Counter
	sourceFailures prometheus.Counter
	cacheSize      prometheus.Gauge
	lastRun        prometheus.Gauge
	lastSuccess    prometheus.Gauge
	runDuration    prometheus.Gauge
}

func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		fetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "offenses_fetched_total",
			Help: "Open offenses returned by the SIEM.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "offenses_skipped_total",
			Help: "Offenses skipped because they were already notified.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_delivered_total",
			Help: "Alerts accepted by Telegram.",
		}),
		deliveryFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_failed_total",
			Help: "Alerts that failed to deliver (not retried).",
		}),
		sourceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "source_failures_total",
			Help: "Runs where the SIEM could not be queried.",
		}),
		cacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cache_ids",
			Help: "Identifiers held in the notification cache after the run.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_run_timestamp_seconds",
			Help: "Unix time the last run finished.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_success_timestamp_seconds",
			Help: "Unix time the last run finished with the cache persisted.",
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "run_duration_seconds",
			Help: "Wall time of the last run.",
		}),
	}
	c.reg.MustRegister(
		c.fetched, c.skipped, c.delivered, c.deliveryFailed, c.sourceFailures,
		c.cacheSize, c.lastRun, c.lastSuccess, c.runDuration,
	)
	return c
}

// Registry exposes the underlying registry (tests, custom gatherers).
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Run summarizes one orchestrator pass.
type Run struct {
	Fetched        int
	Skipped        int
	Delivered      int
	Failed         int
	SourceFailed   bool
	CacheSize      int
	Duration       time.Duration
	CachePersisted bool
}

// Observe records a finished run. Nil collectors are ignored.
func (c *Collector) Observe(r Run) {
	if c == nil {
		return
	}
	c.fetched.Add(float64(r.Fetched))
	c.skipped.Add(float64(r.Skipped))
	c.delivered.Add(float64(r.Delivered))
	c.deliveryFailed.Add(float64(r.Failed))
	if r.SourceFailed {
		c.sourceFailures.Inc()
	}
	c.cacheSize.Set(float64(r.CacheSize))
	c.runDuration.Set(r.Duration.Seconds())
	now := float64(time.Now().Unix())
	c.lastRun.Set(now)
	if r.CachePersisted {
		c.lastSuccess.Set(now)
	}
}

// Push sends the registry to a Pushgateway. Empty url is a no-op.
func (c *Collector) Push(ctx context.Context, url, job string) error {
	if c == nil || strings.TrimSpace(url) == "" {
		return nil
	}
	if job == "" {
		job = namespace
	}
	return push.New(url, job).Gatherer(c.reg).PushContext(ctx)
}
