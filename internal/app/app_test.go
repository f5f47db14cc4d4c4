package app

import (
	"context"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offensebot/internal/config"
	"offensebot/internal/offense"
	"offensebot/internal/runner"
	"offensebot/internal/storage"
	logx "offensebot/pkg/logx"
)

// fakeQRadar serves a mutable offense list over TLS.
type fakeQRadar struct {
	mu       sync.Mutex
	offenses string
	down     bool
}

func (f *fakeQRadar) set(body string) {
	f.mu.Lock()
	f.offenses = body
	f.mu.Unlock()
}

func (f *fakeQRadar) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
		return
	}
	if r.Header.Get("SEC") != "sec-key" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	_, _ = w.Write([]byte(f.offenses))
}

// fakeTelegram records sendMessage texts.
type fakeTelegram struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeTelegram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var p map[string]any
	_ = json.NewDecoder(r.Body).Decode(&p)
	text, _ := p["text"].(string)
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":1,"type":"group"}}}`))
}

func (f *fakeTelegram) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type harness struct {
	qr     *fakeQRadar
	tg     *fakeTelegram
	cfg    *config.Config
	cache  string
	lookup func(string) (string, bool)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	qr := &fakeQRadar{offenses: "[]"}
	qsrv := httptest.NewTLSServer(qr)
	t.Cleanup(qsrv.Close)

	caFile := filepath.Join(dir, "ca.pem")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: qsrv.Certificate().Raw})
	require.NoError(t, os.WriteFile(caFile, pemBytes, 0o600))

	tg := &fakeTelegram{}
	tsrv := httptest.NewServer(tg)
	t.Cleanup(tsrv.Close)

	cache := filepath.Join(dir, "cache1.json")
	env := map[string]string{
		config.EnvSIEMURL:   qsrv.URL + "/",
		config.EnvSIEMKey:   "sec-key",
		config.EnvBotToken:  "1:abc",
		config.EnvBotChatID: "-100",
		config.EnvCacheFile: cache,
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cfg, err := config.Load(config.Options{Lookup: lookup})
	require.NoError(t, err)
	cfg.Source.CAFile = caFile
	cfg.Telegram.APIURL = tsrv.URL
	cfg.Telegram.RatePerSec = 1000
	cfg.Format.Timezone = "UTC"

	return &harness{qr: qr, tg: tg, cfg: cfg, cache: cache, lookup: lookup}
}

func (h *harness) app(t *testing.T) *App {
	t.Helper()
	return h.appWithLog(t, logx.Nop())
}

func (h *harness) appWithLog(t *testing.T, log logx.Logger) *App {
	t.Helper()
	a, err := New(h.cfg, log, Overrides{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func (h *harness) cachedIDs(t *testing.T) offense.IDSet {
	t.Helper()
	b, err := os.ReadFile(h.cache)
	require.NoError(t, err)
	var ids offense.IDSet
	require.NoError(t, json.Unmarshal(b, &ids))
	return ids
}

func TestEndToEndTwoRuns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.qr.set(`[{"id":1,"description":"first","severity":3,"start_time":1700000000000},
	           {"id":2,"description":"second","severity":9,"start_time":1700000000000}]`)
	rep, err := h.app(t).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Delivered)
	require.Len(t, h.tg.sent(), 2)
	assert.Contains(t, h.tg.sent()[0], "*Offense id*: 1 - first")
	assert.Contains(t, h.tg.sent()[1], "🟥🟥🟥🟥🟥🟥")
	assert.True(t, offense.NewIDSet("1", "2").Equal(h.cachedIDs(t)))

	h.qr.set(`[{"id":1,"description":"first"},{"id":2,"description":"second"},{"id":3,"description":"third"}]`)
	rep, err = h.app(t).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Delivered)
	require.Len(t, h.tg.sent(), 3)
	assert.Contains(t, h.tg.sent()[2], "*Offense id*: 3 - third")
	assert.True(t, offense.NewIDSet("1", "2", "3").Equal(h.cachedIDs(t)))

	_, err = os.Stat(h.cache + ".lock")
	assert.True(t, os.IsNotExist(err), "lock released after run")
}

func TestEndToEndSourceDownKeepsCache(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(h.cache, []byte(`[1,2]`), 0o600))
	h.qr.down = true

	rep, err := h.app(t).RunOnce(context.Background())
	require.NoError(t, err)
	require.Error(t, rep.SourceErr)
	assert.Empty(t, h.tg.sent())

	b, err := os.ReadFile(h.cache)
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, string(b))
}

func TestRunOnceRespectsLock(t *testing.T) {
	h := newHarness(t)
	lock, err := storage.AcquireLock(h.cache, time.Hour)
	require.NoError(t, err)
	defer lock.Release()

	_, err = h.app(t).RunOnce(context.Background())
	assert.ErrorIs(t, err, storage.ErrLocked)
	assert.Empty(t, h.tg.sent())
}

func TestServeStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.cfg.Schedule.Spec = "@every 10s"
	a := h.app(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServeRejectsBadSchedule(t *testing.T) {
	h := newHarness(t)
	h.cfg.Schedule.Spec = "whenever"
	err := h.app(t).Serve(context.Background())
	assert.ErrorIs(t, err, config.ErrInvalid)
}

// everySecond fires on every wall-clock second.
const everySecond = "* * * * * *"

func serveAsync(ctx context.Context, a *App) <-chan error {
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()
	return done
}

func TestServeStopsOnCorruptCache(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.WriteFile(h.cache, []byte(`{garbage`), 0o600))
	h.qr.set(`[{"id":1,"description":"first"}]`)
	h.cfg.Schedule.Spec = everySecond

	done := serveAsync(context.Background(), h.app(t))
	select {
	case err := <-done:
		assert.ErrorIs(t, err, runner.ErrCache)
		assert.ErrorIs(t, err, storage.ErrCorrupt)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve kept running with a corrupt cache")
	}

	assert.Empty(t, h.tg.sent())
	b, err := os.ReadFile(h.cache)
	require.NoError(t, err)
	assert.Equal(t, `{garbage`, string(b))
}

func TestServeSkipsTicksWhileLocked(t *testing.T) {
	h := newHarness(t)
	h.qr.set(`[{"id":1,"description":"first"}]`)
	h.cfg.Schedule.Spec = everySecond

	lock, err := storage.AcquireLock(h.cache, time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := serveAsync(ctx, h.app(t))

	time.Sleep(2500 * time.Millisecond)
	assert.Empty(t, h.tg.sent(), "no delivery while another process holds the lock")
	select {
	case err := <-done:
		t.Fatalf("Serve stopped on a held lock: %v", err)
	default:
	}

	require.NoError(t, lock.Release())
	require.Eventually(t, func() bool { return len(h.tg.sent()) == 1 }, 10*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.True(t, offense.NewIDSet("1").Equal(h.cachedIDs(t)))
}

func TestServeAppliesEditedConfigFile(t *testing.T) {
	h := newHarness(t)
	h.qr.set(`[{"id":1,"description":"first"}]`)
	h.cfg.Schedule.Spec = "@every 1h"

	dir := t.TempDir()
	logPath := filepath.Join(dir, "bot.log")
	cfgPath := filepath.Join(dir, "offensebot.json")
	writeCfg := func(level, spec string) {
		body := `{"logging":{"level":"` + level + `","file":{"enabled":true,"path":"` + logPath + `"}},` +
			`"schedule":{"spec":"` + spec + `"}}`
		require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))
	}
	writeCfg("warn", "@every 1h")

	logs, log := logx.New(logx.Config{Level: "warn", File: logx.FileConfig{Enabled: true, Path: logPath}})
	t.Cleanup(func() { _ = logs.Close() })

	a := h.appWithLog(t, log)
	a.EnableReload(Reload{Options: config.Options{Path: cfgPath, Lookup: h.lookup}, Logs: logs})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := serveAsync(ctx, a)

	// Rewrite until picked up; the watcher may not be running on the first write.
	require.Eventually(t, func() bool {
		if len(h.tg.sent()) > 0 {
			return true
		}
		writeCfg("info", everySecond)
		return false
	}, 15*time.Second, 500*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	b, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(b), "schedule applied")
}
