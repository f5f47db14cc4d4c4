package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterLoggerFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "runner"))

	log.Debug("hidden")
	log.Warn("delivery failed", Int("id", 5), Err(errors.New("boom")))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var m map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &m))
	assert.Equal(t, "warn", m["level"])
	assert.Equal(t, "delivery failed", m["message"])
	assert.Equal(t, "runner", m["comp"])
	assert.Equal(t, float64(5), m["id"])
	assert.Equal(t, "boom", m["err"])
	assert.Contains(t, m["caller"], "logging_test.go:")
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var log Logger
	assert.True(t, log.IsZero())
	log.Error("nothing happens")
	assert.False(t, Nop().IsZero())
}

func readJSONLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(b), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(line, &m), string(line))
		out = append(out, m)
	}
	return out
}

func TestServiceFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log.With(String("comp", "runner")).Debug("cache loaded", Int("ids", 3))

	lines := readJSONLines(t, path)
	require.Len(t, lines, 1)
	assert.Equal(t, "debug", lines[0]["level"])
	assert.Equal(t, "cache loaded", lines[0]["message"])
	assert.Equal(t, "runner", lines[0]["comp"])
	assert.Equal(t, float64(3), lines[0]["ids"])
}

func TestServiceApplySwapsLevelForExistingLoggers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	cfg := Config{Level: "info", File: FileConfig{Enabled: true, Path: path}}
	svc, log := New(cfg)
	t.Cleanup(func() { _ = svc.Close() })
	derived := log.With(String("comp", "cron"))

	derived.Debug("dropped before apply")
	cfg.Level = "debug"
	svc.Apply(cfg)
	derived.Debug("kept after apply")

	lines := readJSONLines(t, path)
	require.Len(t, lines, 1)
	assert.Equal(t, "kept after apply", lines[0]["message"])
	assert.Equal(t, "cron", lines[0]["comp"])
}

func TestParseLevelDefaults(t *testing.T) {
	assert.Equal(t, LevelWarn, parseLevel("warning", LevelInfo))
	assert.Equal(t, LevelInfo, parseLevel("bogus", LevelInfo))
}
