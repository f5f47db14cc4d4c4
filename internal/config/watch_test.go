package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "offensebot/pkg/logx"
)

func TestWatchReloadsChangedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offensebot.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"warn"}}`), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	applied := make(chan *Config, 16)
	done := make(chan error, 1)
	opts := Options{Path: path, Lookup: envLookup(requiredEnv())}
	go func() {
		done <- Watch(ctx, opts, logx.Nop(), func(cfg *Config) { applied <- cfg })
	}()

	var got *Config
	require.Eventually(t, func() bool {
		select {
		case got = <-applied:
			return true
		default:
		}
		_ = os.WriteFile(path, []byte(`{"logging":{"level":"debug"},"schedule":{"spec":"5m"}}`), 0o600)
		return false
	}, 10*time.Second, 400*time.Millisecond)
	assert.Equal(t, "debug", got.Logging.Level)
	assert.Equal(t, "5m", got.Schedule.Spec)
	assert.Equal(t, "123:abc", got.Telegram.Token)

	// Drain anything queued by the retries above, then break the file.
	time.Sleep(time.Second)
	for len(applied) > 0 {
		<-applied
	}
	require.NoError(t, os.WriteFile(path, []byte(`{"logging":`), 0o600))
	select {
	case cfg := <-applied:
		t.Fatalf("invalid file was applied: %+v", cfg)
	case <-time.After(time.Second):
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatchMissingDirectory(t *testing.T) {
	opts := Options{Path: filepath.Join(t.TempDir(), "nope", "offensebot.json")}
	err := Watch(context.Background(), opts, logx.Nop(), func(*Config) {})
	assert.Error(t, err)
}
