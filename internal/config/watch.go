package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "offensebot/pkg/logx"
)

// watchDebounce coalesces the burst of events editors emit for one save.
const watchDebounce = 250 * time.Millisecond

// Watch reloads the configuration whenever opts.Path changes and hands each
// valid result to apply. Invalid files are logged and ignored; the previous
// configuration stays in effect. Watch blocks until ctx is done.
func Watch(ctx context.Context, opts Options, log logx.Logger, apply func(*Config)) error {
	dir := filepath.Dir(opts.Path)
	file := filepath.Base(opts.Path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the directory: atomic saves replace the file and drop a file watch.
	if err := w.Add(dir); err != nil {
		return err
	}
	log.Debug("config watcher started", logx.String("path", opts.Path))

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		if ctx.Err() != nil {
			return
		}
		cfg, err := Load(opts)
		if err != nil {
			log.Warn("config reload rejected; keeping current settings", logx.Err(err))
			return
		}
		apply(cfg)
	}
	debounce := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() {
			mu.Lock()
			defer mu.Unlock()
			reload()
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) == file && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watch error", logx.Err(err))
		}
	}
}
