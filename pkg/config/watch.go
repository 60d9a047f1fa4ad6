package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/deployforge/deployforge/pkg/telemetry"
)

// ReloadFunc receives the freshly loaded configuration after the file
// changes on disk. It is called from the watcher goroutine.
type ReloadFunc func(cfg *Config)

// Watcher reloads the config file on change and notifies a callback.
// Only the tool server and environment sections are safe to apply at
// runtime; callers decide what to do with the rest.
type Watcher struct {
	path     string
	reload   ReloadFunc
	logger   *telemetry.Logger
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
}

// NewWatcher creates a config file watcher. Start must be called to begin
// watching.
func NewWatcher(path string, reload ReloadFunc, logger *telemetry.Logger) *Watcher {
	return &Watcher{
		path:     path,
		reload:   reload,
		logger:   logger.NewComponentLogger("config"),
		debounce: 500 * time.Millisecond,
	}
}

// Start begins watching the config file's directory. Editors that replace
// the file on save emit create events, so the directory is watched rather
// than the file itself.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		return err
	}

	w.mu.Lock()
	w.watcher = watcher
	w.mu.Unlock()

	go w.processEvents(ctx, watcher)

	w.logger.WithField("path", w.path).Info("watching config file for changes")
	return nil
}

// Stop stops watching. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		_ = w.watcher.Close()
		w.watcher = nil
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			w.scheduleReload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("config watch error")
		}
	}
}

// scheduleReload debounces bursts of write events into one reload.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		cfg, err := Load(w.path)
		if err != nil {
			// Keep running on the previous config rather than crash on a
			// half-written or invalid file.
			w.logger.WithError(err).Warn("config reload failed, keeping previous config")
			return
		}
		w.logger.Info("config reloaded")
		w.reload(cfg)
	})
}
