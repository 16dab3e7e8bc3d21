package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"lingua/internal/logging"
)

// debounceDelay coalesces editor write bursts into one reload.
const debounceDelay = 200 * time.Millisecond

// Watcher reloads the config file when it changes on disk and hands the
// fresh config to the callback.
type Watcher struct {
	path     string
	onChange func(*Config)
	fs       *fsnotify.Watcher
}

// NewWatcher watches path. onChange runs on the watcher goroutine.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors commonly replace the file, which
	// drops a watch placed on the file itself.
	if err := fs.Add(filepath.Dir(path)); err != nil {
		fs.Close()
		return nil, err
	}
	return &Watcher{path: path, onChange: onChange, fs: fs}, nil
}

// Run processes events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	log := logging.L(logging.CategoryConfig)
	var timer *time.Timer
	reload := func() {
		cfg, err := Load(w.path)
		if err != nil {
			log.Warn("config reload failed", zap.Error(err))
			return
		}
		log.Info("config reloaded", zap.String("path", w.path))
		w.onChange(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceDelay, reload)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Warn("config watch error", zap.Error(err))
		}
	}
}

// Close releases the underlying watcher.
func (w *Watcher) Close() error {
	return w.fs.Close()
}
