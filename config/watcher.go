package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the debounce duration for file change events.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// Watcher monitors a config file and invokes a callback with the reloaded
// Config. It watches the containing directory for atomic-save compatibility.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	onChange func(*Config)

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewWatcher creates a Watcher for path. onChange receives every
// successfully reloaded Config; parse failures are logged and skipped.
func NewWatcher(path string, onChange func(*Config), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path:     path,
		debounce: 500 * time.Millisecond,
		logger:   slog.Default(),
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. Stop must be called to release the watcher.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsWatcher = fw

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return err
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	target := filepath.Clean(w.path)

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case evt, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != target {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
				continue
			}
			// Debounce: editors fire bursts of events per save.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadFromFile(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", "path", w.path, "error", err)
		return
	}
	w.logger.Info("config reloaded", "path", w.path)
	w.onChange(cfg)
}

// Stop stops watching. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		if w.fsWatcher != nil {
			w.fsWatcher.Close()
		}
	})
	w.wg.Wait()
}
