package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceDelay is the default delay for batching rapid file system events.
const DebounceDelay = 100 * time.Millisecond

// ReloadFunc receives the freshly loaded configuration after the watched
// file changes. Implementations must be safe for concurrent use.
type ReloadFunc func(*Config)

// Watcher monitors the configuration file and reloads it on change.
// Editors replace files with rename+create, so the parent directory is
// watched and events are filtered by file name.
//
// Thread-safety: all public methods are safe for concurrent use.
type Watcher struct {
	mu sync.Mutex

	watcher *fsnotify.Watcher
	path    string
	onLoad  ReloadFunc
	logger  *slog.Logger

	debounceDelay time.Duration
	debounceTimer *time.Timer

	// done signals the event loop to stop.
	done chan struct{}
	// stopped is closed when the event loop has exited.
	stopped chan struct{}
}

// NewWatcher creates a watcher for the given config file path.
// Call Start() to begin watching and Close() when done.
func NewWatcher(path string, onLoad ReloadFunc, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		watcher:       fw,
		path:          path,
		onLoad:        onLoad,
		logger:        logger,
		debounceDelay: DebounceDelay,
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// SetDebounceDelay sets the debounce delay for batching rapid changes.
// Must be called before Start().
func (w *Watcher) SetDebounceDelay(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounceDelay = d
}

// Start begins the event processing loop.
func (w *Watcher) Start() {
	go w.eventLoop()
}

// Close stops the watcher and releases resources.
// After Close returns, no more reloads are delivered.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	<-w.stopped
	return err
}

func (w *Watcher) eventLoop() {
	defer close(w.stopped)

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("Config watcher error", "error", err)
			}
		}
	}
}

// scheduleReload debounces rapid sequences of events into one reload.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceDelay, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		if w.logger != nil {
			w.logger.Warn("Config reload failed, keeping previous configuration",
				"path", w.path, "error", err)
		}
		return
	}
	if w.logger != nil {
		w.logger.Info("Configuration reloaded", "path", w.path)
	}
	if w.onLoad != nil {
		w.onLoad(cfg)
	}
}
