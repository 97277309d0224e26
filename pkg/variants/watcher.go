package variants

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a RegistrySet whenever its registry file changes.
//
// The parent directory is watched rather than the file itself so that
// editors and config-management tools that replace the file atomically are
// still picked up. Bursts of events are debounced into a single reload.
type Watcher struct {
	path     string
	set      *RegistrySet
	interval time.Duration
	logger   *slog.Logger

	// OnReload, when set, is called after every reload attempt.
	OnReload func(err error)

	mu      sync.Mutex
	timer   *time.Timer
	running bool
}

// NewWatcher creates a watcher for path. A zero interval defaults to 100ms.
func NewWatcher(path string, set *RegistrySet, interval time.Duration, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     path,
		set:      set,
		interval: interval,
		logger:   logger.With("component", "variants.watcher"),
	}
}

// Watch blocks until ctx is cancelled, reloading the registry file on change.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	abs, err := filepath.Abs(w.path)
	if err != nil {
		return fmt.Errorf("failed to resolve registry path: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %q: %w", filepath.Dir(abs), err)
	}

	w.logger.Info("registry watcher started", "path", abs, "debounce_ms", w.interval.Milliseconds())

	defer func() {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.running = false
		w.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("registry watcher stopped")
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != abs || event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			w.logger.Debug("registry file event", "op", event.Op.String())
			w.schedule()

		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("registry watcher error", "error", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.interval, w.reload)
}

func (w *Watcher) reload() {
	err := w.set.Reload(w.path)
	if err != nil {
		w.logger.Error("registry reload failed, keeping previous snapshot", "error", err)
	} else {
		w.logger.Info("registries reloaded", "objectives", len(w.set.ObjectiveIDs()))
	}
	if w.OnReload != nil {
		w.OnReload(err)
	}
}
