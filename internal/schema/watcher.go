package schema

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces the burst of fsnotify events editors produce
// on save into a single reload.
const debounceWindow = 250 * time.Millisecond

// Watcher reloads the registry when the definition file changes.
type Watcher struct {
	registry  *Registry
	path      string
	logger    *slog.Logger
	onRemoved func(keys []string)
}

// NewWatcher creates a watcher for the given definition file.
// onRemoved is invoked with the keys of content types that disappeared
// after a successful reload; it may be nil.
func NewWatcher(registry *Registry, path string, logger *slog.Logger, onRemoved func(keys []string)) *Watcher {
	return &Watcher{
		registry:  registry,
		path:      path,
		logger:    logger.With("component", "schema.watcher"),
		onRemoved: onRemoved,
	}
}

// Run watches the definition file until the context is cancelled.
// The parent directory is watched rather than the file itself, because
// most editors replace the file on save and break file-level watches.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	w.logger.Info("watching content type definitions", "path", w.path)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("schema watcher stopping")
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerC = timer.C
			} else {
				timer.Reset(debounceWindow)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// reload swaps in the new definitions, keeping the old set on error.
func (w *Watcher) reload() {
	removed, err := w.registry.Reload(w.path)
	if err != nil {
		w.logger.Error("content type reload failed, keeping previous definitions", "error", err)
		return
	}

	w.logger.Info("content types reloaded",
		"types", len(w.registry.List()),
		"removed", len(removed),
	)

	if len(removed) > 0 && w.onRemoved != nil {
		w.onRemoved(removed)
	}
}
