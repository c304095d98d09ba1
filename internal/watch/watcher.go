// Package watch triggers a refresh when a local fixture file changes.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/godilite/kpi-dashboard/internal/service"
	"go.uber.org/zap"
)

const DefaultDebounce = 100 * time.Millisecond

// FixtureWatcher pings target whenever the watched file is written, created or renamed into place.
type FixtureWatcher struct {
	path     string
	target   service.Broadcaster
	debounce time.Duration
	logger   *zap.Logger
}

// NewFixtureWatcher creates a watcher for path. A non-positive debounce uses DefaultDebounce.
func NewFixtureWatcher(path string, target service.Broadcaster, debounce time.Duration, logger *zap.Logger) *FixtureWatcher {
	if target == nil {
		panic("nil Broadcaster provided to NewFixtureWatcher")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FixtureWatcher{
		path:     filepath.Clean(path),
		target:   target,
		debounce: debounce,
		logger:   logger.Named("watch"),
	}
}

// Run blocks until ctx is done. The parent directory is watched so that editors which replace the
// file instead of writing it in place are still noticed.
func (w *FixtureWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("watching fixture", zap.String("path", w.path))

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
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

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				w.logger.Debug("fixture changed", zap.String("op", event.Op.String()))
				w.target.Broadcast()
			})
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", zap.Error(err))
		}
	}
}
