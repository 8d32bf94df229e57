package substrate

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/jcast/substrate/internal/manifest"
	"github.com/jcast/substrate/internal/store"
)

// DefaultDebounce is the settle window Watch uses when none is given.
const DefaultDebounce = 500 * time.Millisecond

// Watch blocks, regenerating targets as their sources change. Every
// package directory holding a selected target is watched; rapid saves of
// the same file collapse into one regeneration once the debounce window
// passes. Watch returns when ctx is cancelled or the watcher's event
// channel closes.
func (e *Engine) Watch(ctx context.Context, pattern string, debounce time.Duration) error {
	targets, err := e.manifest.FilterTargets(pattern)
	if err != nil {
		return err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("substrate: create watcher: %w", err)
	}
	defer watcher.Close()

	// Index sources by absolute path. Watches are per directory, so the
	// index also filters out events for files no target reads.
	sources := make(map[string][]manifest.Target, len(targets))
	dirs := make(map[string]bool)
	for _, t := range targets {
		abs := e.absPath(t.Source)
		sources[abs] = append(sources[abs], t)
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("substrate: watch %s: %w", dir, err)
		}
	}

	e.logger.Info("watching sources",
		zap.Int("dirs", len(dirs)),
		zap.Int("targets", len(targets)),
		zap.Duration("debounce", debounce))

	interval := debounce / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pending := make(map[string]time.Time)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue // chmod etc.
			}
			if _, ok := sources[event.Name]; !ok {
				continue
			}
			e.logger.Debug("source event",
				zap.String("op", event.Op.String()),
				zap.String("path", event.Name))
			pending[event.Name] = time.Now()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Warn("watch error", zap.Error(err))

		case <-ticker.C:
			now := time.Now()
			var changed []manifest.Target
			for p, at := range pending {
				if now.Sub(at) < debounce {
					continue
				}
				delete(pending, p)
				changed = append(changed, sources[p]...)
			}
			if len(changed) == 0 {
				continue
			}
			res, err := e.generate(ctx, store.RunWatch, changed, false)
			if err != nil {
				e.logger.Warn("regeneration failed", zap.Error(err))
			}
			if res != nil {
				e.logger.Info("regenerated",
					zap.Int("written", len(res.Written)),
					zap.Int("skipped", res.Skipped),
					zap.Int("failed", len(res.Failed)))
			}
		}
	}
}
