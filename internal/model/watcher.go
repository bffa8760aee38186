package model

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher drops the loader's cache when either artifact path changes on
// disk and warms it again once writes settle.
type Watcher struct {
	loader   *Loader
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	targets  map[string]struct{}
	debounce time.Duration

	mu      sync.Mutex
	running bool
	closed  bool
	pending time.Time
	reloads int

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher creates a watcher over the loader's artifact paths.
func NewWatcher(loader *Loader, logger *slog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	targets := make(map[string]struct{}, 2)
	primary, fallback := loader.Paths()
	for _, p := range []string{primary, fallback} {
		if p != "" {
			targets[filepath.Clean(p)] = struct{}{}
		}
	}
	return &Watcher{
		loader:   loader,
		watcher:  w,
		logger:   logger,
		targets:  targets,
		debounce: 200 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start watches the artifact directories. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running || w.closed {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	dirs := make(map[string]struct{})
	for p := range w.targets {
		dirs[filepath.Dir(p)] = struct{}{}
	}
	for dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			w.logger.Warn("model watcher: cannot create artifact dir", "dir", dir, "error", err)
		}
		if err := w.watcher.Add(dir); err != nil {
			w.logger.Warn("model watcher: watch failed", "dir", dir, "error", err)
			continue
		}
		w.logger.Debug("model watcher: watching", "dir", dir)
	}

	go w.run(ctx)
	return nil
}

// Stop ends the event loop and releases the OS watcher. It is safe on a
// watcher that was never started.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	wasRunning := w.running
	w.running = false
	w.closed = true
	w.mu.Unlock()

	if wasRunning {
		close(w.stopCh)
		<-w.doneCh
	}
	if err := w.watcher.Close(); err != nil {
		w.logger.Error("model watcher: close failed", "error", err)
	}
}

// Reloads reports how many debounced reloads have run.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := time.NewTicker(w.debounce / 2)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("model watcher error", "error", err)
		case <-tick.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if _, ok := w.targets[filepath.Clean(ev.Name)]; !ok {
		return
	}
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) &&
		!ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return
	}
	w.loader.Invalidate()
	w.mu.Lock()
	w.pending = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	if w.pending.IsZero() || time.Since(w.pending) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.pending = time.Time{}
	w.reloads++
	w.mu.Unlock()

	if _, info, err := w.loader.Current(ctx); err != nil {
		w.logger.Warn("model watcher: reload failed", "error", err)
	} else {
		w.logger.Info("model watcher: artifact changed", "path", info.Path, "version", info.Version)
	}
}
