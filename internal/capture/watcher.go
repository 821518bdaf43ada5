package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hpungsan/focus/internal/focus"
	"github.com/hpungsan/focus/internal/logging"
)

// DefaultDebounce is how long a new file must stay quiet before it is queued.
const DefaultDebounce = 500 * time.Millisecond

// Watcher queues images that an external tool drops into a directory.
type Watcher struct {
	dir      string
	queue    *Queue
	debounce time.Duration
	logger   *slog.Logger

	// OnEnqueue runs after each successful enqueue (optional)
	OnEnqueue func(focus.Capture)
}

// NewWatcher watches dir and feeds q.
func NewWatcher(dir string, q *Queue, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		dir:      dir,
		queue:    q,
		debounce: debounce,
		logger:   logging.Component(logger, "watcher"),
	}
}

// Run blocks until ctx is done. Images already in the directory when the
// watch starts are queued too. Files still being written keep resetting
// their debounce timer; a file is queued once it has been quiet.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching capture directory", "dir", w.dir)

	// Files written before the watch was added never produce events
	_, existing, err := listImages(w.dir)
	if err != nil {
		return fmt.Errorf("scan %s: %w", w.dir, err)
	}
	pending := make(map[string]time.Time, len(existing))
	for _, path := range existing {
		pending[path] = time.Now()
	}
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !IsImage(ev.Name) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
				pending[ev.Name] = time.Now()
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				delete(pending, ev.Name)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)

		case now := <-ticker.C:
			for path, seen := range pending {
				if now.Sub(seen) < w.debounce {
					continue
				}
				delete(pending, path)
				w.enqueue(path)
			}
		}
	}
}

func (w *Watcher) enqueue(path string) {
	info, err := os.Stat(path)
	if err != nil {
		w.logger.Debug("capture vanished before queueing", "path", path)
		return
	}
	c := focus.Capture{Path: path, Timestamp: info.ModTime()}
	if err := w.queue.Enqueue(c); err != nil {
		w.logger.Warn("enqueue failed", "path", path, "error", err)
		return
	}
	if w.OnEnqueue != nil {
		w.OnEnqueue(c)
	}
}
