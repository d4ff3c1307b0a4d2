package taskstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ShayCichocki/teamlead/internal/logging"
)

// Watcher reports task directories whose records changed on disk. Bursts of
// writes to one directory are coalesced into a single report.
type Watcher struct {
	root     string
	debounce time.Duration
	logger   *slog.Logger

	watcher *fsnotify.Watcher
	changes chan string
}

// NewWatcher watches tasksRoot and every directory below it.
func NewWatcher(tasksRoot string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if err := os.MkdirAll(tasksRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create tasks root: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{
		root:     tasksRoot,
		debounce: debounce,
		logger:   logging.OrDiscard(logger).With("component", "task-watcher"),
		watcher:  fw,
		changes:  make(chan string, 16),
	}

	if err := fw.Add(tasksRoot); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", tasksRoot, err)
	}
	entries, _ := os.ReadDir(tasksRoot)
	for _, e := range entries {
		if e.IsDir() {
			w.add(filepath.Join(tasksRoot, e.Name()))
		}
	}
	return w, nil
}

// Changes delivers changed task directories. It is closed when Run returns.
func (w *Watcher) Changes() <-chan string {
	return w.changes
}

// Run processes filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.changes)
	defer w.watcher.Close()

	pending := make(map[string]struct{})
	var flush <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			dir, ok := w.classify(event)
			if !ok {
				continue
			}
			pending[dir] = struct{}{}
			if flush == nil {
				flush = time.After(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Debug("watch error", "error", err)

		case <-flush:
			flush = nil
			for dir := range pending {
				delete(pending, dir)
				select {
				case w.changes <- dir:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

// classify maps an event to the task directory it affects.
func (w *Watcher) classify(event fsnotify.Event) (string, bool) {
	parent := filepath.Dir(event.Name)

	if parent == w.root {
		// A new task directory appeared.
		if event.Op&fsnotify.Create != 0 {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				w.add(event.Name)
				return event.Name, true
			}
		}
		return "", false
	}

	if filepath.Ext(event.Name) != ".json" {
		return "", false
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return "", false
	}
	return parent, true
}

func (w *Watcher) add(dir string) {
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Debug("watch dir failed", "dir", dir, "error", err)
	}
}
