package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FSWatcher watches one directory and reports, after each quiet period, the
// set of files that changed.
type FSWatcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	match    func(path string) bool
	onChange func(paths []string)

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewFSWatcher creates a watcher. match may be nil to accept every file.
func NewFSWatcher(debounce time.Duration, match func(string) bool, onChange func([]string)) (*FSWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if debounce == 0 {
		debounce = 100 * time.Millisecond
	}
	if match == nil {
		match = func(string) bool { return true }
	}
	return &FSWatcher{
		watcher:  w,
		debounce: debounce,
		match:    match,
		onChange: onChange,
		pending:  make(map[string]struct{}),
	}, nil
}

// Add starts watching dir.
func (w *FSWatcher) Add(dir string) error {
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	return nil
}

// Run starts the event loop. It blocks until the context is cancelled.
func (w *FSWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	debouncer := NewDebouncer(w.debounce, w.flush)
	defer debouncer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if !w.match(event.Name) {
				continue
			}
			w.mu.Lock()
			w.pending[filepath.Clean(event.Name)] = struct{}{}
			w.mu.Unlock()
			debouncer.Trigger()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher error: %w", err)
		}
	}
}

func (w *FSWatcher) flush() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	clear(w.pending)
	w.mu.Unlock()

	if len(paths) == 0 || w.onChange == nil {
		return
	}
	slices.Sort(paths)
	w.onChange(paths)
}
