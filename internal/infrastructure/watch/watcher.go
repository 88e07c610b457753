// Package watch observes the local supplementary corpus and fires a callback
// once changes settle.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 2 * time.Second

var watchedExtensions = []string{".md", ".markdown", ".txt"}

// Watcher collapses bursts of file events under root into one onChange call
// after debounce of quiet.
type Watcher struct {
	root     string
	debounce time.Duration
	onChange func(ctx context.Context)

	mu    sync.Mutex
	timer *time.Timer
}

func New(root string, debounce time.Duration, onChange func(ctx context.Context)) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{root: filepath.Clean(root), debounce: debounce, onChange: onChange}
}

// Run watches until ctx is done. Directories created later are added to the
// watch set as they appear.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return fmt.Errorf("create watch root: %w", err)
	}
	if err := addTree(fsw, w.root); err != nil {
		return err
	}
	slog.Info("watch_started", "root", w.root)

	defer w.cancelPending()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				slog.Warn("watch_error", "error", err.Error())
			}
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fsw *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := addTree(fsw, ev.Name); err != nil {
				slog.Warn("watch_add_failed", "path", ev.Name, "error", err.Error())
			}
			w.schedule(ctx)
			return
		}
	}
	if !matchExtension(ev.Name) {
		return
	}
	w.schedule(ctx)
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		slog.Info("watch_changes_settled", "root", w.root)
		w.onChange(ctx)
	})
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func matchExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range watchedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
