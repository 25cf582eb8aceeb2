// Package watcher turns OS file notifications into wake-up hints for the
// poller and expands configured path patterns into concrete files.
//
// Notifications are only hints: the poller re-checks every file on its own
// schedule, so a lost or coalesced event costs latency, never data.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

const eventBuffer = 256

// Event represents a file change detected by the watcher.
type Event struct {
	Path string
	Op   fsnotify.Op
}

// Watcher monitors the directories containing watched files. Directories
// rather than files are watched so that creates and renames at a watched
// path are seen after rotation.
type Watcher struct {
	fsw    *fsnotify.Watcher
	log    *slog.Logger
	Events chan Event

	mu   sync.Mutex
	dirs map[string]bool
}

// New creates a Watcher. A nil logger uses slog.Default.
func New(logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		fsw:    fsw,
		log:    logger,
		Events: make(chan Event, eventBuffer),
		dirs:   make(map[string]bool),
	}, nil
}

// Watch subscribes to changes of path by watching its parent directory.
// Watching the same directory twice is a no-op.
func (w *Watcher) Watch(path string) error {
	return w.WatchDir(filepath.Dir(path))
}

// WatchDir subscribes to changes inside dir.
func (w *Watcher) WatchDir(dir string) error {
	dir = filepath.Clean(dir)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dirs[dir] {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("watcher: watch %s: %w", dir, err)
	}
	w.dirs[dir] = true
	return nil
}

// Dirs returns the number of watched directories.
func (w *Watcher) Dirs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs)
}

// Start forwards file events until the context is cancelled. Events are
// dropped rather than blocking when the consumer falls behind.
func (w *Watcher) Start(ctx context.Context) {
	defer w.fsw.Close()
	defer close(w.Events)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			// Forward relevant events (write, create, remove, rename).
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			select {
			case w.Events <- Event{Path: filepath.Clean(ev.Name), Op: ev.Op}:
			default:
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", slog.Any("error", err))
		}
	}
}

// HasMeta reports whether pattern contains glob metacharacters.
func HasMeta(pattern string) bool {
	for _, c := range pattern {
		switch c {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}

// BaseDir returns the longest directory prefix of pattern that contains no
// metacharacters. New files matching the pattern appear under it.
func BaseDir(pattern string) string {
	base, _ := doublestar.SplitPattern(filepath.ToSlash(pattern))
	return filepath.FromSlash(base)
}

// Expand resolves patterns to de-duplicated file paths in pattern order.
// Paths keep the form they were configured in, cleaned, so alert sources
// match what the operator wrote; two spellings of the same file count once
// and the first one wins. Literal paths are returned even if they do not
// exist yet so they can be waited for; glob patterns only yield existing
// regular files. Supports recursive patterns like /var/log/**/*.log via
// doublestar.
func Expand(patterns []string) ([]string, error) {
	var (
		out  []string
		seen = make(map[string]bool)
		errs []error
	)
	add := func(p string) {
		p = filepath.Clean(p)
		key, err := filepath.Abs(p)
		if err != nil {
			key = p
		}
		if !seen[key] {
			seen[key] = true
			out = append(out, p)
		}
	}

	for _, pattern := range patterns {
		if !HasMeta(pattern) {
			add(pattern)
			continue
		}
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			errs = append(errs, fmt.Errorf("watcher: expand %q: %w", pattern, err))
			continue
		}
		for _, m := range matches {
			add(m)
		}
	}
	return out, errors.Join(errs...)
}
