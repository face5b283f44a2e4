// Package watch invalidates the post collection when content files change.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/folio/internal/checksum"
	"github.com/starford/folio/internal/models"
)

// DefaultDebounce is how long the watcher waits for a burst of events to
// settle before reconciling.
const DefaultDebounce = 200 * time.Millisecond

// Event kinds passed to EventCallback.
const (
	Created = "created"
	Updated = "updated"
	Deleted = "deleted"
)

// EventCallback is called once per changed content file after the
// collection has been invalidated. path is relative to the content root.
type EventCallback func(kind string, path string)

// Source is the content directory being watched.
type Source interface {
	List() ([]models.PostSource, error)
	Read(path string) ([]byte, error)
	Root() string
	Recursive() bool
	IsContent(name string) bool
}

// Invalidator drops cached state derived from the content directory.
type Invalidator interface {
	Invalidate()
}

// Watch runs an fsnotify watcher on the content root until ctx is
// cancelled. Bursts of events are debounced and then reconciled against a
// fresh listing, so renames and editor save dances surface as plain
// created, updated and deleted changes.
func Watch(ctx context.Context, src Source, inv Invalidator, logger *slog.Logger, cb EventCallback) error {
	return WatchWithDebounce(ctx, src, inv, logger, cb, DefaultDebounce)
}

// WatchWithDebounce is Watch with a custom settle delay.
func WatchWithDebounce(ctx context.Context, src Source, inv Invalidator, logger *slog.Logger, cb EventCallback, debounce time.Duration) error {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := src.Root()
	if err := addDirs(w, root, src.Recursive()); err != nil {
		return err
	}

	known := snapshot(src, logger)
	logger.Info("watcher: started", slog.String("root", root), slog.Int("files", len(known)))

	var timer *time.Timer
	var timerCh <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerCh = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			known = reconcile(src, inv, known, logger, cb)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 && src.Recursive() {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirs(w, ev.Name, true); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name), slog.String("error", addErr.Error()))
					}
					schedule()
					continue
				}
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			if !src.IsContent(filepath.Base(ev.Name)) && !isDirEvent(ev, known, root) {
				continue
			}
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// isDirEvent reports whether a removed or renamed path was a directory
// holding known files.
func isDirEvent(ev fsnotify.Event, known map[string]string, root string) bool {
	if ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	rel, err := filepath.Rel(root, ev.Name)
	if err != nil {
		return false
	}
	prefix := filepath.ToSlash(rel) + "/"
	for p := range known {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// reconcile diffs a fresh listing against known, invalidates the
// collection when anything changed, and reports each change.
func reconcile(src Source, inv Invalidator, known map[string]string, logger *slog.Logger, cb EventCallback) map[string]string {
	current := snapshot(src, logger)
	type change struct{ kind, path string }
	var changes []change

	for p := range known {
		if _, ok := current[p]; !ok {
			changes = append(changes, change{Deleted, p})
		}
	}
	for p, cs := range current {
		prev, ok := known[p]
		switch {
		case !ok:
			changes = append(changes, change{Created, p})
		case prev != cs:
			changes = append(changes, change{Updated, p})
		}
	}
	if len(changes) == 0 {
		return known
	}

	inv.Invalidate()
	for _, c := range changes {
		logger.Debug("watcher: change", slog.String("path", c.path), slog.String("op", c.kind))
		if cb != nil {
			cb(c.kind, c.path)
		}
	}
	return current
}

func snapshot(src Source, logger *slog.Logger) map[string]string {
	sources, err := src.List()
	if err != nil {
		logger.Warn("watcher: list failed", slog.String("error", err.Error()))
		return map[string]string{}
	}
	out := make(map[string]string, len(sources))
	for _, s := range sources {
		// Unreadable files are still tracked with an empty checksum.
		if data, err := src.Read(s.Path); err == nil {
			out[s.Path] = checksum.Sum(data)
		} else {
			out[s.Path] = ""
		}
	}
	return out
}

// addDirs adds root, and its subdirectories when recursive, to the watcher.
func addDirs(w *fsnotify.Watcher, root string, recursive bool) error {
	if !recursive {
		return w.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
