// Package watch observes test scripts on disk and coalesces bursts of
// filesystem events into single change batches, driving re-runs in watch
// mode.
package watch

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/odvcencio/bowline/pkg/errors"
	"github.com/odvcencio/bowline/pkg/logging"
)

// DefaultDebounce is how long the watcher waits after the last event
// before emitting a batch.
const DefaultDebounce = 300 * time.Millisecond

// Options configures a watcher.
type Options struct {
	// Paths are files or directories to observe. Directories are walked
	// so nested test files are covered; single files watch their parent
	// directory, since editors replace files on save.
	Paths []string

	// Patterns filter changes by glob (path.Match against the slashed
	// path, falling back to the base name). Empty means every change
	// counts.
	Patterns []string

	Debounce time.Duration
	Logger   *logging.Logger
}

// Watcher emits debounced batches of changed paths on Changes().
type Watcher struct {
	fs       *fsnotify.Watcher
	patterns []string
	debounce time.Duration
	logger   *logging.Logger
	changes  chan []string
}

// New builds a watcher over opts.Paths.
func New(opts Options) (*Watcher, error) {
	if len(opts.Paths) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "watch requires at least one path")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "cannot create filesystem watcher")
	}

	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w := &Watcher{
		fs:       fsw,
		patterns: opts.Patterns,
		debounce: debounce,
		logger:   opts.Logger,
		changes:  make(chan []string, 1),
	}
	for _, p := range opts.Paths {
		if err := w.add(p); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// add registers a path with the underlying watcher. Directories are
// walked; files watch their parent.
func (w *Watcher) add(root string) error {
	root = strings.TrimSpace(root)
	info, err := os.Stat(root)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "cannot watch path").
			WithContext("path", root)
	}

	if !info.IsDir() {
		dir := filepath.Dir(root)
		if err := w.fs.Add(dir); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "cannot watch directory").
				WithContext("dir", dir)
		}
		return nil
	}

	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fs.Add(p); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "cannot watch directory").
				WithContext("dir", p)
		}
		return nil
	})
}

// Changes delivers batches of changed paths, sorted, after the debounce
// window closes. A batch waiting for a busy consumer keeps accumulating
// rather than being dropped.
func (w *Watcher) Changes() <-chan []string {
	return w.changes
}

// Run pumps filesystem events into debounced batches until ctx is
// cancelled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	pending := make(map[string]struct{})
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			// New directories must be registered regardless of the file
			// patterns, or changes inside them go unseen.
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.fs.Add(ev.Name); err != nil && w.logger != nil {
						w.logger.Warn(logging.CategoryWatch, "watch_add_failed", err.Error(), map[string]any{
							"dir": ev.Name,
						})
					}
					continue
				}
			}
			if !w.relevant(ev) {
				continue
			}
			pending[ev.Name] = struct{}{}
			timer.Reset(w.debounce)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			if w.logger != nil {
				w.logger.Warn(logging.CategoryWatch, "watch_error", err.Error(), nil)
			}

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			batch := make([]string, 0, len(pending))
			for p := range pending {
				batch = append(batch, p)
			}
			sort.Strings(batch)

			select {
			case w.changes <- batch:
				pending = make(map[string]struct{})
			default:
				// Consumer is mid-run; hold the batch and retry after
				// another window.
				timer.Reset(w.debounce)
			}
		}
	}
}

// Close shuts the underlying watcher down; Run returns soon after.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

// relevant reports whether an event should trigger a re-run. Chmod-only
// events are noise and never count.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	return matchesAny(w.patterns, ev.Name)
}

// matchesAny reports whether the path matches one of the glob patterns;
// an empty pattern list matches everything.
func matchesAny(patterns []string, filePath string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		if matchesPattern(pattern, filePath) {
			return true
		}
	}
	return false
}

func matchesPattern(pattern, filePath string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || pattern == "*" {
		return true
	}
	cleanPath := filepath.ToSlash(strings.TrimSpace(filePath))
	cleanPattern := filepath.ToSlash(pattern)
	if ok, _ := path.Match(cleanPattern, cleanPath); ok {
		return true
	}
	if !strings.Contains(cleanPattern, "/") {
		base := path.Base(cleanPath)
		if ok, _ := path.Match(cleanPattern, base); ok {
			return true
		}
	}
	return false
}
