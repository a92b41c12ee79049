// Package watch observes the filesystem and coalesces change bursts into
// change sets that drive incremental rebuilds.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ChangeSet is a debounced batch of filesystem changes.
type ChangeSet struct {
	paths map[string]struct{}
}

func newChangeSet() *ChangeSet {
	return &ChangeSet{paths: make(map[string]struct{})}
}

func (cs *ChangeSet) add(path string) {
	cs.paths[path] = struct{}{}
}

// Paths returns the changed paths in sorted order.
func (cs *ChangeSet) Paths() []string {
	out := make([]string, 0, len(cs.paths))
	for p := range cs.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of distinct changed paths.
func (cs *ChangeSet) Len() int {
	return len(cs.paths)
}

// Has reports whether path is part of the change set.
func (cs *ChangeSet) Has(path string) bool {
	_, ok := cs.paths[path]
	return ok
}

// Options configures a Watcher.
type Options struct {
	// Paths are the roots to observe. Directories are watched recursively.
	Paths []string

	// Debounce is how long to wait after the last event before flushing a
	// change set. Defaults to 200ms.
	Debounce time.Duration

	// Ignore lists substrings; paths containing any of them are skipped.
	Ignore []string

	// Logger receives watcher logging.
	Logger zerolog.Logger
}

// Watcher observes filesystem roots and delivers debounced change sets.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	ignore   []string
	log      zerolog.Logger
}

// New creates a watcher over the configured roots.
func New(opts Options) (*Watcher, error) {
	if len(opts.Paths) == 0 {
		return nil, fmt.Errorf("no paths to watch")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 200 * time.Millisecond
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		fsw:      fsw,
		debounce: opts.Debounce,
		ignore:   opts.Ignore,
		log:      opts.Logger,
	}

	for _, root := range opts.Paths {
		if err := w.addRecursive(root); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}

	return w, nil
}

// addRecursive registers root and every directory below it.
func (w *Watcher) addRecursive(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("failed to stat watch root %s: %w", root, err)
	}
	if !info.IsDir() {
		return w.fsw.Add(root)
	}

	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) ignored(path string) bool {
	for _, frag := range w.ignore {
		if frag != "" && strings.Contains(path, frag) {
			return true
		}
	}
	return false
}

// Run delivers debounced change sets to onChange until ctx is cancelled.
// onChange runs on the watcher goroutine; slow handlers delay the next
// flush but never drop events.
func (w *Watcher) Run(ctx context.Context, onChange func(*ChangeSet)) error {
	defer func() { _ = w.fsw.Close() }()

	pending := newChangeSet()
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.ignored(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			// New directories join the watch so nested changes are seen.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						w.log.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
					}
				}
			}

			pending.add(event.Name)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			if pending.Len() > 0 {
				w.log.Debug().Int("paths", pending.Len()).Msg("flushing change set")
				onChange(pending)
				pending = newChangeSet()
			}
			timerC = nil

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}
