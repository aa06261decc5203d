// Package watch triggers a refresh when the project environment file or the
// migrations directory changes on disk.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of events (editors write, rename and chmod).
const DefaultDebounce = 250 * time.Millisecond

// ErrNothingToWatch is returned by Start when none of the paths exist.
var ErrNothingToWatch = errors.New("nothing to watch")

type Options struct {
	// EnvFile is the environment file; its directory is watched.
	EnvFile string
	// MigrationsDir is watched with its application subdirectories.
	// Missing directories are picked up once created below the project root.
	MigrationsDir string
	Root          string
	Debounce      time.Duration
	OnChange      func()
}

// Watcher wraps an fsnotify watcher with path filtering and debouncing.
type Watcher struct {
	fsw      *fsnotify.Watcher
	envFile  string
	migDir   string
	root     string
	debounce time.Duration
	onChange func()

	mu      sync.Mutex
	watched map[string]bool
	timer   *time.Timer
	closed  bool
}

func New(opts Options) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:      fsw,
		envFile:  clean(opts.EnvFile),
		migDir:   clean(opts.MigrationsDir),
		root:     clean(opts.Root),
		debounce: opts.Debounce,
		onChange: opts.OnChange,
		watched:  make(map[string]bool),
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}
	if w.root == "" && w.envFile != "" {
		w.root = filepath.Dir(w.envFile)
	}
	return w, nil
}

func clean(p string) string {
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

// Start adds the initial watches and processes events until ctx is done.
// It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	if w.root != "" {
		w.add(w.root)
	}
	if w.envFile != "" {
		w.add(filepath.Dir(w.envFile))
	}
	w.addMigrationTree()
	if len(w.Watched()) == 0 {
		_ = w.Close()
		return ErrNothingToWatch
	}

	go w.loop(ctx)
	return nil
}

// Watched lists the watched directories.
func (w *Watcher) Watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.watched))
	for p := range w.watched {
		out = append(out, p)
	}
	return out
}

func (w *Watcher) add(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.watched[dir] {
		return
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return
	}
	if err := w.fsw.Add(dir); err != nil {
		slog.Warn("Failed to watch directory", "dir", dir, "error", err)
		return
	}
	w.watched[dir] = true
}

// addMigrationTree watches the existing ancestors of the migrations directory
// below the root, the directory itself and its application subdirectories.
func (w *Watcher) addMigrationTree() {
	if w.migDir == "" {
		return
	}
	if w.root != "" && within(w.migDir, w.root) {
		rel, _ := filepath.Rel(w.root, w.migDir)
		cur := w.root
		for _, part := range strings.Split(rel, string(filepath.Separator)) {
			cur = filepath.Join(cur, part)
			w.add(cur)
		}
	} else {
		w.add(w.migDir)
	}
	entries, err := os.ReadDir(w.migDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			w.add(filepath.Join(w.migDir, e.Name()))
		}
	}
}

// within reports whether p is dir or below it.
func within(p, dir string) bool {
	return p == dir || strings.HasPrefix(p, dir+string(filepath.Separator))
}

func (w *Watcher) relevant(name string) bool {
	if name == w.envFile {
		return true
	}
	if w.migDir == "" {
		return false
	}
	// ancestors matter only when they bring the migrations directory into existence
	return within(name, w.migDir) || within(w.migDir, name)
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("Watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	name := filepath.Clean(ev.Name)
	if !w.relevant(name) {
		return
	}
	if ev.Has(fsnotify.Create) {
		w.addMigrationTree()
	}
	slog.Debug("Project file changed", "path", name, "op", ev.Op.String())
	w.schedule()
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.onChange == nil {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.onChange)
}

// Close stops watching. Pending notifications are dropped; closing twice is a no-op.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.fsw.Close()
}
