// Package watcher reports batches of file changes under a set of paths.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Op is the kind of change observed for a path.
type Op int

const (
	OpWrite Op = iota
	OpCreate
	OpRemove
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpRemove:
		return "remove"
	default:
		return "write"
	}
}

// Change is one changed path in a batch.
type Change struct {
	Path string
	Op   Op
}

// Config configures the watcher.
type Config struct {
	// Paths are files or directories to watch. Directories are watched
	// recursively.
	Paths []string

	// Ignore patterns to skip (globs or path segments).
	Ignore []string

	// Debounce is how long the watcher waits for more events before
	// reporting a batch.
	Debounce time.Duration
}

// DefaultIgnore contains default patterns to ignore.
var DefaultIgnore = []string{
	".git",
	"node_modules",
	"dist",
	".photon",
	".vite",
	"*.tmp",
	"*.swp",
	"*~",
	".DS_Store",
}

// Watcher monitors files for changes.
type Watcher struct {
	config  Config
	logger  *zap.Logger
	fsw     *fsnotify.Watcher
	files   map[string]bool
	ready   chan struct{}
	stopCh  chan struct{}
	stopped sync.Once

	mu       sync.Mutex
	onChange func([]Change)
	running  bool
	pending  map[string]Op
}

// New creates a watcher. Nothing is watched until Start.
func New(config Config, logger *zap.Logger) (*Watcher, error) {
	if config.Debounce == 0 {
		config.Debounce = 100 * time.Millisecond
	}
	if len(config.Ignore) == 0 {
		config.Ignore = DefaultIgnore
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		config:  config,
		logger:  logger.Named("watcher"),
		fsw:     fsw,
		files:   make(map[string]bool),
		ready:   make(chan struct{}),
		stopCh:  make(chan struct{}),
		pending: make(map[string]Op),
	}, nil
}

// OnChange sets the callback for change batches.
func (w *Watcher) OnChange(fn func([]Change)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = fn
}

// Ready is closed once every path is registered.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

// Start registers the paths and delivers batches until ctx is done or
// Stop is called. It blocks.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		w.fsw.Close()
	}()

	for _, p := range w.config.Paths {
		if err := w.add(p); err != nil {
			w.logger.Warn("cannot watch path", zap.String("path", p), zap.Error(err))
		}
	}
	close(w.ready)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.handle(event) {
				timer.Reset(w.config.Debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		case <-timer.C:
			w.flush()
		}
	}
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.stopped.Do(func() { close(w.stopCh) })
}

// IsRunning returns whether the watcher is running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// add registers p. Directories are walked; a file is watched through its
// parent directory and filtered by name.
func (w *Watcher) add(p string) error {
	info, err := os.Stat(p)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		w.files[filepath.Clean(p)] = true
		return w.fsw.Add(filepath.Dir(p))
	}
	return filepath.WalkDir(p, func(sub string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if sub != p && w.shouldIgnore(sub) {
			return filepath.SkipDir
		}
		return w.fsw.Add(sub)
	})
}

// handle records an event and reports whether it is part of a batch.
func (w *Watcher) handle(event fsnotify.Event) bool {
	name := filepath.Clean(event.Name)
	if w.shouldIgnore(name) {
		return false
	}

	var op Op
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
		if info, err := os.Stat(name); err == nil && info.IsDir() {
			if err := w.add(name); err != nil {
				w.logger.Debug("cannot watch new directory", zap.String("path", name), zap.Error(err))
			}
			return false
		}
	case event.Has(fsnotify.Write):
		op = OpWrite
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpRemove
	default:
		return false
	}

	if len(w.files) > 0 && !w.files[name] && !w.underDir(name) {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if prev, ok := w.pending[name]; ok && prev == OpCreate && op == OpWrite {
		return true
	}
	w.pending[name] = op
	return true
}

// underDir reports whether name sits inside one of the watched directories.
func (w *Watcher) underDir(name string) bool {
	for _, p := range w.config.Paths {
		if w.files[filepath.Clean(p)] {
			continue
		}
		rel, err := filepath.Rel(p, name)
		if err == nil && !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}

func (w *Watcher) flush() {
	w.mu.Lock()
	callback := w.onChange
	batch := make([]Change, 0, len(w.pending))
	for p, op := range w.pending {
		batch = append(batch, Change{Path: p, Op: op})
	}
	w.pending = make(map[string]Op)
	w.mu.Unlock()

	if callback == nil || len(batch) == 0 {
		return
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	w.logger.Debug("changes", zap.Int("count", len(batch)))
	callback(batch)
}

// shouldIgnore checks if a path should be ignored.
func (w *Watcher) shouldIgnore(fullPath string) bool {
	name := filepath.Base(fullPath)
	normalized := filepath.ToSlash(fullPath)

	for _, pattern := range w.config.Ignore {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if name == pattern {
			return true
		}

		hasPathSep := strings.ContainsAny(pattern, `/\`)
		if strings.ContainsAny(pattern, "*?[") {
			var matched bool
			if hasPathSep {
				matched, _ = path.Match(filepath.ToSlash(pattern), normalized)
			} else {
				matched, _ = filepath.Match(pattern, name)
			}
			if matched {
				return true
			}
			continue
		}

		if hasPathSep {
			if containsSegments(normalized, filepath.ToSlash(pattern)) {
				return true
			}
		} else if containsSegments(normalized, pattern) {
			return true
		}
	}
	return false
}

// containsSegments reports whether the segments of pattern appear
// consecutively in p.
func containsSegments(p, pattern string) bool {
	pathParts := segments(p)
	patternParts := segments(pattern)
	if len(patternParts) == 0 || len(patternParts) > len(pathParts) {
		return false
	}
	for i := 0; i <= len(pathParts)-len(patternParts); i++ {
		match := true
		for j := range patternParts {
			if pathParts[i+j] != patternParts[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func segments(p string) []string {
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, part := range parts {
		if part != "" && part != "." {
			out = append(out, part)
		}
	}
	return out
}
