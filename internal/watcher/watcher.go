// Package watcher keeps the catalog in sync with index config files on disk.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hyperjump/indexdef/internal/indexconfig"
	"github.com/hyperjump/indexdef/internal/metrics"
	"github.com/hyperjump/indexdef/internal/models"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Handler applies config file changes. catalog.Catalog implements it.
type Handler interface {
	ApplyFile(ctx context.Context, path string) (*models.IndexMetadata, error)
	RemoveFile(ctx context.Context, path string) (int, error)
}

// Watcher watches config directories and forwards debounced file events to a Handler.
type Watcher struct {
	roots      []string
	extensions []string
	recursive  bool
	handler    Handler
	debounce   time.Duration
	logger     *zap.Logger // optional; when set, logs debug events

	mu        sync.Mutex
	fsw       *fsnotify.Watcher
	ctx       context.Context
	pending   map[string]*time.Timer
	rootPaths map[string][]string // root -> directories added for it
	done      chan struct{}
	started   bool
	stopOnce  sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output and handler failures.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce overrides the delay between the last write to a file and its apply.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New creates a watcher over roots. extensions filters config files; empty
// means indexconfig.ConfigExtensions.
func New(roots []string, extensions []string, recursive bool, handler Handler, opts ...Option) *Watcher {
	if len(extensions) == 0 {
		extensions = indexconfig.ConfigExtensions
	}
	w := &Watcher{
		roots:      append([]string(nil), roots...),
		extensions: extensions,
		recursive:  recursive,
		handler:    handler,
		debounce:   defaultDebounce,
		pending:    make(map[string]*time.Timer),
		rootPaths:  make(map[string][]string),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. Handler calls use ctx; the watcher stops when ctx is
// cancelled or Stop is called. Missing roots are created.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.fsw = fsw
	w.ctx = ctx
	w.started = true
	if w.logger != nil {
		w.logger.Debug("watcher starting", zap.Strings("roots", w.roots), zap.Strings("extensions", w.extensions), zap.Bool("recursive", w.recursive))
	}
	for i, root := range w.roots {
		abs, err := w.addRootLocked(root)
		if err != nil {
			_ = w.fsw.Close()
			w.fsw = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
		w.roots[i] = abs
	}
	events, errs := fsw.Events, fsw.Errors
	w.mu.Unlock()
	go w.run(ctx, events, errs)
	return nil
}

func (w *Watcher) run(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-errs:
			if !ok {
				return
			}
			if err != nil && w.logger != nil {
				w.logger.Warn("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if !w.underRoot(path) || ignoredName(filepath.Base(path)) {
		return
	}
	if w.logger != nil {
		w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	}
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		if w.matchExtension(path) {
			w.debounceApply(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		// editors that save by rename produce a Create for the new file afterwards
		w.cancelPending(path)
		if w.matchExtension(path) {
			w.remove(path)
		}
	}
}

// ignoredName reports editor swap and backup files.
func ignoredName(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") || strings.HasSuffix(name, ".swp")
}

// handleNewDirectory watches a directory created (or moved) under a root and
// applies the config files already inside it.
func (w *Watcher) handleNewDirectory(dirPath string) {
	w.mu.Lock()
	fsw := w.fsw
	recursive := w.recursive
	w.mu.Unlock()
	if fsw == nil || !recursive {
		return
	}
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dirPath && ignoredName(d.Name()) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil && w.logger != nil {
			w.logger.Debug("watcher failed to add directory", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
	w.syncDirectory(dirPath)
}

func (w *Watcher) underRoot(path string) bool {
	w.mu.Lock()
	roots := append([]string(nil), w.roots...)
	w.mu.Unlock()
	clean := filepath.Clean(path)
	for _, root := range roots {
		if inDir(filepath.Clean(root), clean) {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Watcher) matchExtension(path string) bool {
	return matchExtension(path, w.extensions)
}

func matchExtension(path string, extensions []string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return false
	}
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func (w *Watcher) debounceApply(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.apply(path)
	})
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) handlerContext() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx == nil {
		return context.Background()
	}
	return w.ctx
}

func (w *Watcher) apply(path string) {
	if w.handler == nil {
		return
	}
	meta, err := w.handler.ApplyFile(w.handlerContext(), path)
	if err != nil {
		metrics.RecordWatcherEvent("apply", metrics.OutcomeError)
		if w.logger != nil {
			w.logger.Warn("index config rejected", zap.String("path", path), zap.Error(err))
		}
		return
	}
	metrics.RecordWatcherEvent("apply", metrics.OutcomeOK)
	if w.logger != nil {
		w.logger.Info("index config applied", zap.String("path", path), zap.String("index_uid", meta.IndexUID))
	}
}

func (w *Watcher) remove(path string) {
	if w.handler == nil {
		return
	}
	n, err := w.handler.RemoveFile(w.handlerContext(), path)
	if err != nil {
		metrics.RecordWatcherEvent("remove", metrics.OutcomeError)
		if w.logger != nil {
			w.logger.Warn("failed to remove indexes of deleted config", zap.String("path", path), zap.Error(err))
		}
		return
	}
	metrics.RecordWatcherEvent("remove", metrics.OutcomeOK)
	if n > 0 && w.logger != nil {
		w.logger.Info("index config removed", zap.String("path", path), zap.Int("indexes", n))
	}
}

// AddDirectory adds a root directory to watch and optionally applies the
// config files already in it.
func (w *Watcher) AddDirectory(root string, syncExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return nil
	}
	for _, r := range w.roots {
		if filepath.Clean(r) == abs {
			return nil
		}
	}
	if _, err := w.addRootLocked(abs); err != nil {
		return err
	}
	w.roots = append(w.roots, abs)
	if w.logger != nil {
		w.logger.Debug("watcher directory added", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	}
	if syncExisting {
		go w.syncDirectory(abs)
	}
	return nil
}

func (w *Watcher) addRootLocked(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)
	if err := os.MkdirAll(abs, 0755); err != nil {
		return "", err
	}
	var paths []string
	if w.recursive {
		err := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			if path != abs && ignoredName(d.Name()) {
				return filepath.SkipDir
			}
			if err := w.fsw.Add(path); err != nil {
				return err
			}
			paths = append(paths, path)
			return nil
		})
		if err != nil {
			return "", err
		}
	} else {
		if err := w.fsw.Add(abs); err != nil {
			return "", err
		}
		paths = append(paths, abs)
	}
	w.rootPaths[abs] = paths
	return abs, nil
}

func (w *Watcher) syncDirectory(root string) {
	w.mu.Lock()
	exts := append([]string(nil), w.extensions...)
	recursive := w.recursive
	w.mu.Unlock()
	if w.logger != nil {
		w.logger.Debug("watcher syncing directory", zap.String("root", root))
	}
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (!recursive || ignoredName(d.Name())) {
				return filepath.SkipDir
			}
			return nil
		}
		if !ignoredName(d.Name()) && matchExtension(path, exts) {
			w.apply(path)
		}
		return nil
	})
}

// RemoveDirectory stops watching the given root. Registered indexes are kept.
func (w *Watcher) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return nil
	}
	idx := -1
	for i, r := range w.roots {
		if filepath.Clean(r) == abs {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	for _, p := range w.rootPaths[abs] {
		_ = w.fsw.Remove(p)
	}
	delete(w.rootPaths, abs)
	w.roots = append(w.roots[:idx], w.roots[idx+1:]...)
	if w.logger != nil {
		w.logger.Debug("watcher directory removed", zap.String("path", abs))
	}
	return nil
}

// Directories returns a copy of the current watched root directories.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// SyncExistingFiles applies every config file already present in the roots.
// Call it after Start.
func (w *Watcher) SyncExistingFiles() {
	for _, root := range w.Directories() {
		w.syncDirectory(root)
	}
}

// Stop stops the watcher and releases resources. Pending applies are dropped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.fsw == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.fsw.Close()
	w.fsw = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
