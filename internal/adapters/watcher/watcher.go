// Package watcher provides file system watching for hot-reload.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jobrunner/mapshell/internal/domain"
	"github.com/jobrunner/mapshell/internal/ports/output"
)

// DefaultDebounce is used when Config.Debounce is zero.
const DefaultDebounce = 500 * time.Millisecond

// Event represents a file system event.
type Event struct {
	Path      string
	Operation Operation
}

// Operation represents the type of file operation.
type Operation int

// File operation types.
const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

// String returns the string representation of the operation.
func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Handler is called when a relevant file event occurs.
type Handler func(ctx context.Context, event Event) error

// Config holds watcher configuration.
type Config struct {
	// Paths are watched together with every non-hidden directory below them.
	Paths    []string
	Debounce time.Duration
	// Filter selects the files whose events are handled. Nil accepts all.
	Filter output.FileFilter
}

type pendingEvent struct {
	op    Operation
	timer *time.Timer
}

// Watcher watches directory trees for map file changes. Events for one
// path are coalesced until the path has been quiet for the debounce delay.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	handler   Handler
	logger    *slog.Logger
	roots     []string
	filter    output.FileFilter
	debounce  time.Duration

	mu      sync.Mutex
	ctx     context.Context
	pending map[string]*pendingEvent
	closed  bool
	running sync.WaitGroup
}

// New creates a new file watcher.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		handler:   handler,
		logger:    logger,
		roots:     cfg.Paths,
		filter:    cfg.Filter,
		debounce:  cfg.Debounce,
		ctx:       context.Background(),
		pending:   make(map[string]*pendingEvent),
	}, nil
}

// Start watches the configured trees until ctx is done or Stop is called.
// Roots that cannot be watched are logged and skipped.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	w.ctx = ctx
	w.mu.Unlock()

	for _, root := range w.roots {
		if _, err := w.AddPath(root); err != nil {
			w.logger.Warn("failed to watch path", "path", root, "error", err)
		}
	}

	go w.eventLoop(ctx)
	return nil
}

// Stop stops the watcher. Pending events are dropped; handlers already
// running are waited for.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	w.closed = true
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	err := w.fsWatcher.Close()
	w.running.Wait()
	return err
}

// AddPath watches dir and every non-hidden directory below it. It returns
// the relevant files already present, which no event will announce.
func (w *Watcher) AddPath(dir string) ([]string, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			w.logger.Warn("skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if path != root && hidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			if w.relevant(path) {
				files = append(files, path)
			}
			return nil
		}
		if err := w.fsWatcher.Add(path); err != nil {
			return err
		}
		w.logger.Debug("watching directory", "path", path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.logger.Info("watching directory tree", "path", root)
	return files, nil
}

func (w *Watcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleFsEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Create) && !hidden(event.Name) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			// Files moved in together with the directory produce no events.
			files, err := w.AddPath(event.Name)
			if err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
			for _, f := range files {
				w.schedule(f, OpCreate)
			}
			return
		}
	}

	if !w.relevant(event.Name) {
		return
	}
	op, ok := operationFor(event.Op)
	if !ok {
		return
	}

	w.logger.Debug("file event", "path", event.Name, "op", event.Op.String())
	w.schedule(event.Name, op)
}

// schedule records op for path and restarts the path's quiet period.
func (w *Watcher) schedule(path string, op Operation) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	if p, ok := w.pending[path]; ok {
		p.op = mergeOperation(p.op, op)
		p.timer.Reset(w.debounce)
		return
	}
	w.pending[path] = &pendingEvent{
		op:    op,
		timer: time.AfterFunc(w.debounce, func() { w.fire(path) }),
	}
}

func (w *Watcher) fire(path string) {
	w.mu.Lock()
	p, ok := w.pending[path]
	if !ok || w.closed {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	ctx := w.ctx
	w.running.Add(1)
	w.mu.Unlock()
	defer w.running.Done()

	event := Event{Path: path, Operation: p.op}
	w.logger.Info("processing file event", "path", path, "operation", event.Operation.String())
	if err := w.handler(ctx, event); err != nil {
		w.logger.Error("handler error",
			"path", path,
			"operation", event.Operation.String(),
			"error", err,
		)
	}
}

// mergeOperation folds a new operation into a pending one. The result
// describes the file's state once the burst is over.
func mergeOperation(prev, next Operation) Operation {
	switch {
	case next == OpDelete:
		return OpDelete
	case prev == OpDelete || prev == OpCreate:
		// A file written after a delete exists again and must be parsed.
		return OpCreate
	default:
		return next
	}
}

// operationFor maps an fsnotify operation. Attribute-only changes are
// dropped.
func operationFor(op fsnotify.Op) (Operation, bool) {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		// A renamed file is gone from this path; its new name gets a create.
		return OpDelete, true
	case op.Has(fsnotify.Create):
		return OpCreate, true
	case op.Has(fsnotify.Write):
		return OpModify, true
	default:
		return 0, false
	}
}

// relevant reports whether events for path are handled. Hidden files,
// including in-flight downloads, are ignored.
func (w *Watcher) relevant(path string) bool {
	if path == "" || hidden(path) {
		return false
	}
	return w.filter == nil || w.filter(filepath.Base(path))
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

// FileLoader is the part of the source manager the reload handler drives.
type FileLoader interface {
	ReloadFile(ctx context.Context, path string) (domain.MapSource, error)
	UnloadFile(path string) error
}

// ReloadHandler returns a Handler that parses created or modified files
// again and unloads deleted ones.
func ReloadHandler(loader FileLoader, logger *slog.Logger) Handler {
	return func(ctx context.Context, e Event) error {
		switch e.Operation {
		case OpDelete:
			err := loader.UnloadFile(e.Path)
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return err
		default:
			src, err := loader.ReloadFile(ctx, e.Path)
			if err != nil {
				return err
			}
			logger.Info("map file reloaded", "path", e.Path, "source_id", src.ID())
			return nil
		}
	}
}
