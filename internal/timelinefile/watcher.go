package timelinefile

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nerrad567/conductor/internal/clock"
	"github.com/nerrad567/conductor/internal/timeline"
)

// DefaultDebounce is used when no debounce delay is configured.
const DefaultDebounce = 250 * time.Millisecond

// Logger defines the logging interface used by the Watcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Importer persists an imported document. *store.Store satisfies it.
type Importer interface {
	Replace(ctx context.Context, objects []timeline.Object, mappings timeline.Mappings) error
}

// Target receives the imported timeline. *conductor.Conductor satisfies it.
type Target interface {
	SetTimelineAndMappings(objects []timeline.Object, mappings timeline.Mappings)
}

// Watcher imports a timeline file and re-imports it on change.
type Watcher struct {
	path     string
	debounce time.Duration
	importer Importer
	target   Target
	clock    clock.Clock
	logger   Logger

	mu      sync.Mutex
	pending *clock.Timer
	fire    chan struct{}
	imports int
}

// NewWatcher creates a watcher for path. Either importer or target may be
// nil.
func NewWatcher(path string, debounce time.Duration, importer Importer, target Target) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		path:     path,
		debounce: debounce,
		importer: importer,
		target:   target,
		clock:    clock.Real(),
		logger:   noopLogger{},
		fire:     make(chan struct{}, 1),
	}
}

// SetLogger sets the logger for the watcher.
func (w *Watcher) SetLogger(logger Logger) {
	w.logger = logger
}

// SetClock overrides the clock used for debouncing.
func (w *Watcher) SetClock(c clock.Clock) {
	w.clock = c
}

// Imports returns how many imports have succeeded.
func (w *Watcher) Imports() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.imports
}

// Import loads the file, stores it and pushes it to the target. A
// document that fails to load leaves the store and target untouched.
func (w *Watcher) Import(ctx context.Context) error {
	doc, err := Load(w.path)
	if err != nil {
		return err
	}
	if w.importer != nil {
		if err := w.importer.Replace(ctx, doc.Timeline, doc.Mappings); err != nil {
			return fmt.Errorf("storing timeline file: %w", err)
		}
	}
	if w.target != nil {
		w.target.SetTimelineAndMappings(doc.Timeline, doc.Mappings)
	}

	w.mu.Lock()
	w.imports++
	w.mu.Unlock()

	w.logger.Info("timeline file imported",
		"path", w.path,
		"objects", len(doc.Timeline),
		"mappings", len(doc.Mappings),
	)
	return nil
}

// Run watches the file until ctx is cancelled. It does not perform an
// initial import; call Import first.
func (w *Watcher) Run(ctx context.Context) error {
	if w.path == "" {
		return ErrEmptyPath
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fw.Close() //nolint:errcheck // shutdown

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("watching timeline file", "path", w.path, "debounce", w.debounce)

	defer w.stopPending()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("fsnotify error", "error", err)
		case <-w.fire:
			if err := w.Import(ctx); err != nil {
				w.logger.Warn("timeline file rejected", "path", w.path, "error", err)
			}
		}
	}
}

// handleEvent arms the debounce timer for writes that touch the file.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	w.logger.Debug("fsnotify event", "op", event.Op.String(), "file", event.Name)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = w.clock.AfterFunc(w.debounce, func() {
		select {
		case w.fire <- struct{}{}:
		default:
		}
	})
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
}
