package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/noctonic/dirstream/internal/domain"
	"github.com/noctonic/dirstream/internal/metrics"
	"github.com/noctonic/dirstream/internal/platform/retry"
)

// Config carries watcher policy. Zero values get defaults from the caller's
// configuration layer; the watcher itself does not read the environment.
type Config struct {
	Root               string
	DebounceWindow     time.Duration
	RewatchMaxAttempts int
	RewatchBackoff     time.Duration
	Clock              clockwork.Clock
}

// Watcher monitors a directory tree and emits normalized changes through
// the emit callback. It never touches file contents.
type Watcher struct {
	root    string
	clock   clockwork.Clock
	emit    func(domain.Change)
	onFatal func(error)

	rewatchMaxAttempts int
	rewatchBackoff     time.Duration

	mu            sync.Mutex
	fsw           *fsnotify.Watcher
	debouncer     *debouncer
	renamePending []renameEntry
	activeWatches int
	closed        bool

	done chan struct{}
	wg   sync.WaitGroup
}

type renameEntry struct {
	oldPath string
	timer   clockwork.Timer
}

// New validates the root, establishes recursive watches, and starts the
// event loop. Initialization failures are wrapped in WatchInitError.
func New(cfg Config, emit func(domain.Change), onFatal func(error)) (*Watcher, error) {
	info, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, &domain.WatchInitError{Path: cfg.Root, Err: err}
	}
	if !info.IsDir() {
		return nil, &domain.WatchInitError{Path: cfg.Root, Err: fmt.Errorf("not a directory")}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.RewatchMaxAttempts < 1 {
		cfg.RewatchMaxAttempts = 1
	}

	w := &Watcher{
		root:               cfg.Root,
		clock:              clock,
		emit:               emit,
		onFatal:            onFatal,
		rewatchMaxAttempts: cfg.RewatchMaxAttempts,
		rewatchBackoff:     cfg.RewatchBackoff,
		debouncer:          newDebouncer(cfg.DebounceWindow, clock),
		done:               make(chan struct{}),
	}

	fsw, err := w.establish()
	if err != nil {
		return nil, &domain.WatchInitError{Path: cfg.Root, Err: err}
	}
	w.fsw = fsw

	w.wg.Add(1)
	go w.run()
	return w, nil
}

// establish creates a fresh fsnotify watcher covering the whole tree.
func (w *Watcher) establish() (*fsnotify.Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	count := 0
	err = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("add watch for %s: %w", path, err)
		}
		count++
		return nil
	})
	if err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w.mu.Lock()
	w.activeWatches = count
	w.mu.Unlock()
	metrics.WatcherActiveWatches.Set(float64(count))
	return fsw, nil
}

// Close stops the watcher and cancels all pending debounce timers.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.debouncer.stop()
	for _, entry := range w.renamePending {
		entry.timer.Stop()
	}
	w.renamePending = nil
	fsw := w.fsw
	w.mu.Unlock()

	close(w.done)
	var err error
	if fsw != nil {
		err = fsw.Close()
	}
	w.wg.Wait()
	return err
}

func (w *Watcher) run() {
	defer w.wg.Done()

	for {
		w.mu.Lock()
		fsw := w.fsw
		w.mu.Unlock()

		select {
		case event, ok := <-fsw.Events:
			if !ok {
				if !w.recover(fmt.Errorf("event channel closed")) {
					return
				}
				continue
			}
			w.handleRaw(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				if !w.recover(fmt.Errorf("error channel closed")) {
					return
				}
				continue
			}
			slog.Warn("Watcher error", "error", err)
			if !w.recover(err) {
				return
			}
		case <-w.done:
			return
		}
	}
}

// recover tears down the broken watcher and re-establishes the tree watch
// with exponential backoff. Returns false when the watch is lost for good,
// after surfacing a fatal WatchLostError.
func (w *Watcher) recover(cause error) bool {
	select {
	case <-w.done:
		return false
	default:
	}

	w.mu.Lock()
	old := w.fsw
	w.mu.Unlock()
	_ = old.Close()

	// Close must not wait out the remaining backoff schedule.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	policy := retry.Policy{
		MaxAttempts:    w.rewatchMaxAttempts,
		InitialBackoff: w.rewatchBackoff,
		Clock:          w.clock,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			metrics.WatcherRewatchAttemptsTotal.Inc()
			slog.Warn("Re-establishing watch",
				"attempt", attempt,
				"backoff", backoff,
				"error", err,
			)
		},
	}

	fsw, err := retry.Do(ctx, policy,
		func(error) retry.Action { return retry.Retry },
		w.establish,
	)
	if err != nil {
		select {
		case <-w.done:
			return false
		default:
		}
		slog.Error("Watch lost", "root", w.root, "cause", cause, "error", err)
		if w.onFatal != nil {
			w.onFatal(&domain.WatchLostError{Err: err})
		}
		return false
	}

	w.mu.Lock()
	w.fsw = fsw
	w.mu.Unlock()
	slog.Info("Watch re-established", "root", w.root)
	return true
}

func (w *Watcher) handleRaw(event fsnotify.Event) {
	switch {
	case event.Op.Has(fsnotify.Create):
		w.handleCreate(event.Name)
	case event.Op.Has(fsnotify.Write):
		w.schedule(domain.Change{Kind: domain.KindModified, Path: event.Name, Time: w.clock.Now()})
	case event.Op.Has(fsnotify.Remove):
		w.schedule(domain.Change{Kind: domain.KindDeleted, Path: event.Name, Time: w.clock.Now()})
	case event.Op.Has(fsnotify.Rename):
		// fsnotify reports a rename as Rename on the old path followed by
		// Create on the new path. Hold the old path until its partner
		// arrives; if none does within the window, it left the tree.
		w.holdRename(event.Name)
	}
	// Chmod is deliberately ignored: no content or structure change.
}

func (w *Watcher) handleCreate(path string) {
	now := w.clock.Now()

	if old, ok := w.takePendingRename(); ok {
		w.schedule(domain.Change{Kind: domain.KindRenamed, Path: path, OldPath: old, Time: now})
	} else {
		w.schedule(domain.Change{Kind: domain.KindCreated, Path: path, Time: now})
	}

	// A new directory needs its own watch, and files that appeared inside
	// it before the watch was in place must still be reported.
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	_ = filepath.WalkDir(path, func(sub string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			w.mu.Lock()
			fsw := w.fsw
			closed := w.closed
			w.mu.Unlock()
			if closed {
				return filepath.SkipAll
			}
			if err := fsw.Add(sub); err == nil {
				w.mu.Lock()
				w.activeWatches++
				metrics.WatcherActiveWatches.Set(float64(w.activeWatches))
				w.mu.Unlock()
			}
			return nil
		}
		if sub != path {
			w.schedule(domain.Change{Kind: domain.KindCreated, Path: sub, Time: now})
		}
		return nil
	})
}

func (w *Watcher) holdRename(oldPath string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	entry := renameEntry{oldPath: oldPath}
	entry.timer = w.clock.AfterFunc(w.debouncer.window, func() {
		w.expireRename(oldPath)
	})
	w.renamePending = append(w.renamePending, entry)
}

// takePendingRename pops the oldest unpaired rename, if any.
func (w *Watcher) takePendingRename() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.renamePending) == 0 {
		return "", false
	}
	entry := w.renamePending[0]
	w.renamePending = w.renamePending[1:]
	entry.timer.Stop()
	return entry.oldPath, true
}

// expireRename fires when a rename never found its create partner: the path
// was moved out of the watched tree, which to subscribers is a deletion.
func (w *Watcher) expireRename(oldPath string) {
	w.mu.Lock()
	found := false
	for i, entry := range w.renamePending {
		if entry.oldPath == oldPath {
			w.renamePending = append(w.renamePending[:i], w.renamePending[i+1:]...)
			found = true
			break
		}
	}
	w.mu.Unlock()

	if found {
		w.schedule(domain.Change{Kind: domain.KindDeleted, Path: oldPath, Time: w.clock.Now()})
	}
}

func (w *Watcher) schedule(change domain.Change) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.debouncer.schedule(change, w.flush)
	w.mu.Unlock()
}

func (w *Watcher) flush(path string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	change, ok := w.debouncer.pop(path)
	w.mu.Unlock()

	if !ok {
		return
	}
	metrics.WatcherEventsTotal.WithLabelValues(string(change.Kind)).Inc()
	slog.Debug("Change detected", "kind", change.Kind, "path", change.Path)
	w.emit(change)
}
