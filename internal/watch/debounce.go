package watch

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/noctonic/dirstream/internal/domain"
	"github.com/noctonic/dirstream/internal/metrics"
)

type debounceEntry struct {
	timer  clockwork.Timer
	change domain.Change
}

// debouncer coalesces repeated events on the same path. Each new event for
// a path resets that path's timer and overwrites the stored change, so when
// the window finally elapses a single record carrying the latest observed
// kind is flushed. Callers must hold the owning watcher's mutex.
type debouncer struct {
	window  time.Duration
	clock   clockwork.Clock
	entries map[string]*debounceEntry
}

func newDebouncer(window time.Duration, clock clockwork.Clock) *debouncer {
	return &debouncer{
		window:  window,
		clock:   clock,
		entries: make(map[string]*debounceEntry),
	}
}

// schedule registers a change for delayed flushing. Returns true if an
// earlier change for the same path was coalesced away.
func (d *debouncer) schedule(change domain.Change, flush func(path string)) bool {
	entry, exists := d.entries[change.Path]
	if exists {
		change.Kind = mergeKinds(entry.change.Kind, change.Kind)
		if change.OldPath == "" {
			change.OldPath = entry.change.OldPath
		}
		entry.change = change
		entry.timer.Reset(d.window)
		metrics.WatcherCoalescedTotal.Inc()
		return true
	}

	path := change.Path
	d.entries[path] = &debounceEntry{
		change: change,
		timer:  d.clock.AfterFunc(d.window, func() { flush(path) }),
	}
	return false
}

// mergeKinds resolves the kind when a new event lands on a path with a
// pending entry. The latest kind wins, except that a write immediately
// after a create (or a rename) is still, to subscribers, the original
// event: the file is new either way.
func mergeKinds(pending, next domain.Kind) domain.Kind {
	if next == domain.KindModified &&
		(pending == domain.KindCreated || pending == domain.KindRenamed) {
		return pending
	}
	return next
}

// pop removes and returns the pending change for path.
func (d *debouncer) pop(path string) (domain.Change, bool) {
	entry, ok := d.entries[path]
	if !ok {
		return domain.Change{}, false
	}
	delete(d.entries, path)
	return entry.change, true
}

// stop cancels all pending timers.
func (d *debouncer) stop() {
	for path, entry := range d.entries {
		entry.timer.Stop()
		delete(d.entries, path)
	}
}
