// Package catalog maintains an in-memory snapshot of the files under the
// watch root: the set a client would enumerate before subscribing to the
// change stream. It tracks metadata only and never reads file contents.
package catalog

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/noctonic/dirstream/internal/domain"
	"github.com/noctonic/dirstream/internal/metrics"
)

// Entry describes one tracked file.
type Entry struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Catalog is safe for concurrent use: the watcher applies changes while
// HTTP handlers list the snapshot.
type Catalog struct {
	mu      sync.RWMutex
	root    string
	entries map[string]Entry
}

// New scans root and returns a catalog seeded with the files found.
func New(root string) (*Catalog, error) {
	c := &Catalog{
		root:    root,
		entries: make(map[string]Entry),
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			// Raced with a concurrent delete; skip.
			return nil
		}
		c.entries[path] = Entry{Path: path, Size: info.Size(), ModTime: info.ModTime()}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.CatalogFiles.Set(float64(len(c.entries)))
	return c, nil
}

// Apply updates the snapshot from one normalized change.
func (c *Catalog) Apply(change domain.Change) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch change.Kind {
	case domain.KindCreated, domain.KindModified:
		c.refresh(change.Path)
	case domain.KindDeleted:
		delete(c.entries, change.Path)
	case domain.KindRenamed:
		delete(c.entries, change.OldPath)
		c.refresh(change.Path)
	}

	metrics.CatalogFiles.Set(float64(len(c.entries)))
}

// refresh stats the path and records it if it is a regular file. Directories
// never enter the catalog; a stat failure means the path is already gone.
func (c *Catalog) refresh(path string) {
	info, err := os.Stat(path)
	if err != nil {
		delete(c.entries, path)
		return
	}
	if info.IsDir() {
		return
	}
	c.entries[path] = Entry{Path: path, Size: info.Size(), ModTime: info.ModTime()}
}

// List returns the tracked files sorted by path.
func (c *Catalog) List() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Len returns the number of tracked files.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Root returns the watch root this catalog covers.
func (c *Catalog) Root() string {
	return c.root
}
