// Package domain holds the core types shared across the watcher, hub, and
// stream layers: change records, gap markers, and the error taxonomy.
package domain
