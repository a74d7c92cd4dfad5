// Package watch turns raw fsnotify events into normalized change records.
//
// It watches the configured root recursively, coalesces rapid repeated
// events per path within a debounce window, pairs fsnotify rename/create
// sequences into single rename records, and re-establishes lost watches
// with bounded exponential backoff before giving up.
package watch
