package domain

import "fmt"

// WatchInitError means the watch directory could not be monitored at
// startup: missing, not a directory, or permissions deny monitoring.
// It is fatal and prevents the process from starting.
type WatchInitError struct {
	Path string
	Err  error
}

func (e *WatchInitError) Error() string {
	return fmt.Sprintf("cannot watch %s: %v", e.Path, e.Err)
}

func (e *WatchInitError) Unwrap() error { return e.Err }

// WatchLostError means the watcher could not re-establish monitoring after
// exhausting its retry budget. Fatal to the watcher; the process broadcasts
// a closing record and exits non-zero.
type WatchLostError struct {
	Err error
}

func (e *WatchLostError) Error() string {
	return fmt.Sprintf("watch lost: %v", e.Err)
}

func (e *WatchLostError) Unwrap() error { return e.Err }
