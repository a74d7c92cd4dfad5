// Package hub implements the broadcast hub using the actor pattern.
//
// A single goroutine owns the subscriber map and the sequence counter; all
// mutation goes through a command channel (no mutexes on hub state). Each
// subscriber owns a bounded queue; when a queue overflows the oldest unread
// records are dropped and collapsed into a single gap marker, so publishing
// never blocks and memory stays bounded regardless of client speed.
package hub
